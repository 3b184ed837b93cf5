package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/fatih/color"

	"github.com/gateway-fm/testnetbot/internal/apperr"
	"github.com/gateway-fm/testnetbot/pkg/types"
)

// Runner executes one command to completion.
type Runner interface {
	Execute(ctx context.Context, req types.RunRequest) (types.RunSummary, error)
}

// Menu is the interactive command loop.
type Menu struct {
	runner Runner
	in     *bufio.Reader
	out    io.Writer
	logger *slog.Logger
}

// NewMenu creates a menu reading choices from in.
func NewMenu(runner Runner, in io.Reader, out io.Writer, logger *slog.Logger) *Menu {
	return &Menu{runner: runner, in: bufio.NewReader(in), out: out, logger: logger}
}

// Run shows the menu until exit is chosen, input ends or ctx is done.
func (m *Menu) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		m.show()

		choice, ok := m.prompt("Select an option (1-7): ")
		if !ok {
			return nil
		}
		cmd, valid := types.CommandForMenuKey(choice)
		if !valid {
			m.logger.Warn("Invalid choice, please select 1-7", slog.String("choice", choice))
			continue
		}

		req, ok := m.request(cmd)
		if !ok {
			continue
		}

		summary, err := m.runner.Execute(ctx, req)
		if cmd == types.CommandExit {
			return nil
		}
		m.report(summary, err)

		if _, ok := m.prompt("\nPress Enter to return to the menu..."); !ok {
			return nil
		}
	}
}

func (m *Menu) show() {
	title := color.New(color.FgCyan, color.Bold)
	fmt.Fprintln(m.out)
	title.Fprintln(m.out, "==========================")
	title.Fprintln(m.out, "        HAUST BOT")
	title.Fprintln(m.out, "==========================")
	for i, c := range types.Commands {
		fmt.Fprintf(m.out, "%d. %s\n", i+1, c.Title())
	}
	fmt.Fprintln(m.out)
}

// request collects the extra input a command needs.
func (m *Menu) request(cmd types.Command) (types.RunRequest, bool) {
	req := types.RunRequest{Command: cmd}
	switch cmd {
	case types.CommandCreateWallets:
		answer, ok := m.prompt("How many wallets to create? ")
		if !ok {
			return req, false
		}
		n, err := strconv.Atoi(answer)
		if err != nil || n < 1 {
			m.logger.Warn("Not a positive number, creating 1 wallet", slog.String("input", answer))
			n = 1
		}
		req.Count = n
	case types.CommandDistribute:
		answer, ok := m.prompt("Sepolia ETH to send from wallet 1 to each other wallet (empty to only bridge): ")
		if !ok {
			return req, false
		}
		req.Amount = answer
	}
	return req, true
}

func (m *Menu) report(summary types.RunSummary, err error) {
	if err != nil {
		if apperr.IsKind(err, apperr.KindFatalStartup) {
			m.logger.Error("Cannot run command", slog.String("error", err.Error()))
			return
		}
		m.logger.Error("Command failed", slog.String("error", err.Error()))
		return
	}
	line := fmt.Sprintf("%s finished: %d succeeded, %d failed", summary.Command.Title(), summary.Succeeded, summary.Failed)
	if summary.Failed > 0 {
		color.New(color.FgYellow).Fprintln(m.out, line)
	} else {
		color.New(color.FgGreen).Fprintln(m.out, line)
	}
}

// prompt prints label and reads one trimmed line. ok is false at end of input.
func (m *Menu) prompt(label string) (string, bool) {
	fmt.Fprint(m.out, label)
	line, err := m.in.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", false
	}
	return strings.TrimSpace(line), true
}
