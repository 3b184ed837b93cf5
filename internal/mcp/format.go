package mcp

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gateway-fm/testnetbot/pkg/types"
)

// kv formats a key-value pair with aligned values (20 char key width).
func kv(key string, value any) string {
	return fmt.Sprintf("%-20s %v", key+":", value)
}

// section returns a markdown section header.
func section(title string) string {
	return "## " + title
}

// joinLines joins non-empty lines with newlines.
func joinLines(lines ...string) string {
	var result []string
	for _, l := range lines {
		if l != "" {
			result = append(result, l)
		}
	}
	return strings.Join(result, "\n")
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func formatStatus(raw json.RawMessage) string {
	var st types.Status
	if err := json.Unmarshal(raw, &st); err != nil {
		return fmt.Sprintf("Error parsing status: %v", err)
	}

	state := "idle"
	if st.Busy {
		state = fmt.Sprintf("running %s (%s)", st.ActiveCommand, st.ActiveRun)
	}
	return joinLines(
		section("Testnet Bot Status"),
		kv("State", state),
		kv("Wallets", st.Wallets),
		kv("Proxies", st.Proxies),
		kv("Next Deploy", formatTime(st.NextDeploy)),
		kv("Uptime", (time.Duration(st.UptimeSec)*time.Second).String()),
	)
}

func formatHealth(raw json.RawMessage) string {
	var ready struct {
		Ready  bool `json:"ready"`
		Checks []struct {
			Name      string `json:"name"`
			Status    string `json:"status"`
			LatencyMs int64  `json:"latency_ms"`
			Error     string `json:"error"`
		} `json:"checks"`
	}
	if err := json.Unmarshal(raw, &ready); err != nil {
		return fmt.Sprintf("Error parsing readiness: %v", err)
	}

	lines := []string{section("Readiness"), kv("Ready", ready.Ready)}
	for _, c := range ready.Checks {
		v := fmt.Sprintf("%s (%dms)", c.Status, c.LatencyMs)
		if c.Error != "" {
			v += " " + c.Error
		}
		lines = append(lines, kv(c.Name, v))
	}
	return joinLines(lines...)
}

func formatWallets(raw json.RawMessage) string {
	var body struct {
		Wallets []types.Wallet `json:"wallets"`
		Total   int            `json:"total"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return fmt.Sprintf("Error parsing wallets: %v", err)
	}
	if body.Total == 0 {
		return joinLines(section("Wallets"), "No wallets. Run create-wallets first.")
	}

	lines := []string{section(fmt.Sprintf("Wallets (%d)", body.Total))}
	for _, w := range body.Wallets {
		lines = append(lines, fmt.Sprintf("%4d. %s", w.Index, w.Address))
	}
	return joinLines(lines...)
}

func formatRuns(raw json.RawMessage) string {
	var page types.PaginatedRuns
	if err := json.Unmarshal(raw, &page); err != nil {
		return fmt.Sprintf("Error parsing runs: %v", err)
	}
	if len(page.Runs) == 0 {
		return joinLines(section("Run History"), "No runs recorded.")
	}

	lines := []string{
		section(fmt.Sprintf("Run History (%d-%d of %d)", page.Offset+1, page.Offset+len(page.Runs), page.Total)),
		fmt.Sprintf("%-36s  %-14s  %-9s  %5s  %5s  %s", "ID", "Command", "Status", "OK", "Fail", "Started"),
	}
	for _, r := range page.Runs {
		started := r.StartedAt
		lines = append(lines, fmt.Sprintf("%-36s  %-14s  %-9s  %5d  %5d  %s",
			r.ID, r.Command, r.Status, r.Succeeded, r.Failed, formatTime(&started)))
	}
	return joinLines(lines...)
}

func formatRun(raw json.RawMessage) string {
	var d types.RunDetail
	if err := json.Unmarshal(raw, &d); err != nil {
		return fmt.Sprintf("Error parsing run: %v", err)
	}

	started := d.StartedAt
	out := joinLines(
		section("Run "+d.ID),
		kv("Command", d.Command),
		kv("Status", d.Status),
		kv("Started", formatTime(&started)),
		kv("Completed", formatTime(d.CompletedAt)),
		kv("Succeeded", d.Succeeded),
		kv("Failed", d.Failed),
	)
	if d.Error != "" {
		out += "\n" + kv("Error", d.Error)
	}
	if len(d.Events) == 0 {
		return out
	}

	lines := []string{section(fmt.Sprintf("Events (%d)", len(d.Events)))}
	for _, e := range d.Events {
		line := fmt.Sprintf("- %s %s %s", e.Step, e.Status, shortAddress(e.Account))
		if e.TxHash != "" {
			line += " tx " + e.TxHash
		}
		if e.Attempts > 1 {
			line += fmt.Sprintf(" after %d attempts", e.Attempts)
		}
		if e.Error != "" {
			line += ": " + e.Error
		}
		if e.Detail != "" {
			line += " (" + e.Detail + ")"
		}
		lines = append(lines, strings.TrimRight(line, " "))
	}
	return out + "\n\n" + joinLines(lines...)
}

func shortAddress(a string) string {
	if len(a) <= 12 {
		return a
	}
	return a[:6] + "..." + a[len(a)-4:]
}
