// Package logging builds the slog logger used by every binary: a colored
// console handler for interactive use or JSON for services.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

// Options configures New.
type Options struct {
	Level slog.Level
	// Format is "text" (colored console) or "json".
	Format  string
	Output  io.Writer
	NoColor bool
}

// New returns a logger for opts.
func New(opts Options) (*slog.Logger, error) {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	switch strings.ToLower(opts.Format) {
	case "", "text":
		return slog.New(NewColorHandler(out, opts.Level, opts.NoColor)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: opts.Level})), nil
	default:
		return nil, fmt.Errorf("unknown log format %q (want text or json)", opts.Format)
	}
}

// ParseLevel maps debug, info, warn and error to slog levels.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// ColorHandler writes one line per record:
//
//	15:04:05 INFO  Faucet claimed address=0x... attempt=2
//
// The level and message take the level's color.
type ColorHandler struct {
	mu     *sync.Mutex
	out    io.Writer
	level  slog.Leveler
	attrs  []slog.Attr
	group  string
	colors map[slog.Level]*color.Color
	key    *color.Color
	faint  *color.Color
}

// NewColorHandler creates a ColorHandler writing to out.
func NewColorHandler(out io.Writer, level slog.Leveler, noColor bool) *ColorHandler {
	mk := func(attrs ...color.Attribute) *color.Color {
		c := color.New(attrs...)
		if noColor {
			c.DisableColor()
		} else {
			c.EnableColor()
		}
		return c
	}
	return &ColorHandler{
		mu:    &sync.Mutex{},
		out:   out,
		level: level,
		colors: map[slog.Level]*color.Color{
			slog.LevelDebug: mk(color.FgMagenta),
			slog.LevelInfo:  mk(color.FgGreen),
			slog.LevelWarn:  mk(color.FgYellow),
			slog.LevelError: mk(color.FgRed),
		},
		key:   mk(color.FgCyan),
		faint: mk(color.Faint),
	}
}

// Enabled reports whether level is logged.
func (h *ColorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *ColorHandler) levelColor(level slog.Level) *color.Color {
	switch {
	case level >= slog.LevelError:
		return h.colors[slog.LevelError]
	case level >= slog.LevelWarn:
		return h.colors[slog.LevelWarn]
	case level >= slog.LevelInfo:
		return h.colors[slog.LevelInfo]
	default:
		return h.colors[slog.LevelDebug]
	}
}

// Handle formats and writes r.
func (h *ColorHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder
	lc := h.levelColor(r.Level)

	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	b.WriteString(h.faint.Sprint(ts.Format(time.TimeOnly)))
	b.WriteByte(' ')
	b.WriteString(lc.Sprintf("%-5s", r.Level.String()))
	b.WriteByte(' ')
	b.WriteString(lc.Sprint(r.Message))

	write := func(prefix string, a slog.Attr) {
		a.Value = a.Value.Resolve()
		if a.Equal(slog.Attr{}) {
			return
		}
		key := a.Key
		if prefix != "" {
			key = prefix + "." + key
		}
		val := a.Value.String()
		if strings.ContainsAny(val, " \"=") {
			val = fmt.Sprintf("%q", val)
		}
		b.WriteByte(' ')
		b.WriteString(h.key.Sprint(key + "="))
		if a.Key == "error" {
			val = h.colors[slog.LevelError].Sprint(val)
		}
		b.WriteString(val)
	}
	for _, a := range h.attrs {
		write("", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		write(h.group, a)
		return true
	})
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.out, b.String())
	return err
}

// WithAttrs returns a handler that always writes attrs.
func (h *ColorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	clone.attrs = append(clone.attrs, h.attrs...)
	for _, a := range attrs {
		if h.group != "" {
			a.Key = h.group + "." + a.Key
		}
		clone.attrs = append(clone.attrs, a)
	}
	return &clone
}

// WithGroup prefixes later attribute keys with name.
func (h *ColorHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	if h.group != "" {
		clone.group = h.group + "." + name
	} else {
		clone.group = name
	}
	return &clone
}
