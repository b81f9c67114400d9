// Package logging installs the process logger: a text handler on stderr,
// optionally teeing every record to a remote syslog collector.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
)

// Handler is an slog.Handler that writes through a base handler and also
// forwards each record to the attached syslog clients.
type Handler struct {
	base   slog.Handler
	shared *clients
	attrs  []slog.Attr
	groups []string
}

type clients struct {
	mu   sync.RWMutex
	list []*SyslogClient
}

// NewHandler wraps base.
func NewHandler(base slog.Handler) *Handler {
	return &Handler{base: base, shared: &clients{}}
}

// Attach adds a syslog client. Handlers derived with WithAttrs or
// WithGroup share the client list.
func (h *Handler) Attach(c *SyslogClient) {
	h.shared.mu.Lock()
	h.shared.list = append(h.shared.list, c)
	h.shared.mu.Unlock()
}

// Close detaches and closes every syslog client.
func (h *Handler) Close() {
	h.shared.mu.Lock()
	list := h.shared.list
	h.shared.list = nil
	h.shared.mu.Unlock()
	for _, c := range list {
		c.Close()
	}
}

func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.base.Enabled(ctx, level)
}

func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	err := h.base.Handle(ctx, r)

	h.shared.mu.RLock()
	list := h.shared.list
	h.shared.mu.RUnlock()
	if len(list) == 0 {
		return err
	}
	sev := severity(r.Level)
	msg := formatRecord(r, h.attrs, h.groups)
	for _, c := range list {
		if c.Accepts(sev) {
			c.Send(sev, msg)
		}
	}
	return err
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &Handler{
		base:   h.base.WithAttrs(attrs),
		shared: h.shared,
		attrs:  append(append([]slog.Attr{}, h.attrs...), attrs...),
		groups: h.groups,
	}
}

func (h *Handler) WithGroup(name string) slog.Handler {
	return &Handler{
		base:   h.base.WithGroup(name),
		shared: h.shared,
		attrs:  h.attrs,
		groups: append(append([]string{}, h.groups...), name),
	}
}

func severity(level slog.Level) int {
	switch {
	case level >= slog.LevelError:
		return SeverityError
	case level >= slog.LevelWarn:
		return SeverityWarning
	case level >= slog.LevelInfo:
		return SeverityInfo
	}
	return SeverityDebug
}

// formatRecord renders "msg k=v k=v" with group-qualified keys.
func formatRecord(r slog.Record, pre []slog.Attr, groups []string) string {
	var b strings.Builder
	b.WriteString(r.Message)
	for _, a := range pre {
		fmt.Fprintf(&b, " %s=%s", a.Key, a.Value.String())
	}
	prefix := ""
	if len(groups) > 0 {
		prefix = strings.Join(groups, ".") + "."
	}
	r.Attrs(func(a slog.Attr) bool {
		fmt.Fprintf(&b, " %s%s=%s", prefix, a.Key, a.Value.String())
		return true
	})
	return b.String()
}

// Options selects the logger setup.
type Options struct {
	Debug  bool
	Syslog string // host:port; empty disables forwarding
	Tag    string // program name for syslog
}

// Setup builds the process logger writing to w and installs it as the
// slog default. Close the returned handler on exit.
func Setup(w io.Writer, opts Options) (*Handler, error) {
	level := slog.LevelInfo
	if opts.Debug {
		level = slog.LevelDebug
	}
	h := NewHandler(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	if opts.Syslog != "" {
		c, err := DialSyslog(opts.Syslog, opts.Tag)
		if err != nil {
			return nil, err
		}
		h.Attach(c)
	}
	slog.SetDefault(slog.New(h))
	return h, nil
}
