// Package runner executes decoded command requests against the management
// state and builds the controller response.
//
// A request is one or more command lines separated by ';'. Every line is
// decoded before anything runs; a decode failure rejects the whole request.
// Commands then run in order, each committed on its own, and the first
// failure stops the batch.
package runner

import (
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/psaab/spp/pkg/command"
	"github.com/psaab/spp/pkg/configstore"
	"github.com/psaab/spp/pkg/mgmt"
	"github.com/psaab/spp/pkg/response"
)

// Capture is the control surface of a pcap capture engine.
type Capture interface {
	Start() error
	Stop() error
	Info() *response.CaptureInfo
}

// Options configures a Runner.
type Options struct {
	// Capture is required for pcap processes and ignored otherwise.
	Capture Capture
	// Store records committed commands; nil disables history.
	Store *configstore.Store
}

// Runner is safe for concurrent use; requests are serialized.
type Runner struct {
	mu      sync.Mutex
	state   *mgmt.State
	parser  *command.Parser
	capture Capture
	store   *configstore.Store

	exit     atomic.Bool
	exitCh   chan struct{}
	exitOnce sync.Once

	Requests    atomic.Uint64
	ParseErrors atomic.Uint64
	ExecErrors  atomic.Uint64
}

// New returns a runner for st.
func New(st *mgmt.State, opts Options) *Runner {
	return &Runner{
		state:   st,
		parser:  command.NewParser(st.Process(), st),
		capture: opts.Capture,
		store:   opts.Store,
		exitCh:  make(chan struct{}),
	}
}

// Parser returns the command parser used by the runner.
func (r *Runner) Parser() *command.Parser { return r.parser }

// ExitRequested reports whether an exit command has run.
func (r *Runner) ExitRequested() bool { return r.exit.Load() }

// Exited is closed once an exit command has run.
func (r *Runner) Exited() <-chan struct{} { return r.exitCh }

// SplitRequest splits a request into trimmed, non-empty command lines.
func SplitRequest(msg string) []string {
	var lines []string
	for _, l := range strings.Split(msg, ";") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	return lines
}

// Execute runs one request and returns its response.
func (r *Runner) Execute(msg string) *response.Response {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Requests.Add(1)

	lines := SplitRequest(msg)
	if len(lines) == 0 {
		lines = []string{""}
	}

	cmds := make([]command.Command, len(lines))
	for i, l := range lines {
		cmd, err := r.parser.Parse(l)
		if err != nil {
			r.ParseErrors.Add(1)
			slog.Error("command rejected", "index", i, "line", l, "err", err)
			return &response.Response{Results: response.ParseFailed(len(lines), i, err.Error())}
		}
		cmds[i] = cmd
	}

	resp := &response.Response{Results: response.AllSucceeded(len(cmds))}
	var wantID, wantInfo bool
	for i, cmd := range cmds {
		if err := r.run(lines[i], cmd); err != nil {
			r.ExecErrors.Add(1)
			slog.Error("command failed", "index", i, "line", lines[i], "err", err)
			return &response.Response{Results: response.ExecFailed(len(cmds), i)}
		}
		switch cmd.Kind() {
		case command.KindClientID:
			wantID = true
		case command.KindStatus:
			wantInfo = true
		}
	}

	if wantID {
		id := r.state.ClientID()
		resp.ClientID = &id
		resp.ProcessType = r.state.Process().String()
	}
	if wantInfo {
		resp.Info = r.info()
	}
	return resp
}

// Info returns the status document "status" would report.
func (r *Runner) Info() any {
	return r.info()
}

// Dump copies the working tables under the request lock.
func (r *Runner) Dump() mgmt.Dump {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.Dump()
}

func (r *Runner) info() any {
	if r.state.Process() == mgmt.ProcPcap && r.capture != nil {
		return r.capture.Info()
	}
	return response.BuildInfo(r.state.Published())
}

func (r *Runner) run(line string, cmd command.Command) error {
	switch c := cmd.(type) {
	case command.ClientIDCommand, command.StatusCommand:
		return nil
	case command.ExitCommand:
		slog.Info("exit requested")
		r.exit.Store(true)
		r.exitOnce.Do(func() { close(r.exitCh) })
		return nil
	case command.StartCaptureCommand:
		if r.capture == nil {
			return errors.New("no capture engine")
		}
		return r.capture.Start()
	case command.StopCaptureCommand:
		if r.capture == nil {
			return errors.New("no capture engine")
		}
		return r.capture.Stop()
	case *command.ComponentCommand:
		return r.commit(line, func(tx *mgmt.Txn) error {
			if c.Action == command.ActionStart {
				_, err := tx.StartComponent(c.Name, c.Core, c.Type)
				return err
			}
			return tx.StopComponent(c.Name)
		})
	case *command.PortCommand:
		return r.commit(line, func(tx *mgmt.Txn) error {
			if c.Action == command.ActionAdd {
				return tx.AttachPort(c.Port, c.Dir, c.Name, c.Ability)
			}
			return tx.DetachPort(c.Port, c.Dir, c.Name)
		})
	case *command.ClassifierTableCommand:
		return r.commit(line, func(tx *mgmt.Txn) error {
			cls, err := c.ClassID()
			if err != nil {
				return err
			}
			if c.Action == command.ActionAdd {
				return tx.AddClass(c.Port, cls)
			}
			return tx.DelClass(c.Port, cls)
		})
	}
	return errors.Errorf("unhandled command %s", cmd.Kind())
}

// commit applies fn in a transaction, publishes it and records it.
func (r *Runner) commit(line string, fn func(*mgmt.Txn) error) error {
	tx := r.state.Begin()
	if err := fn(tx); err != nil {
		return err
	}
	if !tx.Dirty() {
		return nil
	}
	if err := r.state.Commit(tx); err != nil {
		return errors.Wrap(err, "flush")
	}
	slog.Debug("command committed", "line", line)
	if r.store != nil {
		r.store.Record(line, r.state.Dump())
	}
	return nil
}
