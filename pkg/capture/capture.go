// Package capture runs the pcap process's threads: one receiver that reads
// the capture port into a shared ring, and writers that drain the ring into
// rotating capture files.
package capture

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/psaab/spp/pkg/dataplane"
	"github.com/psaab/spp/pkg/mgmt"
	"github.com/psaab/spp/pkg/pcap"
	"github.com/psaab/spp/pkg/response"
)

// Status of a capture.
type Status int32

const (
	Idle Status = iota
	Running
)

func (s Status) String() string {
	if s == Running {
		return "running"
	}
	return "idle"
}

// Thread roles.
const (
	RoleReceive = "receive"
	RoleWrite   = "write"
)

const (
	burst     = 32
	idleSleep = 100 * time.Microsecond
)

// Options configures an Engine.
type Options struct {
	ClientID int
	Port     dataplane.PortID
	Handle   *dataplane.Handle
	// Lcores lists the capture threads; the first receives, the rest write.
	Lcores   []int
	Dir      string
	Limit    uint64
	RingSize int
}

type thread struct {
	lcore  int
	no     int
	status atomic.Int32
	mu     sync.Mutex
	file   string
}

// Engine is the capture state machine. Start and Stop only post a request;
// the receiver moves the capture status and the writers follow it.
type Engine struct {
	opts    Options
	ring    *dataplane.Ring
	request atomic.Int32
	status  atomic.Int32
	date    atomic.Value // string
	threads []*thread
	state   *mgmt.State

	Captured atomic.Uint64
	Bytes    atomic.Uint64
	Dropped  atomic.Uint64
	Errors   atomic.Uint64
}

// New creates an engine; st supplies the core status words of its threads.
func New(st *mgmt.State, opts Options) (*Engine, error) {
	if len(opts.Lcores) < 2 {
		return nil, fmt.Errorf("capture needs a receive and at least one write lcore, got %d", len(opts.Lcores))
	}
	if opts.Handle == nil {
		return nil, fmt.Errorf("no capture port handle for %s", opts.Port)
	}
	if opts.RingSize <= 0 {
		opts.RingSize = dataplane.DefaultRingSize
	}
	e := &Engine{
		opts:  opts,
		ring:  dataplane.NewRing(opts.RingSize),
		state: st,
	}
	e.date.Store("")
	for i, l := range opts.Lcores {
		e.threads = append(e.threads, &thread{lcore: l, no: i})
	}
	return e, nil
}

// Start requests a running capture. Starting a running capture is a no-op.
func (e *Engine) Start() error {
	e.request.Store(int32(Running))
	slog.Info("capture start requested", "port", e.opts.Port.String())
	return nil
}

// Stop requests an idle capture. Stopping an idle capture is a no-op.
func (e *Engine) Stop() error {
	e.request.Store(int32(Idle))
	slog.Info("capture stop requested", "port", e.opts.Port.String())
	return nil
}

// Counters returns packets written, packets dropped on the ring and file
// errors.
func (e *Engine) Counters() (captured, dropped, errors uint64) {
	return e.Captured.Load(), e.Dropped.Load(), e.Errors.Load()
}

// Status returns the capture status as set by the receiver.
func (e *Engine) Status() Status { return Status(e.status.Load()) }

// Info renders the status document.
func (e *Engine) Info() *response.CaptureInfo {
	info := &response.CaptureInfo{
		ClientID: e.opts.ClientID,
		Status:   e.Status().String(),
	}
	for _, t := range e.threads {
		c := response.CaptureCore{Core: t.lcore}
		if t.no == 0 {
			c.Role = RoleReceive
			c.RxPort = []response.CaptureRxPort{{Port: e.opts.Port.String()}}
		} else {
			c.Role = RoleWrite
			t.mu.Lock()
			c.Filename = t.file
			t.mu.Unlock()
		}
		info.Core = append(info.Core, c)
	}
	response.SortCaptureCores(info.Core)
	return info
}

// Run runs every capture thread until the cores are asked to stop or ctx
// ends, then finishes any open capture file.
func (e *Engine) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	errs := make(chan error, len(e.threads))
	for _, t := range e.threads {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := e.runThread(ctx, t); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	return <-errs
}

func (e *Engine) runThread(ctx context.Context, t *thread) error {
	core := e.state.Core(t.lcore)
	if core == nil {
		return fmt.Errorf("capture lcore %d out of range", t.lcore)
	}
	core.SetStatus(mgmt.StatusIdling)
	role := RoleWrite
	if t.no == 0 {
		role = RoleReceive
	}
	slog.Info("capture thread started", "lcore", t.lcore, "role", role, "thread", t.no)

	var w *pcap.Writer
	defer func() {
		if w != nil {
			if err := w.Close(); err != nil {
				slog.Error("closing capture file", "err", err)
			}
		}
		core.SetStatus(mgmt.StatusStopped)
		slog.Info("capture thread stopped", "lcore", t.lcore)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		if core.Status() == mgmt.StatusStopRequested {
			return nil
		}

		var moved int
		if t.no == 0 {
			moved = e.receive(t)
		} else {
			var err error
			moved, w, err = e.write(t, w)
			if err != nil {
				e.Errors.Add(1)
				slog.Error("capture file write error", "lcore", t.lcore, "err", err)
			}
		}
		if moved == 0 {
			time.Sleep(idleSleep)
		}
	}
}

// receive moves the capture status toward the request and, while running,
// copies one burst from the port into the ring.
func (e *Engine) receive(t *thread) int {
	if Status(e.request.Load()) == Idle {
		if Status(t.status.Load()) == Running {
			t.status.Store(int32(Idle))
			e.status.Store(int32(Idle))
		}
		return 0
	}
	if Status(t.status.Load()) == Idle {
		e.date.Store(time.Now().Format(pcap.DateLayout))
		t.status.Store(int32(Running))
		e.status.Store(int32(Running))
	}

	var buf [burst]*dataplane.Packet
	n := e.opts.Handle.RxBurst(buf[:])
	if n == 0 {
		return 0
	}
	for i := range buf[:n] {
		if buf[i].Timestamp.IsZero() {
			buf[i].Timestamp = time.Now()
		}
	}
	sent := e.ring.TxBurst(buf[:n])
	if sent < n {
		e.Dropped.Add(uint64(n - sent))
	}
	return n
}

// write follows the capture status: it opens a file when the capture
// starts, closes it when the capture goes idle and otherwise drains one
// burst from the ring.
func (e *Engine) write(t *thread, w *pcap.Writer) (int, *pcap.Writer, error) {
	if e.Status() == Idle {
		if Status(t.status.Load()) == Running {
			t.status.Store(int32(Idle))
			err := w.Close()
			return 0, nil, err
		}
		return 0, w, nil
	}
	if Status(t.status.Load()) == Idle {
		nw, err := pcap.Open(pcap.Options{
			Dir:    e.opts.Dir,
			Limit:  e.opts.Limit,
			Date:   e.date.Load().(string),
			Iface:  fmt.Sprintf("%s%d", e.opts.Port.Type, e.opts.Port.No),
			Thread: t.no,
		})
		if err != nil {
			return 0, w, err
		}
		w = nw
		t.status.Store(int32(Running))
	}

	var buf [burst]*dataplane.Packet
	n := e.ring.RxBurst(buf[:])
	for _, p := range buf[:n] {
		if err := w.WritePacket(p.Timestamp, p.Data); err != nil {
			t.status.Store(int32(Idle))
			cerr := w.Close()
			t.setFile("")
			if cerr != nil {
				slog.Error("closing capture file", "err", cerr)
			}
			return n, nil, err
		}
		e.Captured.Add(1)
		e.Bytes.Add(uint64(len(p.Data)))
	}
	t.setFile(w.Name())
	return n, w, nil
}

func (t *thread) setFile(name string) {
	t.mu.Lock()
	t.file = name
	t.mu.Unlock()
}
