// Package worker runs the per-lcore poll loops that move packets for the
// components scheduled on each core.
//
// A worker reads only the published side of the management state: its
// core's component list, the component views and the port abilities. It
// never blocks on the control thread; the status word is the only signal.
package worker

import (
	"context"
	"log/slog"
	"runtime"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/psaab/spp/pkg/dataplane"
	"github.com/psaab/spp/pkg/mgmt"
)

// DefaultBurst is the rx burst size.
const DefaultBurst = 32

// DefaultIdleSleep is how long a worker sleeps after an iteration that
// moved no packets.
const DefaultIdleSleep = 50 * time.Microsecond

// Options tunes a worker.
type Options struct {
	Burst     int
	IdleSleep time.Duration
	// Affinity pins the worker's OS thread to its lcore.
	Affinity bool
}

// Stats counts packets a worker handled.
type Stats struct {
	Iterations atomic.Uint64
	Forwarded  atomic.Uint64
	Dropped    atomic.Uint64
}

// Worker drives one lcore.
type Worker struct {
	lcore int
	state *mgmt.State
	opts  Options

	buf     []*dataplane.Packet
	dec     *decoder
	classes map[int]*classTable // by component id
	out     map[*mgmt.PortView][]*dataplane.Packet

	Stats Stats
}

// New returns the worker for lcore.
func New(st *mgmt.State, lcore int, opts Options) *Worker {
	if opts.Burst <= 0 {
		opts.Burst = DefaultBurst
	}
	if opts.IdleSleep <= 0 {
		opts.IdleSleep = DefaultIdleSleep
	}
	return &Worker{
		lcore:   lcore,
		state:   st,
		opts:    opts,
		buf:     make([]*dataplane.Packet, opts.Burst),
		dec:     newDecoder(),
		classes: make(map[int]*classTable),
		out:     make(map[*mgmt.PortView][]*dataplane.Packet),
	}
}

// Lcore returns the lcore the worker drives.
func (w *Worker) Lcore() int { return w.lcore }

// Run is the poll loop. It reports Idling on entry, forwards while the core
// is Forwarding and acknowledges StopRequested with Stopped before
// returning. Cancelling ctx behaves like a stop request.
func (w *Worker) Run(ctx context.Context) error {
	core := w.state.Core(w.lcore)
	if core == nil {
		return nil
	}
	if w.opts.Affinity {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		var set unix.CPUSet
		set.Set(w.lcore)
		if err := unix.SchedSetaffinity(0, &set); err != nil {
			slog.Warn("failed to pin worker", "lcore", w.lcore, "err", err)
		}
	}

	core.SetStatus(mgmt.StatusIdling)
	slog.Debug("worker started", "lcore", w.lcore)
	defer slog.Debug("worker stopped", "lcore", w.lcore)

	for {
		select {
		case <-ctx.Done():
			core.SetStatus(mgmt.StatusStopped)
			return nil
		default:
		}

		switch core.Status() {
		case mgmt.StatusStopRequested:
			core.SetStatus(mgmt.StatusStopped)
			return nil
		case mgmt.StatusIdleRequested:
			core.SetStatus(mgmt.StatusIdling)
			continue
		case mgmt.StatusForwarding:
		default:
			time.Sleep(w.opts.IdleSleep)
			continue
		}

		w.Stats.Iterations.Add(1)
		if w.Poll() == 0 {
			time.Sleep(w.opts.IdleSleep)
		}
	}
}

// Poll runs every component on the core once and returns the number of
// packets received.
func (w *Worker) Poll() int {
	total := 0
	for _, v := range w.state.CoreComponents(w.lcore) {
		switch v.Type {
		case mgmt.CompForward, mgmt.CompMerge:
			total += w.forward(v)
		case mgmt.CompMirror:
			total += w.mirror(v)
		case mgmt.CompClassifierMAC:
			total += w.classify(v)
		}
	}
	return total
}

func (w *Worker) receive(pv *mgmt.PortView) []*dataplane.Packet {
	if pv.Handle == nil {
		return nil
	}
	n := pv.Handle.RxBurst(w.buf)
	if n == 0 {
		return nil
	}
	pkts := w.buf[:n]
	applyAbilities(pkts, pv.Abilities.Read(mgmt.DirRx))
	return pkts
}

func (w *Worker) send(pv *mgmt.PortView, pkts []*dataplane.Packet) {
	if len(pkts) == 0 {
		return
	}
	if pv.Handle == nil {
		w.Stats.Dropped.Add(uint64(len(pkts)))
		return
	}
	applyAbilities(pkts, pv.Abilities.Read(mgmt.DirTx))
	n := pv.Handle.TxBurst(pkts)
	w.Stats.Forwarded.Add(uint64(n))
	if n < len(pkts) {
		w.Stats.Dropped.Add(uint64(len(pkts) - n))
	}
}

// forward moves every rx port's burst to the single tx port. Merge is the
// same loop over more rx ports.
func (w *Worker) forward(v *mgmt.ComponentView) int {
	total := 0
	for _, rx := range v.Rx {
		pkts := w.receive(rx)
		if len(pkts) == 0 {
			continue
		}
		total += len(pkts)
		if len(v.Tx) == 0 {
			w.Stats.Dropped.Add(uint64(len(pkts)))
			continue
		}
		w.send(v.Tx[0], pkts)
	}
	return total
}

// mirror sends each packet to the first tx port and a copy to the second.
func (w *Worker) mirror(v *mgmt.ComponentView) int {
	if len(v.Rx) == 0 {
		return 0
	}
	pkts := w.receive(v.Rx[0])
	if len(pkts) == 0 {
		return 0
	}
	switch len(v.Tx) {
	case 0:
		w.Stats.Dropped.Add(uint64(len(pkts)))
	case 1:
		w.send(v.Tx[0], pkts)
	default:
		copies := make([]*dataplane.Packet, len(pkts))
		for i, p := range pkts {
			copies[i] = p.Clone()
		}
		w.send(v.Tx[0], pkts)
		w.send(v.Tx[1], copies)
	}
	return len(pkts)
}

func (w *Worker) classify(v *mgmt.ComponentView) int {
	if len(v.Rx) == 0 {
		return 0
	}
	pkts := w.receive(v.Rx[0])
	if len(pkts) == 0 {
		return 0
	}
	t := w.classes[v.ID]
	if t == nil || t.view != v {
		t = newClassTable(v)
		w.classes[v.ID] = t
	}
	clear(w.out)
	if d := t.classify(w.dec, pkts, w.out); d > 0 {
		w.Stats.Dropped.Add(uint64(d))
	}
	for _, pv := range v.Tx {
		w.send(pv, w.out[pv])
	}
	return len(pkts)
}
