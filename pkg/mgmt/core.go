package mgmt

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/psaab/spp/pkg/dbuf"
)

// CoreStatus is the lifecycle state of one lcore.
type CoreStatus int32

const (
	StatusUnused CoreStatus = iota
	StatusStopped
	StatusIdling
	StatusForwarding
	StatusStopRequested
	StatusIdleRequested
)

func (s CoreStatus) String() string {
	switch s {
	case StatusUnused:
		return "unuse"
	case StatusStopped:
		return "stop"
	case StatusIdling:
		return "idle"
	case StatusForwarding:
		return "forward"
	case StatusStopRequested:
		return "stop_request"
	case StatusIdleRequested:
		return "idle_request"
	}
	return "unknown"
}

// Core is one lcore's slot: its status word and the double-buffered list of
// component ids scheduled on it.
type Core struct {
	ID     int
	status atomic.Int32
	comps  *dbuf.DoubleBuffered[[]int]
}

func newCore(id int, st CoreStatus) *Core {
	c := &Core{ID: id, comps: dbuf.New([]int(nil))}
	c.status.Store(int32(st))
	return c
}

// Status returns the current status word.
func (c *Core) Status() CoreStatus { return CoreStatus(c.status.Load()) }

// SetStatus stores a new status word. Called by the control thread to
// request a transition and by the worker to acknowledge one.
func (c *Core) SetStatus(s CoreStatus) { c.status.Store(int32(s)) }

// Components returns the published component id list.
func (c *Core) Components() []int { return c.comps.Read() }

// RefIndex exposes the published half index of the assignment buffer.
func (c *Core) RefIndex() int { return c.comps.RefIndex() }

// Core returns the slot for lcore id, or nil when out of range.
func (s *State) Core(id int) *Core {
	if id < 0 || id >= len(s.cores) {
		return nil
	}
	return s.cores[id]
}

// Lcores returns the ids of every core that is not Unused.
func (s *State) Lcores() []int {
	var ids []int
	for _, c := range s.cores {
		if c.Status() != StatusUnused {
			ids = append(ids, c.ID)
		}
	}
	return ids
}

// SetAllStatus writes st to every core that is not Unused.
func (s *State) SetAllStatus(st CoreStatus) {
	for _, c := range s.cores {
		if c.Status() != StatusUnused {
			c.SetStatus(st)
		}
	}
}

// Status check defaults for WaitStatus.
const (
	StatusCheckMax      = 5
	StatusCheckInterval = time.Second
)

// WaitStatus polls until every used core reports want, checking at most
// retries times with interval between checks.
func (s *State) WaitStatus(ctx context.Context, want CoreStatus, retries int, interval time.Duration) error {
	for i := 0; i < retries; i++ {
		if s.allStatus(want) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
	if s.allStatus(want) {
		return nil
	}
	return fmt.Errorf("cores did not reach %s after %d checks", want, retries)
}

func (s *State) allStatus(want CoreStatus) bool {
	for _, c := range s.cores {
		st := c.Status()
		if st != StatusUnused && st != want {
			return false
		}
	}
	return true
}
