package dataplane

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
)

// PortStats counts traffic through one port handle.
type PortStats struct {
	RxPackets atomic.Uint64
	RxBytes   atomic.Uint64
	TxPackets atomic.Uint64
	TxBytes   atomic.Uint64
	TxDrops   atomic.Uint64
}

// Handle is an opened port with its device id and counters.
type Handle struct {
	ID    PortID
	DevID int
	port  Port
	Stats PortStats
}

// RxBurst receives into pkts and updates counters.
func (h *Handle) RxBurst(pkts []*Packet) int {
	n := h.port.RxBurst(pkts)
	if n > 0 {
		h.Stats.RxPackets.Add(uint64(n))
		h.Stats.RxBytes.Add(burstBytes(pkts[:n]))
	}
	return n
}

// TxBurst transmits pkts. Packets the port did not accept count as drops.
func (h *Handle) TxBurst(pkts []*Packet) int {
	n := h.port.TxBurst(pkts)
	if n > 0 {
		h.Stats.TxPackets.Add(uint64(n))
		h.Stats.TxBytes.Add(burstBytes(pkts[:n]))
	}
	if n < len(pkts) {
		h.Stats.TxDrops.Add(uint64(len(pkts) - n))
	}
	return n
}

func burstBytes(pkts []*Packet) uint64 {
	var b uint64
	for _, p := range pkts {
		b += uint64(len(p.Data))
	}
	return b
}

// Manager opens ports through a Backend and caches the handles. Device ids
// are assigned in open order, like ethdev port ids.
type Manager struct {
	mu      sync.Mutex
	backend Backend
	handles map[PortID]*Handle
	nextDev int
}

// NewManager wraps backend.
func NewManager(backend Backend) *Manager {
	return &Manager{backend: backend, handles: make(map[PortID]*Handle)}
}

// Open returns the handle for id, opening the port on first use.
func (m *Manager) Open(id PortID) (*Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok := m.handles[id]; ok {
		return h, nil
	}
	p, err := m.backend.Open(id)
	if err != nil {
		return nil, fmt.Errorf("open port %s: %w", id, err)
	}
	h := &Handle{ID: id, DevID: m.nextDev, port: p}
	m.nextDev++
	m.handles[id] = h
	slog.Debug("port opened", "port", id.String(), "dev", h.DevID)
	return h, nil
}

// Lookup returns the handle for id if it was opened.
func (m *Manager) Lookup(id PortID) (*Handle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.handles[id]
	return h, ok
}

// Handles returns all opened handles ordered by port id.
func (m *Manager) Handles() []*Handle {
	m.mu.Lock()
	out := make([]*Handle, 0, len(m.handles))
	for _, h := range m.handles {
		out = append(out, h)
	}
	m.mu.Unlock()
	slices.SortFunc(out, func(a, b *Handle) int { return ComparePortID(a.ID, b.ID) })
	return out
}

// Close releases the backend.
func (m *Manager) Close() error {
	return m.backend.Close()
}
