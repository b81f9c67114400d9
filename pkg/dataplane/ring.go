package dataplane

import "sync"

// DefaultRingSize is the ring depth used when none is configured.
const DefaultRingSize = 8192

// Ring is a bounded multi-producer multi-consumer packet queue. It is the
// in-process stand-in for a shared ring PMD.
type Ring struct {
	ch chan *Packet
}

// NewRing creates a ring holding at most size packets.
func NewRing(size int) *Ring {
	if size <= 0 {
		size = DefaultRingSize
	}
	return &Ring{ch: make(chan *Packet, size)}
}

// RxBurst dequeues up to len(pkts) packets without blocking.
func (r *Ring) RxBurst(pkts []*Packet) int {
	n := 0
	for n < len(pkts) {
		select {
		case p := <-r.ch:
			pkts[n] = p
			n++
		default:
			return n
		}
	}
	return n
}

// TxBurst enqueues packets until the ring is full.
func (r *Ring) TxBurst(pkts []*Packet) int {
	for i, p := range pkts {
		select {
		case r.ch <- p:
		default:
			return i
		}
	}
	return len(pkts)
}

// Len returns the number of queued packets.
func (r *Ring) Len() int { return len(r.ch) }

// RingBackend serves every port id from a named in-memory ring, so a tx on
// ring:0 by one component is the rx on ring:0 of another.
type RingBackend struct {
	mu    sync.Mutex
	size  int
	rings map[PortID]*Ring
}

// NewRingBackend returns a backend whose rings hold size packets.
func NewRingBackend(size int) *RingBackend {
	return &RingBackend{size: size, rings: make(map[PortID]*Ring)}
}

// Open returns the ring for id, creating it on first use.
func (b *RingBackend) Open(id PortID) (Port, error) {
	return b.Ring(id), nil
}

// Ring returns the concrete ring for id, creating it on first use.
func (b *RingBackend) Ring(id PortID) *Ring {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.rings[id]
	if !ok {
		r = NewRing(b.size)
		b.rings[id] = r
	}
	return r
}

func (b *RingBackend) Close() error { return nil }
