// Package dataplane defines the packet I/O surface used by lcore workers:
// port identities, packet buffers, burst receive/transmit, and the backend
// registry that opens ports of each interface type.
package dataplane

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// IfaceType is the kind of interface a port is attached to.
type IfaceType int

const (
	IfaceUndef IfaceType = iota
	IfacePhy
	IfaceVhost
	IfaceRing
)

var ifaceNames = map[IfaceType]string{
	IfacePhy:   "phy",
	IfaceVhost: "vhost",
	IfaceRing:  "ring",
}

// String returns the token prefix used on the command wire ("phy", "vhost", "ring").
func (t IfaceType) String() string {
	if s, ok := ifaceNames[t]; ok {
		return s
	}
	return "none"
}

// ParseIfaceType maps a wire prefix back to an IfaceType. Matching is exact.
func ParseIfaceType(s string) (IfaceType, bool) {
	for t, name := range ifaceNames {
		if name == s {
			return t, true
		}
	}
	return IfaceUndef, false
}

// PortID identifies a port by interface type and index.
type PortID struct {
	Type IfaceType
	No   int
}

func (p PortID) String() string {
	return p.Type.String() + ":" + strconv.Itoa(p.No)
}

// ComparePortID orders ports by type then index.
func ComparePortID(a, b PortID) int {
	if a.Type != b.Type {
		return int(a.Type) - int(b.Type)
	}
	return a.No - b.No
}

// ParsePortID parses "<type>:<index>". The index follows ParseNumber and
// must fit in an int32.
func ParsePortID(s string) (PortID, error) {
	prefix, num, ok := strings.Cut(s, ":")
	if !ok {
		return PortID{}, fmt.Errorf("port %q: missing ':'", s)
	}
	t, ok := ParseIfaceType(prefix)
	if !ok {
		return PortID{}, fmt.Errorf("port %q: unknown interface type", s)
	}
	n, err := ParseNumber(num)
	if err != nil || n > math.MaxInt32 {
		return PortID{}, fmt.Errorf("port %q: bad index", s)
	}
	return PortID{Type: t, No: int(n)}, nil
}

// Packet is one frame moving through the dataplane.
type Packet struct {
	Data      []byte
	Timestamp time.Time
}

// Clone returns a deep copy of p.
func (p *Packet) Clone() *Packet {
	return &Packet{Data: append([]byte(nil), p.Data...), Timestamp: p.Timestamp}
}

// Port moves bursts of packets. RxBurst fills pkts from the front and returns
// the count received; TxBurst sends from the front of pkts and returns the
// count accepted. Neither call blocks.
type Port interface {
	RxBurst(pkts []*Packet) int
	TxBurst(pkts []*Packet) int
}

// Backend opens ports of the interface types it serves.
type Backend interface {
	Open(id PortID) (Port, error)
	Close() error
}

// BackendOptions carries the settings a backend may need at construction.
type BackendOptions struct {
	PhyIfaces []string // explicit phy:N to netdev mapping; empty means enumerate
	RingSize  int
	ProcArgs  []string // extra EAL arguments for DPDK
}

// backendRegistry holds constructors for dataplane backends. Sub-packages
// register themselves via RegisterBackend in their init().
var backendRegistry = map[string]func(BackendOptions) (Backend, error){}

// RegisterBackend registers a backend constructor under name.
func RegisterBackend(name string, ctor func(BackendOptions) (Backend, error)) {
	backendRegistry[name] = ctor
}

// Backends lists registered backend names.
func Backends() []string {
	names := make([]string, 0, len(backendRegistry))
	for n := range backendRegistry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// NewBackend builds the named backend. "ring" (or empty) needs no
// registration: every interface type is served by in-memory rings.
func NewBackend(name string, opts BackendOptions) (Backend, error) {
	if name == "" || name == "ring" {
		return NewRingBackend(opts.RingSize), nil
	}
	ctor, ok := backendRegistry[name]
	if !ok {
		return nil, fmt.Errorf("unknown dataplane backend %q (valid: ring, %s)",
			name, strings.Join(Backends(), ", "))
	}
	return ctor(opts)
}
