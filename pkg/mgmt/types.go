// Package mgmt owns the management-plane state of an SPP secondary process:
// the port, component and core tables, the double-buffered views published
// to lcore workers, and the backup used to roll back a failed flush.
//
// Only the control thread mutates a State. Workers, the status formatter and
// the HTTP/gRPC surfaces read the published (reference-side) views.
package mgmt

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/psaab/spp/pkg/dataplane"
)

// Table limits.
const (
	MaxLcore      = 128
	MaxComponents = MaxLcore
	MaxEthPorts   = 32
	MaxAbilities  = 4
	MaxNameLen    = 127
	MaxVID        = 4095
	MaxPCP        = 7
)

// Registry errors. Callers match with errors.Is.
var (
	ErrNameInUse       = errors.New("component name in use")
	ErrCoreUnavailable = errors.New("core not available")
	ErrCapacity        = errors.New("capacity exceeded")
	ErrNoAbilitySlot   = errors.New("no space for port ability")
	ErrNotFound        = errors.New("no such component")
	ErrNotAttached     = errors.New("port not attached")
	ErrPortNotFound    = errors.New("no such port")
	ErrPolicy          = errors.New("port count exceeds component policy")
	ErrClassInUse      = errors.New("classifier id in use")
	ErrClassMismatch   = errors.New("classifier id does not match")
)

// ProcessType is the kind of secondary process.
type ProcessType int

const (
	ProcMirror ProcessType = iota
	ProcVF
	ProcPcap
)

func (p ProcessType) String() string {
	switch p {
	case ProcMirror:
		return "mirror"
	case ProcVF:
		return "vf"
	case ProcPcap:
		return "pcap"
	}
	return "unknown"
}

// ComponentType is the worker role a component runs.
type ComponentType int

const (
	CompNone ComponentType = iota
	CompClassifierMAC
	CompMerge
	CompForward
	CompMirror
)

var componentTypeNames = [...]string{
	CompNone:          "unuse",
	CompClassifierMAC: "classifier_mac",
	CompMerge:         "merge",
	CompForward:       "forward",
	CompMirror:        "mirror",
}

func (c ComponentType) String() string {
	if c >= 0 && int(c) < len(componentTypeNames) {
		return componentTypeNames[c]
	}
	return "unknown"
}

// ParseComponentType maps a wire name to a type. "unuse" is not accepted.
func ParseComponentType(s string) (ComponentType, bool) {
	for i, n := range componentTypeNames {
		if i != int(CompNone) && n == s {
			return ComponentType(i), true
		}
	}
	return CompNone, false
}

// PortPolicy bounds how many rx and tx ports a component type may hold.
type PortPolicy struct {
	MaxRx int
	MaxTx int
}

// Policy returns the attach limits for a component type.
func (c ComponentType) Policy() PortPolicy {
	switch c {
	case CompMirror:
		return PortPolicy{MaxRx: 1, MaxTx: 2}
	case CompForward:
		return PortPolicy{MaxRx: 1, MaxTx: 1}
	case CompMerge:
		return PortPolicy{MaxRx: MaxEthPorts, MaxTx: 1}
	case CompClassifierMAC:
		return PortPolicy{MaxRx: 1, MaxTx: MaxEthPorts}
	}
	return PortPolicy{}
}

// Direction is rx or tx relative to a component.
type Direction int

const (
	DirNone Direction = iota
	DirRx
	DirTx
)

func (d Direction) String() string {
	switch d {
	case DirRx:
		return "rx"
	case DirTx:
		return "tx"
	}
	return "none"
}

// ParseDirection accepts "rx" or "tx".
func ParseDirection(s string) (Direction, bool) {
	switch s {
	case "rx":
		return DirRx, true
	case "tx":
		return DirTx, true
	}
	return DirNone, false
}

// AbilityOp is a per-port, per-direction packet modifier.
type AbilityOp int

const (
	OpNone AbilityOp = iota
	OpAddVlanTag
	OpDelVlanTag
)

// String returns the short form used in status output.
func (o AbilityOp) String() string {
	switch o {
	case OpAddVlanTag:
		return "add"
	case OpDelVlanTag:
		return "del"
	}
	return "none"
}

// ParseAbilityOp accepts the command tokens "add_vlantag" and "del_vlantag".
func ParseAbilityOp(s string) (AbilityOp, bool) {
	switch s {
	case "add_vlantag":
		return OpAddVlanTag, true
	case "del_vlantag":
		return OpDelVlanTag, true
	}
	return OpNone, false
}

// Ability is one entry of a port's capability slots. PCP is -1 when the
// tag should carry priority 0 without an explicit setting.
type Ability struct {
	Op  AbilityOp
	Dir Direction
	VID int
	PCP int
}

// ClassID is the classifier key bound to a port.
type ClassID struct {
	MAC uint64
	VID int
}

// UnusedClassID marks a port with no classifier entry.
var UnusedClassID = ClassID{MAC: 0, VID: MaxVID}

// DefaultClassMAC is the address that "default" maps to: frames matching no
// other entry go to the port holding it.
const DefaultClassMAC = "00:00:00:00:00:01"

// Used reports whether the class id holds an entry.
func (c ClassID) Used() bool { return c != UnusedClassID }

// Port is the canonical record of one interface.
type Port struct {
	ID        dataplane.PortID
	Abilities [MaxAbilities]Ability
	Class     ClassID
}

// AbilitiesFor returns the populated ability slots for dir.
func (p *Port) AbilitiesFor(dir Direction) []Ability {
	var out []Ability
	for _, a := range p.Abilities {
		if a.Op != OpNone && a.Dir == dir {
			out = append(out, a)
		}
	}
	return out
}

// Component is the canonical record of one named worker.
type Component struct {
	ID   int
	Name string
	Type ComponentType
	Core int
	Rx   []dataplane.PortID
	Tx   []dataplane.PortID
}

func (c *Component) clone() Component {
	cp := *c
	cp.Rx = append([]dataplane.PortID(nil), c.Rx...)
	cp.Tx = append([]dataplane.PortID(nil), c.Tx...)
	return cp
}

func (c *Component) ports(dir Direction) *[]dataplane.PortID {
	if dir == DirRx {
		return &c.Rx
	}
	return &c.Tx
}

// ParseMAC parses "xx:xx:xx:xx:xx:xx" where each octet is one or two hex
// digits.
func ParseMAC(s string) (uint64, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 6 {
		return 0, fmt.Errorf("mac %q: want 6 octets", s)
	}
	var mac uint64
	for _, p := range parts {
		if len(p) == 0 || len(p) > 2 {
			return 0, fmt.Errorf("mac %q: bad octet %q", s, p)
		}
		v, err := strconv.ParseUint(p, 16, 8)
		if err != nil {
			return 0, fmt.Errorf("mac %q: bad octet %q", s, p)
		}
		mac = mac<<8 | v
	}
	return mac, nil
}

// FormatMAC renders a MAC produced by ParseMAC.
func FormatMAC(mac uint64) string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x",
		byte(mac>>40), byte(mac>>32), byte(mac>>24),
		byte(mac>>16), byte(mac>>8), byte(mac))
}
