package mgmt

import (
	"slices"
	"sync/atomic"

	"github.com/psaab/spp/pkg/dataplane"
	"github.com/psaab/spp/pkg/dbuf"
)

// PortOpener resolves a port id to an opened dataplane handle.
// *dataplane.Manager satisfies it.
type PortOpener interface {
	Open(id dataplane.PortID) (*dataplane.Handle, error)
}

// Options configures a new State.
type Options struct {
	ClientID int
	Process  ProcessType
	Lcores   []int      // worker lcores; all others stay Unused
	PhyPorts int        // phy:0 .. phy:PhyPorts-1 exist from startup
	Opener   PortOpener // nil leaves published port handles empty
}

// registry is the control thread's working copy of the three tables.
type registry struct {
	ports     map[dataplane.PortID]Port
	comps     []Component // indexed by component id; Name == "" is free
	coreComps [][]int     // indexed by lcore id
}

func (r *registry) clone() registry {
	out := registry{
		ports:     make(map[dataplane.PortID]Port, len(r.ports)),
		comps:     make([]Component, len(r.comps)),
		coreComps: make([][]int, len(r.coreComps)),
	}
	for id, p := range r.ports {
		out.ports[id] = p
	}
	for i := range r.comps {
		out.comps[i] = r.comps[i].clone()
	}
	for i, l := range r.coreComps {
		out.coreComps[i] = slices.Clone(l)
	}
	return out
}

func (r *registry) componentID(name string) (int, bool) {
	if name == "" {
		return 0, false
	}
	for i := range r.comps {
		if r.comps[i].Name == name {
			return i, true
		}
	}
	return 0, false
}

func (r *registry) portInUse(id dataplane.PortID, dir Direction) bool {
	for i := range r.comps {
		c := &r.comps[i]
		if c.Name == "" {
			continue
		}
		if slices.Contains(*c.ports(dir), id) {
			return true
		}
	}
	return false
}

// PortAbility is the pair of double-buffered ability lists of one port.
type PortAbility struct {
	rx *dbuf.DoubleBuffered[[]Ability]
	tx *dbuf.DoubleBuffered[[]Ability]
}

func newPortAbility() *PortAbility {
	return &PortAbility{rx: dbuf.New([]Ability(nil)), tx: dbuf.New([]Ability(nil))}
}

func (pa *PortAbility) buf(dir Direction) *dbuf.DoubleBuffered[[]Ability] {
	if dir == DirRx {
		return pa.rx
	}
	return pa.tx
}

// Read returns the published abilities for dir.
func (pa *PortAbility) Read(dir Direction) []Ability {
	return pa.buf(dir).Read()
}

// PortView is a port as seen by a worker.
type PortView struct {
	ID        dataplane.PortID
	Handle    *dataplane.Handle
	Class     ClassID
	Abilities *PortAbility
}

// ComponentView is the published, immutable form of a component.
type ComponentView struct {
	ID   int
	Name string
	Type ComponentType
	Core int
	Rx   []*PortView
	Tx   []*PortView
}

// State is the single management-plane state of a secondary process.
type State struct {
	clientID int
	process  ProcessType
	opener   PortOpener

	reg       registry
	cores     []*Core
	views     []*dbuf.DoubleBuffered[*ComponentView]
	abilities map[dataplane.PortID]*PortAbility
	table     *dbuf.DoubleBuffered[[]Port]

	dirtyCores map[int]struct{}
	dirtyComps map[int]struct{}
	dirtyPorts map[dataplane.PortID]struct{}

	backup *backup

	Flushes   atomic.Uint64
	Rollbacks atomic.Uint64
}

// NewState builds the tables, registers startup phy ports, publishes them
// and takes the first backup.
func NewState(opts Options) *State {
	s := &State{
		clientID:   opts.ClientID,
		process:    opts.Process,
		opener:     opts.Opener,
		cores:      make([]*Core, MaxLcore),
		views:      make([]*dbuf.DoubleBuffered[*ComponentView], MaxComponents),
		abilities:  make(map[dataplane.PortID]*PortAbility),
		table:      dbuf.New([]Port(nil)),
		dirtyCores: make(map[int]struct{}),
		dirtyComps: make(map[int]struct{}),
		dirtyPorts: make(map[dataplane.PortID]struct{}),
		reg: registry{
			ports:     make(map[dataplane.PortID]Port),
			comps:     make([]Component, MaxComponents),
			coreComps: make([][]int, MaxLcore),
		},
	}
	for i := range s.cores {
		s.cores[i] = newCore(i, StatusUnused)
	}
	for _, id := range opts.Lcores {
		if c := s.Core(id); c != nil {
			c.SetStatus(StatusStopped)
		}
	}
	for i := range s.views {
		s.views[i] = dbuf.New[*ComponentView](nil)
	}
	for i := 0; i < opts.PhyPorts; i++ {
		id := dataplane.PortID{Type: dataplane.IfacePhy, No: i}
		s.reg.ports[id] = Port{ID: id, Class: UnusedClassID}
		s.dirtyPorts[id] = struct{}{}
	}
	s.flushPorts()
	s.takeBackup()
	return s
}

// ClientID returns the id this process registered with the controller.
func (s *State) ClientID() int { return s.clientID }

// Process returns the process variant.
func (s *State) Process() ProcessType { return s.process }

// ComponentByName looks up a component in the working tables.
func (s *State) ComponentByName(name string) (Component, bool) {
	id, ok := s.reg.componentID(name)
	if !ok {
		return Component{}, false
	}
	return s.reg.comps[id].clone(), true
}

// PortAdded reports whether the port has a record.
func (s *State) PortAdded(id dataplane.PortID) bool {
	_, ok := s.reg.ports[id]
	return ok
}

// Port returns the port record for id.
func (s *State) Port(id dataplane.PortID) (Port, bool) {
	p, ok := s.reg.ports[id]
	return p, ok
}

// PortInUse reports whether any component holds id in direction dir.
func (s *State) PortInUse(id dataplane.PortID, dir Direction) bool {
	return s.reg.portInUse(id, dir)
}

// CoreComponents returns the published components scheduled on lcore.
// Ids whose view has not been published yet are skipped.
func (s *State) CoreComponents(lcore int) []*ComponentView {
	c := s.Core(lcore)
	if c == nil {
		return nil
	}
	ids := c.Components()
	out := make([]*ComponentView, 0, len(ids))
	for _, id := range ids {
		if v := s.views[id].Read(); v != nil {
			out = append(out, v)
		}
	}
	return out
}

func (s *State) portAbility(id dataplane.PortID) *PortAbility {
	pa, ok := s.abilities[id]
	if !ok {
		pa = newPortAbility()
		s.abilities[id] = pa
	}
	return pa
}

// CoreView is one lcore in a published topology.
type CoreView struct {
	ID         int
	Status     CoreStatus
	Components []*ComponentView
}

// Topology is a read-only rendering of the published state.
type Topology struct {
	ClientID int
	Process  ProcessType
	Ports    []Port
	Cores    []CoreView
}

// Published collects the reference side of every table. It is safe to call
// from any goroutine.
func (s *State) Published() Topology {
	t := Topology{
		ClientID: s.clientID,
		Process:  s.process,
		Ports:    s.table.Read(),
	}
	for _, c := range s.cores {
		st := c.Status()
		if st == StatusUnused {
			continue
		}
		t.Cores = append(t.Cores, CoreView{
			ID:         c.ID,
			Status:     st,
			Components: s.CoreComponents(c.ID),
		})
	}
	return t
}

// CoreDump is one core in a Dump.
type CoreDump struct {
	ID         int
	Ref        int
	Components []int
}

// Dump is a comparable copy of the working tables plus published core
// lists.
type Dump struct {
	Ports      []Port
	Components []Component
	Cores      []CoreDump
}

// Dump captures the tables for diffing and history.
func (s *State) Dump() Dump {
	var d Dump
	for _, p := range s.reg.ports {
		d.Ports = append(d.Ports, p)
	}
	slices.SortFunc(d.Ports, func(a, b Port) int { return dataplane.ComparePortID(a.ID, b.ID) })
	for i := range s.reg.comps {
		if s.reg.comps[i].Name != "" {
			d.Components = append(d.Components, s.reg.comps[i].clone())
		}
	}
	for _, c := range s.cores {
		if c.Status() == StatusUnused {
			continue
		}
		d.Cores = append(d.Cores, CoreDump{
			ID:         c.ID,
			Ref:        c.RefIndex(),
			Components: slices.Clone(c.Components()),
		})
	}
	return d
}
