package mgmt

import (
	"slices"

	"github.com/pkg/errors"

	"github.com/psaab/spp/pkg/dataplane"
)

// Txn stages registry mutations on a scratch copy of the tables. Nothing is
// visible to State or to workers until State.Commit; dropping a Txn
// discards it.
type Txn struct {
	st    *State
	reg   registry
	cores map[int]struct{}
	comps map[int]struct{}
	ports map[dataplane.PortID]struct{}
}

// Begin opens a transaction against the current tables.
func (s *State) Begin() *Txn {
	return &Txn{
		st:    s,
		reg:   s.reg.clone(),
		cores: make(map[int]struct{}),
		comps: make(map[int]struct{}),
		ports: make(map[dataplane.PortID]struct{}),
	}
}

// Dirty reports whether the transaction changed anything.
func (t *Txn) Dirty() bool {
	return len(t.cores)+len(t.comps)+len(t.ports) > 0
}

// StartComponent creates a component on core and returns its id. The
// lowest free id wins.
func (t *Txn) StartComponent(name string, core int, typ ComponentType) (int, error) {
	c := t.st.Core(core)
	if c == nil || c.Status() == StatusUnused {
		return 0, errors.Wrapf(ErrCoreUnavailable, "core %d", core)
	}
	if _, ok := t.reg.componentID(name); ok {
		return 0, errors.Wrapf(ErrNameInUse, "component %q", name)
	}
	id := -1
	for i := range t.reg.comps {
		if t.reg.comps[i].Name == "" {
			id = i
			break
		}
	}
	if id < 0 {
		return 0, errors.Wrapf(ErrCapacity, "component %q", name)
	}

	t.reg.comps[id] = Component{ID: id, Name: name, Type: typ, Core: core}
	t.reg.coreComps[core] = append(t.reg.coreComps[core], id)
	t.comps[id] = struct{}{}
	t.cores[core] = struct{}{}
	return id, nil
}

// StopComponent removes a component and releases its id and name. An
// unknown name is not an error.
func (t *Txn) StopComponent(name string) error {
	id, ok := t.reg.componentID(name)
	if !ok {
		return nil
	}
	core := t.reg.comps[id].Core
	t.reg.comps[id] = Component{}
	if i := slices.Index(t.reg.coreComps[core], id); i >= 0 {
		t.reg.coreComps[core] = slices.Delete(t.reg.coreComps[core], i, i+1)
	}
	t.comps[id] = struct{}{}
	t.cores[core] = struct{}{}
	return nil
}

// AttachPort adds port id to a component in direction dir, creating the
// port record for ring and vhost ports on first use. Re-attaching a port the
// component already holds succeeds without change, except that an
// add_vlantag ability overwrites the existing add_vlantag slot.
func (t *Txn) AttachPort(id dataplane.PortID, dir Direction, name string, ab Ability) error {
	cid, ok := t.reg.componentID(name)
	if !ok {
		return errors.Wrapf(ErrNotFound, "component %q", name)
	}
	comp := &t.reg.comps[cid]
	list := comp.ports(dir)

	port, exists := t.reg.ports[id]
	if !exists {
		if id.Type == dataplane.IfacePhy {
			return errors.Wrapf(ErrPortNotFound, "port %s", id)
		}
		port = Port{ID: id, Class: UnusedClassID}
	}

	if slices.Contains(*list, id) {
		if ab.Op != OpAddVlanTag {
			return nil
		}
		slot := abilitySlot(&port, func(a Ability) bool { return a.Op == OpAddVlanTag && a.Dir == ab.Dir })
		if slot < 0 {
			slot = abilitySlot(&port, func(a Ability) bool { return a.Op == OpNone })
		}
		if slot < 0 {
			return errors.Wrapf(ErrNoAbilitySlot, "port %s", id)
		}
		port.Abilities[slot] = ab
		t.putPort(port)
		t.comps[cid] = struct{}{}
		return nil
	}

	pol := comp.Type.Policy()
	nrx, ntx := len(comp.Rx), len(comp.Tx)
	if dir == DirRx {
		nrx++
	} else {
		ntx++
	}
	if nrx > pol.MaxRx || ntx > pol.MaxTx {
		return errors.Wrapf(ErrPolicy, "%s %q: rx=%d tx=%d", comp.Type, name, nrx, ntx)
	}
	if len(*list) >= MaxEthPorts {
		return errors.Wrapf(ErrCapacity, "component %q ports", name)
	}

	if ab.Op != OpNone {
		slot := abilitySlot(&port, func(a Ability) bool { return a.Op == OpNone })
		if slot < 0 {
			return errors.Wrapf(ErrNoAbilitySlot, "port %s", id)
		}
		port.Abilities[slot] = ab
	}

	t.putPort(port)
	*list = append(*list, id)
	t.comps[cid] = struct{}{}
	return nil
}

// DetachPort removes port id from a component's dir list and clears the
// port's abilities for that direction.
func (t *Txn) DetachPort(id dataplane.PortID, dir Direction, name string) error {
	cid, ok := t.reg.componentID(name)
	if !ok {
		return errors.Wrapf(ErrNotFound, "component %q", name)
	}
	list := t.reg.comps[cid].ports(dir)
	i := slices.Index(*list, id)
	if i < 0 {
		return errors.Wrapf(ErrNotAttached, "port %s %s on %q", id, dir, name)
	}
	*list = slices.Delete(*list, i, i+1)

	if port, ok := t.reg.ports[id]; ok {
		for j, a := range port.Abilities {
			if a.Op != OpNone && a.Dir == dir {
				port.Abilities[j] = Ability{}
			}
		}
		t.putPort(port)
	}
	t.comps[cid] = struct{}{}
	return nil
}

// AddClass binds a classifier key to an added port whose key is unused.
func (t *Txn) AddClass(id dataplane.PortID, cls ClassID) error {
	port, ok := t.reg.ports[id]
	if !ok {
		return errors.Wrapf(ErrPortNotFound, "port %s", id)
	}
	if port.Class.Used() {
		return errors.Wrapf(ErrClassInUse, "port %s", id)
	}
	port.Class = cls
	t.putPort(port)
	t.touchTxUsers(id)
	return nil
}

// DelClass removes the classifier key from a port. The key must match.
func (t *Txn) DelClass(id dataplane.PortID, cls ClassID) error {
	port, ok := t.reg.ports[id]
	if !ok {
		return errors.Wrapf(ErrPortNotFound, "port %s", id)
	}
	if port.Class != cls {
		return errors.Wrapf(ErrClassMismatch, "port %s", id)
	}
	port.Class = UnusedClassID
	t.putPort(port)
	t.touchTxUsers(id)
	return nil
}

func abilitySlot(p *Port, match func(Ability) bool) int {
	for i, a := range p.Abilities {
		if match(a) {
			return i
		}
	}
	return -1
}

func (t *Txn) putPort(p Port) {
	t.reg.ports[p.ID] = p
	t.ports[p.ID] = struct{}{}
}

// touchTxUsers marks every component transmitting on id so its view picks
// up the new class id.
func (t *Txn) touchTxUsers(id dataplane.PortID) {
	for i := range t.reg.comps {
		c := &t.reg.comps[i]
		if c.Name != "" && slices.Contains(c.Tx, id) {
			t.comps[i] = struct{}{}
		}
	}
}
