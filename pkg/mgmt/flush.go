package mgmt

import (
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/psaab/spp/pkg/dataplane"
	"github.com/psaab/spp/pkg/dbuf"
)

// backup is the last committed state: working tables plus both halves and
// indices of every double buffer.
type backup struct {
	reg       registry
	cores     []dbuf.Snapshot[[]int]
	views     []dbuf.Snapshot[*ComponentView]
	abilities map[dataplane.PortID][2]dbuf.Snapshot[[]Ability]
	table     dbuf.Snapshot[[]Port]
}

// Commit applies a transaction and flushes it to the workers. If the flush
// fails the whole state is restored from the backup and the error is
// returned; on success the backup is refreshed.
func (s *State) Commit(t *Txn) error {
	if t.st != s {
		return fmt.Errorf("transaction belongs to another state")
	}
	s.reg = t.reg
	for id := range t.cores {
		s.dirtyCores[id] = struct{}{}
	}
	for id := range t.comps {
		s.dirtyComps[id] = struct{}{}
	}
	for id := range t.ports {
		s.dirtyPorts[id] = struct{}{}
	}
	return s.FlushAll()
}

// FlushAll publishes every dirty port, core and component. Component views
// are built first, opening their port handles; if any build fails nothing
// is published and the working tables go back to the backup.
func (s *State) FlushAll() error {
	views, err := s.buildViews()
	if err != nil {
		slog.Warn("flush failed, restoring backup", "err", err)
		s.restore()
		s.Rollbacks.Add(1)
		return err
	}
	s.flushPorts()
	s.flushCores()
	for id, v := range views {
		s.views[id].Stage(v)
		s.views[id].Commit()
	}
	clear(s.dirtyComps)
	s.takeBackup()
	s.Flushes.Add(1)
	return nil
}

func (s *State) flushPorts() {
	if len(s.dirtyPorts) == 0 {
		return
	}
	for id := range s.dirtyPorts {
		p, ok := s.reg.ports[id]
		if !ok {
			continue
		}
		pa := s.portAbility(id)
		for _, dir := range []Direction{DirRx, DirTx} {
			b := pa.buf(dir)
			b.Stage(p.AbilitiesFor(dir))
			b.Commit()
		}
	}
	ports := slices.Collect(maps.Values(s.reg.ports))
	slices.SortFunc(ports, func(a, b Port) int { return dataplane.ComparePortID(a.ID, b.ID) })
	s.table.Stage(ports)
	s.table.Commit()
	clear(s.dirtyPorts)
}

func (s *State) flushCores() {
	for id := range s.dirtyCores {
		c := s.cores[id]
		c.comps.Stage(slices.Clone(s.reg.coreComps[id]))
		c.comps.Commit()
	}
	clear(s.dirtyCores)
}

// buildViews renders the view of every dirty component without
// publishing any of them. A stopped component maps to nil.
func (s *State) buildViews() (map[int]*ComponentView, error) {
	views := make(map[int]*ComponentView, len(s.dirtyComps))
	for _, id := range slices.Sorted(maps.Keys(s.dirtyComps)) {
		c := &s.reg.comps[id]
		if c.Name == "" {
			views[id] = nil
			continue
		}
		v, err := s.buildView(c)
		if err != nil {
			return nil, fmt.Errorf("component %q: %w", c.Name, err)
		}
		views[id] = v
	}
	return views, nil
}

func (s *State) buildView(c *Component) (*ComponentView, error) {
	v := &ComponentView{ID: c.ID, Name: c.Name, Type: c.Type, Core: c.Core}
	for _, dir := range []Direction{DirRx, DirTx} {
		for _, id := range *c.ports(dir) {
			pv := &PortView{
				ID:        id,
				Class:     s.reg.ports[id].Class,
				Abilities: s.portAbility(id),
			}
			if s.opener != nil {
				h, err := s.opener.Open(id)
				if err != nil {
					return nil, err
				}
				pv.Handle = h
			}
			if dir == DirRx {
				v.Rx = append(v.Rx, pv)
			} else {
				v.Tx = append(v.Tx, pv)
			}
		}
	}
	return v, nil
}

func (s *State) takeBackup() {
	b := &backup{
		reg:       s.reg.clone(),
		cores:     make([]dbuf.Snapshot[[]int], len(s.cores)),
		views:     make([]dbuf.Snapshot[*ComponentView], len(s.views)),
		abilities: make(map[dataplane.PortID][2]dbuf.Snapshot[[]Ability], len(s.abilities)),
		table:     s.table.Snapshot(),
	}
	for i, c := range s.cores {
		b.cores[i] = c.comps.Snapshot()
	}
	for i, v := range s.views {
		b.views[i] = v.Snapshot()
	}
	for id, pa := range s.abilities {
		b.abilities[id] = [2]dbuf.Snapshot[[]Ability]{pa.rx.Snapshot(), pa.tx.Snapshot()}
	}
	s.backup = b
}

// restore rolls every table and buffer back to the last backup.
func (s *State) restore() {
	b := s.backup
	s.reg = b.reg.clone()
	for i, c := range s.cores {
		c.comps.Restore(b.cores[i])
	}
	for i, v := range s.views {
		v.Restore(b.views[i])
	}
	for id, pa := range s.abilities {
		snap, ok := b.abilities[id]
		if !ok {
			// Port first seen after the backup: back to empty.
			snap = [2]dbuf.Snapshot[[]Ability]{{Ref: 0, Upd: 1}, {Ref: 0, Upd: 1}}
		}
		pa.rx.Restore(snap[0])
		pa.tx.Restore(snap[1])
	}
	s.table.Restore(b.table)
	clear(s.dirtyCores)
	clear(s.dirtyComps)
	clear(s.dirtyPorts)
}
