package worker

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/psaab/spp/pkg/dataplane"
	"github.com/psaab/spp/pkg/mgmt"
)

var (
	ring0 = dataplane.PortID{Type: dataplane.IfaceRing, No: 0}
	ring1 = dataplane.PortID{Type: dataplane.IfaceRing, No: 1}
	ring2 = dataplane.PortID{Type: dataplane.IfaceRing, No: 2}
	ring3 = dataplane.PortID{Type: dataplane.IfaceRing, No: 3}
)

type testEnv struct {
	st    *mgmt.State
	rings *dataplane.RingBackend
}

func newEnv(t *testing.T, proc mgmt.ProcessType) *testEnv {
	t.Helper()
	rings := dataplane.NewRingBackend(64)
	st := mgmt.NewState(mgmt.Options{
		ClientID: 1,
		Process:  proc,
		Lcores:   []int{1, 2},
		Opener:   dataplane.NewManager(rings),
	})
	st.SetAllStatus(mgmt.StatusForwarding)
	return &testEnv{st: st, rings: rings}
}

func (e *testEnv) commit(t *testing.T, fn func(tx *mgmt.Txn) error) {
	t.Helper()
	tx := e.st.Begin()
	if err := fn(tx); err != nil {
		t.Fatalf("txn: %v", err)
	}
	if err := e.st.Commit(tx); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}

func (e *testEnv) inject(t *testing.T, id dataplane.PortID, frames ...[]byte) {
	t.Helper()
	pkts := make([]*dataplane.Packet, len(frames))
	for i, f := range frames {
		pkts[i] = &dataplane.Packet{Data: f}
	}
	if n := e.rings.Ring(id).TxBurst(pkts); n != len(pkts) {
		t.Fatalf("inject %s: %d of %d", id, n, len(pkts))
	}
}

func (e *testEnv) drain(id dataplane.PortID) [][]byte {
	buf := make([]*dataplane.Packet, 64)
	n := e.rings.Ring(id).RxBurst(buf)
	out := make([][]byte, n)
	for i := range out {
		out[i] = buf[i].Data
	}
	return out
}

func frame(dst []byte, payload string) []byte {
	f := append([]byte{}, dst...)
	f = append(f, 0x02, 0, 0, 0, 0, 0x99) // src
	f = append(f, 0x08, 0x00)
	return append(f, payload...)
}

func attach(tx *mgmt.Txn, name string, rx, txs []dataplane.PortID) error {
	for _, id := range rx {
		if err := tx.AttachPort(id, mgmt.DirRx, name, mgmt.Ability{}); err != nil {
			return err
		}
	}
	for _, id := range txs {
		if err := tx.AttachPort(id, mgmt.DirTx, name, mgmt.Ability{}); err != nil {
			return err
		}
	}
	return nil
}

var macA = []byte{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}

func TestForward(t *testing.T) {
	e := newEnv(t, mgmt.ProcVF)
	e.commit(t, func(tx *mgmt.Txn) error {
		if _, err := tx.StartComponent("fwd", 1, mgmt.CompForward); err != nil {
			return err
		}
		return attach(tx, "fwd", []dataplane.PortID{ring0}, []dataplane.PortID{ring1})
	})
	e.inject(t, ring0, frame(macA, "a"), frame(macA, "b"))

	w := New(e.st, 1, Options{})
	if n := w.Poll(); n != 2 {
		t.Fatalf("Poll = %d, want 2", n)
	}
	got := e.drain(ring1)
	if len(got) != 2 || !bytes.HasSuffix(got[1], []byte("b")) {
		t.Errorf("ring:1 = %q, want two frames", got)
	}
	if w.Stats.Forwarded.Load() != 2 {
		t.Errorf("Forwarded = %d, want 2", w.Stats.Forwarded.Load())
	}
}

func TestMerge(t *testing.T) {
	e := newEnv(t, mgmt.ProcVF)
	e.commit(t, func(tx *mgmt.Txn) error {
		if _, err := tx.StartComponent("mrg", 1, mgmt.CompMerge); err != nil {
			return err
		}
		return attach(tx, "mrg", []dataplane.PortID{ring0, ring1}, []dataplane.PortID{ring2})
	})
	e.inject(t, ring0, frame(macA, "a"))
	e.inject(t, ring1, frame(macA, "b"))

	New(e.st, 1, Options{}).Poll()
	if got := e.drain(ring2); len(got) != 2 {
		t.Errorf("ring:2 frames = %d, want 2", len(got))
	}
}

func TestMirrorCopies(t *testing.T) {
	e := newEnv(t, mgmt.ProcMirror)
	e.commit(t, func(tx *mgmt.Txn) error {
		if _, err := tx.StartComponent("mir", 2, mgmt.CompMirror); err != nil {
			return err
		}
		return attach(tx, "mir", []dataplane.PortID{ring0}, []dataplane.PortID{ring1, ring2})
	})
	e.inject(t, ring0, frame(macA, "x"))

	New(e.st, 2, Options{}).Poll()
	a, b := e.drain(ring1), e.drain(ring2)
	if len(a) != 1 || len(b) != 1 {
		t.Fatalf("mirror outputs = %d/%d, want 1/1", len(a), len(b))
	}
	if !bytes.Equal(a[0], b[0]) {
		t.Errorf("mirror copy differs: %x vs %x", a[0], b[0])
	}
	a[0][0] = 0xff
	if b[0][0] == 0xff {
		t.Error("mirror copy shares its buffer with the original")
	}
}

func TestClassifier(t *testing.T) {
	e := newEnv(t, mgmt.ProcVF)
	macB := []byte{0x00, 0x11, 0x22, 0x33, 0x44, 0x66}
	bcast := []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
	unknown := []byte{0x00, 0xaa, 0xaa, 0xaa, 0xaa, 0xaa}

	e.commit(t, func(tx *mgmt.Txn) error {
		if _, err := tx.StartComponent("cls", 1, mgmt.CompClassifierMAC); err != nil {
			return err
		}
		if err := attach(tx, "cls", []dataplane.PortID{ring0}, []dataplane.PortID{ring1, ring2, ring3}); err != nil {
			return err
		}
		a, _ := mgmt.ParseMAC("00:11:22:33:44:55")
		b, _ := mgmt.ParseMAC("00:11:22:33:44:66")
		def, _ := mgmt.ParseMAC(mgmt.DefaultClassMAC)
		if err := tx.AddClass(ring1, mgmt.ClassID{MAC: a, VID: mgmt.MaxVID}); err != nil {
			return err
		}
		if err := tx.AddClass(ring2, mgmt.ClassID{MAC: b, VID: mgmt.MaxVID}); err != nil {
			return err
		}
		return tx.AddClass(ring3, mgmt.ClassID{MAC: def, VID: mgmt.MaxVID})
	})
	e.inject(t, ring0,
		frame(macA, "to-a"),
		frame(macB, "to-b"),
		frame(unknown, "to-default"),
		frame(bcast, "flood"),
	)

	w := New(e.st, 1, Options{})
	w.Poll()

	check := func(id dataplane.PortID, want ...string) {
		t.Helper()
		got := e.drain(id)
		if len(got) != len(want) {
			t.Errorf("%s frames = %d, want %d", id, len(got), len(want))
			return
		}
		for i, f := range got {
			if !bytes.HasSuffix(f, []byte(want[i])) {
				t.Errorf("%s frame %d = %q, want suffix %q", id, i, f, want[i])
			}
		}
	}
	check(ring1, "to-a", "flood")
	check(ring2, "to-b", "flood")
	check(ring3, "to-default", "flood")
}

func TestVlanAbilities(t *testing.T) {
	e := newEnv(t, mgmt.ProcVF)
	e.commit(t, func(tx *mgmt.Txn) error {
		if _, err := tx.StartComponent("fwd", 1, mgmt.CompForward); err != nil {
			return err
		}
		if err := tx.AttachPort(ring0, mgmt.DirRx, "fwd", mgmt.Ability{}); err != nil {
			return err
		}
		return tx.AttachPort(ring1, mgmt.DirTx, "fwd",
			mgmt.Ability{Op: mgmt.OpAddVlanTag, Dir: mgmt.DirTx, VID: 100, PCP: 3})
	})
	untagged := frame(macA, "p")
	e.inject(t, ring0, untagged)
	New(e.st, 1, Options{}).Poll()

	got := e.drain(ring1)
	if len(got) != 1 {
		t.Fatalf("ring:1 frames = %d, want 1", len(got))
	}
	f := got[0]
	if len(f) != len(untagged)+4 {
		t.Fatalf("tagged length = %d, want %d", len(f), len(untagged)+4)
	}
	if f[12] != 0x81 || f[13] != 0x00 {
		t.Errorf("tpid = %x%x, want 8100", f[12], f[13])
	}
	if tci := uint16(f[14])<<8 | uint16(f[15]); tci != 3<<13|100 {
		t.Errorf("tci = %#x, want %#x", tci, 3<<13|100)
	}
	if f[16] != 0x08 || f[17] != 0x00 {
		t.Errorf("inner ethertype = %x%x, want 0800", f[16], f[17])
	}

	p := &dataplane.Packet{Data: f}
	delVlanTag(p)
	if !bytes.Equal(p.Data, untagged) {
		t.Errorf("delVlanTag = %x, want %x", p.Data, untagged)
	}
}

func TestRunLifecycle(t *testing.T) {
	e := newEnv(t, mgmt.ProcMirror)
	e.st.SetAllStatus(mgmt.StatusStopped)
	pool := NewPool(e.st, []int{1, 2}, Options{IdleSleep: time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()

	if err := e.st.WaitStatus(ctx, mgmt.StatusIdling, 50, 20*time.Millisecond); err != nil {
		t.Fatalf("workers did not go idle: %v", err)
	}
	e.st.SetAllStatus(mgmt.StatusForwarding)
	e.st.SetAllStatus(mgmt.StatusStopRequested)
	if err := e.st.WaitStatus(ctx, mgmt.StatusStopped, 50, 20*time.Millisecond); err != nil {
		t.Fatalf("workers did not stop: %v", err)
	}
	if err := <-done; err != nil {
		t.Errorf("Run: %v", err)
	}
}
