package capture

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket/pcapgo"
	"github.com/pierrec/lz4/v4"

	"github.com/psaab/spp/pkg/dataplane"
	"github.com/psaab/spp/pkg/mgmt"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func countFrames(t *testing.T, path string) int {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	r, err := pcapgo.NewReader(lz4.NewReader(f))
	if err != nil {
		t.Fatalf("%s: %v", path, err)
	}
	n := 0
	for {
		if _, _, err := r.ReadPacketData(); err == io.EOF {
			return n
		} else if err != nil {
			t.Fatalf("%s: %v", path, err)
		}
		n++
	}
}

func TestNewValidates(t *testing.T) {
	st := mgmt.NewState(mgmt.Options{Process: mgmt.ProcPcap, Lcores: []int{1}})
	if _, err := New(st, Options{Lcores: []int{1}, Handle: &dataplane.Handle{}}); err == nil {
		t.Error("New with one lcore should fail")
	}
	if _, err := New(st, Options{Lcores: []int{1, 2}}); err == nil {
		t.Error("New without a port handle should fail")
	}
}

func TestCaptureLifecycle(t *testing.T) {
	dir := t.TempDir()
	rings := dataplane.NewRingBackend(64)
	mgr := dataplane.NewManager(rings)
	port := dataplane.PortID{Type: dataplane.IfaceRing, No: 5}
	h, err := mgr.Open(port)
	if err != nil {
		t.Fatal(err)
	}
	st := mgmt.NewState(mgmt.Options{ClientID: 7, Process: mgmt.ProcPcap, Lcores: []int{1, 2, 3}})
	e, err := New(st, Options{ClientID: 7, Port: port, Handle: h, Lcores: []int{1, 2, 3}, Dir: dir})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	if err := st.WaitStatus(ctx, mgmt.StatusIdling, 100, 10*time.Millisecond); err != nil {
		t.Fatalf("threads not idle: %v", err)
	}
	if got := e.Info().Status; got != "idle" {
		t.Errorf("status = %q, want idle", got)
	}

	e.Start()
	waitFor(t, "running", func() bool { return e.Status() == Running })

	const n = 20
	for i := 0; i < n; i++ {
		pkts := []*dataplane.Packet{{Data: []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 8, 0, byte(i)}}}
		for rings.Ring(port).TxBurst(pkts) == 0 {
			time.Sleep(time.Millisecond)
		}
	}
	waitFor(t, "frames captured", func() bool { return e.Captured.Load() == n })

	info := e.Info()
	if info.ClientID != 7 || info.Status != "running" || len(info.Core) != 3 {
		t.Fatalf("Info = %+v", info)
	}
	if info.Core[0].Role != RoleReceive || info.Core[0].RxPort[0].Port != "ring:5" {
		t.Errorf("receiver entry = %+v", info.Core[0])
	}

	e.Stop()
	waitFor(t, "files closed", func() bool {
		tmp, _ := filepath.Glob(filepath.Join(dir, "*.tmp"))
		return e.Status() == Idle && len(tmp) == 0
	})

	files, _ := filepath.Glob(filepath.Join(dir, "spp_pcap.*.ring5.*.pcap.lz4"))
	total := 0
	for _, f := range files {
		total += countFrames(t, f)
	}
	if total != n {
		t.Errorf("frames in %d files = %d, want %d", len(files), total, n)
	}

	st.SetAllStatus(mgmt.StatusStopRequested)
	if err := st.WaitStatus(ctx, mgmt.StatusStopped, 100, 10*time.Millisecond); err != nil {
		t.Fatalf("threads did not stop: %v", err)
	}
	if err := <-done; err != nil {
		t.Errorf("Run: %v", err)
	}
}
