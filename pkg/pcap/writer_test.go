package pcap

import (
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/pierrec/lz4/v4"
)

// readCapture decompresses and decodes one capture file.
func readCapture(t *testing.T, path string) [][]byte {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	r, err := pcapgo.NewReader(lz4.NewReader(f))
	if err != nil {
		t.Fatalf("pcap reader %s: %v", path, err)
	}
	if r.LinkType() != layers.LinkTypeEthernet {
		t.Errorf("%s link type = %v, want ethernet", path, r.LinkType())
	}
	if r.Snaplen() != SnapLen {
		t.Errorf("%s snaplen = %d, want %d", path, r.Snaplen(), SnapLen)
	}
	var out [][]byte
	for {
		data, _, err := r.ReadPacketData()
		if err == io.EOF {
			return out
		}
		if err != nil {
			t.Fatalf("read %s: %v", path, err)
		}
		out = append(out, data)
	}
}

func TestFileName(t *testing.T) {
	got := FileName("20240102030405", "phy0", 1, 2)
	want := "spp_pcap.20240102030405.phy0.1.2.pcap.lz4"
	if got != want {
		t.Errorf("FileName = %q, want %q", got, want)
	}
}

func TestWriteAndClose(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(Options{Dir: dir, Date: "20240102030405", Iface: "ring0", Thread: 1})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	tmp := filepath.Join(dir, w.Name()+".tmp")
	if _, err := os.Stat(tmp); err != nil {
		t.Fatalf("tmp file missing while open: %v", err)
	}

	frames := [][]byte{[]byte("first frame"), []byte("second frame")}
	for _, f := range frames {
		if err := w.WritePacket(time.Unix(1700000000, 0), f); err != nil {
			t.Fatalf("WritePacket: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := os.Stat(tmp); !os.IsNotExist(err) {
		t.Errorf("tmp file still present after close: %v", err)
	}

	done := w.Completed()
	if len(done) != 1 || !strings.HasSuffix(done[0], "spp_pcap.20240102030405.ring0.1.1.pcap.lz4") {
		t.Fatalf("Completed = %v", done)
	}
	got := readCapture(t, done[0])
	if len(got) != 2 || string(got[1]) != "second frame" {
		t.Errorf("frames = %q, want %q", got, frames)
	}
}

func TestTruncatesToSnapLen(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(Options{Dir: dir, Iface: "phy0"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := w.WritePacket(time.Now(), make([]byte, SnapLen+100)); err != nil {
		t.Fatalf("WritePacket: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	got := readCapture(t, w.Completed()[0])
	if len(got) != 1 || len(got[0]) != SnapLen {
		t.Errorf("captured length = %d, want %d", len(got[0]), SnapLen)
	}
}

func TestRotation(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(Options{Dir: dir, Limit: 1, Date: "20240102030405", Iface: "phy0", Thread: 2})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	rng := rand.New(rand.NewSource(1))
	const n = 10
	for i := 0; i < n; i++ {
		buf := make([]byte, SnapLen)
		rng.Read(buf)
		if err := w.WritePacket(time.Now(), buf); err != nil {
			t.Fatalf("WritePacket %d: %v", i, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	done := w.Completed()
	if len(done) < 2 {
		t.Fatalf("Completed = %d files, want rotation", len(done))
	}
	total := 0
	for i, path := range done {
		if want := FileName("20240102030405", "phy0", 2, i+1); filepath.Base(path) != want {
			t.Errorf("file %d = %s, want %s", i, filepath.Base(path), want)
		}
		total += len(readCapture(t, path))
	}
	if total != n {
		t.Errorf("frames across files = %d, want %d", total, n)
	}
	left, _ := filepath.Glob(filepath.Join(dir, "*.tmp"))
	if len(left) != 0 {
		t.Errorf("leftover tmp files: %v", left)
	}
}
