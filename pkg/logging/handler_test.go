package logging

import (
	"bytes"
	"log/slog"
	"net"
	"strings"
	"testing"
	"time"
)

func listenUDP(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readDatagram(t *testing.T, conn *net.UDPConn) string {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 2048)
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("read syslog datagram: %v", err)
	}
	return string(buf[:n])
}

func TestSeverity(t *testing.T) {
	tests := []struct {
		level slog.Level
		want  int
	}{
		{slog.LevelError, SeverityError},
		{slog.LevelWarn, SeverityWarning},
		{slog.LevelInfo, SeverityInfo},
		{slog.LevelDebug, SeverityDebug},
	}
	for _, tt := range tests {
		if got := severity(tt.level); got != tt.want {
			t.Errorf("severity(%v) = %d, want %d", tt.level, got, tt.want)
		}
	}
}

func TestFormat(t *testing.T) {
	c := &SyslogClient{hostname: "host1", tag: "spp_vf[42]"}
	ts := time.Date(2024, time.March, 5, 6, 7, 8, 0, time.UTC)
	got := c.format(ts, SeverityWarning, "hello")
	want := "<132>Mar  5 06:07:08 host1 spp_vf[42]: hello"
	if got != want {
		t.Errorf("format = %q, want %q", got, want)
	}
}

func TestAccepts(t *testing.T) {
	c := &SyslogClient{MaxSeverity: SeverityWarning}
	if !c.Accepts(SeverityError) || c.Accepts(SeverityInfo) {
		t.Error("MaxSeverity=warning should pass error and drop info")
	}
	c.MaxSeverity = 0
	if !c.Accepts(SeverityDebug) {
		t.Error("MaxSeverity=0 should pass everything")
	}
}

func TestHandlerForwards(t *testing.T) {
	srv := listenUDP(t)
	var out bytes.Buffer
	h := NewHandler(slog.NewTextHandler(&out, nil))
	defer h.Close()
	c, err := DialSyslog(srv.LocalAddr().String(), "spp_mirror")
	if err != nil {
		t.Fatal(err)
	}
	h.Attach(c)

	logger := slog.New(h).With("client", 1).WithGroup("cmd")
	logger.Warn("Bad value", "name", "core")

	got := readDatagram(t, srv)
	if !strings.HasPrefix(got, "<132>") {
		t.Errorf("priority prefix in %q, want <132>", got)
	}
	if !strings.HasSuffix(got, "Bad value client=1 cmd.name=core") {
		t.Errorf("datagram = %q", got)
	}
	if !strings.Contains(out.String(), "Bad value") {
		t.Errorf("base handler output = %q", out.String())
	}
}

func TestSetupDebugLevel(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	var out bytes.Buffer
	h, err := Setup(&out, Options{Debug: true, Tag: "spp_pcap"})
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()
	slog.Debug("debug line")
	if !strings.Contains(out.String(), "debug line") {
		t.Errorf("debug record missing from %q", out.String())
	}
}
