package transport

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"
)

func testOptions() Options {
	return Options{
		RetryInterval: 10 * time.Millisecond,
		PollInterval:  20 * time.Millisecond,
		MessageGap:    10 * time.Millisecond,
	}
}

// exchange writes msg on conn and reads the reply.
func exchange(t *testing.T, conn net.Conn, msg string) string {
	t.Helper()
	if _, err := conn.Write([]byte(msg)); err != nil {
		t.Fatalf("write: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	buf := make([]byte, 4096)
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return string(buf[:n])
}

func TestRequestResponse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	c := NewClient(ln.Addr().String(), testOptions())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- c.Run(ctx, func(msg string) ([]byte, bool) {
			return []byte("echo:" + msg), msg == "exit"
		})
	}()

	conn, err := ln.Accept()
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	if got := exchange(t, conn, "status"); got != "echo:status" {
		t.Errorf("reply = %q, want echo:status", got)
	}
	if got := exchange(t, conn, "exit"); got != "echo:exit" {
		t.Errorf("reply = %q, want echo:exit", got)
	}
	if err := <-done; err != nil {
		t.Errorf("Run: %v", err)
	}
	if c.Stats().Messages.Load() != 2 {
		t.Errorf("Messages = %d, want 2", c.Stats().Messages.Load())
	}
}

func TestReconnect(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	c := NewClient(ln.Addr().String(), testOptions())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	go c.Run(ctx, func(msg string) ([]byte, bool) {
		return []byte(strings.ToUpper(msg)), false
	})

	first, err := ln.Accept()
	if err != nil {
		t.Fatal(err)
	}
	first.Close()

	second, err := ln.Accept()
	if err != nil {
		t.Fatal(err)
	}
	defer second.Close()
	if got := exchange(t, second, "status"); got != "STATUS" {
		t.Errorf("reply after reconnect = %q, want STATUS", got)
	}
	if c.Stats().Connects.Load() < 2 {
		t.Errorf("Connects = %d, want at least 2", c.Stats().Connects.Load())
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	c := NewClient("127.0.0.1:1", testOptions())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, func(string) ([]byte, bool) { return nil, false }) }()
	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
