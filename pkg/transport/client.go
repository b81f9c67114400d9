// Package transport is the secondary process's connection to the
// controller: a TCP client that reconnects on failure, reads one command
// message at a time and writes back one response per message.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Defaults for Options.
const (
	DefaultDialTimeout   = 3 * time.Second
	DefaultRetryInterval = time.Second
	DefaultPollInterval  = time.Second
	DefaultMessageGap    = 20 * time.Millisecond
	maxMessageSize       = 1 << 20
)

// Options tunes a Client.
type Options struct {
	DialTimeout   time.Duration
	RetryInterval time.Duration
	// PollInterval bounds how long a read waits before checking ctx.
	PollInterval time.Duration
	// MessageGap ends a message: once data has arrived, a quiet period of
	// this length means the controller finished sending.
	MessageGap time.Duration
}

// Handler processes one command message. done stops the client after the
// response is sent.
type Handler func(msg string) (resp []byte, done bool)

// Stats counts connection activity.
type Stats struct {
	Connects   atomic.Uint64
	Messages   atomic.Uint64
	SendErrors atomic.Uint64
	Connected  atomic.Bool
}

// Client connects to the controller at addr.
type Client struct {
	addr string
	opts Options

	mu   sync.Mutex
	conn net.Conn

	stats Stats
}

// NewClient creates a client for addr ("host:port").
func NewClient(addr string, opts Options) *Client {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = DefaultDialTimeout
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = DefaultRetryInterval
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.MessageGap <= 0 {
		opts.MessageGap = DefaultMessageGap
	}
	return &Client{addr: addr, opts: opts}
}

// Stats returns the live counters.
func (c *Client) Stats() *Stats { return &c.stats }

// Run serves command messages until ctx ends or h reports done.
func (c *Client) Run(ctx context.Context, h Handler) error {
	defer c.disconnect()
	for {
		conn, err := c.connect(ctx)
		if err != nil {
			return nil // ctx done
		}
		msg, err := c.receive(ctx, conn)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Info("controller connection lost", "addr", c.addr, "err", err)
			c.disconnect()
			continue
		}
		c.stats.Messages.Add(1)
		slog.Debug("command message received", "msg", msg)

		resp, done := h(msg)
		if err := c.send(conn, resp); err != nil {
			c.stats.SendErrors.Add(1)
			slog.Warn("failed to send response", "addr", c.addr, "err", err)
			c.disconnect()
		}
		if done {
			return nil
		}
	}
}

// connect returns the current connection, dialing until one is up.
func (c *Client) connect(ctx context.Context) (net.Conn, error) {
	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn != nil {
			return conn, nil
		}

		d := net.Dialer{Timeout: c.opts.DialTimeout}
		conn, err := d.DialContext(ctx, "tcp", c.addr)
		if err == nil {
			slog.Info("connected to controller", "addr", c.addr)
			c.mu.Lock()
			c.conn = conn
			c.mu.Unlock()
			c.stats.Connects.Add(1)
			c.stats.Connected.Store(true)
			return conn, nil
		}
		slog.Debug("controller not reachable", "addr", c.addr, "err", err)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.opts.RetryInterval):
		}
	}
}

// receive reads one message: it waits for the first bytes, then keeps
// reading until the peer goes quiet for MessageGap.
func (c *Client) receive(ctx context.Context, conn net.Conn) (string, error) {
	var msg []byte
	buf := make([]byte, 4096)
	for {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		wait := c.opts.PollInterval
		if len(msg) > 0 {
			wait = c.opts.MessageGap
		}
		conn.SetReadDeadline(time.Now().Add(wait))
		n, err := conn.Read(buf)
		msg = append(msg, buf[:n]...)
		if len(msg) > maxMessageSize {
			return "", fmt.Errorf("message exceeds %d bytes", maxMessageSize)
		}
		if err == nil {
			continue
		}
		if errors.Is(err, os.ErrDeadlineExceeded) {
			if len(msg) > 0 {
				return string(msg), nil
			}
			continue
		}
		return "", err
	}
}

func (c *Client) send(conn net.Conn, resp []byte) error {
	conn.SetWriteDeadline(time.Now().Add(c.opts.DialTimeout))
	_, err := conn.Write(resp)
	return err
}

func (c *Client) disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.stats.Connected.Store(false)
}
