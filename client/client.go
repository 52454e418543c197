// Package client implements the renderer side of the protocol. A Client
// opens an image with a header, streams buckets and closes the image.
package client

import (
	"context"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/aton-render/atonstream/wire"
)

// Port returns the port from ATON_PORT, or the default port
func Port() int {
	if s := os.Getenv(wire.EnvPort); s != "" {
		if port, err := strconv.Atoi(s); err == nil {
			return port
		}
	}
	return wire.DefaultPort
}

// Host returns the host from ATON_HOST, or the default host
func Host() string {
	if s := os.Getenv(wire.EnvHost); s != "" {
		return s
	}
	return wire.DefaultHost
}

// ValidHost reports if host is a literal IP address
func ValidHost(host string) bool {
	return net.ParseIP(host) != nil
}

// UniqueID returns a session id derived from the wall clock
func UniqueID() int64 {
	return time.Now().UnixMilli()
}

// Reconnect selects when the Client opens a new connection
type Reconnect int

const (
	// ReconnectNever keeps one connection from header to close
	ReconnectNever Reconnect = iota
	// ReconnectPerBucket opens a new connection for every bucket
	ReconnectPerBucket
)

var ErrNotConnected = errors.New("not connected")

// Options configure a Client
type Options struct {
	Reconnect   Reconnect
	DialTimeout time.Duration
	Logger      logrus.FieldLogger
}

// New returns a Client for host and port. It does not connect yet.
func New(host string, port int, opt Options) *Client {
	if opt.Logger == nil {
		opt.Logger = logrus.StandardLogger()
	}
	if opt.DialTimeout <= 0 {
		opt.DialTimeout = 5 * time.Second
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	return &Client{
		addr: addr,
		opt:  opt,
		l:    opt.Logger.WithField("server", addr),
	}
}

// NewFromEnv returns a Client for the host and port from the environment
func NewFromEnv(opt Options) *Client {
	return New(Host(), Port(), opt)
}

// Client sends images to a server. It is safe for concurrent use, but
// messages of one image must be sent from one goroutine to keep their order.
type Client struct {
	addr string
	opt  Options
	l    logrus.FieldLogger

	mu   sync.Mutex
	conn net.Conn
	enc  *wire.Encoder
}

// Addr returns the server address
func (c *Client) Addr() string { return c.addr }

// Connected reports if the Client has an open connection
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	d := net.Dialer{Timeout: c.opt.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return nil, errors.Wrapf(err, "connect to %s", c.addr)
	}
	return conn, nil
}

// connectLocked replaces the current connection with a new one
func (c *Client) connectLocked(ctx context.Context) error {
	c.disconnectLocked()
	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	c.conn = conn
	c.enc = wire.NewEncoder(conn)
	return nil
}

func (c *Client) disconnectLocked() {
	if c.conn == nil {
		return
	}
	if err := c.conn.Close(); err != nil {
		c.l.WithError(err).Debug("Close failed")
	}
	c.conn = nil
	c.enc = nil
}

// writeLocked runs fn with the encoder and drops the connection on failure
func (c *Client) writeLocked(fn func(enc *wire.Encoder) error) error {
	if c.enc == nil {
		return ErrNotConnected
	}
	if err := fn(c.enc); err != nil {
		c.disconnectLocked()
		return err
	}
	return nil
}

// SendHeader connects and opens or updates an image. A zero session is
// replaced by the server.
func (c *Client) SendHeader(ctx context.Context, h *wire.Header) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.connectLocked(ctx); err != nil {
		return err
	}
	return c.writeLocked(func(enc *wire.Encoder) error {
		return enc.WriteHeader(h)
	})
}

// SendPixels sends one bucket. Depending on the Reconnect option, a new
// connection is opened first.
func (c *Client) SendPixels(ctx context.Context, p *wire.Pixels) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.opt.Reconnect == ReconnectPerBucket || c.conn == nil {
		if err := c.connectLocked(ctx); err != nil {
			return err
		}
	}
	return c.writeLocked(func(enc *wire.Encoder) error {
		return enc.WritePixels(p)
	})
}

// CloseImage tells the server the image is complete and disconnects
func (c *Client) CloseImage() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	err := c.writeLocked(func(enc *wire.Encoder) error {
		return enc.WriteClose()
	})
	c.disconnectLocked()
	return err
}

// Quit asks the server to stop listening. It uses its own connection.
func (c *Client) Quit(ctx context.Context) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()
	return wire.NewEncoder(conn).WriteQuit()
}

// Close drops the connection without closing the image
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectLocked()
	return nil
}
