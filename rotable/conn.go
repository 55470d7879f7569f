package rotable

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/go-rotlib/logger"
	"github.com/arloliu/go-rotlib/serialport"
)

// Connection is an established session with one rotation table.
//
// A Connection owns its transport exclusively. Its methods are safe to call
// from multiple goroutines but are executed one at a time, since the
// protocol is strictly half-duplex. Close may be called at any time and
// aborts an operation that is waiting for the device.
type Connection struct {
	cfg    *Config
	logger logger.Logger
	lt     *lineTransport

	// mu serializes request/response exchanges.
	mu     sync.Mutex
	closed atomic.Bool

	metrics ConnectionMetrics
}

// Open establishes a connection over an already opened transport.
//
// It sends "test" and waits, bounded by the config's connect timeout, for a
// line containing "OK". Lines without it are skipped. If the device does not
// acknowledge in time Open closes the transport and returns an error wrapping
// ErrConnectTimeout. Any other failure closes the transport as well.
//
// A nil cfg uses the defaults.
func Open(ctx context.Context, t Transport, cfg *Config) (*Connection, error) {
	if t == nil {
		return nil, errors.New("rotable: nil transport")
	}
	if cfg == nil {
		cfg = defaultConfig()
	}

	conn := &Connection{
		cfg:    cfg,
		logger: cfg.GetLogger(),
	}
	conn.lt = newLineTransport(t, cfg, &conn.metrics)

	if err := conn.handshake(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	conn.logger.Debug("connection established")

	return conn, nil
}

// Dial opens the named serial port at the configured baud rate and
// establishes a connection over it.
func Dial(ctx context.Context, portName string, cfg *Config) (*Connection, error) {
	if cfg == nil {
		cfg = defaultConfig()
	}

	port, err := serialport.Open(portName, cfg.BaudRate())
	if err != nil {
		return nil, fmt.Errorf("rotable: open %s: %w", portName, err)
	}

	conn, err := Open(ctx, port, cfg)
	if err != nil {
		return nil, err
	}
	conn.logger = conn.logger.With("port", portName)

	return conn, nil
}

func (c *Connection) handshake(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	deadline := time.Now().Add(c.cfg.ConnectTimeout())
	if err := c.lt.writeLine("test"); err != nil {
		return err
	}

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return fmt.Errorf("%w after %v", ErrConnectTimeout, c.cfg.ConnectTimeout())
		}

		line, err := c.lt.readLine(ctx, remaining)
		if errors.Is(err, ErrTimeout) {
			return fmt.Errorf("%w after %v", ErrConnectTimeout, c.cfg.ConnectTimeout())
		}
		if err != nil {
			return err
		}

		if c.isAck(line) {
			return nil
		}
		c.logger.Debug("skip line during handshake", "line", line)
	}
}

// Close closes the connection and its transport.
//
// Close is idempotent and always returns nil; a failure to close the
// transport is logged at warn level.
func (c *Connection) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	if err := c.lt.close(); err != nil {
		c.logger.Warn("failed to close transport", "error", err)
	}
	c.logger.Debug("connection closed")

	return nil
}

// IsClosed reports whether Close has been called.
func (c *Connection) IsClosed() bool {
	return c.closed.Load()
}

// GetMetrics returns the connection's counters.
func (c *Connection) GetMetrics() *ConnectionMetrics {
	return &c.metrics
}

// Config returns the configuration the connection was opened with.
func (c *Connection) Config() *Config {
	return c.cfg
}

// WithConnection dials portName, runs fn with the connection and closes the
// connection afterwards.
//
// An error returned by fn, or a panic inside it, is logged at error level with
// a stack trace and then suppressed: WithConnection returns nil once the
// connection has been established. Only a failure to establish the
// connection is returned.
func WithConnection(ctx context.Context, portName string, cfg *Config, fn func(*Connection) error) error {
	conn, err := Dial(ctx, portName, cfg)
	if err != nil {
		return err
	}
	conn.runScoped(fn)

	return nil
}

// WithTransport is WithConnection over an already opened transport.
func WithTransport(ctx context.Context, t Transport, cfg *Config, fn func(*Connection) error) error {
	conn, err := Open(ctx, t, cfg)
	if err != nil {
		return err
	}
	conn.runScoped(fn)

	return nil
}

func (c *Connection) runScoped(fn func(*Connection) error) {
	defer func() { _ = c.Close() }()
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("panic in connection scope", "panic", r, "stack", string(debug.Stack()))
		}
	}()

	if err := fn(c); err != nil {
		c.logger.Error("error in connection scope", "error", err, "stack", string(debug.Stack()))
	}
}

func (c *Connection) isAck(line string) bool {
	if IsAck(line) {
		c.metrics.incAckCount()
		return true
	}

	return false
}
