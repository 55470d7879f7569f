package rotable

import (
	"bufio"
	"context"
	"io"
	"net"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-rotlib/logger"
	"github.com/arloliu/go-rotlib/simulator"
)

// newTestConfig creates a Config with short timeouts suitable for tests.
func newTestConfig(t *testing.T, opts ...Option) *Config {
	t.Helper()

	defaults := []Option{
		WithTimeout(200 * time.Millisecond),
		WithConnectTimeout(200 * time.Millisecond),
		WithDefaultReferenceTimeout(time.Second),
	}

	cfg, err := NewConfig(append(defaults, opts...)...)
	require.NoError(t, err)

	return cfg
}

// newSimConn opens a connection to a simulated device.
func newSimConn(t *testing.T, dev *simulator.Device, opts ...Option) *Connection {
	t.Helper()

	conn, err := Open(context.Background(), dev.Pipe(context.Background()), newTestConfig(t, opts...))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return conn
}

// scriptedDevice is the remote end of a pipe driven line by line by the test.
type scriptedDevice struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
}

// expect reads the next command line and fails the test unless it equals want.
func (d *scriptedDevice) expect(want string) {
	d.t.Helper()

	require.NoError(d.t, d.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	line, err := d.r.ReadString('\n')
	require.NoError(d.t, err)
	require.Equal(d.t, want, strings.TrimSuffix(line, "\n"))
}

// reply writes lines, each terminated by "\n".
func (d *scriptedDevice) reply(lines ...string) {
	d.t.Helper()

	for _, line := range lines {
		mustWrite(d.t, d.conn, []byte(line+"\n"))
	}
}

// newScriptedConn opens a connection whose device side is answered by the test.
// The handshake is answered with "OK".
func newScriptedConn(t *testing.T, opts ...Option) (*Connection, *scriptedDevice) {
	t.Helper()

	local, remote := newPipeConn(t)
	dev := &scriptedDevice{t: t, conn: remote, r: bufio.NewReader(remote)}

	type result struct {
		conn *Connection
		err  error
	}
	cfg := newTestConfig(t, opts...)
	done := make(chan result, 1)
	go func() {
		conn, err := Open(context.Background(), local, cfg)
		done <- result{conn, err}
	}()

	dev.expect("test")
	dev.reply("OK")

	res := <-done
	require.NoError(t, res.err)
	t.Cleanup(func() { _ = res.conn.Close() })

	return res.conn, dev
}

// async runs fn in a goroutine and returns a channel with its error.
func async(fn func() error) <-chan error {
	ch := make(chan error, 1)
	go func() { ch <- fn() }()

	return ch
}

// waitErr waits for the result of an async call.
func waitErr(t *testing.T, ch <-chan error) error {
	t.Helper()

	select {
	case err := <-ch:
		return err
	case <-time.After(3 * time.Second):
		t.Fatal("call did not return")
		return nil
	}
}

// mustWrite writes data to w, failing the test on error.
func mustWrite(t *testing.T, w io.Writer, data []byte) {
	t.Helper()

	_, err := w.Write(data)
	if err != nil {
		t.Fatalf("mustWrite: %v", err)
	}
}

// newPipeConn creates a net.Pipe pair and registers cleanup.
func newPipeConn(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()

	local, remote := net.Pipe()
	t.Cleanup(func() {
		_ = local.Close()
		_ = remote.Close()
	})

	return local, remote
}

// trackingTransport counts Close calls and can fail them.
type trackingTransport struct {
	net.Conn
	closeCount atomic.Int32
	closeErr   error
}

func (tt *trackingTransport) Close() error {
	tt.closeCount.Add(1)
	_ = tt.Conn.Close()

	return tt.closeErr
}

// findCall returns the first call to method whose message is msg.
func findCall(m *logger.MockLogger, method, msg string) (mock.Call, bool) {
	for _, call := range m.Calls {
		if call.Method == method && len(call.Arguments) > 0 && call.Arguments.String(0) == msg {
			return call, true
		}
	}

	return mock.Call{}, false
}
