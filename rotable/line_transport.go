package rotable

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/arloliu/go-rotlib/internal/pool"
	"github.com/arloliu/go-rotlib/logger"
)

// Transport is the byte stream to the device, typically a serial port.
type Transport interface {
	io.ReadWriteCloser
}

// lineQueueSize is the number of received lines buffered ahead of the reader.
const lineQueueSize = 32

// lineTransport frames the byte stream into lines.
//
// A background goroutine splits incoming bytes on '\n' and queues the
// decoded, non-empty lines. Reads take lines from that queue, so a read can
// be bounded by a timer or a context without touching the transport's own
// deadlines.
//
// Writes are NOT goroutine-safe. The owning Connection serializes them.
type lineTransport struct {
	rw      Transport
	logger  logger.Logger
	verbose bool
	metrics *ConnectionMetrics

	lines   chan string
	closing chan struct{} // closed by close()
	done    chan struct{} // closed when readLoop exits
	readErr error         // valid after done is closed

	closeOnce sync.Once
	closeErr  error
}

func newLineTransport(rw Transport, cfg *Config, metrics *ConnectionMetrics) *lineTransport {
	lt := &lineTransport{
		rw:      rw,
		logger:  cfg.GetLogger(),
		verbose: cfg.Verbose(),
		metrics: metrics,
		lines:   make(chan string, lineQueueSize),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}

	go lt.readLoop()

	return lt
}

func (lt *lineTransport) readLoop() {
	defer close(lt.done)

	reader := bufio.NewReader(lt.rw)
	for {
		raw, err := reader.ReadBytes('\n')
		if len(raw) > 0 {
			if line := DecodeLine(raw); line != "" {
				if lt.verbose {
					lt.logger.Debug(fmt.Sprintf("< %q", line))
				}
				lt.metrics.incLineRecvCount()

				select {
				case lt.lines <- line:
				case <-lt.closing:
					lt.readErr = io.EOF
					return
				}
			}
		}

		if err != nil {
			lt.readErr = err
			return
		}
	}
}

// writeLine writes cmd followed by '\n'.
func (lt *lineTransport) writeLine(cmd string) error {
	select {
	case <-lt.closing:
		return ErrConnClosed
	default:
	}

	lt.discardStale()

	if lt.verbose {
		lt.logger.Debug(fmt.Sprintf("> %q", cmd))
	}

	data := EncodeLine(cmd)
	for written := 0; written < len(data); {
		n, err := lt.rw.Write(data[written:])
		written += n

		if err != nil {
			select {
			case <-lt.closing:
				return fmt.Errorf("%w: %w", ErrConnClosed, err)
			default:
			}

			return fmt.Errorf("rotable: write %q: %w", cmd, err)
		}
	}
	lt.metrics.incCommandSendCount()

	return nil
}

// discardStale drops lines received while no request was pending, such as a
// reply that arrived after its read timed out. Responses are matched by
// arrival order only, so a leftover line would be taken as the answer to the
// next command.
func (lt *lineTransport) discardStale() {
	for {
		select {
		case line := <-lt.lines:
			lt.logger.Debug("discard stale line", "line", line)
		default:
			return
		}
	}
}

// readLine waits at most timeout for the next line.
// It returns ErrTimeout when no line arrives in time.
func (lt *lineTransport) readLine(ctx context.Context, timeout time.Duration) (string, error) {
	timer := pool.GetTimer(timeout)
	defer pool.PutTimer(timer)

	select {
	case line := <-lt.lines:
		return line, nil
	case <-lt.done:
		return lt.drainAfterClose()
	case <-ctx.Done():
		return "", ctx.Err()
	case <-timer.C:
		lt.metrics.incTimeoutCount()
		return "", ErrTimeout
	}
}

// readLineNoTimeout waits for the next line for as long as it takes.
// Only cancellation of ctx or closure of the transport end the wait.
func (lt *lineTransport) readLineNoTimeout(ctx context.Context) (string, error) {
	select {
	case line := <-lt.lines:
		return line, nil
	case <-lt.done:
		return lt.drainAfterClose()
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// drainAfterClose hands out lines queued before the reader stopped, then
// reports the closure.
func (lt *lineTransport) drainAfterClose() (string, error) {
	select {
	case line := <-lt.lines:
		return line, nil
	default:
	}

	if lt.readErr == nil || errors.Is(lt.readErr, io.EOF) {
		return "", ErrConnClosed
	}

	return "", fmt.Errorf("%w: %w", ErrConnClosed, lt.readErr)
}

// close closes the transport once; later calls return the first result.
func (lt *lineTransport) close() error {
	lt.closeOnce.Do(func() {
		close(lt.closing)
		lt.closeErr = lt.rw.Close()
	})

	return lt.closeErr
}
