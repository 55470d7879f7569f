// Package simulator emulates the rotation table firmware.
//
// A Device answers the same line protocol as the real table over any
// io.ReadWriter, which makes it suitable for tests and for dry runs of the
// rotctl tool. Motion is instantaneous unless a delay is configured.
package simulator

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/arloliu/go-rotlib/axis"
	"github.com/arloliu/go-rotlib/logger"
)

// Defaults of a simulated device.
const (
	DefaultTotalSteps = 3200
	DefaultAckText    = "OK"
	DefaultHallValue  = 512.0
)

// Replies for requests the firmware rejects.
const (
	ReplyUnknownCommand = "ERR unknown command"
	ReplyUnknownAxis    = "ERR unknown axis"
	ReplyBadArguments   = "ERR bad arguments"
)

// Device is a simulated rotation table.
type Device struct {
	axes *xsync.MapOf[axis.Name, *simAxis]

	ackText   string
	hallValue float64
	delays    map[string]time.Duration
	silent    atomic.Bool
	logger    logger.Logger

	mu       sync.Mutex
	commands []string
}

type simAxis struct {
	mu    sync.Mutex
	state axis.State
}

// Option configures a Device.
type Option func(*Device)

// WithTotalSteps sets the steps per revolution of both axes.
func WithTotalSteps(n int) Option {
	return func(d *Device) {
		d.axes.Range(func(_ axis.Name, a *simAxis) bool {
			a.state.TotalSteps = n
			return true
		})
	}
}

// WithAxisState replaces the initial state of ax.
func WithAxisState(ax axis.Name, st axis.State) Option {
	return func(d *Device) {
		d.axes.Store(ax, &simAxis{state: st})
	}
}

// WithAckText sets the acknowledgement line, "OK" by default.
func WithAckText(text string) Option {
	return func(d *Device) { d.ackText = text }
}

// WithHallValue sets the value answered to readhall.
func WithHallValue(v float64) Option {
	return func(d *Device) { d.hallValue = v }
}

// WithDelay delays the reply to every command with the given verb.
func WithDelay(verb string, delay time.Duration) Option {
	return func(d *Device) { d.delays[verb] = delay }
}

// WithSilent makes the device record commands without ever answering.
func WithSilent(silent bool) Option {
	return func(d *Device) { d.silent.Store(silent) }
}

// WithLogger sets the logger of the device.
func WithLogger(l logger.Logger) Option {
	return func(d *Device) { d.logger = l }
}

// New creates a simulated device with both axes initialized at step 0 and
// not yet referenced.
func New(opts ...Option) *Device {
	d := &Device{
		axes:      xsync.NewMapOf[axis.Name, *simAxis](),
		ackText:   DefaultAckText,
		hallValue: DefaultHallValue,
		delays:    make(map[string]time.Duration),
		logger:    logger.GetLogger(),
	}

	d.axes.Store(axis.Azimuth, &simAxis{state: defaultState(2, 3, 4)})
	d.axes.Store(axis.Elevation, &simAxis{state: defaultState(5, 6, 7)})

	for _, opt := range opts {
		opt(d)
	}

	return d
}

func defaultState(stepPin, dirPin, hallPin int) axis.State {
	return axis.State{
		StepPin:        stepPin,
		DirectionPin:   dirPin,
		HallPin:        hallPin,
		TotalSteps:     DefaultTotalSteps,
		MaxAngularRate: 1.0,
		IsInitialized:  true,
	}
}

// SetSilent switches silent mode at runtime.
func (d *Device) SetSilent(silent bool) {
	d.silent.Store(silent)
}

// State returns the current state of ax.
func (d *Device) State(ax axis.Name) (axis.State, bool) {
	a, ok := d.axes.Load(ax)
	if !ok {
		return axis.State{}, false
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.state, true
}

// SetState replaces the state of ax.
func (d *Device) SetState(ax axis.Name, st axis.State) {
	if a, ok := d.axes.Load(ax); ok {
		a.mu.Lock()
		a.state = st
		a.mu.Unlock()

		return
	}
	d.axes.Store(ax, &simAxis{state: st})
}

// Commands returns every non-empty line received so far, in order.
func (d *Device) Commands() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]string, len(d.commands))
	copy(out, d.commands)

	return out
}

func (d *Device) record(line string) {
	d.mu.Lock()
	d.commands = append(d.commands, line)
	d.mu.Unlock()
}

// Serve reads commands from rw and writes the replies until reading fails.
// Reaching the end of the stream or a closed pipe is a normal shutdown and
// returns nil. ctx only interrupts configured reply delays.
func (d *Device) Serve(ctx context.Context, rw io.ReadWriter) error {
	scanner := bufio.NewScanner(rw)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		d.record(line)
		if d.silent.Load() {
			d.logger.Debug("simulator: silent, dropping command", "command", line)
			continue
		}

		reply := d.Handle(line)
		if delay := d.delays[verbOf(line)]; delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if _, err := io.WriteString(rw, reply+"\n"); err != nil {
			if isClosed(err) {
				return nil
			}

			return fmt.Errorf("simulator: write reply to %q: %w", line, err)
		}
	}

	if err := scanner.Err(); err != nil && !isClosed(err) {
		return fmt.Errorf("simulator: read: %w", err)
	}

	return nil
}

// Pipe serves the device on one end of an in-memory pipe and returns the
// other end. Closing the returned connection stops the device.
func (d *Device) Pipe(ctx context.Context) net.Conn {
	local, remote := net.Pipe()

	go func() {
		defer remote.Close()

		if err := d.Serve(ctx, remote); err != nil {
			d.logger.Debug("simulator stopped", "error", err)
		}
	}()

	return local
}

// Handle executes one command line and returns the reply line without its
// terminator.
func (d *Device) Handle(line string) string {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return ReplyUnknownCommand
	}

	switch fields[0] {
	case "test":
		return d.ackText
	case "status":
		return d.handleStatus(fields)
	case "readhall":
		return d.handleReadHall(fields)
	case "steps":
		return d.handleSteps(fields)
	case "reference":
		return d.handleReference(fields)
	default:
		return ReplyUnknownCommand
	}
}

func (d *Device) handleStatus(fields []string) string {
	if len(fields) != 2 {
		return ReplyBadArguments
	}
	a, reply := d.lookup(fields[1])
	if a == nil {
		return reply
	}

	a.mu.Lock()
	data, err := json.Marshal(a.state)
	a.mu.Unlock()
	if err != nil {
		return "ERR " + err.Error()
	}

	return string(data)
}

func (d *Device) handleReadHall(fields []string) string {
	if len(fields) != 3 {
		return ReplyBadArguments
	}
	if a, reply := d.lookup(fields[1]); a == nil {
		return reply
	}
	if n, err := strconv.Atoi(fields[2]); err != nil || n <= 0 {
		return ReplyBadArguments
	}

	return strconv.FormatFloat(d.hallValue, 'f', -1, 64)
}

func (d *Device) handleSteps(fields []string) string {
	if len(fields) != 4 {
		return ReplyBadArguments
	}
	a, reply := d.lookup(fields[1])
	if a == nil {
		return reply
	}
	n, err := strconv.Atoi(fields[2])
	if err != nil || n < 0 {
		return ReplyBadArguments
	}
	reverse, err := strconv.ParseBool(fields[3])
	if err != nil {
		return ReplyBadArguments
	}
	if reverse {
		n = -n
	}

	a.mu.Lock()
	a.state.Position += n
	a.state.LastStepTimestamp = time.Now().UnixMicro()
	a.mu.Unlock()

	return d.ackText
}

func (d *Device) handleReference(fields []string) string {
	if len(fields) != 2 {
		return ReplyBadArguments
	}
	a, reply := d.lookup(fields[1])
	if a == nil {
		return reply
	}

	a.mu.Lock()
	a.state.IsReferenced = true
	a.state.ReferencePosition = a.state.Position
	a.mu.Unlock()

	return d.ackText
}

// lookup resolves a wire axis token; only the exact tokens "AZ" and "EL" are accepted.
func (d *Device) lookup(token string) (*simAxis, string) {
	ax, err := axis.ParseName(token)
	if err != nil || ax.String() != token {
		return nil, ReplyUnknownAxis
	}
	a, ok := d.axes.Load(ax)
	if !ok {
		return nil, ReplyUnknownAxis
	}

	return a, ""
}

func verbOf(line string) string {
	verb, _, _ := strings.Cut(strings.TrimSpace(line), " ")
	return verb
}

func isClosed(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, net.ErrClosed)
}
