package rotable

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/arloliu/go-rotlib/axis"
)

// --- call options ---

// MoveOption configures a MoveSteps call.
type MoveOption func(*moveOptions)

type moveOptions struct {
	reverse  bool
	blocking bool
}

// Reverse inverts the direction of travel. Combined with a negative step
// count the two inversions cancel out.
func Reverse() MoveOption {
	return func(o *moveOptions) { o.reverse = true }
}

// NonBlocking returns as soon as the command is written, without waiting for
// the device to finish the motion.
func NonBlocking() MoveOption {
	return func(o *moveOptions) { o.blocking = false }
}

// ReferenceOption configures a ReferenceAxis call.
type ReferenceOption func(*referenceOptions)

type referenceOptions struct {
	reverseBeforehand bool
	timeout           time.Duration
	reverseSteps      int // < 0: derive from the configured reverse angle
}

// WithReverseBeforehand controls whether the axis backs off before the
// reference run, so the run starts on a known side of the sensor. Enabled by
// default.
func WithReverseBeforehand(enabled bool) ReferenceOption {
	return func(o *referenceOptions) { o.reverseBeforehand = enabled }
}

// WithReferenceTimeout overrides the config's reference timeout for one call.
// A value <= 0 waits until the device acknowledges.
func WithReferenceTimeout(d time.Duration) ReferenceOption {
	return func(o *referenceOptions) { o.timeout = d }
}

// WithReverseSteps backs off a fixed number of steps instead of the
// configured reverse angle. Zero skips the back-off move.
func WithReverseSteps(n int) ReferenceOption {
	return func(o *referenceOptions) {
		if n < 0 {
			n = -n
		}
		o.reverseSteps = n
	}
}

// PositionOption configures a MoveToPosition call.
type PositionOption func(*positionOptions)

type positionOptions struct {
	current    int
	hasCurrent bool
}

// WithCurrentStep supplies the current absolute position, saving the status
// round trip.
func WithCurrentStep(step int) PositionOption {
	return func(o *positionOptions) {
		o.current = step
		o.hasCurrent = true
	}
}

// --- commands ---

// Test sends "test" and reports whether the device acknowledged it.
func (c *Connection) Test(ctx context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	line, err := c.request(ctx, "test")
	if err != nil {
		return false, err
	}

	return c.isAck(line), nil
}

// AxisStatus fetches a fresh state snapshot of ax.
func (c *Connection) AxisStatus(ctx context.Context, ax axis.Name) (axis.State, error) {
	tok, err := ax.Token()
	if err != nil {
		return axis.State{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.axisStatus(ctx, tok)
}

func (c *Connection) axisStatus(ctx context.Context, tok string) (axis.State, error) {
	line, err := c.request(ctx, FormatCommand("status", tok))
	if err != nil {
		return axis.State{}, err
	}

	st, err := axis.ParseState(line)
	if err != nil {
		c.metrics.incProtocolErrCount()
		return axis.State{}, fmt.Errorf("%w: status %s: %w", ErrProtocol, tok, err)
	}

	return st, nil
}

// ReadHall reads the averaged hall sensor value of ax over samples samples.
// A non-positive samples uses DefaultHallSamples.
func (c *Connection) ReadHall(ctx context.Context, ax axis.Name, samples int) (float64, error) {
	tok, err := ax.Token()
	if err != nil {
		return 0, err
	}
	if samples <= 0 {
		samples = DefaultHallSamples
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	line, err := c.request(ctx, FormatCommand("readhall", tok, samples))
	if err != nil {
		return 0, err
	}

	value, err := strconv.ParseFloat(strings.TrimSpace(line), 64)
	if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
		c.metrics.incProtocolErrCount()
		return 0, fmt.Errorf("%w: readhall %s: %q is not a finite number", ErrProtocol, tok, line)
	}

	return value, nil
}

// MoveSteps moves ax by n steps. A negative n moves in the opposite
// direction; the device always receives the magnitude and a direction flag.
//
// By default MoveSteps waits, without a timeout, until the device
// acknowledges the finished motion. Cancel ctx to stop waiting.
func (c *Connection) MoveSteps(ctx context.Context, ax axis.Name, n int, opts ...MoveOption) error {
	tok, err := ax.Token()
	if err != nil {
		return err
	}

	o := moveOptions{blocking: true}
	for _, opt := range opts {
		opt(&o)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.moveSteps(ctx, tok, n, o)
}

func (c *Connection) moveSteps(ctx context.Context, tok string, n int, o moveOptions) error {
	if n == math.MinInt {
		return fmt.Errorf("%w: step count %d out of range", ErrInvalidArgument, n)
	}

	reverse := o.reverse
	if n < 0 {
		n = -n
		reverse = !reverse
	}

	if err := c.lt.writeLine(FormatCommand("steps", tok, n, reverse)); err != nil {
		return err
	}
	if !o.blocking {
		return nil
	}

	return c.waitAck(ctx)
}

// ReferenceAxis runs the reference procedure of ax and reports whether the
// device acknowledged it.
//
// Unless disabled with WithReverseBeforehand(false), the axis first backs off
// by the configured reverse angle. With a positive timeout each read is
// bounded by the time left; once the deadline passes ReferenceAxis returns
// false and no error. With a timeout <= 0 it waits for the acknowledgement
// for as long as it takes and returns true.
//
// An acknowledgement arriving after the deadline is discarded before the next
// command is written. If it arrives later still, the next request reads it as
// its own response; reference the axis again or reopen the connection before
// relying on further replies.
func (c *Connection) ReferenceAxis(ctx context.Context, ax axis.Name, opts ...ReferenceOption) (bool, error) {
	tok, err := ax.Token()
	if err != nil {
		return false, err
	}

	o := referenceOptions{
		reverseBeforehand: true,
		timeout:           c.cfg.ReferenceTimeout(),
		reverseSteps:      -1,
	}
	for _, opt := range opts {
		opt(&o)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if o.reverseBeforehand {
		if err := c.reverseBeforeReference(ctx, tok, o.reverseSteps); err != nil {
			return false, err
		}
	}

	if err := c.lt.writeLine(FormatCommand("reference", tok)); err != nil {
		return false, err
	}

	if o.timeout <= 0 {
		if err := c.waitAck(ctx); err != nil {
			return false, err
		}

		return true, nil
	}

	deadline := time.Now().Add(o.timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}

		line, err := c.lt.readLine(ctx, remaining)
		if errors.Is(err, ErrTimeout) {
			break
		}
		if err != nil {
			return false, c.abortOnCancel(err)
		}

		if c.isAck(line) {
			return true, nil
		}
		c.logger.Debug("awaiting reference ack", "axis", tok, "line", line)
	}

	c.logger.Warn("reference not acknowledged", "axis", tok, "timeout", o.timeout)

	return false, nil
}

func (c *Connection) reverseBeforeReference(ctx context.Context, tok string, steps int) error {
	if steps < 0 {
		st, err := c.axisStatus(ctx, tok)
		if err != nil {
			return err
		}
		steps = axis.ReverseSteps(st, c.cfg.ReverseAngle())
	}
	if steps == 0 {
		return nil
	}

	return c.moveSteps(ctx, tok, -steps, moveOptions{blocking: true})
}

// MoveToPosition moves ax to the absolute step target. The current position
// is queried with a status command unless WithCurrentStep supplies it. No
// command is sent when the axis is already there.
func (c *Connection) MoveToPosition(ctx context.Context, ax axis.Name, target int, opts ...PositionOption) error {
	tok, err := ax.Token()
	if err != nil {
		return err
	}

	var o positionOptions
	for _, opt := range opts {
		opt(&o)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !o.hasCurrent {
		st, err := c.axisStatus(ctx, tok)
		if err != nil {
			return err
		}
		o.current = st.Position
	}

	return c.moveToPosition(ctx, tok, target, o.current)
}

func (c *Connection) moveToPosition(ctx context.Context, tok string, target, current int) error {
	delta := target - current
	if delta == 0 {
		return nil
	}

	return c.moveSteps(ctx, tok, delta, moveOptions{blocking: true})
}

// MoveToAngle moves ax to the given angle, in radians, relative to its
// reference position. The angle is normalized to [0, 2π) and reached without
// crossing the half turn opposite the reference; see axis.TargetStep.
// A NaN or infinite angle fails with ErrInvalidArgument before anything is
// sent.
func (c *Connection) MoveToAngle(ctx context.Context, ax axis.Name, radians float64) error {
	tok, err := ax.Token()
	if err != nil {
		return err
	}
	if math.IsNaN(radians) || math.IsInf(radians, 0) {
		return fmt.Errorf("%w: angle %v", ErrInvalidArgument, radians)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	st, err := c.axisStatus(ctx, tok)
	if err != nil {
		return err
	}
	if !st.IsReferenced {
		c.logger.Warn("moving unreferenced axis by angle", "axis", tok)
	}

	target := axis.TargetStep(st, radians)
	c.logger.Debug("move to angle", "axis", tok, "radians", radians, "target", target, "position", st.Position)

	return c.moveToPosition(ctx, tok, target, st.Position)
}

// request writes cmd and reads one response line within the read timeout.
func (c *Connection) request(ctx context.Context, cmd string) (string, error) {
	if err := c.lt.writeLine(cmd); err != nil {
		return "", err
	}

	line, err := c.lt.readLine(ctx, c.cfg.Timeout())
	if err != nil {
		return "", fmt.Errorf("rotable: %s: %w", cmd, c.abortOnCancel(err))
	}

	return line, nil
}

// waitAck reads lines without a timeout until one acknowledges.
func (c *Connection) waitAck(ctx context.Context) error {
	for {
		line, err := c.lt.readLineNoTimeout(ctx)
		if err != nil {
			return c.abortOnCancel(err)
		}
		if c.isAck(line) {
			return nil
		}
		c.logger.Debug("awaiting ack", "line", line)
	}
}

// abortOnCancel closes the connection when err reports a cancelled context.
// The device still owes the reply to the abandoned command, and nothing
// correlates replies except their order.
func (c *Connection) abortOnCancel(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		c.logger.Warn("wait cancelled, closing connection", "error", err)
		_ = c.Close()
	}

	return err
}
