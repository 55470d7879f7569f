// Package rotable implements the host side of the rotation table's serial
// control protocol.
//
// The device speaks a half-duplex, line-oriented text protocol: the host
// writes one command terminated by '\n' and the device answers with one or
// more lines. A line containing "OK" acknowledges a command. Long-running
// physical operations (stepping, referencing) acknowledge only once the
// motion has finished.
//
// # Connection lifecycle
//
// A Connection is established with Open (over any io.ReadWriteCloser) or
// Dial (over a named serial port). Both perform a "test" handshake and fail
// with ErrConnectTimeout when the device does not acknowledge in time:
//
//	cfg, err := rotable.NewConfig(rotable.WithVerbose(true))
//	if err != nil {
//		return err
//	}
//	conn, err := rotable.Dial(ctx, "/dev/ttyUSB0", cfg)
//	if err != nil {
//		return err
//	}
//	defer conn.Close()
//
// WithConnection wraps Dial and Close around a function and logs, rather than
// returns, any error raised inside it:
//
//	err := rotable.WithConnection(ctx, "/dev/ttyUSB0", cfg, func(conn *rotable.Connection) error {
//		if _, err := conn.ReferenceAxis(ctx, axis.Elevation); err != nil {
//			return err
//		}
//		return conn.MoveToAngle(ctx, axis.Elevation, math.Pi/2)
//	})
//
// # Commands
//
// All commands are methods on Connection and are serialized by an internal
// mutex. Reads that wait for a single response are bounded by the configured
// timeout and fail with ErrTimeout. Waits for the completion of a motion are
// unbounded and end only with the acknowledgement, cancellation of the
// context or closure of the connection.
package rotable
