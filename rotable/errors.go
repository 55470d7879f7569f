package rotable

import "errors"

var (
	// ErrConnectTimeout indicates the device did not acknowledge the "test"
	// handshake within the connect timeout.
	ErrConnectTimeout = errors.New("rotable: connect timeout")

	// ErrTimeout indicates no response line arrived within the read timeout.
	ErrTimeout = errors.New("rotable: read timeout")

	// ErrProtocol indicates a response line that could not be interpreted.
	ErrProtocol = errors.New("rotable: protocol error")

	// ErrInvalidArgument indicates an argument that cannot be expressed on the
	// wire. Nothing is sent to the device.
	ErrInvalidArgument = errors.New("rotable: invalid argument")

	// ErrConnClosed indicates the connection or its transport has been closed.
	ErrConnClosed = errors.New("rotable: connection closed")
)
