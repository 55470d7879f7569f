package axis

import (
	"errors"
	"fmt"
	"strings"
)

// Name identifies a physical axis of the rotation table.
//
// The zero value is not a valid axis, so an uninitialized Name can never be
// sent to the device.
type Name uint8

const (
	Azimuth Name = iota + 1
	Elevation
)

// ErrUnknownAxis is returned for Name values outside the enumeration and for
// unparseable axis names.
var ErrUnknownAxis = errors.New("axis: unknown axis")

// All returns every valid axis in wire order.
func All() []Name {
	return []Name{Azimuth, Elevation}
}

// IsValid reports whether n is one of the enumerated axes.
func (n Name) IsValid() bool {
	return n == Azimuth || n == Elevation
}

// Token returns the wire token of the axis ("AZ" or "EL").
func (n Name) Token() (string, error) {
	switch n {
	case Azimuth:
		return "AZ", nil
	case Elevation:
		return "EL", nil
	default:
		return "", fmt.Errorf("%w: %d", ErrUnknownAxis, uint8(n))
	}
}

func (n Name) String() string {
	if tok, err := n.Token(); err == nil {
		return tok
	}

	return fmt.Sprintf("Name(%d)", uint8(n))
}

// ParseName parses a wire token or a long axis name, case-insensitively.
func ParseName(s string) (Name, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "AZ", "AZIMUTH":
		return Azimuth, nil
	case "EL", "ELEVATION":
		return Elevation, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownAxis, s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (n Name) MarshalText() ([]byte, error) {
	tok, err := n.Token()
	if err != nil {
		return nil, err
	}

	return []byte(tok), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (n *Name) UnmarshalText(text []byte) error {
	parsed, err := ParseName(string(text))
	if err != nil {
		return err
	}
	*n = parsed

	return nil
}
