// Package serialport opens and enumerates the serial ports a rotation table
// can be attached to.
package serialport

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// DefaultBaudRate is the line speed of the rotation table firmware.
const DefaultBaudRate = 115200

// ErrNoPorts is returned by ListPorts and ListDetailed when no serial port is present.
var ErrNoPorts = errors.New("serialport: no serial ports found")

// handle is the subset of serial.Port used by Port.
type handle interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	ResetInputBuffer() error
	SetReadTimeout(t time.Duration) error
	Close() error
}

// allow tests to override the platform layer
var (
	openPort             = func(name string, mode *serial.Mode) (handle, error) { return serial.Open(name, mode) }
	getPortsList         = serial.GetPortsList
	getDetailedPortsList = enumerator.GetDetailedPortsList
)

// Port is an open serial port in 8N1 framing.
//
// Reads block until data arrives; the caller is expected to bound them from
// the outside and to unblock them with Close.
type Port struct {
	h    handle
	name string
	baud int
}

// Open opens name at baud in 8N1 framing and discards any bytes the device
// sent before the port was opened. A baud <= 0 uses DefaultBaudRate.
func Open(name string, baud int) (*Port, error) {
	if name == "" {
		return nil, errors.New("serialport: empty port name")
	}
	if baud <= 0 {
		baud = DefaultBaudRate
	}

	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	h, err := openPort(name, mode)
	if err != nil {
		return nil, fmt.Errorf("serialport: open %s: %w", name, err)
	}
	if err := h.SetReadTimeout(serial.NoTimeout); err != nil {
		_ = h.Close()
		return nil, fmt.Errorf("serialport: set read timeout on %s: %w", name, err)
	}
	if err := h.ResetInputBuffer(); err != nil {
		_ = h.Close()
		return nil, fmt.Errorf("serialport: reset input buffer on %s: %w", name, err)
	}

	return &Port{h: h, name: name, baud: baud}, nil
}

func (p *Port) Read(b []byte) (int, error) {
	return p.h.Read(b)
}

func (p *Port) Write(b []byte) (int, error) {
	return p.h.Write(b)
}

// Close closes the port and unblocks a pending Read.
func (p *Port) Close() error {
	return p.h.Close()
}

// Name returns the port name the Port was opened with.
func (p *Port) Name() string { return p.name }

// BaudRate returns the line speed of the port.
func (p *Port) BaudRate() int { return p.baud }

// ListPorts returns the names of the serial ports present on the system, sorted.
func ListPorts() ([]string, error) {
	ports, err := getPortsList()
	if err != nil {
		return nil, fmt.Errorf("serialport: list ports: %w", err)
	}
	if len(ports) == 0 {
		return nil, ErrNoPorts
	}
	sort.Strings(ports)

	return ports, nil
}

// PortInfo describes a serial port and, for USB adapters, the device behind it.
type PortInfo struct {
	Name         string `json:"name"`
	IsUSB        bool   `json:"isUSB"`
	VID          string `json:"vid,omitempty"`
	PID          string `json:"pid,omitempty"`
	SerialNumber string `json:"serialNumber,omitempty"`
	Product      string `json:"product,omitempty"`
}

func (pi PortInfo) String() string {
	if !pi.IsUSB {
		return pi.Name
	}

	s := fmt.Sprintf("%s [USB %s:%s", pi.Name, pi.VID, pi.PID)
	if pi.SerialNumber != "" {
		s += " serial " + pi.SerialNumber
	}
	if pi.Product != "" {
		s += " " + pi.Product
	}

	return s + "]"
}

// ListDetailed returns the serial ports present on the system with their USB
// details, sorted by name.
func ListDetailed() ([]PortInfo, error) {
	details, err := getDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("serialport: list ports: %w", err)
	}
	if len(details) == 0 {
		return nil, ErrNoPorts
	}

	infos := make([]PortInfo, 0, len(details))
	for _, d := range details {
		if d == nil {
			continue
		}
		infos = append(infos, PortInfo{
			Name:         d.Name,
			IsUSB:        d.IsUSB,
			VID:          d.VID,
			PID:          d.PID,
			SerialNumber: d.SerialNumber,
			Product:      d.Product,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })

	return infos, nil
}
