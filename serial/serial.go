// Package serial provides the line-oriented transport used to talk to GCODE motion boards, along
// with a simulated port for running without hardware.
package serial

import (
	"io"
	"time"

	"github.com/pkg/errors"
	ser "go.bug.st/serial"
	"go.uber.org/multierr"
)

// Options to be passed to Open(), closely mirrors go.bug.st/serial's Mode.
type Options struct {
	BaudRate int
	DataBits int
	StopBits StopBits
	Parity   Parity

	// ReadTimeout is how long, in milliseconds, a single device read waits before returning
	// empty handed. It bounds how quickly the background reader notices a shutdown.
	ReadTimeout int

	// LineTimeout bounds how long ReadLine waits for a complete line. Zero waits forever.
	LineTimeout time.Duration
}

// Parity describes a serial port parity setting.
type Parity int

const (
	// NoParity disable parity control (default).
	NoParity Parity = iota
	// OddParity enable odd-parity check.
	OddParity
	// EvenParity enable even-parity check.
	EvenParity
	// MarkParity enable mark-parity (always 1) check.
	MarkParity
	// SpaceParity enable space-parity (always 0) check.
	SpaceParity
)

// StopBits describe a serial port stop bits setting.
type StopBits int

const (
	// OneStopBit sets 1 stop bit (default).
	OneStopBit StopBits = iota
	// OnePointFiveStopBits sets 1.5 stop bits.
	OnePointFiveStopBits
	// TwoStopBits sets 2 stop bits.
	TwoStopBits
)

// DefaultOptions returns 8N1 options at the given baud rate.
func DefaultOptions(baudRate int) Options {
	return Options{
		BaudRate:    baudRate,
		DataBits:    8,
		StopBits:    OneStopBit,
		Parity:      NoParity,
		ReadTimeout: 100,
		LineTimeout: 5 * time.Second,
	}
}

var openDevice = ser.Open

// Open attempts to open a serial device on the given path. It's a variable
// in case you need to override it during tests.
var Open = func(devicePath string, options Options) (io.ReadWriteCloser, error) {
	mode := &ser.Mode{
		BaudRate: options.BaudRate,
		Parity:   ser.Parity(options.Parity),
		DataBits: options.DataBits,
		StopBits: ser.StopBits(options.StopBits),
	}

	device, err := openDevice(devicePath, mode)
	if err != nil {
		return nil, err
	}
	if options.ReadTimeout > 0 {
		if err := device.SetReadTimeout(time.Duration(options.ReadTimeout) * time.Millisecond); err != nil {
			return nil, multierr.Combine(errors.Wrap(err, "failed to set read timeout"), device.Close())
		}
	}

	return device, nil
}
