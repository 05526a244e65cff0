package serial

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	ser "go.bug.st/serial"
	"go.viam.com/test"
)

// noTimeoutDevice is an open device that refuses read timeouts.
type noTimeoutDevice struct {
	ser.Port
	closed int
}

func (d *noTimeoutDevice) SetReadTimeout(time.Duration) error {
	return errors.New("read timeout not supported")
}

func (d *noTimeoutDevice) Close() error {
	d.closed++
	return nil
}

func TestOpenClosesDeviceOnSetupFailure(t *testing.T) {
	dev := &noTimeoutDevice{}
	var gotMode *ser.Mode
	prevOpen := openDevice
	openDevice = func(path string, mode *ser.Mode) (ser.Port, error) {
		gotMode = mode
		return dev, nil
	}
	defer func() { openDevice = prevOpen }()

	_, err := Open("/dev/ttyACM0", DefaultOptions(115200))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "failed to set read timeout")
	test.That(t, dev.closed, test.ShouldEqual, 1)
	test.That(t, gotMode.BaudRate, test.ShouldEqual, 115200)
	test.That(t, gotMode.DataBits, test.ShouldEqual, 8)

	dev.closed = 0
	options := DefaultOptions(9600)
	options.ReadTimeout = 0
	got, err := Open("/dev/ttyACM0", options)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got, test.ShouldEqual, dev)
	test.That(t, dev.closed, test.ShouldEqual, 0)
}
