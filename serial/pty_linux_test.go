package serial

import (
	"io"
	"os"
	"testing"
	"time"

	"github.com/creack/pty"
	"go.viam.com/test"
	"go.viam.com/utils/testutils"

	"github.com/centuri-olf/olfcontrol/logging"
)

// openPTY returns the board side of a pseudo terminal and the path of the host side.
func openPTY(t *testing.T) (*os.File, string) {
	t.Helper()
	board, host, err := pty.Open()
	if err != nil {
		t.Skipf("cannot allocate a pty: %v", err)
	}
	t.Cleanup(func() {
		board.Close()
		host.Close()
	})
	return board, host.Name()
}

func TestLinePortOverPTY(t *testing.T) {
	board, path := openPTY(t)

	options := DefaultOptions(115200)
	options.LineTimeout = 2 * time.Second
	p, err := NewLinePort(path, options, logging.NewTestLogger(t))
	if err != nil {
		t.Skipf("cannot open %s as a serial device: %v", path, err)
	}
	defer p.Close()
	test.That(t, p.Path(), test.ShouldEqual, path)

	line := "G0 X1 Y-2\r\n"
	n, err := p.Write([]byte(line))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, n, test.ShouldEqual, len(line))

	got := make([]byte, len(line))
	_, err = io.ReadFull(board, got)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(got), test.ShouldEqual, line)

	_, err = board.Write([]byte("ok\r\nALARM:1\r\n"))
	test.That(t, err, test.ShouldBeNil)
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, p.Pending(), test.ShouldBeTrue)
	})

	got1, err := p.ReadLine()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got1, test.ShouldEqual, "ok")
	got2, err := p.ReadLine()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got2, test.ShouldEqual, "ALARM:1")

	test.That(t, p.Reopen(), test.ShouldBeNil)
	test.That(t, p.Pending(), test.ShouldBeFalse)
	_, err = board.Write([]byte("ok\r\n"))
	test.That(t, err, test.ShouldBeNil)
	got3, err := p.ReadLine()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got3, test.ShouldEqual, "ok")

	test.That(t, p.Close(), test.ShouldBeNil)
	_, err = p.ReadLine()
	test.That(t, err, test.ShouldEqual, ErrPortClosed)
}
