package serial

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"github.com/centuri-olf/olfcontrol/logging"
)

const lineQueueSize = 64

var (
	// ErrReadTimeout is returned by ReadLine when no complete line arrived in time.
	ErrReadTimeout = errors.New("timed out waiting for a line")
	// ErrPortClosed is returned when using a port after Close.
	ErrPortClosed = errors.New("port is closed")
)

// Port is a duplex line channel to a motion board.
type Port interface {
	io.Writer

	// ReadLine returns the next received line without its terminator.
	ReadLine() (string, error)
	// Pending reports whether a complete line is waiting to be read.
	Pending() bool
	// Reopen closes the underlying device and opens it again on the same path.
	Reopen() error
	Close() error
	Path() string
}

// LinePort is a Port over a real serial device. A single background goroutine reads the device
// and queues complete lines.
type LinePort struct {
	path    string
	options Options
	logger  logging.Logger

	mu      sync.Mutex
	dev     io.ReadWriteCloser
	lines   chan string
	readErr chan error
	cancel  context.CancelFunc
	workers sync.WaitGroup
	closed  bool
}

// NewLinePort opens the device at path.
func NewLinePort(path string, options Options, logger logging.Logger) (*LinePort, error) {
	p := &LinePort{
		path:    path,
		options: options,
		logger:  logger,
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.openInLock(); err != nil {
		return nil, err
	}
	return p, nil
}

// must hold p.mu.
func (p *LinePort) openInLock() error {
	dev, err := Open(p.path, p.options)
	if err != nil {
		return errors.Wrapf(err, "failed to open serial port %s", p.path)
	}

	ctx, cancel := context.WithCancel(context.Background())
	lines := make(chan string, lineQueueSize)
	readErr := make(chan error, 1)

	p.dev = dev
	p.lines = lines
	p.readErr = readErr
	p.cancel = cancel
	p.closed = false

	p.workers.Add(1)
	goutils.PanicCapturingGo(func() {
		defer p.workers.Done()
		p.readLoop(ctx, dev, lines, readErr)
	})
	return nil
}

func (p *LinePort) readLoop(ctx context.Context, dev io.Reader, lines chan<- string, readErr chan<- error) {
	buf := make([]byte, 256)
	var partial []byte
	for ctx.Err() == nil {
		n, err := dev.Read(buf)
		if n > 0 {
			partial = append(partial, buf[:n]...)
			for {
				idx := bytes.IndexByte(partial, '\n')
				if idx < 0 {
					break
				}
				line := string(partial[:idx+1])
				partial = partial[idx+1:]
				select {
				case lines <- line:
				case <-ctx.Done():
					return
				}
			}
		}
		if err != nil {
			if ctx.Err() == nil {
				select {
				case readErr <- err:
				default:
				}
			}
			return
		}
	}
}

// Write sends b to the device as is.
func (p *LinePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, ErrPortClosed
	}
	n, err := p.dev.Write(b)
	if err != nil {
		return n, errors.Wrapf(err, "error writing to %s", p.path)
	}
	return n, nil
}

// ReadLine blocks until a line arrives, the device fails, or the line timeout passes.
func (p *LinePort) ReadLine() (string, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return "", ErrPortClosed
	}
	lines, readErr := p.lines, p.readErr
	timeout := p.options.LineTimeout
	p.mu.Unlock()

	select {
	case line := <-lines:
		return trimLine(line), nil
	default:
	}

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}
	select {
	case line := <-lines:
		return trimLine(line), nil
	case err := <-readErr:
		return "", errors.Wrapf(err, "error reading from %s", p.path)
	case <-expired:
		return "", ErrReadTimeout
	}
}

// Pending reports whether at least one complete line is queued.
func (p *LinePort) Pending() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.closed && len(p.lines) > 0
}

// Reopen drops anything queued, closes the device and opens it again.
func (p *LinePort) Reopen() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.closeInLock(); err != nil {
		p.logger.Warnw("error closing serial port before reopening", "path", p.path, "error", err)
	}
	return p.openInLock()
}

// Close stops the reader and closes the device.
func (p *LinePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closeInLock()
}

func (p *LinePort) closeInLock() error {
	if p.closed {
		return nil
	}
	p.closed = true
	p.cancel()
	err := p.dev.Close()
	p.workers.Wait()
	return err
}

// Path returns the device path.
func (p *LinePort) Path() string {
	return p.path
}

func trimLine(line string) string {
	return strings.TrimRight(line, "\r\n")
}
