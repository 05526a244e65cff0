package serial

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/centuri-olf/olfcontrol/logging"
)

// SimulatedPort stands in for a board when no hardware is attached. It accepts every write,
// answers every read with the acknowledgement line and never has pending input on its own.
// Tests can queue extra board output with Inject.
type SimulatedPort struct {
	path string
	ack  string

	mu        sync.Mutex
	queued    []string
	written   []string
	reopens   int
	reopenErr error
	closed    bool
}

// NewSimulatedPort returns a simulated port that acknowledges with ack.
func NewSimulatedPort(path, ack string) *SimulatedPort {
	return &SimulatedPort{path: path, ack: ack}
}

// Write records b in the transcript.
func (s *SimulatedPort) Write(b []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrPortClosed
	}
	s.written = append(s.written, string(b))
	return len(b), nil
}

// ReadLine returns the oldest injected line, or the acknowledgement when none is queued.
func (s *SimulatedPort) ReadLine() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrPortClosed
	}
	if len(s.queued) > 0 {
		line := s.queued[0]
		s.queued = s.queued[1:]
		return line, nil
	}
	return s.ack, nil
}

// Pending reports whether injected lines remain.
func (s *SimulatedPort) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed && len(s.queued) > 0
}

// Reopen counts the call and fails if FailReopen was set.
func (s *SimulatedPort) Reopen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reopens++
	if s.reopenErr != nil {
		s.closed = true
		return s.reopenErr
	}
	s.closed = false
	return nil
}

// Close marks the port closed.
func (s *SimulatedPort) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Path returns the path the port pretends to be open on.
func (s *SimulatedPort) Path() string {
	return s.path
}

// Inject queues lines as if the board had sent them.
func (s *SimulatedPort) Inject(lines ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queued = append(s.queued, lines...)
}

// FailReopen makes every following Reopen fail with err. A nil err clears it.
func (s *SimulatedPort) FailReopen(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reopenErr = err
}

// Written returns a copy of everything written so far.
func (s *SimulatedPort) Written() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.written...)
}

// Reopens returns how many times Reopen was called.
func (s *SimulatedPort) Reopens() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reopens
}

// OpenOrSimulate opens a LinePort on path. If that fails and allowSimulation is set, it logs
// the failure and returns a SimulatedPort instead; the boolean result tells which one is active.
func OpenOrSimulate(
	path string,
	options Options,
	ack string,
	allowSimulation bool,
	logger logging.Logger,
) (Port, bool, error) {
	port, err := NewLinePort(path, options, logger)
	if err == nil {
		return port, false, nil
	}
	if !allowSimulation {
		return nil, false, err
	}
	logger.Warnw("could not open serial port, using simulated board", "path", path, "error", err)
	return NewSimulatedPort(path, ack), true, nil
}

// Simulate returns a SimulatedPort without trying the device at all.
func Simulate(path, ack string) (Port, bool, error) {
	if ack == "" {
		return nil, false, errors.New("simulated port needs an acknowledgement line")
	}
	return NewSimulatedPort(path, ack), true, nil
}
