package gcode

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	"github.com/centuri-olf/olfcontrol/components/stage"
	"github.com/centuri-olf/olfcontrol/logging"
	"github.com/centuri-olf/olfcontrol/serial"
)

// State is where the engine is in a command exchange.
type State int

// Engine states. A fault never leaves the engine outside Idle once an exchange returns.
const (
	Idle State = iota
	AwaitingAck
	FaultDetected
	Recovering
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingAck:
		return "awaiting_ack"
	case FaultDetected:
		return "fault_detected"
	case Recovering:
		return "recovering"
	default:
		return "unknown"
	}
}

// Engine speaks the line protocol to one board. It encodes commands, writes them, and drains the
// board's replies, reopening the port whenever the board reports a fault. Engine methods must
// not be called concurrently; State may be.
type Engine struct {
	port     serial.Port
	codec    *codec
	recovery RecoveryConfig
	clock    clock.Clock
	logger   logging.Logger
	events   stage.EventSink

	mu    sync.Mutex
	state State
}

// NewEngine returns an engine speaking dialect over port.
func NewEngine(
	port serial.Port,
	dialect Dialect,
	recovery RecoveryConfig,
	clk clock.Clock,
	logger logging.Logger,
	events stage.EventSink,
) (*Engine, error) {
	c, err := newCodec(dialect)
	if err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.New()
	}
	if events == nil {
		events = stage.EventSinkFunc(func(stage.Event) {})
	}
	return &Engine{
		port:     port,
		codec:    c,
		recovery: recovery,
		clock:    clk,
		logger:   logger,
		events:   events,
	}, nil
}

// State returns the current exchange state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = s
}

// Home runs the homing cycle: drain, send the home line, wait for the acknowledgement, drain.
// A fault while waiting is recovered and the home line sent again, since the board forgets the
// cycle when it resets. If issued is not nil it is called once the home line has been written.
func (e *Engine) Home(issued func()) error {
	e.logger.Info("waiting until serial communication is working")
	if err := e.drain(new(int)); err != nil {
		return err
	}
	if err := e.send(e.codec.homeLine()); err != nil {
		return err
	}
	if issued != nil {
		issued()
	}

	deadline := e.clock.Now().Add(e.recovery.HomingTimeout)
	recoveries := 0
	for {
		line, err := e.port.ReadLine()
		switch {
		case err == nil && e.codec.isAck(line):
			e.logger.Info("homing done")
			return e.drain(new(int))
		case err == nil && e.codec.isFault(line):
			if err := e.recover(line, &recoveries); err != nil {
				return err
			}
			if err := e.send(e.codec.homeLine()); err != nil {
				return err
			}
		case err == nil:
			e.logger.Debugw("waiting for homing to finish", "line", line)
			e.sleep(e.recovery.PollInterval)
		case errors.Is(err, serial.ErrReadTimeout):
			e.logger.Debug("still homing")
		default:
			e.setState(Idle)
			return stage.NewTransportError("read", e.port.Path(), err)
		}
		if e.recovery.HomingTimeout > 0 && !e.clock.Now().Before(deadline) {
			e.setState(Idle)
			return errors.Wrapf(stage.ErrHomingTimeout, "no %q from %s after %v",
				e.codec.dialect.Ack, e.port.Path(), e.recovery.HomingTimeout)
		}
	}
}

// SetOrigin declares the current location zero on every axis.
func (e *Engine) SetOrigin(axes string) error {
	return e.exchange(e.codec.setOriginLine(axes), new(int))
}

// Linear sends one linear move. A relative move is bracketed by the relative and absolute mode
// words so the board is always left in absolute mode. If issued is not nil it is called once the
// move line has been written, before its replies are drained.
func (e *Engine) Linear(axes string, values []float64, relative bool, issued func()) error {
	if relative {
		if err := e.relativeMode(); err != nil {
			return err
		}
	}
	if err := e.send(e.codec.linearLine(axes, values)); err != nil {
		return err
	}
	if issued != nil {
		issued()
	}
	if err := e.drain(new(int)); err != nil {
		return err
	}
	if relative {
		return e.exchange(e.codec.modeLine(false), new(int))
	}
	return nil
}

// relativeMode switches the board to relative moves. A board that reset while the mode word
// was being drained is back in absolute mode, so the word is sent again until it goes through
// without a fault. Recoveries count against one limit across the resends.
func (e *Engine) relativeMode() error {
	recoveries := 0
	for {
		before := recoveries
		if err := e.exchange(e.codec.modeLine(true), &recoveries); err != nil {
			return err
		}
		if recoveries == before {
			return nil
		}
		e.logger.Debugw("board reset after the relative mode word, sending it again", "recoveries", recoveries)
	}
}

// Close closes the port.
func (e *Engine) Close() error {
	e.setState(Idle)
	if err := e.port.Close(); err != nil {
		return stage.NewTransportError("close", e.port.Path(), err)
	}
	return nil
}

func (e *Engine) exchange(line string, recoveries *int) error {
	if err := e.send(line); err != nil {
		return err
	}
	return e.drain(recoveries)
}

func (e *Engine) send(line string) error {
	e.setState(AwaitingAck)
	e.logger.Debugw("sending", "line", line)
	if _, err := e.port.Write([]byte(line)); err != nil {
		e.setState(Idle)
		return stage.NewTransportError("write", e.port.Path(), err)
	}
	return nil
}

// drain reads until nothing is pending, recovering from every fault line on the way. Recoveries
// are added to *recoveries and bounded by the configured limit.
func (e *Engine) drain(recoveries *int) error {
	for e.port.Pending() {
		line, err := e.port.ReadLine()
		if err != nil {
			e.setState(Idle)
			return stage.NewTransportError("read", e.port.Path(), err)
		}
		if e.codec.isFault(line) {
			if err := e.recover(line, recoveries); err != nil {
				return err
			}
			continue
		}
		e.logger.Debugw("received", "line", line)
		e.sleep(e.recovery.PollInterval)
	}
	e.setState(Idle)
	return nil
}

func (e *Engine) recover(line string, recoveries *int) error {
	e.setState(FaultDetected)
	*recoveries++
	path := e.port.Path()
	e.logger.Errorw("board reported a fault, reopening the port", "line", line, "path", path,
		"recoveries", *recoveries)
	e.events.Emit(stage.Event{
		Kind: stage.EventFaultDetected, Time: e.clock.Now(), Path: path, Line: line, Recoveries: *recoveries,
	})

	if limit := e.recovery.MaxFaultRecoveries; limit >= 0 && *recoveries > limit {
		e.setState(Idle)
		return errors.Wrapf(stage.ErrFaultRecoveryExhausted, "%d faults in one exchange on %s, last %q",
			*recoveries, path, line)
	}

	e.setState(Recovering)
	if err := e.port.Reopen(); err != nil {
		e.setState(Idle)
		return stage.NewTransportError("reopen", path, err)
	}
	e.sleep(e.recovery.FaultCooldown)
	e.setState(AwaitingAck)
	e.events.Emit(stage.Event{
		Kind: stage.EventFaultRecovered, Time: e.clock.Now(), Path: path, Recoveries: *recoveries,
	})
	return nil
}

func (e *Engine) sleep(d time.Duration) {
	if d > 0 {
		e.clock.Sleep(d)
	}
}
