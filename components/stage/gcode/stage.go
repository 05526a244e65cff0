// Package gcode implements a stage driven by a GCODE board such as GRBL. Position is tracked
// from the commands sent; each move blocks for the time a trapezoidal velocity profile says it
// takes.
package gcode

import (
	"context"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"gonum.org/v1/gonum/floats"

	"github.com/centuri-olf/olfcontrol/components/stage"
	"github.com/centuri-olf/olfcontrol/logging"
	"github.com/centuri-olf/olfcontrol/motion"
	"github.com/centuri-olf/olfcontrol/serial"
)

var _ stage.Stage = (*Stage)(nil)

// Option changes how NewStage builds a stage.
type Option func(*options)

type options struct {
	clock       clock.Clock
	events      stage.EventSink
	port        serial.Port
	skipStartup bool
}

// WithClock makes the stage sleep on clk instead of the wall clock.
func WithClock(clk clock.Clock) Option {
	return func(o *options) { o.clock = clk }
}

// WithEventSink sends stage events to sink in addition to the debug log.
func WithEventSink(sink stage.EventSink) Option {
	return func(o *options) { o.events = sink }
}

// WithPort uses an already open port instead of opening cfg.SerialPath.
func WithPort(port serial.Port) Option {
	return func(o *options) { o.port = port }
}

// WithoutStartup skips homing and moving to the configured origin. The position starts at zero.
func WithoutStartup() Option {
	return func(o *options) { o.skipStartup = true }
}

// Stage is a stage.Stage driven over a serial line.
type Stage struct {
	cfg       Config
	profile   motion.Profile
	engine    *Engine
	clock     clock.Clock
	logger    logging.Logger
	events    stage.EventSink
	simulated bool

	// opMu serializes whole operations, posMu only guards the position snapshot.
	opMu     sync.Mutex
	posMu    sync.RWMutex
	position []float64

	moving atomic.Bool
	closed atomic.Bool
}

// NewStage validates cfg, opens the serial line and, unless WithoutStartup is given, homes the
// stage, moves it to cfg.Origin and declares that location zero.
func NewStage(ctx context.Context, cfg Config, logger logging.Logger, opts ...Option) (*Stage, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate("stage"); err != nil {
		return nil, err
	}
	profile, err := cfg.Profile()
	if err != nil {
		return nil, err
	}

	o := options{clock: clock.New()}
	for _, opt := range opts {
		opt(&o)
	}
	events := stage.MultiSink(stage.NewLoggingSink(logger.Sublogger("events")), o.events)

	port, simulated := o.port, false
	if port == nil {
		if port, simulated, err = openPort(cfg, logger); err != nil {
			return nil, err
		}
	}
	if simulated {
		events.Emit(stage.Event{Kind: stage.EventTransportFallback, Time: o.clock.Now(), Path: cfg.SerialPath})
	}

	engine, err := NewEngine(port, cfg.Dialect, cfg.Recovery, o.clock, logger.Sublogger("engine"), events)
	if err != nil {
		return nil, multierr.Combine(err, port.Close())
	}

	s := &Stage{
		cfg:       cfg,
		profile:   profile,
		engine:    engine,
		clock:     o.clock,
		logger:    logger,
		events:    events,
		simulated: simulated,
		position:  make([]float64, len(cfg.Axes)),
	}
	if o.skipStartup {
		return s, nil
	}
	if err := s.startup(ctx); err != nil {
		return nil, multierr.Combine(err, engine.Close())
	}
	return s, nil
}

func openPort(cfg Config, logger logging.Logger) (serial.Port, bool, error) {
	var (
		port      serial.Port
		simulated bool
		err       error
	)
	if cfg.Simulate {
		port, simulated, err = serial.Simulate(cfg.SerialPath, cfg.Dialect.Ack)
	} else {
		port, simulated, err = serial.OpenOrSimulate(
			cfg.SerialPath, cfg.SerialOptions(), cfg.Dialect.Ack, cfg.AllowSimulation, logger.Sublogger("serial"))
	}
	if err != nil {
		return nil, false, stage.NewTransportError("open", cfg.SerialPath, err)
	}
	return port, simulated, nil
}

func (s *Stage) startup(ctx context.Context) error {
	if err := s.Home(ctx); err != nil {
		return err
	}
	if _, err := s.Move(ctx, s.cfg.Origin, stage.Absolute); err != nil {
		return err
	}
	return s.SetOrigin(ctx)
}

// begin takes the operation lock. The lock is only held when begin returns nil. Close can win
// the lock while an operation waits for it, so closed is checked again once it is held.
func (s *Stage) begin(ctx context.Context) error {
	if s.closed.Load() {
		return stage.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.opMu.Lock()
	if s.closed.Load() {
		s.opMu.Unlock()
		return stage.ErrClosed
	}
	return nil
}

func (s *Stage) issued() {
	s.moving.Store(true)
}

// Home runs the homing cycle. The physical home sits at -origin in user coordinates.
func (s *Stage) Home(ctx context.Context) error {
	if err := s.begin(ctx); err != nil {
		return err
	}
	defer s.opMu.Unlock()

	defer s.moving.Store(false)
	if err := s.engine.Home(s.issued); err != nil {
		return errors.Wrap(err, "error homing stage")
	}

	home := make([]float64, len(s.cfg.Origin))
	floats.ScaleTo(home, -1, s.cfg.Origin)
	s.setPosition(home)
	s.events.Emit(stage.Event{Kind: stage.EventHomed, Time: s.clock.Now(), Position: s.Position()})
	return nil
}

// SetOrigin makes the current location zero on every axis.
func (s *Stage) SetOrigin(ctx context.Context) error {
	if err := s.begin(ctx); err != nil {
		return err
	}
	defer s.opMu.Unlock()

	if err := s.engine.SetOrigin(s.cfg.Axes); err != nil {
		return errors.Wrap(err, "error setting stage origin")
	}
	s.setPosition(make([]float64, len(s.cfg.Axes)))
	s.events.Emit(stage.Event{Kind: stage.EventOriginSet, Time: s.clock.Now(), Position: s.Position()})
	return nil
}

// Move issues displacement in mode and blocks until the estimated travel time has passed.
func (s *Stage) Move(ctx context.Context, displacement []float64, mode stage.MoveMode) ([]float64, error) {
	if err := stage.ValidateDisplacement(s.cfg.Axes, displacement); err != nil {
		return nil, err
	}
	if err := s.begin(ctx); err != nil {
		return nil, err
	}
	defer s.opMu.Unlock()

	target := append([]float64(nil), displacement...)
	current := s.Position()
	dwell := s.profile.TravelTime(s.profile.TravelDistance(mode, target, current))

	if err := s.engine.Linear(s.cfg.Axes, target, mode == stage.Relative, s.issued); err != nil {
		s.moving.Store(false)
		return nil, errors.Wrapf(err, "error moving stage (%s %s)", mode, stage.FormatPosition(s.cfg.Axes, target))
	}

	s.events.Emit(stage.Event{
		Kind: stage.EventMoveIssued, Time: s.clock.Now(), Displacement: target, Mode: mode, Dwell: dwell,
	})
	s.clock.Sleep(dwell)

	next := make([]float64, len(current))
	if mode == stage.Relative {
		floats.AddTo(next, current, target)
	} else {
		copy(next, target)
	}
	s.setPosition(next)
	s.moving.Store(false)

	s.events.Emit(stage.Event{
		Kind: stage.EventMoveCompleted, Time: s.clock.Now(), Position: s.Position(),
		Displacement: target, Mode: mode, Dwell: dwell,
	})
	return s.Position(), nil
}

// Step moves axis by magnitude relative to the current position.
func (s *Stage) Step(ctx context.Context, axis string, magnitude float64) ([]float64, error) {
	displacement, err := stage.StepDisplacement(s.cfg.Axes, axis, magnitude)
	if err != nil {
		return nil, err
	}
	return s.Move(ctx, displacement, stage.Relative)
}

// Position returns a copy of the tracked position.
func (s *Stage) Position() []float64 {
	s.posMu.RLock()
	defer s.posMu.RUnlock()
	return append([]float64(nil), s.position...)
}

func (s *Stage) setPosition(position []float64) {
	s.posMu.Lock()
	defer s.posMu.Unlock()
	s.position = position
}

// Axes returns the axis labels.
func (s *Stage) Axes() string {
	return s.cfg.Axes
}

// IsMoving reports whether a move or homing cycle is in progress, from the moment its command
// is written until the dwell or homing cycle completes.
func (s *Stage) IsMoving() bool {
	return s.moving.Load()
}

// Simulated reports whether the stage fell back to a simulated board.
func (s *Stage) Simulated() bool {
	return s.simulated
}

// Profile returns the motion profile used to estimate dwell times.
func (s *Stage) Profile() motion.Profile {
	return s.profile
}

// EngineState returns the protocol engine's current state.
func (s *Stage) EngineState() State {
	return s.engine.State()
}

// Close waits for the operation in progress, then closes the serial line. Closing twice is a
// no-op.
func (s *Stage) Close(ctx context.Context) error {
	if s.closed.Swap(true) {
		return nil
	}
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return s.engine.Close()
}
