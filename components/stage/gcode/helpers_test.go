package gcode

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"go.viam.com/test"

	"github.com/centuri-olf/olfcontrol/components/stage"
	"github.com/centuri-olf/olfcontrol/logging"
	"github.com/centuri-olf/olfcontrol/serial"
)

const testPath = "/dev/ttyACM0"

func testConfig() Config {
	return Config{
		Axes:            "XY",
		Origin:          []float64{0, 0},
		SerialPath:      testPath,
		MaxFeedRate:     4000.0 / 60,
		MaxAcceleration: 500,
		SettleDelay:     10 * time.Millisecond,
		Recovery: RecoveryConfig{
			FaultCooldown: 50 * time.Millisecond,
		},
	}
}

type testRig struct {
	stage  *Stage
	port   *serial.SimulatedPort
	clock  *clock.Mock
	events *stage.Recorder
}

// newTestRig builds a stage on a simulated port and a mock clock, without the startup sequence.
func newTestRig(t *testing.T, cfg Config, opts ...Option) *testRig {
	t.Helper()
	rig := &testRig{
		port:   serial.NewSimulatedPort(testPath, "ok"),
		clock:  clock.NewMock(),
		events: &stage.Recorder{},
	}
	opts = append([]Option{
		WithPort(rig.port),
		WithClock(rig.clock),
		WithEventSink(rig.events),
		WithoutStartup(),
	}, opts...)
	s, err := NewStage(context.Background(), cfg, logging.NewTestLogger(t), opts...)
	test.That(t, err, test.ShouldBeNil)
	rig.stage = s
	t.Cleanup(func() {
		test.That(t, s.Close(context.Background()), test.ShouldBeNil)
	})
	return rig
}

// advance runs op on its own goroutine and moves the mock clock forward by step until op
// returns. It returns how much mock time passed.
func advance(mock *clock.Mock, step time.Duration, op func()) time.Duration {
	start := mock.Now()
	done := make(chan struct{})
	go func() {
		defer close(done)
		op()
	}()
	pump(mock, step, done)
	return mock.Now().Sub(start)
}

func pump(mock *clock.Mock, step time.Duration, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		default:
			mock.Add(step)
		}
	}
}

func (r *testRig) step(t *testing.T, axis string, magnitude float64) []float64 {
	t.Helper()
	var (
		pos []float64
		err error
	)
	advance(r.clock, 5*time.Millisecond, func() {
		pos, err = r.stage.Step(context.Background(), axis, magnitude)
	})
	test.That(t, err, test.ShouldBeNil)
	return pos
}

func (r *testRig) move(t *testing.T, displacement []float64, mode stage.MoveMode) []float64 {
	t.Helper()
	var (
		pos []float64
		err error
	)
	advance(r.clock, 5*time.Millisecond, func() {
		pos, err = r.stage.Move(context.Background(), displacement, mode)
	})
	test.That(t, err, test.ShouldBeNil)
	return pos
}

// faultingPort reports one fault right after the first line starting with trigger is written.
// When stage is set it also records whether the stage looked busy each time the engine wrote,
// read or reopened.
type faultingPort struct {
	*serial.SimulatedPort
	trigger string
	stage   *Stage

	mu      sync.Mutex
	faulted bool
	samples []busySample
}

type busySample struct {
	op     string
	moving bool
}

func newFaultingPort(trigger string) *faultingPort {
	return &faultingPort{SimulatedPort: serial.NewSimulatedPort(testPath, "ok"), trigger: trigger}
}

func (p *faultingPort) watch(s *Stage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stage = s
}

func (p *faultingPort) sample(op string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stage != nil {
		p.samples = append(p.samples, busySample{op: op, moving: p.stage.IsMoving()})
	}
}

func (p *faultingPort) Write(b []byte) (int, error) {
	line := strings.TrimRight(string(b), "\r\n")
	p.sample("write " + line)
	n, err := p.SimulatedPort.Write(b)

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.faulted && strings.HasPrefix(line, p.trigger) {
		p.faulted = true
		p.SimulatedPort.Inject("ALARM:1")
	}
	return n, err
}

func (p *faultingPort) ReadLine() (string, error) {
	p.sample("read")
	return p.SimulatedPort.ReadLine()
}

func (p *faultingPort) Reopen() error {
	p.sample("reopen")
	return p.SimulatedPort.Reopen()
}

func (p *faultingPort) busy() []busySample {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]busySample(nil), p.samples...)
}

// gatedPort blocks the first write until release is closed.
type gatedPort struct {
	*serial.SimulatedPort
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGatedPort() *gatedPort {
	return &gatedPort{
		SimulatedPort: serial.NewSimulatedPort(testPath, "ok"),
		entered:       make(chan struct{}),
		release:       make(chan struct{}),
	}
}

func (p *gatedPort) Write(b []byte) (int, error) {
	p.once.Do(func() {
		close(p.entered)
		<-p.release
	})
	return p.SimulatedPort.Write(b)
}
