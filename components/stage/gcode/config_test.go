package gcode

import (
	"math"
	"testing"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/test"

	"github.com/centuri-olf/olfcontrol/components/stage"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	test.That(t, cfg.Axes, test.ShouldEqual, "XY")
	test.That(t, cfg.Origin, test.ShouldResemble, []float64{0, 0})
	test.That(t, cfg.SerialPath, test.ShouldEqual, "/dev/ttyACM0")
	test.That(t, cfg.BaudRate, test.ShouldEqual, 115200)
	test.That(t, cfg.MaxFeedRate, test.ShouldAlmostEqual, 66.6666, 1e-3)
	test.That(t, cfg.MaxAcceleration, test.ShouldEqual, 500.0)
	test.That(t, cfg.SettleDelay, test.ShouldEqual, 10*time.Millisecond)
	test.That(t, cfg.Recovery.FaultCooldown, test.ShouldEqual, 2*time.Second)
	test.That(t, cfg.Recovery.PollInterval, test.ShouldEqual, time.Millisecond)
	test.That(t, cfg.Recovery.MaxFaultRecoveries, test.ShouldEqual, 5)
	test.That(t, cfg.Dialect, test.ShouldResemble, DefaultDialect())
	test.That(t, cfg.Validate("stage"), test.ShouldBeNil)

	options := cfg.SerialOptions()
	test.That(t, options.BaudRate, test.ShouldEqual, 115200)
	test.That(t, options.LineTimeout, test.ShouldEqual, 5*time.Second)
}

func TestWithDefaultsCopiesOrigin(t *testing.T) {
	origin := []float64{1, 2, 3}
	cfg := Config{Axes: "XYZ", Origin: origin, SerialPath: "/dev/ttyUSB0"}.WithDefaults()
	origin[0] = 42
	test.That(t, cfg.Origin, test.ShouldResemble, []float64{1, 2, 3})
	test.That(t, cfg.Validate("stage"), test.ShouldBeNil)
}

func TestConfigValidate(t *testing.T) {
	for _, tc := range []struct {
		name   string
		modify func(*Config)
		want   string
	}{
		{"empty axes", func(c *Config) { c.Axes = ""; c.Origin = nil }, `"axes" is required`},
		{"too many axes", func(c *Config) { c.Axes = "XYZA"; c.Origin = make([]float64, 4) }, "at most 3 axes"},
		{"lower case axis", func(c *Config) { c.Axes = "xY" }, "not an upper case letter"},
		{"repeated axis", func(c *Config) { c.Axes = "XX" }, "is repeated"},
		{"origin length", func(c *Config) { c.Origin = []float64{1} }, "origin has 1 values for 2 axes"},
		{"origin not finite", func(c *Config) { c.Origin = []float64{0, math.Inf(1)} }, "origin[1] is not finite"},
		{"no serial path", func(c *Config) { c.SerialPath = "" }, `"serial_path" is required`},
		{"negative baud", func(c *Config) { c.BaudRate = -9600 }, "serial_baud_rate must be positive"},
		{"negative feed rate", func(c *Config) { c.MaxFeedRate = -1 }, "max feed rate"},
		{"negative cooldown", func(c *Config) { c.Recovery.FaultCooldown = -time.Second }, "recovery.fault_cooldown"},
		{"bad fault pattern", func(c *Config) { c.Dialect.FaultPattern = "(" }, "fault_pattern"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig().WithDefaults()
			tc.modify(&cfg)
			err := cfg.Validate("stage")
			test.That(t, err, test.ShouldNotBeNil)
			test.That(t, errors.Is(err, stage.ErrInvalidConfig), test.ShouldBeTrue)
			test.That(t, err.Error(), test.ShouldContainSubstring, tc.want)
		})
	}
}

func TestConfigValidateCollectsEverything(t *testing.T) {
	cfg := testConfig().WithDefaults()
	cfg.Axes = "XX"
	cfg.SerialPath = ""
	cfg.BaudRate = -1
	err := cfg.Validate("stage")
	// the sentinel plus one entry per problem
	test.That(t, multierr.Errors(err), test.ShouldHaveLength, 4)
}

func TestSimulateNeedsNoSerialPath(t *testing.T) {
	cfg := testConfig().WithDefaults()
	cfg.SerialPath = ""
	cfg.Simulate = true
	test.That(t, cfg.Validate("stage"), test.ShouldBeNil)
}
