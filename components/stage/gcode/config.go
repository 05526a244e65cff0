package gcode

import (
	"math"
	"time"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"github.com/centuri-olf/olfcontrol/components/stage"
	"github.com/centuri-olf/olfcontrol/motion"
	"github.com/centuri-olf/olfcontrol/serial"
)

// Defaults match the board the controller was first written for: a GRBL shield on an Arduino
// driving an XY table at 4000 mm/min.
const (
	DefaultAxes            = "XY"
	DefaultSerialPath      = "/dev/ttyACM0"
	DefaultBaudRate        = 115200
	DefaultMaxFeedRate     = 4000.0 / 60
	DefaultMaxAcceleration = 500.0
	DefaultSettleDelay     = 10 * time.Millisecond

	DefaultFaultCooldown      = 2 * time.Second
	DefaultPollInterval       = time.Millisecond
	DefaultMaxFaultRecoveries = 5
	DefaultHomingTimeout      = 2 * time.Minute
	DefaultLineTimeout        = 5 * time.Second
)

// Config describes a GCODE stage. Zero values are replaced by the defaults above.
type Config struct {
	Axes            string        `json:"axes"`
	Origin          []float64     `json:"origin,omitempty"`
	SerialPath      string        `json:"serial_path,omitempty"`
	BaudRate        int           `json:"serial_baud_rate,omitempty"`
	MaxFeedRate     float64       `json:"max_feed_rate,omitempty"`
	MaxAcceleration float64       `json:"max_acceleration,omitempty"`
	SettleDelay     time.Duration `json:"settle_delay,omitempty"`

	// Simulate skips the device entirely. AllowSimulation only falls back to the simulated
	// board when the device cannot be opened.
	Simulate        bool `json:"simulate,omitempty"`
	AllowSimulation bool `json:"allow_simulation,omitempty"`

	Recovery RecoveryConfig `json:"recovery"`
	Dialect  Dialect        `json:"dialect"`
}

// RecoveryConfig tunes how the protocol engine waits on and recovers from the board.
type RecoveryConfig struct {
	FaultCooldown time.Duration `json:"fault_cooldown,omitempty"`
	PollInterval  time.Duration `json:"poll_interval,omitempty"`
	// MaxFaultRecoveries bounds recoveries within one exchange. Negative means unbounded.
	MaxFaultRecoveries int           `json:"max_fault_recoveries,omitempty"`
	HomingTimeout      time.Duration `json:"homing_timeout,omitempty"`
	LineTimeout        time.Duration `json:"line_timeout,omitempty"`
}

// DefaultConfig returns the configuration of the original XY table.
func DefaultConfig() Config {
	return Config{}.WithDefaults()
}

// WithDefaults returns a copy of cfg with every unset field filled in.
func (cfg Config) WithDefaults() Config {
	if cfg.Axes == "" {
		cfg.Axes = DefaultAxes
	}
	if cfg.Origin == nil {
		cfg.Origin = make([]float64, len(cfg.Axes))
	} else {
		cfg.Origin = append([]float64(nil), cfg.Origin...)
	}
	if cfg.SerialPath == "" {
		cfg.SerialPath = DefaultSerialPath
	}
	if cfg.BaudRate == 0 {
		cfg.BaudRate = DefaultBaudRate
	}
	if cfg.MaxFeedRate == 0 {
		cfg.MaxFeedRate = DefaultMaxFeedRate
	}
	if cfg.MaxAcceleration == 0 {
		cfg.MaxAcceleration = DefaultMaxAcceleration
	}
	if cfg.SettleDelay == 0 {
		cfg.SettleDelay = DefaultSettleDelay
	}
	cfg.Recovery = cfg.Recovery.withDefaults()
	cfg.Dialect = cfg.Dialect.WithDefaults()
	return cfg
}

func (rc RecoveryConfig) withDefaults() RecoveryConfig {
	if rc.FaultCooldown == 0 {
		rc.FaultCooldown = DefaultFaultCooldown
	}
	if rc.PollInterval == 0 {
		rc.PollInterval = DefaultPollInterval
	}
	if rc.MaxFaultRecoveries == 0 {
		rc.MaxFaultRecoveries = DefaultMaxFaultRecoveries
	}
	if rc.HomingTimeout == 0 {
		rc.HomingTimeout = DefaultHomingTimeout
	}
	if rc.LineTimeout == 0 {
		rc.LineTimeout = DefaultLineTimeout
	}
	return rc
}

// Validate reports every problem with cfg at once. The returned error matches
// stage.ErrInvalidConfig.
func (cfg *Config) Validate(path string) error {
	var errs error

	switch {
	case cfg.Axes == "":
		errs = multierr.Append(errs, goutils.NewConfigValidationFieldRequiredError(path, "axes"))
	case len(cfg.Axes) > stage.MaxAxes:
		errs = multierr.Append(errs, goutils.NewConfigValidationError(path,
			errors.Errorf("axes %q: at most %d axes are supported", cfg.Axes, stage.MaxAxes)))
	default:
		for _, r := range cfg.Axes {
			if r < 'A' || r > 'Z' {
				errs = multierr.Append(errs, goutils.NewConfigValidationError(path,
					errors.Errorf("axes %q: %q is not an upper case letter", cfg.Axes, r)))
			}
		}
		if dups := lo.FindDuplicates([]rune(cfg.Axes)); len(dups) > 0 {
			errs = multierr.Append(errs, goutils.NewConfigValidationError(path,
				errors.Errorf("axes %q: %q is repeated", cfg.Axes, string(dups))))
		}
	}

	if len(cfg.Origin) != len(cfg.Axes) {
		errs = multierr.Append(errs, goutils.NewConfigValidationError(path,
			errors.Errorf("origin has %d values for %d axes", len(cfg.Origin), len(cfg.Axes))))
	}
	for i, v := range cfg.Origin {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			errs = multierr.Append(errs, goutils.NewConfigValidationError(path,
				errors.Errorf("origin[%d] is not finite", i)))
		}
	}

	if cfg.SerialPath == "" && !cfg.Simulate {
		errs = multierr.Append(errs, goutils.NewConfigValidationFieldRequiredError(path, "serial_path"))
	}
	if cfg.BaudRate <= 0 {
		errs = multierr.Append(errs, goutils.NewConfigValidationError(path,
			errors.Errorf("serial_baud_rate must be positive, got %d", cfg.BaudRate)))
	}
	if _, err := motion.NewProfile(cfg.MaxFeedRate, cfg.MaxAcceleration, cfg.SettleDelay); err != nil {
		errs = multierr.Append(errs, goutils.NewConfigValidationError(path, err))
	}

	for name, d := range map[string]time.Duration{
		"recovery.fault_cooldown": cfg.Recovery.FaultCooldown,
		"recovery.poll_interval":  cfg.Recovery.PollInterval,
		"recovery.homing_timeout": cfg.Recovery.HomingTimeout,
		"recovery.line_timeout":   cfg.Recovery.LineTimeout,
	} {
		if d < 0 {
			errs = multierr.Append(errs, goutils.NewConfigValidationError(path,
				errors.Errorf("%s must not be negative, got %v", name, d)))
		}
	}

	if err := cfg.Dialect.Validate(); err != nil {
		errs = multierr.Append(errs, goutils.NewConfigValidationError(path, err))
	}

	if errs != nil {
		return multierr.Append(stage.ErrInvalidConfig, errs)
	}
	return nil
}

// Profile returns the motion profile for cfg. cfg must be valid.
func (cfg *Config) Profile() (motion.Profile, error) {
	return motion.NewProfile(cfg.MaxFeedRate, cfg.MaxAcceleration, cfg.SettleDelay)
}

// SerialOptions returns the options used to open the device.
func (cfg *Config) SerialOptions() serial.Options {
	options := serial.DefaultOptions(cfg.BaudRate)
	options.LineTimeout = cfg.Recovery.LineTimeout
	return options
}
