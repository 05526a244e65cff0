// Package config reads the stage controller's configuration file.
package config

import (
	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"github.com/centuri-olf/olfcontrol/components/stage"
	"github.com/centuri-olf/olfcontrol/components/stage/gcode"
	"github.com/centuri-olf/olfcontrol/logging"
)

// Config is the whole configuration file.
type Config struct {
	ConfigFilePath string `json:"-"`

	Stage gcode.Config `json:"stage"`
	Debug bool         `json:"debug,omitempty"`
	Log   LogConfig    `json:"log"`
}

// LogConfig optionally mirrors logs into a rotated file.
type LogConfig struct {
	File       string `json:"file,omitempty"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty"`
	MaxBackups int    `json:"max_backups,omitempty"`
	Compress   bool   `json:"compress,omitempty"`
}

// FileConfig converts lc for logging.NewFileLogger.
func (lc LogConfig) FileConfig() logging.FileConfig {
	return logging.FileConfig{
		Path:       lc.File,
		MaxSizeMB:  lc.MaxSizeMB,
		MaxBackups: lc.MaxBackups,
		Compress:   lc.Compress,
	}
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{Stage: gcode.DefaultConfig()}
}

// Ensure fills in defaults and validates the whole configuration.
func (c *Config) Ensure() error {
	c.Stage = c.Stage.WithDefaults()
	var errs error
	if c.Log.MaxSizeMB < 0 {
		errs = multierr.Append(errs, goutils.NewConfigValidationError("log",
			errors.Errorf("max_size_mb must not be negative, got %d", c.Log.MaxSizeMB)))
	}
	if c.Log.MaxBackups < 0 {
		errs = multierr.Append(errs, goutils.NewConfigValidationError("log",
			errors.Errorf("max_backups must not be negative, got %d", c.Log.MaxBackups)))
	}
	if errs != nil {
		errs = multierr.Append(stage.ErrInvalidConfig, errs)
	}
	return multierr.Combine(c.Stage.Validate("stage"), errs)
}

// Schema returns the JSON schema of the configuration file.
func Schema() *jsonschema.Schema {
	return jsonschema.Reflect(&Config{})
}
