package config

import (
	"bytes"
	"encoding/json"
	"io"
	"sort"

	"github.com/a8m/envsubst"
	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/multierr"

	"github.com/centuri-olf/olfcontrol/components/stage"
	"github.com/centuri-olf/olfcontrol/logging"
)

// Read reads a config from the given file. Environment variables such as ${OLF_SERIAL_PATH} are
// expanded before parsing.
func Read(filePath string, logger logging.Logger) (*Config, error) {
	buf, err := envsubst.ReadFile(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read config file %q", filePath)
	}
	return FromReader(filePath, bytes.NewReader(buf), logger)
}

// FromReader reads a config from the given reader and specifies
// where, if applicable, the file the reader originated from.
func FromReader(originalPath string, r io.Reader, logger logging.Logger) (*Config, error) {
	var raw map[string]interface{}
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, errors.Wrap(err, "cannot unmarshal config")
	}

	cfg := &Config{ConfigFilePath: originalPath}
	var md mapstructure.Metadata
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:    "json",
		Result:     cfg,
		Metadata:   &md,
		DecodeHook: mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, errors.Wrap(stage.ErrInvalidConfig, err.Error())
	}
	if len(md.Unused) > 0 {
		sort.Strings(md.Unused)
		return nil, errors.Wrapf(stage.ErrInvalidConfig, "unknown keys %q", md.Unused)
	}
	if err := checkExplicitZeros(cfg, md.Keys); err != nil {
		return nil, err
	}

	if err := cfg.Ensure(); err != nil {
		return nil, err
	}
	logger.Debugw("read config", "path", originalPath, "axes", cfg.Stage.Axes, "serial_path", cfg.Stage.SerialPath)
	return cfg, nil
}

// checkExplicitZeros rejects rates written out as zero. Zero in code means "use the default",
// but a zero in a file is a non-positive rate.
func checkExplicitZeros(cfg *Config, decoded []string) error {
	var errs error
	for key, isZero := range map[string]bool{
		"stage.serial_baud_rate": cfg.Stage.BaudRate == 0,
		"stage.max_feed_rate":    cfg.Stage.MaxFeedRate == 0,
		"stage.max_acceleration": cfg.Stage.MaxAcceleration == 0,
	} {
		if isZero && lo.Contains(decoded, key) {
			errs = multierr.Append(errs, errors.Errorf("%s must be positive, got 0", key))
		}
	}
	if errs != nil {
		return multierr.Append(stage.ErrInvalidConfig, errs)
	}
	return nil
}
