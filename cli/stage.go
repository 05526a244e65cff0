package cli

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/centuri-olf/olfcontrol/components/stage"
	"github.com/centuri-olf/olfcontrol/components/stage/gcode"
	"github.com/centuri-olf/olfcontrol/config"
	"github.com/centuri-olf/olfcontrol/logging"
	"github.com/centuri-olf/olfcontrol/serial"
)

// newStage builds the stage for a command. It is a variable so tests can inject options.
var newStage = gcode.NewStage

type positionOutput struct {
	Axes      string    `json:"axes"`
	Position  []float64 `json:"position"`
	Simulated bool      `json:"simulated"`
}

type portOutput struct {
	Type string `json:"type"`
	Path string `json:"path"`
	VID  string `json:"vid"`
	PID  string `json:"pid"`
}

// AxesAction prints the configured axes without touching the board.
func AxesAction(c *cli.Context) error {
	cfg, err := readConfig(c, logging.NewNopLogger())
	if err != nil {
		return err
	}
	return printJSON(c, map[string]string{"axes": cfg.Stage.Axes})
}

// PositionAction builds the stage and prints its position.
func PositionAction(c *cli.Context) error {
	return withStage(c, func(*gcode.Stage) error { return nil })
}

// HomeAction runs the homing cycle.
func HomeAction(c *cli.Context) error {
	return withStage(c, func(s *gcode.Stage) error {
		return s.Home(c.Context)
	})
}

// SetOriginAction zeroes the position at the current location.
func SetOriginAction(c *cli.Context) error {
	return withStage(c, func(s *gcode.Stage) error {
		return s.SetOrigin(c.Context)
	})
}

// StepAction moves one axis.
func StepAction(c *cli.Context) error {
	step := c.Float64(stepFlagStep)
	if err := checkStep(step); err != nil {
		return errors.Wrapf(err, "--%s", stepFlagStep)
	}
	axis := strings.ToUpper(c.String(stepFlagAxis))
	return withStage(c, func(s *gcode.Stage) error {
		_, err := s.Step(c.Context, axis, step)
		return err
	})
}

// MoveAction issues a relative or absolute move.
func MoveAction(c *cli.Context) error {
	relative, absolute := c.String(moveFlagRelative), c.String(moveFlagAbsolute)
	if (relative == "") == (absolute == "") {
		return errors.Errorf("exactly one of --%s and --%s is required", moveFlagRelative, moveFlagAbsolute)
	}
	mode, raw := stage.Relative, relative
	if absolute != "" {
		mode, raw = stage.Absolute, absolute
	}
	displacement, err := parseVector(raw)
	if err != nil {
		return err
	}
	return withStage(c, func(s *gcode.Stage) error {
		_, err := s.Move(c.Context, displacement, mode)
		return err
	})
}

// PortsAction lists candidate serial devices.
func PortsAction(c *cli.Context) error {
	found, err := serial.Search(serial.SearchFilter{Type: serial.Type(c.String(portsFlagType))})
	if err != nil {
		return err
	}
	if c.Bool(portsFlagTable) {
		_, err := fmt.Fprintln(c.App.Writer, portsTable(found))
		return err
	}
	out := make([]portOutput, 0, len(found))
	for _, d := range found {
		out = append(out, portOutput{Type: string(d.Type), Path: d.Path, VID: d.VID, PID: d.PID})
	}
	return printJSON(c, out)
}

// SchemaAction prints the configuration file's JSON schema.
func SchemaAction(c *cli.Context) error {
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(config.Schema())
}

func portsTable(found []serial.Description) string {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"#", "Path", "Type", "VID", "PID"})
	for i, d := range found {
		t.AppendRow(table.Row{i + 1, d.Path, string(d.Type), d.VID, d.PID})
	}
	return t.Render()
}

func checkStep(step float64) error {
	if mag := math.Abs(step); math.IsNaN(step) || mag < minStepMagnitude || mag > maxStepMagnitude {
		return errors.Errorf("step must be between %v and %v in magnitude, got %v",
			minStepMagnitude, maxStepMagnitude, step)
	}
	return nil
}

func readConfig(c *cli.Context, logger logging.Logger) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path := c.String(generalFlagConfig); path != "" {
		if cfg, err = config.Read(path, logger); err != nil {
			return nil, err
		}
	} else {
		cfg = config.Default()
	}
	if c.Bool(generalFlagSimulate) {
		cfg.Stage.Simulate = true
	}
	if c.Bool(generalFlagDebug) {
		cfg.Debug = true
	}
	if logFile := c.Path(generalFlagLogFile); logFile != "" {
		cfg.Log.File = logFile
	}
	return cfg, cfg.Ensure()
}

func newLogger(cfg *config.Config) (logging.Logger, func() error) {
	if cfg.Debug {
		logging.GlobalLogLevel.SetLevel(zap.DebugLevel)
	}
	if cfg.Log.File != "" {
		return logging.NewFileLogger("olfstage", logging.NewStderrLoggerConfig(), cfg.Log.FileConfig())
	}
	logger := logging.NewStderrLogger("olfstage")
	return logger, func() error { return nil }
}

// withStage builds the stage, runs op, prints the resulting position and closes the stage.
func withStage(c *cli.Context, op func(s *gcode.Stage) error) error {
	return useStage(c, func(s *gcode.Stage, _ logging.Logger) error {
		if err := op(s); err != nil {
			return err
		}
		return printPosition(c, s)
	})
}

// useStage builds the stage, hands it to op and closes it once op returns.
func useStage(c *cli.Context, op func(s *gcode.Stage, logger logging.Logger) error) (err error) {
	cfg, err := readConfig(c, logging.NewNopLogger())
	if err != nil {
		return err
	}
	logger, closeLogs := newLogger(cfg)
	defer func() {
		err = multierr.Combine(err, closeLogs())
	}()

	var opts []gcode.Option
	if c.Bool(generalFlagNoHome) {
		opts = append(opts, gcode.WithoutStartup())
	}
	s, err := newStage(c.Context, cfg.Stage, logger, opts...)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, s.Close(c.Context))
	}()
	logger.Infow("stage ready", "axes", s.Axes(), "position", s.Position(), "simulated", s.Simulated())

	return op(s, logger)
}

func printPosition(c *cli.Context, s *gcode.Stage) error {
	return printJSON(c, positionOutput{Axes: s.Axes(), Position: s.Position(), Simulated: s.Simulated()})
}

func parseVector(raw string) ([]float64, error) {
	parts := strings.Split(raw, ",")
	values := make([]float64, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid coordinate %q", p)
		}
		values = append(values, v)
	}
	return values, nil
}

func printJSON(c *cli.Context, v interface{}) error {
	enc := json.NewEncoder(c.App.Writer)
	return enc.Encode(v)
}
