package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/centuri-olf/olfcontrol/components/stage"
	"github.com/centuri-olf/olfcontrol/components/stage/gcode"
	"github.com/centuri-olf/olfcontrol/logging"
	"github.com/centuri-olf/olfcontrol/serial"
)

func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	app := NewApp(&out, &errOut)
	err := app.Run(append([]string{"olfstage"}, args...))
	return out.String(), err
}

func decodePosition(t *testing.T, out string) positionOutput {
	t.Helper()
	var pos positionOutput
	test.That(t, json.Unmarshal([]byte(out), &pos), test.ShouldBeNil)
	return pos
}

func TestAxesCommand(t *testing.T) {
	out, err := runApp(t, "axes")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldEqual, "{\"axes\":\"XY\"}\n")

	path := filepath.Join(t.TempDir(), "stage.json")
	test.That(t, os.WriteFile(path, []byte(`{"stage": {"axes": "XYZ"}}`), 0o600), test.ShouldBeNil)
	out, err = runApp(t, "-c", path, "axes")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldEqual, "{\"axes\":\"XYZ\"}\n")
}

func TestPositionCommandRunsStartup(t *testing.T) {
	out, err := runApp(t, "--simulate", "position")
	test.That(t, err, test.ShouldBeNil)
	pos := decodePosition(t, out)
	test.That(t, pos.Axes, test.ShouldEqual, "XY")
	test.That(t, pos.Position, test.ShouldResemble, []float64{0, 0})
	test.That(t, pos.Simulated, test.ShouldBeTrue)
}

func TestStepCommand(t *testing.T) {
	out, err := runApp(t, "--simulate", "--no-home", "step", "--axis", "y", "--step", "-2")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, decodePosition(t, out).Position, test.ShouldResemble, []float64{0, -2})

	_, err = runApp(t, "--simulate", "--no-home", "step", "--axis", "Z")
	test.That(t, errors.Is(err, stage.ErrAxisNotFound), test.ShouldBeTrue)

	for _, step := range []string{"0", "0.0001", "10.5", "-11"} {
		_, err = runApp(t, "--simulate", "--no-home", "step", "--axis", "X", "--step", step)
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "must be between")
	}
}

func TestMoveCommand(t *testing.T) {
	out, err := runApp(t, "--simulate", "--no-home", "move", "--relative", "1.5, -0.5")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, decodePosition(t, out).Position, test.ShouldResemble, []float64{1.5, -0.5})

	out, err = runApp(t, "--simulate", "--no-home", "move", "--absolute", "3,4")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, decodePosition(t, out).Position, test.ShouldResemble, []float64{3, 4})

	_, err = runApp(t, "--simulate", "--no-home", "move")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "exactly one of")

	_, err = runApp(t, "--simulate", "--no-home", "move", "--relative", "1,a")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, `invalid coordinate "a"`)

	_, err = runApp(t, "--simulate", "--no-home", "move", "--relative", "1,2,3")
	test.That(t, errors.Is(err, stage.ErrDimensionMismatch), test.ShouldBeTrue)
}

func TestHomeAndSetOriginCommands(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stage.json")
	test.That(t, os.WriteFile(path, []byte(`{"stage": {"origin": [2, 1]}}`), 0o600), test.ShouldBeNil)

	out, err := runApp(t, "-c", path, "--simulate", "--no-home", "home")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, decodePosition(t, out).Position, test.ShouldResemble, []float64{-2, -1})

	out, err = runApp(t, "-c", path, "--simulate", "--no-home", "set-origin")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, decodePosition(t, out).Position, test.ShouldResemble, []float64{0, 0})
}

func TestStageOptionsFromFlags(t *testing.T) {
	var gotOpts int
	var gotCfg gcode.Config
	orig := newStage
	newStage = func(ctx context.Context, cfg gcode.Config, logger logging.Logger, opts ...gcode.Option) (*gcode.Stage, error) {
		gotOpts = len(opts)
		gotCfg = cfg
		return orig(ctx, cfg, logger, opts...)
	}
	defer func() { newStage = orig }()

	logFile := filepath.Join(t.TempDir(), "olfstage.log")
	_, err := runApp(t, "--simulate", "--no-home", "--log-file", logFile, "position")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, gotOpts, test.ShouldEqual, 1)
	test.That(t, gotCfg.Simulate, test.ShouldBeTrue)

	_, err = os.Stat(logFile)
	test.That(t, err, test.ShouldBeNil)
}

func TestBadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stage.json")
	test.That(t, os.WriteFile(path, []byte(`{"stage": {"axes": "XX"}}`), 0o600), test.ShouldBeNil)
	_, err := runApp(t, "-c", path, "--simulate", "position")
	test.That(t, errors.Is(err, stage.ErrInvalidConfig), test.ShouldBeTrue)
}

func TestSchemaCommand(t *testing.T) {
	out, err := runApp(t, "schema")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, `"max_fault_recoveries"`)
}

func TestPortsTable(t *testing.T) {
	out := portsTable([]serial.Description{
		{Type: serial.TypeArduino, Path: "/dev/ttyACM0", VID: "2341", PID: "0043"},
	})
	test.That(t, out, test.ShouldContainSubstring, "PATH")
	test.That(t, out, test.ShouldContainSubstring, "/dev/ttyACM0")
	test.That(t, out, test.ShouldContainSubstring, "arduino")
}

func runSession(t *testing.T, input string, args ...string) ([]string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	app := NewApp(&out, &errOut)
	app.Reader = strings.NewReader(input)
	err := app.Run(append([]string{"olfstage"}, args...))

	var lines []string
	scanner := bufio.NewScanner(&out)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines, err
}

func TestRunSessionTracksPosition(t *testing.T) {
	lines, err := runSession(t, `
# steps accumulate on one stage
step x 1
step Y -2
position
move relative 0.5,0.5
move absolute 3,4
set-origin
quit
step X 1
`, "--simulate", "--no-home", "run")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, lines, test.ShouldHaveLength, 6)

	var positions [][]float64
	for _, line := range lines {
		positions = append(positions, decodePosition(t, line).Position)
	}
	test.That(t, positions, test.ShouldResemble, [][]float64{
		{1, 0}, {1, -2}, {1, -2}, {1.5, -1.5}, {3, 4}, {0, 0},
	})
}

func TestRunSessionReportsBadLines(t *testing.T) {
	lines, err := runSession(t, "step Z 1\nstep X 20\nmove sideways 1,1\nmove relative 1,2,3\njump\nstep X 1\n",
		"--simulate", "--no-home", "run")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, lines, test.ShouldHaveLength, 6)

	for i, want := range []string{"axis", "must be between", "relative or absolute", "components", "unknown command"} {
		var got sessionError
		test.That(t, json.Unmarshal([]byte(lines[i]), &got), test.ShouldBeNil)
		test.That(t, got.Line, test.ShouldEqual, i+1)
		test.That(t, got.Error, test.ShouldContainSubstring, want)
	}
	test.That(t, decodePosition(t, lines[5]).Position, test.ShouldResemble, []float64{1, 0})
}
