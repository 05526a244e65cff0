package cli

import (
	"bufio"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/centuri-olf/olfcontrol/components/stage"
	"github.com/centuri-olf/olfcontrol/components/stage/gcode"
	"github.com/centuri-olf/olfcontrol/logging"
)

// errBadCommand marks a session line that could not be understood.
var errBadCommand = errors.New("bad command")

type sessionError struct {
	Line  int    `json:"line"`
	Error string `json:"error"`
}

// RunAction keeps one stage open and runs commands read line by line from the app's reader,
// printing the position after each one. Mistakes in a line are reported and the session goes
// on; board and transport failures end it.
func RunAction(c *cli.Context) error {
	return useStage(c, func(s *gcode.Stage, logger logging.Logger) error {
		scanner := bufio.NewScanner(c.App.Reader)
		for n := 1; scanner.Scan(); n++ {
			if err := c.Context.Err(); err != nil {
				return err
			}
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			if line == "quit" || line == "exit" {
				return nil
			}

			err := runSessionLine(c, s, line)
			switch {
			case err == nil:
				if err := printPosition(c, s); err != nil {
					return err
				}
			case isCallerError(err):
				logger.Debugw("rejected session command", "line", n, "command", line, "error", err)
				if err := printJSON(c, sessionError{Line: n, Error: err.Error()}); err != nil {
					return err
				}
			default:
				return errors.Wrapf(err, "line %d (%s)", n, line)
			}
		}
		return scanner.Err()
	})
}

func runSessionLine(c *cli.Context, s *gcode.Stage, line string) error {
	fields := strings.Fields(line)
	switch cmd, args := fields[0], fields[1:]; cmd {
	case "position":
		return expectArgs(cmd, args, 0)
	case "home":
		if err := expectArgs(cmd, args, 0); err != nil {
			return err
		}
		return s.Home(c.Context)
	case "set-origin":
		if err := expectArgs(cmd, args, 0); err != nil {
			return err
		}
		return s.SetOrigin(c.Context)
	case "step":
		if err := expectArgs(cmd, args, 2); err != nil {
			return err
		}
		step, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return errors.Wrapf(errBadCommand, "invalid step %q", args[1])
		}
		if err := checkStep(step); err != nil {
			return errors.Wrap(errBadCommand, err.Error())
		}
		_, err = s.Step(c.Context, strings.ToUpper(args[0]), step)
		return err
	case "move":
		if err := expectArgs(cmd, args, 2); err != nil {
			return err
		}
		var mode stage.MoveMode
		switch args[0] {
		case "relative":
			mode = stage.Relative
		case "absolute":
			mode = stage.Absolute
		default:
			return errors.Wrapf(errBadCommand, "move mode must be relative or absolute, got %q", args[0])
		}
		displacement, err := parseVector(args[1])
		if err != nil {
			return errors.Wrap(errBadCommand, err.Error())
		}
		_, err = s.Move(c.Context, displacement, mode)
		return err
	default:
		return errors.Wrapf(errBadCommand, "unknown command %q", cmd)
	}
}

func expectArgs(cmd string, args []string, n int) error {
	if len(args) != n {
		return errors.Wrapf(errBadCommand, "%s takes %d arguments, got %d", cmd, n, len(args))
	}
	return nil
}

func isCallerError(err error) bool {
	return errors.Is(err, errBadCommand) ||
		errors.Is(err, stage.ErrAxisNotFound) ||
		errors.Is(err, stage.ErrDimensionMismatch) ||
		errors.Is(err, stage.ErrInvalidDisplacement)
}
