// Package cli contains the olfstage command line interface.
package cli

import (
	"io"

	"github.com/urfave/cli/v2"
)

const (
	// Global flags.
	generalFlagConfig   = "config"
	generalFlagDebug    = "debug"
	generalFlagLogFile  = "log-file"
	generalFlagSimulate = "simulate"
	generalFlagNoHome   = "no-home"

	stepFlagAxis      = "axis"
	stepFlagStep      = "step"
	moveFlagRelative  = "relative"
	moveFlagAbsolute  = "absolute"
	portsFlagType     = "type"
	portsFlagTable    = "table"
	minStepMagnitude  = 0.001
	maxStepMagnitude  = 10.0
	defaultStepLength = 1.0
)

// NewApp returns a new app with the olfstage commands, Writer set to out, and ErrWriter
// set to errOut.
func NewApp(out, errOut io.Writer) *cli.App {
	return &cli.App{
		Name:            "olfstage",
		Usage:           "drive the olfactometer's GCODE translation stage",
		HideHelpCommand: true,
		Writer:          out,
		ErrWriter:       errOut,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    generalFlagConfig,
				Aliases: []string{"c"},
				Usage:   "load configuration from `FILE`",
			},
			&cli.BoolFlag{
				Name:    generalFlagDebug,
				Aliases: []string{"vvv"},
				Usage:   "enable debug logging",
			},
			&cli.PathFlag{
				Name:  generalFlagLogFile,
				Usage: "also write JSON logs to `FILE`",
			},
			&cli.BoolFlag{
				Name:  generalFlagSimulate,
				Usage: "talk to a simulated board instead of the serial device",
			},
			&cli.BoolFlag{
				Name:  generalFlagNoHome,
				Usage: "skip homing and moving to the configured origin",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "axes",
				Usage:  "print the configured axis labels",
				Action: AxesAction,
			},
			{
				Name:   "position",
				Usage:  "print the tracked position",
				Action: PositionAction,
			},
			{
				Name:   "home",
				Usage:  "run the homing cycle",
				Action: HomeAction,
			},
			{
				Name:   "set-origin",
				Usage:  "declare the current location zero on every axis",
				Action: SetOriginAction,
			},
			{
				Name:      "step",
				Usage:     "move one axis relative to the current position",
				UsageText: "olfstage step --axis <axis> [--step <mm>]",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     stepFlagAxis,
						Required: true,
						Usage:    "axis label, e.g. X",
					},
					&cli.Float64Flag{
						Name:  stepFlagStep,
						Value: defaultStepLength,
						Usage: "signed step length in mm, between 0.001 and 10 in magnitude",
					},
				},
				Action: StepAction,
			},
			{
				Name:      "move",
				Usage:     "issue one linear move",
				UsageText: "olfstage move (--relative <x,y> | --absolute <x,y>)",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  moveFlagRelative,
						Usage: "displacement in mm, one comma separated value per axis",
					},
					&cli.StringFlag{
						Name:  moveFlagAbsolute,
						Usage: "target position in mm, one comma separated value per axis",
					},
				},
				Action: MoveAction,
			},
			{
				Name:  "run",
				Usage: "keep the stage open and run commands read from stdin, one per line",
				Description: `Each line is one of
   position
   home
   set-origin
   step <axis> <mm>
   move relative|absolute <x,y[,z]>
   quit
The position is printed as JSON after every command. A line that cannot be run prints
{"line": n, "error": "..."} and the session continues.`,
				Action: RunAction,
			},
			{
				Name:  "ports",
				Usage: "list USB serial devices that could be a board",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  portsFlagType,
						Usage: "only list devices of this type: arduino, ch340 or ftdi",
					},
					&cli.BoolFlag{
						Name:  portsFlagTable,
						Usage: "print a table instead of JSON",
					},
				},
				Action: PortsAction,
			},
			{
				Name:   "schema",
				Usage:  "print the JSON schema of the configuration file",
				Action: SchemaAction,
			},
		},
	}
}
