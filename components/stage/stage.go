// Package stage defines a multi-axis translation stage driven over a serial line. The stage
// never reads its position back from the hardware: it is tracked from the commands sent.
package stage

import (
	"context"
	"math"
	"strings"

	"github.com/samber/lo"

	"github.com/centuri-olf/olfcontrol/motion"
)

// MoveMode tells how a displacement is interpreted.
type MoveMode = motion.Mode

// The two move modes.
const (
	Relative = motion.Relative
	Absolute = motion.Absolute
)

// MaxAxes is the largest number of axes a stage can drive.
const MaxAxes = 3

// A Stage moves a tool head along one to three linear axes.
//
// Move example:
//
//	// Move 1mm along X and 2mm back along Y from the current position.
//	pos, err := myStage.Move(context.Background(), []float64{1, -2}, stage.Relative)
//
// Step example:
//
//	// Nudge the Y axis by half a millimeter.
//	pos, err := myStage.Step(context.Background(), "Y", 0.5)
type Stage interface {
	// Home runs the board's homing cycle. Afterwards the position is the negated origin.
	Home(ctx context.Context) error

	// SetOrigin declares the current physical location to be zero on every axis.
	SetOrigin(ctx context.Context) error

	// Move issues a linear move and blocks until the estimated travel time has elapsed.
	// It returns the position after the move.
	Move(ctx context.Context, displacement []float64, mode MoveMode) ([]float64, error)

	// Step moves a single axis by magnitude, relative to the current position.
	Step(ctx context.Context, axis string, magnitude float64) ([]float64, error)

	// Position returns a copy of the tracked position. It never waits for a move.
	Position() []float64

	// Axes returns the axis labels, e.g. "XY".
	Axes() string

	// IsMoving reports whether a command was issued and its dwell has not finished.
	IsMoving() bool

	Close(ctx context.Context) error
}

// AxisIndex returns the position component driven by axis.
func AxisIndex(axes, axis string) (int, error) {
	if len(axis) != 1 {
		return -1, NewAxisNotFoundError(axis, axes)
	}
	idx := lo.IndexOf([]rune(axes), rune(axis[0]))
	if idx < 0 {
		return -1, NewAxisNotFoundError(axis, axes)
	}
	return idx, nil
}

// StepDisplacement returns the displacement that moves only axis by magnitude.
func StepDisplacement(axes, axis string, magnitude float64) ([]float64, error) {
	idx, err := AxisIndex(axes, axis)
	if err != nil {
		return nil, err
	}
	displacement := make([]float64, len(axes))
	displacement[idx] = magnitude
	return displacement, ValidateDisplacement(axes, displacement)
}

// ValidateDisplacement checks that displacement has one finite component per axis.
func ValidateDisplacement(axes string, displacement []float64) error {
	if len(displacement) != len(axes) {
		return NewDimensionMismatchError(len(displacement), axes)
	}
	for i, v := range displacement {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return NewInvalidDisplacementError(string(axes[i]), v)
		}
	}
	return nil
}

// FormatPosition renders a position as "X=1 Y=-2".
func FormatPosition(axes string, position []float64) string {
	parts := lo.Map([]rune(axes), func(axis rune, i int) string {
		if i >= len(position) {
			return string(axis) + "=?"
		}
		return string(axis) + "=" + trimFloat(position[i])
	})
	return strings.Join(parts, " ")
}
