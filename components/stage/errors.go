package stage

import (
	"fmt"
	"strconv"

	"github.com/pkg/errors"
)

var (
	// ErrInvalidConfig is matched by every configuration problem found at construction.
	ErrInvalidConfig = errors.New("invalid stage configuration")
	// ErrAxisNotFound is returned when a step names an axis the stage does not drive.
	ErrAxisNotFound = errors.New("axis not found")
	// ErrDimensionMismatch is returned when a displacement length differs from the axis count.
	ErrDimensionMismatch = errors.New("displacement does not match the number of axes")
	// ErrInvalidDisplacement is returned for NaN or infinite displacement components.
	ErrInvalidDisplacement = errors.New("displacement is not finite")
	// ErrTransport is matched by every *TransportError.
	ErrTransport = errors.New("transport failure")
	// ErrFaultRecoveryExhausted is returned when the board keeps faulting after the configured
	// number of recoveries within one exchange.
	ErrFaultRecoveryExhausted = errors.New("fault recovery exhausted")
	// ErrHomingTimeout is returned when the board never acknowledged the homing cycle.
	ErrHomingTimeout = errors.New("homing did not complete in time")
	// ErrClosed is returned by operations on a closed stage.
	ErrClosed = errors.New("stage is closed")
)

// NewAxisNotFoundError returns an error for an axis label outside axes.
func NewAxisNotFoundError(axis, axes string) error {
	return errors.Wrapf(ErrAxisNotFound, "%q is not one of %q", axis, axes)
}

// NewDimensionMismatchError returns an error for a displacement of the wrong length.
func NewDimensionMismatchError(got int, axes string) error {
	return errors.Wrapf(ErrDimensionMismatch, "got %d components for axes %q", got, axes)
}

// NewInvalidDisplacementError returns an error for a non-finite component.
func NewInvalidDisplacementError(axis string, value float64) error {
	return errors.Wrapf(ErrInvalidDisplacement, "axis %s has value %v", axis, value)
}

// A TransportError is a failure to open, write, read or reopen the serial line.
type TransportError struct {
	Op   string
	Path string
	Err  error
}

// NewTransportError wraps err as a *TransportError.
func NewTransportError(op, path string, err error) error {
	return &TransportError{Op: op, Path: path, Err: err}
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("serial %s on %s: %v", e.Op, e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrTransport) match any transport error.
func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

func trimFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
