// Package motion estimates how long a stepper stage takes to travel a given distance.
//
// The estimate uses a symmetric trapezoidal velocity profile: the stage accelerates at a
// constant rate up to the maximum feed rate, cruises, then decelerates at the same rate. The
// accelerate and decelerate phases are folded into a single acceleration time and distance.
// Moves shorter than that distance never reach cruise speed.
package motion

import (
	"math"
	"time"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

// Mode selects how a displacement vector is interpreted.
type Mode int

const (
	// Relative displacements are added to the current position.
	Relative Mode = iota
	// Absolute displacements are target positions.
	Absolute
)

func (m Mode) String() string {
	switch m {
	case Relative:
		return "relative"
	case Absolute:
		return "absolute"
	default:
		return "unknown"
	}
}

// Profile holds the stage's motion limits and the values derived from them.
type Profile struct {
	// MaxFeedRate is the cruise speed in distance units per second.
	MaxFeedRate float64
	// MaxAcceleration is in distance units per second squared.
	MaxAcceleration float64
	// SettleDelay is added after every move.
	SettleDelay time.Duration

	// AccelerationTime covers both the accelerate and decelerate phases, in seconds.
	AccelerationTime float64
	// AccelerationDistance is the distance covered during AccelerationTime.
	AccelerationDistance float64
}

// NewProfile derives the acceleration time and distance from the limits.
func NewProfile(maxFeedRate, maxAcceleration float64, settleDelay time.Duration) (Profile, error) {
	if !(maxFeedRate > 0) || math.IsInf(maxFeedRate, 0) {
		return Profile{}, errors.Errorf("max feed rate must be positive, got %v", maxFeedRate)
	}
	if !(maxAcceleration > 0) || math.IsInf(maxAcceleration, 0) {
		return Profile{}, errors.Errorf("max acceleration must be positive, got %v", maxAcceleration)
	}
	if settleDelay < 0 {
		return Profile{}, errors.Errorf("settle delay cannot be negative, got %v", settleDelay)
	}

	// accelerating and decelerating, hence twice the time to reach full speed
	accTime := maxFeedRate / maxAcceleration * 2
	return Profile{
		MaxFeedRate:          maxFeedRate,
		MaxAcceleration:      maxAcceleration,
		SettleDelay:          settleDelay,
		AccelerationTime:     accTime,
		AccelerationDistance: maxFeedRate * accTime,
	}, nil
}

// Distance is the length of a relative displacement.
func (p Profile) Distance(displacement []float64) float64 {
	return floats.Norm(displacement, 2)
}

// DistanceBetween is the straight line distance from current to target. Both must have the
// same length.
func (p Profile) DistanceBetween(target, current []float64) float64 {
	return floats.Distance(target, current, 2)
}

// TravelDistance interprets displacement according to mode.
func (p Profile) TravelDistance(mode Mode, displacement, current []float64) float64 {
	if mode == Absolute {
		return p.DistanceBetween(displacement, current)
	}
	return p.Distance(displacement)
}

// TravelTime estimates how long a move of the given distance takes, settle delay included.
// Even a zero length move costs the full acceleration time plus settle delay.
func (p Profile) TravelTime(distance float64) time.Duration {
	var seconds float64
	if distance < p.AccelerationDistance {
		seconds = 2 * p.AccelerationTime
	} else {
		seconds = p.AccelerationTime + (distance-p.AccelerationDistance)/p.MaxFeedRate
	}
	return secondsToDuration(seconds) + p.SettleDelay
}

func secondsToDuration(seconds float64) time.Duration {
	return time.Duration(math.Round(seconds * float64(time.Second)))
}
