// Package kinematics converts points on the drawing plane into joint angle
// motion commands for the pan/tilt device.
package kinematics

import (
	"errors"
	"fmt"
	"math"

	"github.com/mastercactapus/pantilt/coord"
	"github.com/mastercactapus/pantilt/gcode"
)

// DefaultPrecision is the number of decimals printed for each angle.
const DefaultPrecision = 1

var (
	// ErrUnreachable is matched by every DomainError.
	ErrUnreachable = errors.New("point outside reachable workspace")

	ErrNoPoints        = errors.New("no points to translate")
	ErrInvalidDistance = errors.New("reach distance must be positive")
)

// DomainError is returned when a point has no inverse kinematics solution.
type DomainError struct {
	// Index of the point in the path.
	Index int
	Point coord.Point

	// Arg is the value that fell outside of [-1,1], or the angle that
	// exceeded the joint limit.
	Arg    float64
	Reason string
}

func (e *DomainError) Error() string {
	return fmt.Sprintf("point %d (%g, %g): %s (%g)", e.Index, e.Point.X, e.Point.Y, e.Reason, e.Arg)
}
func (e *DomainError) Unwrap() error { return ErrUnreachable }

// Translator holds the fixed geometry of the device.
type Translator struct {
	// Distance from the pivot to the drawing plane, in cm.
	Distance float64

	// Precision is the number of decimals in generated commands.
	Precision int

	// Limit is the maximum absolute joint angle in degrees. Zero means no limit.
	Limit float64
}

// NewTranslator returns a Translator with the default precision.
func NewTranslator(distance float64) Translator {
	return Translator{Distance: distance, Precision: DefaultPrecision}
}

func inDomain(v float64) bool { return math.Abs(v) <= 1 }

// Solve will return the absolute joint angles that aim the device at p.
func (t Translator) Solve(p coord.Point) (coord.Angles, error) {
	if !(t.Distance > 0) {
		return coord.Angles{}, ErrInvalidDistance
	}
	s := math.Sqrt(p.X*p.X + p.Y*p.Y + t.Distance*t.Distance)

	arg1 := -p.Y / s
	if !inDomain(arg1) {
		return coord.Angles{}, &DomainError{Point: p, Arg: arg1, Reason: "theta1 out of domain"}
	}
	theta1 := math.Asin(arg1)

	arg2 := p.X / (math.Cos(theta1) * s)
	if !inDomain(arg2) {
		return coord.Angles{}, &DomainError{Point: p, Arg: arg2, Reason: "theta2 out of domain"}
	}

	a := coord.Angles{
		Theta1: coord.Degrees(theta1),
		Theta2: coord.Degrees(math.Asin(arg2)),
	}
	if t.Limit > 0 {
		if math.Abs(a.Theta1) > t.Limit {
			return coord.Angles{}, &DomainError{Point: p, Arg: a.Theta1, Reason: "theta1 beyond joint limit"}
		}
		if math.Abs(a.Theta2) > t.Limit {
			return coord.Angles{}, &DomainError{Point: p, Arg: a.Theta2, Reason: "theta2 beyond joint limit"}
		}
	}
	return a, nil
}

// Moves will return the motion sequence for the path, repeated repeat times.
//
// The first move is absolute from the rest pose, all others are relative.
// The last move returns the device to the rest pose. Angles are rounded to
// the output precision before deltas are taken, so the moves always sum to zero.
func (t Translator) Moves(points []coord.Point, repeat int) ([]coord.Angles, error) {
	if len(points) == 0 {
		return nil, ErrNoPoints
	}
	if repeat < 1 {
		repeat = 1
	}

	abs := make([]coord.Angles, len(points))
	for i, p := range points {
		a, err := t.Solve(p)
		if err != nil {
			var de *DomainError
			if errors.As(err, &de) {
				de.Index = i
			}
			return nil, err
		}
		abs[i] = a.Round(t.Precision)
	}

	first, last := abs[0], abs[len(abs)-1]
	moves := make([]coord.Angles, 0, len(abs)*repeat+2)
	moves = append(moves, first)
	for pass := 0; pass < repeat; pass++ {
		if pass > 0 {
			back := first.Sub(last).Round(t.Precision)
			if !back.IsZero() {
				moves = append(moves, back)
			}
		}
		for i := 1; i < len(abs); i++ {
			moves = append(moves, abs[i].Sub(abs[i-1]).Round(t.Precision))
		}
	}
	moves = append(moves, last.Neg())

	return moves, nil
}

// Blocks is like Moves but returns G1 blocks.
func (t Translator) Blocks(points []coord.Point, repeat int) ([]gcode.Block, error) {
	moves, err := t.Moves(points, repeat)
	if err != nil {
		return nil, err
	}
	b := make([]gcode.Block, len(moves))
	for i, m := range moves {
		b[i] = gcode.Move(m.Theta1, m.Theta2)
	}
	return b, nil
}

// Translate will return the device lines for the path. Nothing is returned
// if any point is unreachable.
func (t Translator) Translate(points []coord.Point, repeat int) ([]string, error) {
	b, err := t.Blocks(points, repeat)
	if err != nil {
		return nil, err
	}
	return gcode.FormatAll(&gcode.BlocksReader{Blocks: b}, t.Precision)
}
