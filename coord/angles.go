package coord

import "math"

// Angles holds the absolute orientation of both joints, in degrees.
//
// Theta1 drives the X word of a motion command, Theta2 the Y word.
type Angles struct{ Theta1, Theta2 float64 }

func (a Angles) Add(b Angles) Angles {
	a.Theta1 += b.Theta1
	a.Theta2 += b.Theta2
	return a
}

func (a Angles) Sub(b Angles) Angles {
	a.Theta1 -= b.Theta1
	a.Theta2 -= b.Theta2
	return a
}

// Neg returns the move that undoes a.
func (a Angles) Neg() Angles {
	return Angles{Theta1: -a.Theta1, Theta2: -a.Theta2}
}

func (a Angles) IsZero() bool {
	return a.Theta1 == 0 && a.Theta2 == 0
}

// Round will round both angles to prec decimal digits.
func (a Angles) Round(prec int) Angles {
	m := math.Pow10(prec)
	a.Theta1 = math.Round(a.Theta1*m) / m
	a.Theta2 = math.Round(a.Theta2*m) / m
	return a
}

func Degrees(rad float64) float64 { return rad * 180 / math.Pi }
func Radians(deg float64) float64 { return deg * math.Pi / 180 }
