package coord

// Point is a position on the drawing plane, in centimeters.
type Point struct{ X, Y float64 }
