package coord

import "math"

// CanvasToWorld maps a pixel on a square drawing canvas onto the plane
// at distance from the device.
//
// The canvas origin is the top-left corner with Y growing downwards; the
// canvas center maps to (0,0) and Y is inverted. The canvas edge lines up
// with a joint swing of maxAngle degrees.
func CanvasToWorld(px, py, canvasSize, distance, maxAngle float64) Point {
	length := math.Tan(Radians(maxAngle)) * distance * 2
	perPixel := length / canvasSize

	return Point{
		X: (px - canvasSize/2) * perPixel,
		Y: (canvasSize/2 - py) * perPixel,
	}
}
