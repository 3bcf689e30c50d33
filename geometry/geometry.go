// Package geometry holds the pure math shared by hit-testing and rendering:
// points, rotations and the mapping between pointer space and content space.
package geometry

import "math"

// Point is a 2D point with floating-point coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Pt is shorthand for Point{X: x, Y: y}.
func Pt(x, y float64) Point {
	return Point{X: x, Y: y}
}

// Add returns the sum of two points.
func (p Point) Add(o Point) Point {
	return Point{X: p.X + o.X, Y: p.Y + o.Y}
}

// Sub returns the difference of two points.
func (p Point) Sub(o Point) Point {
	return Point{X: p.X - o.X, Y: p.Y - o.Y}
}

// Scale returns the point scaled by a factor.
func (p Point) Scale(f float64) Point {
	return Point{X: p.X * f, Y: p.Y * f}
}

// Distance returns the Euclidean distance to another point.
func (p Point) Distance(o Point) float64 {
	return math.Hypot(p.X-o.X, p.Y-o.Y)
}

// Finite reports whether both coordinates are finite numbers.
func (p Point) Finite() bool {
	return !math.IsNaN(p.X) && !math.IsInf(p.X, 0) && !math.IsNaN(p.Y) && !math.IsInf(p.Y, 0)
}

// Size is a width/height pair.
type Size struct {
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Center returns the center of a box of this size anchored at the origin.
func (s Size) Center() Point {
	return Point{X: s.W / 2, Y: s.H / 2}
}

// Rect is an axis-aligned rectangle given by its top-left corner and size.
type Rect struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Contains reports whether p lies inside the rectangle, edges included.
func (r Rect) Contains(p Point) bool {
	return p.X >= r.X && p.X <= r.X+r.W && p.Y >= r.Y && p.Y <= r.Y+r.H
}

// Inside reports whether r lies entirely within [0,w]×[0,h].
func (r Rect) Inside(s Size) bool {
	return r.X >= 0 && r.Y >= 0 && r.X+r.W <= s.W && r.Y+r.H <= s.H
}

// Radians converts degrees to radians.
func Radians(deg float64) float64 {
	return deg * math.Pi / 180
}

// Degrees converts radians to degrees.
func Degrees(rad float64) float64 {
	return rad * 180 / math.Pi
}

// NormalizeDeg maps an angle into [0, 360).
func NormalizeDeg(deg float64) float64 {
	d := math.Mod(deg, 360)
	if d < 0 {
		d += 360
	}
	if d >= 360 {
		d = 0
	}
	return d
}

// Clamp limits v to [lo, hi]. When hi < lo the result is lo.
func Clamp(v, lo, hi float64) float64 {
	if v > hi {
		v = hi
	}
	if v < lo {
		v = lo
	}
	return v
}

// Rotate rotates p around c by deg degrees. Positive angles turn clockwise
// on screen because the y axis points down.
func Rotate(p, c Point, deg float64) Point {
	if deg == 0 {
		return p
	}
	sin, cos := math.Sincos(Radians(deg))
	dx, dy := p.X-c.X, p.Y-c.Y
	return Point{
		X: c.X + dx*cos - dy*sin,
		Y: c.Y + dx*sin + dy*cos,
	}
}

// AngleDeg returns the direction from one point to another in degrees.
func AngleDeg(from, to Point) float64 {
	return Degrees(math.Atan2(to.Y-from.Y, to.X-from.X))
}

// RotatedBounds returns the size of the axis-aligned box that encloses a box
// of size s rotated by deg about its center.
func RotatedBounds(s Size, deg float64) Size {
	sin, cos := math.Sincos(Radians(NormalizeDeg(deg)))
	sin, cos = math.Abs(sin), math.Abs(cos)
	// Snap the quarter turns so 90° yields exactly {H, W}.
	if sin < 1e-12 {
		sin = 0
	}
	if cos < 1e-12 {
		cos = 0
	}
	return Size{
		W: s.W*cos + s.H*sin,
		H: s.W*sin + s.H*cos,
	}
}
