package geometry

// The renderer draws the content frame rotated about its center into a
// buffer sized to the rotated bounds, and that buffer is what the pointer
// sees scaled into canvasRect. The two functions below walk that chain in
// opposite directions and must stay exact inverses of each other.

// ToContentSpace maps a pointer position inside canvasRect to content space.
func ToContentSpace(p Point, canvasRect Rect, content Size, rotDeg float64) Point {
	buf := RotatedBounds(content, rotDeg)
	local := p
	if canvasRect.W > 0 && canvasRect.H > 0 {
		local = Point{
			X: (p.X - canvasRect.X) * buf.W / canvasRect.W,
			Y: (p.Y - canvasRect.Y) * buf.H / canvasRect.H,
		}
	}
	rel := local.Sub(buf.Center())
	rel = Rotate(rel, Point{}, -NormalizeDeg(rotDeg))
	return rel.Add(content.Center())
}

// ToScreenSpace is the inverse of ToContentSpace.
func ToScreenSpace(p Point, canvasRect Rect, content Size, rotDeg float64) Point {
	buf := RotatedBounds(content, rotDeg)
	rel := p.Sub(content.Center())
	rel = Rotate(rel, Point{}, NormalizeDeg(rotDeg))
	local := rel.Add(buf.Center())
	if canvasRect.W <= 0 || canvasRect.H <= 0 || buf.W == 0 || buf.H == 0 {
		return local
	}
	return Point{
		X: canvasRect.X + local.X*canvasRect.W/buf.W,
		Y: canvasRect.Y + local.Y*canvasRect.H/buf.H,
	}
}
