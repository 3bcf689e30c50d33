package geometry

import (
	"math"
	"testing"
)

const eps = 1e-9

func near(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

func TestNormalizeDeg(t *testing.T) {
	testCases := []struct {
		in, want float64
	}{
		{0, 0},
		{90, 90},
		{360, 0},
		{-90, 270},
		{450, 90},
		{-720, 0},
	}

	for _, tc := range testCases {
		if got := NormalizeDeg(tc.in); !near(got, tc.want) {
			t.Errorf("NormalizeDeg(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestRotate_QuarterTurn(t *testing.T) {
	got := Rotate(Pt(10, 0), Pt(0, 0), 90)
	if !near(got.X, 0) || !near(got.Y, 10) {
		t.Errorf("Rotate 90 = %+v, want (0,10)", got)
	}
}

func TestRotatedBounds(t *testing.T) {
	s := Size{W: 400, H: 300}

	if got := RotatedBounds(s, 90); got.W != 300 || got.H != 400 {
		t.Errorf("RotatedBounds 90 = %+v, want 300x400", got)
	}
	if got := RotatedBounds(s, 180); got.W != 400 || got.H != 300 {
		t.Errorf("RotatedBounds 180 = %+v, want 400x300", got)
	}
	got := RotatedBounds(Size{W: 100, H: 100}, 45)
	want := 100 * math.Sqrt2
	if !near(got.W, want) || !near(got.H, want) {
		t.Errorf("RotatedBounds 45 = %+v, want %v square", got, want)
	}
}

func TestRoundTripTransform(t *testing.T) {
	content := Size{W: 400, H: 300}
	rects := []Rect{
		{X: 0, Y: 0, W: 400, H: 300},
		{X: 35, Y: 12, W: 800, H: 600},
		{X: -20, Y: 40, W: 123, H: 77},
	}
	angles := []float64{0, 15, 90, 180, 233.5, 270, -45}
	points := []Point{{0, 0}, {10, 10}, {200, 150}, {799, 3}, {-5, 42}}

	for _, rect := range rects {
		for _, deg := range angles {
			for _, p := range points {
				c := ToContentSpace(p, rect, content, deg)
				back := ToScreenSpace(c, rect, content, deg)
				if math.Abs(back.X-p.X) > eps*1e3 || math.Abs(back.Y-p.Y) > eps*1e3 {
					t.Errorf("round trip rect=%+v deg=%v p=%+v -> %+v -> %+v", rect, deg, p, c, back)
				}
			}
		}
	}
}

func TestToContentSpace_Unrotated(t *testing.T) {
	content := Size{W: 400, H: 300}
	rect := Rect{X: 100, Y: 50, W: 200, H: 150}

	got := ToContentSpace(Pt(200, 125), rect, content, 0)
	if !near(got.X, 200) || !near(got.Y, 150) {
		t.Errorf("center maps to %+v, want (200,150)", got)
	}

	got = ToContentSpace(Pt(100, 50), rect, content, 0)
	if !near(got.X, 0) || !near(got.Y, 0) {
		t.Errorf("top-left maps to %+v, want (0,0)", got)
	}
}

func TestToContentSpace_QuarterTurn(t *testing.T) {
	content := Size{W: 400, H: 300}
	// Rotated 90° the displayed buffer is 300 wide and 400 tall; the content
	// top-left corner ends up at the top-right of the display.
	rect := Rect{X: 0, Y: 0, W: 300, H: 400}

	got := ToContentSpace(Pt(300, 0), rect, content, 90)
	if !near(got.X, 0) || !near(got.Y, 0) {
		t.Errorf("display top-right maps to %+v, want content (0,0)", got)
	}
}

func TestAngleDeg(t *testing.T) {
	if got := AngleDeg(Pt(0, 0), Pt(0, 10)); !near(got, 90) {
		t.Errorf("AngleDeg down = %v, want 90", got)
	}
	if got := AngleDeg(Pt(0, 0), Pt(-10, 0)); !near(math.Abs(got), 180) {
		t.Errorf("AngleDeg left = %v, want ±180", got)
	}
}

func TestRectInside(t *testing.T) {
	s := Size{W: 100, H: 100}
	if !(Rect{X: 0, Y: 0, W: 100, H: 100}).Inside(s) {
		t.Error("full frame rect should be inside")
	}
	if (Rect{X: 99, Y: 0, W: 20, H: 10}).Inside(s) {
		t.Error("overflowing rect should not be inside")
	}
}
