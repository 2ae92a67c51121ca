package locator

import "fmt"

// Box is an element bounding box in CSS pixels, relative to the viewport.
type Box struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Plausible reports whether the box is large enough to be a clickable row.
func (b Box) Plausible(minW, minH float64) bool {
	return b.Width >= minW && b.Height >= minH
}

// Point is a viewport coordinate.
type Point struct {
	X float64
	Y float64
}

// Strategy picks a horizontal click position. A non-zero OffsetPX means
// "OffsetPX pixels left of the box's left edge"; otherwise Fraction is
// measured from the left edge. Rows carry a buy button on the right, so
// every default stays on the left third.
type Strategy struct {
	Fraction float64
	OffsetPX float64
}

func (s Strategy) String() string {
	if s.OffsetPX != 0 {
		return fmt.Sprintf("offset-%.0fpx", s.OffsetPX)
	}
	return fmt.Sprintf("fraction-%.2f", s.Fraction)
}

// DefaultStrategies returns the click strategies tried in order.
func DefaultStrategies() []Strategy {
	return []Strategy{
		{Fraction: 0.1},
		{Fraction: 0.15},
		{Fraction: 0.2},
		{Fraction: 0.3},
		{OffsetPX: 50},
	}
}

// ClickPoint returns where to click inside (or beside) box. Y is always the
// vertical centre; X never drops below 1.
func ClickPoint(b Box, s Strategy) Point {
	x := b.X + b.Width*s.Fraction
	if s.OffsetPX != 0 {
		x = b.X - s.OffsetPX
	}
	if x < 1 {
		x = 1
	}
	return Point{X: x, Y: b.Y + b.Height/2}
}
