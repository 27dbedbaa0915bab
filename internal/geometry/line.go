// Package geometry implements the closed-form line-crossing arithmetic:
// the CCW orientation test, strict segment intersection, and signed
// side-of-line distance used by internal/counter.
package geometry

import "github.com/Md-Abu-Omayer-Babu/Rickshaw-Detector-AI/internal/types"

// CCW is the counter-clockwise orientation test for three points. Positive
// means A->B->C turns left, negative right, zero collinear.
func CCW(a, b, c types.Point) float64 {
	return (c.Y-a.Y)*(b.X-a.X) - (b.Y-a.Y)*(c.X-a.X)
}

// SegmentsStrictlyIntersect reports whether segment AB strictly crosses
// segment CD (touching endpoints or collinear overlaps do not count).
func SegmentsStrictlyIntersect(a, b, c, d types.Point) bool {
	d1 := CCW(a, c, d)
	d2 := CCW(b, c, d)
	d3 := CCW(a, b, c)
	d4 := CCW(a, b, d)
	return sign(d1) != sign(d2) && d1 != 0 && d2 != 0 &&
		sign(d3) != sign(d4) && d3 != 0 && d4 != 0
}

func sign(v float64) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

// SideOfLine returns the signed distance-like value of point relative to
// line l1->l2, positive on one side and negative on the other. Values
// within [-threshold, +threshold] should be treated by the caller as
// "on the line" (deferred).
func SideOfLine(l1, l2, point types.Point) float64 {
	return (l2.X-l1.X)*(point.Y-l1.Y) - (l2.Y-l1.Y)*(point.X-l1.X)
}

// Side classifies a signed distance against a threshold band.
type Side int

const (
	SideNegative Side = -1
	SideOnLine   Side = 0
	SidePositive Side = 1
)

// ClassifySide buckets a signed side-of-line value using the threshold band.
func ClassifySide(value, threshold float64) Side {
	switch {
	case value > threshold:
		return SidePositive
	case value < -threshold:
		return SideNegative
	default:
		return SideOnLine
	}
}
