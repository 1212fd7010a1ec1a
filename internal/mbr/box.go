// Package mbr implements the minimum-bounding-rectangle algebra that the
// rest of vtree is built on: axis-aligned 2-D boxes in GeoJSON axis order
// (west, south, east, north).
package mbr

import "math"

// Box is a minimum bounding rectangle: (w, s, e, n) with w<=e and s<=n.
type Box struct {
	W, S, E, N float64
}

// Zero is the degenerate box returned by Overlap when two boxes are
// disjoint. It has zero area by construction.
var Zero = Box{}

// Area returns |e-w| * |n-s|.
func (b Box) Area() float64 {
	return math.Abs(b.E-b.W) * math.Abs(b.N-b.S)
}

// Within reports whether b is entirely contained in other (inclusive).
func (b Box) Within(other Box) bool {
	return b.W >= other.W && b.S >= other.S && b.E <= other.E && b.N <= other.N
}

// Intersects reports whether b and other share any point, including their
// boundaries. Touching edges count as intersecting.
func (b Box) Intersects(other Box) bool {
	return b.W <= other.E && other.W <= b.E &&
		b.S <= other.N && other.S <= b.N
}

// Disjoint reports the negation of Within/Intersects in either direction,
// matching spec invariant disjoint(a,b) = !within(a,b) && !within(b,a) && !intersect(a,b).
func (b Box) Disjoint(other Box) bool {
	return !b.Within(other) && !other.Within(b) && !b.Intersects(other)
}

// Merge returns the smallest box containing both b and other.
func (b Box) Merge(other Box) Box {
	return Box{
		W: math.Min(b.W, other.W),
		S: math.Min(b.S, other.S),
		E: math.Max(b.E, other.E),
		N: math.Max(b.N, other.N),
	}
}

// Overlap returns the box covered by both b and other, or the Zero box if
// they are disjoint. The zero box has zero area, which is the intended
// semantics for overlap area on disjoint input.
func (b Box) Overlap(other Box) Box {
	if b.Disjoint(other) {
		return Zero
	}
	return Box{
		W: math.Max(b.W, other.W),
		S: math.Max(b.S, other.S),
		E: math.Min(b.E, other.E),
		N: math.Min(b.N, other.N),
	}
}

// Enlargement returns the increase in area if b were expanded to also
// cover other. Used by choose-subtree during insertion.
func (b Box) Enlargement(other Box) float64 {
	return b.Merge(other).Area() - b.Area()
}

// MergeAll folds Merge over boxes, returning the Zero box for an empty
// slice. Callers that need the "empty node has no MBR" semantics should
// check len(boxes) == 0 themselves.
func MergeAll(boxes []Box) Box {
	if len(boxes) == 0 {
		return Zero
	}
	m := boxes[0]
	for _, b := range boxes[1:] {
		m = m.Merge(b)
	}
	return m
}
