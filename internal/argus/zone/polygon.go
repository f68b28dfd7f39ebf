package zone

import (
	"math"

	"github.com/BrandonDHaskell/Argus/internal/argus/types"
)

const edgeEpsilon = 1e-9

// Contains reports whether p lies inside poly or on its boundary.
func Contains(poly []types.Point, p types.Point) bool {
	n := len(poly)
	if n < 3 {
		return false
	}
	for i := range n {
		if onSegment(poly[i], poly[(i+1)%n], p) {
			return true
		}
	}

	inside := false
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		a, b := poly[i], poly[j]
		if (a.Y > p.Y) != (b.Y > p.Y) {
			x := (b.X-a.X)*(p.Y-a.Y)/(b.Y-a.Y) + a.X
			if p.X < x {
				inside = !inside
			}
		}
	}
	return inside
}

func onSegment(a, b, p types.Point) bool {
	cross := (b.X-a.X)*(p.Y-a.Y) - (b.Y-a.Y)*(p.X-a.X)
	if math.Abs(cross) > edgeEpsilon*math.Max(1, math.Hypot(b.X-a.X, b.Y-a.Y)) {
		return false
	}
	return p.X >= math.Min(a.X, b.X)-edgeEpsilon && p.X <= math.Max(a.X, b.X)+edgeEpsilon &&
		p.Y >= math.Min(a.Y, b.Y)-edgeEpsilon && p.Y <= math.Max(a.Y, b.Y)+edgeEpsilon
}

// Scale converts a polygon given in normalized [0,1] coordinates to pixels.
func Scale(poly []types.Point, width, height int) []types.Point {
	out := make([]types.Point, len(poly))
	for i, p := range poly {
		out[i] = types.Point{X: p.X * float64(width), Y: p.Y * float64(height)}
	}
	return out
}
