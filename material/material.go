// Package material holds the fixed shading terms of the card scene: the sky
// gradient, the checkerboard floor, and the specular highlight on spheres.
package material

import (
	"math"

	"cardtrace/vmath/vec3"
)

const (
	// FloorScale maps world coordinates onto checkerboard tile coordinates.
	FloorScale = 0.2

	// HighlightExponent is the fixed Phong exponent of the sphere highlight.
	HighlightExponent = 99
)

var (
	SkyColor   = vec3.T{0.7, 0.6, 1.0}
	RedTile    = vec3.T{3, 1, 1}
	WhiteTile  = vec3.T{3, 3, 3}
	LightPoint = vec3.T{9, 9, 16}
)

// Sky returns the sky color seen along slope.  It fades from SkyColor at the
// horizon to black at the zenith.
func Sky(slope vec3.T) vec3.T {
	return vec3.MulVS(SkyColor, math.Pow(1-slope[2], 4))
}

// CheckerboardSurface reports whether p lands on an odd tile of the floor
// pattern.  p is in world coordinates and is scaled by FloorScale first.
func CheckerboardSurface(p vec3.T) bool {
	q := vec3.MulVS(p, FloorScale)
	// Negative tile sums keep alternating.  A saturating unsigned cast would
	// instead paint every tile with a negative sum white.
	parity := int64(math.Ceil(q[0])+math.Ceil(q[1])) & 1
	return parity == 1
}

// Floor returns the floor color at hit point p given the (already shadowed)
// Lambert factor.
func Floor(p vec3.T, lambert float64) vec3.T {
	tile := WhiteTile
	if CheckerboardSurface(p) {
		tile = RedTile
	}
	return vec3.MulVS(tile, lambert*0.2+0.1)
}

// Highlight returns the specular term for light direction l and reflected
// direction r.  It is zero whenever the point is unlit.
//
// The exponent is odd, so a lit point whose reflection faces away from the
// light contributes a (tiny) negative value.
func Highlight(l, r vec3.T, lambert float64) float64 {
	lit := 0.0
	if lambert > 0 {
		lit = 1.0
	}
	return math.Pow(vec3.IProd(l, r)*lit, HighlightExponent)
}
