package camera

import (
	"math/rand"

	"cardtrace/ray"
	"cardtrace/vmath/vec3"
)

const (
	// ImageSize is the width and height, in pixels, of the frame the card
	// camera is built for.
	ImageSize = 512

	pixelPitch = 0.002
	lensSpread = 99.0
	focalScale = 16.0
)

var (
	CardEye   = vec3.T{-6, -16, 0}
	CardFocus = vec3.T{17, 16, 8}
	worldUp   = vec3.T{0, 0, 1}
)

type Camera interface {
	ImageToRay(curRow, imgRows, curCol, imgCols int, rng *rand.Rand) ray.Ray
}

// ThinLensCamera casts rays from a jittered point on a square lens through a
// jittered point on the image plane.  The focal plane is where the jitter of
// the two cancels out.
type ThinLensCamera struct {
	Focus vec3.T

	// Forward is the unit viewing direction.  Horiz and Vert span one pixel
	// each across and up the image plane.
	Forward vec3.T
	Horiz   vec3.T
	Vert    vec3.T

	// PlaneOffset takes the image plane from pixel (0, 0) to the center of
	// view.
	PlaneOffset vec3.T
}

func NewThinLensCamera(focus, eye vec3.T, size int) *ThinLensCamera {
	g := vec3.Normalize(eye)
	a := vec3.MulVS(vec3.Normalize(vec3.CProd(worldUp, g)), pixelPitch)
	b := vec3.MulVS(vec3.Normalize(vec3.CProd(g, a)), pixelPitch)
	c := vec3.AddVV(vec3.MulVS(vec3.AddVV(a, b), -float64(size)/2), g)

	return &ThinLensCamera{
		Focus:       focus,
		Forward:     g,
		Horiz:       a,
		Vert:        b,
		PlaneOffset: c,
	}
}

// NewCardCamera returns the camera of the card scene.
func NewCardCamera() *ThinLensCamera {
	return NewThinLensCamera(CardFocus, CardEye, ImageSize)
}

// ImageToRay draws one ray for the pixel at (curRow, curCol).
//
// Row 0 is emitted first and looks along the top of the plane, so rows and
// columns count down the plane axes.  Exactly four values are drawn from
// rng: two for the lens, then one each for the column and row jitter.
func (c *ThinLensCamera) ImageToRay(curRow, imgRows, curCol, imgCols int, rng *rand.Rand) ray.Ray {
	x := float64(imgCols - 1 - curCol)
	y := float64(imgRows - 1 - curRow)

	lens := vec3.AddVV(
		vec3.MulVS(vec3.MulVS(c.Horiz, rng.Float64()-0.5), lensSpread),
		vec3.MulVS(vec3.MulVS(c.Vert, rng.Float64()-0.5), lensSpread),
	)

	jx := rng.Float64() + x
	jy := y + rng.Float64()
	target := vec3.AddVV(vec3.AddVV(vec3.MulVS(c.Horiz, jx), vec3.MulVS(c.Vert, jy)), c.PlaneOffset)

	return ray.Ray{
		Point: vec3.AddVV(c.Focus, lens),
		Slope: vec3.Normalize(vec3.AddVV(vec3.MulVS(lens, -1), vec3.MulVS(target, focalScale))),
	}
}
