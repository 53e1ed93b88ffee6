package scene

import (
	"math"
	"math/rand"

	"cardtrace/contact"
	"cardtrace/material"
	"cardtrace/ray"
	"cardtrace/vmath/vec3"
)

const (
	// Hits closer than HitEpsilon are ignored so that rays leaving a surface
	// don't immediately re-hit it.
	HitEpsilon = 0.01

	farT = 1e9
)

var floorNormal = vec3.T{0, 0, 1}

type Scene struct {
	// Sphere centers, in scan order.  Every sphere has radius 1.
	Spheres []vec3.T

	// MaxDepth bounds the number of mirror bounces followed by SampleRay.
	// Zero means unbounded.
	MaxDepth int
}

// NewCardScene builds the scene described by CardGrid.
func NewCardScene() *Scene {
	return &Scene{
		Spheres: DecodeGrid(CardGrid[:], GridCols),
	}
}

// Trace finds the nearest surface along r.
//
// The floor and every sphere are considered; the smallest distance greater
// than HitEpsilon wins, with earlier candidates kept on exact ties.
func (s *Scene) Trace(r ray.Ray) contact.Contact {
	o, d := r.Point, r.Slope

	result := contact.Contact{
		Kind: contact.Sky,
		T:    farT,
	}

	// The floor is only visible from above.
	p := -o[2] / d[2]
	if p > HitEpsilon && d[2] < 0 {
		result = contact.Contact{
			Kind: contact.Floor,
			T:    p,
			N:    floorNormal,
		}
	}

	for _, center := range s.Spheres {
		offset := vec3.SubVV(o, center)
		b := vec3.IProd(offset, d)
		c := vec3.IProd(offset, offset) - 1.0
		q := b*b - c
		if q <= 0 {
			continue
		}

		t := -b - math.Sqrt(q)
		if t < result.T && t > HitEpsilon {
			result = contact.Contact{
				Kind: contact.Sphere,
				T:    t,
				N:    vec3.Normalize(vec3.AddVV(offset, vec3.MulVS(d, t))),
			}
		}
	}

	return result
}

// SampleRay returns the color seen along r.
//
// depth is the number of mirror bounces already taken to reach r; callers
// start at zero.  rng supplies the light jitter and is not touched when r
// escapes to the sky.
func (s *Scene) SampleRay(r ray.Ray, rng *rand.Rand, depth int) vec3.T {
	hit := s.Trace(r)
	if hit.Kind == contact.Sky {
		return material.Sky(r.Slope)
	}

	h := r.Eval(hit.T)

	// Jitter the light over a unit square for soft shadows.
	light := vec3.T{
		material.LightPoint[0] + rng.Float64(),
		material.LightPoint[1] + rng.Float64(),
		material.LightPoint[2],
	}
	l := vec3.Normalize(vec3.SubVV(light, h))
	reflected := vec3.Reflect(r.Slope, hit.N)

	lambert := vec3.IProd(l, hit.N)
	if lambert < 0 || s.Trace(ray.Ray{Point: h, Slope: l}).Kind != contact.Sky {
		lambert = 0
	}

	if hit.Kind == contact.Floor {
		return material.Floor(h, lambert)
	}

	spec := material.Highlight(l, reflected, lambert)
	highlight := vec3.T{spec, spec, spec}
	if s.MaxDepth > 0 && depth >= s.MaxDepth {
		return highlight
	}

	bounce := s.SampleRay(ray.Ray{Point: h, Slope: reflected}, rng, depth+1)
	return vec3.AddVV(highlight, vec3.MulVS(bounce, 0.5))
}
