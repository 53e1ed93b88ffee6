package scene

import (
	"math"
	"math/rand"
	"testing"

	"cardtrace/contact"
	"cardtrace/material"
	"cardtrace/ray"
	"cardtrace/vmath/vec3"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestDecodeGrid(t *testing.T) {
	spheres := DecodeGrid(CardGrid[:], GridCols)
	if got, want := len(spheres), 53; got != want {
		t.Fatalf("len(spheres) = %d, want %d", got, want)
	}

	// Column 2 is the first occupied column, filled from grid row 1 to 7.
	want := []vec3.T{}
	for j := 1; j <= 7; j++ {
		want = append(want, vec3.T{2, 0, float64(13 - j)})
	}
	if diff := cmp.Diff(spheres[:7], want); diff != "" {
		t.Errorf("first column mismatch (-got +want)\n%s", diff)
	}

	for _, c := range spheres {
		if c[1] != 0 {
			t.Errorf("sphere %v is off the y=0 plane", c)
		}
		if c[2]-1 <= 0 {
			t.Errorf("sphere %v dips below the floor", c)
		}
	}
}

func TestDecodeGridEmptyColumns(t *testing.T) {
	occupied := map[int]bool{}
	for _, c := range DecodeGrid(CardGrid[:], GridCols) {
		occupied[int(c[0])] = true
	}
	for _, k := range []int{0, 1, 7, 13} {
		if occupied[k] {
			t.Errorf("column %d should be empty", k)
		}
	}
}

func TestTraceDeterministic(t *testing.T) {
	s := NewCardScene()
	r := ray.Ray{
		Point: vec3.T{17, 16, 8},
		Slope: vec3.Normalize(vec3.T{-6, -16, -1}),
	}

	first := s.Trace(r)
	for i := 0; i < 10; i++ {
		if diff := cmp.Diff(s.Trace(r), first); diff != "" {
			t.Fatalf("Trace is not deterministic (-got +first)\n%s", diff)
		}
	}
}

func TestTraceStraightDownHitsTopSphere(t *testing.T) {
	s := NewCardScene()
	r := ray.Ray{
		Point: vec3.T{2, 0, 100},
		Slope: vec3.T{0, 0, -1},
	}

	got := s.Trace(r)

	// Analytic unit-sphere intersection with the sphere at (2, 0, 12).
	offset := vec3.SubVV(r.Point, vec3.T{2, 0, 12})
	b := vec3.IProd(offset, r.Slope)
	c := vec3.IProd(offset, offset) - 1
	wantT := -b - math.Sqrt(b*b-c)

	want := contact.Contact{
		Kind: contact.Sphere,
		T:    wantT,
		N:    vec3.T{0, 0, 1},
	}
	if diff := cmp.Diff(got, want, cmpopts.EquateApprox(0, 1e-12)); diff != "" {
		t.Errorf("Trace mismatch (-got +want)\n%s", diff)
	}
	if math.Abs(got.T-87) > 1e-9 {
		t.Errorf("T = %v, want 87", got.T)
	}
}

func TestTraceStraightUpIsSky(t *testing.T) {
	s := NewCardScene()

	for _, o := range []vec3.T{{0, 0, -10}, {5, 5, 20}, {-3, 7, 0.5}} {
		got := s.Trace(ray.Ray{Point: o, Slope: vec3.T{0, 0, 1}})
		if got.Kind != contact.Sky {
			t.Errorf("Trace from %v straight up = %v, want sky", o, got.Kind)
		}
	}
}

func TestTraceFloor(t *testing.T) {
	s := NewCardScene()

	testCases := []struct {
		desc string
		r    ray.Ray
	}{
		{
			desc: "straight down",
			r:    ray.Ray{Point: vec3.T{-10, 20, 5}, Slope: vec3.T{0, 0, -1}},
		},
		{
			desc: "slanted away from the spheres",
			r:    ray.Ray{Point: vec3.T{-10, 20, 5}, Slope: vec3.Normalize(vec3.T{-1, 1, -2})},
		},
		{
			desc: "from the camera position",
			r:    ray.Ray{Point: vec3.T{17, 16, 8}, Slope: vec3.Normalize(vec3.T{0, 1, -1})},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			got := s.Trace(tc.r)
			want := contact.Contact{
				Kind: contact.Floor,
				T:    -tc.r.Point[2] / tc.r.Slope[2],
				N:    vec3.T{0, 0, 1},
			}
			if diff := cmp.Diff(got, want); diff != "" {
				t.Errorf("Trace mismatch (-got +want)\n%s", diff)
			}
		})
	}
}

func TestTraceIgnoresNearHits(t *testing.T) {
	s := NewCardScene()

	// Starting just above the floor and heading down, the floor is closer
	// than HitEpsilon.
	got := s.Trace(ray.Ray{Point: vec3.T{-10, 20, 0.005}, Slope: vec3.T{0, 0, -1}})
	if got.Kind != contact.Sky {
		t.Errorf("Trace = %v, want sky", got.Kind)
	}
}

func TestTracePicksNearestSphere(t *testing.T) {
	s := NewCardScene()

	// Looking along +x through grid row 4 (z=9), whose first occupied column
	// is 2.  The rows above and below are exactly tangent to this ray.
	got := s.Trace(ray.Ray{Point: vec3.T{-5, 0, 9}, Slope: vec3.T{1, 0, 0}})
	if got.Kind != contact.Sphere {
		t.Fatalf("Trace = %v, want sphere", got.Kind)
	}
	if math.Abs(got.T-6) > 1e-9 {
		t.Errorf("T = %v, want 6", got.T)
	}
	if diff := cmp.Diff(got.N, vec3.T{-1, 0, 0}, cmpopts.EquateApprox(0, 1e-12)); diff != "" {
		t.Errorf("normal mismatch (-got +want)\n%s", diff)
	}
}

func TestSampleRaySky(t *testing.T) {
	s := NewCardScene()
	rng := rand.New(rand.NewSource(1))
	before := rand.New(rand.NewSource(1))

	d := vec3.Normalize(vec3.T{1, 2, 3})
	got := s.SampleRay(ray.Ray{Point: vec3.T{0, 0, 20}, Slope: d}, rng, 0)
	want := vec3.MulVS(vec3.T{0.7, 0.6, 1.0}, math.Pow(1-d[2], 4))
	if got != want {
		t.Errorf("SampleRay = %v, want %v", got, want)
	}

	// The sky branch must not draw from the generator.
	if rng.Int63() != before.Int63() {
		t.Errorf("SampleRay consumed random numbers on a sky ray")
	}
}

func TestSampleRayStraightUpFromBelow(t *testing.T) {
	s := NewCardScene()
	r := ray.Ray{Point: vec3.T{0, 0, -10}, Slope: vec3.T{0, 0, 1}}

	if got := s.Trace(r); got.Kind != contact.Sky {
		t.Fatalf("Trace = %v, want sky", got.Kind)
	}

	got := s.SampleRay(r, rand.New(rand.NewSource(1)), 0)
	if diff := cmp.Diff(got, vec3.T{}, cmpopts.EquateApprox(0, 1e-12)); diff != "" {
		t.Errorf("SampleRay mismatch (-got +want)\n%s", diff)
	}
}

func TestSampleRayFloorIsATile(t *testing.T) {
	s := NewCardScene()
	rng := rand.New(rand.NewSource(3))

	r := ray.Ray{Point: vec3.T{-10, 20, 5}, Slope: vec3.T{0, 0, -1}}
	got := s.SampleRay(r, rng, 0)

	// Nothing sits between this floor point and the light, and the normal
	// faces it, so the point is lit by some Lambert factor in (0, 1].
	red := got[1] == got[2] && math.Abs(got[0]-3*got[1]) < 1e-12
	white := got[0] == got[1] && got[1] == got[2]
	if !red && !white {
		t.Fatalf("SampleRay = %v, not a floor tile color", got)
	}
	scale := got[0] / 3
	if scale <= 0.1 || scale > 0.3+1e-12 {
		t.Errorf("floor shading factor %v outside (0.1, 0.3]", scale)
	}
}

func TestSampleRayShadowedFloor(t *testing.T) {
	s := &Scene{
		// One sphere directly between the floor point and the light.
		Spheres: []vec3.T{{4.5, 4.5, 8}},
	}
	rng := rand.New(rand.NewSource(3))

	r := ray.Ray{Point: vec3.T{0, 0, 5}, Slope: vec3.T{0, 0, -1}}
	got := s.SampleRay(r, rng, 0)

	// (0,0,0) is on a white tile: ceil(0)+ceil(0) is even.  Unlit floor is
	// ambient only.
	want := vec3.MulVS(material.WhiteTile, 0.1)
	if diff := cmp.Diff(got, want, cmpopts.EquateApprox(0, 1e-12)); diff != "" {
		t.Errorf("SampleRay mismatch (-got +want)\n%s", diff)
	}
}

func TestSampleRayMaxDepth(t *testing.T) {
	// Two spheres facing each other along x, with a ray bouncing between
	// them forever.
	spheres := []vec3.T{{0, 0, 5}, {4, 0, 5}}
	r := ray.Ray{Point: vec3.T{2, 0, 5}, Slope: vec3.T{1, 0, 0}}

	capped := &Scene{Spheres: spheres, MaxDepth: 3}
	got := capped.SampleRay(r, rand.New(rand.NewSource(5)), 0)
	for i, c := range got {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			t.Errorf("component %d = %v, want finite", i, c)
		}
	}

	// Starting at the cap, no bounce is followed and only the highlight term
	// is left.
	flat := &Scene{Spheres: spheres, MaxDepth: 1}
	one := flat.SampleRay(r, rand.New(rand.NewSource(5)), 1)
	if one[0] != one[1] || one[1] != one[2] {
		t.Errorf("capped sample %v is not a grey highlight", one)
	}
}

func TestSampleRayReproducible(t *testing.T) {
	s := NewCardScene()
	r := ray.Ray{
		Point: vec3.T{17, 16, 8},
		Slope: vec3.Normalize(vec3.T{-6, -16, 0.5}),
	}

	a := s.SampleRay(r, rand.New(rand.NewSource(11)), 0)
	b := s.SampleRay(r, rand.New(rand.NewSource(11)), 0)
	if a != b {
		t.Errorf("same seed gave %v and %v", a, b)
	}
}
