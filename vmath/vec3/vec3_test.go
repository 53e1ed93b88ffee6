package vec3

import (
	"math"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

const numRandTests = 256

func randVec(rng *rand.Rand) T {
	return T{
		rng.Float64()*20 - 10,
		rng.Float64()*20 - 10,
		rng.Float64()*20 - 10,
	}
}

func TestBasicOps(t *testing.T) {
	a := T{1, 2, 3}
	b := T{4, 5, 6}

	if got, want := AddVV(a, b), (T{5, 7, 9}); got != want {
		t.Errorf("AddVV(%v, %v) = %v, want %v", a, b, got, want)
	}
	if got, want := SubVV(b, a), (T{3, 3, 3}); got != want {
		t.Errorf("SubVV(%v, %v) = %v, want %v", b, a, got, want)
	}
	if got, want := MulVS(a, 3), (T{3, 6, 9}); got != want {
		t.Errorf("MulVS(%v, 3) = %v, want %v", a, got, want)
	}
	if got, want := IProd(a, b), 32.0; got != want {
		t.Errorf("IProd(%v, %v) = %v, want %v", a, b, got, want)
	}
	if got, want := CProd(a, b), (T{-3, 6, -3}); got != want {
		t.Errorf("CProd(%v, %v) = %v, want %v", a, b, got, want)
	}
}

func TestNormalizeKnown(t *testing.T) {
	mag := math.Sqrt(14)
	got := Normalize(T{1, 2, 3})
	want := T{1 / mag, 2 / mag, 3 / mag}
	if diff := cmp.Diff(got, want, cmpopts.EquateApprox(0, 1e-15)); diff != "" {
		t.Errorf("Normalize mismatch (-got +want)\n%s", diff)
	}
}

func TestNormalizeZeroIsNaN(t *testing.T) {
	got := Normalize(T{})
	for i, c := range got {
		if !math.IsNaN(c) {
			t.Errorf("component %d of Normalize(0) = %v, want NaN", i, c)
		}
	}
}

func TestLaws(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	approx := cmpopts.EquateApprox(0, 1e-9)

	for i := 0; i < numRandTests; i++ {
		a := randVec(rng)
		b := randVec(rng)

		if diff := cmp.Diff(CProd(a, b), MulVS(CProd(b, a), -1), approx); diff != "" {
			t.Fatalf("cross product is not anti-commutative for %v, %v (-ab +(-ba))\n%s", a, b, diff)
		}

		if IProd(a, b) != IProd(b, a) {
			t.Fatalf("dot product is not commutative for %v, %v", a, b)
		}

		if AddVV(a, b) != AddVV(b, a) {
			t.Fatalf("addition is not commutative for %v, %v", a, b)
		}

		if diff := cmp.Diff(SubVV(a, b), MulVS(SubVV(b, a), -1), approx); diff != "" {
			t.Fatalf("subtraction is not anti-commutative for %v, %v\n%s", a, b, diff)
		}

		if n := Normalize(a).Norm(); math.Abs(n-1) > 1e-9 {
			t.Fatalf("|Normalize(%v)| = %v, want 1", a, n)
		}

		c := CProd(a, b)
		if d := IProd(c, a); math.Abs(d) > 1e-9 {
			t.Fatalf("cross product %v not orthogonal to %v (dot %v)", c, a, d)
		}
	}
}

func TestReflect(t *testing.T) {
	n := T{0, 0, 1}
	d := Normalize(T{1, 0, -1})

	got := Reflect(d, n)
	want := Normalize(T{1, 0, 1})
	if diff := cmp.Diff(got, want, cmpopts.EquateApprox(0, 1e-12)); diff != "" {
		t.Errorf("Reflect mismatch (-got +want)\n%s", diff)
	}

	if got, want := Reflect(d, n).Norm(), 1.0; math.Abs(got-want) > 1e-12 {
		t.Errorf("reflection changed length: got %v, want %v", got, want)
	}
}
