package contact

import (
	"fmt"

	"cardtrace/vmath/vec3"
)

// Kind classifies what a ray ran into.
type Kind int

const (
	Sky Kind = iota
	Floor
	Sphere
)

func (k Kind) String() string {
	switch k {
	case Sky:
		return "sky"
	case Floor:
		return "floor"
	case Sphere:
		return "sphere"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Contact is the result of an intersection query.
//
// T and N are only meaningful when Kind is not Sky.
type Contact struct {
	Kind Kind
	T    float64
	N    vec3.T
}
