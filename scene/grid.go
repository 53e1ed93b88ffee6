package scene

import (
	"cardtrace/vmath/vec3"
)

const (
	GridRows = 9
	GridCols = 19
)

// CardGrid is the silhouette rendered by the card scene.  Bit k of row j
// places a unit sphere in column k; row 0 is the top of the silhouette.
var CardGrid = [GridRows]uint32{
	0b0000000000000000000,
	0b0111001111001000100,
	0b1000101000101101100,
	0b1000101000101010100,
	0b1111101000101000100,
	0b1000101000101000100,
	0b1000101000101000100,
	0b1000101111001000100,
	0b0000000000000000000,
}

// GridCenter returns the world-space center of the sphere at grid row j,
// column k.
func GridCenter(j, k int) vec3.T {
	return vec3.T{float64(k), 0, float64(GridRows-j) + 4}
}

// DecodeGrid expands a bit grid into the list of sphere centers it encodes.
//
// Centers are listed column by column, top row first within a column.  Trace
// scans them in this order, so it also decides which of two equidistant
// spheres wins.
func DecodeGrid(grid []uint32, cols int) []vec3.T {
	centers := []vec3.T{}
	for k := 0; k < cols; k++ {
		for j := range grid {
			if grid[j]&(1<<uint(k)) != 0 {
				centers = append(centers, GridCenter(j, k))
			}
		}
	}
	return centers
}
