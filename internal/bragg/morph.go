package bragg

import "math"

// Connectivity selects voxel adjacency.
type Connectivity int

const (
	// Conn6 joins voxels sharing a face.
	Conn6 Connectivity = iota
	// Conn26 joins voxels sharing a face, an edge or a corner.
	Conn26
)

// offsets returns the neighbour displacements for the connectivity.
func (c Connectivity) offsets() [][3]int {
	var out [][3]int
	for dr := -1; dr <= 1; dr++ {
		for dc := -1; dc <= 1; dc++ {
			for dt := -1; dt <= 1; dt++ {
				n := abs(dr) + abs(dc) + abs(dt)
				if n == 0 || (c == Conn6 && n > 1) {
					continue
				}
				out = append(out, [3]int{dr, dc, dt})
			}
		}
	}
	return out
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// smoothTOF returns the 3-tap running mean along the TOF axis. The edge
// sample is repeated beyond each end.
func smoothTOF(c *Cube) *Cube {
	out := NewCube(c.NRows, c.NCols, c.NBins)
	last := c.NBins - 1
	for r := 0; r < c.NRows; r++ {
		for col := 0; col < c.NCols; col++ {
			for t := 0; t <= last; t++ {
				prev := c.At(r, col, max(0, t-1))
				next := c.At(r, col, min(last, t+1))
				out.Set(r, col, t, (prev+c.At(r, col, t)+next)/3)
			}
		}
	}
	return out
}

// zeroNonFinite replaces NaN and ±Inf in place.
func zeroNonFinite(c *Cube) {
	for i, v := range c.Data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			c.Data[i] = 0
		}
	}
}

// Threshold returns the mask of voxels strictly above cutoff. NaN is never
// above the cutoff.
func Threshold(c *Cube, cutoff float64) *Mask {
	m := NewMask(c.Shape)
	for i, v := range c.Data {
		m.Data[i] = v > cutoff
	}
	return m
}

// dilate sets every voxel with a set neighbour (or itself set).
func dilate(m *Mask, conn Connectivity) *Mask {
	out := NewMask(m.Shape)
	offs := conn.offsets()
	for i, v := range m.Data {
		if !v {
			continue
		}
		out.Data[i] = true
		r, c, t := m.Coords(i)
		for _, d := range offs {
			if m.Contains(r+d[0], c+d[1], t+d[2]) {
				out.Data[m.Index(r+d[0], c+d[1], t+d[2])] = true
			}
		}
	}
	return out
}

// erode keeps voxels whose neighbours are all set. Voxels outside the
// volume count as set.
func erode(m *Mask, conn Connectivity) *Mask {
	out := NewMask(m.Shape)
	offs := conn.offsets()
	for i, v := range m.Data {
		if !v {
			continue
		}
		r, c, t := m.Coords(i)
		keep := true
		for _, d := range offs {
			nr, nc, nt := r+d[0], c+d[1], t+d[2]
			if m.Contains(nr, nc, nt) && !m.Data[m.Index(nr, nc, nt)] {
				keep = false
				break
			}
		}
		out.Data[i] = keep
	}
	return out
}

// Closing fills holes and gaps one voxel wide: a dilation followed by an
// erosion with the same structuring element. Every set voxel stays set.
func Closing(m *Mask, conn Connectivity) *Mask {
	return erode(dilate(m, conn), conn)
}

// Label groups the set voxels of m into connected components. Each
// component lists its flat voxel indices in visiting order; components are
// ordered by their first voxel in raster order.
func Label(m *Mask, conn Connectivity) [][]int {
	seen := make([]bool, len(m.Data))
	offs := conn.offsets()
	var comps [][]int
	for i0, v := range m.Data {
		if !v || seen[i0] {
			continue
		}
		queue := []int{i0}
		seen[i0] = true
		for qi := 0; qi < len(queue); qi++ {
			r, c, t := m.Coords(queue[qi])
			for _, d := range offs {
				nr, nc, nt := r+d[0], c+d[1], t+d[2]
				if !m.Contains(nr, nc, nt) {
					continue
				}
				j := m.Index(nr, nc, nt)
				if m.Data[j] && !seen[j] {
					seen[j] = true
					queue = append(queue, j)
				}
			}
		}
		comps = append(comps, queue)
	}
	return comps
}
