// Package segmentation implements the binary image operations used to
// isolate frame markers in a slice: thresholding, hole filling, dilation and
// erosion, connected-component labelling and per-component statistics.
package segmentation

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r2"

	"stereoframe/internal/models"
)

// Mask is a binary image in row-major order
type Mask struct {
	Data   []bool
	Width  int
	Height int
}

// NewMask allocates an empty mask
func NewMask(width, height int) Mask {
	return Mask{Data: make([]bool, width*height), Width: width, Height: height}
}

// At returns the mask value at column x, row y. Out-of-bounds pixels are false.
func (m Mask) At(x, y int) bool {
	if x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return false
	}
	return m.Data[y*m.Width+x]
}

// Count returns the number of set pixels
func (m Mask) Count() int {
	n := 0
	for _, v := range m.Data {
		if v {
			n++
		}
	}
	return n
}

// Predicate selects voxel values that belong to the foreground
type Predicate func(value float64) bool

// Above returns a predicate matching values strictly greater than cutoff
func Above(cutoff float64) Predicate {
	return func(value float64) bool { return value > cutoff }
}

// Threshold binarizes a slice
func Threshold(g models.Grid, pred Predicate) Mask {
	m := NewMask(g.Width, g.Height)
	for i, v := range g.Data {
		m.Data[i] = pred(v)
	}
	return m
}

// Op is a binary morphology operation
type Op int

const (
	OpDilate Op = iota
	OpErode
	OpFillHoles
)

// Morphology applies op to the mask. radius is ignored for OpFillHoles.
func Morphology(m Mask, op Op, radius int) (Mask, error) {
	switch op {
	case OpDilate:
		return Dilate(m, radius), nil
	case OpErode:
		return Erode(m, radius), nil
	case OpFillHoles:
		return FillHoles(m), nil
	default:
		return Mask{}, fmt.Errorf("unknown morphology op %d", op)
	}
}

// disk returns the offsets of a disk structuring element
func disk(radius int) [][2]int {
	var offsets [][2]int
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			if dx*dx+dy*dy <= radius*radius {
				offsets = append(offsets, [2]int{dx, dy})
			}
		}
	}
	return offsets
}

// Dilate grows the foreground by a disk of the given radius
func Dilate(m Mask, radius int) Mask {
	if radius <= 0 {
		return m.clone()
	}
	se := disk(radius)
	out := NewMask(m.Width, m.Height)
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			if !m.Data[y*m.Width+x] {
				continue
			}
			for _, o := range se {
				nx, ny := x+o[0], y+o[1]
				if nx >= 0 && ny >= 0 && nx < m.Width && ny < m.Height {
					out.Data[ny*m.Width+nx] = true
				}
			}
		}
	}
	return out
}

// Erode shrinks the foreground by a disk of the given radius. Pixels outside
// the image count as background.
func Erode(m Mask, radius int) Mask {
	if radius <= 0 {
		return m.clone()
	}
	se := disk(radius)
	out := NewMask(m.Width, m.Height)
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			keep := true
			for _, o := range se {
				if !m.At(x+o[0], y+o[1]) {
					keep = false
					break
				}
			}
			out.Data[y*m.Width+x] = keep
		}
	}
	return out
}

// FillHoles sets every background pixel that is not 4-connected to the
// image border
func FillHoles(m Mask) Mask {
	w, h := m.Width, m.Height
	outside := make([]bool, w*h)
	queue := make([]int, 0, 2*(w+h))

	push := func(x, y int) {
		idx := y*w + x
		if !m.Data[idx] && !outside[idx] {
			outside[idx] = true
			queue = append(queue, idx)
		}
	}
	for x := 0; x < w; x++ {
		push(x, 0)
		push(x, h-1)
	}
	for y := 0; y < h; y++ {
		push(0, y)
		push(w-1, y)
	}
	for len(queue) > 0 {
		idx := queue[0]
		queue = queue[1:]
		x, y := idx%w, idx/w
		if x > 0 {
			push(x-1, y)
		}
		if x < w-1 {
			push(x+1, y)
		}
		if y > 0 {
			push(x, y-1)
		}
		if y < h-1 {
			push(x, y+1)
		}
	}

	out := NewMask(w, h)
	for i := range out.Data {
		out.Data[i] = !outside[i]
	}
	return out
}

func (m Mask) clone() Mask {
	out := NewMask(m.Width, m.Height)
	copy(out.Data, m.Data)
	return out
}

// Labels is a labelled image. Label 0 is background; components are
// numbered 1..Count in raster order of their first pixel.
type Labels struct {
	Data   []int
	Width  int
	Height int
	Count  int
}

// Label finds the 8-connected components of a mask
func Label(m Mask) Labels {
	w, h := m.Width, m.Height
	l := Labels{Data: make([]int, w*h), Width: w, Height: h}
	var stack []int

	for start := range m.Data {
		if !m.Data[start] || l.Data[start] != 0 {
			continue
		}
		l.Count++
		l.Data[start] = l.Count
		stack = append(stack[:0], start)
		for len(stack) > 0 {
			idx := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			x, y := idx%w, idx/w
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					nx, ny := x+dx, y+dy
					if nx < 0 || ny < 0 || nx >= w || ny >= h {
						continue
					}
					n := ny*w + nx
					if m.Data[n] && l.Data[n] == 0 {
						l.Data[n] = l.Count
						stack = append(stack, n)
					}
				}
			}
		}
	}
	return l
}

// Component summarizes one labelled region
type Component struct {
	Label      int
	PixelCount int

	// Centroid is in pixel coordinates (column, row)
	Centroid r2.Vec
}

// Stats returns one Component per label, ordered by label
func Stats(l Labels) []Component {
	comps := make([]Component, l.Count)
	sumX := make([]float64, l.Count)
	sumY := make([]float64, l.Count)
	for idx, lab := range l.Data {
		if lab == 0 {
			continue
		}
		c := lab - 1
		comps[c].PixelCount++
		sumX[c] += float64(idx % l.Width)
		sumY[c] += float64(idx / l.Width)
	}
	for i := range comps {
		comps[i].Label = i + 1
		n := float64(comps[i].PixelCount)
		comps[i].Centroid = r2.Vec{X: sumX[i] / n, Y: sumY[i] / n}
	}
	return comps
}
