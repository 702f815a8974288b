package trajopt

import (
	"github.com/pkg/errors"

	"go.apexline.dev/apexline/track"
)

// Tolerances used when validating arclength sequences against the track,
// matching the transcription's collocation tolerances.
const (
	meshZeroTol = 1e-12
	meshWrapTol = 1e-10
)

// Mesh is an ordered arclength partition of a track. For a closed mesh the
// last point stays strictly short of the track length and the final
// "wrap" interval back to s=0 closes the lap.
type Mesh struct {
	s      []float64
	closed bool
	length float64
}

// NewUniformMesh partitions the whole track into the given number of equal
// elements. Closed meshes place points at i*L/n for i < n; open meshes add a
// final point pinned to the exact track length.
func NewUniformMesh(trk track.Track, elements int, closed bool) (*Mesh, error) {
	if elements < 2 {
		return nil, errors.Wrapf(ErrInvalidMesh, "need at least 2 elements, got %d", elements)
	}
	length := trk.Length()
	points := elements
	if !closed {
		points = elements + 1
	}
	ds := length / float64(elements)
	s := make([]float64, points)
	for i := 1; i < points; i++ {
		s[i] = float64(i) * ds
	}
	if !closed {
		s[points-1] = length
	}
	return &Mesh{s: s, closed: closed, length: length}, nil
}

// NewMesh builds a mesh from an explicit arclength sequence. Closed meshes
// must start at 0 (to tolerance, snapped to exactly 0 after validation) and
// end strictly before the track length; open meshes must stay within [0, L].
func NewMesh(trk track.Track, s []float64, closed bool) (*Mesh, error) {
	if len(s) < 2 {
		return nil, errors.Wrap(ErrInvalidMesh, "provide at least two values of arclength")
	}
	for i := 1; i < len(s); i++ {
		if s[i] <= s[i-1] {
			return nil, errors.Wrapf(ErrInvalidMesh, "arclength must be strictly increasing at index %d", i)
		}
	}
	length := trk.Length()
	last := s[len(s)-1]
	if closed {
		if s[0] > meshZeroTol || s[0] < -meshZeroTol {
			return nil, errors.Wrapf(ErrInvalidMesh, "closed mesh must start at 0, got %v", s[0])
		}
		if last > length-meshWrapTol {
			return nil, errors.Wrapf(ErrInvalidMesh,
				"closed mesh must end before the track length %v, got %v", length, last)
		}
	} else {
		if s[0] < -meshZeroTol {
			return nil, errors.Wrapf(ErrInvalidMesh, "mesh must start at or after 0, got %v", s[0])
		}
		if last > length {
			return nil, errors.Wrapf(ErrInvalidMesh,
				"mesh must end at or before the track length %v, got %v", length, last)
		}
	}
	own := make([]float64, len(s))
	copy(own, s)
	if closed {
		own[0] = 0
	}
	return &Mesh{s: own, closed: closed, length: length}, nil
}

// NewSegmentMesh partitions the sub-segment [start, finish] of the track into
// equal elements. Segment meshes are always open.
func NewSegmentMesh(trk track.Track, start, finish float64, elements int) (*Mesh, error) {
	if elements < 1 {
		return nil, errors.Wrapf(ErrInvalidMesh, "need at least 1 element, got %d", elements)
	}
	length := trk.Length()
	if start < -meshZeroTol {
		return nil, errors.Wrapf(ErrInvalidMesh, "segment start must be >= 0, got %v", start)
	}
	if finish > length {
		return nil, errors.Wrapf(ErrInvalidMesh,
			"segment finish must be <= track length %v, got %v", length, finish)
	}
	if finish <= start {
		return nil, errors.Wrapf(ErrInvalidMesh, "segment [%v, %v] is empty", start, finish)
	}
	s := make([]float64, elements+1)
	ds := (finish - start) / float64(elements)
	for i := range s {
		s[i] = start + float64(i)*ds
	}
	s[elements] = finish
	return &Mesh{s: s, closed: false, length: length}, nil
}

// Points returns the number of mesh points.
func (m *Mesh) Points() int { return len(m.s) }

// Elements returns the number of collocation intervals, counting the wrap
// interval for closed meshes.
func (m *Mesh) Elements() int {
	if m.closed {
		return len(m.s)
	}
	return len(m.s) - 1
}

// Closed reports whether the mesh wraps around the track.
func (m *Mesh) Closed() bool { return m.closed }

// Length returns the full track length.
func (m *Mesh) Length() float64 { return m.length }

// At returns the arclength of point i.
func (m *Mesh) At(i int) float64 { return m.s[i] }

// Arclengths returns a copy of the arclength sequence.
func (m *Mesh) Arclengths() []float64 {
	out := make([]float64, len(m.s))
	copy(out, m.s)
	return out
}

// Step returns the interval length s[i] - s[i-1] for i >= 1.
func (m *Mesh) Step(i int) float64 { return m.s[i] - m.s[i-1] }

// WrapStep returns the closing interval length from the last point back to
// s=0. It is zero for open meshes.
func (m *Mesh) WrapStep() float64 {
	if !m.closed {
		return 0
	}
	return m.length - m.s[len(m.s)-1]
}
