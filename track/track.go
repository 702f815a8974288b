// Package track defines the circuit contract consumed by the lap time
// optimizer. Centerline fitting from survey data happens upstream; the
// optimizer only needs the total length and the live lateral boundaries.
package track

// Track exposes a circuit as an arclength-parametrized centerline with
// signed lateral limits. LeftLimit and RightLimit return distances from the
// centerline, both positive for a drivable track.
type Track interface {
	Length() float64
	LeftLimit(s float64) float64
	RightLimit(s float64) float64
}

type flat struct {
	length    float64
	halfWidth float64
}

// NewFlat returns a straight track of the given length with a constant half
// width on both sides. Handy for tests and as a degenerate circuit.
func NewFlat(length, halfWidth float64) Track {
	return &flat{length: length, halfWidth: halfWidth}
}

func (t *flat) Length() float64 { return t.length }

func (t *flat) LeftLimit(float64) float64 { return t.halfWidth }

func (t *flat) RightLimit(float64) float64 { return t.halfWidth }
