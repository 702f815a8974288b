package trajopt

import "github.com/pkg/errors"

type controlKind int

const (
	controlFixed controlKind = iota
	controlFullMesh
	controlHypermesh
)

func (k controlKind) String() string {
	switch k {
	case controlFixed:
		return "fixed"
	case controlFullMesh:
		return "full-mesh"
	case controlHypermesh:
		return "hypermesh"
	default:
		return "unknown"
	}
}

// ControlChannel describes how one control input is parametrized over the
// mesh. Construct values with FixedControl, FullMeshControl,
// FullMeshControlWithRates, or HypermeshControl; the zero value is a fixed
// channel pinned to the model's steady-state control.
type ControlChannel struct {
	kind        controlKind
	values      []float64
	rates       []float64
	dissipation float64
	breakpoints []float64
}

// FixedControl returns a channel excluded from the optimization. values may
// be nil (hold the steady-state control), a single constant, or one value per
// mesh point.
func FixedControl(values []float64) ControlChannel {
	return ControlChannel{kind: controlFixed, values: values}
}

// FullMeshControl returns a channel with one free scalar per mesh point and a
// quadratic smoothness penalty weighted by dissipation. values seeds the
// initial guess and may be nil (steady state) or one value per mesh point.
func FullMeshControl(values []float64, dissipation float64) ControlChannel {
	return ControlChannel{kind: controlFullMesh, values: values, dissipation: dissipation}
}

// FullMeshControlWithRates is FullMeshControl with an initial guess for the
// control rates used by the rate formulation.
func FullMeshControlWithRates(values, rates []float64, dissipation float64) ControlChannel {
	return ControlChannel{kind: controlFullMesh, values: values, rates: rates, dissipation: dissipation}
}

// HypermeshControl returns a channel with free scalars at a coarser
// breakpoint set, linearly interpolated onto the mesh. Breakpoints must be
// strictly increasing and cover the whole mesh range; this is validated when
// the channel is bound to a problem.
func HypermeshControl(breakpoints, values []float64) ControlChannel {
	return ControlChannel{kind: controlHypermesh, breakpoints: breakpoints, values: values}
}

// Kind returns a human-readable channel kind for logging.
func (c ControlChannel) Kind() string { return c.kind.String() }

// validate checks the channel against the mesh. Hypermesh breakpoints must be
// strictly increasing and span the full mesh range.
func (c ControlChannel) validate(m *Mesh) error {
	points := m.Points()
	switch c.kind {
	case controlFixed:
		if n := len(c.values); n != 0 && n != 1 && n != points {
			return errors.Wrapf(ErrInvalidInitialCondition,
				"fixed channel values must have length 0, 1, or %d, got %d", points, n)
		}
	case controlFullMesh:
		if n := len(c.values); n != 0 && n != points {
			return errors.Wrapf(ErrInvalidInitialCondition,
				"full-mesh channel values must have length 0 or %d, got %d", points, n)
		}
		if n := len(c.rates); n != 0 && n != points {
			return errors.Wrapf(ErrInvalidInitialCondition,
				"full-mesh channel rates must have length 0 or %d, got %d", points, n)
		}
	case controlHypermesh:
		if len(c.breakpoints) < 2 {
			return errors.Wrap(ErrInvalidMesh, "hypermesh needs at least two breakpoints")
		}
		if len(c.values) != len(c.breakpoints) {
			return errors.Wrapf(ErrInvalidInitialCondition,
				"hypermesh values must match breakpoints, got %d vs %d", len(c.values), len(c.breakpoints))
		}
		for i := 1; i < len(c.breakpoints); i++ {
			if c.breakpoints[i] <= c.breakpoints[i-1] {
				return errors.Wrapf(ErrInvalidMesh,
					"hypermesh breakpoints must be strictly increasing at index %d", i)
			}
		}
		if c.breakpoints[0] > m.At(0) || c.breakpoints[len(c.breakpoints)-1] < m.At(points-1) {
			return errors.Wrapf(ErrInvalidMesh,
				"hypermesh breakpoints [%v, %v] must cover the mesh range [%v, %v]",
				c.breakpoints[0], c.breakpoints[len(c.breakpoints)-1], m.At(0), m.At(points-1))
		}
	default:
		return errors.Wrapf(ErrUnsupportedControlChannel, "kind %d", int(c.kind))
	}
	return nil
}

// interpolate evaluates the hypermesh polyline described by breakpoints and
// the given breakpoint values at arclength s, clamping outside the range.
func (c ControlChannel) interpolate(values []float64, s float64) float64 {
	bp := c.breakpoints
	if s <= bp[0] {
		return values[0]
	}
	if s >= bp[len(bp)-1] {
		return values[len(values)-1]
	}
	j := 1
	for bp[j] < s {
		j++
	}
	w := (s - bp[j-1]) / (bp[j] - bp[j-1])
	return values[j-1] + w*(values[j]-values[j-1])
}
