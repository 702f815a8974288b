// Package vehicle defines the dynamics-model contract consumed by the lap
// time optimizer. The chassis/tire/aerodynamics equations live behind
// Model.Evaluate; the optimizer only sees state derivatives, residuals, and
// bounds.
package vehicle

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/num/dual"

	"go.apexline.dev/apexline/track"
)

// Limit describes a minimum and maximum allowed value for a component.
type Limit struct {
	Min float64
	Max float64
}

// Layout describes how a model's state vector is organized. TimeIndex is the
// elapsed-time component, recovered by quadrature rather than collocation.
// LateralIndex is the component bounded live by the track limits; it may be
// set to -1 for models without a lateral state.
type Layout struct {
	NState     int
	NAlgebraic int
	NControl   int

	TimeIndex    int
	LateralIndex int
}

// Validate checks internal consistency of the layout.
func (l Layout) Validate() error {
	if l.NState < 1 {
		return errors.New("layout must have at least one state (elapsed time)")
	}
	if l.NAlgebraic < 0 || l.NControl < 0 {
		return errors.New("layout dimensions must be non-negative")
	}
	if l.TimeIndex < 0 || l.TimeIndex >= l.NState {
		return errors.Errorf("time index %d out of range for %d states", l.TimeIndex, l.NState)
	}
	if l.LateralIndex >= l.NState {
		return errors.Errorf("lateral index %d out of range for %d states", l.LateralIndex, l.NState)
	}
	if l.LateralIndex >= 0 && l.LateralIndex == l.TimeIndex {
		return errors.New("time and lateral indices must differ")
	}
	return nil
}

// Model is the narrow evaluation contract for a vehicle dynamics model
// running on an arclength-parametrized track.
//
// Evaluate computes the state derivative dq/ds and the algebraic residual at
// arclength s, advancing the model's internal road frame as a side effect.
// Position, Heading, PathConstraints, and IntegralTerms read values produced
// by the most recent Evaluate call. A model instance is therefore not safe
// for concurrent use.
type Model interface {
	Layout() Layout
	Track() track.Track

	Evaluate(state, algebraic, control []float64, s float64) (deriv, residual []float64, err error)

	StateBounds() []Limit
	AlgebraicBounds() []Limit
	ControlBounds() []Limit
	ControlRateBounds() []Limit

	// PathConstraintBounds sizes and bounds the extra pointwise constraints
	// (tire slip windows and the like) whose values PathConstraints reports
	// after each Evaluate.
	PathConstraintBounds() []Limit
	PathConstraints() []float64

	// IntegralTermNames names quantities whose running integral over the lap
	// may be constrained (fuel burned, energy deployed). IntegralTerms
	// reports the integrand values after each Evaluate.
	IntegralTermNames() []string
	IntegralTerms() []float64

	Position() r3.Vector
	Heading() float64

	// SteadyState returns the reference sample used to seed every mesh point
	// of the initial guess.
	SteadyState() (state, algebraic, control []float64)

	ParameterNames() []string
}

// Differentiable is implemented by models that support forward-mode
// differentiation with respect to a named parameter. The dual part of each
// input carries its derivative with respect to parameter param; the model
// seeds the active parameter itself with a unit dual part.
type Differentiable interface {
	Model

	EvaluateDual(state, algebraic, control []dual.Number, s float64, param int) (deriv, residual []dual.Number, err error)
	PathConstraintsDual() []dual.Number
	IntegralTermsDual() []dual.Number
}
