// Package fake provides analytic vehicle models with closed-form trajectories.
// They exist for tests and examples; real chassis models live outside this
// module and only need to satisfy the vehicle contracts.
package fake

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/num/dual"

	"go.apexline.dev/apexline/track"
	"go.apexline.dev/apexline/vehicle"
)

// ConstantSpeed travels its track at a fixed speed. States are
// [elapsed time, lateral position]; the lateral position has zero derivative,
// so the model's only nontrivial content is dt/ds = 1/v. It has no controls
// and no algebraic states.
type ConstantSpeed struct {
	Speed float64

	trk track.Track
	pos r3.Vector
}

// NewConstantSpeed returns a constant speed model on the given track.
func NewConstantSpeed(trk track.Track, speed float64) *ConstantSpeed {
	return &ConstantSpeed{Speed: speed, trk: trk}
}

// Layout reports [time, lateral] with no algebraic or control components.
func (m *ConstantSpeed) Layout() vehicle.Layout {
	return vehicle.Layout{NState: 2, TimeIndex: 0, LateralIndex: 1}
}

// Track returns the model's track.
func (m *ConstantSpeed) Track() track.Track { return m.trk }

// Evaluate computes dt/ds = 1/v and dn/ds = 0, advancing the road frame.
func (m *ConstantSpeed) Evaluate(state, algebraic, control []float64, s float64) ([]float64, []float64, error) {
	if len(state) != 2 || len(algebraic) != 0 || len(control) != 0 {
		return nil, nil, errors.Errorf("constant speed model expects 2 states, got %d/%d/%d",
			len(state), len(algebraic), len(control))
	}
	m.pos = r3.Vector{X: s, Y: state[1]}
	return []float64{1 / m.Speed, 0}, nil, nil
}

// StateBounds leaves both states unbounded; the lateral component is bounded
// live by the track instead.
func (m *ConstantSpeed) StateBounds() []vehicle.Limit {
	inf := math.Inf(1)
	return []vehicle.Limit{{Min: -inf, Max: inf}, {Min: -inf, Max: inf}}
}

// AlgebraicBounds returns no bounds; the model has no algebraic states.
func (m *ConstantSpeed) AlgebraicBounds() []vehicle.Limit { return nil }

// ControlBounds returns no bounds; the model has no controls.
func (m *ConstantSpeed) ControlBounds() []vehicle.Limit { return nil }

// ControlRateBounds returns no bounds; the model has no controls.
func (m *ConstantSpeed) ControlRateBounds() []vehicle.Limit { return nil }

// PathConstraintBounds returns no bounds; the model has no path constraints.
func (m *ConstantSpeed) PathConstraintBounds() []vehicle.Limit { return nil }

// PathConstraints returns no values; the model has no path constraints.
func (m *ConstantSpeed) PathConstraints() []float64 { return nil }

// IntegralTermNames returns no names; the model has no integral terms.
func (m *ConstantSpeed) IntegralTermNames() []string { return nil }

// IntegralTerms returns no values; the model has no integral terms.
func (m *ConstantSpeed) IntegralTerms() []float64 { return nil }

// Position reports the road frame position after the last Evaluate.
func (m *ConstantSpeed) Position() r3.Vector { return m.pos }

// Heading reports the road frame heading after the last Evaluate.
func (m *ConstantSpeed) Heading() float64 { return 0 }

// SteadyState starts on the centerline at time zero.
func (m *ConstantSpeed) SteadyState() ([]float64, []float64, []float64) {
	return []float64{0, 0}, nil, nil
}

// ParameterNames returns no names; the model declares no parameters.
func (m *ConstantSpeed) ParameterNames() []string { return nil }

const kartDecay = 0.1

// Kart is a toy model exercising every channel of the vehicle contract:
// states [time, lateral], one algebraic balance state, one steering control,
// a slip-style path constraint on the steering, a fuel integral term, and a
// named speed parameter with forward-mode support.
//
// Dynamics: dt/ds = 1/speed, dn/ds = u - kartDecay*n. The algebraic residual
// forces balance = u at the optimum.
type Kart struct {
	Speed float64

	trk     track.Track
	pos     r3.Vector
	heading float64
	slip    float64
	fuel    float64

	slipDual dual.Number
	fuelDual dual.Number
}

// NewKart returns a kart model on the given track.
func NewKart(trk track.Track, speed float64) *Kart {
	return &Kart{Speed: speed, trk: trk}
}

// Layout reports [time, lateral], one algebraic state, and one control.
func (m *Kart) Layout() vehicle.Layout {
	return vehicle.Layout{NState: 2, NAlgebraic: 1, NControl: 1, TimeIndex: 0, LateralIndex: 1}
}

// Track returns the model's track.
func (m *Kart) Track() track.Track { return m.trk }

// Evaluate computes the state derivative and balance residual at s.
func (m *Kart) Evaluate(state, algebraic, control []float64, s float64) ([]float64, []float64, error) {
	if len(state) != 2 || len(algebraic) != 1 || len(control) != 1 {
		return nil, nil, errors.Errorf("kart model expects 2/1/1 components, got %d/%d/%d",
			len(state), len(algebraic), len(control))
	}
	n, u := state[1], control[0]
	dnds := u - kartDecay*n

	m.pos = r3.Vector{X: s, Y: n}
	m.heading = math.Atan(dnds)
	m.slip = u
	m.fuel = u * u

	return []float64{1 / m.Speed, dnds}, []float64{algebraic[0] - u}, nil
}

// StateBounds leaves time unbounded and the lateral state nominally wide; the
// live track limits tighten it per mesh point.
func (m *Kart) StateBounds() []vehicle.Limit {
	inf := math.Inf(1)
	return []vehicle.Limit{{Min: -inf, Max: inf}, {Min: -100, Max: 100}}
}

// AlgebraicBounds bounds the balance state.
func (m *Kart) AlgebraicBounds() []vehicle.Limit {
	return []vehicle.Limit{{Min: -1, Max: 1}}
}

// ControlBounds bounds the steering control.
func (m *Kart) ControlBounds() []vehicle.Limit {
	return []vehicle.Limit{{Min: -1, Max: 1}}
}

// ControlRateBounds bounds the steering rate in the rate formulation.
func (m *Kart) ControlRateBounds() []vehicle.Limit {
	return []vehicle.Limit{{Min: -10, Max: 10}}
}

// PathConstraintBounds keeps the slip value inside the usable window.
func (m *Kart) PathConstraintBounds() []vehicle.Limit {
	return []vehicle.Limit{{Min: -0.11, Max: 0.11}}
}

// PathConstraints reports the slip value from the last Evaluate.
func (m *Kart) PathConstraints() []float64 { return []float64{m.slip} }

// IntegralTermNames declares the fuel consumption term.
func (m *Kart) IntegralTermNames() []string { return []string{"fuel"} }

// IntegralTerms reports the fuel integrand from the last Evaluate.
func (m *Kart) IntegralTerms() []float64 { return []float64{m.fuel} }

// Position reports the road frame position after the last Evaluate.
func (m *Kart) Position() r3.Vector { return m.pos }

// Heading reports the road frame heading after the last Evaluate.
func (m *Kart) Heading() float64 { return m.heading }

// SteadyState starts on the centerline with zero steering and balance.
func (m *Kart) SteadyState() ([]float64, []float64, []float64) {
	return []float64{0, 0}, []float64{0}, []float64{0}
}

// ParameterNames declares the speed parameter for sensitivity runs.
func (m *Kart) ParameterNames() []string { return []string{"speed"} }

// EvaluateDual is Evaluate with dual-number arithmetic, seeding the active
// parameter with a unit dual part.
func (m *Kart) EvaluateDual(state, algebraic, control []dual.Number, s float64, param int) ([]dual.Number, []dual.Number, error) {
	if param != 0 {
		return nil, nil, errors.Errorf("kart model has no parameter %d", param)
	}
	if len(state) != 2 || len(algebraic) != 1 || len(control) != 1 {
		return nil, nil, errors.Errorf("kart model expects 2/1/1 components, got %d/%d/%d",
			len(state), len(algebraic), len(control))
	}
	speed := dual.Number{Real: m.Speed, Emag: 1}
	n, u := state[1], control[0]
	dnds := dual.Sub(u, dual.Scale(kartDecay, n))

	m.slipDual = u
	m.fuelDual = dual.Mul(u, u)

	deriv := []dual.Number{dual.Inv(speed), dnds}
	residual := []dual.Number{dual.Sub(algebraic[0], u)}
	return deriv, residual, nil
}

// PathConstraintsDual reports the slip value from the last EvaluateDual.
func (m *Kart) PathConstraintsDual() []dual.Number {
	return []dual.Number{m.slipDual}
}

// IntegralTermsDual reports the fuel integrand from the last EvaluateDual.
func (m *Kart) IntegralTermsDual() []dual.Number {
	return []dual.Number{m.fuelDual}
}
