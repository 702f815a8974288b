package trajopt

import (
	"github.com/golang/geo/r3"
)

// Pose is a global position and heading harvested from the model's road
// frame after evaluating a solved point.
type Pose struct {
	Position r3.Vector
	Heading  float64
}

// ParameterSensitivity carries the derivative of the solved trajectory with
// respect to one model parameter.
type ParameterSensitivity struct {
	Name string

	// Per-point derivatives of the solved samples. The elapsed-time state
	// component is zero; it is not a decision variable.
	States    [][]float64
	Algebraic [][]float64
	Controls  [][]float64

	LapTime float64
}

// Result is a converged lap time optimization. It is created once per
// successful solve and never mutated afterwards; callers must treat every
// slice as read-only.
type Result struct {
	Mesh *Mesh

	States       [][]float64
	Algebraic    [][]float64
	Controls     [][]float64
	ControlRates [][]float64

	Poses   []Pose
	LapTime float64

	// Objective includes the dissipation penalties on top of the lap time.
	Objective float64

	Sensitivities []ParameterSensitivity

	// Multipliers holds the solver's dual vector when the backend exposes
	// one; the nlopt driver does not.
	Multipliers []float64

	fingerprint fingerprint
	x           []float64
}

func copyMatrix(m [][]float64) [][]float64 {
	out := make([][]float64, len(m))
	for i := range m {
		out[i] = append([]float64(nil), m[i]...)
	}
	return out
}

// postProcess re-evaluates the optimum once, recovers elapsed time by
// trapezoidal quadrature of the time derivative, and packages the immutable
// result with global poses from the model's road frame.
func (p *Problem) postProcess(raw *RawSolution) (*Result, error) {
	obj, _, tr, err := p.evaluate(raw.X)
	if err != nil {
		return nil, err
	}

	it := p.layout.TimeIndex
	tr.q[0][it] = p.q0[it]
	for i := 1; i < p.mesh.Points(); i++ {
		tr.q[i][it] = tr.q[i-1][it] +
			0.5*p.mesh.Step(i)*(tr.dqds[i-1][it]+tr.dqds[i][it])
	}
	last := p.mesh.Points() - 1
	lapTime := tr.q[last][it] - tr.q[0][it]
	if p.mesh.Closed() {
		lapTime += 0.5 * p.mesh.WrapStep() * (tr.dqds[last][it] + tr.dqds[0][it])
	}

	res := &Result{
		Mesh:        p.mesh,
		States:      copyMatrix(tr.q),
		Algebraic:   copyMatrix(tr.qa),
		Controls:    copyMatrix(tr.u),
		Poses:       append([]Pose(nil), tr.poses...),
		LapTime:     lapTime,
		Objective:   obj,
		Multipliers: append([]float64(nil), raw.Multipliers...),
		fingerprint: p.fingerprint(),
		x:           append([]float64(nil), raw.X...),
	}
	if p.opts.Rate {
		res.ControlRates = copyMatrix(tr.du)
	}
	return res, nil
}
