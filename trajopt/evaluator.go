package trajopt

import (
	"github.com/pkg/errors"
)

// sweep runs the dynamics model over every mesh point in increasing
// arclength order, filling the trajectory's derivatives, residuals, path
// constraint values, integral terms, and poses.
func (p *Problem) sweep(tr *trajectory) error {
	for i := 0; i < p.mesh.Points(); i++ {
		deriv, residual, err := p.model.Evaluate(tr.q[i], tr.qa[i], tr.u[i], p.mesh.At(i))
		if err != nil {
			return errors.Wrapf(err, "model evaluation at mesh point %d", i)
		}
		if len(deriv) != p.layout.NState || len(residual) != p.layout.NAlgebraic {
			return errors.Errorf("model returned %d/%d values at point %d, expected %d/%d",
				len(deriv), len(residual), i, p.layout.NState, p.layout.NAlgebraic)
		}
		tr.dqds[i] = deriv
		tr.res[i] = residual
		tr.path[i] = append([]float64(nil), p.model.PathConstraints()...)
		tr.integ[i] = append([]float64(nil), p.model.IntegralTerms()...)
		tr.poses[i] = Pose{Position: p.model.Position(), Heading: p.model.Heading()}
		if len(tr.path[i]) != len(p.pathBounds) {
			return errors.Errorf("model returned %d path constraint values at point %d, expected %d",
				len(tr.path[i]), i, len(p.pathBounds))
		}
	}
	return nil
}

// timeIntegral is the trapezoidal quadrature of the elapsed-time derivative
// over the whole mesh, wrap interval included on closed meshes.
func (p *Problem) timeIntegral(tr *trajectory) float64 {
	it := p.layout.TimeIndex
	total := 0.0
	for i := 1; i < p.mesh.Points(); i++ {
		total += 0.5 * p.mesh.Step(i) * (tr.dqds[i-1][it] + tr.dqds[i][it])
	}
	if p.mesh.Closed() {
		last := p.mesh.Points() - 1
		total += 0.5 * p.mesh.WrapStep() * (tr.dqds[last][it] + tr.dqds[0][it])
	}
	return total
}

// evaluate maps a decision vector to the objective, the constraint vector,
// and the reconstructed trajectory. It is a pure function of x: identical
// inputs always produce identical outputs, even after solving.
func (p *Problem) evaluate(x []float64) (float64, []float64, *trajectory, error) {
	tr, err := p.unpack(x)
	if err != nil {
		return 0, nil, nil, err
	}
	if err := p.sweep(tr); err != nil {
		return 0, nil, nil, err
	}

	obj := p.timeIntegral(tr) + p.scheme.dissipation(p, tr)

	cons := make([]float64, p.nCons)
	k := 0
	for i := 1; i < p.mesh.Points(); i++ {
		k = p.defectBlock(cons, k, tr, i-1, i, p.mesh.Step(i))
	}
	if p.mesh.Closed() {
		k = p.defectBlock(cons, k, tr, p.mesh.Points()-1, 0, p.mesh.WrapStep())
	}
	for _, idx := range p.integralIdx {
		cons[k] = p.integralValue(tr, idx)
		k++
	}
	if k != p.nCons {
		return 0, nil, nil, errors.Errorf("constraint accounting mismatch: built %d of %d", k, p.nCons)
	}
	return obj, cons, tr, nil
}

// defectBlock writes one interval's constraints: trapezoidal state defects,
// the algebraic residual at the interval end, the path constraint values at
// the interval end, and the scheme's control defects. For the wrap interval
// of a closed mesh, cur is point 0 and the "end" values are the point 0 ones.
func (p *Problem) defectBlock(out []float64, k int, tr *trajectory, prev, cur int, ds float64) int {
	for j := 0; j < p.layout.NState; j++ {
		if j == p.layout.TimeIndex {
			continue
		}
		out[k] = tr.q[cur][j] - tr.q[prev][j] - 0.5*ds*(tr.dqds[prev][j]+tr.dqds[cur][j])
		k++
	}
	for j := 0; j < p.layout.NAlgebraic; j++ {
		out[k] = tr.res[cur][j]
		k++
	}
	for j := 0; j < len(p.pathBounds); j++ {
		out[k] = tr.path[cur][j]
		k++
	}
	return p.scheme.controlDefects(p, out, k, tr, prev, cur, ds)
}

// integralValue is the trapezoidal quadrature of one integral term over the
// whole mesh, wrap interval included on closed meshes.
func (p *Problem) integralValue(tr *trajectory, idx int) float64 {
	total := 0.0
	for i := 1; i < p.mesh.Points(); i++ {
		total += 0.5 * p.mesh.Step(i) * (tr.integ[i-1][idx] + tr.integ[i][idx])
	}
	if p.mesh.Closed() {
		last := p.mesh.Points() - 1
		total += 0.5 * p.mesh.WrapStep() * (tr.integ[last][idx] + tr.integ[0][idx])
	}
	return total
}
