package trajopt

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/dual"

	"go.apexline.dev/apexline/vehicle"
)

const sensitivityStep = 1e-7

// computeSensitivities propagates parameter derivatives through the
// converged solution. The equality defects implicitly define the decision
// vector as a function of each parameter; the derivative is the min-norm
// solution of Jx*dx/dp = -Jp, with Jp from forward-mode duals and Jx from
// finite differences of the same evaluator used for the primal solve.
func (p *Problem) computeSensitivities(x []float64) ([]ParameterSensitivity, error) {
	dm, ok := p.model.(vehicle.Differentiable)
	if !ok {
		return nil, errors.New("sensitivity requires a model with forward-mode support")
	}
	params := p.model.ParameterNames()
	if len(params) == 0 {
		return nil, nil
	}

	_, cons, tr, err := p.evaluate(x)
	if err != nil {
		return nil, err
	}
	clb, cub := p.constraintBounds()
	var eqRows []int
	for row := range clb {
		if clb[row] == cub[row] {
			eqRows = append(eqRows, row)
		}
	}
	m, n := len(eqRows), p.nVars
	if m == 0 {
		return nil, errors.New("no equality defects to differentiate through")
	}

	jx := mat.NewDense(m, n, nil)
	gradTime := make([]float64, n)
	baseTime := p.timeIntegral(tr)
	xp := append([]float64(nil), x...)
	for i := 0; i < n; i++ {
		xp[i] = x[i] + sensitivityStep
		_, consP, trP, err := p.evaluate(xp)
		xp[i] = x[i]
		if err != nil {
			return nil, errors.Wrap(err, "perturbed evaluation")
		}
		for r, row := range eqRows {
			jx.Set(r, i, (consP[row]-cons[row])/sensitivityStep)
		}
		gradTime[i] = (p.timeIntegral(trP) - baseTime) / sensitivityStep
	}

	// Min-norm solve via the normal equations of Jx*Jx^T.
	var aat mat.Dense
	aat.Mul(jx, jx.T())
	sym := mat.NewSymDense(m, nil)
	for r := 0; r < m; r++ {
		for c := r; c < m; c++ {
			sym.SetSym(r, c, aat.At(r, c))
		}
	}
	var chol mat.Cholesky
	if !chol.Factorize(sym) {
		return nil, errors.New("defect jacobian is rank deficient; sensitivities are not defined")
	}

	out := make([]ParameterSensitivity, 0, len(params))
	for pi, name := range params {
		consDual, timeDual, err := p.dualConstraints(dm, tr, pi)
		if err != nil {
			return nil, err
		}
		b := mat.NewVecDense(m, nil)
		for r, row := range eqRows {
			b.SetVec(r, -consDual[row].Emag)
		}
		var y mat.VecDense
		if err := chol.SolveVecTo(&y, b); err != nil {
			return nil, errors.Wrap(err, "sensitivity solve")
		}
		var dx mat.VecDense
		dx.MulVec(jx.T(), &y)

		sens := p.unpackLinear(dx.RawVector().Data)
		sens.Name = name
		sens.LapTime = timeDual.Emag + floats.Dot(gradTime, dx.RawVector().Data)
		out = append(out, sens)
	}
	return out, nil
}

// unpackLinear distributes a tangent of the decision vector onto per-point
// samples. Components that are not decision variables (the time state, pinned
// point 0 on open meshes, fixed channels) have zero derivative; hypermesh
// derivatives interpolate like the values themselves.
func (p *Problem) unpackLinear(dx []float64) ParameterSensitivity {
	tr := p.newTrajectory()
	k := 0
	for i := p.offset; i < p.mesh.Points(); i++ {
		for j := 0; j < p.layout.NState; j++ {
			if j == p.layout.TimeIndex {
				continue
			}
			tr.q[i][j] = dx[k]
			k++
		}
		for j := 0; j < p.layout.NAlgebraic; j++ {
			tr.qa[i][j] = dx[k]
			k++
		}
		k = p.scheme.unpackControls(p, dx, k, i, tr)
	}
	for hi, ci := range p.hyper {
		copy(tr.hyperVals[hi], dx[k:k+len(tr.hyperVals[hi])])
		k += len(tr.hyperVals[hi])
		c := p.channels[ci]
		for i := 0; i < p.mesh.Points(); i++ {
			tr.u[i][ci] = c.interpolate(tr.hyperVals[hi], p.mesh.At(i))
		}
	}
	return ParameterSensitivity{
		States:    copyMatrix(tr.q),
		Algebraic: copyMatrix(tr.qa),
		Controls:  copyMatrix(tr.u),
	}
}

// dualConstraints rebuilds the constraint vector with dual arithmetic at the
// converged trajectory, the named parameter seeded with a unit dual part. The
// real parts reproduce the primal constraints; the dual parts are their
// parameter derivatives at fixed x.
func (p *Problem) dualConstraints(
	dm vehicle.Differentiable,
	tr *trajectory,
	param int,
) ([]dual.Number, dual.Number, error) {
	points := p.mesh.Points()
	it := p.layout.TimeIndex

	lift := func(v []float64) []dual.Number {
		out := make([]dual.Number, len(v))
		for i, x := range v {
			out[i] = dual.Number{Real: x}
		}
		return out
	}

	derivs := make([][]dual.Number, points)
	resids := make([][]dual.Number, points)
	paths := make([][]dual.Number, points)
	integs := make([][]dual.Number, points)
	for i := 0; i < points; i++ {
		deriv, residual, err := dm.EvaluateDual(lift(tr.q[i]), lift(tr.qa[i]), lift(tr.u[i]), p.mesh.At(i), param)
		if err != nil {
			return nil, dual.Number{}, errors.Wrapf(err, "dual model evaluation at mesh point %d", i)
		}
		derivs[i] = deriv
		resids[i] = residual
		paths[i] = append([]dual.Number(nil), dm.PathConstraintsDual()...)
		integs[i] = append([]dual.Number(nil), dm.IntegralTermsDual()...)
	}

	timeDual := dual.Number{}
	for i := 1; i < points; i++ {
		timeDual = dual.Add(timeDual,
			dual.Scale(0.5*p.mesh.Step(i), dual.Add(derivs[i-1][it], derivs[i][it])))
	}
	if p.mesh.Closed() {
		timeDual = dual.Add(timeDual,
			dual.Scale(0.5*p.mesh.WrapStep(), dual.Add(derivs[points-1][it], derivs[0][it])))
	}

	cons := make([]dual.Number, p.nCons)
	k := 0
	block := func(prev, cur int, ds float64) {
		for j := 0; j < p.layout.NState; j++ {
			if j == it {
				continue
			}
			defect := dual.Number{Real: tr.q[cur][j] - tr.q[prev][j]}
			defect = dual.Sub(defect, dual.Scale(0.5*ds, dual.Add(derivs[prev][j], derivs[cur][j])))
			cons[k] = defect
			k++
		}
		for j := 0; j < p.layout.NAlgebraic; j++ {
			cons[k] = resids[cur][j]
			k++
		}
		for j := 0; j < len(p.pathBounds); j++ {
			cons[k] = paths[cur][j]
			k++
		}
		if p.scheme.controlDefectCount(p) > 0 {
			for _, ci := range p.fullMesh {
				defect := dual.Number{Real: tr.u[cur][ci] - tr.u[prev][ci]}
				rates := dual.Add(
					dual.Scale(tr.du[prev][ci], derivs[prev][it]),
					dual.Scale(tr.du[cur][ci], derivs[cur][it]),
				)
				cons[k] = dual.Sub(defect, dual.Scale(0.5*ds, rates))
				k++
			}
		}
	}
	for i := 1; i < points; i++ {
		block(i-1, i, p.mesh.Step(i))
	}
	if p.mesh.Closed() {
		block(points-1, 0, p.mesh.WrapStep())
	}
	for _, idx := range p.integralIdx {
		total := dual.Number{}
		for i := 1; i < points; i++ {
			total = dual.Add(total,
				dual.Scale(0.5*p.mesh.Step(i), dual.Add(integs[i-1][idx], integs[i][idx])))
		}
		if p.mesh.Closed() {
			total = dual.Add(total,
				dual.Scale(0.5*p.mesh.WrapStep(), dual.Add(integs[points-1][idx], integs[0][idx])))
		}
		cons[k] = total
		k++
	}
	if k != p.nCons {
		return nil, dual.Number{}, errors.Errorf("constraint accounting mismatch: built %d of %d", k, p.nCons)
	}
	return cons, timeDual, nil
}
