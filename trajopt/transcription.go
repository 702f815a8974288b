package trajopt

import (
	"github.com/pkg/errors"
)

// trajectory carries per-point samples reconstructed from a decision vector,
// plus the evaluation products filled in by the model sweep.
type trajectory struct {
	q  [][]float64 // states, time component recovered post hoc
	qa [][]float64 // algebraic states
	u  [][]float64 // controls
	du [][]float64 // control rates (rate formulation)

	hyperVals [][]float64 // breakpoint values, one slice per hypermesh channel

	dqds  [][]float64 // state derivatives from the model sweep
	res   [][]float64 // algebraic residuals
	path  [][]float64 // extra path constraint values
	integ [][]float64 // integral term values
	poses []Pose
}

func (p *Problem) newTrajectory() *trajectory {
	points := p.mesh.Points()
	alloc := func(dim int) [][]float64 {
		out := make([][]float64, points)
		for i := range out {
			out[i] = make([]float64, dim)
		}
		return out
	}
	tr := &trajectory{
		q:     alloc(p.layout.NState),
		qa:    alloc(p.layout.NAlgebraic),
		u:     alloc(p.layout.NControl),
		du:    alloc(p.layout.NControl),
		dqds:  make([][]float64, points),
		res:   make([][]float64, points),
		path:  make([][]float64, points),
		integ: make([][]float64, points),
		poses: make([]Pose, points),
	}
	tr.hyperVals = make([][]float64, len(p.hyper))
	for hi, ci := range p.hyper {
		tr.hyperVals[hi] = make([]float64, len(p.channels[ci].values))
	}
	return tr
}

// scheme is the formulation strategy fixed at construction: direct packs
// controls as decision variables; rate additionally packs control rates and
// ties control evolution to them through defects.
type scheme interface {
	String() string

	// controlVars returns the control decision variables per free mesh point.
	controlVars(p *Problem) int

	packControls(p *Problem, x []float64, k, i int, tr *trajectory) int
	unpackControls(p *Problem, x []float64, k, i int, tr *trajectory) int
	controlBounds(p *Problem, lb, ub []float64, k int) int

	// controlDefectCount returns the control-evolution defects per interval.
	controlDefectCount(p *Problem) int
	controlDefects(p *Problem, out []float64, k int, tr *trajectory, prev, cur int, ds float64) int

	// dissipation returns the total control smoothness penalty.
	dissipation(p *Problem, tr *trajectory) float64
}

type directScheme struct{}

func (directScheme) String() string { return "direct" }

func (directScheme) controlVars(p *Problem) int { return len(p.fullMesh) }

func (directScheme) packControls(p *Problem, x []float64, k, i int, tr *trajectory) int {
	for _, ci := range p.fullMesh {
		x[k] = tr.u[i][ci]
		k++
	}
	return k
}

func (directScheme) unpackControls(p *Problem, x []float64, k, i int, tr *trajectory) int {
	for _, ci := range p.fullMesh {
		tr.u[i][ci] = x[k]
		k++
	}
	return k
}

func (directScheme) controlBounds(p *Problem, lb, ub []float64, k int) int {
	for _, ci := range p.fullMesh {
		lb[k], ub[k] = clampLimit(p.ctrlBounds[ci])
		k++
	}
	return k
}

func (directScheme) controlDefectCount(*Problem) int { return 0 }

func (directScheme) controlDefects(_ *Problem, _ []float64, k int, _ *trajectory, _, _ int, _ float64) int {
	return k
}

// dissipation penalizes the discrete control difference over every interval,
// including the wrap interval on closed meshes.
func (directScheme) dissipation(p *Problem, tr *trajectory) float64 {
	total := 0.0
	for _, ci := range p.fullMesh {
		w := p.channels[ci].dissipation
		for i := 1; i < p.mesh.Points(); i++ {
			ds := p.mesh.Step(i)
			d := (tr.u[i][ci] - tr.u[i-1][ci]) / ds
			total += w * d * d * ds
		}
		if p.mesh.Closed() {
			ds := p.mesh.WrapStep()
			last := p.mesh.Points() - 1
			d := (tr.u[0][ci] - tr.u[last][ci]) / ds
			total += w * d * d * ds
		}
	}
	return total
}

type rateScheme struct{}

func (rateScheme) String() string { return "rate" }

func (rateScheme) controlVars(p *Problem) int { return 2 * len(p.fullMesh) }

func (rateScheme) packControls(p *Problem, x []float64, k, i int, tr *trajectory) int {
	for _, ci := range p.fullMesh {
		x[k] = tr.u[i][ci]
		k++
	}
	for _, ci := range p.fullMesh {
		x[k] = tr.du[i][ci]
		k++
	}
	return k
}

func (rateScheme) unpackControls(p *Problem, x []float64, k, i int, tr *trajectory) int {
	for _, ci := range p.fullMesh {
		tr.u[i][ci] = x[k]
		k++
	}
	for _, ci := range p.fullMesh {
		tr.du[i][ci] = x[k]
		k++
	}
	return k
}

func (rateScheme) controlBounds(p *Problem, lb, ub []float64, k int) int {
	for _, ci := range p.fullMesh {
		lb[k], ub[k] = clampLimit(p.ctrlBounds[ci])
		k++
	}
	for _, ci := range p.fullMesh {
		lb[k], ub[k] = clampLimit(p.rateBounds[ci])
		k++
	}
	return k
}

func (rateScheme) controlDefectCount(p *Problem) int { return len(p.fullMesh) }

// controlDefects ties control evolution to the rate variables through the
// local time rate: u_cur - u_prev = 0.5*ds*(du_prev*dt/ds_prev + du_cur*dt/ds_cur).
func (rateScheme) controlDefects(p *Problem, out []float64, k int, tr *trajectory, prev, cur int, ds float64) int {
	it := p.layout.TimeIndex
	for _, ci := range p.fullMesh {
		out[k] = tr.u[cur][ci] - tr.u[prev][ci] -
			0.5*ds*(tr.du[prev][ci]*tr.dqds[prev][it]+tr.du[cur][ci]*tr.dqds[cur][it])
		k++
	}
	return k
}

// dissipation penalizes the rate decision variables directly.
func (rateScheme) dissipation(p *Problem, tr *trajectory) float64 {
	total := 0.0
	for _, ci := range p.fullMesh {
		w := p.channels[ci].dissipation
		for i := 1; i < p.mesh.Points(); i++ {
			total += w * tr.du[i][ci] * tr.du[i][ci] * p.mesh.Step(i)
		}
		if p.mesh.Closed() {
			total += w * tr.du[0][ci] * tr.du[0][ci] * p.mesh.WrapStep()
		}
	}
	return total
}

// pack flattens a trajectory into a decision vector: per free mesh point
// [state excl. time][algebraic][controls(+rates)], then the hypermesh
// breakpoint blocks.
func (p *Problem) pack(tr *trajectory) []float64 {
	x := make([]float64, p.nVars)
	k := 0
	for i := p.offset; i < p.mesh.Points(); i++ {
		for j := 0; j < p.layout.NState; j++ {
			if j == p.layout.TimeIndex {
				continue
			}
			x[k] = tr.q[i][j]
			k++
		}
		for j := 0; j < p.layout.NAlgebraic; j++ {
			x[k] = tr.qa[i][j]
			k++
		}
		k = p.scheme.packControls(p, x, k, i, tr)
	}
	for hi := range p.hyper {
		copy(x[k:], tr.hyperVals[hi])
		k += len(tr.hyperVals[hi])
	}
	return x
}

// unpack reconstructs per-point samples from a decision vector. On open
// meshes point 0 comes from the initial condition. Fixed and hypermesh
// channels are resolved onto every point. The consumed count must exactly
// match the decision vector length.
func (p *Problem) unpack(x []float64) (*trajectory, error) {
	if len(x) != p.nVars {
		return nil, errors.Errorf("decision vector has length %d, expected %d", len(x), p.nVars)
	}
	tr := p.newTrajectory()
	if p.offset == 1 {
		copy(tr.q[0], p.q0)
		copy(tr.qa[0], p.qa0)
		for _, ci := range p.fullMesh {
			tr.u[0][ci] = p.u0[ci]
		}
	}
	k := 0
	for i := p.offset; i < p.mesh.Points(); i++ {
		for j := 0; j < p.layout.NState; j++ {
			if j == p.layout.TimeIndex {
				continue
			}
			tr.q[i][j] = x[k]
			k++
		}
		for j := 0; j < p.layout.NAlgebraic; j++ {
			tr.qa[i][j] = x[k]
			k++
		}
		k = p.scheme.unpackControls(p, x, k, i, tr)
	}
	for hi := range p.hyper {
		copy(tr.hyperVals[hi], x[k:k+len(tr.hyperVals[hi])])
		k += len(tr.hyperVals[hi])
	}
	if k != p.nVars {
		return nil, errors.Errorf("variable accounting mismatch: consumed %d of %d", k, p.nVars)
	}
	for i := 0; i < p.mesh.Points(); i++ {
		for ci, c := range p.channels {
			switch c.kind {
			case controlFixed:
				tr.u[i][ci] = p.fixedValue(ci, i)
			case controlHypermesh:
				hi := p.hyperSlot(ci)
				tr.u[i][ci] = c.interpolate(tr.hyperVals[hi], p.mesh.At(i))
			}
		}
	}
	return tr, nil
}

func (p *Problem) hyperSlot(ci int) int {
	for hi, c := range p.hyper {
		if c == ci {
			return hi
		}
	}
	return -1
}
