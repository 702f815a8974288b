// Package trajopt turns a vehicle dynamics model, a track mesh, and a set of
// control parametrizations into a large constrained nonlinear program, drives
// an external solver over it, and decodes the optimum into a physically
// consistent trajectory.
package trajopt

import (
	"context"
	"math"

	"github.com/pkg/errors"

	"go.apexline.dev/apexline/logging"
	"go.apexline.dev/apexline/vehicle"
)

// Decision variables without a model bound get this sentinel instead of an
// infinity, which some solvers reject.
const unboundedLimit = 1e24

// IntegralConstraint bounds the running integral of a named model term over
// the lap.
type IntegralConstraint struct {
	Name string
	Min  float64
	Max  float64
}

// Options configures a lap time problem. The zero value requests the direct
// formulation with a steady-state initial guess and no extensions.
type Options struct {
	// Rate selects the rate formulation: control derivatives become decision
	// variables and controls are recovered by integration against time.
	Rate bool

	// InitialState, InitialAlgebraic, and InitialControl override the model's
	// steady state as the sample pinning point 0 on open tracks and seeding
	// the initial guess everywhere.
	InitialState     []float64
	InitialAlgebraic []float64
	InitialControl   []float64

	// IntegralConstraints bound running integrals of model terms.
	IntegralConstraints []IntegralConstraint

	// WarmStart seeds the solve from Cache instead of the steady state;
	// SaveWarmStart stores a converged result back. Both require Cache.
	WarmStart     bool
	SaveWarmStart bool
	Cache         *WarmStartCache
	CacheKey      string

	// Sensitivity propagates parameter derivatives through the converged
	// solution. Requires the model to implement vehicle.Differentiable.
	Sensitivity bool

	// Solver overrides the default nlopt driver.
	Solver Solver
}

// Problem is a fully validated transcription of a lap time optimization. It
// mutates its dynamics model in place during evaluation, so a Problem (and
// its model) must not be shared across concurrent solves.
type Problem struct {
	model    vehicle.Model
	mesh     *Mesh
	channels []ControlChannel
	opts     Options
	logger   logging.Logger

	layout vehicle.Layout
	scheme scheme
	offset int

	fullMesh []int
	hyper    []int

	stateBounds []vehicle.Limit
	algBounds   []vehicle.Limit
	ctrlBounds  []vehicle.Limit
	rateBounds  []vehicle.Limit
	pathBounds  []vehicle.Limit

	integralIdx []int

	q0  []float64
	qa0 []float64
	u0  []float64

	nVars int
	nCons int
}

// NewProblem validates the configuration and lays out the decision and
// constraint vectors. All structural validation happens here, before any
// solver invocation.
func NewProblem(
	model vehicle.Model,
	mesh *Mesh,
	channels []ControlChannel,
	opts Options,
	logger logging.Logger,
) (*Problem, error) {
	if model == nil || mesh == nil {
		return nil, errors.New("model and mesh are required")
	}
	if logger == nil {
		logger = logging.NewLogger("trajopt")
	}
	layout := model.Layout()
	if err := layout.Validate(); err != nil {
		return nil, err
	}
	if len(channels) != layout.NControl {
		return nil, errors.Wrapf(ErrInvalidInitialCondition,
			"got %d control channels for %d control inputs", len(channels), layout.NControl)
	}

	p := &Problem{
		model:    model,
		mesh:     mesh,
		channels: append([]ControlChannel(nil), channels...),
		opts:     opts,
		logger:   logger,
		layout:   layout,
	}
	if mesh.Closed() {
		p.offset = 0
	} else {
		p.offset = 1
	}
	if opts.Rate {
		p.scheme = rateScheme{}
	} else {
		p.scheme = directScheme{}
	}

	if err := p.bindBounds(); err != nil {
		return nil, err
	}
	if err := p.bindChannels(); err != nil {
		return nil, err
	}
	if err := p.bindInitialCondition(); err != nil {
		return nil, err
	}
	if err := p.bindIntegralConstraints(); err != nil {
		return nil, err
	}
	if (opts.WarmStart || opts.SaveWarmStart) && opts.Cache == nil {
		return nil, errors.New("warm start requested without a cache")
	}
	if opts.Sensitivity {
		if _, ok := model.(vehicle.Differentiable); !ok {
			return nil, errors.New("sensitivity requires a model with forward-mode support")
		}
	}

	free := mesh.Points() - p.offset
	perPoint := p.layout.NState - 1 + p.layout.NAlgebraic + p.scheme.controlVars(p)
	p.nVars = free*perPoint + p.hyperVars()
	p.nCons = mesh.Elements()*p.defectsPerBlock() + len(opts.IntegralConstraints)

	logger.Debugw("transcribed lap time problem",
		"formulation", p.scheme.String(),
		"closed", mesh.Closed(),
		"points", mesh.Points(),
		"variables", p.nVars,
		"constraints", p.nCons,
	)
	return p, nil
}

func (p *Problem) bindBounds() error {
	p.stateBounds = p.model.StateBounds()
	p.algBounds = p.model.AlgebraicBounds()
	p.ctrlBounds = p.model.ControlBounds()
	p.rateBounds = p.model.ControlRateBounds()
	p.pathBounds = p.model.PathConstraintBounds()

	if len(p.stateBounds) != p.layout.NState {
		return errors.Errorf("model returned %d state bounds for %d states",
			len(p.stateBounds), p.layout.NState)
	}
	if len(p.algBounds) != p.layout.NAlgebraic {
		return errors.Errorf("model returned %d algebraic bounds for %d algebraic states",
			len(p.algBounds), p.layout.NAlgebraic)
	}
	if len(p.ctrlBounds) != p.layout.NControl {
		return errors.Errorf("model returned %d control bounds for %d controls",
			len(p.ctrlBounds), p.layout.NControl)
	}
	if p.opts.Rate && len(p.rateBounds) != p.layout.NControl {
		return errors.Errorf("model returned %d control rate bounds for %d controls",
			len(p.rateBounds), p.layout.NControl)
	}
	return nil
}

func (p *Problem) bindChannels() error {
	for ci, c := range p.channels {
		if err := c.validate(p.mesh); err != nil {
			return errors.Wrapf(err, "control channel %d", ci)
		}
		switch c.kind {
		case controlFixed:
		case controlFullMesh:
			p.fullMesh = append(p.fullMesh, ci)
		case controlHypermesh:
			if p.opts.Rate {
				return errors.Wrapf(ErrUnsupportedControlChannel,
					"channel %d: hypermesh channels require the direct formulation", ci)
			}
			p.hyper = append(p.hyper, ci)
		default:
			return errors.Wrapf(ErrUnsupportedControlChannel, "channel %d kind %d", ci, int(c.kind))
		}
	}
	return nil
}

func (p *Problem) bindInitialCondition() error {
	steadyQ, steadyQa, steadyU := p.model.SteadyState()
	pick := func(override, steady []float64, n int, what string) ([]float64, error) {
		src := steady
		if override != nil {
			src = override
		}
		if len(src) != n {
			return nil, errors.Wrapf(ErrInvalidInitialCondition,
				"%s vector must have length %d, got %d", what, n, len(src))
		}
		out := make([]float64, n)
		copy(out, src)
		return out, nil
	}
	var err error
	if p.q0, err = pick(p.opts.InitialState, steadyQ, p.layout.NState, "state"); err != nil {
		return err
	}
	if p.qa0, err = pick(p.opts.InitialAlgebraic, steadyQa, p.layout.NAlgebraic, "algebraic"); err != nil {
		return err
	}
	p.u0, err = pick(p.opts.InitialControl, steadyU, p.layout.NControl, "control")
	return err
}

func (p *Problem) bindIntegralConstraints() error {
	names := p.model.IntegralTermNames()
	for _, ic := range p.opts.IntegralConstraints {
		idx := -1
		for j, name := range names {
			if name == ic.Name {
				idx = j
				break
			}
		}
		if idx < 0 {
			return errors.Errorf("model has no integral term %q", ic.Name)
		}
		if ic.Max < ic.Min {
			return errors.Errorf("integral constraint %q has empty range [%v, %v]", ic.Name, ic.Min, ic.Max)
		}
		p.integralIdx = append(p.integralIdx, idx)
	}
	return nil
}

func (p *Problem) hyperVars() int {
	total := 0
	for _, ci := range p.hyper {
		total += len(p.channels[ci].values)
	}
	return total
}

func (p *Problem) defectsPerBlock() int {
	return p.layout.NState - 1 + p.layout.NAlgebraic + len(p.pathBounds) + p.scheme.controlDefectCount(p)
}

// Variables returns the decision vector length.
func (p *Problem) Variables() int { return p.nVars }

// Constraints returns the constraint vector length, the objective excluded.
func (p *Problem) Constraints() int { return p.nCons }

func clampLimit(l vehicle.Limit) (float64, float64) {
	lo, hi := l.Min, l.Max
	if math.IsInf(lo, -1) || lo < -unboundedLimit {
		lo = -unboundedLimit
	}
	if math.IsInf(hi, 1) || hi > unboundedLimit {
		hi = unboundedLimit
	}
	return lo, hi
}

// variableBounds assembles per-variable bounds. The lateral state component
// is bounded by the live track limits at each mesh point; everything else
// uses the model's static bounds.
func (p *Problem) variableBounds() (lb, ub []float64) {
	lb = make([]float64, p.nVars)
	ub = make([]float64, p.nVars)
	trk := p.model.Track()
	k := 0
	for i := p.offset; i < p.mesh.Points(); i++ {
		for j := 0; j < p.layout.NState; j++ {
			if j == p.layout.TimeIndex {
				continue
			}
			if j == p.layout.LateralIndex {
				lb[k] = -trk.LeftLimit(p.mesh.At(i))
				ub[k] = trk.RightLimit(p.mesh.At(i))
			} else {
				lb[k], ub[k] = clampLimit(p.stateBounds[j])
			}
			k++
		}
		for j := 0; j < p.layout.NAlgebraic; j++ {
			lb[k], ub[k] = clampLimit(p.algBounds[j])
			k++
		}
		k = p.scheme.controlBounds(p, lb, ub, k)
	}
	for _, ci := range p.hyper {
		for range p.channels[ci].values {
			lb[k], ub[k] = clampLimit(p.ctrlBounds[ci])
			k++
		}
	}
	return lb, ub
}

// constraintBounds assembles [lo, hi] rows for the constraint vector: zeros
// for collocation and periodicity defects, model bounds for path constraints,
// and the configured ranges for integral constraints.
func (p *Problem) constraintBounds() (lb, ub []float64) {
	lb = make([]float64, p.nCons)
	ub = make([]float64, p.nCons)
	k := 0
	for e := 0; e < p.mesh.Elements(); e++ {
		k += p.layout.NState - 1 + p.layout.NAlgebraic
		for j := 0; j < len(p.pathBounds); j++ {
			lb[k], ub[k] = clampLimit(p.pathBounds[j])
			k++
		}
		k += p.scheme.controlDefectCount(p)
	}
	for _, ic := range p.opts.IntegralConstraints {
		lb[k], ub[k] = clampLimit(vehicle.Limit{Min: ic.Min, Max: ic.Max})
		k++
	}
	return lb, ub
}

// fixedValue resolves a fixed channel's control at mesh point i.
func (p *Problem) fixedValue(ci, i int) float64 {
	c := p.channels[ci]
	switch len(c.values) {
	case 0:
		return p.u0[ci]
	case 1:
		return c.values[0]
	default:
		return c.values[i]
	}
}

// initialTrajectory builds the steady-state-derived guess: every point holds
// the initial condition sample with channel seed values for the controls.
func (p *Problem) initialTrajectory() *trajectory {
	tr := p.newTrajectory()
	for i := 0; i < p.mesh.Points(); i++ {
		copy(tr.q[i], p.q0)
		copy(tr.qa[i], p.qa0)
		for ci, c := range p.channels {
			switch c.kind {
			case controlFixed:
				tr.u[i][ci] = p.fixedValue(ci, i)
			case controlFullMesh:
				if len(c.values) == p.mesh.Points() {
					tr.u[i][ci] = c.values[i]
				} else {
					tr.u[i][ci] = p.u0[ci]
				}
				if len(c.rates) == p.mesh.Points() {
					tr.du[i][ci] = c.rates[i]
				}
			case controlHypermesh:
				tr.u[i][ci] = c.interpolate(c.values, p.mesh.At(i))
			}
		}
	}
	for hi, ci := range p.hyper {
		copy(tr.hyperVals[hi], p.channels[ci].values)
	}
	return tr
}

// initialGuess packs either the warm-start trajectory or the steady-state
// guess into a fresh decision vector.
func (p *Problem) initialGuess() []float64 {
	if p.opts.WarmStart {
		if res, ok := p.opts.Cache.Get(p.opts.CacheKey); ok {
			if res.fingerprint == p.fingerprint() {
				p.logger.Debugw("warm starting from cached result", "key", p.opts.CacheKey)
				return append([]float64(nil), res.x...)
			}
			p.logger.Warnw("warm start cache entry is incompatible; using steady-state guess",
				"key", p.opts.CacheKey)
		} else {
			p.logger.Warnw("warm start requested but cache has no entry; using steady-state guess",
				"key", p.opts.CacheKey)
		}
	}
	return p.pack(p.initialTrajectory())
}

func (p *Problem) fingerprint() fingerprint {
	return fingerprint{
		Points:     p.mesh.Points(),
		NState:     p.layout.NState,
		NAlgebraic: p.layout.NAlgebraic,
		NControl:   p.layout.NControl,
		Vars:       p.nVars,
		Rate:       p.opts.Rate,
		Closed:     p.mesh.Closed(),
	}
}

// Solve runs the NLP solver over the transcription and decodes the optimum.
// The call blocks until the solver converges or fails; cancelling the context
// force-stops the solver. No partial result is returned on failure.
func (p *Problem) Solve(ctx context.Context) (*Result, error) {
	x0 := p.initialGuess()
	xlb, xub := p.variableBounds()
	clb, cub := p.constraintBounds()

	solver := p.opts.Solver
	if solver == nil {
		solver = NewNloptSolver(p.logger.Sublogger("nlopt"))
	}
	nlp := &NLP{
		InitialGuess:    x0,
		LowerBounds:     xlb,
		UpperBounds:     xub,
		ConstraintLower: clb,
		ConstraintUpper: cub,
		Evaluate: func(x []float64) (float64, []float64, error) {
			obj, cons, _, err := p.evaluate(x)
			return obj, cons, err
		},
	}
	raw, err := solver.Solve(ctx, nlp)
	if err != nil {
		return nil, err
	}
	res, err := p.postProcess(raw)
	if err != nil {
		return nil, err
	}
	if p.opts.Sensitivity {
		sens, err := p.computeSensitivities(raw.X)
		if err != nil {
			return nil, err
		}
		res.Sensitivities = sens
	}
	p.logger.Infow("lap time optimization converged",
		"lapTime", res.LapTime,
		"objective", res.Objective,
		"points", p.mesh.Points(),
	)
	if p.opts.SaveWarmStart {
		p.opts.Cache.Put(p.opts.CacheKey, res)
	}
	return res, nil
}
