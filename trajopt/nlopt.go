//go:build !no_cgo

package trajopt

import (
	"context"
	"sync"

	"github.com/go-nlopt/nlopt"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"
	"gonum.org/v1/gonum/floats"

	"go.apexline.dev/apexline/logging"
)

const (
	defaultMaxEval       = 20000
	defaultFeasibleTol   = 1e-6
	defaultJump          = 1e-8
	defaultRelTol        = 1e-10
	defaultConstraintTol = 1e-8
)

// NloptSolver drives nlopt's SLSQP over an NLP, with finite-difference
// gradients computed inside the nlopt callbacks.
type NloptSolver struct {
	logger logging.Logger

	// MaxEval caps solver iterations; FeasibleTol defines the acceptable
	// constraint violation at the reported optimum; Jump is the finite
	// difference step.
	MaxEval     int
	FeasibleTol float64
	Jump        float64
}

// NewNloptSolver returns an SLSQP-backed Solver with default tolerances.
func NewNloptSolver(logger logging.Logger) *NloptSolver {
	return &NloptSolver{
		logger:      logger,
		MaxEval:     defaultMaxEval,
		FeasibleTol: defaultFeasibleTol,
		Jump:        defaultJump,
	}
}

// nlpPoint memoizes one evaluation so the objective and constraint callbacks
// triggered at the same x share a single pass, gradients included.
type nlpPoint struct {
	x    []float64
	obj  float64
	cons []float64

	gradObj  []float64
	gradCons [][]float64 // column i holds d cons / d x_i
}

type ineqRow struct {
	row   int
	upper bool
	bound float64
}

type optimizeReturn struct {
	solution []float64
	score    float64
	err      error
}

// Solve runs SLSQP until convergence or failure. Cancelling the context
// force-stops the solver. Returns ErrDidNotConverge (wrapped) when the
// reported optimum is outside the success/acceptable class.
func (s *NloptSolver) Solve(ctx context.Context, p *NLP) (*RawSolution, error) {
	n := len(p.InitialGuess)
	if n == 0 {
		return nil, errors.New("cannot solve an empty decision vector")
	}
	opt, err := nlopt.NewNLopt(nlopt.LD_SLSQP, uint(n))
	if err != nil {
		return nil, errors.Wrap(err, "nlopt creation error")
	}
	defer opt.Destroy()

	var evalErr error
	var memo *nlpPoint
	stop := func(err error) {
		if evalErr == nil {
			evalErr = err
		}
		s.logger.Errorw("stopping nlopt", "error", err)
		if ferr := opt.ForceStop(); ferr != nil {
			s.logger.Errorw("forcestop error", "error", ferr)
		}
	}
	eval := func(x []float64) *nlpPoint {
		if memo != nil && floats.Equal(memo.x, x) {
			return memo
		}
		obj, cons, err := p.Evaluate(x)
		if err != nil {
			stop(err)
			return nil
		}
		memo = &nlpPoint{x: append([]float64(nil), x...), obj: obj, cons: cons}
		return memo
	}
	// Forward differences, flipped at the upper bound like the gradient step
	// in fine positioning solvers.
	gradients := func(e *nlpPoint) bool {
		if e.gradObj != nil {
			return true
		}
		e.gradObj = make([]float64, n)
		e.gradCons = make([][]float64, n)
		xp := append([]float64(nil), e.x...)
		for i := 0; i < n; i++ {
			jump := s.Jump
			if xp[i]+jump > p.UpperBounds[i] {
				jump = -jump
			}
			xp[i] = e.x[i] + jump
			obj, cons, err := p.Evaluate(xp)
			xp[i] = e.x[i]
			if err != nil {
				stop(err)
				return false
			}
			e.gradObj[i] = (obj - e.obj) / jump
			col := make([]float64, len(cons))
			for r := range cons {
				col[r] = (cons[r] - e.cons[r]) / jump
			}
			e.gradCons[i] = col
		}
		return true
	}

	var eqRows []int
	var ineqRows []ineqRow
	for row := range p.ConstraintLower {
		lo, hi := p.ConstraintLower[row], p.ConstraintUpper[row]
		if lo == hi {
			eqRows = append(eqRows, row)
			continue
		}
		if hi < unboundedLimit {
			ineqRows = append(ineqRows, ineqRow{row: row, upper: true, bound: hi})
		}
		if lo > -unboundedLimit {
			ineqRows = append(ineqRows, ineqRow{row: row, upper: false, bound: lo})
		}
	}

	minFunc := func(x, gradient []float64) float64 {
		e := eval(x)
		if e == nil {
			return 0
		}
		if len(gradient) > 0 {
			if !gradients(e) {
				return 0
			}
			for i := 0; i < n; i++ {
				gradient[i] = e.gradObj[i]
			}
		}
		return e.obj
	}

	err = multierr.Combine(
		opt.SetLowerBounds(p.LowerBounds),
		opt.SetUpperBounds(p.UpperBounds),
		opt.SetFtolRel(defaultRelTol),
		opt.SetXtolRel(defaultRelTol),
		opt.SetMaxEval(s.MaxEval),
		opt.SetMinObjective(minFunc),
	)
	if err != nil {
		return nil, errors.Wrap(err, "nlopt setup error")
	}

	if len(eqRows) > 0 {
		eqFunc := func(result, x, gradient []float64) {
			e := eval(x)
			if e == nil {
				return
			}
			if len(gradient) > 0 && !gradients(e) {
				return
			}
			for r, row := range eqRows {
				result[r] = e.cons[row] - p.ConstraintLower[row]
				if len(gradient) > 0 {
					for i := 0; i < n; i++ {
						gradient[r*n+i] = e.gradCons[i][row]
					}
				}
			}
		}
		tol := make([]float64, len(eqRows))
		for i := range tol {
			tol[i] = defaultConstraintTol
		}
		if err := opt.AddEqualityMConstraint(eqFunc, tol); err != nil {
			return nil, errors.Wrap(err, "nlopt setup error")
		}
	}
	if len(ineqRows) > 0 {
		ineqFunc := func(result, x, gradient []float64) {
			e := eval(x)
			if e == nil {
				return
			}
			if len(gradient) > 0 && !gradients(e) {
				return
			}
			for r, ir := range ineqRows {
				if ir.upper {
					result[r] = e.cons[ir.row] - ir.bound
				} else {
					result[r] = ir.bound - e.cons[ir.row]
				}
				if len(gradient) > 0 {
					for i := 0; i < n; i++ {
						g := e.gradCons[i][ir.row]
						if !ir.upper {
							g = -g
						}
						gradient[r*n+i] = g
					}
				}
			}
		}
		tol := make([]float64, len(ineqRows))
		for i := range tol {
			tol[i] = defaultConstraintTol
		}
		if err := opt.AddInequalityMConstraint(ineqFunc, tol); err != nil {
			return nil, errors.Wrap(err, "nlopt setup error")
		}
	}

	var activeSolvers sync.WaitGroup
	solveChan := make(chan *optimizeReturn, 1)
	activeSolvers.Add(1)
	utils.PanicCapturingGo(func() {
		defer activeSolvers.Done()
		solution, score, err := opt.Optimize(p.InitialGuess)
		solveChan <- &optimizeReturn{solution, score, err}
	})

	var solution *optimizeReturn
	select {
	case <-ctx.Done():
		err = opt.ForceStop()
		activeSolvers.Wait()
		return nil, multierr.Combine(ctx.Err(), err)
	case solution = <-solveChan:
	}
	if evalErr != nil {
		return nil, evalErr
	}
	if solution.err != nil {
		return nil, errors.Wrapf(ErrDidNotConverge, "nlopt: %v", solution.err)
	}

	// The acceptable class: whatever status nlopt reported, the candidate must
	// actually satisfy the constraints.
	memo = nil
	final := eval(solution.solution)
	if final == nil {
		return nil, evalErr
	}
	viol := 0.0
	for row := range p.ConstraintLower {
		if d := p.ConstraintLower[row] - final.cons[row]; d > viol {
			viol = d
		}
		if d := final.cons[row] - p.ConstraintUpper[row]; d > viol {
			viol = d
		}
	}
	if viol > s.FeasibleTol {
		return nil, errors.Wrapf(ErrDidNotConverge, "max constraint violation %g", viol)
	}
	s.logger.Debugw("nlopt finished", "objective", final.obj, "maxViolation", viol)
	return &RawSolution{X: final.x, Objective: final.obj}, nil
}
