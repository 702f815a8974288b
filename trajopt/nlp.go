package trajopt

import "context"

// NLP is the raw nonlinear program handed to a Solver: a decision vector with
// bounds, constraint rows with [lo, hi] bounds (equal bounds mean equality),
// and a closure evaluating the objective and all constraint values at once.
type NLP struct {
	InitialGuess []float64
	LowerBounds  []float64
	UpperBounds  []float64

	ConstraintLower []float64
	ConstraintUpper []float64

	Evaluate func(x []float64) (objective float64, constraints []float64, err error)
}

// RawSolution is a candidate optimum as reported by a Solver. Multipliers may
// be nil when the backend does not expose duals.
type RawSolution struct {
	X           []float64
	Objective   float64
	Multipliers []float64
}

// Solver is the opaque large-scale constrained solver contract. Solve blocks
// until convergence or failure and returns ErrDidNotConverge (wrapped) for
// anything outside the success/acceptable class. It never retries.
type Solver interface {
	Solve(ctx context.Context, nlp *NLP) (*RawSolution, error)
}
