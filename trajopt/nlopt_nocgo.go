//go:build no_cgo

package trajopt

import (
	"context"

	"github.com/pkg/errors"

	"go.apexline.dev/apexline/logging"
)

// NloptSolver mimics the type in the cgo compiled code.
type NloptSolver struct {
	MaxEval     int
	FeasibleTol float64
	Jump        float64
}

// NewNloptSolver is not supported on no_cgo builds.
func NewNloptSolver(logger logging.Logger) *NloptSolver {
	return &NloptSolver{}
}

// Solve refuses to solve problems without cgo.
func (s *NloptSolver) Solve(ctx context.Context, p *NLP) (*RawSolution, error) {
	return nil, errors.New("nlopt is not supported on this build")
}
