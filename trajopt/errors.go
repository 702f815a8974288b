package trajopt

import "github.com/pkg/errors"

var (
	// ErrInvalidMesh is returned when an arclength partition is not monotonic
	// or violates the closed/open bound rules.
	ErrInvalidMesh = errors.New("invalid mesh specification")

	// ErrInvalidInitialCondition is returned when a supplied state, algebraic,
	// or control vector has the wrong size for the model.
	ErrInvalidInitialCondition = errors.New("invalid initial condition")

	// ErrUnsupportedControlChannel is returned when a control channel kind
	// cannot be handled by the selected formulation.
	ErrUnsupportedControlChannel = errors.New("unsupported control channel type")

	// ErrDidNotConverge is returned when the NLP solver fails to reach a
	// solution in the success/acceptable class.
	ErrDidNotConverge = errors.New("optimization did not converge")
)
