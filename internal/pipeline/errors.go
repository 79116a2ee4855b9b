package pipeline

import (
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/gramveda/claim-intake/internal/resilience"
)

// Error taxonomy for stage failures. Transient lookup failures are wrapped
// with resilience.Transient at the call site; everything here is either
// non-fatal policy (handled inline by the stage) or permanent.
var (
	// ErrMalformedGeometry fails the job immediately, no retry.
	ErrMalformedGeometry = eris.New("pipeline: malformed geometry")

	// ErrUnknownStage means the dispatcher claimed a job in a stage the
	// engine has no handler for; indicates store corruption.
	ErrUnknownStage = eris.New("pipeline: unknown stage")
)

// malformedGeometry wraps a geometry decode failure as permanent.
func malformedGeometry(err error) error {
	return resilience.Permanent(fmt.Errorf("%w: %v", ErrMalformedGeometry, err))
}
