package psffit

import (
	"errors"
	"fmt"
)

// ErrNoCandidates is returned when DeterminePsf is called with an empty
// candidate list.
var ErrNoCandidates = errors.New("no PSF candidates supplied")

// ErrStampOutOfBounds is returned when a candidate's stamp would extend past
// the edge of the exposure. It is recoverable per candidate: the candidate is
// skipped for the current iteration only.
var ErrStampOutOfBounds = errors.New("candidate stamp extends outside exposure")

// InsufficientCandidatesError is returned when fewer candidates survive into
// a basis fit than the number of requested eigen components.
type InsufficientCandidatesError struct {
	Got  int
	Need int
}

func (e *InsufficientCandidatesError) Error() string {
	return fmt.Sprintf("insufficient PSF candidates: %d available, need at least %d", e.Got, e.Need)
}

// SingularFitError is returned when the spatial polynomial fit is numerically
// degenerate. It is fatal: the fit is propagated, not retried.
type SingularFitError struct {
	Component int
	Reason    string
}

func (e *SingularFitError) Error() string {
	if e.Component >= 0 {
		return fmt.Sprintf("singular spatial fit for component %d: %s", e.Component, e.Reason)
	}
	return fmt.Sprintf("singular spatial fit: %s", e.Reason)
}

// FitAbortedError wraps a fatal error with the loop context needed for a
// useful diagnostic.
type FitAbortedError struct {
	Iteration     int
	NumCandidates int
	Err           error
}

func (e *FitAbortedError) Error() string {
	return fmt.Sprintf("PSF fit aborted at iteration %d (%d candidates): %v", e.Iteration, e.NumCandidates, e.Err)
}

func (e *FitAbortedError) Unwrap() error { return e.Err }
