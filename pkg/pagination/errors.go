package pagination

import (
	"errors"
	"fmt"
)

// ErrInterrupted is returned when the run context was cancelled. The
// checkpoint and a backup have been written; final artifacts have not.
var ErrInterrupted = errors.New("pagination interrupted")

// TerminalPageError aborts pagination at a page that could not be fetched.
// Everything before Page is committed and checkpointed.
type TerminalPageError struct {
	Page int
	Err  error
}

// Error implements the error interface.
func (e *TerminalPageError) Error() string {
	return fmt.Sprintf("page %d failed: %v", e.Page, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *TerminalPageError) Unwrap() error {
	return e.Err
}
