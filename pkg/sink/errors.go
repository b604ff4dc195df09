package sink

import "fmt"

// PersistenceError reports a failed write of one artifact.
type PersistenceError struct {
	Format string
	Path   string
	Err    error
}

// Error implements the error interface.
func (e *PersistenceError) Error() string {
	return fmt.Sprintf("write %s %s: %v", e.Format, e.Path, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *PersistenceError) Unwrap() error {
	return e.Err
}
