package normalize

import "fmt"

// NormalizationError rejects one raw item. The rest of the page is unaffected.
type NormalizationError struct {
	ID     string
	Field  string
	Reason string
}

// Error implements the error interface.
func (e *NormalizationError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("normalize: field %q: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("normalize item %s: field %q: %s", e.ID, e.Field, e.Reason)
}
