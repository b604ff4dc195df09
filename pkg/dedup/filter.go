// Package dedup filters listings by identity so the first occurrence of an ID
// wins, within a run and across resumed runs.
package dedup

// Filter remembers every accepted identity.
//
// A Filter is owned by the single coordinating goroutine of a run and is not
// safe for concurrent use.
type Filter struct {
	seen       map[string]struct{}
	duplicates int
}

// New returns an empty filter.
func New() *Filter {
	return &Filter{seen: make(map[string]struct{})}
}

// Seed marks identities as already accepted without counting them as
// duplicates. Used to restore the identity set from a checkpoint.
func (f *Filter) Seed(ids ...string) {
	for _, id := range ids {
		f.seen[id] = struct{}{}
	}
}

// Accept returns true the first time id is offered and false afterwards.
// Rejections are counted.
func (f *Filter) Accept(id string) bool {
	if _, ok := f.seen[id]; ok {
		f.duplicates++
		return false
	}
	f.seen[id] = struct{}{}
	return true
}

// Duplicates is the number of rejected offers since the filter was created.
func (f *Filter) Duplicates() int {
	return f.duplicates
}
