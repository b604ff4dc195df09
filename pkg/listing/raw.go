package listing

import "encoding/json"

// RawItem is one listing node exactly as delivered by the API. Decoding is
// deferred to the normalizer so a malformed field only affects its own item.
type RawItem = json.RawMessage

// RawPage is one page of the upstream result set.
type RawPage struct {
	Index int
	Items []RawItem

	// Edges is the number of result slots the API returned, null nodes
	// included. Zero means every slot is in Items.
	Edges int

	TotalCount  int
	HasNextPage bool
}

// Size is the number of result slots on the page. End-of-data detection
// compares it with the page size, so a full page with a null node is still
// full.
func (p *RawPage) Size() int {
	if p.Edges > len(p.Items) {
		return p.Edges
	}
	return len(p.Items)
}
