package cache

import "github.com/Sternrassler/bina-scraper/pkg/listing"

// Entry is one cached category lookup.
type Entry struct {
	// Category is the resolved category, nil when the page has none
	Category *listing.Category
}

// Resolved returns true if the detail page carried a category.
func (e *Entry) Resolved() bool {
	return e.Category != nil
}
