// Package listing defines the normalized record schema for bina.az listings,
// the raw upstream payload shapes, and the pure category classifier.
package listing

import (
	"fmt"
	"strings"
	"time"
)

// Kind selects the upstream listing set.
type Kind string

const (
	// KindRent covers leased listings.
	KindRent Kind = "rent"

	// KindSale covers listings for sale.
	KindSale Kind = "sale"
)

// ParseKind converts a user-supplied string into a Kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindRent:
		return KindRent, nil
	case KindSale:
		return KindSale, nil
	default:
		return "", fmt.Errorf("unknown listing kind %q (want rent or sale)", s)
	}
}

// Leased reports the upstream filter value for this kind.
func (k Kind) Leased() bool {
	return k == KindRent
}

// SheetTitle is the spreadsheet tab name used for this kind.
func (k Kind) SheetTitle() string {
	if k == KindRent {
		return "Rentals"
	}
	return "Sales"
}

// Photo holds the resized variants of one listing photo.
type Photo struct {
	Thumbnail string `json:"thumbnail,omitempty"`
	Medium    string `json:"medium,omitempty"`
	Large     string `json:"large,omitempty"`
}

// URL returns the best available variant.
func (p Photo) URL() string {
	switch {
	case p.Large != "":
		return p.Large
	case p.Medium != "":
		return p.Medium
	default:
		return p.Thumbnail
	}
}

// Listing is one normalized property record.
type Listing struct {
	ID   string `json:"id"`
	Kind Kind   `json:"kind"`

	Price    float64 `json:"price"`
	Currency string  `json:"currency,omitempty"`

	Area      *float64 `json:"area"`
	AreaUnits string   `json:"area_units,omitempty"`
	Floor     *int     `json:"floor"`
	Floors    *int     `json:"floors"`
	Rooms     *int     `json:"rooms"`

	PropertyType PropertyType `json:"property_type"`

	CityID           string `json:"city_id,omitempty"`
	CityName         string `json:"city_name,omitempty"`
	LocationID       string `json:"location_id,omitempty"`
	LocationName     string `json:"location_name,omitempty"`
	LocationFullName string `json:"location_full_name,omitempty"`

	HasMortgage   bool `json:"has_mortgage"`
	HasBillOfSale bool `json:"has_bill_of_sale"`
	HasRepair     bool `json:"has_repair"`
	PaidDaily     bool `json:"paid_daily"`
	IsBusiness    bool `json:"is_business"`
	Leased        bool `json:"leased"`
	Vipped        bool `json:"vipped"`
	Featured      bool `json:"featured"`

	AgentID   string    `json:"agent_id,omitempty"`
	AgentName string    `json:"agent_name,omitempty"`
	AgentKind AgentKind `json:"agent_kind"`

	PhotosCount int     `json:"photos_count"`
	Photos      []Photo `json:"photos"`

	Category *Category `json:"category"`

	Path      string    `json:"path,omitempty"`
	URL       string    `json:"url,omitempty"`
	UpdatedAt string    `json:"updated_at,omitempty"`
	ScrapedAt time.Time `json:"scraped_at"`
}

// PhotoURLs returns the preferred URL of every photo in order.
func (l *Listing) PhotoURLs() []string {
	urls := make([]string, 0, len(l.Photos))
	for _, p := range l.Photos {
		if u := p.URL(); u != "" {
			urls = append(urls, u)
		}
	}
	return urls
}

// RunStats counts what happened to items during one (possibly resumed) run.
type RunStats struct {
	PagesProcessed     int `json:"pages_processed"`
	Collected          int `json:"collected"`
	Duplicates         int `json:"duplicates"`
	Rejected           int `json:"rejected"`
	CategoryUnresolved int `json:"category_unresolved"`
	DetailFailures     int `json:"detail_failures"`
	FailedPages        int `json:"failed_pages"`
}
