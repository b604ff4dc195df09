// Package normalize turns raw listing nodes into listing.Listing records and
// enriches them with the category found on each listing's detail page.
package normalize

import (
	"strings"
	"time"

	"github.com/Sternrassler/bina-scraper/pkg/listing"
)

// Config holds the normalizer configuration.
type Config struct {
	// Kind is stamped on every record.
	Kind listing.Kind

	// BaseURL is prefixed to listing paths to build the public URL.
	BaseURL string

	// Now is the clock used for ScrapedAt. Defaults to time.Now.
	Now func() time.Time
}

// Normalizer maps raw nodes to listings. It is stateless apart from its
// configuration and safe for concurrent use.
type Normalizer struct {
	kind    listing.Kind
	baseURL string
	now     func() time.Time
}

// NewNormalizer creates a normalizer.
func NewNormalizer(cfg Config) *Normalizer {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Normalizer{
		kind:    cfg.Kind,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		now:     now,
	}
}

// Normalize maps one raw node. Missing optional fields become nil or zero
// values; a missing id or price rejects the item with *NormalizationError.
func (n *Normalizer) Normalize(raw listing.RawItem) (listing.Listing, error) {
	f, ok := decodeFields(raw)
	if !ok {
		return listing.Listing{}, &NormalizationError{Field: "node", Reason: "not a JSON object"}
	}

	id := f.str("id")
	if id == "" {
		return listing.Listing{}, &NormalizationError{Field: "id", Reason: "missing"}
	}

	price := f.obj("price")
	if price == nil {
		return listing.Listing{}, &NormalizationError{ID: id, Field: "price", Reason: "missing"}
	}
	value, ok := price.num("value")
	if !ok {
		return listing.Listing{}, &NormalizationError{ID: id, Field: "price.value", Reason: "missing or not numeric"}
	}
	if value < 0 {
		return listing.Listing{}, &NormalizationError{ID: id, Field: "price.value", Reason: "negative"}
	}

	l := listing.Listing{
		ID:            id,
		Kind:          n.kind,
		Price:         value,
		Currency:      strings.ToUpper(price.str("currency")),
		Floor:         f.intPtr("floor"),
		Floors:        f.intPtr("floors"),
		Rooms:         f.intPtr("rooms"),
		HasMortgage:   f.boolean("hasMortgage"),
		HasBillOfSale: f.boolean("hasBillOfSale"),
		HasRepair:     f.boolean("hasRepair"),
		PaidDaily:     f.boolean("paidDaily"),
		IsBusiness:    f.boolean("isBusiness"),
		Leased:        f.boolean("leased"),
		Vipped:        f.boolean("vipped"),
		Featured:      f.boolean("featured"),
		Photos:        []listing.Photo{},
		Path:          f.str("path"),
		UpdatedAt:     f.str("updatedAt"),
		ScrapedAt:     n.now().UTC(),
	}

	if area := f.obj("area"); area != nil {
		l.Area = area.numPtr("value")
		l.AreaUnits = area.str("units")
	}

	l.PropertyType = n.propertyType(f)

	if city := f.obj("city"); city != nil {
		l.CityID = city.str("id")
		l.CityName = city.str("name")
	}
	if loc := f.obj("location"); loc != nil {
		l.LocationID = loc.str("id")
		l.LocationName = loc.str("name")
		l.LocationFullName = loc.str("fullName")
	}

	if company := f.obj("company"); company != nil {
		l.AgentID = company.str("id")
		l.AgentName = company.str("name")
		l.AgentKind = listing.ParseAgentKind(company.str("targetType"))
	} else {
		l.AgentKind = listing.AgentOwner
	}

	for _, p := range f.list("photos") {
		photo := listing.Photo{
			Thumbnail: p.str("thumbnail"),
			Medium:    p.str("f460x345"),
			Large:     p.str("large"),
		}
		if photo.URL() != "" {
			l.Photos = append(l.Photos, photo)
		}
	}
	if count, ok := f.num("photosCount"); ok {
		l.PhotosCount = int(count)
	} else {
		l.PhotosCount = len(l.Photos)
	}

	if l.Path != "" {
		l.URL = n.listingURL(l.Path)
	}

	return l, nil
}

// propertyType reads the category object first, then flat type fields.
func (n *Normalizer) propertyType(f fields) listing.PropertyType {
	if category := f.obj("category"); category != nil {
		if pt := listing.ParsePropertyType(category.str("name")); pt != listing.PropertyUnknown {
			return pt
		}
	}
	for _, key := range []string{"propertyType", "type"} {
		if pt := listing.ParsePropertyType(f.str(key)); pt != listing.PropertyUnknown {
			return pt
		}
	}
	return listing.PropertyUnknown
}

func (n *Normalizer) listingURL(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return n.baseURL + path
}
