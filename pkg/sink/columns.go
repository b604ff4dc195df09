package sink

import (
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/bina-scraper/pkg/listing"
)

// column is one field of the flat CSV/XLSX layout. value returns nil, string,
// float64, int or bool.
type column struct {
	header string
	value  func(l *listing.Listing) any
}

func floatOrNil(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}

func intOrNil(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

func categoryCode(l *listing.Listing) any {
	if l.Category == nil {
		return nil
	}
	return string(l.Category.Code)
}

func categoryLabel(l *listing.Listing) any {
	if l.Category == nil {
		return nil
	}
	return l.Category.Label
}

// columns is shared by CSV and XLSX so both carry the same fields in the
// same order.
var columns = []column{
	{"id", func(l *listing.Listing) any { return l.ID }},
	{"kind", func(l *listing.Listing) any { return string(l.Kind) }},
	{"price", func(l *listing.Listing) any { return l.Price }},
	{"currency", func(l *listing.Listing) any { return l.Currency }},
	{"area", func(l *listing.Listing) any { return floatOrNil(l.Area) }},
	{"area_units", func(l *listing.Listing) any { return l.AreaUnits }},
	{"floor", func(l *listing.Listing) any { return intOrNil(l.Floor) }},
	{"floors", func(l *listing.Listing) any { return intOrNil(l.Floors) }},
	{"rooms", func(l *listing.Listing) any { return intOrNil(l.Rooms) }},
	{"property_type", func(l *listing.Listing) any { return string(l.PropertyType) }},
	{"category", categoryCode},
	{"category_label", categoryLabel},
	{"city_id", func(l *listing.Listing) any { return l.CityID }},
	{"city_name", func(l *listing.Listing) any { return l.CityName }},
	{"location_id", func(l *listing.Listing) any { return l.LocationID }},
	{"location_name", func(l *listing.Listing) any { return l.LocationName }},
	{"location_full_name", func(l *listing.Listing) any { return l.LocationFullName }},
	{"has_mortgage", func(l *listing.Listing) any { return l.HasMortgage }},
	{"has_bill_of_sale", func(l *listing.Listing) any { return l.HasBillOfSale }},
	{"has_repair", func(l *listing.Listing) any { return l.HasRepair }},
	{"paid_daily", func(l *listing.Listing) any { return l.PaidDaily }},
	{"is_business", func(l *listing.Listing) any { return l.IsBusiness }},
	{"leased", func(l *listing.Listing) any { return l.Leased }},
	{"vipped", func(l *listing.Listing) any { return l.Vipped }},
	{"featured", func(l *listing.Listing) any { return l.Featured }},
	{"agent_id", func(l *listing.Listing) any { return l.AgentID }},
	{"agent_name", func(l *listing.Listing) any { return l.AgentName }},
	{"agent_kind", func(l *listing.Listing) any { return string(l.AgentKind) }},
	{"photos_count", func(l *listing.Listing) any { return l.PhotosCount }},
	{"photos", func(l *listing.Listing) any { return strings.Join(l.PhotoURLs(), photoSeparator) }},
	{"path", func(l *listing.Listing) any { return l.Path }},
	{"url", func(l *listing.Listing) any { return l.URL }},
	{"updated_at", func(l *listing.Listing) any { return l.UpdatedAt }},
	{"scraped_at", func(l *listing.Listing) any { return l.ScrapedAt.UTC().Format(time.RFC3339) }},
}

const photoSeparator = ";"

// Headers returns the column names of the flat layout.
func Headers() []string {
	out := make([]string, len(columns))
	for i, c := range columns {
		out[i] = c.header
	}
	return out
}

// formatCell renders a column value as CSV text. nil becomes an empty field.
func formatCell(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}
