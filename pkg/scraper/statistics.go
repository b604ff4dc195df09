package scraper

import (
	"math"

	"github.com/Sternrassler/bina-scraper/pkg/listing"
)

// Range is the min/avg/max of the records that carry a value.
type Range struct {
	Count int     `json:"count"`
	Min   float64 `json:"min"`
	Avg   float64 `json:"avg"`
	Max   float64 `json:"max"`
}

func (r *Range) add(v float64) {
	if r.Count == 0 || v < r.Min {
		r.Min = v
	}
	if r.Count == 0 || v > r.Max {
		r.Max = v
	}
	r.Avg += v
	r.Count++
}

// DataStats describes the collected record set.
type DataStats struct {
	Total        int `json:"total"`
	WithPhotos   int `json:"with_photos"`
	WithMortgage int `json:"with_mortgage"`
	WithRepair   int `json:"with_repair"`
	Vipped       int `json:"vipped"`
	Featured     int `json:"featured"`
	Business     int `json:"business"`

	// Price and Area are nil when no record has a value.
	Price *Range `json:"price,omitempty"`
	Area  *Range `json:"area,omitempty"`

	Cities map[string]int `json:"cities"`
	Rooms  map[int]int    `json:"rooms"`
}

// Statistics summarises records: flag counts, price and area ranges, and
// the distribution over cities and room counts.
func Statistics(records []listing.Listing) DataStats {
	st := DataStats{
		Total:  len(records),
		Cities: make(map[string]int),
		Rooms:  make(map[int]int),
	}
	var price, area Range
	for i := range records {
		l := &records[i]
		if l.PhotosCount > 0 || len(l.Photos) > 0 {
			st.WithPhotos++
		}
		if l.HasMortgage {
			st.WithMortgage++
		}
		if l.HasRepair {
			st.WithRepair++
		}
		if l.Vipped {
			st.Vipped++
		}
		if l.Featured {
			st.Featured++
		}
		if l.IsBusiness {
			st.Business++
		}
		if l.Price > 0 {
			price.add(l.Price)
		}
		if l.Area != nil && *l.Area > 0 {
			area.add(*l.Area)
		}
		if l.CityName != "" {
			st.Cities[l.CityName]++
		}
		if l.Rooms != nil && *l.Rooms > 0 {
			st.Rooms[*l.Rooms]++
		}
	}
	st.Price = finish(price)
	st.Area = finish(area)
	return st
}

func finish(r Range) *Range {
	if r.Count == 0 {
		return nil
	}
	r.Avg = math.Round(r.Avg/float64(r.Count)*100) / 100
	return &r
}
