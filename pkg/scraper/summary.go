package scraper

import (
	"math"
	"time"

	"github.com/Sternrassler/bina-scraper/pkg/listing"
	"github.com/Sternrassler/bina-scraper/pkg/pagination"
	"github.com/Sternrassler/bina-scraper/pkg/sink"
	"github.com/rs/zerolog"
)

// Outcome classifies how a run ended.
type Outcome string

const (
	OutcomeCompleted   Outcome = "completed"
	OutcomeAborted     Outcome = "aborted"
	OutcomeInterrupted Outcome = "interrupted"
	OutcomeFailed      Outcome = "failed"
)

// Summary is the end-of-run report.
type Summary struct {
	Kind    listing.Kind `json:"kind"`
	RunID   string       `json:"run_id"`
	Outcome Outcome      `json:"outcome"`

	// StopReason is the pagination stop reason.
	StopReason pagination.StopReason `json:"stop_reason"`

	Resumed bool `json:"resumed"`

	Collected          int   `json:"collected"`
	Duplicates         int   `json:"duplicates"`
	Rejected           int   `json:"rejected"`
	CategoryUnresolved int   `json:"category_unresolved"`
	DetailFailures     int   `json:"detail_failures"`
	FailedPages        []int `json:"failed_pages"`

	// TerminalPage is the page where the data ended, -1 when the run
	// stopped for another reason.
	TerminalPage int `json:"terminal_page"`

	// LastPage is the last committed page.
	LastPage int `json:"last_page"`

	TotalCount int `json:"total_count"`

	Paths       sink.Paths `json:"paths"`
	Mirrored    int        `json:"mirrored"`
	MirrorError string     `json:"mirror_error,omitempty"`

	Duration time.Duration `json:"duration"`
}

func (s *Summary) fill(state *pagination.State, result pagination.Result) {
	s.StopReason = result.Reason
	s.TerminalPage = result.TerminalPage
	s.LastPage = state.LastPage
	s.TotalCount = state.TotalCount
	s.Collected = len(state.Records)
	s.Duplicates = state.Stats.Duplicates
	s.Rejected = state.Stats.Rejected
	s.CategoryUnresolved = state.Stats.CategoryUnresolved
	s.DetailFailures = state.Stats.DetailFailures
	s.FailedPages = append([]int(nil), state.FailedPages...)
}

func (s *Summary) log(logger zerolog.Logger, records []listing.Listing) {
	logger.Info().
		Str("run_id", s.RunID).
		Str("outcome", string(s.Outcome)).
		Str("stop_reason", string(s.StopReason)).
		Bool("resumed", s.Resumed).
		Int("collected", s.Collected).
		Int("duplicates", s.Duplicates).
		Int("rejected", s.Rejected).
		Int("category_unresolved", s.CategoryUnresolved).
		Int("detail_failures", s.DetailFailures).
		Ints("failed_pages", s.FailedPages).
		Int("terminal_page", s.TerminalPage).
		Int("total_count", s.TotalCount).
		Msg("Run summary")

	if len(records) == 0 {
		return
	}
	event := logger.Info().Int("records", len(records))
	for _, c := range Completeness(records) {
		event = event.Float64(c.Field+"_pct", c.Percent)
	}
	event.Msg("Data completeness")

	st := Statistics(records)
	event = logger.Info().
		Int("with_photos", st.WithPhotos).
		Int("with_mortgage", st.WithMortgage).
		Int("with_repair", st.WithRepair).
		Int("vipped", st.Vipped).
		Int("featured", st.Featured).
		Int("business", st.Business)
	if st.Price != nil {
		event = event.Float64("price_min", st.Price.Min).Float64("price_avg", st.Price.Avg).Float64("price_max", st.Price.Max)
	}
	if st.Area != nil {
		event = event.Float64("area_min", st.Area.Min).Float64("area_avg", st.Area.Avg).Float64("area_max", st.Area.Max)
	}
	event.Interface("cities", st.Cities).
		Interface("rooms", st.Rooms).
		Msg("Data statistics")
}

// FieldCompleteness is the share of records with a field present.
type FieldCompleteness struct {
	Field   string
	Present int
	Percent float64
}

var completenessFields = []struct {
	name    string
	present func(*listing.Listing) bool
}{
	{"price", func(l *listing.Listing) bool { return l.Price > 0 }},
	{"area", func(l *listing.Listing) bool { return l.Area != nil }},
	{"rooms", func(l *listing.Listing) bool { return l.Rooms != nil }},
	{"floor", func(l *listing.Listing) bool { return l.Floor != nil }},
	{"location", func(l *listing.Listing) bool { return l.LocationName != "" }},
	{"category", func(l *listing.Listing) bool { return l.Category != nil }},
	{"photos", func(l *listing.Listing) bool { return len(l.Photos) > 0 }},
}

// Completeness reports, per key field, how many records carry a value.
func Completeness(records []listing.Listing) []FieldCompleteness {
	out := make([]FieldCompleteness, 0, len(completenessFields))
	for _, f := range completenessFields {
		present := 0
		for i := range records {
			if f.present(&records[i]) {
				present++
			}
		}
		pct := 0.0
		if len(records) > 0 {
			pct = math.Round(float64(present)/float64(len(records))*1000) / 10
		}
		out = append(out, FieldCompleteness{Field: f.name, Present: present, Percent: pct})
	}
	return out
}
