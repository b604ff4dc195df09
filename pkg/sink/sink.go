// Package sink writes collected listings to disk: periodic JSON backups while
// a run is in progress and the final JSON, CSV and XLSX artifacts at the end.
package sink

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/Sternrassler/bina-scraper/pkg/listing"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"
)

var (
	sinkWritesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bina_sink_writes_total",
		Help: "Total artifact writes by format and result",
	}, []string{"format", "result"})

	sinkRecordsWritten = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "bina_sink_records_written",
		Help: "Records in the most recent artifact by format",
	}, []string{"format"})
)

const (
	// BackupDir is the subdirectory of incremental backups.
	BackupDir = "backups"

	maxColumnWidth = 50
)

// Config holds the sink configuration.
type Config struct {
	// Dir is the output directory. Created on first write.
	Dir string

	// Kind selects file names and the spreadsheet title.
	Kind listing.Kind

	// Tag is embedded in final file names. Defaults to YYYYMM of Now.
	Tag string

	// Now is the clock for tags and backup timestamps. Defaults to time.Now.
	Now func() time.Time

	// Logger for write events.
	Logger zerolog.Logger
}

// Paths lists the final artifacts of one run.
type Paths struct {
	JSON string `json:"json"`
	CSV  string `json:"csv"`
	XLSX string `json:"xlsx"`
}

// Sink writes artifacts for one kind.
type Sink struct {
	dir    string
	kind   listing.Kind
	tag    string
	now    func() time.Time
	logger zerolog.Logger
}

// New creates a sink.
func New(cfg Config) *Sink {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	tag := cfg.Tag
	if tag == "" {
		tag = now().Format("200601")
	}
	return &Sink{
		dir:    cfg.Dir,
		kind:   cfg.Kind,
		tag:    tag,
		now:    now,
		logger: cfg.Logger,
	}
}

// FinalPaths returns where WriteFinal puts its files.
func (s *Sink) FinalPaths() Paths {
	base := filepath.Join(s.dir, fmt.Sprintf("bina_%s_%s", s.kind, s.tag))
	return Paths{JSON: base + ".json", CSV: base + ".csv", XLSX: base + ".xlsx"}
}

// WriteIncremental writes a JSON backup of records taken after page. The
// caller treats failures as non-fatal.
func (s *Sink) WriteIncremental(records []listing.Listing, page int) (string, error) {
	name := fmt.Sprintf("backup_%s_page%d_%s.json", s.kind, page, s.now().Format("20060102_150405"))
	path := filepath.Join(s.dir, BackupDir, name)

	if err := writeAtomic(path, func(w io.Writer) error { return writeJSON(w, records) }); err != nil {
		sinkWritesTotal.WithLabelValues("backup", "error").Inc()
		return "", &PersistenceError{Format: "backup", Path: path, Err: err}
	}
	sinkWritesTotal.WithLabelValues("backup", "ok").Inc()

	s.logger.Info().
		Str("path", path).
		Int("page", page).
		Int("items", len(records)).
		Msg("Incremental backup saved")
	return path, nil
}

// WriteFinal writes JSON, CSV and XLSX. It stops at the first failure; files
// written before the failure are complete and previous artifacts of a failed
// format are left untouched.
func (s *Sink) WriteFinal(records []listing.Listing) (Paths, error) {
	paths := s.FinalPaths()

	steps := []struct {
		format string
		path   string
		write  func(io.Writer) error
	}{
		{"json", paths.JSON, func(w io.Writer) error { return writeJSON(w, records) }},
		{"csv", paths.CSV, func(w io.Writer) error { return writeCSV(w, records) }},
		{"xlsx", paths.XLSX, func(w io.Writer) error { return writeXLSX(w, s.kind.SheetTitle(), records) }},
	}

	for _, step := range steps {
		if err := writeAtomic(step.path, step.write); err != nil {
			sinkWritesTotal.WithLabelValues(step.format, "error").Inc()
			return paths, &PersistenceError{Format: step.format, Path: step.path, Err: err}
		}
		sinkWritesTotal.WithLabelValues(step.format, "ok").Inc()
		sinkRecordsWritten.WithLabelValues(step.format).Set(float64(len(records)))

		s.logger.Info().
			Str("format", step.format).
			Str("path", step.path).
			Int("items", len(records)).
			Msg("Data saved")
	}
	return paths, nil
}

// PruneBackups removes all but the newest keep backups of this kind.
func (s *Sink) PruneBackups(keep int) (int, error) {
	pattern := filepath.Join(s.dir, BackupDir, fmt.Sprintf("backup_%s_page*.json", s.kind))
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return 0, err
	}
	if keep < 0 {
		keep = 0
	}
	if len(matches) <= keep {
		return 0, nil
	}

	type backup struct {
		path    string
		modTime time.Time
	}
	backups := make([]backup, 0, len(matches))
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil {
			continue
		}
		backups = append(backups, backup{path: m, modTime: info.ModTime()})
	}
	sort.Slice(backups, func(i, j int) bool {
		if backups[i].modTime.Equal(backups[j].modTime) {
			return backups[i].path > backups[j].path
		}
		return backups[i].modTime.After(backups[j].modTime)
	})

	removed := 0
	for _, b := range backups[min(keep, len(backups)):] {
		if err := os.Remove(b.path); err != nil {
			s.logger.Warn().Err(err).Str("path", b.path).Msg("Failed to remove old backup")
			continue
		}
		removed++
		s.logger.Debug().Str("path", b.path).Msg("Removed old backup")
	}
	return removed, nil
}

// writeAtomic streams into a temp file next to path and renames it into place.
func writeAtomic(path string, write func(io.Writer) error) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if err = write(tmp); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func writeJSON(w io.Writer, records []listing.Listing) error {
	if records == nil {
		records = []listing.Listing{}
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(records)
}

func writeCSV(w io.Writer, records []listing.Listing) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Headers()); err != nil {
		return err
	}

	row := make([]string, len(columns))
	for i := range records {
		for c, col := range columns {
			row[c] = formatCell(col.value(&records[i]))
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func writeXLSX(w io.Writer, sheet string, records []listing.Listing) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return err
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"366092"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return err
	}

	sw, err := f.NewStreamWriter(sheet)
	if err != nil {
		return err
	}

	for c, width := range columnWidths(records) {
		if err := sw.SetColWidth(c+1, c+1, width); err != nil {
			return err
		}
	}

	header := make([]interface{}, len(columns))
	for c, col := range columns {
		header[c] = excelize.Cell{StyleID: headerStyle, Value: col.header}
	}
	if err := sw.SetRow("A1", header); err != nil {
		return err
	}

	row := make([]interface{}, len(columns))
	for i := range records {
		for c, col := range columns {
			row[c] = col.value(&records[i])
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := sw.SetRow(cell, row); err != nil {
			return err
		}
	}

	if err := sw.Flush(); err != nil {
		return err
	}
	return f.Write(w)
}

// columnWidths sizes each column to its longest rendered value plus padding,
// capped at maxColumnWidth.
func columnWidths(records []listing.Listing) []float64 {
	widths := make([]float64, len(columns))
	for c, col := range columns {
		longest := len([]rune(col.header))
		for i := range records {
			if n := len([]rune(formatCell(col.value(&records[i])))); n > longest {
				longest = n
			}
		}
		widths[c] = float64(min(longest+2, maxColumnWidth))
	}
	return widths
}
