// Package export flattens a run's combined records into a CSV file on disk,
// with a sibling plain-text log when the run accumulated errors.
package export

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/use-agent/bizcrawl/config"
	"github.com/use-agent/bizcrawl/models"
)

// Field-name prefixes marking which phase a column came from.
const (
	searchPrefix = "search_"
	detailPrefix = "detail_"
)

// Exporter writes run outcomes as CSV files named after the search term.
type Exporter struct {
	cfg         config.ExportConfig
	dateColumns map[string]struct{}
}

// New creates an Exporter writing into cfg.OutputDir.
func New(cfg config.ExportConfig) *Exporter {
	dates := make(map[string]struct{}, len(cfg.DateColumns))
	for _, c := range cfg.DateColumns {
		dates[c] = struct{}{}
	}
	return &Exporter{cfg: cfg, dateColumns: dates}
}

// Export flattens the outcome into <dir>/bizfile_<term>.csv and, when the
// outcome carries errors, writes <dir>/bizfile_<term>_errors.txt next to it.
// It returns the CSV path.
//
// Output is a deterministic function of the outcome: exporting the same
// outcome twice produces byte-identical files. The column set is the union
// of all fields across all records — search columns first, in the order the
// search phase saw them, then detail columns — and records missing a column
// get an empty cell. Record content never makes Export fail; only an
// unwritable destination does.
func (e *Exporter) Export(outcome *models.Outcome, term string) (string, error) {
	base := "bizfile_" + SafeName(term)
	csvPath := filepath.Join(e.cfg.OutputDir, base+".csv")

	f, err := os.Create(csvPath)
	if err != nil {
		return "", models.NewScrapeError(models.ErrCodeExport, "cannot create CSV file "+csvPath, err)
	}
	defer f.Close()

	if len(outcome.Records) > 0 {
		if err := e.writeRecords(f, outcome.Records); err != nil {
			return "", models.NewScrapeError(models.ErrCodeExport, "cannot write CSV file "+csvPath, err)
		}
	}

	if len(outcome.Errors) > 0 {
		errPath := filepath.Join(e.cfg.OutputDir, base+"_errors.txt")
		if err := writeErrorLog(errPath, outcome.Errors); err != nil {
			return "", models.NewScrapeError(models.ErrCodeExport, "cannot write error log "+errPath, err)
		}
	}

	return csvPath, nil
}

func (e *Exporter) writeRecords(f *os.File, records []models.CombinedRecord) error {
	columns := columnSet(records)

	w := csv.NewWriter(f)
	if err := w.Write(columns); err != nil {
		return err
	}

	for _, rec := range records {
		row := make([]string, len(columns))
		for i, col := range columns {
			row[i] = e.cellValue(rec, col)
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}

	w.Flush()
	return w.Error()
}

// columnSet builds the union of all field names across all records:
// search_ columns in first-seen order, then detail_ columns in first-seen
// order (detail_url leads, since detail extraction sets it first).
func columnSet(records []models.CombinedRecord) []string {
	var columns []string
	seen := make(map[string]struct{})
	add := func(name string) {
		if _, ok := seen[name]; !ok {
			seen[name] = struct{}{}
			columns = append(columns, name)
		}
	}

	for _, rec := range records {
		for _, k := range rec.Search.Fields.Keys() {
			add(searchPrefix + k)
		}
	}
	for _, rec := range records {
		for _, k := range rec.Detail.Fields.Keys() {
			add(detailPrefix + k)
		}
	}
	return columns
}

// cellValue looks up one column's value in a record, applying the
// spreadsheet-safe wrapper to configured date columns.
func (e *Exporter) cellValue(rec models.CombinedRecord, column string) string {
	var v string
	var name string
	switch {
	case strings.HasPrefix(column, searchPrefix):
		name = strings.TrimPrefix(column, searchPrefix)
		v, _ = rec.Search.Fields.Get(name)
	case strings.HasPrefix(column, detailPrefix):
		name = strings.TrimPrefix(column, detailPrefix)
		v, _ = rec.Detail.Fields.Get(name)
	}

	// Spreadsheet apps reformat bare dates on open; the ="…" wrapper keeps
	// them as written.
	if v != "" {
		if _, isDate := e.dateColumns[name]; isDate {
			v = `="` + v + `"`
		}
	}
	return v
}

// writeErrorLog writes one line per error: index, reference, message,
// timestamp.
func writeErrorLog(path string, errs []models.RecordError) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := fmt.Fprintf(f, "Errors encountered during scraping:\n\n"); err != nil {
		return err
	}
	for _, e := range errs {
		if _, err := fmt.Fprintf(f, "- record %d (%s): %s at %s\n",
			e.Index, e.Ref, e.Message, e.Timestamp.UTC().Format(time.RFC3339),
		); err != nil {
			return err
		}
	}
	return nil
}

// SafeName sanitizes a search term for use in a filename: alphanumerics are
// kept, everything else becomes an underscore. An empty result falls back
// to "results".
func SafeName(term string) string {
	var b strings.Builder
	for _, r := range term {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	s := strings.Trim(b.String(), "_")
	if s == "" {
		return "results"
	}
	return s
}
