package models

import "time"

// Fields is an insertion-ordered collection of field name → value pairs.
// Extraction is schema-less (whatever the page exposes), so iteration
// order must be stable for deterministic export output.
type Fields struct {
	keys   []string
	values map[string]string
}

// Set stores a value under name, preserving first-insertion order.
// Setting an existing name overwrites the value without reordering.
func (f *Fields) Set(name, value string) {
	if f.values == nil {
		f.values = make(map[string]string)
	}
	if _, ok := f.values[name]; !ok {
		f.keys = append(f.keys, name)
	}
	f.values[name] = value
}

// Get returns the value for name and whether it was present.
func (f *Fields) Get(name string) (string, bool) {
	v, ok := f.values[name]
	return v, ok
}

// Keys returns the field names in insertion order.
func (f *Fields) Keys() []string {
	return f.keys
}

// Len returns the number of fields.
func (f *Fields) Len() int {
	return len(f.keys)
}

// SearchRecord is one row of the search-results table: every visible
// column keyed by header text, plus the reference to the row's detail page.
// Immutable once the search phase has produced it.
type SearchRecord struct {
	Fields    Fields
	DetailRef string // href of the detail page, resolved against the search page URL
}

// DetailRecord is the open-ended field set extracted from one detail page.
// A successfully fetched page always carries a "detail_url" field recording
// provenance, even when no other labeled fields were found.
type DetailRecord struct {
	Fields Fields
}

// DetailURLField is the provenance field every fetched DetailRecord carries.
const DetailURLField = "detail_url"

// CombinedRecord pairs a search row with its detail-page fields. Detail is
// the zero value when the detail fetch failed for this row.
type CombinedRecord struct {
	Search SearchRecord
	Detail DetailRecord
}

// RecordError is one entry of a run's append-only error list. Index is the
// zero-based position of the affected search row, or -1 for errors that are
// not tied to a single row (search-phase failures).
type RecordError struct {
	Index     int
	Ref       string
	Message   string
	Timestamp time.Time
}

// Outcome is the terminal value of one pipeline run: the combined records in
// search order, the error list, and the counts the caller reports on.
type Outcome struct {
	RunID string
	Term  string

	// Records holds min(Found, max records) entries, in search order.
	Records []CombinedRecord
	Errors  []RecordError

	// Found is the number of usable rows the search phase produced
	// (after dedupe), before the record cap.
	Found int
	// Returned is len(Records).
	Returned int
	// Errored is len(Errors).
	Errored int

	// OutputPath is the CSV file the exporter wrote, when export succeeded.
	OutputPath string
}

// Complete reports whether the run enriched every discovered row without
// a single error (Found capped at the record cap).
func (o *Outcome) Complete() bool {
	return len(o.Errors) == 0 && o.Returned == o.Found
}
