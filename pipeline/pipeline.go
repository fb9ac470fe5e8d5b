// Package pipeline drives the two-phase registry scrape: one search fetch
// producing the result rows, then one detail fetch per row, bounded by the
// record cap, with per-record failure isolation and a CSV export that runs
// on every exit path.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/use-agent/bizcrawl/config"
	"github.com/use-agent/bizcrawl/extract"
	"github.com/use-agent/bizcrawl/models"
	"golang.org/x/time/rate"
)

// Session is one browser session against the target site. The pipeline
// acquires a fresh session per run and releases it on every exit path;
// sessions are never shared across runs.
type Session interface {
	Fetch(ctx context.Context, req *models.FetchRequest) (*models.FetchResult, error)
	Close()
}

// SessionFactory opens a new session. fetcher.New wrapped in a closure
// satisfies it in production; tests inject fakes.
type SessionFactory func() (Session, error)

// Exporter persists a run's outcome. export.Exporter satisfies it.
type Exporter interface {
	Export(outcome *models.Outcome, term string) (string, error)
}

// Pipeline is the run orchestrator. It is stateless between runs: every
// invocation gets its own session, its own courtesy-delay limiter, and its
// own outcome.
type Pipeline struct {
	cfg        config.CrawlConfig
	newSession SessionFactory
	exporter   Exporter
}

// New creates a Pipeline.
func New(cfg config.CrawlConfig, newSession SessionFactory, exporter Exporter) *Pipeline {
	return &Pipeline{cfg: cfg, newSession: newSession, exporter: exporter}
}

// Run executes one scrape: search for term, enrich up to maxRecords rows
// with detail-page data, export whatever was collected, and return the
// outcome. maxRecords <= 0 means the configured default.
//
// Failure policy: a single row's detail fetch failing is recorded in the
// outcome's error list and never aborts the run. Run itself returns a
// non-nil error only when the search phase cannot produce rows at all
// (navigation failure, timeout, or the results structure changing) or when
// the export destination is unwritable. Even then the outcome is exported
// and returned, so the caller always has whatever was collected.
func (p *Pipeline) Run(ctx context.Context, term string, maxRecords int) (outcome *models.Outcome, err error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return nil, models.NewScrapeError(models.ErrCodeInvalidInput, "search term must not be empty", nil)
	}
	if maxRecords <= 0 {
		maxRecords = p.cfg.MaxRecords
	}

	outcome = &models.Outcome{RunID: uuid.NewString(), Term: term}
	log := slog.With("run_id", outcome.RunID, "term", term)
	log.Info("run starting", "max_records", maxRecords)

	// Finalizing is unconditional. The export defer is registered before
	// the session is even acquired, so every exit path below — including
	// session-launch failure and a fatal search error — still leaves
	// durable output on disk.
	defer func() {
		outcome.Returned = len(outcome.Records)
		outcome.Errored = len(outcome.Errors)

		path, exportErr := p.exporter.Export(outcome, term)
		if exportErr != nil {
			log.Error("export failed", "error", exportErr)
			if err == nil {
				err = exportErr
			}
			return
		}
		outcome.OutputPath = path
		log.Info("run finished",
			"found", outcome.Found,
			"returned", outcome.Returned,
			"errors", outcome.Errored,
			"output", path,
		)
	}()

	session, sessErr := p.newSession()
	if sessErr != nil {
		outcome.Errors = append(outcome.Errors, runError(p.cfg.SearchURL, sessErr))
		return outcome, sessErr
	}
	defer session.Close()

	// ── Searching ────────────────────────────────────────────────────
	rows, searchErr := p.search(ctx, session, term)
	if searchErr != nil {
		log.Error("search phase failed", "error", searchErr)
		outcome.Errors = append(outcome.Errors, runError(p.cfg.SearchURL, searchErr))
		return outcome, searchErr
	}

	rows = dedupeRows(rows)
	outcome.Found = len(rows)
	log.Info("search phase done", "found", outcome.Found)

	if len(rows) > maxRecords {
		// Rows past the cap never enter the detail phase; their existence
		// is still reflected in the Found count.
		rows = rows[:maxRecords]
		log.Info("record cap applied", "cap", maxRecords)
	}

	// ── DetailFetching ───────────────────────────────────────────────
	// Strictly sequential, one row at a time, paced by the courtesy
	// limiter. Predictable load on the registry beats throughput here.
	limiter := rate.NewLimiter(rate.Every(p.cfg.InterRecordDelay), 1)
	for i, row := range rows {
		if waitErr := limiter.Wait(ctx); waitErr != nil {
			outcome.Errors = append(outcome.Errors, models.RecordError{
				Index:     i,
				Ref:       row.DetailRef,
				Message:   waitErr.Error(),
				Timestamp: time.Now(),
			})
			outcome.Records = append(outcome.Records, models.CombinedRecord{Search: row})
			continue
		}

		detail, detailErr := p.fetchDetail(ctx, session, row)
		if detailErr != nil {
			// Isolated to this row: record the error, keep the search
			// fields with an empty detail side, move on.
			log.Warn("detail fetch failed", "index", i, "ref", row.DetailRef, "error", detailErr)
			outcome.Errors = append(outcome.Errors, models.RecordError{
				Index:     i,
				Ref:       row.DetailRef,
				Message:   detailErr.Error(),
				Timestamp: time.Now(),
			})
			outcome.Records = append(outcome.Records, models.CombinedRecord{Search: row})
			continue
		}

		outcome.Records = append(outcome.Records, models.CombinedRecord{Search: row, Detail: detail})
		log.Debug("detail fetched", "index", i, "fields", detail.Fields.Len())
	}

	return outcome, nil
}

// search navigates to the registry search page, submits the term through
// the page's own form, waits for the results container, and extracts the
// rows.
func (p *Pipeline) search(ctx context.Context, session Session, term string) ([]models.SearchRecord, error) {
	req := &models.FetchRequest{
		URL:     p.cfg.SearchURL,
		Script:  searchScript(p.cfg.SearchInputSelector, p.cfg.SearchButtonSelector, term),
		WaitFor: models.WaitStrategy{Selector: p.cfg.ResultsSelector},
		Timeout: p.cfg.SearchTimeout,
	}

	res, err := session.Fetch(ctx, req)
	if err != nil {
		return nil, err
	}

	return extract.SearchResults(res.HTML, res.FinalURL, p.cfg.ResultsSelector, p.cfg.RowSelector)
}

// fetchDetail loads one row's detail page and extracts its field set.
// Detail pages are lighter than the search flow, so they run under the
// shorter detail timeout and a plain DOM-stable wait.
func (p *Pipeline) fetchDetail(ctx context.Context, session Session, row models.SearchRecord) (models.DetailRecord, error) {
	if row.DetailRef == "" {
		return models.DetailRecord{}, models.NewScrapeError(
			models.ErrCodeDetailFetch, "search row has no detail link", nil,
		)
	}

	req := &models.FetchRequest{
		URL:     row.DetailRef,
		Timeout: p.cfg.DetailTimeout,
	}

	res, err := session.Fetch(ctx, req)
	if err != nil {
		return models.DetailRecord{}, err
	}

	return extract.DetailPage(res.HTML, res.FinalURL), nil
}

// dedupeRows drops rows whose primary column (the first cell, the entity
// name on the registry) is blank or already seen, preserving order.
func dedupeRows(rows []models.SearchRecord) []models.SearchRecord {
	seen := make(map[string]struct{}, len(rows))
	out := rows[:0]
	for _, row := range rows {
		keys := row.Fields.Keys()
		if len(keys) == 0 {
			continue
		}
		primary, _ := row.Fields.Get(keys[0])
		primary = strings.TrimSpace(primary)
		if primary == "" {
			continue
		}
		if _, dup := seen[primary]; dup {
			continue
		}
		seen[primary] = struct{}{}
		out = append(out, row)
	}
	return out
}

// runError builds the single error entry for failures not tied to one row
// (session launch, search phase). Index -1 marks it as run-level.
func runError(ref string, err error) models.RecordError {
	return models.RecordError{
		Index:     -1,
		Ref:       ref,
		Message:   err.Error(),
		Timestamp: time.Now(),
	}
}

// searchScript builds the JS that fills the search input and clicks the
// search button. The registry front-end is a framework app, so the value
// is set through the native setter and input/change events are dispatched;
// otherwise the framework never sees the text and the button stays inert.
func searchScript(inputSelector, buttonSelector, term string) string {
	quotedTerm, _ := json.Marshal(term)
	quotedInput, _ := json.Marshal(inputSelector)
	quotedButton, _ := json.Marshal(buttonSelector)

	return fmt.Sprintf(`() => {
	const input = document.querySelector(%s);
	if (!input) throw new Error("search input not found");

	const setter = Object.getOwnPropertyDescriptor(window.HTMLInputElement.prototype, 'value').set;
	setter.call(input, %s);
	input.dispatchEvent(new Event('input', { bubbles: true }));
	input.dispatchEvent(new Event('change', { bubbles: true }));

	const button = document.querySelector(%s);
	if (!button) throw new Error("search button not found");

	setTimeout(() => {
		if (button.disabled) {
			button.removeAttribute('disabled');
		}
		button.click();
	}, 100);
}`, quotedInput, quotedTerm, quotedButton)
}
