package fetcher

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/use-agent/bizcrawl/config"
	"github.com/use-agent/bizcrawl/models"
	"github.com/ysmood/gson"
)

// defaultDOMStableWindow is the quiet window for the DOM-stable wait fallback.
const defaultDOMStableWindow = 300 * time.Millisecond

// Fetcher owns one headless browser session. A session is scoped to a single
// pipeline run: acquire it at run start, Close it on every exit path.
//
// Fetches within a session run strictly one at a time, so Fetcher holds no
// page pool; each Fetch opens a fresh tab and closes it before returning.
type Fetcher struct {
	browser *rod.Browser
	cfg     config.BrowserConfig
}

// New launches a headless browser and connects to it.
func New(cfg config.BrowserConfig) (*Fetcher, error) {
	l := launcher.New().
		Headless(cfg.Headless).
		NoSandbox(cfg.NoSandbox)

	if cfg.BrowserBin != "" {
		l = l.Bin(cfg.BrowserBin)
	}
	if cfg.Proxy != "" {
		l = l.Proxy(cfg.Proxy)
	}

	// ── Stealth flags ────────────────────────────────────────────────
	l.Set(flags.Flag("disable-blink-features"), "AutomationControlled")
	l.Delete(flags.Flag("enable-automation"))
	l.Set(flags.Flag("disable-dev-shm-usage"))
	l.Set(flags.Flag("disable-extensions"))
	l.Set(flags.Flag("disable-component-update"))
	l.Set(flags.Flag("disable-default-apps"))
	l.Set(flags.Flag("no-first-run"))

	controlURL, err := l.Launch()
	if err != nil {
		return nil, models.NewScrapeError(
			models.ErrCodeBrowserCrash,
			"failed to launch browser",
			err,
		)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, models.NewScrapeError(
			models.ErrCodeBrowserCrash,
			"failed to connect to browser",
			err,
		)
	}
	slog.Debug("browser session started", "controlURL", controlURL)

	return &Fetcher{browser: browser, cfg: cfg}, nil
}

// Fetch performs one navigation and returns the rendered markup once the
// request's wait strategy has settled. It either returns fully rendered
// content or a typed error; partially rendered pages are never returned
// silently — the wait strategy failing is an error.
//
// Lifecycle:
//
//  1. Timeout guard     – hard deadline on the entire operation
//  2. Open page         – fresh tab, closed via defer before returning
//  3. Stealth injection – must happen before navigation to take effect
//  4. Extra headers     – plausible Referer unless the caller set one
//  5. Hijack mount      – block heavy resource types (before navigation!)
//  6. Context binding   – propagate the deadline to all Rod operations
//  7. Navigate
//  8. Script            – optional post-navigation JS (form fill + submit)
//  9. Wait              – selector presence, or DOM stable as fallback
//  10. Extract          – page.HTML() + title + final URL
func (f *Fetcher) Fetch(ctx context.Context, req *models.FetchRequest) (*models.FetchResult, error) {
	// ── 1. Timeout guard ─────────────────────────────────────────────
	ctx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	// ── 2. Open page ─────────────────────────────────────────────────
	page, err := f.browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, models.NewScrapeError(
			models.ErrCodeBrowserCrash,
			"failed to open page",
			err,
		)
	}
	// Close on the ORIGINAL page reference so cleanup succeeds even after
	// the request context has expired.
	defer func() {
		if closeErr := page.Close(); closeErr != nil {
			slog.Warn("cleanup: failed to close page", "error", closeErr)
		}
	}()

	// ── 3. Stealth injection ─────────────────────────────────────────
	if f.cfg.Stealth {
		if _, evalErr := page.EvalOnNewDocument(stealth.JS); evalErr != nil {
			slog.Warn("stealth injection failed, proceeding without stealth",
				"error", evalErr,
			)
		}
	}

	// ── 4. Plausible Referer ─────────────────────────────────────────
	if u, parseErr := url.Parse(req.URL); parseErr == nil {
		_ = proto.NetworkSetExtraHTTPHeaders{
			Headers: toHeadersMap(map[string]string{
				"Referer": "https://www.google.com/search?q=" + url.QueryEscape(u.Hostname()),
			}),
		}.Call(page)
	}

	// ── 5. Mount hijack router ───────────────────────────────────────
	router := setupHijack(page, f.cfg.BlockedResourceTypes)
	if router != nil {
		defer func() { _ = router.Stop() }()
	}

	// ── 6. Bind request context to page ──────────────────────────────
	p := page.Context(ctx)

	// ── 7. Navigate ──────────────────────────────────────────────────
	if navErr := p.Navigate(req.URL); navErr != nil {
		return nil, categorizeError(navErr, "navigation to target URL failed")
	}

	// ── 8. Post-navigation script ────────────────────────────────────
	if req.Script != "" {
		if _, evalErr := p.Eval(req.Script); evalErr != nil {
			return nil, categorizeError(evalErr, "post-navigation script failed")
		}
	}

	// ── 9. Wait strategy ─────────────────────────────────────────────
	if req.WaitFor.Selector != "" {
		if waitErr := p.WaitElementsMoreThan(req.WaitFor.Selector, 0); waitErr != nil {
			return nil, categorizeError(waitErr, "wait for selector "+req.WaitFor.Selector+" failed")
		}
	} else {
		window := req.WaitFor.DOMStable
		if window <= 0 {
			window = defaultDOMStableWindow
		}
		if stableErr := p.WaitDOMStable(window, 0.1); stableErr != nil {
			if ctx.Err() != nil {
				return nil, categorizeError(ctx.Err(), "page did not settle within timeout")
			}
			slog.Debug("WaitDOMStable did not converge, proceeding with current DOM",
				"error", stableErr,
			)
		}
	}

	// ── 10. Extract rendered HTML ────────────────────────────────────
	rawHTML, htmlErr := p.HTML()
	if htmlErr != nil {
		return nil, categorizeError(htmlErr, "failed to extract page HTML")
	}

	title := evalStringOrEmpty(p, `() => document.title`)
	finalURL := evalStringOrEmpty(p, `() => window.location.href`)
	if finalURL == "" {
		finalURL = req.URL
	}

	return &models.FetchResult{
		HTML:     rawHTML,
		FinalURL: finalURL,
		Title:    title,
	}, nil
}

// Close kills the browser process. Call it on every exit path of a run to
// prevent zombie Chrome processes.
func (f *Fetcher) Close() {
	slog.Debug("browser session closing")
	f.browser.MustClose()
}

// evalStringOrEmpty evaluates a JS expression and returns the string result,
// swallowing any errors (useful for optional metadata extraction).
func evalStringOrEmpty(page *rod.Page, js string) string {
	res, err := page.Eval(js)
	if err != nil {
		return ""
	}
	return res.Value.Str()
}

// toHeadersMap converts a plain string map to the proto.NetworkHeaders type
// (map[string]gson.JSON) required by NetworkSetExtraHTTPHeaders.
func toHeadersMap(headers map[string]string) proto.NetworkHeaders {
	m := make(proto.NetworkHeaders, len(headers))
	for k, v := range headers {
		m[k] = gson.New(v)
	}
	return m
}

// categorizeError wraps raw errors into typed ScrapeErrors so the pipeline
// can tell timeouts apart from navigation failures.
func categorizeError(err error, msg string) *models.ScrapeError {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return models.NewScrapeError(models.ErrCodeTimeout, msg, err)
	case errors.Is(err, context.Canceled):
		return models.NewScrapeError(models.ErrCodeTimeout, "fetch canceled", err)
	default:
		return models.NewScrapeError(models.ErrCodeNavigation, msg, err)
	}
}
