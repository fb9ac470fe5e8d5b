package models

import "time"

// WaitStrategy describes when a fetched page counts as loaded.
// If Selector is set, the fetch waits for at least one matching element;
// otherwise it waits for the DOM to stop mutating.
type WaitStrategy struct {
	// Selector is a CSS selector whose first match signals readiness.
	Selector string

	// DOMStable is the quiet window for the DOM-stable fallback.
	// Zero means the fetcher's default.
	DOMStable time.Duration
}

// FetchRequest describes a single navigation against the target site.
type FetchRequest struct {
	// URL is the page to navigate to. Required.
	URL string

	// Script is optional JavaScript evaluated after navigation and before
	// the wait strategy runs. The search phase uses it to fill and submit
	// the search form.
	Script string

	// WaitFor decides when the page content is considered settled.
	WaitFor WaitStrategy

	// Timeout bounds the whole operation (navigation + script + wait +
	// extraction). Required.
	Timeout time.Duration
}

// FetchResult is the rendered outcome of a FetchRequest.
type FetchResult struct {
	// HTML is the fully rendered markup after the wait strategy settled.
	HTML string

	// FinalURL is the page URL after any redirects.
	FinalURL string

	// Title is the document title (best-effort).
	Title string
}
