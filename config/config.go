package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Browser BrowserConfig
	Crawl   CrawlConfig
	Export  ExportConfig
	Log     LogConfig
}

// BrowserConfig controls the Rod browser instance.
type BrowserConfig struct {
	// Headless controls whether the browser runs headless.
	Headless bool // default: true

	// NoSandbox disables Chrome's sandbox (needed in Docker).
	NoSandbox bool // default: false

	// BrowserBin overrides the Chromium binary path.
	BrowserBin string

	// Proxy is the proxy URL for all requests.
	Proxy string

	// Stealth enables anti-bot-detection evasions on every fetch.
	Stealth bool // default: true

	// BlockedResourceTypes lists resource types the fetcher blocks to keep
	// navigations light. default: ["Image", "Font", "Media"]
	BlockedResourceTypes []string
}

// CrawlConfig controls the two-phase scrape pipeline.
type CrawlConfig struct {
	// SearchURL is the registry search page.
	SearchURL string // default: California BizFile Online business search

	// MaxRecords caps how many search rows are enriched with detail data.
	MaxRecords int // default: 500

	// SearchTimeout is the Searching phase budget (navigate + form submit +
	// results render).
	SearchTimeout time.Duration // default: 60s

	// DetailTimeout is the per-record budget for one detail page. Detail
	// pages are lighter than the search flow, so this is shorter.
	DetailTimeout time.Duration // default: 30s

	// InterRecordDelay is the fixed courtesy pause between successive
	// detail fetches.
	InterRecordDelay time.Duration // default: 1s

	// ResultsSelector matches the results container. Its absence after a
	// search means the site layout changed, which is fatal for the run.
	ResultsSelector string // default: "table.div-table"

	// RowSelector matches one search-result row.
	RowSelector string // default: "table.div-table tbody tr"

	// SearchInputSelector and SearchButtonSelector locate the search form.
	SearchInputSelector  string // default: ".search-input-wrapper input"
	SearchButtonSelector string // default: ".search-input-wrapper button"
}

// ExportConfig controls the CSV export.
type ExportConfig struct {
	// OutputDir is where CSV files and error logs are written.
	OutputDir string // default: "."

	// DateColumns lists source column headers whose values get the
	// spreadsheet-safe ="..." wrapper.
	DateColumns []string // default: ["Initial Filing Date"]
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string // default: "info"
	Format string // "json" or "text"; default: "json"
}

// Load reads configuration from environment variables with sane defaults.
func Load() *Config {
	return &Config{
		Browser: BrowserConfig{
			Headless:   envBoolOr("BIZCRAWL_HEADLESS", true),
			NoSandbox:  envBoolOr("BIZCRAWL_NO_SANDBOX", false),
			BrowserBin: os.Getenv("BIZCRAWL_BROWSER_BIN"),
			Proxy:      os.Getenv("BIZCRAWL_PROXY"),
			Stealth:    envBoolOr("BIZCRAWL_STEALTH", true),
			BlockedResourceTypes: envSliceOr("BIZCRAWL_BLOCKED_RESOURCES", []string{
				"Image", "Font", "Media",
			}),
		},
		Crawl: CrawlConfig{
			SearchURL:            envOr("BIZCRAWL_SEARCH_URL", "https://bizfileonline.sos.ca.gov/search/business"),
			MaxRecords:           envIntOr("BIZCRAWL_MAX_RECORDS", 500),
			SearchTimeout:        envDurationOr("BIZCRAWL_SEARCH_TIMEOUT", 60*time.Second),
			DetailTimeout:        envDurationOr("BIZCRAWL_DETAIL_TIMEOUT", 30*time.Second),
			InterRecordDelay:     envDurationOr("BIZCRAWL_INTER_RECORD_DELAY", time.Second),
			ResultsSelector:      envOr("BIZCRAWL_RESULTS_SELECTOR", "table.div-table"),
			RowSelector:          envOr("BIZCRAWL_ROW_SELECTOR", "table.div-table tbody tr"),
			SearchInputSelector:  envOr("BIZCRAWL_SEARCH_INPUT_SELECTOR", ".search-input-wrapper input"),
			SearchButtonSelector: envOr("BIZCRAWL_SEARCH_BUTTON_SELECTOR", ".search-input-wrapper button"),
		},
		Export: ExportConfig{
			OutputDir:   envOr("BIZCRAWL_OUTPUT_DIR", "."),
			DateColumns: envSliceOr("BIZCRAWL_DATE_COLUMNS", []string{"Initial Filing Date"}),
		},
		Log: LogConfig{
			Level:  envOr("BIZCRAWL_LOG_LEVEL", "info"),
			Format: envOr("BIZCRAWL_LOG_FORMAT", "json"),
		},
	}
}

// --- helper functions ---

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envSliceOr(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return fallback
}
