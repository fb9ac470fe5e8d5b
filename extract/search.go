// Package extract turns rendered registry markup into field mappings.
// It is deliberately schema-less: the search extractor keys columns by the
// table's own header text and the detail extractor walks generic label/value
// adjacency, so new columns or fields the site adds are picked up without
// code changes.
package extract

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/use-agent/bizcrawl/models"
	"golang.org/x/net/html"
)

// SearchResults parses the rendered search page into one SearchRecord per
// result row. Every visible column is captured, keyed by the table's header
// text (or a positional fallback when a header is missing). The per-row
// detail link is resolved against pageURL.
//
// Zero rows with the container present is a valid, non-error outcome. A
// missing container is fatal: it signals the source site's layout changed,
// and the returned error carries models.ErrCodeStructure.
func SearchResults(rawHTML, pageURL, containerSelector, rowSelector string) ([]models.SearchRecord, error) {
	container, err := locateContainer(rawHTML, containerSelector)
	if err != nil {
		return nil, err
	}
	if container == nil {
		return nil, models.NewScrapeError(
			models.ErrCodeStructure,
			fmt.Sprintf("results container %q not found; site layout may have changed", containerSelector),
			nil,
		)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return nil, models.NewScrapeError(models.ErrCodeStructure, "failed to parse search page HTML", err)
	}

	base, baseErr := url.Parse(pageURL)

	headers := columnHeaders(doc, containerSelector)

	records := []models.SearchRecord{}
	doc.Find(rowSelector).Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() == 0 {
			return // header or spacer row
		}

		var rec models.SearchRecord
		cells.Each(func(i int, cell *goquery.Selection) {
			rec.Fields.Set(columnName(headers, i), normalizeSpace(cell.Text()))
		})

		// A row's first link leads to its detail page.
		if href, ok := row.Find("a[href]").First().Attr("href"); ok && href != "" && baseErr == nil {
			if resolved, resErr := base.Parse(href); resErr == nil {
				rec.DetailRef = resolved.String()
			}
		}

		records = append(records, rec)
	})

	return records, nil
}

// locateContainer compiles the container selector and queries the document
// for it. A selector that does not compile is treated the same as a missing
// container: both mean the configured structure no longer matches the site.
func locateContainer(rawHTML, selector string) (*html.Node, error) {
	sel, err := cascadia.Parse(selector)
	if err != nil {
		return nil, models.NewScrapeError(
			models.ErrCodeStructure,
			fmt.Sprintf("invalid results container selector %q", selector),
			err,
		)
	}

	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return nil, models.NewScrapeError(models.ErrCodeStructure, "failed to parse search page HTML", err)
	}

	return cascadia.Query(doc, sel), nil
}

// columnHeaders reads the container's header cells. The site's column set is
// not hardcoded anywhere else; whatever headers the table exposes become the
// record's field names.
func columnHeaders(doc *goquery.Document, containerSelector string) []string {
	var headers []string
	doc.Find(containerSelector).First().Find("thead th").Each(func(_ int, th *goquery.Selection) {
		headers = append(headers, normalizeSpace(th.Text()))
	})
	return headers
}

// columnName returns the header for column i, falling back to a stable
// positional name for unnamed or extra columns.
func columnName(headers []string, i int) string {
	if i < len(headers) && headers[i] != "" {
		return headers[i]
	}
	return fmt.Sprintf("column_%d", i+1)
}

// normalizeSpace collapses runs of whitespace (nested markup produces
// newlines and indentation inside cell text) into single spaces.
func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
