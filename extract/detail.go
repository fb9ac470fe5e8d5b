package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/use-agent/bizcrawl/models"
)

// labelSelector matches the elements registry detail pages use to label a
// value: form labels, the site's label classes, and definition terms.
const labelSelector = "label, .label, .field-label, dt"

// DetailPage extracts every label/value pair from a rendered detail page.
// No fixed schema: a label element adjacent to a value element is enough,
// so fields the site adds later are captured automatically.
//
// The returned record always carries detail_url (set first, so it is the
// leading detail column in exports), even when the page exposed no labeled
// fields at all — an empty-but-present page is not an error.
func DetailPage(rawHTML, pageURL string) models.DetailRecord {
	var rec models.DetailRecord
	rec.Fields.Set(models.DetailURLField, pageURL)

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return rec
	}

	doc.Find(labelSelector).Each(func(_ int, label *goquery.Selection) {
		name := strings.TrimSuffix(normalizeSpace(label.Text()), ":")
		if name == "" {
			return
		}
		if value := adjacentValue(label, name); value != "" {
			rec.Fields.Set(name, value)
		}
	})

	// Two-cell table rows (th/td) are the other layout registry pages use
	// for label/value data.
	doc.Find("tr").Each(func(_ int, row *goquery.Selection) {
		th := row.Find("th")
		td := row.Find("td")
		if th.Length() != 1 || td.Length() != 1 {
			return
		}
		name := strings.TrimSuffix(normalizeSpace(th.Text()), ":")
		value := normalizeSpace(td.Text())
		if name != "" && value != "" {
			rec.Fields.Set(name, value)
		}
	})

	return rec
}

// adjacentValue finds the value belonging to a label element: the next
// sibling element's text when there is one, otherwise the parent's text
// with the label's own text stripped out.
func adjacentValue(label *goquery.Selection, name string) string {
	if next := label.Next(); next.Length() > 0 {
		if v := normalizeSpace(next.Text()); v != "" {
			return v
		}
	}

	parent := label.Parent()
	if parent.Length() == 0 {
		return ""
	}
	v := strings.Replace(parent.Text(), label.Text(), "", 1)
	return strings.TrimSpace(strings.TrimPrefix(normalizeSpace(v), ":"))
}
