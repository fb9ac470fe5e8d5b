package extract

import (
	"errors"
	"testing"

	"github.com/use-agent/bizcrawl/models"
)

const (
	testContainerSelector = "table.div-table"
	testRowSelector       = "table.div-table tbody tr"
)

const searchPage = `<html><body>
<table class="div-table">
  <thead>
    <tr><th>Entity Information</th><th>Initial Filing Date</th><th>Status</th></tr>
  </thead>
  <tbody>
    <tr>
      <td><a href="/business/1111">ACME CORP</a></td>
      <td>01/02/2020</td>
      <td>Active</td>
    </tr>
    <tr>
      <td><a href="/business/2222">ACME LLC</a></td>
      <td>03/04/2021</td>
      <td>
        Dissolved
      </td>
    </tr>
  </tbody>
</table>
</body></html>`

func TestSearchResults_Rows(t *testing.T) {
	records, err := SearchResults(searchPage, "https://registry.test/search/business", testContainerSelector, testRowSelector)
	if err != nil {
		t.Fatalf("SearchResults failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}

	first := records[0]
	if v, _ := first.Fields.Get("Entity Information"); v != "ACME CORP" {
		t.Errorf("Entity Information = %q, want %q", v, "ACME CORP")
	}
	if v, _ := first.Fields.Get("Initial Filing Date"); v != "01/02/2020" {
		t.Errorf("Initial Filing Date = %q, want %q", v, "01/02/2020")
	}
	if first.DetailRef != "https://registry.test/business/1111" {
		t.Errorf("DetailRef = %q, want resolved absolute URL", first.DetailRef)
	}

	// Whitespace from nested markup is collapsed.
	if v, _ := records[1].Fields.Get("Status"); v != "Dissolved" {
		t.Errorf("Status = %q, want %q", v, "Dissolved")
	}
}

func TestSearchResults_FieldOrderFollowsColumns(t *testing.T) {
	records, err := SearchResults(searchPage, "https://registry.test/search/business", testContainerSelector, testRowSelector)
	if err != nil {
		t.Fatalf("SearchResults failed: %v", err)
	}

	want := []string{"Entity Information", "Initial Filing Date", "Status"}
	got := records[0].Fields.Keys()
	if len(got) != len(want) {
		t.Fatalf("expected %d fields, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("field %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestSearchResults_UnknownColumnsPreserved(t *testing.T) {
	// Four cells but only three headers: the extra column must survive
	// under a positional name rather than being dropped.
	page := `<html><body><table class="div-table">
	<thead><tr><th>Entity Information</th><th>Initial Filing Date</th><th>Status</th></tr></thead>
	<tbody><tr><td>ACME CORP</td><td>01/02/2020</td><td>Active</td><td>SURPRISE</td></tr></tbody>
	</table></body></html>`

	records, err := SearchResults(page, "https://registry.test/", testContainerSelector, testRowSelector)
	if err != nil {
		t.Fatalf("SearchResults failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if v, ok := records[0].Fields.Get("column_4"); !ok || v != "SURPRISE" {
		t.Errorf("column_4 = %q (present=%v), want %q", v, ok, "SURPRISE")
	}
}

func TestSearchResults_ZeroRowsIsNotAnError(t *testing.T) {
	page := `<html><body><table class="div-table">
	<thead><tr><th>Entity Information</th></tr></thead>
	<tbody></tbody>
	</table></body></html>`

	records, err := SearchResults(page, "https://registry.test/", testContainerSelector, testRowSelector)
	if err != nil {
		t.Fatalf("zero results must not be an error, got: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected 0 records, got %d", len(records))
	}
}

func TestSearchResults_MissingContainerIsStructural(t *testing.T) {
	page := `<html><body><div>totally different layout</div></body></html>`

	_, err := SearchResults(page, "https://registry.test/", testContainerSelector, testRowSelector)
	if err == nil {
		t.Fatal("expected a structural error for a missing results container")
	}

	var se *models.ScrapeError
	if !errors.As(err, &se) {
		t.Fatalf("expected *models.ScrapeError, got %T", err)
	}
	if se.Code != models.ErrCodeStructure {
		t.Errorf("error code = %q, want %q", se.Code, models.ErrCodeStructure)
	}
}

func TestSearchResults_RowWithoutLink(t *testing.T) {
	page := `<html><body><table class="div-table">
	<thead><tr><th>Entity Information</th></tr></thead>
	<tbody><tr><td>NO LINK HERE</td></tr></tbody>
	</table></body></html>`

	records, err := SearchResults(page, "https://registry.test/", testContainerSelector, testRowSelector)
	if err != nil {
		t.Fatalf("SearchResults failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if records[0].DetailRef != "" {
		t.Errorf("DetailRef = %q, want empty for a row without a link", records[0].DetailRef)
	}
}
