package extractor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/oakhurst/inf-report-bot/internal/config"
	"github.com/oakhurst/inf-report-bot/internal/models"
)

// fakePage simulates the rendered report: a slice of HTML pages plus a
// generation counter so table-change polling sees content move after sort,
// resize and pagination actions.
type fakePage struct {
	pages      []string
	cur        int
	gen        int
	pickerGone bool

	navigated []string
	clicked   []string
	selected  []string
}

func (p *fakePage) Navigate(url string, _ time.Duration) error {
	p.navigated = append(p.navigated, url)
	return nil
}

func (p *fakePage) URL() string { return "https://portal.example.com/report" }

func (p *fakePage) WaitVisible(selector string, _ time.Duration) error {
	if !p.IsVisible(selector) {
		return fmt.Errorf("selector %q never became visible", selector)
	}
	return nil
}

func (p *fakePage) IsVisible(selector string) bool {
	switch {
	case strings.Contains(selector, "range-selector"):
		return !p.pickerGone
	case strings.Contains(selector, "pagination-next"):
		return p.cur < len(p.pages)-1
	case strings.Contains(selector, "tr"):
		return len(p.pages) > 0 && strings.Contains(p.pages[p.cur], "<tr>")
	}
	return true
}

func (p *fakePage) Click(selector string) error {
	p.clicked = append(p.clicked, selector)
	if strings.Contains(selector, "pagination-next") {
		p.cur++
	}
	p.gen++
	return nil
}

func (p *fakePage) Fill(selector, value string) error { return nil }

func (p *fakePage) SelectOption(selector, value string) error {
	p.selected = append(p.selected, value)
	p.gen++
	return nil
}

func (p *fakePage) TextContent(selector string) (string, error) {
	// Any table-change snapshot only needs to observe movement.
	return fmt.Sprintf("row-%d-%d", p.cur, p.gen), nil
}

func (p *fakePage) Content() (string, error) { return p.pages[p.cur], nil }

func (p *fakePage) Screenshot(path string) error { return nil }

func testConfig() *config.Config {
	return &config.Config{
		ReportBaseURL:  "https://portal.example.com/report",
		Store:          models.StoreIdentity{Name: "Oakhurst", MerchantID: "M1", MarketplaceID: "MK1"},
		PageTimeout:    time.Second,
		WaitTimeout:    100 * time.Millisecond,
		TablePollDelay: time.Millisecond,
		MaxRetries:     0,
	}
}

func tableRow(sku, name, img, units, orders, pct string) string {
	return fmt.Sprintf(`<tr>
<td><img src="%s"></td>
<td><span>%s</span></td>
<td><a href="#"><span>%s</span></a></td>
<td><span>%s</span></td>
<td><span>%s</span></td>
<td><span>-</span></td>
<td><span>-</span></td>
<td><span>-</span></td>
<td><span>%s</span></td>
</tr>`, img, sku, name, units, orders, pct)
}

func tablePage(rows ...string) string {
	return `<html><body><table class="imp-table"><tbody>` +
		strings.Join(rows, "\n") + `</tbody></table></body></html>`
}

func TestExtractParsesRows(t *testing.T) {
	page := &fakePage{pages: []string{tablePage(
		tableRow("100200300", "Semi Skimmed Milk 2L", "https://img.example.com/milk._SS40_.jpg", "12", "8", "3.2%"),
		tableRow("100200301", "White Bread 800g", "", "5", "1,204", "1.1%"),
	)}}

	e := New(testConfig(), DefaultSelectors())
	records, err := e.Extract(context.Background(), page, "2026-08-28", false)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}

	first := records[0]
	if first.SKU != "100200300" || first.ProductName != "Semi Skimmed Milk 2L" {
		t.Errorf("first record mismatch: %+v", first)
	}
	if first.INFUnits != 12 || first.OrdersImpacted != 8 || first.INFPercent != "3.2%" {
		t.Errorf("first record counts mismatch: %+v", first)
	}
	if first.ImageURL != "https://img.example.com/milk._SS40_.jpg" {
		t.Errorf("image URL mismatch: %q", first.ImageURL)
	}
	if first.Date != "2026-08-28" || first.Store.Name != "Oakhurst" {
		t.Errorf("date or store not stamped: %+v", first)
	}

	if records[1].OrdersImpacted != 1204 {
		t.Errorf("comma-separated count not parsed: %+v", records[1])
	}
}

func TestExtractEmptyReport(t *testing.T) {
	page := &fakePage{pages: []string{tablePage()}}

	e := New(testConfig(), DefaultSelectors())
	records, err := e.Extract(context.Background(), page, "2026-08-28", false)
	if err != nil {
		t.Fatalf("empty report must not be an error, got %v", err)
	}
	if len(records) != 0 {
		t.Errorf("expected no records, got %+v", records)
	}
}

func TestExtractSkipsMalformedRows(t *testing.T) {
	page := &fakePage{pages: []string{tablePage(
		tableRow("", "No SKU Item", "", "3", "2", "1%"),
		tableRow("100200302", "Bad Units", "", "n/a", "2", "1%"),
		tableRow("100200303", "Bad Orders", "", "4", "??", "1%"),
		tableRow("100200304", "Fine", "", "2", "1", "0.5%"),
	)}}

	e := New(testConfig(), DefaultSelectors())
	records, err := e.Extract(context.Background(), page, "2026-08-28", false)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 surviving records, got %d: %+v", len(records), records)
	}
	if records[0].SKU != "100200303" || records[0].OrdersImpacted != 0 {
		t.Errorf("unparsable orders should record zero, got %+v", records[0])
	}
	if records[1].SKU != "100200304" {
		t.Errorf("valid row missing: %+v", records)
	}
}

func TestExtractPaginatesAndDropsDuplicates(t *testing.T) {
	page := &fakePage{pages: []string{
		tablePage(
			tableRow("A1", "First", "", "9", "3", "2%"),
			tableRow("A2", "Second", "", "7", "2", "1%"),
		),
		tablePage(
			tableRow("A2", "Second again", "", "7", "2", "1%"),
			tableRow("A3", "Third", "", "4", "1", "1%"),
		),
	}}

	e := New(testConfig(), DefaultSelectors())
	records, err := e.Extract(context.Background(), page, "2026-08-28", false)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 deduped records, got %d: %+v", len(records), records)
	}
	want := []string{"A1", "A2", "A3"}
	for i, sku := range want {
		if records[i].SKU != sku {
			t.Errorf("record %d = %q, want %q", i, records[i].SKU, sku)
		}
	}
}

func TestExtractYesterdayFilterClicksLink(t *testing.T) {
	page := &fakePage{pages: []string{tablePage(
		tableRow("A1", "First", "", "9", "3", "2%"),
	)}}

	e := New(testConfig(), DefaultSelectors())
	if _, err := e.Extract(context.Background(), page, "2026-08-27", true); err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	found := false
	for _, sel := range page.clicked {
		if strings.Contains(sel, "Yesterday") {
			found = true
		}
	}
	if !found {
		t.Errorf("yesterday link was never clicked: %v", page.clicked)
	}
}

func TestExtractWidensPageSize(t *testing.T) {
	page := &fakePage{pages: []string{tablePage(
		tableRow("A1", "First", "", "9", "3", "2%"),
	)}}

	e := New(testConfig(), DefaultSelectors())
	if _, err := e.Extract(context.Background(), page, "2026-08-28", false); err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if len(page.selected) != 1 || page.selected[0] != "250" {
		t.Errorf("expected page size widened to 250, got %v", page.selected)
	}
}

func TestExtractReportNeverReady(t *testing.T) {
	page := &fakePage{pages: []string{tablePage()}, pickerGone: true}

	e := New(testConfig(), DefaultSelectors())
	_, err := e.Extract(context.Background(), page, "2026-08-28", false)
	if err == nil {
		t.Fatal("expected an error when the report never loads")
	}
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("expected ErrTimeout in chain, got %v", err)
	}
}
