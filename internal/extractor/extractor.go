// Package extractor navigates the Inventory Insights report and parses the
// rendered table into item records for a single date.
package extractor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/oakhurst/inf-report-bot/internal/browser"
	"github.com/oakhurst/inf-report-bot/internal/config"
	"github.com/oakhurst/inf-report-bot/internal/models"
	"github.com/oakhurst/inf-report-bot/internal/util"
)

// ErrTimeout indicates the report never became ready within its bound.
var ErrTimeout = errors.New("extraction timed out waiting for report data")

const (
	// firstRowTimeout bounds the wait for data rows after the page is
	// ready. Hitting it means a legitimately empty report, not a fault.
	firstRowTimeout = 20 * time.Second
	// maxReportPages caps pagination as a guard against a next-page
	// control that never disables.
	maxReportPages = 25
	// pageSizeWide is requested up front so most reports fit on one page.
	pageSizeWide = "250"

	tablePollInterval = 250 * time.Millisecond
)

type Extractor struct {
	cfg       *config.Config
	selectors SelectorConfig
}

func New(cfg *config.Config, selectors SelectorConfig) *Extractor {
	return &Extractor{cfg: cfg, selectors: selectors}
}

// Extract returns the full, materialized set of INF records for date.
// Navigation-level faults are retried with backoff; a report with no rows is
// a successful empty result.
func (e *Extractor) Extract(ctx context.Context, page browser.Page, date string, fetchYesterday bool) ([]models.ItemRecord, error) {
	var records []models.ItemRecord
	err := util.RetryWithBackoff(ctx, e.cfg.MaxRetries, func(attempt int) error {
		if attempt > 0 {
			slog.Warn("Retrying report extraction", "attempt", attempt)
		}
		recs, err := e.attempt(page, date, fetchYesterday)
		if err != nil {
			return err
		}
		records = recs
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to extract INF report: %w", err)
	}
	return records, nil
}

func (e *Extractor) attempt(page browser.Page, date string, fetchYesterday bool) ([]models.ItemRecord, error) {
	rep := e.selectors.Report

	slog.Info("Navigating to Inventory Insights", "store", e.cfg.Store.Name, "date", date)
	if err := page.Navigate(e.cfg.ReportURL(), e.cfg.PageTimeout); err != nil {
		return nil, err
	}
	if err := page.WaitVisible(rep.RangePicker, e.cfg.WaitTimeout); err != nil {
		return nil, fmt.Errorf("%w: date picker never appeared", ErrTimeout)
	}

	if fetchYesterday {
		slog.Info("Applying yesterday filter")
		if err := e.waitForTableChange(page, func() error {
			return page.Click(rep.YesterdayLink)
		}); err != nil {
			return nil, fmt.Errorf("yesterday filter failed: %w", err)
		}
	}

	// No rows after readiness is a valid empty report, not a failure.
	if err := page.WaitVisible(rep.TableBody+" tr", firstRowTimeout); err != nil {
		slog.Info("No data rows found, report is empty", "date", date)
		return []models.ItemRecord{}, nil
	}

	if err := e.waitForTableChange(page, func() error {
		return page.SelectOption(rep.PageSizeSelect, pageSizeWide)
	}); err != nil {
		slog.Warn("Timed out widening page size, assuming table already loaded", "error", err)
	}

	slog.Info("Sorting table by INF units")
	if err := e.waitForTableChange(page, func() error {
		return page.Click(rep.SortINFUnits)
	}); err != nil {
		return nil, fmt.Errorf("sort by INF units failed: %w", err)
	}

	seen := make(map[string]struct{})
	var records []models.ItemRecord
	for pageNum := 1; ; pageNum++ {
		html, err := page.Content()
		if err != nil {
			return nil, err
		}
		recs, err := e.parsePage(html, date, seen)
		if err != nil {
			return nil, err
		}
		records = append(records, recs...)

		if pageNum >= maxReportPages || !page.IsVisible(rep.NextPage) {
			break
		}
		if err := e.waitForTableChange(page, func() error {
			return page.Click(rep.NextPage)
		}); err != nil {
			slog.Warn("Next page never loaded, stopping pagination", "page", pageNum, "error", err)
			break
		}
	}

	slog.Info("Extraction complete", "rows", len(records), "date", date)
	return records, nil
}

// waitForTableChange snapshots the first row's text, runs action, then polls
// until the first row differs from the snapshot or the wait bound expires.
func (e *Extractor) waitForTableChange(page browser.Page, action func() error) error {
	rowSel := e.selectors.Report.TableBody + " tr:first-child"

	initial := ""
	if page.IsVisible(rowSel) {
		if text, err := page.TextContent(rowSel); err == nil {
			initial = strings.TrimSpace(text)
		}
	}

	if err := action(); err != nil {
		return err
	}
	time.Sleep(e.cfg.TablePollDelay)

	deadline := time.Now().Add(e.cfg.WaitTimeout)
	for time.Now().Before(deadline) {
		if !page.IsVisible(rowSel) {
			if initial != "" {
				return nil
			}
		} else if text, err := page.TextContent(rowSel); err == nil && strings.TrimSpace(text) != initial {
			return nil
		}
		time.Sleep(tablePollInterval)
	}
	return fmt.Errorf("%w: table content did not change", ErrTimeout)
}

// parsePage parses one rendered table page. Rows with a missing sku or an
// unparsable INF count are skipped with a warning, never fatal; duplicates
// across pages are dropped by sku.
func (e *Extractor) parsePage(html, date string, seen map[string]struct{}) ([]models.ItemRecord, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse report HTML: %w", err)
	}

	row := e.selectors.Row
	var records []models.ItemRecord
	doc.Find(e.selectors.Report.TableBody + " tr").Each(func(_ int, s *goquery.Selection) {
		sku := strings.TrimSpace(s.Find(row.SKU).First().Text())
		if sku == "" {
			slog.Warn("Skipping row with missing sku", "date", date)
			return
		}
		if _, dup := seen[sku]; dup {
			return
		}

		units, err := util.ParseCount(s.Find(row.INFUnits).First().Text())
		if err != nil {
			slog.Warn("Skipping row with unparsable INF units", "sku", sku, "date", date, "error", err)
			return
		}

		orders, err := util.ParseCount(s.Find(row.Orders).First().Text())
		if err != nil {
			slog.Warn("Orders-impacted cell unparsable, recording zero", "sku", sku, "date", date, "error", err)
			orders = 0
		}

		img, _ := s.Find(row.Image).First().Attr("src")

		seen[sku] = struct{}{}
		records = append(records, models.ItemRecord{
			Date:           date,
			SKU:            sku,
			ProductName:    strings.TrimSpace(s.Find(row.Name).First().Text()),
			ImageURL:       strings.TrimSpace(img),
			INFUnits:       units,
			OrdersImpacted: orders,
			INFPercent:     strings.TrimSpace(s.Find(row.INFPct).First().Text()),
			Store:          e.cfg.Store,
		})
	})
	return records, nil
}
