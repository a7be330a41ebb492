// Package pipeline runs one end-to-end report cycle: hydrate history,
// authenticate, extract, dedup, enrich, persist and distribute.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/oakhurst/inf-report-bot/internal/config"
	"github.com/oakhurst/inf-report-bot/internal/history"
	"github.com/oakhurst/inf-report-bot/internal/models"
)

type Pipeline struct {
	cfg      *config.Config
	auth     Authenticator
	extract  Extractor
	store    HistoryStore
	source   HistorySource
	enricher Enricher
	dist     Distributor
	now      func() time.Time
}

func New(cfg *config.Config, auth Authenticator, extract Extractor, store HistoryStore, source HistorySource, enricher Enricher, dist Distributor) *Pipeline {
	return &Pipeline{
		cfg:      cfg,
		auth:     auth,
		extract:  extract,
		store:    store,
		source:   source,
		enricher: enricher,
		dist:     dist,
		now:      time.Now,
	}
}

// Run executes one report cycle for today, or yesterday when fetchYesterday
// is set. Auth and extraction failures abort the run; everything downstream
// degrades instead, so one broken sink or lookup never discards a scrape.
func (p *Pipeline) Run(ctx context.Context, fetchYesterday bool) (models.RunSummary, error) {
	var summary models.RunSummary
	date := p.reportDate(fetchYesterday)
	slog.Info("Starting report run", "store", p.cfg.Store.Name, "date", date)

	if p.source != nil {
		if err := p.source.Hydrate(ctx); err != nil {
			slog.Warn("History hydration failed, continuing with local log only", "error", err)
		}
	}

	session, err := p.auth.Authenticate(ctx)
	if err != nil {
		return summary, fmt.Errorf("authentication failed: %w", err)
	}
	defer session.Close()

	page, err := session.NewPage()
	if err != nil {
		return summary, fmt.Errorf("failed to open report page: %w", err)
	}

	records, err := p.extract.Extract(ctx, page, date, fetchYesterday)
	if err != nil {
		return summary, err
	}
	summary.Extracted = len(records)
	if len(records) == 0 {
		slog.Info("Report is empty, nothing to distribute", "date", date)
		return summary, nil
	}

	seen, err := p.store.SeenSKUs(date)
	if err != nil {
		slog.Warn("Failed to read history, treating all items as new", "error", err)
		seen = map[string]struct{}{}
	}

	// Persist before distribution so a sink failure never loses the scrape.
	if err := p.store.Append(records); err != nil {
		slog.Error("Failed to append to history log", "error", err)
	}

	if p.enricher != nil {
		records, summary.EnrichmentFailures = p.enricher.Enrich(ctx, records)
	}

	newRecords := history.FilterNew(records, seen)
	summary.New = len(newRecords)
	slog.Info("Dedup complete", "extracted", len(records), "new", len(newRecords))

	result := p.dist.Distribute(ctx, date, newRecords, records)
	if result.ChatSent {
		summary.Notified = len(newRecords)
	}
	if result.EmailSent {
		summary.Emailed = len(records)
	}
	if result.Failed() {
		return summary, fmt.Errorf("all enabled sinks failed: chat=%v email=%v", result.ChatErr, result.EmailErr)
	}
	return summary, nil
}

// reportDate resolves the report's calendar date in the configured timezone.
// The portal renders dates store-local, so UTC would roll over at the wrong
// hour.
func (p *Pipeline) reportDate(fetchYesterday bool) string {
	now := p.now().In(p.cfg.Timezone)
	if fetchYesterday {
		now = now.AddDate(0, 0, -1)
	}
	return now.Format("2006-01-02")
}
