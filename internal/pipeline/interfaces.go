package pipeline

import (
	"context"

	"github.com/oakhurst/inf-report-bot/internal/browser"
	"github.com/oakhurst/inf-report-bot/internal/models"
	"github.com/oakhurst/inf-report-bot/internal/notifier"
)

// Collaborator contracts, defined here so the pipeline can be exercised with
// fakes and so packages stay wired through behavior, not concrete types.

type Authenticator interface {
	Authenticate(ctx context.Context) (browser.Session, error)
}

type Extractor interface {
	Extract(ctx context.Context, page browser.Page, date string, fetchYesterday bool) ([]models.ItemRecord, error)
}

type HistoryStore interface {
	SeenSKUs(date string) (map[string]struct{}, error)
	Append(records []models.ItemRecord) error
}

type HistorySource interface {
	Hydrate(ctx context.Context) error
}

type Enricher interface {
	Enrich(ctx context.Context, records []models.ItemRecord) ([]models.ItemRecord, int)
}

type Distributor interface {
	Distribute(ctx context.Context, date string, newRecords, allRecords []models.ItemRecord) notifier.Result
}
