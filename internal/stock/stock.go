// Package stock augments item records with stock-on-hand and shelf-location
// data from the retailer's item APIs. Every lookup fails open: an error
// leaves the record's Stock field unset and the batch continues.
package stock

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/oakhurst/inf-report-bot/internal/config"
	"github.com/oakhurst/inf-report-bot/internal/models"
)

const lookupConcurrency = 4

var baySideRe = regexp.MustCompile(`^([LRlr])(\d+)$`)

type Client struct {
	cfg     *config.Config
	http    *http.Client
	limiter *rate.Limiter
	bearer  string
}

func New(cfg *config.Config) *Client {
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: 15 * time.Second},
		// The item APIs throttle aggressively; stay well under the limit.
		limiter: rate.NewLimiter(rate.Limit(8), lookupConcurrency),
	}
}

// Enrich looks up stock data for every record in parallel (bounded) and
// returns the records in input order plus the number of failed lookups.
// The bearer credential is fetched once per run and held in memory only.
func (c *Client) Enrich(ctx context.Context, records []models.ItemRecord) ([]models.ItemRecord, int) {
	if len(records) == 0 {
		return records, 0
	}

	c.fetchBearer(ctx)

	enriched := make([]models.ItemRecord, len(records))
	copy(enriched, records)
	failed := make([]bool, len(records))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(lookupConcurrency)
	for i := range enriched {
		i := i
		g.Go(func() error {
			info, err := c.lookup(gctx, enriched[i].SKU)
			if err != nil {
				slog.Warn("Stock lookup failed", "sku", enriched[i].SKU, "date", enriched[i].Date, "error", err)
				failed[i] = true
				return nil // fail open
			}
			enriched[i].Stock = info
			return nil
		})
	}
	g.Wait()

	failures := 0
	for _, f := range failed {
		if f {
			failures++
		}
	}
	slog.Info("Finished stock enrichment", "items", len(enriched), "failures", failures)
	return enriched, failures
}

// fetchBearer retrieves the short-lived bearer credential from its public
// location. Lookups degrade to key-only auth when no token is available.
func (c *Client) fetchBearer(ctx context.Context) {
	if c.cfg.StockTokenURL == "" {
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.StockTokenURL, nil)
	if err != nil {
		return
	}
	resp, err := c.http.Do(req)
	if err != nil {
		slog.Warn("Failed to fetch stock API bearer token", "error", err)
		return
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil || resp.StatusCode != http.StatusOK {
		slog.Warn("Stock API token endpoint unusable", "status", resp.StatusCode)
		return
	}

	// The endpoint serves either a bare token or a small JSON document.
	var wrapped struct {
		Token       string `json:"token"`
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(body, &wrapped); err == nil {
		if wrapped.Token != "" {
			c.bearer = wrapped.Token
			return
		}
		if wrapped.AccessToken != "" {
			c.bearer = wrapped.AccessToken
			return
		}
	}
	c.bearer = strings.TrimSpace(string(body))
}

// lookup resolves product, stock position and shelf locations for one sku.
// A 404 at any step means "no data", not an error.
func (c *Client) lookup(ctx context.Context, sku string) (*models.StockInfo, error) {
	product, err := c.fetchJSON(ctx, fmt.Sprintf("%s/%s?apikey=%s", c.cfg.StockProductURL, sku, c.cfg.StockAPIKey))
	if err != nil {
		return nil, err
	}
	if product == nil {
		return nil, fmt.Errorf("product not found")
	}

	// The primary sku plus any pack-component skus may carry the stock record.
	candidates := []string{sku}
	var parsedProduct struct {
		PackComponents []struct {
			ItemNumber json.Number `json:"itemNumber"`
		} `json:"packComponents"`
	}
	if err := json.Unmarshal(product, &parsedProduct); err == nil {
		for _, pc := range parsedProduct.PackComponents {
			if pc.ItemNumber.String() != "" {
				candidates = append(candidates, pc.ItemNumber.String())
			}
		}
	}

	info := &models.StockInfo{}
	found := false
	stockSKU := sku
	for _, candidate := range candidates {
		payload, err := c.fetchJSON(ctx, fmt.Sprintf("%s/%s/items/%s?apikey=%s",
			c.cfg.StockLevelsURL, c.cfg.StockLocationID, candidate, c.cfg.StockAPIKey))
		if err != nil {
			return nil, err
		}
		if payload == nil {
			continue
		}
		var stock struct {
			StockPosition []struct {
				Qty           float64 `json:"qty"`
				UnitOfMeasure string  `json:"unitofMeasure"`
				LastUpdated   string  `json:"lastUpdated"`
			} `json:"stockPosition"`
		}
		if err := json.Unmarshal(payload, &stock); err != nil || len(stock.StockPosition) == 0 {
			continue
		}
		pos := stock.StockPosition[0]
		info.OnHand = int(pos.Qty)
		info.Unit = pos.UnitOfMeasure
		info.LastUpdated = pos.LastUpdated
		stockSKU = candidate
		found = true
		break
	}

	locations, err := c.fetchJSON(ctx, fmt.Sprintf("%s/%s/items/%s?apikey=%s",
		c.cfg.StockLocationURL, c.cfg.StockLocationID, stockSKU, c.cfg.StockAPIKey))
	if err == nil && locations != nil {
		info.Location, info.PromoLocation = extractLocations(locations)
	}

	if !found && info.Location == "" && info.PromoLocation == "" {
		return nil, fmt.Errorf("no stock or location data")
	}
	return info, nil
}

// fetchJSON performs a rate-limited GET. A rejected bearer (401/403) is
// retried once without it; a 404 returns (nil, nil).
func (c *Client) fetchJSON(ctx context.Context, url string) (json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	body, status, err := c.get(ctx, url, c.bearer)
	if err != nil {
		return nil, err
	}
	if (status == http.StatusUnauthorized || status == http.StatusForbidden) && c.bearer != "" {
		body, status, err = c.get(ctx, url, "")
		if err != nil {
			return nil, err
		}
	}

	switch {
	case status == http.StatusNotFound:
		return nil, nil
	case status != http.StatusOK:
		return nil, fmt.Errorf("stock API returned %d", status)
	}
	return body, nil
}

func (c *Client) get(ctx context.Context, url, bearer string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "inf-report-bot/stock-checker")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, err
	}
	return body, resp.StatusCode, nil
}

// extractLocations flattens the price-integrity payload into readable shelf
// locations, e.g. "Aisle 4, Left bay 2, shelf 3".
func extractLocations(payload json.RawMessage) (standard, promo string) {
	var parsed struct {
		Space struct {
			StandardSpace struct {
				Locations []shelfLocation `json:"locations"`
			} `json:"standardSpace"`
			PromotionalSpace struct {
				Locations []shelfLocation `json:"locations"`
			} `json:"promotionalSpace"`
		} `json:"space"`
	}
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return "", ""
	}
	return joinLocations(parsed.Space.StandardSpace.Locations),
		joinLocations(parsed.Space.PromotionalSpace.Locations)
}

type shelfLocation struct {
	Aisle       string `json:"aisle"`
	BayNumber   string `json:"bayNumber"`
	ShelfNumber string `json:"shelfNumber"`
}

func joinLocations(locations []shelfLocation) string {
	parts := make([]string, 0, len(locations))
	for _, loc := range locations {
		if formatted := formatLocation(loc); formatted != "" {
			parts = append(parts, formatted)
		}
	}
	return strings.Join(parts, "; ")
}

func formatLocation(loc shelfLocation) string {
	bay := loc.BayNumber
	side := ""
	if m := baySideRe.FindStringSubmatch(bay); m != nil {
		if strings.EqualFold(m[1], "L") {
			side = "Left"
		} else {
			side = "Right"
		}
		bay = m[2]
	}

	var parts []string
	if loc.Aisle != "" {
		parts = append(parts, "Aisle "+loc.Aisle)
	}
	switch {
	case side != "":
		parts = append(parts, fmt.Sprintf("%s bay %s", side, bay))
	case bay != "":
		parts = append(parts, "Bay "+bay)
	}
	if loc.ShelfNumber != "" {
		parts = append(parts, "shelf "+loc.ShelfNumber)
	}
	return strings.Join(parts, ", ")
}
