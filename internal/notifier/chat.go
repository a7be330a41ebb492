// Package notifier fans scraped records out to the configured sinks: the
// Google Chat webhook for newly seen items and the HTML email report for the
// full daily set.
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/oakhurst/inf-report-bot/internal/config"
	"github.com/oakhurst/inf-report-bot/internal/models"
	"github.com/oakhurst/inf-report-bot/internal/util"
)

const qrCodeEndpoint = "https://api.qrserver.com/v1/create-qr-code/"

// ChatClient posts item cards to a Google Chat incoming webhook.
type ChatClient struct {
	cfg    *config.Config
	client *http.Client
}

func NewChatClient(cfg *config.Config) *ChatClient {
	return &ChatClient{
		cfg:    cfg,
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

// Chat cardsV2 wire format. Widget members are pointers so only the populated
// widget kind is serialized.
type chatPayload struct {
	CardsV2 []cardV2 `json:"cardsV2"`
}

type cardV2 struct {
	CardID string `json:"cardId"`
	Card   card   `json:"card"`
}

type card struct {
	Header   cardHeader    `json:"header"`
	Sections []cardSection `json:"sections"`
}

type cardHeader struct {
	Title    string `json:"title"`
	Subtitle string `json:"subtitle,omitempty"`
}

type cardSection struct {
	Widgets []widget `json:"widgets"`
}

type widget struct {
	TextParagraph *textParagraph `json:"textParagraph,omitempty"`
	Image         *imageWidget   `json:"image,omitempty"`
	Columns       *columnsWidget `json:"columns,omitempty"`
	Divider       *struct{}      `json:"divider,omitempty"`
}

type textParagraph struct {
	Text string `json:"text"`
}

type imageWidget struct {
	ImageURL string `json:"imageUrl"`
	AltText  string `json:"altText,omitempty"`
}

type columnsWidget struct {
	ColumnItems []columnItem `json:"columnItems"`
}

type columnItem struct {
	HorizontalAlignment string   `json:"horizontalAlignment,omitempty"`
	Widgets             []widget `json:"widgets"`
}

// Notify posts records as cards, batched so a single oversized card never
// hits the webhook's payload limit. In single-card mode only the first batch
// is sent, with a truncation note in the header.
func (c *ChatClient) Notify(ctx context.Context, date string, records []models.ItemRecord) error {
	if c.cfg.WebhookURL == "" {
		slog.Info("Chat webhook not configured, skipping chat notification")
		return nil
	}
	if len(records) == 0 {
		return nil
	}

	batches := batchRecords(records, c.cfg.BatchSize)
	if c.cfg.SingleCard {
		batches = batches[:1]
	}

	for i, batch := range batches {
		payload := c.buildCard(date, batch, i, len(batches), len(records))
		if err := c.post(ctx, payload); err != nil {
			return fmt.Errorf("chat webhook batch %d/%d failed: %w", i+1, len(batches), err)
		}
	}
	slog.Info("Chat notification sent", "items", len(records), "batches", len(batches))
	return nil
}

func batchRecords(records []models.ItemRecord, size int) [][]models.ItemRecord {
	var batches [][]models.ItemRecord
	for start := 0; start < len(records); start += size {
		end := start + size
		if end > len(records) {
			end = len(records)
		}
		batches = append(batches, records[start:end])
	}
	return batches
}

func (c *ChatClient) buildCard(date string, batch []models.ItemRecord, batchNum, batchCount, total int) chatPayload {
	subtitle := "Sorted by INF Units | " + date
	if batchCount > 1 {
		subtitle += fmt.Sprintf(" | batch %d/%d", batchNum+1, batchCount)
	}
	if c.cfg.SingleCard && total > len(batch) {
		subtitle += fmt.Sprintf(" | showing %d of %d", len(batch), total)
	}

	cardID := "inf-report-" + strings.ReplaceAll(strings.ToLower(c.cfg.Store.Name), " ", "-")
	if batchCount > 1 {
		cardID += fmt.Sprintf("-b%d", batchNum+1)
	}

	var widgets []widget
	for i, rec := range batch {
		if i > 0 {
			widgets = append(widgets, widget{Divider: &struct{}{}})
		}
		widgets = append(widgets, c.itemWidgets(rec)...)
	}

	return chatPayload{
		CardsV2: []cardV2{{
			CardID: cardID,
			Card: card{
				Header: cardHeader{
					Title:    fmt.Sprintf("INF Report: %s", c.cfg.Store.Name),
					Subtitle: subtitle,
				},
				Sections: []cardSection{{Widgets: widgets}},
			},
		}},
	}
}

// itemWidgets renders one record: details and full-size product shot on the
// left, a scannable sku QR code on the right for shop-floor checks.
func (c *ChatClient) itemWidgets(rec models.ItemRecord) []widget {
	text := fmt.Sprintf("<b>%s</b><br>SKU: %s<br>INF Units: %d | Orders: %d",
		rec.ProductName, rec.SKU, rec.INFUnits, rec.OrdersImpacted)
	if rec.INFPercent != "" {
		text += " | " + rec.INFPercent
	}
	if rec.Stock != nil {
		text += fmt.Sprintf("<br>Stock on hand: %d %s", rec.Stock.OnHand, rec.Stock.Unit)
		if rec.Stock.Location != "" {
			text += "<br>Location: " + rec.Stock.Location
		}
		if rec.Stock.PromoLocation != "" {
			text += "<br>Promo: " + rec.Stock.PromoLocation
		}
	}

	left := []widget{{TextParagraph: &textParagraph{Text: text}}}
	if rec.ImageURL != "" {
		left = append(left, widget{Image: &imageWidget{
			ImageURL: util.FullSizeImageURL(rec.ImageURL),
			AltText:  rec.ProductName,
		}})
	}

	right := []widget{{Image: &imageWidget{
		ImageURL: c.qrCodeURL(rec.SKU),
		AltText:  "QR code for " + rec.SKU,
	}}}

	return []widget{{Columns: &columnsWidget{
		ColumnItems: []columnItem{
			{Widgets: left},
			{HorizontalAlignment: "END", Widgets: right},
		},
	}}}
}

func (c *ChatClient) qrCodeURL(sku string) string {
	q := url.Values{}
	q.Set("size", fmt.Sprintf("%dx%d", c.cfg.QRCodeSize, c.cfg.QRCodeSize))
	q.Set("data", sku)
	return qrCodeEndpoint + "?" + q.Encode()
}

func (c *ChatClient) post(ctx context.Context, payload chatPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		return fmt.Errorf("chat webhook status %s: %s", resp.Status, strings.TrimSpace(string(respBody)))
	}
	return nil
}
