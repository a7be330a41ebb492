package models

// StoreIdentity identifies the seller account a record was scraped for.
type StoreIdentity struct {
	Name          string `json:"store_name" validate:"required"`
	MerchantID    string `json:"merchant_id" validate:"required"`
	MarketplaceID string `json:"marketplace_id" validate:"required"`
}

// StockInfo holds the optional stock/location enrichment for a record.
// All fields are best-effort; a failed lookup leaves the whole struct nil.
type StockInfo struct {
	OnHand        int    `json:"on_hand"`
	Unit          string `json:"unit,omitempty"`
	LastUpdated   string `json:"last_updated,omitempty"`
	Location      string `json:"location,omitempty"`
	PromoLocation string `json:"promo_location,omitempty"`
}

// ItemRecord is one row of the INF report for one calendar date.
// Identity key is (Date, SKU, Store). Immutable once extracted.
type ItemRecord struct {
	Date           string        `json:"date" validate:"required"` // YYYY-MM-DD
	SKU            string        `json:"sku" validate:"required"`
	ProductName    string        `json:"product_name"`
	ImageURL       string        `json:"image_url"`
	INFUnits       int           `json:"inf_units" validate:"gte=0"`
	OrdersImpacted int           `json:"orders_impacted" validate:"gte=0"`
	INFPercent     string        `json:"inf_pct,omitempty"`
	Store          StoreIdentity `json:"store"`
	Stock          *StockInfo    `json:"stock,omitempty"`
}

// RunSummary is reported at the end of every run.
type RunSummary struct {
	Extracted          int
	New                int
	Notified           int
	Emailed            int
	EnrichmentFailures int
}
