package extractor

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
)

// SelectorConfig holds every selector the extractor touches. Keeping them in
// one JSON-loadable structure means a portal markup change is a config edit,
// not a code change.
type SelectorConfig struct {
	Report ReportSelectors `json:"report"`
	Row    RowSelectors    `json:"row"`
}

type ReportSelectors struct {
	RangePicker    string `json:"range_picker"`
	TableBody      string `json:"table_body"`
	YesterdayLink  string `json:"yesterday_link"`
	PageSizeSelect string `json:"page_size_select"`
	SortINFUnits   string `json:"sort_inf_units"`
	NextPage       string `json:"next_page"`
}

// RowSelectors are resolved relative to a single <tr> in the report table.
type RowSelectors struct {
	Image    string `json:"image"`
	SKU      string `json:"sku"`
	Name     string `json:"name"`
	INFUnits string `json:"inf_units"`
	Orders   string `json:"orders"`
	INFPct   string `json:"inf_pct"`
}

func DefaultSelectors() SelectorConfig {
	return SelectorConfig{
		Report: ReportSelectors{
			RangePicker:    "#range-selector",
			TableBody:      "table.imp-table tbody",
			YesterdayLink:  `a:has-text("Yesterday")`,
			PageSizeSelect: `select[name="pageSizeDropDown"]`,
			SortINFUnits:   "#sort-3",
			NextPage:       "button.pagination-next:not([disabled])",
		},
		Row: RowSelectors{
			Image:    "td:nth-child(1) img",
			SKU:      "td:nth-child(2) span",
			Name:     "td:nth-child(3) a span",
			INFUnits: "td:nth-child(4) span",
			Orders:   "td:nth-child(5) span",
			INFPct:   "td:nth-child(9) span",
		},
	}
}

// LoadSelectors loads the selector configuration from a JSON file.
func LoadSelectors(path string) (SelectorConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return SelectorConfig{}, fmt.Errorf("failed to read selector config file: %w", err)
	}
	return LoadSelectorsFromBytes(data)
}

// LoadSelectorsFromBytes parses selector configuration from raw JSON bytes.
func LoadSelectorsFromBytes(data []byte) (SelectorConfig, error) {
	var cfg SelectorConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return SelectorConfig{}, fmt.Errorf("failed to parse selector config JSON: %w", err)
	}
	return cfg, nil
}

// LoadConfig tries the external file named by SELECTORS_CONFIG_PATH and
// falls back to the hardcoded defaults.
func LoadConfig() SelectorConfig {
	path := os.Getenv("SELECTORS_CONFIG_PATH")
	if path == "" {
		return DefaultSelectors()
	}
	sel, err := LoadSelectors(path)
	if err != nil {
		slog.Warn("Failed to load external selectors, using defaults", "path", path, "error", err)
		return DefaultSelectors()
	}
	slog.Info("Loaded selectors from external file", "path", path)
	return sel
}
