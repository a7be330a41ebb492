package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/oakhurst/inf-report-bot/internal/models"
)

// EmailSettings configures the SMTP transport for the HTML report sink.
type EmailSettings struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       []string
}

// Config is the immutable process configuration. It is loaded once in main
// and passed explicitly into every component constructor.
type Config struct {
	LoginEmail    string `validate:"required"`
	LoginPassword string `validate:"required"`
	OTPSecret     string `validate:"required"`
	LoginURL      string `validate:"required,url"`
	ReportBaseURL string `validate:"required,url"`

	Store models.StoreIdentity `validate:"required"`

	WebhookURL    string `validate:"omitempty,url"`
	SingleCard    bool
	BatchSize     int `validate:"gt=0"`
	ThumbnailSize int `validate:"gt=0"`
	QRCodeSize    int `validate:"gt=0"`

	EmailReport bool
	Email       EmailSettings

	EnableStockLookup bool
	StockAPIKey       string
	StockLocationID   string
	StockTokenURL     string `validate:"omitempty,url"`
	StockProductURL   string
	StockLevelsURL    string
	StockLocationURL  string

	EnableLogSync      bool
	ArtifactRepository string
	ArtifactName       string
	ArtifactToken      string

	StateFile   string `validate:"required"`
	OutputDir   string `validate:"required"`
	HistoryFile string `validate:"required"`

	Timezone *time.Location
	Debug    bool

	PageTimeout    time.Duration
	WaitTimeout    time.Duration
	ActionTimeout  time.Duration
	RunTimeout     time.Duration
	TablePollDelay time.Duration

	OTPMaxAttempts int `validate:"gt=0"`
	MaxRetries     int `validate:"gte=0"`
}

// Load reads configuration from the environment (with .env support),
// applies defaults and validates the result.
func Load() (*Config, error) {
	// A missing .env is fine; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := &Config{
		LoginEmail:    os.Getenv("LOGIN_EMAIL"),
		LoginPassword: os.Getenv("LOGIN_PASSWORD"),
		OTPSecret:     os.Getenv("OTP_SECRET"),
		LoginURL:      os.Getenv("LOGIN_URL"),
		ReportBaseURL: getEnvDefault("REPORT_BASE_URL",
			"https://sellercentral.amazon.co.uk/snow-inventory/inventoryinsights/"),
		Store: models.StoreIdentity{
			Name:          os.Getenv("STORE_NAME"),
			MerchantID:    os.Getenv("MERCHANT_ID"),
			MarketplaceID: os.Getenv("MARKETPLACE_ID"),
		},
		WebhookURL:         os.Getenv("INF_WEBHOOK_URL"),
		EnableStockLookup:  getEnvBool("ENABLE_STOCK_LOOKUP"),
		StockAPIKey:        os.Getenv("STOCK_API_KEY"),
		StockLocationID:    os.Getenv("STOCK_LOCATION_ID"),
		StockTokenURL:      os.Getenv("STOCK_TOKEN_URL"),
		StockProductURL:    getEnvDefault("STOCK_PRODUCT_URL", "https://api.morrisons.com/product/v1/items"),
		StockLevelsURL:     getEnvDefault("STOCK_LEVELS_URL", "https://api.morrisons.com/stock/v2/locations"),
		StockLocationURL:   getEnvDefault("STOCK_LOCATION_URL", "https://api.morrisons.com/priceintegrity/v1/locations"),
		EnableLogSync:      getEnvBool("ENABLE_LOG_SYNC"),
		ArtifactRepository: os.Getenv("ARTIFACT_REPOSITORY"),
		ArtifactName:       getEnvDefault("ARTIFACT_NAME", "inf-history"),
		ArtifactToken:      getEnvDefault("ARTIFACT_TOKEN", os.Getenv("GITHUB_TOKEN")),
		SingleCard:         getEnvBool("SINGLE_CARD"),
		EmailReport:        getEnvBool("EMAIL_REPORT"),
		Debug:              getEnvBool("DEBUG"),
		StateFile:          getEnvDefault("STATE_FILE", "state.json"),
		OutputDir:          getEnvDefault("OUTPUT_DIR", "output"),
	}
	cfg.HistoryFile = getEnvDefault("HISTORY_FILE", filepath.Join(cfg.OutputDir, "inf_items.jsonl"))

	if cfg.WebhookURL == "" {
		slog.Warn("INF_WEBHOOK_URL not set, chat notifications will be skipped")
	}

	var err error
	if cfg.BatchSize, err = getEnvInt("BATCH_SIZE", 30); err != nil {
		return nil, err
	}
	if cfg.ThumbnailSize, err = getEnvInt("THUMBNAIL_SIZE", 100); err != nil {
		return nil, err
	}
	if cfg.QRCodeSize, err = getEnvInt("QR_CODE_SIZE", 80); err != nil {
		return nil, err
	}
	if cfg.OTPMaxAttempts, err = getEnvInt("OTP_MAX_ATTEMPTS", 3); err != nil {
		return nil, err
	}
	if cfg.MaxRetries, err = getEnvInt("MAX_RETRIES", 2); err != nil {
		return nil, err
	}

	if cfg.PageTimeout, err = getEnvDuration("PAGE_TIMEOUT", 90*time.Second); err != nil {
		return nil, err
	}
	if cfg.WaitTimeout, err = getEnvDuration("WAIT_TIMEOUT", 45*time.Second); err != nil {
		return nil, err
	}
	if cfg.ActionTimeout, err = getEnvDuration("ACTION_TIMEOUT", 45*time.Second); err != nil {
		return nil, err
	}
	if cfg.RunTimeout, err = getEnvDuration("RUN_TIMEOUT", 10*time.Minute); err != nil {
		return nil, err
	}
	if cfg.TablePollDelay, err = getEnvDuration("TABLE_POLL_DELAY", time.Second); err != nil {
		return nil, err
	}

	tzName := getEnvDefault("TIMEZONE", "Europe/London")
	cfg.Timezone, err = time.LoadLocation(tzName)
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE %q: %w", tzName, err)
	}

	if cfg.EmailReport {
		cfg.Email = EmailSettings{
			Host:     os.Getenv("SMTP_HOST"),
			Username: os.Getenv("SMTP_USERNAME"),
			Password: os.Getenv("SMTP_PASSWORD"),
			From:     os.Getenv("EMAIL_FROM"),
			To:       splitList(os.Getenv("EMAIL_TO")),
		}
		if cfg.Email.Port, err = getEnvInt("SMTP_PORT", 587); err != nil {
			return nil, err
		}
		if cfg.Email.Host == "" || cfg.Email.From == "" || len(cfg.Email.To) == 0 {
			return nil, fmt.Errorf("EMAIL_REPORT is enabled but SMTP_HOST, EMAIL_FROM or EMAIL_TO is missing")
		}
	}

	if cfg.EnableStockLookup && (cfg.StockAPIKey == "" || cfg.StockLocationID == "") {
		return nil, fmt.Errorf("ENABLE_STOCK_LOOKUP is set but STOCK_API_KEY or STOCK_LOCATION_ID is missing")
	}

	if cfg.EnableLogSync && cfg.ArtifactRepository == "" {
		return nil, fmt.Errorf("ENABLE_LOG_SYNC is set but ARTIFACT_REPOSITORY is missing")
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// ReportURL builds the Inventory Insights URL scoped to the configured store.
// Navigating here directly also bypasses the account picker after login.
func (c *Config) ReportURL() string {
	q := url.Values{}
	q.Set("ref_", "mp_home_logo_xx")
	q.Set("cor", "mmp_EU")
	q.Set("mons_sel_dir_mcid", c.Store.MerchantID)
	q.Set("mons_sel_mkid", c.Store.MarketplaceID)
	return c.ReportBaseURL + "?" + q.Encode()
}

func getEnvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	return err == nil && v
}

func getEnvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return parsed, nil
}

func getEnvDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return parsed, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
