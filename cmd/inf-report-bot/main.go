// Command inf-report-bot scrapes the seller portal's Item Not Found report,
// deduplicates it against the local history log and distributes the results
// to chat and email.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/oakhurst/inf-report-bot/internal/auth"
	"github.com/oakhurst/inf-report-bot/internal/browser"
	"github.com/oakhurst/inf-report-bot/internal/config"
	"github.com/oakhurst/inf-report-bot/internal/extractor"
	"github.com/oakhurst/inf-report-bot/internal/history"
	"github.com/oakhurst/inf-report-bot/internal/notifier"
	"github.com/oakhurst/inf-report-bot/internal/otp"
	"github.com/oakhurst/inf-report-bot/internal/pipeline"
	"github.com/oakhurst/inf-report-bot/internal/session"
	"github.com/oakhurst/inf-report-bot/internal/stock"
)

func main() {
	var fetchYesterday bool

	rootCmd := &cobra.Command{
		Use:   "inf-report-bot",
		Short: "Scrape and distribute the daily Item Not Found report",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), fetchYesterday)
		},
		SilenceUsage: true,
	}
	rootCmd.Flags().BoolVar(&fetchYesterday, "yesterday", false, "report on yesterday instead of today")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		slog.Error("Run failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, fetchYesterday bool) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	ctx, cancel := context.WithTimeout(ctx, cfg.RunTimeout)
	defer cancel()

	fs := afero.NewOsFs()

	driver, err := browser.NewPlaywrightDriver(!cfg.Debug)
	if err != nil {
		return err
	}
	defer driver.Close()

	authenticator := auth.New(driver, session.NewStore(fs, cfg.StateFile), otp.NewProvider(cfg.OTPSecret), cfg)

	log := history.NewLog(fs, cfg.HistoryFile)
	var source pipeline.HistorySource = history.LocalSource{}
	if cfg.EnableLogSync {
		source = history.NewArtifactSource(log, cfg.ArtifactRepository, cfg.ArtifactName, cfg.ArtifactToken)
	}

	var chat notifier.ChatSink
	if cfg.WebhookURL != "" {
		chat = notifier.NewChatClient(cfg)
	}
	var email notifier.EmailSink
	if cfg.EmailReport {
		email = notifier.NewEmailClient(cfg)
	}

	var enricher pipeline.Enricher
	if cfg.EnableStockLookup {
		enricher = stock.New(cfg)
	}

	p := pipeline.New(cfg,
		authenticator,
		extractor.New(cfg, extractor.LoadConfig()),
		log,
		source,
		enricher,
		notifier.NewRouter(chat, email),
	)

	summary, err := p.Run(ctx, fetchYesterday)
	if err != nil {
		return err
	}
	slog.Info("Run complete",
		"extracted", summary.Extracted,
		"new", summary.New,
		"notified", summary.Notified,
		"emailed", summary.Emailed,
		"enrichment_failures", summary.EnrichmentFailures)
	return nil
}
