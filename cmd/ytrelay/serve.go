package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"ytrelay/internal/channel"
	"ytrelay/internal/config"
	"ytrelay/internal/domain"
	"ytrelay/internal/httpclient"
	"ytrelay/internal/relay"
	"ytrelay/internal/store"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook server",
		Long:  "Starts the HTTP endpoint Telegram posts updates to. Press Ctrl+C to stop.",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logCloser, err := loadRuntime()
	if err != nil {
		return err
	}
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	jobs, err := openJobStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("datastore: %w", err)
	}
	defer jobs.Close()

	var ledger domain.CallbackLedger
	if cfg.Ledger.Enabled {
		l, err := openLedger(ctx, cfg.Ledger, logger)
		if err != nil {
			return err
		}
		defer l.Close()
		ledger = l
	}

	tg, err := channel.NewTelegram(channel.TelegramConfig{
		Token:       cfg.Telegram.Token,
		APIEndpoint: cfg.Telegram.APIEndpoint,
		Client:      httpclient.Telegram(seconds(cfg.Telegram.TimeoutSeconds)),
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	handler := relay.NewHandler(relay.Config{
		Messenger: tg,
		Jobs:      jobs,
		Ledger:    ledger,
		Logger:    logger,
	})

	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Endpoint
	}
	webhook := channel.NewWebhook(channel.WebhookConfig{
		Path:        cfg.Telegram.WebhookPath,
		SecretToken: cfg.Telegram.SecretToken,
		MetricsPath: metricsPath,
		Handler:     handler,
		Logger:      logger,
	})

	logger.Info("relay started. Press Ctrl+C to stop.",
		"version", version,
		"driver", cfg.Datastore.Driver,
		"ledger", cfg.Ledger.Enabled,
	)
	if err := webhook.Start(ctx, cfg.Server.ListenAddr); err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

// openJobStore builds the configured datastore backend.
func openJobStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (domain.JobStore, error) {
	ds := cfg.Datastore
	switch ds.Driver {
	case config.DriverSupabase:
		return store.NewSupabaseJobs(store.SupabaseConfig{
			BaseURL:    ds.URL,
			ServiceKey: ds.ServiceKey,
			Table:      ds.Table,
			Client:     httpclient.Datastore(seconds(ds.TimeoutSeconds)),
			Logger:     logger,
		}), nil
	case config.DriverPostgres:
		connectCtx, cancel := context.WithTimeout(ctx, seconds(ds.TimeoutSeconds))
		defer cancel()
		pg, err := store.OpenPostgresJobs(connectCtx, ds.DatabaseURL, ds.Table, logger)
		if err != nil {
			return nil, err
		}
		return pg, nil
	default:
		return nil, fmt.Errorf("unknown driver %q", ds.Driver)
	}
}

// openLedger opens the callback ledger and drops claims past retention.
func openLedger(ctx context.Context, cfg config.LedgerConfig, logger *slog.Logger) (*store.Ledger, error) {
	l, err := store.OpenLedger(cfg.DBPath, logger)
	if err != nil {
		return nil, fmt.Errorf("ledger: %w", err)
	}
	pruned, err := l.Prune(ctx, time.Duration(cfg.RetentionDays)*24*time.Hour)
	if err != nil {
		logger.Warn("ledger prune failed", "err", err)
	} else if pruned > 0 {
		logger.Info("ledger pruned", "rows", pruned, "retention_days", cfg.RetentionDays)
	}
	return l, nil
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
