package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/spf13/cobra"

	"ytrelay/internal/channel"
	"ytrelay/internal/config"
	"ytrelay/internal/domain"
	"ytrelay/internal/httpclient"
	"ytrelay/internal/store"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your ytrelay setup",
		Long: `Verifies that ytrelay's configuration, Telegram token, datastore and
ledger are correctly set up. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "ytrelay doctor v%s\n", version)
			fmt.Fprintf(out, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			var r report
			cfgPath := resolveConfigPath()
			if cfgPath == "" {
				r.warn(out, "Config file", "none, using defaults and environment")
			} else {
				r.pass(out, "Config file", cfgPath)
			}

			cfg, err := config.Load(cfgPath)
			if err != nil {
				r.fail(out, "Config validation", err.Error())
				return r.summary(out)
			}
			r.pass(out, "Config validation", "valid")

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			tg, err := channel.NewTelegram(channel.TelegramConfig{
				Token:       cfg.Telegram.Token,
				APIEndpoint: cfg.Telegram.APIEndpoint,
				Client:      httpclient.Telegram(seconds(cfg.Telegram.TimeoutSeconds)),
				Logger:      logger,
			})
			if err != nil {
				r.fail(out, "Telegram", err.Error())
			} else {
				r.pass(out, "Telegram", "@"+tg.Username())
				if wi, err := tg.WebhookInfo(); err != nil {
					r.warn(out, "Webhook", err.Error())
				} else if wi.URL == "" {
					r.warn(out, "Webhook", "not registered (run 'ytrelay webhook set <url>')")
				} else {
					r.pass(out, "Webhook", wi.URL)
				}
			}

			if err := checkDatastore(ctx, cfg); err != nil {
				r.fail(out, "Datastore", err.Error())
			} else {
				r.pass(out, "Datastore", cfg.Datastore.Driver+" reachable")
			}

			if cfg.Ledger.Enabled {
				if err := checkLedger(ctx, cfg.Ledger.DBPath); err != nil {
					r.fail(out, "Ledger", err.Error())
				} else {
					r.pass(out, "Ledger", cfg.Ledger.DBPath)
				}
			}

			if err := checkListen(cfg.Server.ListenAddr); err != nil {
				r.warn(out, "Listen address", fmt.Sprintf("%s may be in use: %v", cfg.Server.ListenAddr, err))
			} else {
				r.pass(out, "Listen address", cfg.Server.ListenAddr+" available")
			}

			if cfg.Log.File != "" {
				r.pass(out, "Log file", cfg.Log.File)
			}

			return r.summary(out)
		},
	}
}

type report struct {
	passed, warned, failed int
}

func (r *report) pass(w io.Writer, check, detail string) {
	r.passed++
	fmt.Fprintf(w, "  [PASS] %-20s %s\n", check, detail)
}

func (r *report) fail(w io.Writer, check, detail string) {
	r.failed++
	fmt.Fprintf(w, "  [FAIL] %-20s %s\n", check, detail)
}

func (r *report) warn(w io.Writer, check, detail string) {
	r.warned++
	fmt.Fprintf(w, "  [WARN] %-20s %s\n", check, detail)
}

func (r *report) summary(w io.Writer) error {
	fmt.Fprintf(w, "\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
	fmt.Fprintf(w, "Results: %d passed, %d warnings, %d failed\n", r.passed, r.warned, r.failed)
	if r.failed > 0 {
		fmt.Fprintf(w, "\nPlease fix the failed checks before running ytrelay.\n")
		return fmt.Errorf("%d check(s) failed", r.failed)
	}
	if r.warned > 0 {
		fmt.Fprintf(w, "\nytrelay should work but consider fixing the warnings.\n")
	} else {
		fmt.Fprintf(w, "\nAll checks passed! ytrelay is ready to run.\n")
	}
	return nil
}

func checkDatastore(ctx context.Context, cfg *config.Config) error {
	jobs, err := openJobStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer jobs.Close()
	return jobs.Ping(ctx)
}

// checkLedger opens the ledger and round-trips a claim.
func checkLedger(ctx context.Context, dbPath string) error {
	l, err := store.OpenLedger(dbPath, logger)
	if err != nil {
		return err
	}
	defer l.Close()

	const marker = "ytrelay-doctor"
	if _, err := l.Claim(ctx, marker, domain.Job{Channel: domain.ChannelArchive}); err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	return l.Release(ctx, marker)
}

func checkListen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return ln.Close()
}
