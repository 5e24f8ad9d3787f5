package main

import (
	"fmt"
	"io"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/spf13/cobra"

	"ytrelay/internal/channel"
	"ytrelay/internal/config"
	"ytrelay/internal/httpclient"
)

func webhookCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "webhook",
		Short: "Manage the Telegram webhook registration",
	}

	var dropPending bool
	set := &cobra.Command{
		Use:   "set [url]",
		Short: "Point Telegram at url (secret token and allowed updates from config)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, tg, logCloser, err := webhookClient()
			if err != nil {
				return err
			}
			defer logCloser.Close()
			if err := tg.SetWebhook(args[0], cfg.Telegram.SecretToken, dropPending); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "webhook set for @%s: %s\n", tg.Username(), args[0])
			if cfg.Telegram.SecretToken == "" {
				fmt.Fprintln(cmd.OutOrStdout(), "warning: no secret token configured; requests will not be verified")
			}
			return nil
		},
	}
	set.Flags().BoolVar(&dropPending, "drop-pending", false, "discard updates queued while no webhook was set")

	var dropOnDelete bool
	del := &cobra.Command{
		Use:   "delete",
		Short: "Remove the webhook",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, tg, logCloser, err := webhookClient()
			if err != nil {
				return err
			}
			defer logCloser.Close()
			if err := tg.DeleteWebhook(dropOnDelete); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "webhook deleted for @%s\n", tg.Username())
			return nil
		},
	}
	del.Flags().BoolVar(&dropOnDelete, "drop-pending", false, "discard queued updates")

	info := &cobra.Command{
		Use:   "info",
		Short: "Show Telegram's view of the webhook",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, tg, logCloser, err := webhookClient()
			if err != nil {
				return err
			}
			defer logCloser.Close()
			wi, err := tg.WebhookInfo()
			if err != nil {
				return err
			}
			printWebhookInfo(cmd.OutOrStdout(), wi)
			return nil
		},
	}

	cmd.AddCommand(set, del, info)
	return cmd
}

// webhookClient loads the runtime and connects to the Bot API. The caller
// closes the returned log writer once it is done with the client.
func webhookClient() (*config.Config, *channel.Telegram, io.Closer, error) {
	cfg, logCloser, err := loadRuntime()
	if err != nil {
		return nil, nil, nil, err
	}
	tg, err := channel.NewTelegram(channel.TelegramConfig{
		Token:       cfg.Telegram.Token,
		APIEndpoint: cfg.Telegram.APIEndpoint,
		Client:      httpclient.Telegram(seconds(cfg.Telegram.TimeoutSeconds)),
		Logger:      logger,
	})
	if err != nil {
		logCloser.Close()
		return nil, nil, nil, err
	}
	return cfg, tg, logCloser, nil
}

func printWebhookInfo(w io.Writer, wi tgbotapi.WebhookInfo) {
	url := wi.URL
	if url == "" {
		url = "(not set)"
	}
	fmt.Fprintf(w, "url:              %s\n", url)
	fmt.Fprintf(w, "pending updates:  %d\n", wi.PendingUpdateCount)
	fmt.Fprintf(w, "max connections:  %d\n", wi.MaxConnections)
	if wi.LastErrorDate > 0 {
		at := time.Unix(int64(wi.LastErrorDate), 0).UTC().Format(time.RFC3339)
		fmt.Fprintf(w, "last error:       %s (%s)\n", wi.LastErrorMessage, at)
	}
}
