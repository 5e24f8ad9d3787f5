package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"ytrelay/internal/domain"
)

const (
	telegramMaxSendRetries = 2
	telegramMaxRetryAfter  = 5 * time.Second
)

// AllowedUpdates lists the update kinds the relay subscribes to.
var AllowedUpdates = []string{"message", "callback_query"}

// Telegram is the outbound Bot API client. It implements domain.Messenger.
type Telegram struct {
	bot    *tgbotapi.BotAPI
	logger *slog.Logger
}

type TelegramConfig struct {
	Token       string
	APIEndpoint string // fmt pattern taking token and method
	Client      *http.Client
	Logger      *slog.Logger
}

// NewTelegram connects to the Bot API and verifies the token with getMe.
func NewTelegram(cfg TelegramConfig) (*Telegram, error) {
	if cfg.APIEndpoint == "" {
		cfg.APIEndpoint = tgbotapi.APIEndpoint
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	bot, err := tgbotapi.NewBotAPIWithClient(cfg.Token, cfg.APIEndpoint, cfg.Client)
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	cfg.Logger.Info("telegram bot connected",
		"username", bot.Self.UserName,
		"id", bot.Self.ID,
	)
	return &Telegram{bot: bot, logger: cfg.Logger}, nil
}

// Username returns the bot's @handle as reported by getMe.
func (t *Telegram) Username() string { return t.bot.Self.UserName }

// SendText sends an HTML-formatted message.
func (t *Telegram) SendText(ctx context.Context, chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	if err := t.send(ctx, msg); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// SendChannelSelector sends prompt with one button row per channel. Each
// button carries "<channel>|<url>" as callback data.
func (t *Telegram) SendChannelSelector(ctx context.Context, chatID int64, prompt, url string) error {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(domain.Channels))
	for _, ch := range domain.Channels {
		data := domain.CallbackPayload{Channel: ch, URL: url}.Encode()
		if len(data) > domain.MaxCallbackDataLen {
			return fmt.Errorf("callback data for %s is %d bytes, limit %d", ch, len(data), domain.MaxCallbackDataLen)
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(ch.Label(), data),
		))
	}

	msg := tgbotapi.NewMessage(chatID, prompt)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	if err := t.send(ctx, msg); err != nil {
		return fmt.Errorf("send channel selector: %w", err)
	}
	return nil
}

// AnswerCallback acknowledges a button press with a short toast.
func (t *Telegram) AnswerCallback(ctx context.Context, callbackID, text string) error {
	if err := t.request(ctx, tgbotapi.NewCallback(callbackID, text)); err != nil {
		return fmt.Errorf("answer callback: %w", err)
	}
	return nil
}

// SetWebhook registers url with Telegram. The library's WebhookConfig has no
// secret_token field, so the call is built by hand.
func (t *Telegram) SetWebhook(url, secretToken string, dropPending bool) error {
	allowed, err := json.Marshal(AllowedUpdates)
	if err != nil {
		return err
	}
	params := tgbotapi.Params{
		"url":             url,
		"allowed_updates": string(allowed),
	}
	if secretToken != "" {
		params["secret_token"] = secretToken
	}
	if dropPending {
		params["drop_pending_updates"] = strconv.FormatBool(dropPending)
	}
	if _, err := t.bot.MakeRequest("setWebhook", params); err != nil {
		return fmt.Errorf("set webhook: %w", err)
	}
	return nil
}

// DeleteWebhook removes the registered webhook.
func (t *Telegram) DeleteWebhook(dropPending bool) error {
	if _, err := t.bot.Request(tgbotapi.DeleteWebhookConfig{DropPendingUpdates: dropPending}); err != nil {
		return fmt.Errorf("delete webhook: %w", err)
	}
	return nil
}

// WebhookInfo returns Telegram's view of the current webhook.
func (t *Telegram) WebhookInfo() (tgbotapi.WebhookInfo, error) {
	info, err := t.bot.GetWebhookInfo()
	if err != nil {
		return tgbotapi.WebhookInfo{}, fmt.Errorf("get webhook info: %w", err)
	}
	return info, nil
}

func (t *Telegram) send(ctx context.Context, c tgbotapi.Chattable) error {
	return t.withRetry(ctx, func() error {
		_, err := t.bot.Send(c)
		return err
	})
}

func (t *Telegram) request(ctx context.Context, c tgbotapi.Chattable) error {
	return t.withRetry(ctx, func() error {
		_, err := t.bot.Request(c)
		return err
	})
}

// withRetry retries calls Telegram rejected with 429. The library has no
// context support, so ctx is only checked between attempts.
func (t *Telegram) withRetry(ctx context.Context, call func() error) error {
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := call()
		if err == nil {
			return nil
		}

		wait, limited := retryAfter(err)
		if !limited || attempt >= telegramMaxSendRetries {
			return err
		}
		t.logger.Warn("telegram rate limited, backing off",
			"retry_after", wait, "attempt", attempt+1,
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func retryAfter(err error) (time.Duration, bool) {
	var apiErr *tgbotapi.Error
	if !errors.As(err, &apiErr) || apiErr.Code != http.StatusTooManyRequests {
		return 0, false
	}
	wait := time.Duration(apiErr.RetryAfter) * time.Second
	if wait <= 0 {
		wait = time.Second
	}
	return min(wait, telegramMaxRetryAfter), true
}
