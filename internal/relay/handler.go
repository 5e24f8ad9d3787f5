// Package relay turns Telegram updates into channel prompts and queued jobs.
package relay

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"ytrelay/internal/domain"
	"ytrelay/internal/logging"
	"ytrelay/internal/metrics"
	"ytrelay/internal/youtube"
)

// User-facing texts. Messages are sent with parse mode HTML.
const (
	TextURLNotFound  = "❌ Could not find a YouTube URL.\n\n💡 Please send a YouTube link."
	TextSelectPrompt = "📺 How should this video be summarized?"
	TextConfirmation = "⏳ Summary started!\n\n📺 Channel: %s\n🔄 Expected to finish in 1-2 minutes\n\n✅ You'll get a message when it's done!"
	TextCallbackAck  = "Processing started!"
	TextDuplicate    = "Already queued."
	TextExpired      = "This button has expired."
	TextError        = "❌ An error occurred: %s"
)

// Config wires the handler's collaborators. Ledger may be nil.
type Config struct {
	Messenger domain.Messenger
	Jobs      domain.JobStore
	Ledger    domain.CallbackLedger
	Logger    *slog.Logger
	Now       func() time.Time
}

// Handler implements channel.UpdateHandler.
type Handler struct {
	messenger domain.Messenger
	jobs      domain.JobStore
	ledger    domain.CallbackLedger
	logger    *slog.Logger
	now       func() time.Time
}

func NewHandler(cfg Config) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Handler{
		messenger: cfg.Messenger,
		jobs:      cfg.Jobs,
		ledger:    cfg.Ledger,
		logger:    cfg.Logger,
		now:       cfg.Now,
	}
}

// HandleUpdate routes a message or a callback query. Other update kinds are
// acknowledged and ignored.
func (h *Handler) HandleUpdate(ctx context.Context, update tgbotapi.Update) error {
	switch {
	case update.Message != nil:
		metrics.UpdatesMessage.Inc()
		return h.HandleMessage(ctx, update.Message)
	case update.CallbackQuery != nil:
		metrics.UpdatesCallback.Inc()
		return h.HandleCallback(ctx, update.CallbackQuery)
	default:
		metrics.UpdatesOther.Inc()
		logging.FromContext(ctx, h.logger).Debug("update ignored", "update_id", update.UpdateID)
		return nil
	}
}

// HandleMessage answers a text message with the channel selector, or with
// guidance when it carries no YouTube link. Send failures are returned.
func (h *Handler) HandleMessage(ctx context.Context, msg *tgbotapi.Message) error {
	logger := logging.FromContext(ctx, h.logger)
	if msg.Text == "" || msg.Chat == nil {
		return nil
	}
	chatID := msg.Chat.ID

	link, ok := youtube.ExtractURL(msg.Text)
	if !ok {
		metrics.URLsNotFound.Inc()
		logger.Info("no youtube url in message", "chat_id", chatID, "text_len", len(msg.Text))
		return h.messenger.SendText(ctx, chatID, TextURLNotFound)
	}

	payloadURL, ok := fitCallbackURL(link)
	if !ok {
		metrics.URLsNotFound.Inc()
		logger.Warn("youtube url too long for callback data", "chat_id", chatID, "url", link)
		return h.messenger.SendText(ctx, chatID, TextURLNotFound)
	}
	if payloadURL != link {
		logger.Debug("url compacted for callback data", "url", link, "compact", payloadURL)
	}

	if err := h.messenger.SendChannelSelector(ctx, chatID, TextSelectPrompt, payloadURL); err != nil {
		return err
	}
	metrics.SelectorsSent.Inc()
	logger.Info("channel selector sent", "chat_id", chatID, "url", payloadURL)
	return nil
}

// HandleCallback queues a job for the selected channel. Failures are reported
// to the chat and never returned, so Telegram does not redeliver the update.
func (h *Handler) HandleCallback(ctx context.Context, cq *tgbotapi.CallbackQuery) error {
	logger := logging.FromContext(ctx, h.logger).With("callback_id", cq.ID)

	if cq.Message == nil || cq.Message.Chat == nil {
		logger.Warn("callback without originating message")
		if err := h.messenger.AnswerCallback(ctx, cq.ID, TextExpired); err != nil {
			logger.Error("answer expired callback failed", "err", err)
		}
		return nil
	}
	chatID := cq.Message.Chat.ID
	var userID int64
	if cq.From != nil {
		userID = cq.From.ID
	}

	if err := h.enqueue(ctx, logger, cq, chatID, userID); err != nil {
		metrics.JobsFailed.Inc()
		logger.Warn("callback failed", "chat_id", chatID, "err", err)
		text := fmt.Sprintf(TextError, html.EscapeString(err.Error()))
		if sendErr := h.messenger.SendText(ctx, chatID, text); sendErr != nil {
			logger.Error("send error message failed", "chat_id", chatID, "err", sendErr)
		}
	}
	return nil
}

func (h *Handler) enqueue(ctx context.Context, logger *slog.Logger, cq *tgbotapi.CallbackQuery, chatID, userID int64) error {
	payload, err := domain.ParseCallbackPayload(cq.Data)
	if err != nil {
		return err
	}
	job := domain.NewJob(payload, chatID, userID, h.now())

	if h.ledger != nil {
		fresh, err := h.ledger.Claim(ctx, cq.ID, job)
		if err != nil {
			return err
		}
		if !fresh {
			metrics.DuplicateCallbacks.Inc()
			logger.Info("duplicate callback skipped", "chat_id", chatID)
			return h.messenger.AnswerCallback(ctx, cq.ID, TextDuplicate)
		}
	}

	start := time.Now()
	stored, err := h.jobs.InsertJob(ctx, job)
	metrics.DatastoreLatency.ObserveSince(start)
	if err != nil {
		h.release(ctx, logger, cq.ID)
		return err
	}
	metrics.JobsCreated.Inc()
	if h.ledger != nil {
		if err := h.ledger.Confirm(ctx, cq.ID, stored.ID); err != nil {
			logger.Warn("ledger confirm failed", "err", err)
		}
	}
	logger.Info("job created",
		"job_id", stored.ID,
		"channel", payload.Channel,
		"chat_id", chatID,
		"url", payload.URL,
	)

	if err := h.messenger.SendText(ctx, chatID, fmt.Sprintf(TextConfirmation, payload.Channel.Label())); err != nil {
		return err
	}
	return h.messenger.AnswerCallback(ctx, cq.ID, TextCallbackAck)
}

// release drops the ledger claim after a failed insert so the user can click again.
func (h *Handler) release(ctx context.Context, logger *slog.Logger, callbackID string) {
	if h.ledger == nil {
		return
	}
	// The request context may already be done; the release must still land.
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := h.ledger.Release(releaseCtx, callbackID); err != nil {
		logger.Error("release callback claim failed", "err", err)
	}
}

// fitCallbackURL returns link, or its youtu.be short form, such that every
// channel's callback data stays within Telegram's limit.
func fitCallbackURL(link string) (string, bool) {
	if fitsCallbackData(link) {
		return link, true
	}
	id, ok := youtube.VideoID(link)
	if !ok {
		return "", false
	}
	short := youtube.ShortURL(id)
	return short, fitsCallbackData(short)
}

func fitsCallbackData(link string) bool {
	for _, ch := range domain.Channels {
		if len(domain.CallbackPayload{Channel: ch, URL: link}.Encode()) > domain.MaxCallbackDataLen {
			return false
		}
	}
	return true
}
