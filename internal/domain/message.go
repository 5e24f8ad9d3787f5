package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// PayloadSeparator splits the channel key from the URL in callback data.
const PayloadSeparator = "|"

// MaxCallbackDataLen is Telegram's limit for inline button callback_data.
const MaxCallbackDataLen = 64

var ErrMalformedPayload = errors.New("malformed callback payload")

// CallbackPayload is the selection encoded in an inline button.
type CallbackPayload struct {
	Channel Channel
	URL     string
}

// ParseCallbackPayload splits data on the first separator only, so the URL
// keeps any further '|' characters.
func ParseCallbackPayload(data string) (CallbackPayload, error) {
	key, url, ok := strings.Cut(data, PayloadSeparator)
	if !ok {
		return CallbackPayload{}, fmt.Errorf("%w: missing %q separator", ErrMalformedPayload, PayloadSeparator)
	}
	ch, err := ParseChannel(key)
	if err != nil {
		return CallbackPayload{}, err
	}
	if url == "" {
		return CallbackPayload{}, fmt.Errorf("%w: empty url", ErrMalformedPayload)
	}
	return CallbackPayload{Channel: ch, URL: url}, nil
}

// Encode renders the payload as "<channel>|<url>".
func (p CallbackPayload) Encode() string {
	return p.Channel.Key() + PayloadSeparator + p.URL
}

// JobStatus is the lifecycle state of a job. This service only ever writes
// JobStatusPending; later states belong to the worker.
type JobStatus string

const JobStatusPending JobStatus = "pending"

// Job is the record inserted for the downstream worker.
type Job struct {
	ID             string    `json:"id,omitempty"`
	YouTubeURL     string    `json:"youtube_url"`
	TelegramChatID int64     `json:"telegram_chat_id"`
	TelegramUserID int64     `json:"telegram_user_id"`
	Channel        Channel   `json:"channel"`
	Status         JobStatus `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
}

// NewJob builds a pending job stamped with now in UTC.
func NewJob(p CallbackPayload, chatID, userID int64, now time.Time) Job {
	return Job{
		YouTubeURL:     p.URL,
		TelegramChatID: chatID,
		TelegramUserID: userID,
		Channel:        p.Channel,
		Status:         JobStatusPending,
		CreatedAt:      now.UTC().Truncate(time.Millisecond),
	}
}
