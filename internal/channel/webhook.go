package channel

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"

	"ytrelay/internal/logging"
	"ytrelay/internal/metrics"
)

const (
	// SecretTokenHeader carries the secret registered with setWebhook.
	SecretTokenHeader = "X-Telegram-Bot-Api-Secret-Token"

	// LivenessText is the GET response body.
	LivenessText = "YouTube Summarizer Bot - Running ✅"

	maxUpdateBytes  = 1 << 20
	shutdownTimeout = 10 * time.Second
)

var ErrUnauthorized = errors.New("webhook secret token mismatch")

// UpdateHandler processes one decoded Telegram update.
type UpdateHandler interface {
	HandleUpdate(ctx context.Context, update tgbotapi.Update) error
}

// WebhookConfig configures the inbound HTTP endpoint.
type WebhookConfig struct {
	Path        string // webhook URL path (default: /)
	SecretToken string // expected X-Telegram-Bot-Api-Secret-Token; empty disables the check
	MetricsPath string // empty disables the metrics endpoint
	Handler     UpdateHandler
	Logger      *slog.Logger
}

// Webhook receives Telegram updates over HTTP and hands them to an UpdateHandler.
type Webhook struct {
	path        string
	secretToken string
	metricsPath string
	handler     UpdateHandler
	logger      *slog.Logger
}

// NewWebhook creates the webhook router.
func NewWebhook(cfg WebhookConfig) *Webhook {
	if cfg.Path == "" {
		cfg.Path = "/"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Webhook{
		path:        cfg.Path,
		secretToken: cfg.SecretToken,
		metricsPath: cfg.MetricsPath,
		handler:     cfg.Handler,
		logger:      cfg.Logger,
	}
}

// Handler returns the HTTP handler serving the webhook and, when enabled, metrics.
func (w *Webhook) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(exactPattern(w.path), w.handleWebhook)
	if w.metricsPath != "" {
		mux.Handle(exactPattern(w.metricsPath), metrics.Default.Handler())
	}
	return mux
}

// exactPattern anchors path so ServeMux does not treat a trailing slash as a
// subtree match. Other paths answer 404.
func exactPattern(path string) string {
	if strings.HasSuffix(path, "/") {
		return path + "{$}"
	}
	return path
}

// Start serves on addr until ctx is cancelled, then drains in-flight requests.
func (w *Webhook) Start(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           w.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	w.logger.Info("webhook server starting", "addr", addr, "path", w.path,
		"secret_token", w.secretToken != "", "metrics", w.metricsPath)

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		w.logger.Info("webhook server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("webhook server: %w", err)
	}
}

func (w *Webhook) handleWebhook(rw http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodOptions:
		setCORSHeaders(rw.Header())
		rw.WriteHeader(http.StatusOK)
	case http.MethodGet:
		writeText(rw, http.StatusOK, LivenessText)
	case http.MethodPost:
		w.handleUpdate(rw, r)
	default:
		writeText(rw, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (w *Webhook) handleUpdate(rw http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	if status, err := w.checkSecret(r); err != nil {
		metrics.UpdatesRejected.Inc()
		w.logger.Warn("webhook request rejected", "status", status, "remote", r.RemoteAddr, "err", err)
		writeText(rw, status, http.StatusText(status))
		return
	}

	requestID := uuid.NewString()
	logger := w.logger.With("request_id", requestID)
	ctx := logging.WithLogger(r.Context(), logger)

	body, err := io.ReadAll(io.LimitReader(r.Body, maxUpdateBytes))
	if err != nil {
		w.fail(rw, logger, fmt.Errorf("read body: %w", err))
		return
	}

	var update tgbotapi.Update
	if err := json.Unmarshal(body, &update); err != nil {
		w.fail(rw, logger, err)
		return
	}

	logger.Debug("update received", "update_id", update.UpdateID)
	if err := w.handler.HandleUpdate(ctx, update); err != nil {
		w.fail(rw, logger, err)
		return
	}
	writeText(rw, http.StatusOK, "OK")
}

// checkSecret validates the secret token header when one is configured.
func (w *Webhook) checkSecret(r *http.Request) (int, error) {
	if w.secretToken == "" {
		return http.StatusOK, nil
	}
	got := r.Header.Get(SecretTokenHeader)
	if got == "" {
		return http.StatusUnauthorized, fmt.Errorf("missing %s: %w", SecretTokenHeader, ErrUnauthorized)
	}
	if subtle.ConstantTimeCompare([]byte(got), []byte(w.secretToken)) != 1 {
		return http.StatusForbidden, ErrUnauthorized
	}
	return http.StatusOK, nil
}

func (w *Webhook) fail(rw http.ResponseWriter, logger *slog.Logger, err error) {
	logger.Error("webhook update failed", "err", err)
	writeText(rw, http.StatusInternalServerError, "Error: "+err.Error())
}

func setCORSHeaders(h http.Header) {
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type")
}

func writeText(rw http.ResponseWriter, status int, body string) {
	rw.Header().Set("Content-Type", "text/plain; charset=utf-8")
	rw.WriteHeader(status)
	_, _ = io.WriteString(rw, body)
}
