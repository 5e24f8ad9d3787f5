package channel

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ytrelay/internal/logging"
)

func testWebhookLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

type recordingHandler struct {
	mu      sync.Mutex
	updates []tgbotapi.Update
	scoped  bool
	err     error
}

func (h *recordingHandler) HandleUpdate(ctx context.Context, update tgbotapi.Update) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.updates = append(h.updates, update)
	h.scoped = logging.FromContext(ctx, nil) != nil
	return h.err
}

func newTestWebhook(h UpdateHandler, secret string) http.Handler {
	return NewWebhook(WebhookConfig{
		Path:        "/",
		SecretToken: secret,
		MetricsPath: "/metrics",
		Handler:     h,
		Logger:      testWebhookLogger(),
	}).Handler()
}

func serve(t *testing.T, h http.Handler, method, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, "/", r)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestWebhook_Options(t *testing.T) {
	rec := serve(t, newTestWebhook(&recordingHandler{}, ""), http.MethodOptions, "", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "POST, GET, OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "Content-Type", rec.Header().Get("Access-Control-Allow-Headers"))
}

func TestWebhook_GetLiveness(t *testing.T) {
	rec := serve(t, newTestWebhook(&recordingHandler{}, ""), http.MethodGet, "", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, LivenessText, rec.Body.String())
}

func TestWebhook_MethodNotAllowed(t *testing.T) {
	for _, m := range []string{http.MethodPut, http.MethodDelete, http.MethodPatch} {
		rec := serve(t, newTestWebhook(&recordingHandler{}, ""), m, "", nil)
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code, m)
	}
}

func TestWebhook_PostDispatchesUpdate(t *testing.T) {
	h := &recordingHandler{}
	body := `{"update_id":7,"message":{"message_id":1,"date":0,"chat":{"id":42,"type":"private"},"text":"hi"}}`

	rec := serve(t, newTestWebhook(h, ""), http.MethodPost, body, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
	require.Len(t, h.updates, 1)
	assert.Equal(t, 7, h.updates[0].UpdateID)
	require.NotNil(t, h.updates[0].Message)
	assert.Equal(t, int64(42), h.updates[0].Message.Chat.ID)
	assert.Equal(t, "hi", h.updates[0].Message.Text)
	assert.True(t, h.scoped, "handler should receive a request-scoped logger")
}

func TestWebhook_PostCallbackQuery(t *testing.T) {
	h := &recordingHandler{}
	body := `{"update_id":8,"callback_query":{"id":"cb1","from":{"id":5},"message":{"message_id":2,"date":0,"chat":{"id":42,"type":"private"}},"data":"archive|https://youtu.be/abc123"}}`

	rec := serve(t, newTestWebhook(h, ""), http.MethodPost, body, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, h.updates, 1)
	cq := h.updates[0].CallbackQuery
	require.NotNil(t, cq)
	assert.Equal(t, "cb1", cq.ID)
	assert.Equal(t, int64(5), cq.From.ID)
	assert.Equal(t, "archive|https://youtu.be/abc123", cq.Data)
}

func TestWebhook_PostMalformedJSON(t *testing.T) {
	h := &recordingHandler{}
	rec := serve(t, newTestWebhook(h, ""), http.MethodPost, `{not json`, nil)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Body.String(), "Error: "), rec.Body.String())
	assert.Empty(t, h.updates)
}

func TestWebhook_PostHandlerError(t *testing.T) {
	h := &recordingHandler{err: errors.New("send message: boom")}
	rec := serve(t, newTestWebhook(h, ""), http.MethodPost, `{"update_id":1}`, nil)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Error: send message: boom", rec.Body.String())
}

func TestWebhook_SecretToken(t *testing.T) {
	tests := []struct {
		name   string
		header map[string]string
		want   int
	}{
		{"missing", nil, http.StatusUnauthorized},
		{"wrong", map[string]string{SecretTokenHeader: "nope"}, http.StatusForbidden},
		{"correct", map[string]string{SecretTokenHeader: "s3cret"}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &recordingHandler{}
			rec := serve(t, newTestWebhook(h, "s3cret"), http.MethodPost, `{"update_id":1}`, tt.header)

			assert.Equal(t, tt.want, rec.Code)
			if tt.want == http.StatusOK {
				assert.Len(t, h.updates, 1)
			} else {
				assert.Empty(t, h.updates)
			}
		})
	}
}

func TestWebhook_SecretTokenOnlyGuardsPost(t *testing.T) {
	rec := serve(t, newTestWebhook(&recordingHandler{}, "s3cret"), http.MethodGet, "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWebhook_MetricsEndpoint(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	newTestWebhook(&recordingHandler{}, "").ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ytrelay_updates_total")
}

func TestWebhook_OnlyExactPathIsRouted(t *testing.T) {
	h := &recordingHandler{}
	router := newTestWebhook(h, "")
	body := `{"update_id":9,"message":{"message_id":1,"date":0,"chat":{"id":42,"type":"private"},"text":"hi"}}`

	for _, path := range []string{"/anything", "/metrics/extra", "/favicon.ico"} {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
	}
	assert.Empty(t, h.updates)
}

func TestWebhook_CustomPathWithTrailingSlash(t *testing.T) {
	h := &recordingHandler{}
	router := NewWebhook(WebhookConfig{Path: "/hook/", Handler: h, Logger: testWebhookLogger()}).Handler()
	body := `{"update_id":10}`

	req := httptest.NewRequest(http.MethodPost, "/hook/", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/hook/deeper", strings.NewReader(body))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	assert.Len(t, h.updates, 1)
}

func TestWebhook_StartStops(t *testing.T) {
	w := NewWebhook(WebhookConfig{Handler: &recordingHandler{}, Logger: testWebhookLogger()})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx, "127.0.0.1:0") }()

	cancel()
	assert.NoError(t, <-done)
}
