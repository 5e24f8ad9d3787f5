package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/supabase-community/postgrest-go"

	"ytrelay/internal/domain"
	"ytrelay/internal/httpclient"
)

// InsertError is a non-2xx answer from the datastore.
type InsertError struct {
	StatusCode int
	Body       string
}

func (e *InsertError) Error() string {
	return fmt.Sprintf("datastore error: %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

type SupabaseConfig struct {
	BaseURL    string // https://<project>.supabase.co
	ServiceKey string
	Table      string
	Schema     string
	Client     *http.Client
	Logger     *slog.Logger
}

// SupabaseJobs inserts jobs through the PostgREST endpoint of a Supabase
// project using the service-role key.
type SupabaseJobs struct {
	restURL    string
	schema     string
	table      string
	serviceKey string
	client     *http.Client
	logger     *slog.Logger
}

func NewSupabaseJobs(cfg SupabaseConfig) *SupabaseJobs {
	if cfg.Table == "" {
		cfg.Table = "jobs"
	}
	if cfg.Schema == "" {
		cfg.Schema = "public"
	}
	if cfg.Client == nil {
		cfg.Client = httpclient.Datastore(0)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &SupabaseJobs{
		restURL:    strings.TrimRight(cfg.BaseURL, "/") + "/rest/v1",
		schema:     cfg.Schema,
		table:      cfg.Table,
		serviceKey: cfg.ServiceKey,
		client:     cfg.Client,
		logger:     cfg.Logger,
	}
}

// rest returns a PostgREST client whose requests run under ctx. postgrest-go
// builds requests without a context, so each call gets its own transport.
func (s *SupabaseJobs) rest(ctx context.Context) *postgrest.Client {
	c := postgrest.NewClient(s.restURL, s.schema, nil)
	if c.ClientError != nil {
		return c
	}
	c.SetApiKey(s.serviceKey).SetAuthToken(s.serviceKey)
	c.Transport.Parent = &boundTransport{ctx: ctx, next: s.client.Transport}
	return c
}

func (s *SupabaseJobs) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.client.Timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.client.Timeout)
}

// InsertJob posts the job and reads back the created row.
func (s *SupabaseJobs) InsertJob(ctx context.Context, job domain.Job) (domain.Job, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	body, _, err := s.rest(ctx).From(s.table).Insert(job, false, "", "representation", "").Execute()
	if err != nil {
		var insertErr *InsertError
		if errors.As(err, &insertErr) {
			s.logger.Warn("job insert rejected",
				"status", insertErr.StatusCode,
				"body", insertErr.Body,
				"elapsed", time.Since(start),
			)
			return job, insertErr
		}
		return job, fmt.Errorf("datastore request: %w", err)
	}

	var rows []struct {
		ID json.RawMessage `json:"id"`
	}
	if len(body) == 0 {
		return job, nil
	}
	if err := json.Unmarshal(body, &rows); err != nil {
		// The row exists at this point; a representation we cannot read is not a failure.
		s.logger.Warn("job inserted but representation unreadable", "err", err)
	} else if len(rows) > 0 {
		job.ID = strings.Trim(string(rows[0].ID), `"`)
	}
	return job, nil
}

// Ping checks that the jobs table is reachable with the configured key.
func (s *SupabaseJobs) Ping(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	_, _, err := s.rest(ctx).From(s.table).Select("id", "", true).Limit(1, "").Execute()
	if err != nil {
		var insertErr *InsertError
		if errors.As(err, &insertErr) {
			return fmt.Errorf("datastore ping: %d %s", insertErr.StatusCode, http.StatusText(insertErr.StatusCode))
		}
		return fmt.Errorf("datastore request: %w", err)
	}
	return nil
}

func (s *SupabaseJobs) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

// boundTransport runs requests under ctx and turns non-2xx answers into
// *InsertError carrying the status and a prefix of the body.
type boundTransport struct {
	ctx  context.Context
	next http.RoundTripper
}

func (t *boundTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	next := t.next
	if next == nil {
		next = http.DefaultTransport
	}
	resp, err := next.RoundTrip(req.WithContext(t.ctx))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		resp.Body.Close()
		return nil, &InsertError{StatusCode: resp.StatusCode, Body: string(snippet)}
	}
	return resp, nil
}
