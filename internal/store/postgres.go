package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ytrelay/internal/domain"
)

// PostgresJobs writes jobs straight into the worker's Postgres database,
// for deployments that bypass the REST layer.
type PostgresJobs struct {
	pool   *pgxpool.Pool
	insert string
	logger *slog.Logger
}

func OpenPostgresJobs(ctx context.Context, dsn, table string, logger *slog.Logger) (*PostgresJobs, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database url: %w", err)
	}
	cfg.MaxConns = 4
	cfg.MaxConnLifetime = time.Hour
	// Transaction-mode poolers (PgBouncer, Supabase pooler) cannot hold
	// prepared statements across connections.
	cfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeExec

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database unreachable: %w", err)
	}
	return &PostgresJobs{pool: pool, insert: insertJobSQL(table), logger: logger}, nil
}

func tableIdentifier(table string) pgx.Identifier {
	if table == "" {
		table = "jobs"
	}
	return pgx.Identifier(strings.Split(table, "."))
}

func insertJobSQL(table string) string {
	return fmt.Sprintf(`INSERT INTO %s (youtube_url, telegram_chat_id, telegram_user_id, channel, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id::text`, tableIdentifier(table).Sanitize())
}

func (p *PostgresJobs) InsertJob(ctx context.Context, job domain.Job) (domain.Job, error) {
	err := p.pool.QueryRow(ctx, p.insert,
		job.YouTubeURL, job.TelegramChatID, job.TelegramUserID,
		job.Channel.Key(), string(job.Status), job.CreatedAt,
	).Scan(&job.ID)
	if err != nil {
		return job, fmt.Errorf("insert job: %w", err)
	}
	return job, nil
}

func (p *PostgresJobs) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *PostgresJobs) Close() error {
	p.pool.Close()
	return nil
}
