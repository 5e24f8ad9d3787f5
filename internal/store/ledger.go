package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"ytrelay/internal/domain"
)

// Ledger records which callback ids already produced a job, so a callback
// redelivered by Telegram does not insert a second job.
type Ledger struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

func OpenLedger(dbPath string, logger *slog.Logger) (*Ledger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create ledger directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("cannot open ledger: %w", err)
	}
	// Single connection: sqlite serializes writers anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	l := &Ledger{db: db, logger: logger, now: time.Now}
	if err := runMigrations(context.Background(), db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("ledger migration failed: %w", err)
	}
	return l, nil
}

// Claim inserts the callback id and reports whether it was new.
func (l *Ledger) Claim(ctx context.Context, callbackID string, job domain.Job) (bool, error) {
	res, err := l.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO callback_claims (callback_id, chat_id, user_id, channel, youtube_url, claimed_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		callbackID, job.TelegramChatID, job.TelegramUserID, job.Channel.Key(), job.YouTubeURL, l.now().Unix(),
	)
	if err != nil {
		return false, fmt.Errorf("claim callback: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim callback: %w", err)
	}
	return n == 1, nil
}

func (l *Ledger) Release(ctx context.Context, callbackID string) error {
	if _, err := l.db.ExecContext(ctx, `DELETE FROM callback_claims WHERE callback_id = ?`, callbackID); err != nil {
		return fmt.Errorf("release callback: %w", err)
	}
	return nil
}

// Confirm records the job id created for a claimed callback.
func (l *Ledger) Confirm(ctx context.Context, callbackID, jobID string) error {
	if _, err := l.db.ExecContext(ctx,
		`UPDATE callback_claims SET job_id = ? WHERE callback_id = ?`, jobID, callbackID,
	); err != nil {
		return fmt.Errorf("confirm callback: %w", err)
	}
	return nil
}

// JobID returns the job id recorded for callbackID, empty when unconfirmed.
func (l *Ledger) JobID(ctx context.Context, callbackID string) (string, error) {
	var id string
	err := l.db.QueryRowContext(ctx,
		`SELECT job_id FROM callback_claims WHERE callback_id = ?`, callbackID,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("lookup callback: %w", err)
	}
	return id, nil
}

// Prune drops claims older than maxAge and returns how many were removed.
func (l *Ledger) Prune(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := l.now().Add(-maxAge).Unix()
	res, err := l.db.ExecContext(ctx, `DELETE FROM callback_claims WHERE claimed_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune ledger: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		l.logger.Info("ledger pruned", "removed", n, "older_than", maxAge)
	}
	return n, nil
}

// Count returns the number of claims currently held.
func (l *Ledger) Count(ctx context.Context) (int64, error) {
	var n int64
	err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM callback_claims`).Scan(&n)
	return n, err
}

func (l *Ledger) Close() error {
	return l.db.Close()
}
