package limiter

import (
	"context"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PG is a PostgreSQL-backed limiter with a sliding per-package window.
type PG struct {
	pool     pgxQuerier
	window   time.Duration
	maxSends int
}

type pgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NewPG constructs a PostgreSQL-backed limiter.
func NewPG(pool *pgxpool.Pool, window time.Duration, maxSends int) *PG {
	return &PG{pool: pool, window: window, maxSends: maxSends}
}

// NewPGWithQuerier constructs a PostgreSQL-backed limiter over any querier.
func NewPGWithQuerier(q pgxQuerier, window time.Duration, maxSends int) *PG {
	return &PG{pool: q, window: window, maxSends: maxSends}
}

var _ Limiter = (*PG)(nil)

// Reserve counts the send against the package's current window in a single
// upsert. An expired window resets on the same statement, so a burst after a
// quiet period starts a fresh count.
func (l *PG) Reserve(ctx context.Context, packageID uuid.UUID) (bool, time.Duration, error) {
	const q = `
INSERT INTO reminder_limiter (package_id, sent_count, window_start)
VALUES ($1, 1, now())
ON CONFLICT (package_id) DO UPDATE
SET
  sent_count   = CASE WHEN now() - reminder_limiter.window_start > $2::interval THEN 1 ELSE reminder_limiter.sent_count + 1 END,
  window_start = CASE WHEN now() - reminder_limiter.window_start > $2::interval THEN now() ELSE reminder_limiter.window_start END
RETURNING sent_count, window_start`
	var count int
	var windowStart time.Time
	if err := l.pool.QueryRow(ctx, q, packageID, l.window).Scan(&count, &windowStart); err != nil {
		return false, 0, err
	}
	if count > l.maxSends {
		retryAfter := time.Until(windowStart.Add(l.window))
		if retryAfter < 0 {
			retryAfter = 0
		}
		return false, retryAfter, nil
	}
	return true, 0, nil
}
