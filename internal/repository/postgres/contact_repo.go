package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/quillsign/quillsign/internal/errs"
	"github.com/quillsign/quillsign/internal/model"
)

// ContactRepo implements ContactRepository using PostgreSQL.
type ContactRepo struct{ db *DB }

// NewContactRepo constructs a contact repository.
func NewContactRepo(db *DB) *ContactRepo { return &ContactRepo{db: db} }

// GetByEmail selects a contact by email.
func (r *ContactRepo) GetByEmail(ctx context.Context, email string) (*model.Contact, error) {
	const q = `SELECT id, email, name, phone, created_at FROM contacts WHERE email=$1`
	row := r.db.Pool.QueryRow(ctx, q, email)
	var c model.Contact
	if err := row.Scan(&c.ID, &c.Email, &c.Name, &c.Phone, &c.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

// Create inserts a new contact row.
func (r *ContactRepo) Create(ctx context.Context, c *model.Contact) error {
	const q = `INSERT INTO contacts (id, email, name, phone, created_at) VALUES ($1,$2,$3,$4,$5)`
	_, err := r.db.Pool.Exec(ctx, q, c.ID, c.Email, c.Name, c.Phone, c.CreatedAt)
	if isUniqueViolation(err) {
		return errs.ErrStateConflict
	}
	return err
}

// SubscriptionRepo implements SubscriptionRepository using PostgreSQL.
type SubscriptionRepo struct{ db *DB }

// NewSubscriptionRepo constructs a subscription-history repository.
func NewSubscriptionRepo(db *DB) *SubscriptionRepo { return &SubscriptionRepo{db: db} }

// ExpireStale marks active history entries whose validity window passed.
func (r *SubscriptionRepo) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	const q = `
UPDATE subscription_history SET status='expired'
WHERE status='active' AND valid_until <= $1`
	tag, err := r.db.Pool.Exec(ctx, q, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
