package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/quillsign/quillsign/internal/errs"
	"github.com/quillsign/quillsign/internal/model"
	"github.com/quillsign/quillsign/internal/repository"
)

// AccountRepo implements AccountRepository using PostgreSQL.
type AccountRepo struct{ db *DB }

// NewAccountRepo constructs an account repository.
func NewAccountRepo(db *DB) *AccountRepo { return &AccountRepo{db: db} }

const accountCols = `
id, email, name, verified, document_credits, has_payment_source,
card_reminder_1h_sent_at, card_reminder_24h_sent_at, deactivated_at, created_at`

func scanAccount(row pgx.Row) (*model.Account, error) {
	var a model.Account
	err := row.Scan(
		&a.ID, &a.Email, &a.Name, &a.Verified, &a.DocumentCredits, &a.HasPaymentSource,
		&a.CardReminder1hSentAt, &a.CardReminder24hSentAt, &a.DeactivatedAt, &a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// Get loads an account by id.
func (r *AccountRepo) Get(ctx context.Context, id uuid.UUID) (*model.Account, error) {
	const q = `SELECT ` + accountCols + ` FROM accounts WHERE id=$1`
	a, err := scanAccount(r.db.Pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return a, nil
}

// Create inserts a new account row.
func (r *AccountRepo) Create(ctx context.Context, a *model.Account) error {
	const q = `
INSERT INTO accounts (id, email, name, verified, document_credits, has_payment_source,
  card_reminder_1h_sent_at, card_reminder_24h_sent_at, deactivated_at, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`
	_, err := r.db.Pool.Exec(ctx, q,
		a.ID, a.Email, a.Name, a.Verified, a.DocumentCredits, a.HasPaymentSource,
		a.CardReminder1hSentAt, a.CardReminder24hSentAt, a.DeactivatedAt, a.CreatedAt,
	)
	if isUniqueViolation(err) {
		return errs.ErrStateConflict
	}
	return err
}

// ChargeCredits consumes n credits in one guarded statement. The unlimited
// sentinel (-1) passes the predicate and is never decremented.
func (r *AccountRepo) ChargeCredits(ctx context.Context, id uuid.UUID, n int) error {
	const q = `
UPDATE accounts SET
  document_credits = CASE WHEN document_credits = -1 THEN -1 ELSE document_credits - $2 END
WHERE id=$1 AND (document_credits = -1 OR document_credits >= $2)`
	tag, err := r.db.Pool.Exec(ctx, q, id, n)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrInsufficientCredits
	}
	return nil
}

func cardReminderColumn(stage repository.CardReminderStage) (string, error) {
	switch stage {
	case repository.CardReminder1h:
		return "card_reminder_1h_sent_at", nil
	case repository.CardReminder24h:
		return "card_reminder_24h_sent_at", nil
	}
	return "", fmt.Errorf("unknown card reminder stage %q", stage)
}

// ListCardReminderDue returns verified, card-less accounts created before
// olderThan with the stage's one-shot guard unset.
func (r *AccountRepo) ListCardReminderDue(ctx context.Context, stage repository.CardReminderStage, olderThan time.Time) ([]*model.Account, error) {
	col, err := cardReminderColumn(stage)
	if err != nil {
		return nil, err
	}
	q := `SELECT ` + accountCols + `
FROM accounts
WHERE verified AND NOT has_payment_source AND deactivated_at IS NULL
  AND created_at <= $1 AND ` + col + ` IS NULL`
	return r.list(ctx, q, olderThan)
}

// MarkCardReminderSent sets the stage's one-shot guard only if still unset.
func (r *AccountRepo) MarkCardReminderSent(ctx context.Context, id uuid.UUID, stage repository.CardReminderStage, at time.Time) error {
	col, err := cardReminderColumn(stage)
	if err != nil {
		return err
	}
	q := `UPDATE accounts SET ` + col + `=$2 WHERE id=$1 AND ` + col + ` IS NULL`
	tag, err := r.db.Pool.Exec(ctx, q, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrGuardConflict
	}
	return nil
}

// ListDeletionDue returns accounts deactivated before the cutoff.
func (r *AccountRepo) ListDeletionDue(ctx context.Context, deactivatedBefore time.Time) ([]*model.Account, error) {
	const q = `SELECT ` + accountCols + `
FROM accounts
WHERE deactivated_at IS NOT NULL AND deactivated_at <= $1`
	return r.list(ctx, q, deactivatedBefore)
}

// Delete hard-deletes an account row.
func (r *AccountRepo) Delete(ctx context.Context, id uuid.UUID) error {
	const q = `DELETE FROM accounts WHERE id=$1`
	tag, err := r.db.Pool.Exec(ctx, q, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

func (r *AccountRepo) list(ctx context.Context, q string, args ...any) ([]*model.Account, error) {
	rows, err := r.db.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
