package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/quillsign/quillsign/internal/errs"
	"github.com/quillsign/quillsign/internal/model"
)

// PackageRepo implements PackageRepository using PostgreSQL. Fields, receivers
// and audit histories live in JSONB columns; every scalar a guard predicate
// needs (status, expiry and reminder state) is a plain column so transitions
// are single conditionally-guarded statements.
type PackageRepo struct{ db *DB }

// NewPackageRepo constructs a package repository.
func NewPackageRepo(db *DB) *PackageRepo { return &PackageRepo{db: db} }

const packageCols = `
id, owner_id, owner_email, owner_name, template_id, name, status,
fields, receivers, reassignment_history, receiver_history, automatic_reminders_sent,
rejection, revocation,
expires_at, send_expiration_reminders, reminder_period, expiry_reminder_sent_at,
send_automatic_reminders, first_reminder_days, repeat_reminder_days,
allow_download, allow_reassign, allow_receivers_to_add,
sent_at, created_at, updated_at`

func scanPackage(row pgx.Row) (*model.Package, error) {
	var p model.Package
	err := row.Scan(
		&p.ID, &p.OwnerID, &p.OwnerEmail, &p.OwnerName, &p.TemplateID, &p.Name, &p.Status,
		&p.Fields, &p.Receivers, &p.ReassignmentHistory, &p.ReceiverHistory, &p.Options.AutomaticRemindersSent,
		&p.Rejection, &p.Revocation,
		&p.Options.ExpiresAt, &p.Options.SendExpirationReminders, &p.Options.ReminderPeriod, &p.Options.ExpiryReminderSentAt,
		&p.Options.SendAutomaticReminders, &p.Options.FirstReminderDays, &p.Options.RepeatReminderDays,
		&p.Options.AllowDownload, &p.Options.AllowReassign, &p.Options.AllowReceiversToAdd,
		&p.SentAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Create inserts a new package document.
func (r *PackageRepo) Create(ctx context.Context, p *model.Package) error {
	const q = `
INSERT INTO packages (
  id, owner_id, owner_email, owner_name, template_id, name, status,
  fields, receivers, reassignment_history, receiver_history, automatic_reminders_sent,
  rejection, revocation,
  expires_at, send_expiration_reminders, reminder_period, expiry_reminder_sent_at,
  send_automatic_reminders, first_reminder_days, repeat_reminder_days,
  allow_download, allow_reassign, allow_receivers_to_add,
  sent_at, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27)`
	_, err := r.db.Pool.Exec(ctx, q,
		p.ID, p.OwnerID, p.OwnerEmail, p.OwnerName, p.TemplateID, p.Name, p.Status,
		jsonbSlice(p.Fields), jsonbSlice(p.Receivers), jsonbSlice(p.ReassignmentHistory),
		jsonbSlice(p.ReceiverHistory), jsonbSlice(p.Options.AutomaticRemindersSent),
		p.Rejection, p.Revocation,
		p.Options.ExpiresAt, p.Options.SendExpirationReminders, p.Options.ReminderPeriod, p.Options.ExpiryReminderSentAt,
		p.Options.SendAutomaticReminders, p.Options.FirstReminderDays, p.Options.RepeatReminderDays,
		p.Options.AllowDownload, p.Options.AllowReassign, p.Options.AllowReceiversToAdd,
		p.SentAt, p.CreatedAt, p.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return errs.ErrStateConflict
	}
	return err
}

// Get loads a package by id.
func (r *PackageRepo) Get(ctx context.Context, id uuid.UUID) (*model.Package, error) {
	const q = `SELECT ` + packageCols + ` FROM packages WHERE id=$1`
	p, err := scanPackage(r.db.Pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return p, nil
}

// UpdateDraft rewrites the editable content of a package still in draft.
func (r *PackageRepo) UpdateDraft(ctx context.Context, p *model.Package) error {
	const q = `
UPDATE packages SET
  name=$2, fields=$3, receivers=$4,
  expires_at=$5, send_expiration_reminders=$6, reminder_period=$7,
  send_automatic_reminders=$8, first_reminder_days=$9, repeat_reminder_days=$10,
  allow_download=$11, allow_reassign=$12, allow_receivers_to_add=$13,
  updated_at=now()
WHERE id=$1 AND status='draft'`
	tag, err := r.db.Pool.Exec(ctx, q,
		p.ID, p.Name, jsonbSlice(p.Fields), jsonbSlice(p.Receivers),
		p.Options.ExpiresAt, p.Options.SendExpirationReminders, p.Options.ReminderPeriod,
		p.Options.SendAutomaticReminders, p.Options.FirstReminderDays, p.Options.RepeatReminderDays,
		p.Options.AllowDownload, p.Options.AllowReassign, p.Options.AllowReceiversToAdd,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrStateConflict
	}
	return nil
}

// DeleteDraft hard-deletes a package while in draft.
func (r *PackageRepo) DeleteDraft(ctx context.Context, id uuid.UUID) error {
	const q = `DELETE FROM packages WHERE id=$1 AND status='draft'`
	tag, err := r.db.Pool.Exec(ctx, q, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrStateConflict
	}
	return nil
}

// MarkSent performs draft->sent, guarded on status=draft so sentAt is set once.
func (r *PackageRepo) MarkSent(ctx context.Context, id uuid.UUID, sentAt time.Time) error {
	const q = `
UPDATE packages SET status='sent', sent_at=$2, updated_at=now()
WHERE id=$1 AND status='draft'`
	tag, err := r.db.Pool.Exec(ctx, q, id, sentAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrStateConflict
	}
	return nil
}

// ApplySubmission persists fields after a participant submission, moving to
// completed when the last assignment was signed. Guarded on status=sent and
// on the updated_at marker the caller read the document at: a concurrent
// writer bumps updated_at, the stale write affects zero rows and the caller
// reloads instead of overwriting the other writer's signatures.
func (r *PackageRepo) ApplySubmission(ctx context.Context, id uuid.UUID, fields []model.Field, completed bool, base time.Time) error {
	status := model.StatusSent
	if completed {
		status = model.StatusCompleted
	}
	const q = `
UPDATE packages SET fields=$2, status=$3, updated_at=now()
WHERE id=$1 AND status='sent' AND updated_at=$4`
	tag, err := r.db.Pool.Exec(ctx, q, id, jsonbSlice(fields), status, base)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrStateConflict
	}
	return nil
}

// SetRejected performs sent->rejected and records rejection details once.
func (r *PackageRepo) SetRejected(ctx context.Context, id uuid.UUID, det model.RejectionDetails) error {
	const q = `
UPDATE packages SET status='rejected', rejection=$2, updated_at=now()
WHERE id=$1 AND status='sent' AND rejection IS NULL`
	tag, err := r.db.Pool.Exec(ctx, q, id, det)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrStateConflict
	}
	return nil
}

// SetRevoked performs sent->revoked and records revocation details once.
func (r *PackageRepo) SetRevoked(ctx context.Context, id uuid.UUID, det model.RevocationDetails) error {
	const q = `
UPDATE packages SET status='revoked', revocation=$2, updated_at=now()
WHERE id=$1 AND status='sent' AND revocation IS NULL`
	tag, err := r.db.Pool.Exec(ctx, q, id, det)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrStateConflict
	}
	return nil
}

// ApplyReassignment persists fields with replaced assignments and appends one
// history record. Guarded on status=sent and on the updated_at base marker,
// as in ApplySubmission.
func (r *PackageRepo) ApplyReassignment(ctx context.Context, id uuid.UUID, fields []model.Field, rec model.ReassignmentRecord, base time.Time) error {
	const q = `
UPDATE packages SET
  fields=$2, reassignment_history = reassignment_history || $3::jsonb, updated_at=now()
WHERE id=$1 AND status='sent' AND updated_at=$4`
	tag, err := r.db.Pool.Exec(ctx, q, id, jsonbSlice(fields), rec, base)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrStateConflict
	}
	return nil
}

// AddReceiver appends the receiver and its audit record. Guarded on status=sent.
func (r *PackageRepo) AddReceiver(ctx context.Context, id uuid.UUID, recv model.ContactRef, rec model.ReceiverRecord) error {
	const q = `
UPDATE packages SET
  receivers = receivers || $2::jsonb,
  receiver_history = receiver_history || $3::jsonb,
  updated_at=now()
WHERE id=$1 AND status='sent'`
	tag, err := r.db.Pool.Exec(ctx, q, id, recv, rec)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrStateConflict
	}
	return nil
}

// ExpireIfPending performs the system expiry transition if the package is
// still draft or sent. won reports whether this writer made the transition.
func (r *PackageRepo) ExpireIfPending(ctx context.Context, id uuid.UUID) (bool, error) {
	const q = `
UPDATE packages SET status='expired', updated_at=now()
WHERE id=$1 AND status IN ('draft','sent')`
	tag, err := r.db.Pool.Exec(ctx, q, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// MarkExpiryReminderSent sets the one-shot guard only if still unset.
func (r *PackageRepo) MarkExpiryReminderSent(ctx context.Context, id uuid.UUID, at time.Time) error {
	const q = `
UPDATE packages SET expiry_reminder_sent_at=$2, updated_at=now()
WHERE id=$1 AND expiry_reminder_sent_at IS NULL`
	tag, err := r.db.Pool.Exec(ctx, q, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrGuardConflict
	}
	return nil
}

// AppendAutomaticReminder appends one record to the append-only history,
// conditional on its current length so two overlapping runs cannot both
// record (and send) the same reminder.
func (r *PackageRepo) AppendAutomaticReminder(ctx context.Context, id uuid.UUID, rec model.AutoReminderRecord, expectedLen int) error {
	const q = `
UPDATE packages SET
  automatic_reminders_sent = automatic_reminders_sent || $2::jsonb,
  updated_at=now()
WHERE id=$1 AND jsonb_array_length(automatic_reminders_sent) = $3`
	tag, err := r.db.Pool.Exec(ctx, q, id, rec, expectedLen)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrGuardConflict
	}
	return nil
}

// ListExpirable returns draft/sent packages past their expiry instant.
func (r *PackageRepo) ListExpirable(ctx context.Context, now time.Time) ([]*model.Package, error) {
	const q = `SELECT ` + packageCols + `
FROM packages
WHERE expires_at IS NOT NULL AND expires_at <= $1 AND status IN ('draft','sent')`
	return r.list(ctx, q, now)
}

// ListExpiryReminderDue returns sent packages eligible for the one-shot
// expiry reminder: reminders enabled, period set, guard unset, expiry ahead.
func (r *PackageRepo) ListExpiryReminderDue(ctx context.Context, now time.Time) ([]*model.Package, error) {
	const q = `SELECT ` + packageCols + `
FROM packages
WHERE status='sent'
  AND send_expiration_reminders
  AND reminder_period <> ''
  AND expiry_reminder_sent_at IS NULL
  AND expires_at IS NOT NULL AND expires_at > $1`
	return r.list(ctx, q, now)
}

// ListAutomaticReminderDue returns sent packages with the automatic reminder
// cadence configured.
func (r *PackageRepo) ListAutomaticReminderDue(ctx context.Context) ([]*model.Package, error) {
	const q = `SELECT ` + packageCols + `
FROM packages
WHERE status='sent' AND send_automatic_reminders AND first_reminder_days > 0`
	return r.list(ctx, q)
}

func (r *PackageRepo) list(ctx context.Context, q string, args ...any) ([]*model.Package, error) {
	rows, err := r.db.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Package
	for rows.Next() {
		p, err := scanPackage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// jsonbSlice keeps empty slices as JSON arrays rather than SQL NULLs.
func jsonbSlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
