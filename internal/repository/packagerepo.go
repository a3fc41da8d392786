// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/quillsign/quillsign/internal/model"
)

// PackageRepository provides access to package documents. Every state
// transition and one-shot flag is written as a single conditionally-guarded
// statement so concurrent triggers (owner action, participant action,
// scheduled job, inline expiry check) cannot both win the same race.
type PackageRepository interface {
	// Create inserts a new package document.
	Create(ctx context.Context, p *model.Package) error

	// Get loads a package by id.
	Get(ctx context.Context, id uuid.UUID) (*model.Package, error)

	// UpdateDraft rewrites the mutable content of a package still in draft.
	UpdateDraft(ctx context.Context, p *model.Package) error

	// DeleteDraft hard-deletes a package, only while in draft.
	DeleteDraft(ctx context.Context, id uuid.UUID) error

	// MarkSent performs draft->sent and records sentAt, guarded on status=draft.
	MarkSent(ctx context.Context, id uuid.UUID, sentAt time.Time) error

	// ApplySubmission persists the updated fields after a participant's
	// submission and, when completed, the sent->completed transition.
	// Guarded on status=sent and on base, the updated_at marker the caller
	// read the document at, so two overlapping submissions cannot overwrite
	// each other's signatures. Returns errs.ErrStateConflict when the guard
	// fails; callers reload and reapply.
	ApplySubmission(ctx context.Context, id uuid.UUID, fields []model.Field, completed bool, base time.Time) error

	// SetRejected performs sent->rejected and records rejection details once.
	SetRejected(ctx context.Context, id uuid.UUID, det model.RejectionDetails) error

	// SetRevoked performs sent->revoked and records revocation details once.
	SetRevoked(ctx context.Context, id uuid.UUID, det model.RevocationDetails) error

	// ApplyReassignment persists fields with replaced assignments and appends
	// one reassignment history record. Guarded on status=sent and on base,
	// like ApplySubmission, so a reassignment cannot clobber a concurrent
	// submission.
	ApplyReassignment(ctx context.Context, id uuid.UUID, fields []model.Field, rec model.ReassignmentRecord, base time.Time) error

	// AddReceiver appends a receiver and its audit record. Guarded on status=sent.
	AddReceiver(ctx context.Context, id uuid.UUID, recv model.ContactRef, rec model.ReceiverRecord) error

	// ExpireIfPending performs the system expiry transition guarded on
	// status IN (draft, sent). won is false when another writer got there first.
	ExpireIfPending(ctx context.Context, id uuid.UUID) (won bool, err error)

	// MarkExpiryReminderSent sets the one-shot expiry reminder guard,
	// conditional on it being unset. Returns errs.ErrGuardConflict otherwise.
	MarkExpiryReminderSent(ctx context.Context, id uuid.UUID, at time.Time) error

	// AppendAutomaticReminder appends one record to the append-only automatic
	// reminder history, conditional on the history still holding exactly
	// expectedLen entries. Returns errs.ErrGuardConflict when a concurrent
	// run appended first.
	AppendAutomaticReminder(ctx context.Context, id uuid.UUID, rec model.AutoReminderRecord, expectedLen int) error

	// ListExpirable returns packages past their expiry instant that are still
	// draft or sent.
	ListExpirable(ctx context.Context, now time.Time) ([]*model.Package, error)

	// ListExpiryReminderDue returns sent packages with expiry reminders
	// enabled, a period configured, a future expiry and the one-shot guard unset.
	ListExpiryReminderDue(ctx context.Context, now time.Time) ([]*model.Package, error)

	// ListAutomaticReminderDue returns sent packages with automatic reminders
	// enabled and a first-reminder cadence configured.
	ListAutomaticReminderDue(ctx context.Context) ([]*model.Package, error)
}
