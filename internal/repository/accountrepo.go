package repository

import (
	"context"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/quillsign/quillsign/internal/model"
)

// CardReminderStage distinguishes the two card-verification nudges.
type CardReminderStage string

const (
	CardReminder1h  CardReminderStage = "1h"
	CardReminder24h CardReminderStage = "24h"
)

// AccountRepository provides access to user accounts and their document allowance.
type AccountRepository interface {
	// Get loads an account by id.
	Get(ctx context.Context, id uuid.UUID) (*model.Account, error)

	// Create inserts a new account.
	Create(ctx context.Context, a *model.Account) error

	// ChargeCredits consumes n document credits atomically. The unlimited
	// sentinel allowance is never decremented. Returns
	// errs.ErrInsufficientCredits when the remaining allowance cannot cover n.
	ChargeCredits(ctx context.Context, id uuid.UUID, n int) error

	// ListCardReminderDue returns verified accounts without a payment source,
	// created before olderThan, whose one-shot guard for the stage is unset.
	ListCardReminderDue(ctx context.Context, stage CardReminderStage, olderThan time.Time) ([]*model.Account, error)

	// MarkCardReminderSent sets the stage's one-shot guard, conditional on it
	// being unset. Returns errs.ErrGuardConflict otherwise.
	MarkCardReminderSent(ctx context.Context, id uuid.UUID, stage CardReminderStage, at time.Time) error

	// ListDeletionDue returns accounts whose deactivation grace period elapsed
	// before the cutoff.
	ListDeletionDue(ctx context.Context, deactivatedBefore time.Time) ([]*model.Account, error)

	// Delete hard-deletes an account.
	Delete(ctx context.Context, id uuid.UUID) error
}
