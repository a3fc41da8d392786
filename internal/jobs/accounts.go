package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/quillsign/quillsign/internal/billing"
	"github.com/quillsign/quillsign/internal/errs"
	"github.com/quillsign/quillsign/internal/model"
	"github.com/quillsign/quillsign/internal/notify"
	"github.com/quillsign/quillsign/internal/repository"
)

// Card-verification reminder stages: a nudge at roughly one hour and another
// at roughly one day after account creation.
var cardReminderStages = []struct {
	stage repository.CardReminderStage
	after time.Duration
}{
	{repository.CardReminder1h, time.Hour},
	{repository.CardReminder24h, 24 * time.Hour},
}

// CardVerificationReminder nudges verified accounts without a payment source
// on file. Each stage fires once, gated by a conditional one-shot guard so
// overlapping job runs cannot double-send.
type CardVerificationReminder struct {
	accounts repository.AccountRepository
	notifier notify.Notifier
	log      *zap.Logger
	now      func() time.Time
}

// NewCardVerificationReminder constructs the card reminder job.
func NewCardVerificationReminder(accounts repository.AccountRepository, notifier notify.Notifier, log *zap.Logger) *CardVerificationReminder {
	return &CardVerificationReminder{accounts: accounts, notifier: notifier, log: log, now: time.Now}
}

// Execute fires all due stages.
func (j *CardVerificationReminder) Execute(ctx context.Context) error {
	now := j.now().UTC()
	for _, st := range cardReminderStages {
		due, err := j.accounts.ListCardReminderDue(ctx, st.stage, now.Add(-st.after))
		if err != nil {
			return fmt.Errorf("list card reminder candidates (%s): %w", st.stage, err)
		}
		for _, a := range due {
			if err := j.remindOne(ctx, a, st.stage, now); err != nil {
				j.log.Error("card verification reminder failed",
					zap.String("account_id", a.ID.String()),
					zap.String("stage", string(st.stage)), zap.Error(err))
			}
		}
	}
	return nil
}

func (j *CardVerificationReminder) remindOne(ctx context.Context, a *model.Account, stage repository.CardReminderStage, now time.Time) error {
	if err := j.accounts.MarkCardReminderSent(ctx, a.ID, stage, now); err != nil {
		if errors.Is(err, errs.ErrGuardConflict) {
			return nil
		}
		return err
	}
	if err := j.notifier.SendCardVerificationReminder(ctx, a); err != nil {
		j.log.Warn("card verification notification failed",
			zap.String("account_id", a.ID.String()), zap.Error(err))
	}
	return nil
}

// SubscriptionExpiry sweeps stale subscription-history entries. No package
// interaction.
type SubscriptionExpiry struct {
	subs repository.SubscriptionRepository
	log  *zap.Logger
	now  func() time.Time
}

// NewSubscriptionExpiry constructs the subscription sweep job.
func NewSubscriptionExpiry(subs repository.SubscriptionRepository, log *zap.Logger) *SubscriptionExpiry {
	return &SubscriptionExpiry{subs: subs, log: log, now: time.Now}
}

// Execute expires history entries whose validity window passed.
func (j *SubscriptionExpiry) Execute(ctx context.Context) error {
	n, err := j.subs.ExpireStale(ctx, j.now().UTC())
	if err != nil {
		return fmt.Errorf("expire stale subscription history: %w", err)
	}
	if n > 0 {
		j.log.Info("expired subscription history entries", zap.Int64("count", n))
	}
	return nil
}

// AccountDeletion hard-deletes accounts whose deactivation grace period
// elapsed, cancelling any billing subscription first. A failed cancellation
// never blocks the deletion.
type AccountDeletion struct {
	accounts repository.AccountRepository
	billing  billing.Client
	log      *zap.Logger
	grace    time.Duration
	now      func() time.Time
}

// NewAccountDeletion constructs the deletion job with the given grace period.
func NewAccountDeletion(accounts repository.AccountRepository, bc billing.Client, grace time.Duration, log *zap.Logger) *AccountDeletion {
	if grace <= 0 {
		grace = 30 * 24 * time.Hour
	}
	return &AccountDeletion{accounts: accounts, billing: bc, log: log, grace: grace, now: time.Now}
}

// Execute deletes every account past its grace period.
func (j *AccountDeletion) Execute(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.grace)
	due, err := j.accounts.ListDeletionDue(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("list deletion candidates: %w", err)
	}
	for _, a := range due {
		if err := j.deleteOne(ctx, a); err != nil {
			j.log.Error("account deletion failed",
				zap.String("account_id", a.ID.String()), zap.Error(err))
		}
	}
	return nil
}

func (j *AccountDeletion) deleteOne(ctx context.Context, a *model.Account) error {
	if err := j.billing.CancelSubscription(ctx, a.ID); err != nil {
		j.log.Warn("billing cancellation failed, deleting anyway",
			zap.String("account_id", a.ID.String()), zap.Error(err))
	}
	return j.accounts.Delete(ctx, a.ID)
}
