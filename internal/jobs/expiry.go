// Package jobs contains the periodic jobs driving time-based package
// lifecycle transitions and account housekeeping. Each job processes its
// batch one document at a time: a failed document is logged and skipped,
// never aborting the rest of the batch.
package jobs

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/quillsign/quillsign/internal/model"
	"github.com/quillsign/quillsign/internal/notify"
	"github.com/quillsign/quillsign/internal/realtime"
	"github.com/quillsign/quillsign/internal/repository"
)

// Job names as registered with the scheduler.
const (
	NamePackageExpiry     = "package-expiry"
	NameExpiryReminder    = "expiry-reminder"
	NameAutomaticReminder = "automatic-reminder"
	NameCardReminder      = "card-verification-reminder"
	NameSubscriptionSweep = "subscription-expiry"
	NameAccountDeletion   = "account-deletion"
)

// Expiry transitions packages past their expiry instant to expired and fans
// out notifications. The transition is a conditional write shared with the
// inline expiry check on the read path, so a race produces exactly one
// expiration and one notification batch.
type Expiry struct {
	packages repository.PackageRepository
	notifier notify.Notifier
	emitter  realtime.Emitter
	log      *zap.Logger
	now      func() time.Time
}

// NewExpiry constructs the expiry job.
func NewExpiry(packages repository.PackageRepository, notifier notify.Notifier, emitter realtime.Emitter, log *zap.Logger) *Expiry {
	return &Expiry{packages: packages, notifier: notifier, emitter: emitter, log: log, now: time.Now}
}

// Execute expires every eligible package. Re-running against an already
// expired package is a no-op: the query predicate excludes terminal statuses
// and the conditional write loses gracefully.
func (j *Expiry) Execute(ctx context.Context) error {
	now := j.now().UTC()
	pkgs, err := j.packages.ListExpirable(ctx, now)
	if err != nil {
		return fmt.Errorf("list expirable packages: %w", err)
	}
	for _, p := range pkgs {
		if err := j.expireOne(ctx, p); err != nil {
			j.log.Error("expire package failed",
				zap.String("package_id", p.ID.String()), zap.Error(err))
		}
	}
	return nil
}

func (j *Expiry) expireOne(ctx context.Context, p *model.Package) error {
	won, err := j.packages.ExpireIfPending(ctx, p.ID)
	if err != nil {
		return err
	}
	if !won {
		// another writer (prior run or inline check) already expired it
		return nil
	}
	p.Status = model.StatusExpired

	// Side effects are best-effort and never roll back the transition.
	var expiresAt time.Time
	if p.Options.ExpiresAt != nil {
		expiresAt = *p.Options.ExpiresAt
	}
	for _, c := range p.Participants() {
		if err := j.notifier.SendDocumentExpiredNotification(ctx, c, p.OwnerName, p.Name, expiresAt); err != nil {
			j.log.Warn("expiry notification failed",
				zap.String("package_id", p.ID.String()),
				zap.String("recipient", c.Email), zap.Error(err))
		}
	}
	if err := j.emitter.EmitPackageUpdate(ctx, p); err != nil {
		j.log.Warn("realtime emit failed", zap.String("package_id", p.ID.String()), zap.Error(err))
	}
	return nil
}
