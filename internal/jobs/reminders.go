package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/quillsign/quillsign/internal/errs"
	"github.com/quillsign/quillsign/internal/model"
	"github.com/quillsign/quillsign/internal/notify"
	"github.com/quillsign/quillsign/internal/repository"
)

// BatchReminderTolerance is the window around the configured lead time within
// which the scheduled expiry reminder fires. A historical on-read recompute
// used a tighter 15m window; only the batch value survives.
const BatchReminderTolerance = 30 * time.Minute

// ExpiryReminder fires the one-shot pre-expiry reminder for sent packages
// whose remaining time falls within the configured period's tolerance window.
type ExpiryReminder struct {
	packages repository.PackageRepository
	notifier notify.Notifier
	log      *zap.Logger
	now      func() time.Time
}

// NewExpiryReminder constructs the expiry reminder job.
func NewExpiryReminder(packages repository.PackageRepository, notifier notify.Notifier, log *zap.Logger) *ExpiryReminder {
	return &ExpiryReminder{packages: packages, notifier: notifier, log: log, now: time.Now}
}

// Execute scans eligible packages and fires at most one reminder each.
// The one-shot guard is set before any mail goes out, via a conditional
// write, so two overlapping runs cannot both send.
func (j *ExpiryReminder) Execute(ctx context.Context) error {
	now := j.now().UTC()
	pkgs, err := j.packages.ListExpiryReminderDue(ctx, now)
	if err != nil {
		return fmt.Errorf("list expiry reminder candidates: %w", err)
	}
	for _, p := range pkgs {
		if err := j.remindOne(ctx, p, now); err != nil {
			j.log.Error("expiry reminder failed",
				zap.String("package_id", p.ID.String()), zap.Error(err))
		}
	}
	return nil
}

func (j *ExpiryReminder) remindOne(ctx context.Context, p *model.Package, now time.Time) error {
	period, ok := p.Options.ReminderPeriod.Duration()
	if !ok || p.Options.ExpiresAt == nil {
		return nil
	}
	remaining := p.Options.ExpiresAt.Sub(now)
	if !withinWindow(remaining, period, BatchReminderTolerance) {
		return nil
	}

	if err := j.packages.MarkExpiryReminderSent(ctx, p.ID, now); err != nil {
		if errors.Is(err, errs.ErrGuardConflict) {
			// a concurrent run already claimed this reminder
			return nil
		}
		return err
	}

	remainingText := HumanDuration(remaining)
	for _, c := range nonOwnerParticipants(p) {
		if err := j.notifier.SendExpiryReminderNotification(ctx, c, p.OwnerName, p.Name, remainingText, *p.Options.ExpiresAt); err != nil {
			j.log.Warn("expiry reminder notification failed",
				zap.String("package_id", p.ID.String()),
				zap.String("recipient", c.Email), zap.Error(err))
		}
	}
	return nil
}

// withinWindow reports whether remaining falls in (period-tol, period+tol].
func withinWindow(remaining, period, tol time.Duration) bool {
	return remaining > period-tol && remaining <= period+tol
}

// AutoReminderToleranceDays is the slack subtracted from the configured
// cadence before an automatic reminder fires (six hours expressed in days).
const AutoReminderToleranceDays = 0.25

// AutomaticReminder fires recurring post-send reminders to participants with
// unsigned fields, anchored on sentAt and recorded in an append-only history.
type AutomaticReminder struct {
	packages repository.PackageRepository
	notifier notify.Notifier
	log      *zap.Logger
	now      func() time.Time
}

// NewAutomaticReminder constructs the automatic reminder job.
func NewAutomaticReminder(packages repository.PackageRepository, notifier notify.Notifier, log *zap.Logger) *AutomaticReminder {
	return &AutomaticReminder{packages: packages, notifier: notifier, log: log, now: time.Now}
}

// Execute fires due reminders. The history append is conditional on the
// current history length, so overlapping runs cannot both record the same
// reminder.
func (j *AutomaticReminder) Execute(ctx context.Context) error {
	pkgs, err := j.packages.ListAutomaticReminderDue(ctx)
	if err != nil {
		return fmt.Errorf("list automatic reminder candidates: %w", err)
	}
	now := j.now().UTC()
	for _, p := range pkgs {
		if err := j.remindOne(ctx, p, now); err != nil {
			j.log.Error("automatic reminder failed",
				zap.String("package_id", p.ID.String()), zap.Error(err))
		}
	}
	return nil
}

func (j *AutomaticReminder) remindOne(ctx context.Context, p *model.Package, now time.Time) error {
	if !autoReminderDue(p, now) {
		return nil
	}
	recipients := unsignedNonOwner(p)
	if len(recipients) == 0 {
		return nil
	}

	sent := p.Options.AutomaticRemindersSent
	rec := model.AutoReminderRecord{SentAt: now, RecipientCount: len(recipients)}
	if err := j.packages.AppendAutomaticReminder(ctx, p.ID, rec, len(sent)); err != nil {
		if errors.Is(err, errs.ErrGuardConflict) {
			return nil
		}
		return err
	}

	for _, c := range recipients {
		if err := j.notifier.SendManualReminderNotification(ctx, c, p, p.OwnerName, ""); err != nil {
			j.log.Warn("automatic reminder notification failed",
				zap.String("package_id", p.ID.String()),
				zap.String("recipient", c.Email), zap.Error(err))
		}
	}
	return nil
}

// autoReminderDue applies the cadence: first reminder firstReminderDays after
// the anchor, repeats every repeatReminderDays, each with a quarter-day slack.
func autoReminderDue(p *model.Package, now time.Time) bool {
	sent := p.Options.AutomaticRemindersSent
	if len(sent) == 0 {
		days := daysBetween(p.ReminderAnchor(), now)
		return days >= float64(p.Options.FirstReminderDays)-AutoReminderToleranceDays
	}
	if p.Options.RepeatReminderDays <= 0 {
		return false
	}
	days := daysBetween(sent[len(sent)-1].SentAt, now)
	return days >= float64(p.Options.RepeatReminderDays)-AutoReminderToleranceDays
}

func daysBetween(from, to time.Time) float64 {
	return to.Sub(from).Hours() / 24
}

// nonOwnerParticipants returns assigned contacts and receivers, deduplicated
// by email, excluding the owner.
func nonOwnerParticipants(p *model.Package) []model.ContactRef {
	var out []model.ContactRef
	for _, c := range p.Participants() {
		if c.Email == p.OwnerEmail {
			continue
		}
		out = append(out, c)
	}
	return out
}

// unsignedNonOwner returns contacts with unsigned assignments, owner excluded.
func unsignedNonOwner(p *model.Package) []model.ContactRef {
	var out []model.ContactRef
	for _, c := range p.UnsignedContacts() {
		if c.Email == p.OwnerEmail {
			continue
		}
		out = append(out, c)
	}
	return out
}

// HumanDuration renders a duration as the largest round unit: "2 days",
// "3 hours", "45 minutes".
func HumanDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	switch {
	case d >= 48*time.Hour:
		return fmt.Sprintf("%d days", int(d.Hours()/24))
	case d >= 24*time.Hour:
		return "1 day"
	case d >= 2*time.Hour:
		return fmt.Sprintf("%d hours", int(d.Hours()))
	case d >= time.Hour:
		return "1 hour"
	case d >= 2*time.Minute:
		return fmt.Sprintf("%d minutes", int(d.Minutes()))
	default:
		return "1 minute"
	}
}
