// Package notify defines the outbound notification gateway consumed by the
// lifecycle service and the scheduled jobs. The real implementation is the
// email/templating system, which lives outside this module.
package notify

import (
	"context"
	"time"

	"github.com/quillsign/quillsign/internal/model"
)

// Notifier sends typed notifications to package participants. Every call is
// fire-and-forget relative to the state transition that triggered it: callers
// log failures and never roll back or block on them.
type Notifier interface {
	// SendActionRequired tells a participant they have outstanding fields.
	SendActionRequired(ctx context.Context, recipient model.ContactRef, pkg *model.Package, senderName, actionURL, customMessage string) error

	// SendReceiverNotification tells a receiver a package was sent to them read-only.
	SendReceiverNotification(ctx context.Context, recipient model.ContactRef, pkg *model.Package, senderName string) error

	// SendDocumentCompleted tells a participant all signatures arrived.
	SendDocumentCompleted(ctx context.Context, recipient model.ContactRef, pkg *model.Package) error

	// SendRejectionNotification carries the rejector identity and reason.
	SendRejectionNotification(ctx context.Context, recipient model.ContactRef, pkg *model.Package, rejectedBy model.ContactRef, reason string) error

	// SendReassignmentNotification is the action-required mail to the new assignee.
	SendReassignmentNotification(ctx context.Context, recipient model.ContactRef, pkg *model.Package, from model.ContactRef, actionURL string) error

	// SendReassignmentConfirmation confirms the handover to the original participant.
	SendReassignmentConfirmation(ctx context.Context, recipient model.ContactRef, pkg *model.Package, to model.ContactRef) error

	// SendReassignmentOwnerNotification is the audit notice to the owner.
	SendReassignmentOwnerNotification(ctx context.Context, recipient model.ContactRef, pkg *model.Package, from, to model.ContactRef, reason string) error

	// SendDocumentExpiredNotification tells a participant the package expired.
	SendDocumentExpiredNotification(ctx context.Context, recipient model.ContactRef, ownerName, packageName string, expiresAt time.Time) error

	// SendExpiryReminderNotification warns a participant ahead of expiry with a
	// human-readable time remaining.
	SendExpiryReminderNotification(ctx context.Context, recipient model.ContactRef, ownerName, packageName, timeUntilExpiry string, expiresAt time.Time) error

	// SendManualReminderNotification is an owner-triggered nudge.
	SendManualReminderNotification(ctx context.Context, recipient model.ContactRef, pkg *model.Package, senderName, message string) error

	// SendNewReceiverNotification tells a newly added receiver about the package.
	SendNewReceiverNotification(ctx context.Context, recipient model.ContactRef, pkg *model.Package, addedBy model.ContactRef) error

	// SendNewReceiverOwnerNotification is the audit notice to the owner.
	SendNewReceiverOwnerNotification(ctx context.Context, recipient model.ContactRef, pkg *model.Package, addedBy, newReceiver model.ContactRef) error

	// SendDocumentRevokedNotification tells a participant the owner revoked.
	SendDocumentRevokedNotification(ctx context.Context, recipient model.ContactRef, pkg *model.Package, reason string) error

	// SendProgressUpdate tells the owner which participants completed and
	// which are still pending after a submission.
	SendProgressUpdate(ctx context.Context, recipient model.ContactRef, pkg *model.Package, completed, pending []string) error

	// SendCardVerificationReminder nudges a verified account without a payment
	// source on file.
	SendCardVerificationReminder(ctx context.Context, account *model.Account) error
}
