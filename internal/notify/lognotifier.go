package notify

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/quillsign/quillsign/internal/model"
)

// LogNotifier writes notifications to the log instead of sending mail.
// Used in development wiring and as a safe default.
type LogNotifier struct{ log *zap.Logger }

// NewLogNotifier constructs a log-backed notifier.
func NewLogNotifier(log *zap.Logger) *LogNotifier { return &LogNotifier{log: log} }

var _ Notifier = (*LogNotifier)(nil)

func (n *LogNotifier) send(kind string, recipient string, fields ...zap.Field) error {
	n.log.Info("notification",
		append([]zap.Field{zap.String("kind", kind), zap.String("recipient", recipient)}, fields...)...)
	return nil
}

func (n *LogNotifier) SendActionRequired(_ context.Context, r model.ContactRef, p *model.Package, sender, url, msg string) error {
	return n.send("action_required", r.Email, zap.String("package", p.Name), zap.String("sender", sender), zap.String("url", url), zap.String("message", msg))
}

func (n *LogNotifier) SendReceiverNotification(_ context.Context, r model.ContactRef, p *model.Package, sender string) error {
	return n.send("receiver", r.Email, zap.String("package", p.Name), zap.String("sender", sender))
}

func (n *LogNotifier) SendDocumentCompleted(_ context.Context, r model.ContactRef, p *model.Package) error {
	return n.send("completed", r.Email, zap.String("package", p.Name))
}

func (n *LogNotifier) SendRejectionNotification(_ context.Context, r model.ContactRef, p *model.Package, by model.ContactRef, reason string) error {
	return n.send("rejected", r.Email, zap.String("package", p.Name), zap.String("by", by.Email), zap.String("reason", reason))
}

func (n *LogNotifier) SendReassignmentNotification(_ context.Context, r model.ContactRef, p *model.Package, from model.ContactRef, url string) error {
	return n.send("reassignment", r.Email, zap.String("package", p.Name), zap.String("from", from.Email), zap.String("url", url))
}

func (n *LogNotifier) SendReassignmentConfirmation(_ context.Context, r model.ContactRef, p *model.Package, to model.ContactRef) error {
	return n.send("reassignment_confirmation", r.Email, zap.String("package", p.Name), zap.String("to", to.Email))
}

func (n *LogNotifier) SendReassignmentOwnerNotification(_ context.Context, r model.ContactRef, p *model.Package, from, to model.ContactRef, reason string) error {
	return n.send("reassignment_owner", r.Email, zap.String("package", p.Name), zap.String("from", from.Email), zap.String("to", to.Email), zap.String("reason", reason))
}

func (n *LogNotifier) SendDocumentExpiredNotification(_ context.Context, r model.ContactRef, owner, name string, expiresAt time.Time) error {
	return n.send("expired", r.Email, zap.String("package", name), zap.String("owner", owner), zap.Time("expiresAt", expiresAt))
}

func (n *LogNotifier) SendExpiryReminderNotification(_ context.Context, r model.ContactRef, owner, name, remaining string, expiresAt time.Time) error {
	return n.send("expiry_reminder", r.Email, zap.String("package", name), zap.String("owner", owner), zap.String("remaining", remaining), zap.Time("expiresAt", expiresAt))
}

func (n *LogNotifier) SendManualReminderNotification(_ context.Context, r model.ContactRef, p *model.Package, sender, msg string) error {
	return n.send("manual_reminder", r.Email, zap.String("package", p.Name), zap.String("sender", sender), zap.String("message", msg))
}

func (n *LogNotifier) SendNewReceiverNotification(_ context.Context, r model.ContactRef, p *model.Package, by model.ContactRef) error {
	return n.send("new_receiver", r.Email, zap.String("package", p.Name), zap.String("by", by.Email))
}

func (n *LogNotifier) SendNewReceiverOwnerNotification(_ context.Context, r model.ContactRef, p *model.Package, by, recv model.ContactRef) error {
	return n.send("new_receiver_owner", r.Email, zap.String("package", p.Name), zap.String("by", by.Email), zap.String("receiver", recv.Email))
}

func (n *LogNotifier) SendDocumentRevokedNotification(_ context.Context, r model.ContactRef, p *model.Package, reason string) error {
	return n.send("revoked", r.Email, zap.String("package", p.Name), zap.String("reason", reason))
}

func (n *LogNotifier) SendProgressUpdate(_ context.Context, r model.ContactRef, p *model.Package, completed, pending []string) error {
	return n.send("progress", r.Email, zap.String("package", p.Name), zap.Strings("completed", completed), zap.Strings("pending", pending))
}

func (n *LogNotifier) SendCardVerificationReminder(_ context.Context, a *model.Account) error {
	return n.send("card_verification_reminder", a.Email)
}
