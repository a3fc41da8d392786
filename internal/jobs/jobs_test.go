package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/quillsign/quillsign/internal/errs"
	"github.com/quillsign/quillsign/internal/model"
	"github.com/quillsign/quillsign/internal/repository"
)

// fakePkgRepo implements the slice of PackageRepository the jobs touch.
// The embedded interface panics on anything a job should never call.
type fakePkgRepo struct {
	repository.PackageRepository

	mu          sync.Mutex
	pkgs        map[uuid.UUID]*model.Package
	expireCalls int
}

func newFakePkgRepo(pkgs ...*model.Package) *fakePkgRepo {
	r := &fakePkgRepo{pkgs: make(map[uuid.UUID]*model.Package)}
	for _, p := range pkgs {
		cp := *p
		r.pkgs[p.ID] = &cp
	}
	return r
}

func (r *fakePkgRepo) get(id uuid.UUID) *model.Package {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *r.pkgs[id]
	return &cp
}

func (r *fakePkgRepo) ExpireIfPending(_ context.Context, id uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.expireCalls++
	p, ok := r.pkgs[id]
	if !ok {
		return false, errs.ErrNotFound
	}
	if !p.Status.Pending() {
		return false, nil
	}
	p.Status = model.StatusExpired
	return true, nil
}

func (r *fakePkgRepo) MarkExpiryReminderSent(_ context.Context, id uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pkgs[id]
	if !ok {
		return errs.ErrNotFound
	}
	if p.Options.ExpiryReminderSentAt != nil {
		return errs.ErrGuardConflict
	}
	p.Options.ExpiryReminderSentAt = &at
	return nil
}

func (r *fakePkgRepo) AppendAutomaticReminder(_ context.Context, id uuid.UUID, rec model.AutoReminderRecord, expectedLen int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pkgs[id]
	if !ok {
		return errs.ErrNotFound
	}
	if len(p.Options.AutomaticRemindersSent) != expectedLen {
		return errs.ErrGuardConflict
	}
	p.Options.AutomaticRemindersSent = append(p.Options.AutomaticRemindersSent, rec)
	return nil
}

func (r *fakePkgRepo) ListExpirable(_ context.Context, now time.Time) ([]*model.Package, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Package
	for _, p := range r.pkgs {
		if p.Status.Pending() && p.Expired(now) {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakePkgRepo) ListExpiryReminderDue(_ context.Context, now time.Time) ([]*model.Package, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Package
	for _, p := range r.pkgs {
		if p.Status != model.StatusSent || !p.Options.SendExpirationReminders {
			continue
		}
		if p.Options.ReminderPeriod == "" || p.Options.ExpiresAt == nil || !p.Options.ExpiresAt.After(now) {
			continue
		}
		if p.Options.ExpiryReminderSentAt != nil {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}

func (r *fakePkgRepo) ListAutomaticReminderDue(_ context.Context) ([]*model.Package, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Package
	for _, p := range r.pkgs {
		if p.Status == model.StatusSent && p.Options.SendAutomaticReminders && p.Options.FirstReminderDays > 0 {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

// fakeAccountRepo covers the account housekeeping jobs.
type fakeAccountRepo struct {
	repository.AccountRepository

	mu       sync.Mutex
	accounts map[uuid.UUID]*model.Account
}

func newFakeAccountRepo(accounts ...*model.Account) *fakeAccountRepo {
	r := &fakeAccountRepo{accounts: make(map[uuid.UUID]*model.Account)}
	for _, a := range accounts {
		cp := *a
		r.accounts[a.ID] = &cp
	}
	return r
}

func (r *fakeAccountRepo) get(id uuid.UUID) *model.Account {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[id]
	if !ok {
		return nil
	}
	cp := *a
	return &cp
}

func (r *fakeAccountRepo) guard(a *model.Account, stage repository.CardReminderStage) *time.Time {
	if stage == repository.CardReminder1h {
		return a.CardReminder1hSentAt
	}
	return a.CardReminder24hSentAt
}

func (r *fakeAccountRepo) ListCardReminderDue(_ context.Context, stage repository.CardReminderStage, olderThan time.Time) ([]*model.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Account
	for _, a := range r.accounts {
		if !a.Verified || a.HasPaymentSource || a.DeactivatedAt != nil {
			continue
		}
		if a.CreatedAt.After(olderThan) || r.guard(a, stage) != nil {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	return out, nil
}

func (r *fakeAccountRepo) MarkCardReminderSent(_ context.Context, id uuid.UUID, stage repository.CardReminderStage, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[id]
	if !ok {
		return errs.ErrNotFound
	}
	if r.guard(a, stage) != nil {
		return errs.ErrGuardConflict
	}
	if stage == repository.CardReminder1h {
		a.CardReminder1hSentAt = &at
	} else {
		a.CardReminder24hSentAt = &at
	}
	return nil
}

func (r *fakeAccountRepo) ListDeletionDue(_ context.Context, deactivatedBefore time.Time) ([]*model.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Account
	for _, a := range r.accounts {
		if a.DeactivatedAt != nil && !a.DeactivatedAt.After(deactivatedBefore) {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeAccountRepo) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.accounts, id)
	return nil
}

// fakeSubsRepo counts sweep invocations.
type fakeSubsRepo struct {
	mu      sync.Mutex
	expired int64
	calls   int
}

var _ repository.SubscriptionRepository = (*fakeSubsRepo)(nil)

func (r *fakeSubsRepo) ExpireStale(context.Context, time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return r.expired, nil
}

// fakeBilling records cancellations and optionally fails them.
type fakeBilling struct {
	mu        sync.Mutex
	cancelled []uuid.UUID
	err       error
}

func (b *fakeBilling) CancelSubscription(_ context.Context, accountID uuid.UUID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cancelled = append(b.cancelled, accountID)
	return b.err
}

// sentNote is one recorded notification.
type sentNote struct {
	kind  string
	email string
}

// captureNotifier records every notification.
type captureNotifier struct {
	mu   sync.Mutex
	sent []sentNote
}

func (n *captureNotifier) record(kind, email string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentNote{kind: kind, email: email})
	return nil
}

func (n *captureNotifier) count(kind string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, s := range n.sent {
		if s.kind == kind {
			c++
		}
	}
	return c
}

func (n *captureNotifier) recipients(kind string) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, s := range n.sent {
		if s.kind == kind {
			out = append(out, s.email)
		}
	}
	return out
}

func (n *captureNotifier) SendActionRequired(_ context.Context, r model.ContactRef, _ *model.Package, _, _, _ string) error {
	return n.record("action_required", r.Email)
}
func (n *captureNotifier) SendReceiverNotification(_ context.Context, r model.ContactRef, _ *model.Package, _ string) error {
	return n.record("receiver", r.Email)
}
func (n *captureNotifier) SendDocumentCompleted(_ context.Context, r model.ContactRef, _ *model.Package) error {
	return n.record("completed", r.Email)
}
func (n *captureNotifier) SendRejectionNotification(_ context.Context, r model.ContactRef, _ *model.Package, _ model.ContactRef, _ string) error {
	return n.record("rejected", r.Email)
}
func (n *captureNotifier) SendReassignmentNotification(_ context.Context, r model.ContactRef, _ *model.Package, _ model.ContactRef, _ string) error {
	return n.record("reassign_target", r.Email)
}
func (n *captureNotifier) SendReassignmentConfirmation(_ context.Context, r model.ContactRef, _ *model.Package, _ model.ContactRef) error {
	return n.record("reassign_confirm", r.Email)
}
func (n *captureNotifier) SendReassignmentOwnerNotification(_ context.Context, r model.ContactRef, _ *model.Package, _, _ model.ContactRef, _ string) error {
	return n.record("reassign_owner", r.Email)
}
func (n *captureNotifier) SendDocumentExpiredNotification(_ context.Context, r model.ContactRef, _, _ string, _ time.Time) error {
	return n.record("expired", r.Email)
}
func (n *captureNotifier) SendExpiryReminderNotification(_ context.Context, r model.ContactRef, _, _, _ string, _ time.Time) error {
	return n.record("expiry_reminder", r.Email)
}
func (n *captureNotifier) SendManualReminderNotification(_ context.Context, r model.ContactRef, _ *model.Package, _, _ string) error {
	return n.record("manual_reminder", r.Email)
}
func (n *captureNotifier) SendNewReceiverNotification(_ context.Context, r model.ContactRef, _ *model.Package, _ model.ContactRef) error {
	return n.record("new_receiver", r.Email)
}
func (n *captureNotifier) SendNewReceiverOwnerNotification(_ context.Context, r model.ContactRef, _ *model.Package, _, _ model.ContactRef) error {
	return n.record("new_receiver_owner", r.Email)
}
func (n *captureNotifier) SendDocumentRevokedNotification(_ context.Context, r model.ContactRef, _ *model.Package, _ string) error {
	return n.record("revoked", r.Email)
}
func (n *captureNotifier) SendProgressUpdate(_ context.Context, r model.ContactRef, _ *model.Package, _, _ []string) error {
	return n.record("progress", r.Email)
}
func (n *captureNotifier) SendCardVerificationReminder(_ context.Context, a *model.Account) error {
	return n.record("card_reminder", a.Email)
}

// countingEmitter counts realtime broadcasts.
type countingEmitter struct {
	mu     sync.Mutex
	events int
}

func (e *countingEmitter) EmitPackageUpdate(context.Context, *model.Package) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events++
	return nil
}

func (e *countingEmitter) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.events
}

func newID() uuid.UUID { return uuid.Must(uuid.NewV4()) }

// sentPackage builds a sent single-signer package.
func sentPackage(now time.Time, signerEmail string) *model.Package {
	sentAt := now.Add(-time.Hour)
	return &model.Package{
		ID:         newID(),
		OwnerID:    newID(),
		OwnerEmail: "owner@example.com",
		OwnerName:  "Owner",
		Name:       "Lease Agreement",
		Status:     model.StatusSent,
		Fields: []model.Field{{
			ID:   newID(),
			Type: model.FieldSignature,
			Page: 1,
			AssignedUsers: []model.AssignedUser{{
				ContactID: newID(),
				Email:     signerEmail,
				Name:      "Signer",
				Role:      model.RoleSigner,
				Methods:   []model.SignatureMethod{model.MethodEmailOTP},
			}},
		}},
		SentAt:    &sentAt,
		CreatedAt: sentAt.Add(-time.Hour),
		UpdatedAt: sentAt,
	}
}
