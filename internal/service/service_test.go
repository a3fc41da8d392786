package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/quillsign/quillsign/internal/errs"
	"github.com/quillsign/quillsign/internal/limiter"
	"github.com/quillsign/quillsign/internal/model"
	"github.com/quillsign/quillsign/internal/realtime"
	"github.com/quillsign/quillsign/internal/repository"
)

// fakePackageRepo is an in-memory PackageRepository. Guarded transitions
// enforce the same status and base-marker predicates as the SQL statements,
// and documents cross the boundary as deep copies, like fresh JSONB scans.
type fakePackageRepo struct {
	mu   sync.Mutex
	pkgs map[uuid.UUID]*model.Package

	expireCalls int

	// beforeApply runs once, lock-free, at the next ApplySubmission call.
	// Tests use it to commit a competing write between a caller's read and
	// its conditional write.
	beforeApply func()
}

var _ repository.PackageRepository = (*fakePackageRepo)(nil)

func newFakePackageRepo() *fakePackageRepo {
	return &fakePackageRepo{pkgs: make(map[uuid.UUID]*model.Package)}
}

// clonePackage detaches the slices a caller could mutate through, so the
// stored document only changes via repository writes.
func clonePackage(p *model.Package) *model.Package {
	cp := *p
	cp.Fields = cloneFields(p.Fields)
	cp.Receivers = append([]model.ContactRef(nil), p.Receivers...)
	cp.ReassignmentHistory = append([]model.ReassignmentRecord(nil), p.ReassignmentHistory...)
	cp.ReceiverHistory = append([]model.ReceiverRecord(nil), p.ReceiverHistory...)
	cp.Options.AutomaticRemindersSent = append([]model.AutoReminderRecord(nil), p.Options.AutomaticRemindersSent...)
	return &cp
}

func cloneFields(fields []model.Field) []model.Field {
	out := append([]model.Field(nil), fields...)
	for i := range out {
		out[i].AssignedUsers = append([]model.AssignedUser(nil), fields[i].AssignedUsers...)
	}
	return out
}

// touch advances the optimistic marker the way updated_at=now() does.
func touch(p *model.Package) { p.UpdatedAt = p.UpdatedAt.Add(time.Millisecond) }

func (r *fakePackageRepo) put(p *model.Package) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pkgs[p.ID] = clonePackage(p)
}

func (r *fakePackageRepo) Create(_ context.Context, p *model.Package) error {
	r.put(p)
	return nil
}

func (r *fakePackageRepo) Get(_ context.Context, id uuid.UUID) (*model.Package, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pkgs[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return clonePackage(p), nil
}

func (r *fakePackageRepo) UpdateDraft(_ context.Context, p *model.Package) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.pkgs[p.ID]
	if !ok {
		return errs.ErrNotFound
	}
	if cur.Status != model.StatusDraft {
		return errs.ErrStateConflict
	}
	cp := clonePackage(p)
	touch(cp)
	r.pkgs[p.ID] = cp
	return nil
}

func (r *fakePackageRepo) DeleteDraft(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pkgs[id]
	if !ok {
		return errs.ErrNotFound
	}
	if p.Status != model.StatusDraft {
		return errs.ErrStateConflict
	}
	delete(r.pkgs, id)
	return nil
}

func (r *fakePackageRepo) MarkSent(_ context.Context, id uuid.UUID, sentAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pkgs[id]
	if !ok {
		return errs.ErrNotFound
	}
	if p.Status != model.StatusDraft {
		return errs.ErrStateConflict
	}
	p.Status = model.StatusSent
	p.SentAt = &sentAt
	touch(p)
	return nil
}

func (r *fakePackageRepo) ApplySubmission(_ context.Context, id uuid.UUID, fields []model.Field, completed bool, base time.Time) error {
	if h := r.beforeApply; h != nil {
		r.beforeApply = nil
		h()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pkgs[id]
	if !ok {
		return errs.ErrNotFound
	}
	if p.Status != model.StatusSent || !p.UpdatedAt.Equal(base) {
		return errs.ErrStateConflict
	}
	p.Fields = cloneFields(fields)
	if completed {
		p.Status = model.StatusCompleted
	}
	touch(p)
	return nil
}

func (r *fakePackageRepo) SetRejected(_ context.Context, id uuid.UUID, det model.RejectionDetails) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pkgs[id]
	if !ok {
		return errs.ErrNotFound
	}
	if p.Status != model.StatusSent || p.Rejection != nil {
		return errs.ErrStateConflict
	}
	p.Status = model.StatusRejected
	p.Rejection = &det
	touch(p)
	return nil
}

func (r *fakePackageRepo) SetRevoked(_ context.Context, id uuid.UUID, det model.RevocationDetails) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pkgs[id]
	if !ok {
		return errs.ErrNotFound
	}
	if p.Status != model.StatusSent || p.Revocation != nil {
		return errs.ErrStateConflict
	}
	p.Status = model.StatusRevoked
	p.Revocation = &det
	touch(p)
	return nil
}

func (r *fakePackageRepo) ApplyReassignment(_ context.Context, id uuid.UUID, fields []model.Field, rec model.ReassignmentRecord, base time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pkgs[id]
	if !ok {
		return errs.ErrNotFound
	}
	if p.Status != model.StatusSent || !p.UpdatedAt.Equal(base) {
		return errs.ErrStateConflict
	}
	p.Fields = cloneFields(fields)
	p.ReassignmentHistory = append(p.ReassignmentHistory, rec)
	touch(p)
	return nil
}

func (r *fakePackageRepo) AddReceiver(_ context.Context, id uuid.UUID, recv model.ContactRef, rec model.ReceiverRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pkgs[id]
	if !ok {
		return errs.ErrNotFound
	}
	if p.Status != model.StatusSent {
		return errs.ErrStateConflict
	}
	p.Receivers = append(p.Receivers, recv)
	p.ReceiverHistory = append(p.ReceiverHistory, rec)
	touch(p)
	return nil
}

func (r *fakePackageRepo) ExpireIfPending(_ context.Context, id uuid.UUID) (bool, error) {
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
	touch(p)
	return true, nil
}

func (r *fakePackageRepo) MarkExpiryReminderSent(_ context.Context, id uuid.UUID, at time.Time) error {
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

func (r *fakePackageRepo) AppendAutomaticReminder(_ context.Context, id uuid.UUID, rec model.AutoReminderRecord, expectedLen int) error {
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

func (r *fakePackageRepo) ListExpirable(_ context.Context, now time.Time) ([]*model.Package, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Package
	for _, p := range r.pkgs {
		if p.Status.Pending() && p.Expired(now) {
			out = append(out, clonePackage(p))
		}
	}
	return out, nil
}

func (r *fakePackageRepo) ListExpiryReminderDue(_ context.Context, now time.Time) ([]*model.Package, error) {
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
		out = append(out, clonePackage(p))
	}
	return out, nil
}

func (r *fakePackageRepo) ListAutomaticReminderDue(_ context.Context) ([]*model.Package, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Package
	for _, p := range r.pkgs {
		if p.Status == model.StatusSent && p.Options.SendAutomaticReminders && p.Options.FirstReminderDays > 0 {
			out = append(out, clonePackage(p))
		}
	}
	return out, nil
}

// fakeAccountRepo is an in-memory AccountRepository.
type fakeAccountRepo struct {
	mu       sync.Mutex
	accounts map[uuid.UUID]*model.Account
}

var _ repository.AccountRepository = (*fakeAccountRepo)(nil)

func newFakeAccountRepo() *fakeAccountRepo {
	return &fakeAccountRepo{accounts: make(map[uuid.UUID]*model.Account)}
}

func (r *fakeAccountRepo) put(a *model.Account) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *a
	r.accounts[a.ID] = &cp
}

func (r *fakeAccountRepo) Get(_ context.Context, id uuid.UUID) (*model.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *fakeAccountRepo) Create(_ context.Context, a *model.Account) error {
	r.put(a)
	return nil
}

func (r *fakeAccountRepo) ChargeCredits(_ context.Context, id uuid.UUID, n int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[id]
	if !ok {
		return errs.ErrNotFound
	}
	if a.DocumentCredits == model.UnlimitedCredits {
		return nil
	}
	if a.DocumentCredits < n {
		return errs.ErrInsufficientCredits
	}
	a.DocumentCredits -= n
	return nil
}

func (r *fakeAccountRepo) ListCardReminderDue(context.Context, repository.CardReminderStage, time.Time) ([]*model.Account, error) {
	return nil, nil
}

func (r *fakeAccountRepo) MarkCardReminderSent(context.Context, uuid.UUID, repository.CardReminderStage, time.Time) error {
	return nil
}

func (r *fakeAccountRepo) ListDeletionDue(context.Context, time.Time) ([]*model.Account, error) {
	return nil, nil
}

func (r *fakeAccountRepo) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.accounts, id)
	return nil
}

// fakeContactRepo is an in-memory ContactRepository keyed by email.
type fakeContactRepo struct {
	mu       sync.Mutex
	contacts map[string]*model.Contact
	created  int
}

var _ repository.ContactRepository = (*fakeContactRepo)(nil)

func newFakeContactRepo() *fakeContactRepo {
	return &fakeContactRepo{contacts: make(map[string]*model.Contact)}
}

func (r *fakeContactRepo) GetByEmail(_ context.Context, email string) (*model.Contact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.contacts[email]
	if !ok {
		return nil, errs.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *fakeContactRepo) Create(_ context.Context, c *model.Contact) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *c
	r.contacts[c.Email] = &cp
	r.created++
	return nil
}

// sentNote records one notifier call: the kind and who received it.
type sentNote struct {
	kind  string
	email string
}

// recordingNotifier captures every notification for assertion.
type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentNote
	fail map[string]error // kind -> forced error
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{fail: make(map[string]error)}
}

func (n *recordingNotifier) record(kind, email string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentNote{kind: kind, email: email})
	if err, ok := n.fail[kind]; ok {
		return err
	}
	return nil
}

func (n *recordingNotifier) count(kind string) int {
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

func (n *recordingNotifier) recipients(kind string) []string {
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

func (n *recordingNotifier) SendActionRequired(_ context.Context, r model.ContactRef, _ *model.Package, _, _, _ string) error {
	return n.record("action_required", r.Email)
}
func (n *recordingNotifier) SendReceiverNotification(_ context.Context, r model.ContactRef, _ *model.Package, _ string) error {
	return n.record("receiver", r.Email)
}
func (n *recordingNotifier) SendDocumentCompleted(_ context.Context, r model.ContactRef, _ *model.Package) error {
	return n.record("completed", r.Email)
}
func (n *recordingNotifier) SendRejectionNotification(_ context.Context, r model.ContactRef, _ *model.Package, _ model.ContactRef, _ string) error {
	return n.record("rejected", r.Email)
}
func (n *recordingNotifier) SendReassignmentNotification(_ context.Context, r model.ContactRef, _ *model.Package, _ model.ContactRef, _ string) error {
	return n.record("reassign_target", r.Email)
}
func (n *recordingNotifier) SendReassignmentConfirmation(_ context.Context, r model.ContactRef, _ *model.Package, _ model.ContactRef) error {
	return n.record("reassign_confirm", r.Email)
}
func (n *recordingNotifier) SendReassignmentOwnerNotification(_ context.Context, r model.ContactRef, _ *model.Package, _, _ model.ContactRef, _ string) error {
	return n.record("reassign_owner", r.Email)
}
func (n *recordingNotifier) SendDocumentExpiredNotification(_ context.Context, r model.ContactRef, _, _ string, _ time.Time) error {
	return n.record("expired", r.Email)
}
func (n *recordingNotifier) SendExpiryReminderNotification(_ context.Context, r model.ContactRef, _, _, _ string, _ time.Time) error {
	return n.record("expiry_reminder", r.Email)
}
func (n *recordingNotifier) SendManualReminderNotification(_ context.Context, r model.ContactRef, _ *model.Package, _, _ string) error {
	return n.record("manual_reminder", r.Email)
}
func (n *recordingNotifier) SendNewReceiverNotification(_ context.Context, r model.ContactRef, _ *model.Package, _ model.ContactRef) error {
	return n.record("new_receiver", r.Email)
}
func (n *recordingNotifier) SendNewReceiverOwnerNotification(_ context.Context, r model.ContactRef, _ *model.Package, _, _ model.ContactRef) error {
	return n.record("new_receiver_owner", r.Email)
}
func (n *recordingNotifier) SendDocumentRevokedNotification(_ context.Context, r model.ContactRef, _ *model.Package, _ string) error {
	return n.record("revoked", r.Email)
}
func (n *recordingNotifier) SendProgressUpdate(_ context.Context, r model.ContactRef, _ *model.Package, _, _ []string) error {
	return n.record("progress", r.Email)
}
func (n *recordingNotifier) SendCardVerificationReminder(_ context.Context, a *model.Account) error {
	return n.record("card_reminder", a.Email)
}

// recordingEmitter counts realtime broadcasts.
type recordingEmitter struct {
	mu     sync.Mutex
	events int
}

var _ realtime.Emitter = (*recordingEmitter)(nil)

func (e *recordingEmitter) EmitPackageUpdate(context.Context, *model.Package) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events++
	return nil
}

func (e *recordingEmitter) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.events
}

// fakeThrottle denies reservations once denyAfter is exceeded.
type fakeThrottle struct {
	mu        sync.Mutex
	calls     int
	denyAfter int // 0 means never deny
}

var _ limiter.Limiter = (*fakeThrottle)(nil)

func (f *fakeThrottle) Reserve(context.Context, uuid.UUID) (bool, time.Duration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.denyAfter > 0 && f.calls > f.denyAfter {
		return false, 30 * time.Minute, nil
	}
	return true, 0, nil
}

// testEnv bundles a service wired to fakes with a controllable clock.
type testEnv struct {
	svc      *PackageServiceImpl
	packages *fakePackageRepo
	accounts *fakeAccountRepo
	contacts *fakeContactRepo
	notifier *recordingNotifier
	emitter  *recordingEmitter
	throttle *fakeThrottle
	now      time.Time
}

func newTestEnv() *testEnv {
	env := &testEnv{
		packages: newFakePackageRepo(),
		accounts: newFakeAccountRepo(),
		contacts: newFakeContactRepo(),
		notifier: newRecordingNotifier(),
		emitter:  &recordingEmitter{},
		throttle: &fakeThrottle{},
		now:      time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC),
	}
	env.svc = NewPackageService(
		env.packages, env.accounts, env.contacts,
		env.notifier, env.emitter, env.throttle, zap.NewNop(), "https://sign.example.com",
	)
	env.svc.now = func() time.Time { return env.now }
	return env
}

var contactSeq int

func nextID() uuid.UUID { return uuid.Must(uuid.NewV4()) }

func newRef(name string) model.ContactRef {
	contactSeq++
	return model.ContactRef{
		ContactID: nextID(),
		Email:     fmt.Sprintf("%s%d@example.com", name, contactSeq),
		Name:      name,
	}
}

func signatureField(ref model.ContactRef, methods ...model.SignatureMethod) model.Field {
	if len(methods) == 0 {
		methods = []model.SignatureMethod{model.MethodEmailOTP}
	}
	return model.Field{
		ID:   nextID(),
		Type: model.FieldSignature,
		Page: 1,
		AssignedUsers: []model.AssignedUser{{
			ContactID: ref.ContactID,
			Email:     ref.Email,
			Name:      ref.Name,
			Role:      model.RoleSigner,
			Methods:   methods,
		}},
	}
}

// seedAccount registers an owner with the given allowance.
func (env *testEnv) seedAccount(credits int) *model.Account {
	a := &model.Account{
		ID:              nextID(),
		Email:           fmt.Sprintf("owner%d@example.com", contactSeq),
		Name:            "Owner",
		Verified:        true,
		DocumentCredits: credits,
		CreatedAt:       env.now.Add(-24 * time.Hour),
	}
	env.accounts.put(a)
	return a
}

// seedSent stores a sent two-signer package owned by owner.
func (env *testEnv) seedSent(owner *model.Account, refs ...model.ContactRef) *model.Package {
	var fields []model.Field
	for _, r := range refs {
		fields = append(fields, signatureField(r))
	}
	sentAt := env.now.Add(-time.Hour)
	p := &model.Package{
		ID:         nextID(),
		OwnerID:    owner.ID,
		OwnerEmail: owner.Email,
		OwnerName:  owner.Name,
		Name:       "Service Agreement",
		Status:     model.StatusSent,
		Fields:     fields,
		SentAt:     &sentAt,
		CreatedAt:  sentAt.Add(-time.Hour),
		UpdatedAt:  sentAt,
	}
	env.packages.put(p)
	return p
}
