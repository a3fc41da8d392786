// Package service contains the package lifecycle state machine and the
// credit guard consulted at send time.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/quillsign/quillsign/internal/errs"
	"github.com/quillsign/quillsign/internal/limiter"
	"github.com/quillsign/quillsign/internal/model"
	"github.com/quillsign/quillsign/internal/notify"
	"github.com/quillsign/quillsign/internal/realtime"
	"github.com/quillsign/quillsign/internal/repository"
)

// FieldSubmission is one submitted value for a field assigned to the actor.
type FieldSubmission struct {
	Value  string
	Method model.SignatureMethod
}

// CreateInput describes a new package.
type CreateInput struct {
	OwnerID    uuid.UUID
	Name       string
	TemplateID *uuid.UUID
	Fields     []model.Field
	Receivers  []model.ContactRef
	Options    model.Options
	SendNow    bool
	IP         string
}

// UpdateInput carries the owner-editable content of a draft package.
type UpdateInput struct {
	Name      string
	Fields    []model.Field
	Receivers []model.ContactRef
	Options   model.Options
}

// ReassignTarget identifies the contact taking over a participant's fields.
type ReassignTarget struct {
	Email string
	Name  string
	Phone string
}

// PackageService drives the package lifecycle state machine.
type PackageService interface {
	// Create stores a new package in draft, or sends it immediately.
	Create(ctx context.Context, in CreateInput) (*model.Package, error)
	// UpdateDraft rewrites an owner's package content while still in draft.
	UpdateDraft(ctx context.Context, ownerID, pkgID uuid.UUID, in UpdateInput) (*model.Package, error)
	// Send performs draft->sent after validating assignments and charging credits.
	Send(ctx context.Context, ownerID, pkgID uuid.UUID) (*model.Package, error)
	// Get loads a package, expiring it inline when its expiry instant passed.
	Get(ctx context.Context, pkgID uuid.UUID) (*model.Package, error)
	// DeleteDraft hard-deletes an owner's package while still in draft.
	DeleteDraft(ctx context.Context, ownerID, pkgID uuid.UUID) error
	// SubmitFields applies a participant's field values and recomputes completion.
	SubmitFields(ctx context.Context, pkgID uuid.UUID, actorEmail string, values map[uuid.UUID]FieldSubmission, ip string) (*model.Package, error)
	// Reject performs sent->rejected on behalf of an assigned participant.
	Reject(ctx context.Context, pkgID uuid.UUID, actorEmail, reason, ip string) error
	// Revoke performs sent->revoked on behalf of the owner.
	Revoke(ctx context.Context, pkgID, ownerID uuid.UUID, reason, ip string) error
	// Reassign transfers a participant's outstanding fields to a new contact.
	Reassign(ctx context.Context, pkgID uuid.UUID, actorEmail string, target ReassignTarget, reason, ip string) error
	// AddReceiver lets a participant add a read-only receiver.
	AddReceiver(ctx context.Context, pkgID uuid.UUID, actorEmail string, receiver model.ContactRef, ip string) error
	// SendManualReminder nudges all participants with unsigned fields.
	SendManualReminder(ctx context.Context, pkgID, ownerID uuid.UUID, message string) error
}

type PackageServiceImpl struct {
	packages repository.PackageRepository
	accounts repository.AccountRepository
	contacts repository.ContactRepository
	notifier notify.Notifier
	emitter  realtime.Emitter
	throttle limiter.Limiter
	log      *zap.Logger
	baseURL  string
	now      func() time.Time
}

// NewPackageService constructs PackageService with required dependencies.
func NewPackageService(
	packages repository.PackageRepository,
	accounts repository.AccountRepository,
	contacts repository.ContactRepository,
	notifier notify.Notifier,
	emitter realtime.Emitter,
	throttle limiter.Limiter,
	log *zap.Logger,
	baseURL string,
) *PackageServiceImpl {
	return &PackageServiceImpl{
		packages: packages,
		accounts: accounts,
		contacts: contacts,
		notifier: notifier,
		emitter:  emitter,
		throttle: throttle,
		log:      log,
		baseURL:  baseURL,
		now:      time.Now,
	}
}

// Create validates and stores a new package. With SendNow the package goes
// straight to sent: send preconditions and the credit charge apply as in Send.
func (s *PackageServiceImpl) Create(ctx context.Context, in CreateInput) (*model.Package, error) {
	if in.OwnerID == uuid.Nil {
		return nil, fmt.Errorf("%w: empty owner id", errs.ErrValidation)
	}
	owner, err := s.accounts.Get(ctx, in.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("load owner: %w", err)
	}

	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	p := &model.Package{
		ID:         id,
		OwnerID:    owner.ID,
		OwnerEmail: owner.Email,
		OwnerName:  owner.Name,
		TemplateID: in.TemplateID,
		Name:       in.Name,
		Status:     model.StatusDraft,
		Fields:     in.Fields,
		Receivers:  in.Receivers,
		Options:    in.Options,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrValidation, err)
	}

	if !in.SendNow {
		if err := s.packages.Create(ctx, p); err != nil {
			return nil, err
		}
		return p, nil
	}

	if err := p.ReadyToSend(); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrValidation, err)
	}
	if err := s.chargeCredits(ctx, owner.ID, p); err != nil {
		return nil, err
	}
	p.Status = model.StatusSent
	p.SentAt = &now
	if err := s.packages.Create(ctx, p); err != nil {
		return nil, err
	}
	s.dispatchSent(ctx, p)
	return p, nil
}

// UpdateDraft replaces the editable content of an owner's package. Only
// drafts can be edited; the repository re-checks the status so an edit
// racing a send loses cleanly.
func (s *PackageServiceImpl) UpdateDraft(ctx context.Context, ownerID, pkgID uuid.UUID, in UpdateInput) (*model.Package, error) {
	p, err := s.packages.Get(ctx, pkgID)
	if err != nil {
		return nil, err
	}
	if p.OwnerID != ownerID {
		return nil, errs.ErrForbidden
	}
	if p.Status != model.StatusDraft {
		return nil, fmt.Errorf("%w: cannot edit package in status %q", errs.ErrStateConflict, p.Status)
	}

	p.Name = in.Name
	p.Fields = in.Fields
	p.Receivers = in.Receivers
	p.Options = in.Options
	p.UpdatedAt = s.now().UTC()
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrValidation, err)
	}
	if err := s.packages.UpdateDraft(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Send performs draft->sent. Preconditions: every field assigned, signer
// methods valid, and the owner's allowance covers the credit cost.
func (s *PackageServiceImpl) Send(ctx context.Context, ownerID, pkgID uuid.UUID) (*model.Package, error) {
	p, err := s.packages.Get(ctx, pkgID)
	if err != nil {
		return nil, err
	}
	if p.OwnerID != ownerID {
		return nil, errs.ErrForbidden
	}
	if p.Status != model.StatusDraft {
		return nil, fmt.Errorf("%w: cannot send package in status %q", errs.ErrStateConflict, p.Status)
	}
	if err := p.ReadyToSend(); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrValidation, err)
	}
	if err := s.chargeCredits(ctx, ownerID, p); err != nil {
		return nil, err
	}
	sentAt := s.now().UTC()
	if err := s.packages.MarkSent(ctx, pkgID, sentAt); err != nil {
		return nil, err
	}
	p.Status = model.StatusSent
	p.SentAt = &sentAt
	s.dispatchSent(ctx, p)
	return p, nil
}

// Get loads a package. When the expiry instant passed and the package is
// still draft or sent it expires inline: the transition is a conditional
// write shared with the batch expiry job, so only one of the two racing
// paths fires the notification fan-out. Notifications go out asynchronously
// to keep the read path fast.
func (s *PackageServiceImpl) Get(ctx context.Context, pkgID uuid.UUID) (*model.Package, error) {
	p, err := s.packages.Get(ctx, pkgID)
	if err != nil {
		return nil, err
	}
	if !p.Status.Pending() || !p.Expired(s.now()) {
		return p, nil
	}

	won, err := s.packages.ExpireIfPending(ctx, p.ID)
	if err != nil {
		s.log.Error("inline expiry failed", zap.String("package_id", p.ID.String()), zap.Error(err))
		return p, nil
	}
	p.Status = model.StatusExpired
	if won {
		pc := *p
		go s.dispatchExpired(context.Background(), &pc)
	}
	return p, nil
}

// DeleteDraft hard-deletes an owner's package, only while in draft.
func (s *PackageServiceImpl) DeleteDraft(ctx context.Context, ownerID, pkgID uuid.UUID) error {
	p, err := s.packages.Get(ctx, pkgID)
	if err != nil {
		return err
	}
	if p.OwnerID != ownerID {
		return errs.ErrForbidden
	}
	return s.packages.DeleteDraft(ctx, pkgID)
}

// chargeCredits consumes the send cost from the owner's allowance. On an
// insufficient allowance the error carries the computed numbers.
func (s *PackageServiceImpl) chargeCredits(ctx context.Context, ownerID uuid.UUID, p *model.Package) error {
	needed := CreditsFor(p.UniqueSignerCount())
	err := s.accounts.ChargeCredits(ctx, ownerID, needed)
	if err == nil {
		return nil
	}
	if errors.Is(err, errs.ErrInsufficientCredits) {
		remaining := 0
		if a, gerr := s.accounts.Get(ctx, ownerID); gerr == nil {
			remaining = a.DocumentCredits
		}
		return fmt.Errorf("%w: need %d, have %d", errs.ErrInsufficientCredits, needed, remaining)
	}
	return err
}

// dispatchSent fans out the send notifications and the realtime update.
func (s *PackageServiceImpl) dispatchSent(ctx context.Context, p *model.Package) {
	for _, c := range p.UnsignedContacts() {
		s.try("action required", s.notifier.SendActionRequired(ctx, c, p, p.OwnerName, s.signURL(p), ""))
	}
	for _, r := range p.Receivers {
		s.try("receiver notification", s.notifier.SendReceiverNotification(ctx, r, p, p.OwnerName))
	}
	s.emit(ctx, p)
}

// dispatchExpired notifies every participant (deduplicated by email) that the
// package expired and emits the realtime update.
func (s *PackageServiceImpl) dispatchExpired(ctx context.Context, p *model.Package) {
	var expiresAt time.Time
	if p.Options.ExpiresAt != nil {
		expiresAt = *p.Options.ExpiresAt
	}
	for _, c := range p.Participants() {
		s.try("expiry notification", s.notifier.SendDocumentExpiredNotification(ctx, c, p.OwnerName, p.Name, expiresAt))
	}
	s.emit(ctx, p)
}

// try logs a failed best-effort side effect without propagating it.
func (s *PackageServiceImpl) try(what string, err error) {
	if err != nil {
		s.log.Warn("notification dispatch failed", zap.String("kind", what), zap.Error(err))
	}
}

// emit broadcasts the package state change, best-effort.
func (s *PackageServiceImpl) emit(ctx context.Context, p *model.Package) {
	if err := s.emitter.EmitPackageUpdate(ctx, p); err != nil {
		s.log.Warn("realtime emit failed", zap.String("package_id", p.ID.String()), zap.Error(err))
	}
}

func (s *PackageServiceImpl) signURL(p *model.Package) string {
	return s.baseURL + "/sign/" + p.ID.String()
}
