package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/quillsign/quillsign/internal/errs"
	"github.com/quillsign/quillsign/internal/model"
)

// applyRetries bounds reload attempts when a concurrent writer moves the
// document between the read and the base-guarded write.
const applyRetries = 3

// SubmitFields applies a participant's values to their assigned fields.
// Every submitted field must belong to the actor and still be unsigned.
// After applying, global completion is recomputed: when the last assignment
// arrives the package transitions to completed and the completion fan-out
// fires; otherwise the owner gets a progress update. The write is guarded on
// the updated_at marker read with the package; on a conflict the document is
// reloaded and the values reapplied on top of the other writer's state.
func (s *PackageServiceImpl) SubmitFields(ctx context.Context, pkgID uuid.UUID, actorEmail string, values map[uuid.UUID]FieldSubmission, ip string) (*model.Package, error) {
	if len(values) == 0 {
		return nil, fmt.Errorf("%w: no field values submitted", errs.ErrValidation)
	}

	var (
		p         *model.Package
		completed bool
	)
	for attempt := 1; ; attempt++ {
		var err error
		p, err = s.packages.Get(ctx, pkgID)
		if err != nil {
			return nil, err
		}
		if p.Status != model.StatusSent {
			return nil, fmt.Errorf("%w: cannot submit to package in status %q", errs.ErrStateConflict, p.Status)
		}
		if !p.HasPendingWork(actorEmail) {
			return nil, fmt.Errorf("%w: no outstanding fields for %s", errs.ErrStateConflict, actorEmail)
		}
		if err := signFields(p, actorEmail, values, s.now().UTC(), ip); err != nil {
			return nil, err
		}

		completed = p.Complete()
		err = s.packages.ApplySubmission(ctx, p.ID, p.Fields, completed, p.UpdatedAt)
		if err == nil {
			break
		}
		if !errors.Is(err, errs.ErrStateConflict) || attempt == applyRetries {
			return nil, err
		}
	}
	if completed {
		p.Status = model.StatusCompleted
		for _, c := range p.Participants() {
			s.try("completion notification", s.notifier.SendDocumentCompleted(ctx, c, p))
		}
	} else {
		done, pending := participantProgress(p)
		owner := model.ContactRef{ContactID: p.OwnerID, Email: p.OwnerEmail, Name: p.OwnerName}
		s.try("progress update", s.notifier.SendProgressUpdate(ctx, owner, p, done, pending))
	}
	s.emit(ctx, p)
	return p, nil
}

// Reject performs sent->rejected for an assigned participant with a mandatory
// reason. All other participants lose the ability to act immediately.
func (s *PackageServiceImpl) Reject(ctx context.Context, pkgID uuid.UUID, actorEmail, reason, ip string) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return fmt.Errorf("%w: rejection reason is required", errs.ErrValidation)
	}
	if len(reason) > model.MaxReasonLen {
		return fmt.Errorf("%w: rejection reason exceeds %d characters", errs.ErrValidation, model.MaxReasonLen)
	}
	p, err := s.packages.Get(ctx, pkgID)
	if err != nil {
		return err
	}
	if p.Status != model.StatusSent {
		return fmt.Errorf("%w: cannot reject package in status %q", errs.ErrStateConflict, p.Status)
	}
	actor, ok := findAssigned(p, actorEmail)
	if !ok {
		return fmt.Errorf("%w: %s is not a participant", errs.ErrForbidden, actorEmail)
	}

	det := model.RejectionDetails{By: actor, Reason: reason, At: s.now().UTC(), IP: ip}
	if err := s.packages.SetRejected(ctx, p.ID, det); err != nil {
		return err
	}
	p.Status = model.StatusRejected
	p.Rejection = &det
	// owner and assigned participants only; receivers are not told
	for _, c := range p.OwnerAndAssigned() {
		s.try("rejection notification", s.notifier.SendRejectionNotification(ctx, c, p, actor, reason))
	}
	s.emit(ctx, p)
	return nil
}

// Revoke performs sent->revoked for the owner. Reason is optional.
func (s *PackageServiceImpl) Revoke(ctx context.Context, pkgID, ownerID uuid.UUID, reason, ip string) error {
	reason = strings.TrimSpace(reason)
	if len(reason) > model.MaxReasonLen {
		return fmt.Errorf("%w: revocation reason exceeds %d characters", errs.ErrValidation, model.MaxReasonLen)
	}
	p, err := s.packages.Get(ctx, pkgID)
	if err != nil {
		return err
	}
	if p.OwnerID != ownerID {
		return errs.ErrForbidden
	}
	if p.Status != model.StatusSent {
		return fmt.Errorf("%w: cannot revoke package in status %q", errs.ErrStateConflict, p.Status)
	}

	owner := model.ContactRef{ContactID: p.OwnerID, Email: p.OwnerEmail, Name: p.OwnerName}
	det := model.RevocationDetails{By: owner, Reason: reason, At: s.now().UTC(), IP: ip}
	if err := s.packages.SetRevoked(ctx, p.ID, det); err != nil {
		return err
	}
	p.Status = model.StatusRevoked
	p.Revocation = &det
	for _, c := range p.AssignedContacts() {
		s.try("revocation notification", s.notifier.SendDocumentRevokedNotification(ctx, c, p, reason))
	}
	s.emit(ctx, p)
	return nil
}

// Reassign transfers the actor's unsigned assignments to the target contact,
// preserving role and signature-method requirements, and appends one audit
// record. The target is resolved in the directory or registered on the fly.
// The write carries the same updated_at base guard as SubmitFields so a
// reassignment cannot clobber a concurrent submission.
func (s *PackageServiceImpl) Reassign(ctx context.Context, pkgID uuid.UUID, actorEmail string, target ReassignTarget, reason, ip string) error {
	if target.Email == "" {
		return fmt.Errorf("%w: reassignment target email is required", errs.ErrValidation)
	}
	if len(reason) > model.MaxReasonLen {
		return fmt.Errorf("%w: reassignment reason exceeds %d characters", errs.ErrValidation, model.MaxReasonLen)
	}

	var (
		p         *model.Package
		actor, to model.ContactRef
		resolved  bool
	)
	for attempt := 1; ; attempt++ {
		var err error
		p, err = s.packages.Get(ctx, pkgID)
		if err != nil {
			return err
		}
		if p.Status != model.StatusSent {
			return fmt.Errorf("%w: cannot reassign package in status %q", errs.ErrStateConflict, p.Status)
		}
		if !p.Options.AllowReassign {
			return fmt.Errorf("%w: reassignment is not allowed on this package", errs.ErrForbidden)
		}
		var ok bool
		actor, ok = findAssigned(p, actorEmail)
		if !ok {
			return fmt.Errorf("%w: %s is not a participant", errs.ErrForbidden, actorEmail)
		}
		if !p.HasPendingWork(actorEmail) {
			return fmt.Errorf("%w: %s has no outstanding fields to reassign", errs.ErrStateConflict, actorEmail)
		}

		if !resolved {
			contact, err := s.resolveContact(ctx, target.Email, target.Name, target.Phone)
			if err != nil {
				return fmt.Errorf("resolve reassignment target: %w", err)
			}
			to = model.ContactRef{ContactID: contact.ID, Email: contact.Email, Name: contact.Name}
			resolved = true
		}

		for i := range p.Fields {
			for j := range p.Fields[i].AssignedUsers {
				au := &p.Fields[i].AssignedUsers[j]
				if au.Email != actorEmail || au.Signed {
					continue
				}
				au.ContactID = to.ContactID
				au.Email = to.Email
				au.Name = to.Name
				// role and methods carry over unchanged
			}
		}

		rec := model.ReassignmentRecord{
			From:        actor,
			To:          to,
			InitiatedBy: actor,
			Reason:      reason,
			At:          s.now().UTC(),
			IP:          ip,
		}
		err = s.packages.ApplyReassignment(ctx, p.ID, p.Fields, rec, p.UpdatedAt)
		if err == nil {
			p.ReassignmentHistory = append(p.ReassignmentHistory, rec)
			break
		}
		if !errors.Is(err, errs.ErrStateConflict) || attempt == applyRetries {
			return err
		}
	}

	owner := model.ContactRef{ContactID: p.OwnerID, Email: p.OwnerEmail, Name: p.OwnerName}
	s.try("reassignment notification", s.notifier.SendReassignmentNotification(ctx, to, p, actor, s.signURL(p)))
	s.try("reassignment confirmation", s.notifier.SendReassignmentConfirmation(ctx, actor, p, to))
	s.try("reassignment owner notice", s.notifier.SendReassignmentOwnerNotification(ctx, owner, p, actor, to, reason))
	s.emit(ctx, p)
	return nil
}

// AddReceiver lets a participant add a read-only receiver, appending one
// audit record. Receivers never affect completion.
func (s *PackageServiceImpl) AddReceiver(ctx context.Context, pkgID uuid.UUID, actorEmail string, receiver model.ContactRef, ip string) error {
	if receiver.Email == "" {
		return fmt.Errorf("%w: receiver email is required", errs.ErrValidation)
	}
	p, err := s.packages.Get(ctx, pkgID)
	if err != nil {
		return err
	}
	if p.Status != model.StatusSent {
		return fmt.Errorf("%w: cannot add receiver to package in status %q", errs.ErrStateConflict, p.Status)
	}
	if !p.Options.AllowReceiversToAdd {
		return fmt.Errorf("%w: adding receivers is not allowed on this package", errs.ErrForbidden)
	}
	actor, ok := findAssigned(p, actorEmail)
	if !ok {
		return fmt.Errorf("%w: %s is not a participant", errs.ErrForbidden, actorEmail)
	}
	for _, r := range p.Receivers {
		if r.Email == receiver.Email {
			return fmt.Errorf("%w: %s is already a receiver", errs.ErrValidation, receiver.Email)
		}
	}

	contact, err := s.resolveContact(ctx, receiver.Email, receiver.Name, "")
	if err != nil {
		return fmt.Errorf("resolve receiver: %w", err)
	}
	recv := model.ContactRef{ContactID: contact.ID, Email: contact.Email, Name: contact.Name}
	rec := model.ReceiverRecord{AddedBy: actor, Receiver: recv, At: s.now().UTC(), IP: ip}
	if err := s.packages.AddReceiver(ctx, p.ID, recv, rec); err != nil {
		return err
	}
	p.Receivers = append(p.Receivers, recv)
	p.ReceiverHistory = append(p.ReceiverHistory, rec)

	owner := model.ContactRef{ContactID: p.OwnerID, Email: p.OwnerEmail, Name: p.OwnerName}
	s.try("new receiver notification", s.notifier.SendNewReceiverNotification(ctx, recv, p, actor))
	s.try("new receiver owner notice", s.notifier.SendNewReceiverOwnerNotification(ctx, owner, p, actor, recv))
	return nil
}

// SendManualReminder nudges every participant with unsigned fields.
// Owner-triggered and repeatable: no one-shot guard applies, but sends are
// rate limited per package.
func (s *PackageServiceImpl) SendManualReminder(ctx context.Context, pkgID, ownerID uuid.UUID, message string) error {
	p, err := s.packages.Get(ctx, pkgID)
	if err != nil {
		return err
	}
	if p.OwnerID != ownerID {
		return errs.ErrForbidden
	}
	if p.Status != model.StatusSent {
		return fmt.Errorf("%w: cannot remind on package in status %q", errs.ErrStateConflict, p.Status)
	}
	ok, retryAfter, err := s.throttle.Reserve(ctx, pkgID)
	if err != nil {
		return fmt.Errorf("reserve reminder slot: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: reminder allowance exhausted, retry in %s", errs.ErrRateLimited, retryAfter.Round(time.Second))
	}
	for _, c := range p.UnsignedContacts() {
		s.try("manual reminder", s.notifier.SendManualReminderNotification(ctx, c, p, p.OwnerName, message))
	}
	return nil
}

// resolveContact looks up the directory by email, registering a new contact
// when absent.
func (s *PackageServiceImpl) resolveContact(ctx context.Context, email, name, phone string) (*model.Contact, error) {
	c, err := s.contacts.GetByEmail(ctx, email)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, errs.ErrNotFound) {
		return nil, err
	}
	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	nc := &model.Contact{ID: id, Email: email, Name: name, Phone: phone, CreatedAt: s.now().UTC()}
	if err := s.contacts.Create(ctx, nc); err != nil {
		return nil, err
	}
	return nc, nil
}

func findAssigned(p *model.Package, email string) (model.ContactRef, bool) {
	for _, c := range p.AssignedContacts() {
		if c.Email == email {
			return c, true
		}
	}
	return model.ContactRef{}, false
}

// signFields flips the actor's assignments for the submitted values in place.
// Every value must reference a field assigned to the actor and still unsigned.
func signFields(p *model.Package, actorEmail string, values map[uuid.UUID]FieldSubmission, now time.Time, ip string) error {
	applied := 0
	for i := range p.Fields {
		f := &p.Fields[i]
		sub, ok := values[f.ID]
		if !ok {
			continue
		}
		var au *model.AssignedUser
		for j := range f.AssignedUsers {
			if f.AssignedUsers[j].Email == actorEmail {
				au = &f.AssignedUsers[j]
				break
			}
		}
		if au == nil {
			return fmt.Errorf("%w: field %s is not assigned to %s", errs.ErrValidation, f.ID, actorEmail)
		}
		if au.Signed {
			return fmt.Errorf("%w: field %s already completed", errs.ErrStateConflict, f.ID)
		}
		if au.Role == model.RoleSigner && sub.Method != "" && !hasMethod(au.Methods, sub.Method) {
			return fmt.Errorf("%w: method %q not allowed for field %s", errs.ErrValidation, sub.Method, f.ID)
		}
		f.Value = sub.Value
		au.Signed = true
		au.SignedAt = &now
		au.SignedMethod = sub.Method
		au.SignedIP = ip
		applied++
	}
	if applied != len(values) {
		return fmt.Errorf("%w: submission references unknown fields", errs.ErrValidation)
	}
	return nil
}

func hasMethod(methods []model.SignatureMethod, m model.SignatureMethod) bool {
	for _, have := range methods {
		if have == m {
			return true
		}
	}
	return false
}

// participantProgress splits assigned contact names into those with all of
// their fields signed and those still pending.
func participantProgress(p *model.Package) (done, pending []string) {
	for _, c := range p.AssignedContacts() {
		label := c.Name
		if label == "" {
			label = c.Email
		}
		if p.HasPendingWork(c.Email) {
			pending = append(pending, label)
		} else {
			done = append(done, label)
		}
	}
	return done, pending
}
