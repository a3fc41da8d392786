// Package model defines domain entities used by services, repositories and jobs.
package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// Status is the lifecycle state of a package. The string values are part of
// the storage contract and must not change.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusSent      Status = "sent"
	StatusCompleted Status = "completed"
	StatusArchived  Status = "archived"
	StatusRejected  Status = "rejected"
	StatusExpired   Status = "expired"
	StatusRevoked   Status = "revoked"
)

// Terminal reports whether no further transitions are allowed from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusArchived, StatusRejected, StatusExpired, StatusRevoked:
		return true
	}
	return false
}

// Pending reports whether the package can still expire (draft or sent).
func (s Status) Pending() bool { return s == StatusDraft || s == StatusSent }

// Role of an assigned user on a field.
type Role string

const (
	RoleSigner     Role = "signer"
	RoleFormFiller Role = "form_filler"
	RoleApprover   Role = "approver"
)

// SignatureMethod is an identity verification method required of a signer.
type SignatureMethod string

const (
	MethodEmailOTP SignatureMethod = "email_otp"
	MethodSMSOTP   SignatureMethod = "sms_otp"
)

// FieldType enumerates placeable field kinds.
type FieldType string

const (
	FieldSignature FieldType = "signature"
	FieldText      FieldType = "text"
	FieldCheckbox  FieldType = "checkbox"
	FieldRadio     FieldType = "radio"
	FieldTextarea  FieldType = "textarea"
	FieldDate      FieldType = "date"
	FieldDropdown  FieldType = "dropdown"
)

// ReminderPeriod is the configured lead time for the one-shot expiry reminder.
type ReminderPeriod string

const (
	Remind1HourBefore  ReminderPeriod = "1_hour_before"
	Remind2HoursBefore ReminderPeriod = "2_hours_before"
	Remind1DayBefore   ReminderPeriod = "1_day_before"
	Remind2DaysBefore  ReminderPeriod = "2_days_before"
)

// Duration returns the lead time the period stands for.
// ok is false for unknown or empty periods.
func (p ReminderPeriod) Duration() (d time.Duration, ok bool) {
	switch p {
	case Remind1HourBefore:
		return time.Hour, true
	case Remind2HoursBefore:
		return 2 * time.Hour, true
	case Remind1DayBefore:
		return 24 * time.Hour, true
	case Remind2DaysBefore:
		return 48 * time.Hour, true
	}
	return 0, false
}

// ContactRef is a denormalized reference to a contact embedded in package documents.
type ContactRef struct {
	ContactID uuid.UUID `json:"contactId"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
}

// AssignedUser binds a contact to a field with a role and completion state.
type AssignedUser struct {
	ContactID    uuid.UUID         `json:"contactId"`
	Email        string            `json:"email"`
	Name         string            `json:"name"`
	Role         Role              `json:"role"`
	Methods      []SignatureMethod `json:"signatureMethods,omitempty"`
	Signed       bool              `json:"signed"`
	SignedAt     *time.Time        `json:"signedAt,omitempty"`
	SignedMethod SignatureMethod   `json:"signedMethod,omitempty"`
	SignedIP     string            `json:"signedIp,omitempty"`
}

// Ref returns the contact reference of the assignment.
func (a AssignedUser) Ref() ContactRef {
	return ContactRef{ContactID: a.ContactID, Email: a.Email, Name: a.Name}
}

// Field is a single placeable data point on a document page.
type Field struct {
	ID            uuid.UUID      `json:"id"`
	Type          FieldType      `json:"type"`
	Page          int            `json:"page"`
	X             float64        `json:"x"`
	Y             float64        `json:"y"`
	Width         float64        `json:"width"`
	Height        float64        `json:"height"`
	Required      bool           `json:"required"`
	Value         string         `json:"value,omitempty"`
	AssignedUsers []AssignedUser `json:"assignedUsers,omitempty"`
}

// AutoReminderRecord is one entry of the append-only automatic reminder history.
type AutoReminderRecord struct {
	SentAt         time.Time `json:"sentAt"`
	RecipientCount int       `json:"recipientCount"`
}

// Options carries expiry, reminder and permission settings of a package.
type Options struct {
	ExpiresAt               *time.Time           `json:"expiresAt,omitempty"`
	SendExpirationReminders bool                 `json:"sendExpirationReminders"`
	ReminderPeriod          ReminderPeriod       `json:"reminderPeriod,omitempty"`
	ExpiryReminderSentAt    *time.Time           `json:"expiryReminderSentAt,omitempty"` // one-shot guard
	SendAutomaticReminders  bool                 `json:"sendAutomaticReminders"`
	FirstReminderDays       int                  `json:"firstReminderDays,omitempty"`
	RepeatReminderDays      int                  `json:"repeatReminderDays,omitempty"`
	AutomaticRemindersSent  []AutoReminderRecord `json:"automaticRemindersSent,omitempty"` // append-only
	AllowDownload           bool                 `json:"allowDownload"`
	AllowReassign           bool                 `json:"allowReassign"`
	AllowReceiversToAdd     bool                 `json:"allowReceiversToAdd"`
}

// ReassignmentRecord is an immutable audit entry of a participant handing
// their outstanding fields to a new contact.
type ReassignmentRecord struct {
	From        ContactRef `json:"from"`
	To          ContactRef `json:"to"`
	InitiatedBy ContactRef `json:"initiatedBy"`
	Reason      string     `json:"reason,omitempty"`
	At          time.Time  `json:"at"`
	IP          string     `json:"ip,omitempty"`
}

// ReceiverRecord is an immutable audit entry of a participant adding a receiver.
type ReceiverRecord struct {
	AddedBy  ContactRef `json:"addedBy"`
	Receiver ContactRef `json:"receiver"`
	At       time.Time  `json:"at"`
	IP       string     `json:"ip,omitempty"`
}

// RejectionDetails records the terminal rejection of a package. Set once.
type RejectionDetails struct {
	By     ContactRef `json:"by"`
	Reason string     `json:"reason"`
	At     time.Time  `json:"at"`
	IP     string     `json:"ip,omitempty"`
}

// RevocationDetails records the terminal revocation by the owner. Set once.
type RevocationDetails struct {
	By     ContactRef `json:"by"`
	Reason string     `json:"reason,omitempty"`
	At     time.Time  `json:"at"`
	IP     string     `json:"ip,omitempty"`
}

// Package is the central aggregate: a signable document bundle with fields,
// assignees, receivers and lifecycle options.
type Package struct {
	ID                  uuid.UUID
	OwnerID             uuid.UUID // immutable after creation
	OwnerEmail          string
	OwnerName           string
	TemplateID          *uuid.UUID
	Name                string
	Status              Status
	Fields              []Field
	Receivers           []ContactRef
	Options             Options
	ReassignmentHistory []ReassignmentRecord
	ReceiverHistory     []ReceiverRecord
	Rejection           *RejectionDetails
	Revocation          *RevocationDetails
	SentAt              *time.Time // set once at draft->sent
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// ReminderAnchor returns the reference instant for the automatic reminder
// cadence. Legacy rows sent before sentAt existed fall back to createdAt;
// retire the fallback once no such rows remain.
func (p *Package) ReminderAnchor() time.Time {
	if p.SentAt != nil {
		return *p.SentAt
	}
	return p.CreatedAt
}

// Expired reports whether the package carries an expiry instant in the past.
func (p *Package) Expired(now time.Time) bool {
	return p.Options.ExpiresAt != nil && !p.Options.ExpiresAt.After(now)
}

// Complete reports whether every assignment on every field is signed.
func (p *Package) Complete() bool {
	for i := range p.Fields {
		for j := range p.Fields[i].AssignedUsers {
			if !p.Fields[i].AssignedUsers[j].Signed {
				return false
			}
		}
	}
	return true
}

// HasPendingWork reports whether email still has unsigned assignments.
func (p *Package) HasPendingWork(email string) bool {
	for i := range p.Fields {
		for j := range p.Fields[i].AssignedUsers {
			au := &p.Fields[i].AssignedUsers[j]
			if au.Email == email && !au.Signed {
				return true
			}
		}
	}
	return false
}

// AssignedContacts returns the distinct contacts assigned to any field,
// in first-appearance order.
func (p *Package) AssignedContacts() []ContactRef {
	seen := make(map[string]struct{})
	var out []ContactRef
	for i := range p.Fields {
		for _, au := range p.Fields[i].AssignedUsers {
			if _, ok := seen[au.Email]; ok {
				continue
			}
			seen[au.Email] = struct{}{}
			out = append(out, au.Ref())
		}
	}
	return out
}

// UnsignedContacts returns the distinct contacts that still have unsigned
// assignments, in first-appearance order.
func (p *Package) UnsignedContacts() []ContactRef {
	seen := make(map[string]struct{})
	var out []ContactRef
	for i := range p.Fields {
		for _, au := range p.Fields[i].AssignedUsers {
			if au.Signed {
				continue
			}
			if _, ok := seen[au.Email]; ok {
				continue
			}
			seen[au.Email] = struct{}{}
			out = append(out, au.Ref())
		}
	}
	return out
}

// OwnerAndAssigned returns the owner and every assigned contact,
// deduplicated by email. Owner comes first; receivers are excluded.
func (p *Package) OwnerAndAssigned() []ContactRef {
	seen := map[string]struct{}{p.OwnerEmail: {}}
	out := []ContactRef{{ContactID: p.OwnerID, Email: p.OwnerEmail, Name: p.OwnerName}}
	for _, c := range p.AssignedContacts() {
		if _, ok := seen[c.Email]; ok {
			continue
		}
		seen[c.Email] = struct{}{}
		out = append(out, c)
	}
	return out
}

// Participants returns owner, every assigned contact and every receiver,
// deduplicated by email. Owner comes first.
func (p *Package) Participants() []ContactRef {
	out := p.OwnerAndAssigned()
	seen := make(map[string]struct{}, len(out))
	for _, c := range out {
		seen[c.Email] = struct{}{}
	}
	for _, r := range p.Receivers {
		if _, ok := seen[r.Email]; ok {
			continue
		}
		seen[r.Email] = struct{}{}
		out = append(out, r)
	}
	return out
}

// UniqueSignerCount counts distinct contacts holding the signer role on any field.
func (p *Package) UniqueSignerCount() int {
	seen := make(map[string]struct{})
	for i := range p.Fields {
		for _, au := range p.Fields[i].AssignedUsers {
			if au.Role == RoleSigner {
				seen[au.Email] = struct{}{}
			}
		}
	}
	return len(seen)
}

// UnlimitedCredits is the sentinel document allowance bypassing credit checks.
const UnlimitedCredits = -1

// Account is the owning user account of packages, carrying the document
// allowance and the onboarding/deactivation one-shot state.
type Account struct {
	ID                    uuid.UUID
	Email                 string
	Name                  string
	Verified              bool
	DocumentCredits       int // UnlimitedCredits (-1) means no limit
	HasPaymentSource      bool
	CardReminder1hSentAt  *time.Time // one-shot guard
	CardReminder24hSentAt *time.Time // one-shot guard
	DeactivatedAt         *time.Time
	CreatedAt             time.Time
}

// Contact is a directory entry resolvable by email.
type Contact struct {
	ID        uuid.UUID
	Email     string
	Name      string
	Phone     string
	CreatedAt time.Time
}
