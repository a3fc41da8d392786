package repository

import (
	"context"
	"time"

	"github.com/quillsign/quillsign/internal/model"
)

// ContactRepository resolves and registers directory contacts, used for
// reassignment targets and newly added receivers.
type ContactRepository interface {
	// GetByEmail loads a contact by email.
	GetByEmail(ctx context.Context, email string) (*model.Contact, error)

	// Create inserts a new contact.
	Create(ctx context.Context, c *model.Contact) error
}

// SubscriptionRepository sweeps stale subscription-history entries.
type SubscriptionRepository interface {
	// ExpireStale marks active history entries whose validity window passed
	// and returns how many were expired.
	ExpireStale(ctx context.Context, now time.Time) (int64, error)
}
