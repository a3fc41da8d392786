// Package limiter throttles repeatable owner-triggered reminder sends so a
// misbehaving client cannot spam package participants.
package limiter

import (
	"context"
	"time"

	"github.com/gofrs/uuid/v5"
)

// Limiter controls how often manual reminders may go out per package.
type Limiter interface {
	// Reserve consumes one send slot for the package. When denied it returns
	// the time until the current window frees up.
	Reserve(ctx context.Context, packageID uuid.UUID) (ok bool, retryAfter time.Duration, err error)
}

// Unlimited grants every reservation.
type Unlimited struct{}

// Reserve implements Limiter.
func (Unlimited) Reserve(context.Context, uuid.UUID) (bool, time.Duration, error) {
	return true, 0, nil
}
