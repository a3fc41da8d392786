// Package billing talks to the external billing provider. Only the calls the
// background jobs need are modeled; provider wire formats stay outside this
// module.
package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gofrs/uuid/v5"
	"github.com/sethvargo/go-retry"
)

// Client cancels a user's billing subscription. Callers treat failures as
// best-effort: they log and continue.
type Client interface {
	// CancelSubscription cancels any active subscription of the account.
	CancelSubscription(ctx context.Context, accountID uuid.UUID) error
}

// Nop is a Client doing nothing, for wiring without a billing provider.
type Nop struct{}

// CancelSubscription implements Client.
func (Nop) CancelSubscription(context.Context, uuid.UUID) error { return nil }

// HTTPClient calls the billing provider over its REST surface with a bounded
// retry on transient failures.
type HTTPClient struct {
	rc *resty.Client
}

// NewHTTPClient constructs a billing client for the given base URL.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	rc := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout)
	return &HTTPClient{rc: rc}
}

var _ Client = (*HTTPClient)(nil)

// CancelSubscription cancels the account's subscription, retrying transient
// provider errors a few times before giving up.
func (c *HTTPClient) CancelSubscription(ctx context.Context, accountID uuid.UUID) error {
	backoff := retry.WithMaxRetries(3, retry.NewExponential(500*time.Millisecond))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		resp, err := c.rc.R().
			SetContext(ctx).
			SetPathParam("accountID", accountID.String()).
			Delete("/v1/subscriptions/{accountID}")
		if err != nil {
			return retry.RetryableError(err)
		}
		switch {
		case resp.StatusCode() >= 500:
			return retry.RetryableError(fmt.Errorf("billing provider: %s", resp.Status()))
		case resp.StatusCode() == 404:
			// no subscription on file, nothing to cancel
			return nil
		case resp.StatusCode() >= 400:
			return fmt.Errorf("billing provider: %s", resp.Status())
		}
		return nil
	})
}
