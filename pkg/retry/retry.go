// Package retry re-runs operations that failed for a transient reason,
// backing off exponentially with jitter between attempts. It serves the
// Postgres row transactions, which abort under contention, the database
// connection check at startup and catalog lookups.
package retry

import (
	"context"
	"math/rand/v2"
	"time"
)

// Policy describes how an operation is retried.
type Policy struct {
	// Attempts is the total number of calls, the first one included.
	Attempts int

	// BaseDelay is the wait after the first failure. It doubles after every
	// further failure up to MaxDelay.
	BaseDelay time.Duration
	MaxDelay  time.Duration

	// Jitter spreads each wait by up to ±Jitter of its length (0..1).
	Jitter float64

	// Retryable classifies errors. nil retries every error.
	Retryable func(error) bool
}

// Retrier runs operations under a Policy.
type Retrier struct {
	policy Policy
}

// New creates a Retrier. Out-of-range fields are pulled back to a single
// attempt, no wait and no jitter.
func New(p Policy) *Retrier {
	if p.Attempts < 1 {
		p.Attempts = 1
	}
	if p.BaseDelay < 0 {
		p.BaseDelay = 0
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	if p.Jitter < 0 || p.Jitter > 1 {
		p.Jitter = 0
	}
	return &Retrier{policy: p}
}

// Do calls op until it succeeds, returns an error the policy does not retry,
// or runs out of attempts. The last error from op is returned as is; a
// context cancelled while waiting ends the loop with that error too.
func (r *Retrier) Do(ctx context.Context, op func(ctx context.Context) error) error {
	var err error
	for attempt := 0; attempt < r.policy.Attempts; attempt++ {
		if attempt > 0 {
			if !sleep(ctx, r.backoff(attempt)) {
				return err
			}
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			if err != nil {
				return err
			}
			return ctxErr
		}

		if err = op(ctx); err == nil {
			return nil
		}
		if r.policy.Retryable != nil && !r.policy.Retryable(err) {
			return err
		}
	}
	return err
}

// backoff returns the wait before the given attempt (1 for the first retry).
func (r *Retrier) backoff(attempt int) time.Duration {
	d := r.policy.BaseDelay
	for i := 1; i < attempt && d < r.policy.MaxDelay; i++ {
		d *= 2
	}
	if d > r.policy.MaxDelay {
		d = r.policy.MaxDelay
	}
	if j := r.policy.Jitter; j > 0 && d > 0 {
		d += time.Duration(float64(d) * j * (rand.Float64()*2 - 1))
	}
	if d < 0 {
		return 0
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// TransactionRetrier retries single-row read-modify-write transactions.
// retryable picks out serialization failures and deadlocks.
func TransactionRetrier(retryable func(error) bool) *Retrier {
	return New(Policy{
		Attempts:  4,
		BaseDelay: 20 * time.Millisecond,
		MaxDelay:  500 * time.Millisecond,
		Jitter:    0.2,
		Retryable: retryable,
	})
}

// CatalogRetrier retries catalog lookups on the request path. A slow catalog
// degrades scoring and must not stall heartbeats, so it allows one quick
// retry.
func CatalogRetrier(retryable func(error) bool) *Retrier {
	return New(Policy{
		Attempts:  2,
		BaseDelay: 25 * time.Millisecond,
		MaxDelay:  100 * time.Millisecond,
		Jitter:    0.1,
		Retryable: retryable,
	})
}

// DatabaseRetrier retries the connection check at startup on any error.
func DatabaseRetrier() *Retrier {
	return New(Policy{
		Attempts:  5,
		BaseDelay: 200 * time.Millisecond,
		MaxDelay:  3 * time.Second,
		Jitter:    0.05,
	})
}
