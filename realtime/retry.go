package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/dhamidi/skillswap/store"
)

// Subscriber is anything that can open a change subscription, typically a store.Store.
type Subscriber interface {
	Subscribe(ctx context.Context, table string, filters []store.Filter, handler store.Handler) (store.Subscription, error)
}

// RetryPolicy bounds SubscribeWithRetry.
type RetryPolicy struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy retries three times, starting at one second.
var DefaultRetryPolicy = RetryPolicy{
	MaxRetries:      3,
	InitialInterval: time.Second,
	MaxInterval:     5 * time.Second,
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.InitialInterval
	eb.MaxInterval = p.MaxInterval
	eb.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(eb, p.MaxRetries), ctx)
}

// SubscribeWithRetry opens a subscription, retrying failed attempts according to policy.
// Once retries are exhausted the last error is returned and push updates stay
// disabled for the caller; polling continues to cover it.
func SubscribeWithRetry(ctx context.Context, s Subscriber, table string, filters []store.Filter, handler store.Handler, policy RetryPolicy, logger *slog.Logger) (store.Subscription, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var sub store.Subscription
	attempt := 0
	op := func() error {
		attempt++
		var err error
		sub, err = s.Subscribe(ctx, table, filters, handler)
		if errors.Is(err, store.ErrClosed) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		logger.Warn("subscription failed, retrying",
			"table", table, "attempt", attempt, "max_retries", policy.MaxRetries, "wait", wait, "error", err)
	}
	if err := backoff.RetryNotify(op, policy.backOff(ctx), notify); err != nil {
		return nil, fmt.Errorf("subscribe to %s after %d attempts: %w", table, attempt, err)
	}
	return sub, nil
}
