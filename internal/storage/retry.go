package storage

import (
	"context"
	"errors"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
)

// Retrying wraps an ObjectStore and retries failed writes with exponential
// backoff. Context cancellation stops the retries immediately.
type Retrying struct {
	delegate     ObjectStore
	buildBackoff func() backoff.BackOff
}

// NewRetrying returns a retrying decorator. A nil factory retries from 100ms
// for at most maxElapsed (3s when zero).
func NewRetrying(delegate ObjectStore, maxElapsed time.Duration, factory func() backoff.BackOff) *Retrying {
	if maxElapsed <= 0 {
		maxElapsed = 3 * time.Second
	}
	if factory == nil {
		factory = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 100 * time.Millisecond
			b.MaxElapsedTime = maxElapsed
			return b
		}
	}
	return &Retrying{delegate: delegate, buildBackoff: factory}
}

// Store implements ObjectStore.
func (r *Retrying) Store(ctx context.Context, data []byte) (string, error) {
	var url string
	attempt := 0
	op := func() error {
		attempt++
		u, err := r.delegate.Store(ctx, data)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return backoff.Permanent(err)
			}
			log.Debug().Err(err).Int("attempt", attempt).Msg("storage: write failed, retrying")
			return err
		}
		url = u
		return nil
	}
	if err := backoff.Retry(op, backoff.WithContext(r.buildBackoff(), ctx)); err != nil {
		return "", err
	}
	return url, nil
}

var _ ObjectStore = (*Retrying)(nil)
