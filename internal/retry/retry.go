// Package retry provides the single retry policy shared by metadata
// extraction and media download.
package retry

import (
	"context"
	"time"
)

// Policy holds retry configuration. Terminal decides which errors stop the
// loop immediately (auth-required, artifact-missing); everything else is
// treated as transient up to MaxRetries extra attempts.
type Policy struct {
	MaxRetries int
	Backoff    func(attempt int) time.Duration
	Terminal   func(error) bool
}

// LinearBackoff returns the delay used between extraction and download
// attempts: 1s, 3s, 5s, ...
func LinearBackoff(attempt int) time.Duration {
	return time.Second + time.Duration(attempt)*2*time.Second
}

// Do executes fn up to 1+MaxRetries times, waiting Backoff(attempt) between
// attempts. A terminal error, or the context ending, stops the loop early.
// fn always runs at least once; a negative MaxRetries means no retries.
func Do[T any](ctx context.Context, p Policy, fn func() (T, error)) (T, error) {
	var lastErr error
	var zero T

	backoff := p.Backoff
	if backoff == nil {
		backoff = LinearBackoff
	}

	retries := p.MaxRetries
	if retries < 0 {
		retries = 0
	}

	for attempt := 0; attempt <= retries; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}

		lastErr = err

		if p.Terminal != nil && p.Terminal(err) {
			break
		}

		// Don't wait after the last attempt
		if attempt == retries {
			break
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(backoff(attempt)):
		}
	}

	return zero, lastErr
}
