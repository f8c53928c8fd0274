// Package retry provides the bounded retry combinator shared by every
// lock-pipeline stage.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Class buckets an error by how the retry loop should react to it.
type Class int

const (
	// ClassFatal stops the stage at once; validation of the inputs or the
	// configuration is wrong and repeating the call cannot help.
	ClassFatal Class = iota
	// ClassTransient is a short network-style hiccup, retried after a
	// second-scale delay.
	ClassTransient
	// ClassRateLimited is a throttling response, retried after a
	// minute-scale delay.
	ClassRateLimited
	// ClassRebuild is a recoverable logic error (e.g. mismatched batch
	// counts); the stage rebuilds its inputs and retries without delay.
	ClassRebuild
)

// Classifier maps an error to its retry class.
type Classifier func(err error) Class

// Policy bounds the retry loop. The zero delay values are valid and mean
// "retry immediately".
type Policy struct {
	MaxRetries       int           // retries after the initial attempt
	TransientDelay   time.Duration // wait before retrying ClassTransient
	RateLimitedDelay time.Duration // wait before retrying ClassRateLimited
}

// DefaultPolicy matches the gateway contract: one initial attempt plus ten
// retries, one second between transient attempts, one minute when throttled.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:       10,
		TransientDelay:   time.Second,
		RateLimitedDelay: time.Minute,
	}
}

// ErrExhausted wraps the last error once the retry bound is reached.
var ErrExhausted = errors.New("retry attempts exhausted")

// Do runs fn until it succeeds, returns a fatal error, the retry bound is
// reached, or the context is cancelled.
func Do(ctx context.Context, policy Policy, classify Classifier, fn func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		switch classify(lastErr) {
		case ClassFatal:
			return lastErr
		case ClassTransient:
			if err := sleep(ctx, policy.TransientDelay); err != nil {
				return err
			}
		case ClassRateLimited:
			if err := sleep(ctx, policy.RateLimitedDelay); err != nil {
				return err
			}
		case ClassRebuild:
			// Retry immediately with rebuilt inputs.
		}
	}

	return fmt.Errorf("%w after %d attempts: %s", ErrExhausted, policy.MaxRetries+1, lastErr)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
