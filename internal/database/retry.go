package database

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/kozaktomas/pixpursuit/internal/constants"
	"github.com/rs/zerolog/log"
)

// permanentErrors are never retried; they describe the request, not the connection.
var permanentErrors = []error{
	ErrNotFound, ErrInvalidIndex, ErrInvalidField, ErrRootAlbum, ErrConflict,
	context.Canceled, context.DeadlineExceeded,
}

func isPermanent(err error) bool {
	for _, p := range permanentErrors {
		if errors.Is(err, p) {
			return true
		}
	}
	return false
}

// retryDelay is a variable so tests can shorten it.
var retryDelay = constants.RetryBackoff

// newBackOff returns the catalog retry policy: a fixed delay between a bounded number of attempts.
func newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(retryDelay), constants.RetryAttempts-1)
	return backoff.WithContext(b, ctx)
}

// Retry runs op until it succeeds, fails permanently, or runs out of attempts.
func Retry(ctx context.Context, name string, op func() error) error {
	return backoff.RetryNotify(func() error {
		err := op()
		if err != nil && isPermanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}, newBackOff(ctx), func(err error, _ time.Duration) {
		log.Warn().Err(err).Str("op", name).Msg("catalog operation failed, retrying")
	})
}

// RetryValue is Retry for operations that return a value.
func RetryValue[T any](ctx context.Context, name string, op func() (T, error)) (T, error) {
	var out T
	err := Retry(ctx, name, func() error {
		v, err := op()
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
