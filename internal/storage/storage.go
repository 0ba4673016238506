// Package storage keeps image bytes and thumbnails in an S3 compatible bucket.
package storage

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/kozaktomas/pixpursuit/internal/constants"
	"github.com/rs/zerolog/log"
)

// ObjectStore puts and deletes public objects by key.
type ObjectStore interface {
	// Put uploads data under key with public-read access and returns its URL.
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	// Delete removes the object stored under key. Missing keys are not an error.
	Delete(ctx context.Context, key string) error
	// URL returns the public URL of key.
	URL(key string) string
}

// ThumbnailKey returns the key the thumbnail of filename is stored under.
func ThumbnailKey(filename string) string {
	return constants.ThumbnailPrefix + filename
}

// retryDelay is a variable so tests can shorten it.
var retryDelay = constants.RetryBackoff

// retry runs op with the same bounded constant back-off the catalog uses.
func retry(ctx context.Context, name string, op func() error) error {
	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(retryDelay), constants.RetryAttempts-1), ctx)
	return backoff.RetryNotify(op, b, func(err error, _ time.Duration) {
		log.Warn().Err(err).Str("op", name).Msg("object store operation failed, retrying")
	})
}
