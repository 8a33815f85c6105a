package service

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/Freeeeeet/conference_booking/internal/model"
)

const (
	conflictRetries = 3
	conflictBackoff = 20 * time.Millisecond
)

// RetryOnConflict re-runs fn while it fails with model.ErrStorageConflict.
// Any other error is returned immediately.
func RetryOnConflict(ctx context.Context, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(conflictRetries, retry.NewExponential(conflictBackoff))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if errors.Is(err, model.ErrStorageConflict) {
			return retry.RetryableError(err)
		}
		return err
	})
}
