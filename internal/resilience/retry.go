// Package resilience provides the retry policy applied to DAL calls that
// fail with [memcore.StoreTransient]: a single retry after an exponential
// backoff delay, mirroring the backoff shape used elsewhere in this
// codebase for connection recovery.
package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/relaymem/core/pkg/memcore"
)

// DefaultBackoff is the delay before the single retry attempt.
const DefaultBackoff = 250 * time.Millisecond

// RetryOnce invokes fn. If it fails with a [memcore.Error] of kind
// StoreTransient, it waits backoff (DefaultBackoff if zero) and invokes fn
// exactly once more, returning whatever that second attempt produces.
// Any other error kind, or a second StoreTransient failure, is returned
// as-is — StoreTransient is retried at most once before being surfaced.
func RetryOnce(ctx context.Context, backoff time.Duration, fn func() error) error {
	if backoff <= 0 {
		backoff = DefaultBackoff
	}

	err := fn()
	if err == nil {
		return nil
	}

	var me *memcore.Error
	if !errors.As(err, &me) || me.Kind != memcore.StoreTransient {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(backoff):
	}

	return fn()
}
