// Package retry re-runs idempotent operations with backoff.
//
//	err := retry.Do(ctx, retry.Policy{Attempts: 3}, func(ctx context.Context) error {
//		_, err := store.Upsert(ctx, userID, tier)
//		return err
//	})
//
// Wrap an error with Permanent to stop immediately.
package retry
