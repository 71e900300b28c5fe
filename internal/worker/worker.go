// Package worker provides the background tasks that run beside the cache:
// page view recording, rollups and expired entry sweeping.
package worker

import "context"

// Worker is a long-running background task.
type Worker interface {
	// Run blocks until ctx is cancelled or an unrecoverable error occurs.
	Run(ctx context.Context) error
}
