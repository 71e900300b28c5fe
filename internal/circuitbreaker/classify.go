package circuitbreaker

import (
	"context"
	"errors"
	"os"
)

// ClassifyError returns the error weight of a backend call outcome.
//
// Weights:
//   - nil -> 0.0
//   - context.Canceled -> 0.0 (the caller went away, not a backend fault)
//   - timeout (deadline exceeded) -> 1.5
//   - anything else -> 1.0
func ClassifyError(err error) float64 {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, context.Canceled):
		return 0
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, os.ErrDeadlineExceeded):
		return 1.5
	default:
		return 1.0
	}
}
