package storage

import (
	"context"
	"fmt"
	"log/slog"
)

// saveAttempts is the total number of tries for one save, including the
// first. No backoff between attempts.
const saveAttempts = 3

// WithRetry runs op, retrying transient failures up to the fixed attempt
// bound. Non-transient errors propagate immediately. Both backends route
// their save path through here.
func WithRetry(ctx context.Context, transient func(error) bool, op func(context.Context) error) error {
	var err error
	for attempt := 1; attempt <= saveAttempts; attempt++ {
		if err = op(ctx); err == nil {
			return nil
		}
		if !transient(err) {
			return err
		}
		if ctx.Err() != nil {
			return err
		}
		if attempt < saveAttempts {
			slog.Warn("Transient storage failure, retrying save",
				"attempt", attempt,
				"max_attempts", saveAttempts,
				"error", err)
		}
	}
	return fmt.Errorf("save failed after %d attempts: %w", saveAttempts, err)
}
