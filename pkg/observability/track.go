package observability

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Track logs "Enter <name>" and "Exit <name>" around fn. Both records and
// everything fn logs through the derived context share a random temp_id,
// which makes one invocation easy to follow in interleaved output.
func Track(ctx context.Context, logger Logger, name string, fn func(ctx context.Context) error) error {
	ctx = WithFields(ctx,
		String("temp_id", uuid.NewString()[:8]),
		String("func_name", name),
	)

	start := time.Now()
	logger.Info(ctx, "Enter "+name)
	err := fn(ctx)
	if err != nil {
		logger.Info(ctx, "Exit "+name, Duration("elapsed", time.Since(start)), Error(err))
		return err
	}
	logger.Info(ctx, "Exit "+name, Duration("elapsed", time.Since(start)))
	return nil
}
