package observability

import (
	"context"
	"errors"
	"fmt"
	"syscall"

	"go.uber.org/zap"
)

// FlushTelemetry syncs the logger during shutdown. Metrics are scraped, so there is
// nothing to push. Sync errors from a terminal or pipe on stderr are ignored.
func FlushTelemetry(ctx context.Context, logger *zap.Logger) error {
	if logger == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("flush logs: %w", err)
	}
	if err := logger.Sync(); err != nil && !isUnsyncableOutput(err) {
		return fmt.Errorf("flush logs: %w", err)
	}
	return nil
}

func isUnsyncableOutput(err error) bool {
	return errors.Is(err, syscall.EINVAL) || errors.Is(err, syscall.ENOTTY) || errors.Is(err, syscall.EBADF)
}
