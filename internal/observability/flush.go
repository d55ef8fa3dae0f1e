package observability

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// FlushTelemetry flushes telemetry buffers before process exit: exporters
// passed as shutdown funcs (trace batchers) first, then logs.
// Call during graceful shutdown after in-flight requests have drained.
func FlushTelemetry(ctx context.Context, logger *zap.Logger, shutdowns ...func(context.Context) error) error {
	var errs []error
	for _, shutdown := range shutdowns {
		if shutdown == nil {
			continue
		}
		if err := shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown exporter: %w", err))
		}
	}
	if logger != nil {
		if err := logger.Sync(); err != nil {
			errs = append(errs, fmt.Errorf("flush logs: %w", err))
		}
	}
	return errors.Join(errs...)
}
