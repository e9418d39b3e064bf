package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// cronLogger adapts slog to the cron.Logger interface.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err.Error())...)
}

// newScheduler creates a cron scheduler whose jobs never overlap with
// themselves and whose panics are recovered.
func newScheduler(logger *slog.Logger) *cron.Cron {
	cl := cronLogger{logger: logger}
	return cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
}

// scheduleIncrementalSync registers run on spec. An empty spec disables the
// job. run receives ctx, which outlives single runs and ends on shutdown.
func scheduleIncrementalSync(ctx context.Context, c *cron.Cron, spec string, run func(context.Context) error, logger *slog.Logger) error {
	if spec == "" {
		logger.Info("incremental sync schedule disabled")
		return nil
	}

	_, err := c.AddFunc(spec, func() {
		if ctx.Err() != nil {
			return
		}
		if err := run(ctx); err != nil {
			logger.ErrorContext(ctx, "incremental sync failed", slog.String("error", err.Error()))
		}
	})
	if err != nil {
		return fmt.Errorf("schedule incremental sync %q: %w", spec, err)
	}
	logger.Info("incremental sync scheduled", slog.String("schedule", spec))
	return nil
}

// stopScheduler stops c from starting new runs, cancels the running job
// through cancelJobs and waits for it to return or for ctx to end.
func stopScheduler(ctx context.Context, c *cron.Cron, cancelJobs context.CancelFunc) error {
	done := c.Stop().Done()
	cancelJobs()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for scheduled sync: %w", ctx.Err())
	}
}
