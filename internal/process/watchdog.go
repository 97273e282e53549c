package process

import (
	"context"
	"fmt"
	"time"
)

// watchdog runs health checks against a live process and kills it after
// too many consecutive failures.
type watchdog struct {
	name        string
	check       func(ctx context.Context) error
	interval    time.Duration
	timeout     time.Duration
	maxFailures int
	logger      Logger
}

// wait blocks until exited delivers the process's exit, ctx ends, or the
// health check fails maxFailures times in a row. In the last case kill is
// called and the returned error says so.
func (w *watchdog) wait(ctx context.Context, exited <-chan error, kill func()) error {
	if w.check == nil {
		select {
		case err := <-exited:
			return err
		case <-ctx.Done():
			return <-exited
		}
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case err := <-exited:
			return err

		case <-ctx.Done():
			// CommandContext kills the process; collect its exit.
			return <-exited

		case <-ticker.C:
			checkCtx, cancel := context.WithTimeout(ctx, w.timeout)
			err := w.check(checkCtx)
			cancel()

			if err == nil {
				if failures > 0 {
					w.logger.Info("health check recovered", "name", w.name, "previous_failures", failures)
				}
				failures = 0
				continue
			}

			failures++
			w.logger.Warn("health check failed",
				"name", w.name,
				"error", err,
				"consecutive_failures", failures,
			)
			if failures < w.maxFailures {
				continue
			}

			w.logger.Error("health check failed repeatedly, killing process",
				"name", w.name,
				"failures", failures,
			)
			kill()
			<-exited
			return fmt.Errorf("%s killed after %d failed health checks: %w", w.name, failures, err)
		}
	}
}
