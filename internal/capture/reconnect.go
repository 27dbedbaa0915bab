package capture

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// ReconnectConfig controls the fixed-delay reconnect loop for RTSP_STREAM
// sources. Unlike an exponential-backoff scheme, every retry waits exactly
// Delay before trying again; after the first try, at most MaxAttempts retries
// are made (MaxAttempts+1 tries in all).
type ReconnectConfig struct {
	MaxAttempts int
	Delay       time.Duration
}

// ReconnectState tracks in-flight retry counts for telemetry.
type ReconnectState struct {
	Attempts   int
	Reconnects uint64
}

// ConnectFunc attempts to (re)establish a connection.
type ConnectFunc func(ctx context.Context) error

// RunWithReconnect calls connectFn, retrying up to cfg.MaxAttempts times
// with a fixed cfg.Delay between attempts, until it succeeds, the context is
// cancelled, or attempts are exhausted.
func RunWithReconnect(ctx context.Context, connectFn ConnectFunc, cfg ReconnectConfig, state *ReconnectState, log *slog.Logger) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := connectFn(ctx)
		if err == nil {
			state.Attempts = 0
			return nil
		}

		log.Error("capture: connection failed", "error", err)
		state.Attempts++
		atomic.AddUint64(&state.Reconnects, 1)

		if state.Attempts > cfg.MaxAttempts {
			return fmt.Errorf("capture: max reconnect attempts exceeded (%d): %w", cfg.MaxAttempts, err)
		}

		log.Warn("capture: retrying connection", "attempt", state.Attempts, "max_attempts", cfg.MaxAttempts, "delay", cfg.Delay)

		select {
		case <-time.After(cfg.Delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
