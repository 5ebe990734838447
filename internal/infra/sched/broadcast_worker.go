package sched

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"telegram-weather-bot/internal/domain"
	"telegram-weather-bot/internal/infra/metrics"
	red "telegram-weather-bot/internal/infra/redis"
	"telegram-weather-bot/internal/usecase"
)

const broadcastLockKey = "broadcast:pass"

// ParseSchedule returns the cron schedule when expr is set, otherwise a
// constant delay of interval.
func ParseSchedule(expr string, interval time.Duration) (cron.Schedule, error) {
	if expr != "" {
		s, err := cron.ParseStandard(expr)
		if err != nil {
			return nil, fmt.Errorf("broadcast cron %q: %w", expr, err)
		}
		return s, nil
	}
	if interval <= 0 {
		return nil, fmt.Errorf("%w: broadcast interval must be positive", domain.ErrInvalidArgument)
	}
	return cron.Every(interval), nil
}

type BroadcastWorker struct {
	schedule   cron.Schedule
	pass       usecase.BroadcastUseCase
	locker     red.Locker
	lockTTL    time.Duration
	runOnStart bool
	log        *zerolog.Logger
}

// NewBroadcastWorker builds the loop. locker may be nil for a single
// replica.
func NewBroadcastWorker(schedule cron.Schedule, pass usecase.BroadcastUseCase, locker red.Locker, lockTTL time.Duration, runOnStart bool, logger *zerolog.Logger) *BroadcastWorker {
	compLog := logger.With().Str("component", "BroadcastWorker").Logger()
	return &BroadcastWorker{
		schedule:   schedule,
		pass:       pass,
		locker:     locker,
		lockTTL:    lockTTL,
		runOnStart: runOnStart,
		log:        &compLog,
	}
}

// Run blocks until ctx is cancelled. Pass failures are logged and never
// end the loop.
func (w *BroadcastWorker) Run(ctx context.Context) error {
	w.log.Info().Bool("run_on_start", w.runOnStart).Msg("Starting broadcast worker")
	if w.runOnStart {
		w.runPass(ctx)
	}

	for {
		next := w.schedule.Next(time.Now())
		w.log.Debug().Time("next", next).Msg("next broadcast scheduled")
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			w.log.Info().Msg("Stopping broadcast worker")
			return ctx.Err()
		case <-timer.C:
			w.runPass(ctx)
		}
	}
}

func (w *BroadcastWorker) runPass(ctx context.Context) {
	defer func() {
		if rec := recover(); rec != nil {
			metrics.IncBroadcastPass("panic")
			w.log.Error().Interface("panic", rec).Msg("broadcast pass panicked")
		}
	}()

	if w.locker != nil {
		token, err := w.locker.TryLock(ctx, broadcastLockKey, w.lockTTL)
		if errors.Is(err, domain.ErrLockHeld) {
			metrics.IncBroadcastPass("skipped")
			w.log.Info().Msg("broadcast pass held by another replica; skipping")
			return
		}
		if err != nil {
			// Redis trouble should not silence broadcasts.
			w.log.Warn().Err(err).Msg("broadcast lock unavailable; running unlocked")
		} else {
			defer func() {
				if err := w.locker.Unlock(context.WithoutCancel(ctx), broadcastLockKey, token); err != nil {
					w.log.Warn().Err(err).Msg("failed to release broadcast lock")
				}
			}()
		}
	}

	stats, err := w.pass.RunPass(ctx)
	if err != nil {
		metrics.IncBroadcastPass("error")
		w.log.Error().Err(err).Msg("broadcast pass failed")
		return
	}
	metrics.IncBroadcastPass("ok")
	if stats.Sent > 0 || stats.Failed > 0 {
		w.log.Info().Int("sent", stats.Sent).Int("failed", stats.Failed).Msg("broadcast pass completed")
	}
}
