package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"telegram-weather-bot/internal/domain/model"
	"telegram-weather-bot/internal/domain/ports/adapter"
	"telegram-weather-bot/internal/domain/ports/repository"
	"telegram-weather-bot/internal/infra/metrics"
	"telegram-weather-bot/internal/infra/worker"

	"github.com/rs/zerolog"
)

// PassStats summarises one broadcast pass.
type PassStats struct {
	Recipients     int
	SkippedBlocked int
	SkippedEmpty   int
	Sent           int
	Failed         int
	FailedUsers    int
	Duration       time.Duration
}

type BroadcastUseCase interface {
	// RunPass sends one weather message per stored city to every
	// subscribed, non-blocked user. Only a failure to list recipients is
	// returned; per-user and per-city failures are logged and counted.
	RunPass(ctx context.Context) (PassStats, error)
}

type broadcastUC struct {
	users   repository.UserRepository
	weather WeatherUseCase
	bot     adapter.TelegramBotAdapter
	pool    *worker.Pool
	log     *zerolog.Logger
}

// NewBroadcastUseCase builds the pass runner. With a nil pool users are
// processed one after another on the caller's goroutine.
func NewBroadcastUseCase(
	users repository.UserRepository,
	weather WeatherUseCase,
	bot adapter.TelegramBotAdapter,
	pool *worker.Pool,
	logger *zerolog.Logger,
) BroadcastUseCase {
	l := logger.With().Str("component", "Broadcast").Logger()
	return &broadcastUC{
		users:   users,
		weather: weather,
		bot:     bot,
		pool:    pool,
		log:     &l,
	}
}

func (uc *broadcastUC) RunPass(ctx context.Context) (PassStats, error) {
	start := time.Now()
	var stats PassStats

	subscribed, err := uc.users.FindAllSubscribed(ctx)
	if err != nil {
		uc.log.Error().Err(err).Msg("Failed to fetch subscribed users for broadcast")
		return stats, err
	}

	recipients := make([]*model.User, 0, len(subscribed))
	for _, u := range subscribed {
		switch {
		case u.Deliverable():
			recipients = append(recipients, u)
		case u.IsBlocked:
			stats.SkippedBlocked++
		default:
			stats.SkippedEmpty++
		}
	}
	stats.Recipients = len(recipients)
	metrics.IncBroadcastSkipped("blocked", stats.SkippedBlocked)
	metrics.IncBroadcastSkipped("no_cities", stats.SkippedEmpty)
	uc.log.Info().Int("recipients", stats.Recipients).Int("skipped_blocked", stats.SkippedBlocked).
		Int("skipped_empty", stats.SkippedEmpty).Msg("Starting broadcast pass")

	var sent, failed, failedUsers int64
	deliver := func(ctx context.Context, u *model.User) {
		s, f, err := uc.safeDeliver(ctx, u)
		atomic.AddInt64(&sent, int64(s))
		atomic.AddInt64(&failed, int64(f))
		if err != nil {
			atomic.AddInt64(&failedUsers, 1)
			uc.log.Error().Err(err).Str("chat_id", u.ChatID).Msg("Broadcast to user aborted")
		}
	}

	if uc.pool == nil {
		for _, u := range recipients {
			if ctx.Err() != nil {
				break
			}
			deliver(ctx, u)
		}
	} else {
		var wg sync.WaitGroup
		for _, u := range recipients {
			u := u
			wg.Add(1)
			// Deliveries follow the pass ctx, not the pool's.
			err := uc.pool.Submit(ctx, func(context.Context) error {
				defer wg.Done()
				deliver(ctx, u)
				return nil
			})
			if err != nil {
				wg.Done()
				atomic.AddInt64(&failedUsers, 1)
				uc.log.Warn().Err(err).Str("chat_id", u.ChatID).Msg("Failed to submit broadcast task to worker pool")
				if ctx.Err() != nil || errors.Is(err, worker.ErrPoolStopped) {
					break
				}
			}
		}
		done := make(chan struct{})
		go func() {
			wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			uc.log.Warn().Err(ctx.Err()).Msg("Broadcast pass interrupted; not waiting for queued deliveries")
		}
	}

	stats.Sent = int(atomic.LoadInt64(&sent))
	stats.Failed = int(atomic.LoadInt64(&failed))
	stats.FailedUsers = int(atomic.LoadInt64(&failedUsers))
	stats.Duration = time.Since(start)
	metrics.ObserveBroadcastPass(stats.Duration)
	uc.log.Info().Int("sent", stats.Sent).Int("failed", stats.Failed).Int("failed_users", stats.FailedUsers).
		Dur("duration", stats.Duration).Msg("Broadcast pass finished")
	return stats, nil
}

// safeDeliver isolates one user: a panic anywhere in their cities becomes
// an error and the pass moves on.
func (uc *broadcastUC) safeDeliver(ctx context.Context, u *model.User) (sent, failed int, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	for _, city := range u.CityHistory {
		if ctx.Err() != nil {
			return sent, failed, ctx.Err()
		}
		text := uc.weather.Describe(ctx, city)
		if serr := uc.bot.SendMessage(ctx, u.ChatID, text); serr != nil {
			failed++
			metrics.IncBroadcastMessage("failed")
			uc.log.Warn().Err(serr).Str("chat_id", u.ChatID).Str("city", city).Msg("Failed to send broadcast message")
			continue
		}
		sent++
		metrics.IncBroadcastMessage("sent")
	}
	return sent, failed, nil
}
