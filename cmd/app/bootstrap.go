package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"telegram-weather-bot/internal/application"
	"telegram-weather-bot/internal/config"
	"telegram-weather-bot/internal/infra/i18n"
	"telegram-weather-bot/internal/infra/logging"
)

// botRegistrar is the part of the Telegram adapter used at startup.
type botRegistrar interface {
	SetMenuCommands(ctx context.Context, tr *i18n.Translator) error
	RegisterWebhook(ctx context.Context, url string) error
}

// configureBot publishes the command menu and points Telegram at the right
// update source. Webhook mode registers cfg.WebhookURL; polling mode clears
// any webhook so getUpdates is accepted. A registration error is returned
// and must stop startup; a menu error is only logged.
func configureBot(ctx context.Context, bot botRegistrar, cfg config.BotConfig, tr *i18n.Translator, logger *zerolog.Logger) error {
	if err := bot.SetMenuCommands(ctx, tr); err != nil {
		logger.Warn().Err(err).Msg("set bot commands failed")
	}
	switch cfg.Mode {
	case "webhook":
		if err := bot.RegisterWebhook(ctx, cfg.WebhookURL); err != nil {
			return fmt.Errorf("register webhook %q: %w", cfg.WebhookURL, err)
		}
		logger.Info().Str("url", cfg.WebhookURL).Msg("webhook registered")
	case "polling":
		if err := bot.RegisterWebhook(ctx, ""); err != nil {
			return fmt.Errorf("remove webhook: %w", err)
		}
	default:
		return fmt.Errorf("unknown bot mode %q", cfg.Mode)
	}
	return nil
}

// applyReloads keeps runtime knobs in step with the config file until
// updates is closed or ctx ends.
func applyReloads(ctx context.Context, updates <-chan *config.Config, d *application.Dispatcher, logger *zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-updates:
			if !ok {
				return
			}
			logging.SetLevel(cfg.Log.Level)
			d.SetRejectBlocked(cfg.Bot.RejectBlockedUsers)
			logger.Info().Str("log_level", cfg.Log.Level).
				Bool("reject_blocked_users", cfg.Bot.RejectBlockedUsers).Msg("runtime settings applied")
		}
	}
}
