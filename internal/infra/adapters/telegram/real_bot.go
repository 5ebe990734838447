package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"telegram-weather-bot/internal/domain"
	"telegram-weather-bot/internal/domain/ports/adapter"
	"telegram-weather-bot/internal/infra/i18n"
	"telegram-weather-bot/internal/infra/metrics"
)

var _ adapter.TelegramBotAdapter = (*RealTelegramBotAdapter)(nil)

// RealTelegramBotAdapter talks to the Bot API. It is built once at startup
// and handed to the ingress and the broadcast loop.
type RealTelegramBotAdapter struct {
	bot *tgbotapi.BotAPI
	log *zerolog.Logger

	mu            sync.Mutex
	cancelPolling context.CancelFunc
}

func NewRealTelegramBotAdapter(token string, logger *zerolog.Logger) (*RealTelegramBotAdapter, error) {
	if token == "" {
		return nil, errors.New("telegram bot token is empty")
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	l := logger.With().Str("component", "TelegramBot").Str("bot", bot.Self.UserName).Logger()
	return &RealTelegramBotAdapter{bot: bot, log: &l}, nil
}

func parseChatID(chatID string) (int64, error) {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: chat id %q", domain.ErrInvalidArgument, chatID)
	}
	return id, nil
}

func (r *RealTelegramBotAdapter) send(ctx context.Context, msg tgbotapi.MessageConfig) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := r.bot.Send(msg); err != nil {
		metrics.IncSendFailure()
		return err
	}
	return nil
}

func (r *RealTelegramBotAdapter) SendMessage(ctx context.Context, chatID string, text string) error {
	id, err := parseChatID(chatID)
	if err != nil {
		return err
	}
	return r.send(ctx, tgbotapi.NewMessage(id, text))
}

func (r *RealTelegramBotAdapter) SendButtons(ctx context.Context, chatID string, text string, rows [][]adapter.InlineButton) error {
	id, err := parseChatID(chatID)
	if err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(id, text)
	if kb := inlineKeyboard(rows); kb != nil {
		msg.ReplyMarkup = *kb
	}
	return r.send(ctx, msg)
}

// inlineKeyboard converts rows to Bot API markup. URL buttons win over
// callback data; a button with neither uses its label as data.
func inlineKeyboard(rows [][]adapter.InlineButton) *tgbotapi.InlineKeyboardMarkup {
	kbRows := make([][]tgbotapi.InlineKeyboardButton, 0, len(rows))
	for _, row := range rows {
		if len(row) == 0 {
			continue
		}
		r := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, btn := range row {
			switch {
			case btn.URL != "":
				r = append(r, tgbotapi.NewInlineKeyboardButtonURL(btn.Text, btn.URL))
			case btn.Data != "":
				r = append(r, tgbotapi.NewInlineKeyboardButtonData(btn.Text, btn.Data))
			default:
				r = append(r, tgbotapi.NewInlineKeyboardButtonData(btn.Text, btn.Text))
			}
		}
		kbRows = append(kbRows, r)
	}
	if len(kbRows) == 0 {
		return nil
	}
	markup := tgbotapi.NewInlineKeyboardMarkup(kbRows...)
	return &markup
}

func (r *RealTelegramBotAdapter) AnswerCallback(ctx context.Context, callbackID string) error {
	if callbackID == "" {
		return nil
	}
	_, err := r.bot.Request(tgbotapi.NewCallback(callbackID, ""))
	return err
}

// RegisterWebhook points the provider at url. An empty url removes any
// webhook so long polling can be used.
func (r *RealTelegramBotAdapter) RegisterWebhook(ctx context.Context, url string) error {
	if url == "" {
		_, err := r.bot.Request(tgbotapi.DeleteWebhookConfig{})
		return err
	}
	wh, err := tgbotapi.NewWebhook(url)
	if err != nil {
		return fmt.Errorf("webhook config: %w", err)
	}
	if _, err := r.bot.Request(wh); err != nil {
		return fmt.Errorf("set webhook: %w", err)
	}
	r.log.Info().Str("url", url).Msg("webhook registered")
	return nil
}

// SetMenuCommands publishes the command list shown in the client menu.
func (r *RealTelegramBotAdapter) SetMenuCommands(ctx context.Context, tr *i18n.Translator) error {
	cmds := tgbotapi.NewSetMyCommands(tgbotapi.BotCommand{Command: "start", Description: tr.T("cmd_start")})
	_, err := r.bot.Request(cmds)
	return err
}

// StartPolling pulls updates and hands them to ing on a fixed set of
// workers until ctx is cancelled.
func (r *RealTelegramBotAdapter) StartPolling(ctx context.Context, ing *Ingress, workers int) error {
	if workers <= 0 {
		workers = 5
	}
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := r.bot.GetUpdatesChan(u)

	ctx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancelPolling = cancel
	r.mu.Unlock()

	var wg sync.WaitGroup
	updateChan := make(chan tgbotapi.Update, 100)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case up, ok := <-updateChan:
					if !ok {
						return
					}
					if err := ing.Process(ctx, up); err != nil {
						r.log.Warn().Err(err).Int("worker", id).Msg("update handling failed")
					}
				}
			}
		}(i)
	}

	for {
		select {
		case <-ctx.Done():
			r.bot.StopReceivingUpdates()
			close(updateChan)
			wg.Wait()
			return ctx.Err()
		case up := <-updates:
			select {
			case updateChan <- up:
			case <-ctx.Done():
			}
		}
	}
}

func (r *RealTelegramBotAdapter) StopPolling() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancelPolling != nil {
		r.cancelPolling()
	}
}
