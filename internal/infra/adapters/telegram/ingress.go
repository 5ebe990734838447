package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"telegram-weather-bot/internal/application"
	"telegram-weather-bot/internal/domain"
	"telegram-weather-bot/internal/domain/ports/adapter"
	"telegram-weather-bot/internal/infra/i18n"
	"telegram-weather-bot/internal/infra/logging"
	"telegram-weather-bot/internal/infra/metrics"
	red "telegram-weather-bot/internal/infra/redis"
)

// EventDispatcher is the part of application.Dispatcher the ingress needs.
type EventDispatcher interface {
	Dispatch(ctx context.Context, ev application.Event) application.Reply
}

// CommandLimiter throttles inbound events per chat. Implemented by
// redis.RateLimiter.
type CommandLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// Ingress converts provider updates into dispatcher events and sends the
// reply. The same path serves webhook payloads and polled updates.
type Ingress struct {
	dispatcher EventDispatcher
	bot        adapter.TelegramBotAdapter
	limiter    CommandLimiter
	limit      int
	tr         *i18n.Translator
	log        *zerolog.Logger
}

// NewIngress builds the adapter. limiter may be nil; limit is the number of
// events a chat may send per minute.
func NewIngress(d EventDispatcher, bot adapter.TelegramBotAdapter, limiter CommandLimiter, limit int, tr *i18n.Translator, logger *zerolog.Logger) *Ingress {
	l := logger.With().Str("component", "Ingress").Logger()
	return &Ingress{dispatcher: d, bot: bot, limiter: limiter, limit: limit, tr: tr, log: &l}
}

// HandleUpdate decodes one webhook body. A payload that is not an update,
// or carries nothing the bot reacts to, is logged and ignored. A reply that
// cannot be delivered is logged too: the event has already been applied, so
// a provider retry would only repeat it.
func (i *Ingress) HandleUpdate(ctx context.Context, payload []byte) error {
	if i == nil || i.bot == nil {
		return domain.ErrBotNotInitialized
	}
	var up tgbotapi.Update
	if err := json.Unmarshal(payload, &up); err != nil {
		metrics.IncTelegramUpdate("ignored")
		logging.With(ctx, i.log).Warn().Err(err).Msg("malformed update payload")
		return nil
	}
	if err := i.Process(ctx, up); err != nil {
		logging.With(ctx, i.log).Error().Err(err).Int("update_id", up.UpdateID).Msg("reply not delivered")
	}
	return nil
}

// Process runs one update through the dispatcher and delivers the reply.
// Delivery errors are returned.
func (i *Ingress) Process(ctx context.Context, up tgbotapi.Update) error {
	if i.bot == nil {
		return domain.ErrBotNotInitialized
	}
	if logging.TraceIDFrom(ctx) == "" {
		ctx = logging.WithTraceID(ctx, uuid.NewString())
	}

	ev, callbackID, ok := Classify(up)
	if !ok {
		metrics.IncTelegramUpdate("ignored")
		logging.With(ctx, i.log).Debug().Int("update_id", up.UpdateID).Msg("update ignored")
		return nil
	}
	metrics.IncTelegramUpdate(string(ev.Kind))
	ctx = logging.WithChatID(ctx, ev.ChatID)
	log := logging.With(ctx, i.log)

	if callbackID != "" {
		if err := i.bot.AnswerCallback(ctx, callbackID); err != nil {
			log.Warn().Err(err).Msg("failed to answer callback")
		}
	}

	if !i.allow(ctx, ev) {
		metrics.IncRateLimitTriggered()
		return i.deliver(ctx, ev.ChatID, application.Reply{Text: i.tr.T("rate_limited")})
	}

	reply := i.dispatcher.Dispatch(ctx, ev)
	return i.deliver(ctx, ev.ChatID, reply)
}

// allow fails open: a limiter error lets the event through.
func (i *Ingress) allow(ctx context.Context, ev application.Event) bool {
	if i.limiter == nil || i.limit <= 0 {
		return true
	}
	allowed, err := i.limiter.Allow(ctx, red.ChatCommandKey(ev.ChatID, string(ev.Kind)), i.limit, time.Minute)
	if err != nil {
		logging.With(ctx, i.log).Warn().Err(err).Msg("rate limiter unavailable")
		return true
	}
	return allowed
}

func (i *Ingress) deliver(ctx context.Context, chatID string, r application.Reply) error {
	var err error
	if len(r.Buttons) > 0 {
		err = i.bot.SendButtons(ctx, chatID, r.Text, r.Buttons)
	} else {
		err = i.bot.SendMessage(ctx, chatID, r.Text)
	}
	if err != nil {
		return fmt.Errorf("send reply: %w", err)
	}
	return nil
}

// Classify maps an update to an event. The callback id is set for button
// presses so the caller can acknowledge them. Commands other than /start
// and non-text messages are not events.
func Classify(up tgbotapi.Update) (application.Event, string, bool) {
	switch {
	case up.CallbackQuery != nil:
		q := up.CallbackQuery
		if q.Message == nil || q.Message.Chat == nil {
			return application.Event{}, "", false
		}
		return application.Event{
			Kind:   application.EventChoice,
			ChatID: strconv.FormatInt(q.Message.Chat.ID, 10),
			Choice: q.Data,
		}, q.ID, true

	case up.Message != nil:
		m := up.Message
		if m.Chat == nil {
			return application.Event{}, "", false
		}
		chatID := strconv.FormatInt(m.Chat.ID, 10)
		if m.IsCommand() {
			if m.Command() == "start" {
				return application.Event{Kind: application.EventBegin, ChatID: chatID}, "", true
			}
			return application.Event{}, "", false
		}
		if strings.TrimSpace(m.Text) == "" {
			return application.Event{}, "", false
		}
		return application.Event{Kind: application.EventMessage, ChatID: chatID, Text: m.Text}, "", true
	}
	return application.Event{}, "", false
}
