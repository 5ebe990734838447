//go:build !integration

package telegram

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"telegram-weather-bot/internal/application"
	"telegram-weather-bot/internal/domain"
	"telegram-weather-bot/internal/domain/ports/adapter"
	"telegram-weather-bot/internal/infra/i18n"
)

type recordingDispatcher struct {
	mu     sync.Mutex
	events []application.Event
	reply  application.Reply
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, ev application.Event) application.Reply {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, ev)
	return d.reply
}

type outbound struct {
	chatID  string
	text    string
	buttons [][]adapter.InlineButton
}

type fakeBot struct {
	mu       sync.Mutex
	sent     []outbound
	answered []string
	sendErr  error
}

func (b *fakeBot) SendMessage(ctx context.Context, chatID, text string) error {
	return b.SendButtons(ctx, chatID, text, nil)
}

func (b *fakeBot) SendButtons(ctx context.Context, chatID, text string, rows [][]adapter.InlineButton) error {
	if b.sendErr != nil {
		return b.sendErr
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, outbound{chatID: chatID, text: text, buttons: rows})
	return nil
}

func (b *fakeBot) AnswerCallback(ctx context.Context, callbackID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.answered = append(b.answered, callbackID)
	return nil
}

type fakeLimiter struct {
	allowed bool
	err     error
	keys    []string
}

func (l *fakeLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	l.keys = append(l.keys, key)
	return l.allowed, l.err
}

func newTestIngress(d EventDispatcher, bot adapter.TelegramBotAdapter, lim CommandLimiter) *Ingress {
	logger := zerolog.New(nil)
	return NewIngress(d, bot, lim, 5, i18n.MustDefault(), &logger)
}

const (
	startPayload = `{"update_id":1,"message":{"message_id":10,"date":1700000000,
		"chat":{"id":42,"type":"private"},"text":"/start",
		"entities":[{"type":"bot_command","offset":0,"length":6}]}}`
	textPayload = `{"update_id":2,"message":{"message_id":11,"date":1700000000,
		"chat":{"id":42,"type":"private"},"text":"Mumbai"}}`
	callbackPayload = `{"update_id":3,"callback_query":{"id":"cb-1","from":{"id":42,"is_bot":false,"first_name":"A"},
		"message":{"message_id":12,"date":1700000000,"chat":{"id":42,"type":"private"}},"data":"subscribe"}}`
	helpPayload = `{"update_id":4,"message":{"message_id":13,"date":1700000000,
		"chat":{"id":42,"type":"private"},"text":"/help",
		"entities":[{"type":"bot_command","offset":0,"length":5}]}}`
)

func TestIngress_HandleUpdate(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		payload string
		want    application.Event
	}{
		{"start command is begin", startPayload, application.Event{Kind: application.EventBegin, ChatID: "42"}},
		{"plain text is a message", textPayload, application.Event{Kind: application.EventMessage, ChatID: "42", Text: "Mumbai"}},
		{"button press is a choice", callbackPayload, application.Event{Kind: application.EventChoice, ChatID: "42", Choice: "subscribe"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &recordingDispatcher{reply: application.Reply{Text: "ok"}}
			bot := &fakeBot{}
			ing := newTestIngress(d, bot, nil)

			if err := ing.HandleUpdate(ctx, []byte(tt.payload)); err != nil {
				t.Fatalf("HandleUpdate failed: %v", err)
			}
			if len(d.events) != 1 || d.events[0] != tt.want {
				t.Fatalf("expected %+v, got %+v", tt.want, d.events)
			}
			if len(bot.sent) != 1 || bot.sent[0].chatID != "42" || bot.sent[0].text != "ok" {
				t.Errorf("unexpected outbound %+v", bot.sent)
			}
		})
	}
}

func TestIngress_AnswersCallbacks(t *testing.T) {
	bot := &fakeBot{}
	ing := newTestIngress(&recordingDispatcher{reply: application.Reply{Text: "ok"}}, bot, nil)

	if err := ing.HandleUpdate(context.Background(), []byte(callbackPayload)); err != nil {
		t.Fatalf("HandleUpdate failed: %v", err)
	}
	if len(bot.answered) != 1 || bot.answered[0] != "cb-1" {
		t.Errorf("expected callback cb-1 to be answered, got %v", bot.answered)
	}
}

func TestIngress_IgnoresUninterpretablePayloads(t *testing.T) {
	for name, payload := range map[string]string{
		"malformed json": `{"update_id":`,
		"empty update":   `{"update_id":5}`,
		"other command":  helpPayload,
		"blank text":     `{"update_id":6,"message":{"message_id":1,"date":1,"chat":{"id":42,"type":"private"},"text":"   "}}`,
	} {
		t.Run(name, func(t *testing.T) {
			d := &recordingDispatcher{}
			bot := &fakeBot{}
			ing := newTestIngress(d, bot, nil)

			if err := ing.HandleUpdate(context.Background(), []byte(payload)); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if len(d.events) != 0 || len(bot.sent) != 0 {
				t.Errorf("expected no-op, got events=%v sent=%v", d.events, bot.sent)
			}
		})
	}
}

func TestIngress_BotNotInitialized(t *testing.T) {
	ing := newTestIngress(&recordingDispatcher{}, nil, nil)
	if err := ing.HandleUpdate(context.Background(), []byte(startPayload)); !errors.Is(err, domain.ErrBotNotInitialized) {
		t.Errorf("expected ErrBotNotInitialized, got %v", err)
	}
}

func TestIngress_SendsButtons(t *testing.T) {
	rows := [][]adapter.InlineButton{{{Text: "Subscribe", Data: "subscribe"}}}
	bot := &fakeBot{}
	ing := newTestIngress(&recordingDispatcher{reply: application.Reply{Text: "menu", Buttons: rows}}, bot, nil)

	if err := ing.HandleUpdate(context.Background(), []byte(startPayload)); err != nil {
		t.Fatalf("HandleUpdate failed: %v", err)
	}
	if len(bot.sent) != 1 || len(bot.sent[0].buttons) != 1 {
		t.Errorf("expected a button reply, got %+v", bot.sent)
	}
}

func TestIngress_SendFailure(t *testing.T) {
	t.Run("webhook acks so the event is not replayed", func(t *testing.T) {
		bot := &fakeBot{sendErr: errors.New("forbidden")}
		d := &recordingDispatcher{reply: application.Reply{Text: "ok"}}
		ing := newTestIngress(d, bot, nil)

		if err := ing.HandleUpdate(context.Background(), []byte(textPayload)); err != nil {
			t.Fatalf("expected send failure to be absorbed, got %v", err)
		}
		if len(d.events) != 1 {
			t.Errorf("expected the event dispatched once, got %d", len(d.events))
		}
	})

	t.Run("process reports the failure to the polling loop", func(t *testing.T) {
		bot := &fakeBot{sendErr: errors.New("forbidden")}
		ing := newTestIngress(&recordingDispatcher{reply: application.Reply{Text: "ok"}}, bot, nil)

		up := tgbotapi.Update{Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 42}, Text: "Mumbai"}}
		if err := ing.Process(context.Background(), up); err == nil {
			t.Error("expected send failure to surface from Process")
		}
	})
}

func TestIngress_RateLimit(t *testing.T) {
	ctx := context.Background()

	t.Run("throttled chat gets the limit notice", func(t *testing.T) {
		d := &recordingDispatcher{reply: application.Reply{Text: "ok"}}
		bot := &fakeBot{}
		lim := &fakeLimiter{allowed: false}
		ing := newTestIngress(d, bot, lim)

		if err := ing.HandleUpdate(ctx, []byte(textPayload)); err != nil {
			t.Fatalf("HandleUpdate failed: %v", err)
		}
		if len(d.events) != 0 {
			t.Error("dispatcher should not run when throttled")
		}
		if len(bot.sent) != 1 || bot.sent[0].text != "Rate limit exceeded. Please try again later." {
			t.Errorf("unexpected outbound %+v", bot.sent)
		}
		if len(lim.keys) != 1 || lim.keys[0] != "rate_limit:42:message" {
			t.Errorf("unexpected limiter keys %v", lim.keys)
		}
	})

	t.Run("limiter errors fail open", func(t *testing.T) {
		d := &recordingDispatcher{reply: application.Reply{Text: "ok"}}
		ing := newTestIngress(d, &fakeBot{}, &fakeLimiter{err: errors.New("redis down")})

		if err := ing.HandleUpdate(ctx, []byte(textPayload)); err != nil {
			t.Fatalf("HandleUpdate failed: %v", err)
		}
		if len(d.events) != 1 {
			t.Error("dispatcher should run when the limiter is unavailable")
		}
	})
}

func TestInlineKeyboard(t *testing.T) {
	if kb := inlineKeyboard(nil); kb != nil {
		t.Error("expected nil markup for no rows")
	}
	kb := inlineKeyboard([][]adapter.InlineButton{
		{{Text: "Docs", URL: "https://example.com"}, {Text: "Go", Data: "go"}},
		{},
		{{Text: "plain"}},
	})
	if kb == nil || len(kb.InlineKeyboard) != 2 {
		t.Fatalf("expected two rows, got %+v", kb)
	}
	first := kb.InlineKeyboard[0]
	if first[0].URL == nil || *first[0].URL != "https://example.com" {
		t.Error("expected URL button")
	}
	if first[1].CallbackData == nil || *first[1].CallbackData != "go" {
		t.Error("expected callback data button")
	}
	if d := kb.InlineKeyboard[1][0].CallbackData; d == nil || *d != "plain" {
		t.Error("expected label as fallback data")
	}
}
