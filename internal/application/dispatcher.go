package application

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog"

	"telegram-weather-bot/internal/domain"
	"telegram-weather-bot/internal/domain/model"
	"telegram-weather-bot/internal/domain/ports/adapter"
	"telegram-weather-bot/internal/infra/i18n"
	"telegram-weather-bot/internal/infra/logging"
	"telegram-weather-bot/internal/usecase"
)

// EventKind classifies an inbound chat event.
type EventKind string

const (
	EventBegin   EventKind = "begin"
	EventChoice  EventKind = "choice"
	EventMessage EventKind = "message"
)

// Menu choices carried as callback data on the inline buttons.
const (
	ChoiceSubscribe   = "subscribe"
	ChoiceUnsubscribe = "unsubscribe"
	ChoiceGetWeather  = "get_weather"
)

// Event is a transport-neutral inbound chat event.
type Event struct {
	Kind   EventKind
	ChatID string
	Choice string
	Text   string
}

// Reply is what the dispatcher wants sent back to the chat. Buttons is nil
// for plain text.
type Reply struct {
	Text    string
	Buttons [][]adapter.InlineButton
}

// Dispatcher turns chat events into user-state changes and a reply.
type Dispatcher struct {
	users         usecase.UserUseCase
	weather       usecase.WeatherUseCase
	tr            *i18n.Translator
	log           *zerolog.Logger
	rejectBlocked atomic.Bool
}

// NewDispatcher wires the dispatcher. With rejectBlocked set, blocked users
// get a refusal instead of having their choices and messages handled.
func NewDispatcher(users usecase.UserUseCase, weather usecase.WeatherUseCase, tr *i18n.Translator, logger *zerolog.Logger, rejectBlocked bool) *Dispatcher {
	l := logger.With().Str("component", "Dispatcher").Logger()
	d := &Dispatcher{
		users:   users,
		weather: weather,
		tr:      tr,
		log:     &l,
	}
	d.rejectBlocked.Store(rejectBlocked)
	return d
}

// SetRejectBlocked switches the blocked-user policy at runtime.
func (d *Dispatcher) SetRejectBlocked(v bool) { d.rejectBlocked.Store(v) }

// Dispatch always returns a reply. Failures inside a handler are logged and
// answered with the generic error text.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) (reply Reply) {
	ctx = logging.WithChatID(logging.WithEvent(ctx, string(ev.Kind)), ev.ChatID)
	log := logging.With(ctx, d.log)

	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Interface("panic", rec).Msg("panic while handling chat event")
			reply = Reply{Text: d.tr.T("generic_error")}
		}
	}()

	var err error
	switch ev.Kind {
	case EventBegin:
		reply, err = d.begin(ctx, ev.ChatID)
	case EventChoice:
		reply, err = d.choice(ctx, ev.ChatID, ev.Choice)
	case EventMessage:
		reply, err = d.message(ctx, ev.ChatID, ev.Text)
	default:
		log.Warn().Msg("unknown event kind")
		return d.menu("unknown_choice")
	}
	if err != nil {
		log.Error().Err(err).Msg("failed to handle chat event")
		return Reply{Text: d.tr.T("generic_error")}
	}
	return reply
}

func (d *Dispatcher) menu(key string) Reply {
	return Reply{
		Text: d.tr.T(key),
		Buttons: [][]adapter.InlineButton{
			{
				{Text: d.tr.T("btn_subscribe"), Data: ChoiceSubscribe},
				{Text: d.tr.T("btn_unsubscribe"), Data: ChoiceUnsubscribe},
			},
			{
				{Text: d.tr.T("btn_get_weather"), Data: ChoiceGetWeather},
			},
		},
	}
}

func (d *Dispatcher) text(key string, args ...interface{}) Reply {
	return Reply{Text: d.tr.T(key, args...)}
}

func (d *Dispatcher) begin(ctx context.Context, chatID string) (Reply, error) {
	if _, _, err := d.users.Begin(ctx, chatID); err != nil {
		return Reply{}, err
	}
	return d.menu("welcome"), nil
}

// lookupUser returns the stored record, or a reply to send instead when the
// chat has not begun or is refused.
func (d *Dispatcher) lookupUser(ctx context.Context, chatID, startKey string) (*model.User, *Reply, error) {
	u, err := d.users.Get(ctx, chatID)
	if errors.Is(err, domain.ErrNotFound) {
		r := d.text(startKey)
		return nil, &r, nil
	}
	if err != nil {
		return nil, nil, err
	}
	if d.rejectBlocked.Load() && u.IsBlocked {
		r := d.text("user_blocked")
		return nil, &r, nil
	}
	return u, nil, nil
}

func (d *Dispatcher) choice(ctx context.Context, chatID, choice string) (Reply, error) {
	u, early, err := d.lookupUser(ctx, chatID, "start_required_choice")
	if err != nil || early != nil {
		return derefReply(early), err
	}

	switch choice {
	case ChoiceSubscribe:
		err := d.users.Subscribe(ctx, u)
		if errors.Is(err, domain.ErrAlreadySubscribed) {
			return d.text("already_subscribed"), nil
		}
		if err != nil {
			return Reply{}, err
		}
		return d.text("subscribed"), nil

	case ChoiceUnsubscribe:
		err := d.users.Unsubscribe(ctx, u)
		if errors.Is(err, domain.ErrNotSubscribed) {
			return d.text("not_subscribed"), nil
		}
		if err != nil {
			return Reply{}, err
		}
		return d.text("unsubscribed"), nil

	case ChoiceGetWeather:
		if !u.IsSubscribed || len(u.CityHistory) == 0 {
			return d.text("history_required"), nil
		}
		lines := d.weather.DescribeAll(ctx, u.CityHistory)
		return d.text("weather_history", strings.Join(lines, "\n")), nil
	}

	logging.With(ctx, d.log).Warn().Str("choice", choice).Msg("unknown menu choice")
	return d.menu("unknown_choice"), nil
}

func (d *Dispatcher) message(ctx context.Context, chatID, text string) (Reply, error) {
	u, early, err := d.lookupUser(ctx, chatID, "start_required_message")
	if err != nil || early != nil {
		return derefReply(early), err
	}
	if !u.IsSubscribed {
		return d.text("subscribe_first"), nil
	}

	city := strings.TrimSpace(text)
	rep, err := d.weather.Lookup(ctx, city)
	if err != nil {
		logging.With(ctx, d.log).Info().Err(err).Str("city", city).Msg("city lookup failed")
		return d.text("invalid_city", city), nil
	}
	if _, err := d.users.AddCity(ctx, chatID, city); err != nil {
		return Reply{}, err
	}
	return d.text("city_weather", city, rep.Summary()), nil
}

func derefReply(r *Reply) Reply {
	if r == nil {
		return Reply{}
	}
	return *r
}
