package model

import (
	"context"
	"errors"

	"github.com/looplab/fsm"

	"telegram-weather-bot/internal/domain"
)

const (
	StateUnsubscribed = "unsubscribed"
	StateSubscribed   = "subscribed"

	EventSubscribe   = "subscribe"
	EventUnsubscribe = "unsubscribe"
)

// NewSubscriptionFSM builds the two-state subscription lifecycle starting
// from the user's stored flag.
func NewSubscriptionFSM(subscribed bool) *fsm.FSM {
	initial := StateUnsubscribed
	if subscribed {
		initial = StateSubscribed
	}
	return fsm.NewFSM(
		initial,
		fsm.Events{
			{Name: EventSubscribe, Src: []string{StateUnsubscribed}, Dst: StateSubscribed},
			{Name: EventUnsubscribe, Src: []string{StateSubscribed}, Dst: StateUnsubscribed},
		},
		fsm.Callbacks{},
	)
}

// Transition applies event to u. A transition that is not allowed from the
// current state maps to ErrAlreadySubscribed or ErrNotSubscribed and leaves
// u untouched.
func (u *User) Transition(ctx context.Context, event string) error {
	f := NewSubscriptionFSM(u.IsSubscribed)
	if err := f.Event(ctx, event); err != nil {
		var invalid fsm.InvalidEventError
		if errors.As(err, &invalid) {
			if event == EventSubscribe {
				return domain.ErrAlreadySubscribed
			}
			return domain.ErrNotSubscribed
		}
		return err
	}
	u.IsSubscribed = f.Current() == StateSubscribed
	u.Touch()
	return nil
}
