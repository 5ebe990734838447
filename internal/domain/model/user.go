package model

import (
	"strings"
	"time"

	"telegram-weather-bot/internal/domain"
)

// User is the per-chat subscription record. ChatID is the Telegram chat
// identifier in string form and never changes once the record exists.
type User struct {
	ChatID       string    `bson:"chat_id" json:"chat_id"`
	CityHistory  []string  `bson:"city_history" json:"city_history"`
	IsSubscribed bool      `bson:"is_subscribed" json:"is_subscribed"`
	IsBlocked    bool      `bson:"is_blocked" json:"is_blocked"`
	CreatedAt    time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt    time.Time `bson:"updated_at" json:"updated_at"`
}

func NewUser(chatID string) (*User, error) {
	chatID = strings.TrimSpace(chatID)
	if chatID == "" {
		return nil, domain.ErrInvalidArgument
	}
	now := time.Now().UTC()
	return &User{
		ChatID:      chatID,
		CityHistory: []string{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

func (u *User) IsZero() bool { return u == nil || u.ChatID == "" }
func (u *User) Touch()       { u.UpdatedAt = time.Now().UTC() }

// HasCity reports whether city is already stored. Matching is exact.
func (u *User) HasCity(city string) bool {
	for _, c := range u.CityHistory {
		if c == city {
			return true
		}
	}
	return false
}

// AddCity appends city unless it is already present or the history has
// reached limit (limit <= 0 means unbounded). It reports whether the
// history changed.
func (u *User) AddCity(city string, limit int) bool {
	if city == "" || u.HasCity(city) {
		return false
	}
	if limit > 0 && len(u.CityHistory) >= limit {
		return false
	}
	u.CityHistory = append(u.CityHistory, city)
	u.Touch()
	return true
}

// Deliverable is true when the broadcast loop should send to this user.
func (u *User) Deliverable() bool {
	return u.IsSubscribed && !u.IsBlocked && len(u.CityHistory) > 0
}
