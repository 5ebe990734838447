package usecase

import (
	"context"

	"telegram-weather-bot/internal/domain/ports/repository"

	"github.com/rs/zerolog"
)

// Compile-time check
var _ StatsUseCase = (*statsUC)(nil)

type Totals struct {
	Users      int `json:"total_users"`
	Subscribed int `json:"subscribed_users"`
	Blocked    int `json:"blocked_users"`
}

type StatsUseCase interface {
	Totals(ctx context.Context) (Totals, error)
}

type statsUC struct {
	users repository.UserRepository
	log   *zerolog.Logger
}

func NewStatsUseCase(users repository.UserRepository, logger *zerolog.Logger) *statsUC {
	return &statsUC{users: users, log: logger}
}

func (s *statsUC) Totals(ctx context.Context) (Totals, error) {
	var t Totals
	var err error
	if t.Users, err = s.users.CountUsers(ctx); err != nil {
		return Totals{}, err
	}
	if t.Subscribed, err = s.users.CountSubscribed(ctx); err != nil {
		return Totals{}, err
	}
	if t.Blocked, err = s.users.CountBlocked(ctx); err != nil {
		return Totals{}, err
	}
	return t, nil
}
