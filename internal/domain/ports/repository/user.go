package repository

import (
	"context"

	"telegram-weather-bot/internal/domain/model"
)

// -----------------------------
// Users
// -----------------------------

// UserUpdate names the fields a partial update touches. Nil pointers and a
// nil CityHistory leave the stored value unchanged.
type UserUpdate struct {
	IsSubscribed *bool
	IsBlocked    *bool
	CityHistory  []string
}

func (u UserUpdate) Empty() bool {
	return u.IsSubscribed == nil && u.IsBlocked == nil && u.CityHistory == nil
}

// UserRepository is the persistent store of per-chat records. Every call
// reads or writes the store directly; implementations keep no cache.
type UserRepository interface {
	// FindByChatID returns domain.ErrNotFound when no record exists.
	FindByChatID(ctx context.Context, chatID string) (*model.User, error)
	// Insert returns domain.ErrAlreadyExists on a duplicate chat id.
	Insert(ctx context.Context, u *model.User) error
	// UpdateFields merges only the named fields. domain.ErrNotFound if absent.
	UpdateFields(ctx context.Context, chatID string, upd UserUpdate) error
	// AddCity atomically appends city when absent and below limit
	// (limit <= 0 is unbounded). It reports whether the history changed.
	AddCity(ctx context.Context, chatID, city string, limit int) (bool, error)
	// DeleteByChatID returns domain.ErrNotFound when nothing was removed.
	DeleteByChatID(ctx context.Context, chatID string) error
	FindAllSubscribed(ctx context.Context) ([]*model.User, error)
	List(ctx context.Context, offset, limit int) ([]*model.User, error)
	CountUsers(ctx context.Context) (int, error)
	CountSubscribed(ctx context.Context) (int, error)
	CountBlocked(ctx context.Context) (int, error)
}
