package usecase

import (
	"context"
	"errors"
	"fmt"

	"telegram-weather-bot/internal/domain"
	"telegram-weather-bot/internal/domain/model"
	"telegram-weather-bot/internal/domain/ports/repository"
	"telegram-weather-bot/internal/infra/logging"
	"telegram-weather-bot/internal/infra/metrics"

	"github.com/rs/zerolog"
)

// Compile-time check
var _ UserUseCase = (*userUC)(nil)

// UserUseCase exposes user-related operations used by bot/admin flows.
type UserUseCase interface {
	// Begin ensures a record exists for chatID; created reports a new insert.
	Begin(ctx context.Context, chatID string) (user *model.User, created bool, err error)
	Get(ctx context.Context, chatID string) (*model.User, error)
	Subscribe(ctx context.Context, u *model.User) error
	Unsubscribe(ctx context.Context, u *model.User) error
	AddCity(ctx context.Context, chatID, city string) (bool, error)
	ToggleBlock(ctx context.Context, chatID string) (blocked bool, err error)
	Delete(ctx context.Context, chatID string) error
	List(ctx context.Context, offset, limit int) ([]*model.User, error)
}

type userUC struct {
	users   repository.UserRepository
	cityCap int
	log     *zerolog.Logger
}

func NewUserUseCase(users repository.UserRepository, cityCap int, logger *zerolog.Logger) *userUC {
	return &userUC{
		users:   users,
		cityCap: cityCap,
		log:     logger,
	}
}

func (u *userUC) Begin(ctx context.Context, chatID string) (*model.User, bool, error) {
	defer logging.TraceDuration(u.log, "UserUC.Begin")()

	existing, err := u.users.FindByChatID(ctx, chatID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, false, err
	}

	nu, err := model.NewUser(chatID)
	if err != nil {
		return nil, false, err
	}
	if err := u.users.Insert(ctx, nu); err != nil {
		// Lost a race with a concurrent Begin for the same chat.
		if errors.Is(err, domain.ErrAlreadyExists) {
			existing, ferr := u.users.FindByChatID(ctx, chatID)
			return existing, false, ferr
		}
		return nil, false, err
	}
	metrics.IncUsersRegistered()
	logging.With(ctx, u.log).Info().Msg("user registered")
	return nu, true, nil
}

func (u *userUC) Get(ctx context.Context, chatID string) (*model.User, error) {
	defer logging.TraceDuration(u.log, "UserUC.Get")()
	return u.users.FindByChatID(ctx, chatID)
}

func (u *userUC) Subscribe(ctx context.Context, user *model.User) error {
	return u.transition(ctx, user, model.EventSubscribe)
}

func (u *userUC) Unsubscribe(ctx context.Context, user *model.User) error {
	return u.transition(ctx, user, model.EventUnsubscribe)
}

// transition runs the lifecycle event on a copy and persists only the flag,
// so a rejected event or a failed write leaves the caller's record as read.
func (u *userUC) transition(ctx context.Context, user *model.User, event string) error {
	defer logging.TraceDuration(u.log, "UserUC."+event)()
	if user.IsZero() {
		return domain.ErrInvalidArgument
	}
	next := *user
	if err := next.Transition(ctx, event); err != nil {
		return err
	}
	subscribed := next.IsSubscribed
	if err := u.users.UpdateFields(ctx, user.ChatID, repository.UserUpdate{IsSubscribed: &subscribed}); err != nil {
		return fmt.Errorf("%s: %w", event, err)
	}
	*user = next
	logging.With(ctx, u.log).Info().Bool("subscribed", subscribed).Msg("subscription changed")
	return nil
}

func (u *userUC) AddCity(ctx context.Context, chatID, city string) (bool, error) {
	defer logging.TraceDuration(u.log, "UserUC.AddCity")()
	added, err := u.users.AddCity(ctx, chatID, city, u.cityCap)
	if err != nil {
		return false, err
	}
	if added {
		logging.With(ctx, u.log).Info().Str("city", city).Msg("city added to history")
	}
	return added, nil
}

func (u *userUC) ToggleBlock(ctx context.Context, chatID string) (bool, error) {
	defer logging.TraceDuration(u.log, "UserUC.ToggleBlock")()
	user, err := u.users.FindByChatID(ctx, chatID)
	if err != nil {
		return false, err
	}
	blocked := !user.IsBlocked
	if err := u.users.UpdateFields(ctx, chatID, repository.UserUpdate{IsBlocked: &blocked}); err != nil {
		return false, err
	}
	u.log.Info().Str("chat_id", chatID).Bool("blocked", blocked).Msg("block flag toggled")
	return blocked, nil
}

func (u *userUC) Delete(ctx context.Context, chatID string) error {
	defer logging.TraceDuration(u.log, "UserUC.Delete")()
	if err := u.users.DeleteByChatID(ctx, chatID); err != nil {
		return err
	}
	u.log.Info().Str("chat_id", chatID).Msg("user deleted")
	return nil
}

func (u *userUC) List(ctx context.Context, offset, limit int) ([]*model.User, error) {
	defer logging.TraceDuration(u.log, "UserUC.List")()
	return u.users.List(ctx, offset, limit)
}
