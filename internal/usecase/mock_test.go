//go:build !integration

package usecase_test

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"telegram-weather-bot/internal/domain"
	"telegram-weather-bot/internal/domain/model"
	"telegram-weather-bot/internal/domain/ports/adapter"
	"telegram-weather-bot/internal/domain/ports/repository"
	"telegram-weather-bot/internal/infra/i18n"
)

func newTestLogger() *zerolog.Logger {
	l := zerolog.New(nil)
	return &l
}

func newTestTranslator() *i18n.Translator { return i18n.MustDefault() }

func clone(u *model.User) *model.User {
	cp := *u
	cp.CityHistory = append([]string{}, u.CityHistory...)
	return &cp
}

// =============================
// Repositories
// =============================

// MockUserRepo is an in-memory UserRepository. Any Func field overrides the
// default behaviour for that method.
type MockUserRepo struct {
	mu    sync.Mutex
	users map[string]*model.User

	FindByChatIDFunc      func(ctx context.Context, chatID string) (*model.User, error)
	InsertFunc            func(ctx context.Context, u *model.User) error
	UpdateFieldsFunc      func(ctx context.Context, chatID string, upd repository.UserUpdate) error
	AddCityFunc           func(ctx context.Context, chatID, city string, limit int) (bool, error)
	FindAllSubscribedFunc func(ctx context.Context) ([]*model.User, error)
	CountUsersFunc        func(ctx context.Context) (int, error)
}

var _ repository.UserRepository = (*MockUserRepo)(nil)

func NewMockUserRepo() *MockUserRepo {
	return &MockUserRepo{users: make(map[string]*model.User)}
}

// Seed stores u as-is, bypassing Insert.
func (m *MockUserRepo) Seed(u *model.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ChatID] = clone(u)
}

func (m *MockUserRepo) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.users)
}

func (m *MockUserRepo) FindByChatID(ctx context.Context, chatID string) (*model.User, error) {
	if m.FindByChatIDFunc != nil {
		return m.FindByChatIDFunc(ctx, chatID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[chatID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return clone(u), nil
}

func (m *MockUserRepo) Insert(ctx context.Context, u *model.User) error {
	if m.InsertFunc != nil {
		return m.InsertFunc(ctx, u)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[u.ChatID]; ok {
		return domain.ErrAlreadyExists
	}
	m.users[u.ChatID] = clone(u)
	return nil
}

func (m *MockUserRepo) UpdateFields(ctx context.Context, chatID string, upd repository.UserUpdate) error {
	if m.UpdateFieldsFunc != nil {
		return m.UpdateFieldsFunc(ctx, chatID, upd)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[chatID]
	if !ok {
		return domain.ErrNotFound
	}
	if upd.IsSubscribed != nil {
		u.IsSubscribed = *upd.IsSubscribed
	}
	if upd.IsBlocked != nil {
		u.IsBlocked = *upd.IsBlocked
	}
	if upd.CityHistory != nil {
		u.CityHistory = append([]string{}, upd.CityHistory...)
	}
	u.Touch()
	return nil
}

func (m *MockUserRepo) AddCity(ctx context.Context, chatID, city string, limit int) (bool, error) {
	if m.AddCityFunc != nil {
		return m.AddCityFunc(ctx, chatID, city, limit)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[chatID]
	if !ok {
		return false, domain.ErrNotFound
	}
	return u.AddCity(city, limit), nil
}

func (m *MockUserRepo) DeleteByChatID(ctx context.Context, chatID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[chatID]; !ok {
		return domain.ErrNotFound
	}
	delete(m.users, chatID)
	return nil
}

func (m *MockUserRepo) sorted() []*model.User {
	out := make([]*model.User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, clone(u))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChatID < out[j].ChatID })
	return out
}

func (m *MockUserRepo) FindAllSubscribed(ctx context.Context) ([]*model.User, error) {
	if m.FindAllSubscribedFunc != nil {
		return m.FindAllSubscribedFunc(ctx)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.User
	for _, u := range m.sorted() {
		if u.IsSubscribed {
			out = append(out, u)
		}
	}
	return out, nil
}

func (m *MockUserRepo) List(ctx context.Context, offset, limit int) ([]*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.sorted()
	if offset >= len(all) {
		return []*model.User{}, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

func (m *MockUserRepo) CountUsers(ctx context.Context) (int, error) {
	if m.CountUsersFunc != nil {
		return m.CountUsersFunc(ctx)
	}
	return m.Len(), nil
}

func (m *MockUserRepo) count(pred func(*model.User) bool) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, u := range m.users {
		if pred(u) {
			n++
		}
	}
	return n
}

func (m *MockUserRepo) CountSubscribed(ctx context.Context) (int, error) {
	return m.count(func(u *model.User) bool { return u.IsSubscribed }), nil
}

func (m *MockUserRepo) CountBlocked(ctx context.Context) (int, error) {
	return m.count(func(u *model.User) bool { return u.IsBlocked }), nil
}

// =============================
// Adapters
// =============================

// ---- Mock WeatherProvider ----

type MockWeatherProvider struct {
	mu    sync.Mutex
	Calls []string

	FetchFunc func(ctx context.Context, city string) (*model.WeatherReport, error)
}

var _ adapter.WeatherProvider = (*MockWeatherProvider)(nil)

func (m *MockWeatherProvider) Fetch(ctx context.Context, city string) (*model.WeatherReport, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, city)
	m.mu.Unlock()
	if m.FetchFunc != nil {
		return m.FetchFunc(ctx, city)
	}
	return &model.WeatherReport{City: city, Description: "clear sky", TempC: 30}, nil
}

func (m *MockWeatherProvider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// ---- Mock TelegramBotAdapter ----

type SentMessage struct {
	ChatID string
	Text   string
}

type MockTelegramBot struct {
	mu   sync.Mutex
	Sent []SentMessage

	SendMessageFunc func(ctx context.Context, chatID, text string) error
}

var _ adapter.TelegramBotAdapter = (*MockTelegramBot)(nil)

func (m *MockTelegramBot) SendMessage(ctx context.Context, chatID, text string) error {
	if m.SendMessageFunc != nil {
		if err := m.SendMessageFunc(ctx, chatID, text); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sent = append(m.Sent, SentMessage{ChatID: chatID, Text: text})
	return nil
}

func (m *MockTelegramBot) SendButtons(ctx context.Context, chatID, text string, rows [][]adapter.InlineButton) error {
	return m.SendMessage(ctx, chatID, text)
}

func (m *MockTelegramBot) AnswerCallback(ctx context.Context, callbackID string) error { return nil }

// SentTo returns the texts delivered to chatID in send order.
func (m *MockTelegramBot) SentTo(chatID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, s := range m.Sent {
		if s.ChatID == chatID {
			out = append(out, s.Text)
		}
	}
	return out
}
