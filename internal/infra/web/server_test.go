//go:build !integration

package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"telegram-weather-bot/internal/config"
	"telegram-weather-bot/internal/domain"
	"telegram-weather-bot/internal/domain/model"
	"telegram-weather-bot/internal/usecase"
)

func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(nil)
	return &logger
}

// ---- mocks ----

type mockWebhook struct {
	payloads [][]byte
	err      error
}

func (m *mockWebhook) HandleUpdate(ctx context.Context, payload []byte) error {
	m.payloads = append(m.payloads, payload)
	return m.err
}

// mockUserUC embeds the interface; unused methods panic if reached.
type mockUserUC struct {
	usecase.UserUseCase
	mu      sync.Mutex
	users   []*model.User
	listErr error
}

func (m *mockUserUC) find(chatID string) (int, bool) {
	for i, u := range m.users {
		if u.ChatID == chatID {
			return i, true
		}
	}
	return -1, false
}

func (m *mockUserUC) List(ctx context.Context, offset, limit int) ([]*model.User, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if offset >= len(m.users) {
		return []*model.User{}, nil
	}
	end := offset + limit
	if end > len(m.users) {
		end = len(m.users)
	}
	return m.users[offset:end], nil
}

func (m *mockUserUC) ToggleBlock(ctx context.Context, chatID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.find(chatID)
	if !ok {
		return false, domain.ErrNotFound
	}
	m.users[i].IsBlocked = !m.users[i].IsBlocked
	return m.users[i].IsBlocked, nil
}

func (m *mockUserUC) Delete(ctx context.Context, chatID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.find(chatID)
	if !ok {
		return domain.ErrNotFound
	}
	m.users = append(m.users[:i], m.users[i+1:]...)
	return nil
}

type mockStatsUC struct {
	totals usecase.Totals
	err    error
}

func (m *mockStatsUC) Totals(ctx context.Context) (usecase.Totals, error) { return m.totals, m.err }

type mockSettings struct {
	cfg     *config.Config
	updated [2]string
	err     error
}

func (m *mockSettings) Get() *config.Config { return m.cfg }

func (m *mockSettings) UpdateCredentials(botToken, weatherKey string) (*config.Config, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.updated = [2]string{botToken, weatherKey}
	m.cfg.Bot.Token = botToken
	m.cfg.Weather.APIKey = weatherKey
	return m.cfg, nil
}

type testEnv struct {
	handler  http.Handler
	webhook  *mockWebhook
	users    *mockUserUC
	stats    *mockStatsUC
	settings *mockSettings
	auth     *AuthManager
}

func newTestEnv() *testEnv {
	cfg := &config.Config{}
	cfg.Admin.Username = "admin"
	cfg.Admin.Password = "s3cret"
	cfg.Bot.Token = "123456:ABCDEF-token"
	cfg.Weather.APIKey = "weather-key-123"

	env := &testEnv{
		webhook: &mockWebhook{},
		users: &mockUserUC{users: []*model.User{
			{ChatID: "42", CityHistory: []string{"Mumbai"}, IsSubscribed: true},
			{ChatID: "7"},
		}},
		stats:    &mockStatsUC{totals: usecase.Totals{Users: 2, Subscribed: 1}},
		settings: &mockSettings{cfg: cfg},
		auth:     NewAuthManager("test-admin-jwt-secret-please-change", false, time.Minute),
	}
	env.handler = NewServer(Deps{
		Webhook:  env.webhook,
		Users:    env.users,
		Stats:    env.stats,
		Settings: env.settings,
		Auth:     env.auth,
		Logger:   newTestLogger(),
	}).Router()
	return env
}

func (e *testEnv) token(t *testing.T) string {
	t.Helper()
	tok, err := e.auth.Mint(httptest.NewRecorder(), "admin")
	if err != nil {
		t.Fatalf("failed to mint test token: %v", err)
	}
	return tok
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

// ---- tests ----

func TestWebhook(t *testing.T) {
	t.Run("ok on success", func(t *testing.T) {
		env := newTestEnv()
		rr := env.do(httptest.NewRequest(http.MethodPost, "/telegram-webhook", strings.NewReader(`{"update_id":1}`)))
		if rr.Code != http.StatusOK || strings.TrimSpace(rr.Body.String()) != `{"status":"ok"}` {
			t.Fatalf("unexpected response %d %s", rr.Code, rr.Body.String())
		}
		if len(env.webhook.payloads) != 1 || string(env.webhook.payloads[0]) != `{"update_id":1}` {
			t.Errorf("payload not forwarded: %q", env.webhook.payloads)
		}
	})

	t.Run("500 with detail on failure", func(t *testing.T) {
		env := newTestEnv()
		env.webhook.err = domain.ErrBotNotInitialized
		rr := env.do(httptest.NewRequest(http.MethodPost, "/telegram-webhook", strings.NewReader(`{}`)))
		if rr.Code != http.StatusInternalServerError {
			t.Fatalf("expected 500, got %d", rr.Code)
		}
		var body map[string]string
		_ = json.NewDecoder(rr.Body).Decode(&body)
		if body["detail"] == "" {
			t.Error("expected a detail field")
		}
	})

	t.Run("500 when no handler is wired", func(t *testing.T) {
		h := NewServer(Deps{Logger: newTestLogger()}).Router()
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/telegram-webhook", strings.NewReader(`{}`)))
		if rr.Code != http.StatusInternalServerError {
			t.Fatalf("expected 500, got %d", rr.Code)
		}
	})

	t.Run("only POST", func(t *testing.T) {
		env := newTestEnv()
		rr := env.do(httptest.NewRequest(http.MethodGet, "/telegram-webhook", nil))
		if rr.Code != http.StatusMethodNotAllowed {
			t.Fatalf("expected 405, got %d", rr.Code)
		}
	})
}

func TestPublicRoutes(t *testing.T) {
	env := newTestEnv()
	for _, path := range []string{"/", "/health", "/metrics"} {
		rr := env.do(httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != http.StatusOK {
			t.Errorf("%s: expected 200, got %d", path, rr.Code)
		}
	}
	if rr := env.do(httptest.NewRequest(http.MethodGet, "/", nil)); rr.Header().Get("X-Request-Id") == "" {
		t.Error("expected a request id header")
	}
}

func TestAdminAuth(t *testing.T) {
	env := newTestEnv()

	t.Run("panel redirects to login without session", func(t *testing.T) {
		rr := env.do(httptest.NewRequest(http.MethodGet, "/admin", nil))
		if rr.Code != http.StatusSeeOther || rr.Header().Get("Location") != "/admin/login" {
			t.Fatalf("expected redirect to login, got %d %q", rr.Code, rr.Header().Get("Location"))
		}
	})

	t.Run("api answers 401 without session", func(t *testing.T) {
		rr := env.do(httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil))
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", rr.Code)
		}
	})

	t.Run("invalid bearer -> 401", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)
		req.Header.Set("Authorization", "Bearer invalid.jwt.token")
		if rr := env.do(req); rr.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", rr.Code)
		}
	})

	t.Run("token from another secret -> 401", func(t *testing.T) {
		other := NewAuthManager("a-different-secret", false, time.Minute)
		tok, _ := other.Mint(httptest.NewRecorder(), "admin")
		req := httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)
		req.Header.Set("Authorization", "Bearer "+tok)
		if rr := env.do(req); rr.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", rr.Code)
		}
	})

	t.Run("form login sets a session cookie", func(t *testing.T) {
		form := url.Values{"username": {"admin"}, "password": {"s3cret"}}
		req := httptest.NewRequest(http.MethodPost, "/admin/login", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rr := env.do(req)
		if rr.Code != http.StatusSeeOther || rr.Header().Get("Location") != "/admin" {
			t.Fatalf("expected redirect to panel, got %d", rr.Code)
		}
		var session *http.Cookie
		for _, c := range rr.Result().Cookies() {
			if c.Name == "admin_session" {
				session = c
			}
		}
		if session == nil || session.Value == "" || !session.HttpOnly {
			t.Fatalf("expected HttpOnly session cookie, got %+v", session)
		}

		req = httptest.NewRequest(http.MethodGet, "/admin", nil)
		req.AddCookie(session)
		rr = env.do(req)
		if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "Mumbai") {
			t.Fatalf("expected panel with users, got %d", rr.Code)
		}
		if strings.Contains(rr.Body.String(), "123456:ABCDEF-token") {
			t.Error("bot token must be redacted on the panel")
		}
	})

	t.Run("wrong password -> 401", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/admin/login", strings.NewReader(`{"username":"admin","password":"nope"}`))
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = "10.0.0.2:1234"
		if rr := env.do(req); rr.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", rr.Code)
		}
	})

	t.Run("login is rate limited per ip", func(t *testing.T) {
		var last int
		for i := 0; i < loginBurst+1; i++ {
			req := httptest.NewRequest(http.MethodPost, "/admin/login", strings.NewReader(`{"username":"x","password":"y"}`))
			req.Header.Set("Content-Type", "application/json")
			req.RemoteAddr = "10.0.0.9:1234"
			last = env.do(req).Code
		}
		if last != http.StatusTooManyRequests {
			t.Fatalf("expected 429 after burst, got %d", last)
		}
	})

	t.Run("logout clears the cookie", func(t *testing.T) {
		rr := env.do(httptest.NewRequest(http.MethodPost, "/admin/logout", nil))
		if rr.Code != http.StatusSeeOther {
			t.Fatalf("expected redirect, got %d", rr.Code)
		}
		cookies := rr.Result().Cookies()
		if len(cookies) != 1 || cookies[0].MaxAge >= 0 {
			t.Errorf("expected expired cookie, got %+v", cookies)
		}
	})
}

func TestAdminActions(t *testing.T) {
	t.Run("toggle block", func(t *testing.T) {
		env := newTestEnv()
		req := httptest.NewRequest(http.MethodPost, "/admin/block/42", nil)
		req.Header.Set("Authorization", "Bearer "+env.token(t))
		req.Header.Set("Accept", "application/json")
		rr := env.do(req)
		if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "User 42 blocked") {
			t.Fatalf("unexpected response %d %s", rr.Code, rr.Body.String())
		}
		if !env.users.users[0].IsBlocked {
			t.Error("expected user 42 to be blocked")
		}
	})

	t.Run("browser form redirects back", func(t *testing.T) {
		env := newTestEnv()
		req := httptest.NewRequest(http.MethodPost, "/admin/block/42", nil)
		req.AddCookie(&http.Cookie{Name: "admin_session", Value: env.token(t)})
		rr := env.do(req)
		if rr.Code != http.StatusSeeOther || rr.Header().Get("Location") != "/admin" {
			t.Fatalf("expected redirect, got %d", rr.Code)
		}
	})

	t.Run("missing user -> 404", func(t *testing.T) {
		env := newTestEnv()
		for _, path := range []string{"/admin/block/999", "/admin/delete/999"} {
			req := httptest.NewRequest(http.MethodPost, path, nil)
			req.Header.Set("Authorization", "Bearer "+env.token(t))
			if rr := env.do(req); rr.Code != http.StatusNotFound {
				t.Errorf("%s: expected 404, got %d", path, rr.Code)
			}
		}
	})

	t.Run("delete", func(t *testing.T) {
		env := newTestEnv()
		req := httptest.NewRequest(http.MethodPost, "/admin/delete/7", nil)
		req.Header.Set("Authorization", "Bearer "+env.token(t))
		req.Header.Set("Accept", "application/json")
		if rr := env.do(req); rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
		if len(env.users.users) != 1 {
			t.Errorf("expected one user left, got %d", len(env.users.users))
		}
	})

	t.Run("update settings from json", func(t *testing.T) {
		env := newTestEnv()
		req := httptest.NewRequest(http.MethodPost, "/admin/update-settings",
			strings.NewReader(`{"telegram_bot_token":"new-token","openweathermap_api_key":"new-key"}`))
		req.Header.Set("Authorization", "Bearer "+env.token(t))
		req.Header.Set("Content-Type", "application/json")
		rr := env.do(req)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d %s", rr.Code, rr.Body.String())
		}
		if env.settings.updated != [2]string{"new-token", "new-key"} {
			t.Errorf("unexpected update %v", env.settings.updated)
		}
	})

	t.Run("update settings requires both values", func(t *testing.T) {
		env := newTestEnv()
		form := url.Values{"telegram_bot_token": {"only-token"}}
		req := httptest.NewRequest(http.MethodPost, "/admin/update-settings", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Authorization", "Bearer "+env.token(t))
		if rr := env.do(req); rr.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rr.Code)
		}
	})

	t.Run("update settings surfaces write failures", func(t *testing.T) {
		env := newTestEnv()
		env.settings.err = errors.New("read-only file system")
		form := url.Values{"telegram_bot_token": {"t"}, "openweathermap_api_key": {"k"}}
		req := httptest.NewRequest(http.MethodPost, "/admin/update-settings", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Authorization", "Bearer "+env.token(t))
		if rr := env.do(req); rr.Code != http.StatusInternalServerError {
			t.Fatalf("expected 500, got %d", rr.Code)
		}
	})
}

func TestAPI(t *testing.T) {
	t.Run("list users with paging", func(t *testing.T) {
		env := newTestEnv()
		req := httptest.NewRequest(http.MethodGet, "/api/v1/users?offset=1&limit=1", nil)
		req.Header.Set("Authorization", "Bearer "+env.token(t))
		rr := env.do(req)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
		var body struct {
			Data   []*model.User `json:"data"`
			Total  int           `json:"total"`
			Limit  int           `json:"limit"`
			Offset int           `json:"offset"`
		}
		if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(body.Data) != 1 || body.Data[0].ChatID != "7" || body.Total != 2 || body.Limit != 1 || body.Offset != 1 {
			t.Errorf("unexpected page %+v", body)
		}
	})

	t.Run("list failure -> 500", func(t *testing.T) {
		env := newTestEnv()
		env.users.listErr = errors.New("db down")
		req := httptest.NewRequest(http.MethodGet, "/api/v1/users", nil)
		req.Header.Set("Authorization", "Bearer "+env.token(t))
		if rr := env.do(req); rr.Code != http.StatusInternalServerError {
			t.Fatalf("expected 500, got %d", rr.Code)
		}
	})

	t.Run("stats", func(t *testing.T) {
		env := newTestEnv()
		req := httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)
		req.Header.Set("Authorization", "Bearer "+env.token(t))
		rr := env.do(req)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
		var got usecase.Totals
		_ = json.NewDecoder(rr.Body).Decode(&got)
		if got != env.stats.totals {
			t.Errorf("expected %+v, got %+v", env.stats.totals, got)
		}
	})
}

func TestAdminDisabledWithoutCredentials(t *testing.T) {
	h := NewServer(Deps{
		Settings: &mockSettings{cfg: &config.Config{}},
		Auth:     NewAuthManager("secret", false, time.Minute),
		Logger:   newTestLogger(),
	}).Router()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/admin/login", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestIPRateLimiterSweep(t *testing.T) {
	l := NewIPRateLimiter(100, 1)
	l.GetLimiter("1.1.1.1").Allow()
	if n := l.sweep(time.Now().Add(time.Second)); n != 1 {
		t.Errorf("expected refilled bucket to be swept, removed %d", n)
	}
}
