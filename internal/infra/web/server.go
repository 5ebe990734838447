package web

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"telegram-weather-bot/internal/config"
	"telegram-weather-bot/internal/infra/metrics"
	"telegram-weather-bot/internal/usecase"
)

// Login attempts per client: one every six seconds, bursts of five.
const (
	loginRate  = 1.0 / 6
	loginBurst = 5
)

// WebhookHandler consumes one raw provider update.
type WebhookHandler interface {
	HandleUpdate(ctx context.Context, payload []byte) error
}

// SettingsStore is the live configuration the panel reads and edits.
type SettingsStore interface {
	Get() *config.Config
	UpdateCredentials(botToken, weatherKey string) (*config.Config, error)
}

type Deps struct {
	Webhook  WebhookHandler
	Users    usecase.UserUseCase
	Stats    usecase.StatsUseCase
	Settings SettingsStore
	Auth     *AuthManager
	Dev      bool
	Logger   *zerolog.Logger
}

type Server struct {
	webhook  WebhookHandler
	users    usecase.UserUseCase
	stats    usecase.StatsUseCase
	settings SettingsStore
	auth     *AuthManager
	login    *IPRateLimiter
	dev      bool
	log      *zerolog.Logger
}

func NewServer(d Deps) *Server {
	l := d.Logger.With().Str("component", "HTTP").Logger()
	return &Server{
		webhook:  d.Webhook,
		users:    d.Users,
		stats:    d.Stats,
		settings: d.Settings,
		auth:     d.Auth,
		login:    NewIPRateLimiter(rate.Limit(loginRate), loginBurst),
		dev:      d.Dev,
		log:      &l,
	}
}

// LoginLimiter exposes the login bucket map so the caller can run its
// cleanup loop.
func (s *Server) LoginLimiter() *IPRateLimiter { return s.login }

// Router builds the full route table. Admin routes are mounted only when
// panel credentials are configured.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(TraceID)
	r.Use(RequestLog(s.log))
	r.Use(Recover(s.log))

	r.Get("/", s.handleLanding)
	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", metrics.Handler())
	r.Post("/telegram-webhook", s.handleWebhook)

	if s.settings == nil || s.auth == nil || !s.settings.Get().AdminEnabled() {
		s.log.Warn().Msg("admin credentials not configured; admin panel disabled")
		return r
	}

	r.Route("/admin", func(ar chi.Router) {
		ar.Get("/login", s.handleLoginForm)
		ar.With(s.login.Middleware).Post("/login", s.handleLogin)
		ar.Post("/logout", s.handleLogout)

		ar.Group(func(pr chi.Router) {
			pr.Use(s.requireAdmin(false))
			pr.Get("/", s.handleAdminPage)
			pr.Post("/block/{chatID}", s.handleToggleBlock)
			pr.Post("/delete/{chatID}", s.handleDeleteUser)
			pr.Post("/update-settings", s.handleUpdateSettings)
		})
	})

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(s.requireAdmin(true))
		api.Get("/users", s.handleListUsers)
		api.Get("/stats", s.handleStats)
	})

	return r
}

// requireAdmin rejects requests without a valid session. API callers get
// 401; browsers are sent to the login form.
func (s *Server) requireAdmin(api bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, err := s.auth.ParseFromRequest(r); err != nil {
				metrics.IncAdminAction("auth", "unauthorized")
				if api || wantsJSON(r) {
					writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "unauthorized"})
					return
				}
				http.Redirect(w, r, "/admin/login", http.StatusSeeOther)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
