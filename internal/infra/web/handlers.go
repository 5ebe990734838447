package web

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"telegram-weather-bot/internal/domain"
	"telegram-weather-bot/internal/domain/model"
	"telegram-weather-bot/internal/infra/logging"
	"telegram-weather-bot/internal/infra/metrics"
)

const (
	maxWebhookBody = 1 << 20
	defaultPage    = 50
	adminPageSize  = 200
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json") ||
		strings.HasPrefix(r.Header.Get("Content-Type"), "application/json")
}

// respondAction finishes an admin form action: JSON for API clients, a
// redirect back to the panel for browsers.
func respondAction(w http.ResponseWriter, r *http.Request, msg string) {
	if wantsJSON(r) {
		writeJSON(w, http.StatusOK, map[string]string{"message": msg})
		return
	}
	http.Redirect(w, r, "/admin", http.StatusSeeOther)
}

func respondError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	if wantsJSON(r) {
		writeJSON(w, status, map[string]string{"detail": msg})
		return
	}
	http.Error(w, msg, status)
}

// ---- public ----

func (s *Server) handleLanding(w http.ResponseWriter, r *http.Request) {
	renderHTML(w, http.StatusOK, landingPage, nil)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	log := logging.With(r.Context(), s.log)
	if s.webhook == nil {
		log.Error().Err(domain.ErrBotNotInitialized).Msg("webhook called before bot init")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": domain.ErrBotNotInitialized.Error()})
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		log.Warn().Err(err).Msg("failed to read webhook body")
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "unreadable body"})
		return
	}
	if err := s.webhook.HandleUpdate(r.Context(), body); err != nil {
		log.Error().Err(err).Msg("webhook update failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ---- session ----

func (s *Server) handleLoginForm(w http.ResponseWriter, r *http.Request) {
	renderHTML(w, http.StatusOK, loginPage, loginView{})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var user, pass string
	if wantsJSON(r) {
		var req struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, r, http.StatusBadRequest, "invalid request body")
			return
		}
		user, pass = req.Username, req.Password
	} else {
		if err := r.ParseForm(); err != nil {
			respondError(w, r, http.StatusBadRequest, "invalid form")
			return
		}
		user, pass = r.PostForm.Get("username"), r.PostForm.Get("password")
	}

	admin := s.settings.Get().Admin
	if !credentialsMatch(user, pass, admin.Username, admin.Password) {
		metrics.IncAdminAction("login", "unauthorized")
		logging.With(r.Context(), s.log).Warn().Str("username", user).Msg("admin login rejected")
		if wantsJSON(r) {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "invalid credentials"})
			return
		}
		renderHTML(w, http.StatusUnauthorized, loginPage, loginView{Error: "Invalid credentials"})
		return
	}

	token, err := s.auth.Mint(w, user)
	if err != nil {
		metrics.IncAdminAction("login", "error")
		respondError(w, r, http.StatusInternalServerError, "failed to create session")
		return
	}
	metrics.IncAdminAction("login", "ok")
	if wantsJSON(r) {
		writeJSON(w, http.StatusOK, map[string]string{"token": token})
		return
	}
	http.Redirect(w, r, "/admin", http.StatusSeeOther)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.auth.Clear(w)
	http.Redirect(w, r, "/admin/login", http.StatusSeeOther)
}

// ---- panel ----

func (s *Server) handleAdminPage(w http.ResponseWriter, r *http.Request) {
	users, err := s.users.List(r.Context(), 0, adminPageSize)
	if err != nil {
		logging.With(r.Context(), s.log).Error().Err(err).Msg("failed to list users")
		http.Error(w, "Failed to list users", http.StatusInternalServerError)
		return
	}
	cfg := s.settings.Get()
	renderHTML(w, http.StatusOK, adminPage, adminView{
		Users:      users,
		BotToken:   logging.Redact(cfg.Bot.Token, s.dev),
		WeatherKey: logging.Redact(cfg.Weather.APIKey, s.dev),
	})
}

func (s *Server) handleToggleBlock(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")
	blocked, err := s.users.ToggleBlock(r.Context(), chatID)
	if errors.Is(err, domain.ErrNotFound) {
		metrics.IncAdminAction("block", "not_found")
		respondError(w, r, http.StatusNotFound, "User not found")
		return
	}
	if err != nil {
		metrics.IncAdminAction("block", "error")
		logging.With(r.Context(), s.log).Error().Err(err).Str("chat_id", chatID).Msg("toggle block failed")
		respondError(w, r, http.StatusInternalServerError, "Failed to update user")
		return
	}
	metrics.IncAdminAction("block", "ok")
	state := "unblocked"
	if blocked {
		state = "blocked"
	}
	respondAction(w, r, "User "+chatID+" "+state)
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")
	err := s.users.Delete(r.Context(), chatID)
	if errors.Is(err, domain.ErrNotFound) {
		metrics.IncAdminAction("delete", "not_found")
		respondError(w, r, http.StatusNotFound, "User not found")
		return
	}
	if err != nil {
		metrics.IncAdminAction("delete", "error")
		logging.With(r.Context(), s.log).Error().Err(err).Str("chat_id", chatID).Msg("delete user failed")
		respondError(w, r, http.StatusInternalServerError, "Failed to delete user")
		return
	}
	metrics.IncAdminAction("delete", "ok")
	respondAction(w, r, "User "+chatID+" deleted")
}

type settingsRequest struct {
	BotToken   string `json:"telegram_bot_token"`
	WeatherKey string `json:"openweathermap_api_key"`
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, r, http.StatusBadRequest, "invalid request body")
			return
		}
	} else {
		if err := r.ParseForm(); err != nil {
			respondError(w, r, http.StatusBadRequest, "invalid form")
			return
		}
		req.BotToken = r.PostForm.Get("telegram_bot_token")
		req.WeatherKey = r.PostForm.Get("openweathermap_api_key")
	}
	req.BotToken = strings.TrimSpace(req.BotToken)
	req.WeatherKey = strings.TrimSpace(req.WeatherKey)
	if req.BotToken == "" || req.WeatherKey == "" {
		metrics.IncAdminAction("settings", "invalid")
		respondError(w, r, http.StatusBadRequest, "telegram_bot_token and openweathermap_api_key are required")
		return
	}

	if _, err := s.settings.UpdateCredentials(req.BotToken, req.WeatherKey); err != nil {
		metrics.IncAdminAction("settings", "error")
		logging.With(r.Context(), s.log).Error().Err(err).Msg("settings update failed")
		respondError(w, r, http.StatusInternalServerError, "Failed to save settings")
		return
	}
	metrics.IncAdminAction("settings", "ok")
	logging.With(r.Context(), s.log).Info().Msg("credentials updated; bot token takes effect after restart")
	respondAction(w, r, "Settings updated")
}

// ---- JSON API ----

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 500 {
		limit = defaultPage
	}
	if offset < 0 {
		offset = 0
	}

	users, err := s.users.List(r.Context(), offset, limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "Failed to list users"})
		return
	}
	totals, err := s.stats.Totals(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "Failed to count users"})
		return
	}
	if users == nil {
		users = []*model.User{}
	}

	writeJSON(w, http.StatusOK, struct {
		Data   []*model.User `json:"data"`
		Total  int           `json:"total"`
		Limit  int           `json:"limit"`
		Offset int           `json:"offset"`
	}{
		Data:   users,
		Total:  totals.Users,
		Limit:  limit,
		Offset: offset,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	totals, err := s.stats.Totals(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "Failed to get totals"})
		return
	}
	writeJSON(w, http.StatusOK, totals)
}
