package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Server struct {
	connector  *Connector
	dispatcher *Dispatcher
	trigger    *SyncTrigger
	feed       *NotificationFeed
	config     *Config
	logger     *zap.Logger
	metrics    http.Handler
}

func NewServer(connector *Connector, trigger *SyncTrigger, feed *NotificationFeed, config *Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		connector:  connector,
		dispatcher: NewDispatcher(connector),
		trigger:    trigger,
		feed:       feed,
		config:     config,
		logger:     logger.Named("http"),
	}
}

// WithMetricsHandler exposes h on /metrics.
func (s *Server) WithMetricsHandler(h http.Handler) *Server {
	s.metrics = h
	return s
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.HandleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(s.requireUser)

		r.Get("/connections", s.HandleConnections)
		r.Post("/connections/{id}/disconnect", s.HandleDisconnect)
		r.Get("/connect/{provider}", s.HandleConnect)
		r.Get("/reconnect/{provider}", s.HandleConnect)
		r.Get("/callback/{provider}", s.HandleCallback)
		r.Post("/sync", s.HandleSync)
		r.Get("/notifications", s.HandleNotifications)
	})

	return r
}

type userCtxKey struct{}

func contextWithUser(ctx context.Context, userID uuid.UUID) context.Context {
	return context.WithValue(ctx, userCtxKey{}, userID)
}

func userFromRequest(r *http.Request) uuid.UUID {
	id, _ := r.Context().Value(userCtxKey{}).(uuid.UUID)
	return id
}

func (s *Server) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := s.extractUserIDFromJWT(r)
		if err != nil {
			respondError(w, http.StatusUnauthorized, "invalid_token", "Invalid or missing authorization token")
			return
		}
		ctx := contextWithUser(r.Context(), userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) HandleConnections(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := userFromRequest(r)

	if _, err := s.trigger.ObserveDashboard(ctx, userID); err != nil {
		s.logger.Error("initial sync failed", zap.String("user_id", userID.String()), zap.Error(err))
	}

	conns, err := s.connector.GetConnections(ctx, userID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal_error", "Failed to load connections")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"providers":   s.connector.Providers(),
		"connections": conns,
	})
}

func (s *Server) HandleDisconnect(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "Invalid connection id")
		return
	}

	if err := s.connector.Disconnect(r.Context(), userFromRequest(r), id); err != nil {
		if errors.Is(err, ErrNotFound) {
			respondError(w, http.StatusNotFound, "not_found", "Connection not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "internal_error", "Failed to disconnect")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"status": "disconnected",
	})
}

// HandleConnect serves both the first connection and the retry affordance.
func (s *Server) HandleConnect(w http.ResponseWriter, r *http.Request) {
	redirectURL, err := s.dispatcher.Reconnect(r.Context(), userFromRequest(r), chi.URLParam(r, "provider"))
	if err != nil {
		var fe *FlowError
		if errors.As(err, &fe) {
			switch fe.Kind {
			case FailureUnsupportedProvider:
				respondError(w, http.StatusBadRequest, string(fe.Kind), fe.UserMessage())
				return
			case FailureConfiguration:
				respondError(w, http.StatusInternalServerError, string(fe.Kind), fe.UserMessage())
				return
			}
		}
		respondError(w, http.StatusInternalServerError, "internal_error", "Failed to start authorization")
		return
	}

	http.Redirect(w, r, redirectURL, http.StatusFound)
}

func (s *Server) HandleCallback(w http.ResponseWriter, r *http.Request) {
	provider := Provider(chi.URLParam(r, "provider"))
	result, err := s.connector.HandleCallback(r.Context(), userFromRequest(r), provider, r.URL.Query())

	target := s.returnURL(r)
	q := target.Query()
	if err != nil {
		fe := result.Failure
		q.Set("error", string(fe.Kind))
		q.Set("provider", string(provider))
		q.Set("message", fe.UserMessage())
	} else {
		q.Set("connected", string(provider))
	}
	target.RawQuery = q.Encode()

	http.Redirect(w, r, target.String(), http.StatusSeeOther)
}

func (s *Server) returnURL(r *http.Request) *url.URL {
	if s.config.DashboardURL != "" {
		if u, err := url.Parse(s.config.DashboardURL); err == nil {
			return u
		}
	}
	return StripCallbackParams(r.URL)
}

func (s *Server) HandleSync(w http.ResponseWriter, r *http.Request) {
	report, err := s.trigger.Refresh(r.Context(), userFromRequest(r))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal_error", "Failed to sync connections")
		return
	}

	respondJSON(w, http.StatusOK, report)
}

func (s *Server) HandleNotifications(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"notifications": s.feed.Drain(userFromRequest(r)),
	})
}

func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Helper functions

func (s *Server) extractUserIDFromJWT(r *http.Request) (uuid.UUID, error) {
	token, err := extractBearerToken(r)
	if err != nil {
		cookie, cerr := r.Cookie(s.config.JWT.CookieName)
		if cerr != nil || cookie.Value == "" {
			return uuid.Nil, err
		}
		token = cookie.Value
	}

	userID, err := ValidateAccessToken(token, s.config)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid token: %w", err)
	}

	return userID, nil
}

func extractBearerToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", fmt.Errorf("missing authorization header")
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", fmt.Errorf("invalid authorization header format")
	}

	return parts[1], nil
}

func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	respondJSON(w, statusCode, map[string]string{
		"error":   errorCode,
		"message": message,
	})
}
