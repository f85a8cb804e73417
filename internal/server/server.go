// Package server exposes the engine's informational surface and the
// entity-state ingress over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/tfield/dashcast-go/internal/api"
	"github.com/tfield/dashcast-go/internal/apperrors"
	"github.com/tfield/dashcast-go/internal/auth"
	"github.com/tfield/dashcast-go/internal/caster"
	"github.com/tfield/dashcast-go/internal/config"
	"github.com/tfield/dashcast-go/internal/engine"
	"github.com/tfield/dashcast-go/internal/health"
	"github.com/tfield/dashcast-go/internal/states"
)

// Reconciler is the engine surface the API needs.
type Reconciler interface {
	DeviceStatuses() []engine.DeviceStatus
	StatusReport() engine.StatusReport
	CastNow(ctx context.Context, name string) error
	StopNow(ctx context.Context, name string) error
}

// Deps are the collaborators behind the HTTP surface.
type Deps struct {
	Engine   Reconciler
	Recorder *health.Recorder
	States   *states.Store
	Events   *EventHub
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// requestLoggerMiddleware logs all incoming HTTP requests
func requestLoggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		log.Printf("%s %s %d %s", r.Method, r.URL.Path, wrapped.status, time.Since(start).Round(time.Millisecond))
	})
}

// NewHandler builds the HTTP handler.
func NewHandler(cfg config.Config, deps Deps) http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.StripSlashes)
	router.Use(requestLoggerMiddleware)
	router.Use(api.RequestIDMiddleware)
	router.Use(api.RecovererMiddleware)
	router.Use(auth.Middleware(cfg.Server.JWTSecret))

	registerHealthRoutes(router)

	router.Method(http.MethodGet, "/v1/status", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		return api.WriteObject(w, http.StatusOK, deps.Engine.StatusReport())
	}))

	router.Method(http.MethodGet, "/v1/devices", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		return api.WriteList(w, "/v1/devices", deps.Engine.DeviceStatuses(), false)
	}))

	router.Method(http.MethodPost, "/v1/devices/{name}/cast", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		name := chi.URLParam(r, "name")
		if err := deps.Engine.CastNow(r.Context(), name); err != nil {
			return castError(name, err)
		}
		return api.WriteObject(w, http.StatusOK, map[string]any{"device": name, "status": "cast"})
	}))

	router.Method(http.MethodPost, "/v1/devices/{name}/stop", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		name := chi.URLParam(r, "name")
		if err := deps.Engine.StopNow(r.Context(), name); err != nil {
			return castError(name, err)
		}
		return api.WriteObject(w, http.StatusOK, map[string]any{"device": name, "status": "stopped"})
	}))

	router.Method(http.MethodGet, "/v1/health-stats", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		return api.WriteObject(w, http.StatusOK, deps.Recorder.Snapshot())
	}))

	registerStateRoutes(router, deps.States)

	router.Get("/v1/events", deps.Events.Handle)

	return router
}

// registerStateRoutes wires the entity-state ingress: external systems
// push state changes in, which feed the gate checks and state triggers.
func registerStateRoutes(router chi.Router, store *states.Store) {
	router.Method(http.MethodGet, "/v1/states", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		return api.WriteObject(w, http.StatusOK, store.All())
	}))

	router.Method(http.MethodGet, "/v1/states/{entityID}", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		entityID := chi.URLParam(r, "entityID")
		state, ok := store.State(entityID)
		if !ok {
			return apperrors.NewNotFoundResource("entity", entityID)
		}
		return api.WriteObject(w, http.StatusOK, map[string]string{"entity_id": entityID, "state": state})
	}))

	router.Method(http.MethodPut, "/v1/states/{entityID}", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		entityID := chi.URLParam(r, "entityID")
		var body struct {
			State string `json:"state"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return apperrors.NewValidationError("Invalid JSON body", nil)
		}
		if strings.TrimSpace(body.State) == "" {
			return apperrors.NewValidationError("state is required", map[string]any{"field": "state"})
		}
		store.Set(entityID, body.State)
		return api.WriteObject(w, http.StatusOK, map[string]string{"entity_id": entityID, "state": body.State})
	}))
}

func registerHealthRoutes(router chi.Router) {
	router.Method(http.MethodGet, "/v1/health", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		response := map[string]any{
			"status":    "healthy",
			"service":   "dashcast",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		}
		return api.WriteJSON(w, http.StatusOK, response)
	}))
	router.Method(http.MethodGet, "/v1/health/live", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		return api.WriteJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	}))
	router.Method(http.MethodGet, "/v1/health/ready", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		return api.WriteJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	}))
}

// castError maps engine failures to API error codes.
func castError(name string, err error) error {
	switch {
	case errors.Is(err, engine.ErrUnknownDevice):
		return apperrors.NewNotFoundResource("device", name)
	case errors.Is(err, caster.ErrCastInProgress):
		return apperrors.NewAppError(apperrors.ErrorCodeCastInProgress, err.Error(), http.StatusConflict, nil)
	default:
		return apperrors.NewAppError(apperrors.ErrorCodeCastFailed, err.Error(), http.StatusBadGateway, nil)
	}
}
