// Package handler provides HTTP handlers for all API endpoints.
// Handlers call the state store and notification services directly; there
// is no separate service layer.
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tagwatch/tagwatch/internal/api/respond"
	"github.com/tagwatch/tagwatch/internal/config"
	"github.com/tagwatch/tagwatch/internal/model"
	"github.com/tagwatch/tagwatch/internal/notifications"
	"github.com/tagwatch/tagwatch/internal/state"
)

const maxBodyBytes = 1 << 20

// Handler holds shared dependencies for all endpoint handlers.
type Handler struct {
	store    *state.Store
	engine   *notifications.Engine
	notifier *notifications.Notifier
	cfg      *config.Config
	logger   *slog.Logger
}

// New creates a Handler with shared dependencies.
func New(store *state.Store, engine *notifications.Engine, notifier *notifications.Notifier, cfg *config.Config, logger *slog.Logger) *Handler {
	return &Handler{
		store:    store,
		engine:   engine,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger,
	}
}

// Root serves API info at /.
// @Summary API root info
// @Tags meta
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router / [get]
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSONObject(w, http.StatusOK, map[string]any{
		"name":    "tagwatch",
		"status":  "running",
		"backend": h.cfg.StateBackend,
		"docs":    "/docs",
		"features": map[string]bool{
			"web_push": h.cfg.VAPIDEnabled(),
			"fcm":      h.cfg.FirebaseCredentialsFile != "",
			"mqtt":     h.cfg.MQTTEnabled(),
		},
	})
}

// HealthCheck returns basic health status.
// @Summary Health check
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /health [get]
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSONObject(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// HealthCheckStore verifies the state backend is reachable.
// @Summary State store health check
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 503 {object} map[string]interface{}
// @Router /health/store [get]
func (h *Handler) HealthCheckStore(w http.ResponseWriter, r *http.Request) {
	var err error
	if hc, ok := h.store.Backend().(state.HealthChecker); ok {
		err = hc.HealthCheck(r.Context())
	} else {
		_, err = h.store.Users(r.Context())
	}
	if err != nil {
		h.logger.Warn("Store health check failed", "error", err)
		respond.WriteJSONObject(w, http.StatusServiceUnavailable, map[string]any{
			"status":    "unhealthy",
			"store":     "unreachable",
			"backend":   h.cfg.StateBackend,
			"error":     "State store check failed",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"store":     "connected",
		"backend":   h.cfg.StateBackend,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// GetVAPIDPublicKey returns the key browsers need to subscribe.
// @Summary VAPID public key
// @Tags push
// @Produce json
// @Success 200 {object} map[string]string
// @Failure 503 {object} respond.ErrorResponse
// @Router /api/v1/vapid_public_key [get]
func (h *Handler) GetVAPIDPublicKey(w http.ResponseWriter, r *http.Request) {
	if !h.cfg.VAPIDEnabled() {
		respond.WriteError(w, http.StatusServiceUnavailable, "PUSH_DISABLED", "Web Push is not configured")
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, map[string]string{"publicKey": h.cfg.VAPIDPublicKey})
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

// userID reads and validates the {userID} path parameter, writing a 400 on
// failure.
func userID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "userID")
	if err := state.ValidateUserID(id); err != nil {
		respond.WriteErrorDetail(w, http.StatusBadRequest, "INVALID_USER", "Invalid user id", err.Error())
		return "", false
	}
	return id, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		respond.WriteErrorDetail(w, http.StatusBadRequest, "INVALID_BODY", "Request body must be valid JSON", err.Error())
		return false
	}
	return true
}

// writeServiceError maps domain errors onto HTTP statuses.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error, what string) {
	switch {
	case errors.Is(err, notifications.ErrNotFound):
		respond.WriteError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("%s not found", what))
	case errors.Is(err, notifications.ErrUnknownTestType):
		respond.WriteErrorDetail(w, http.StatusBadRequest, "INVALID_TYPE", "Invalid notification type for testing", err.Error())
	case errors.Is(err, model.ErrInvalidSubscription):
		respond.WriteErrorDetail(w, http.StatusBadRequest, "INVALID_SUBSCRIPTION", "Invalid subscription object", err.Error())
	case errors.Is(err, model.ErrGeofenceConflict):
		respond.WriteErrorDetail(w, http.StatusConflict, "CONFLICT", "Geofence name already in use", err.Error())
	case isGeofenceValidation(err):
		respond.WriteErrorDetail(w, http.StatusBadRequest, "INVALID_GEOFENCE", "Invalid geofence", err.Error())
	case errors.Is(err, model.ErrInvalidDeviceID):
		respond.WriteErrorDetail(w, http.StatusBadRequest, "INVALID_DEVICE", "Invalid device id", err.Error())
	case errors.Is(err, model.ErrInvalidGeofenceID):
		respond.WriteErrorDetail(w, http.StatusBadRequest, "INVALID_GEOFENCE", "Invalid geofence id", err.Error())
	case errors.Is(err, state.ErrInvalidUserID):
		respond.WriteErrorDetail(w, http.StatusBadRequest, "INVALID_USER", "Invalid user id", err.Error())
	default:
		h.logger.Error("Request failed", "path", r.URL.Path, "error", err)
		respond.WriteError(w, http.StatusInternalServerError, "INTERNAL", fmt.Sprintf("Failed to process %s", what))
	}
}

func isGeofenceValidation(err error) bool {
	return errors.Is(err, model.ErrGeofenceName) ||
		errors.Is(err, model.ErrGeofenceRadius) ||
		errors.Is(err, model.ErrGeofenceLat) ||
		errors.Is(err, model.ErrGeofenceLng)
}
