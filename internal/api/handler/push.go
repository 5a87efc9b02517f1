package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/tagwatch/tagwatch/internal/api/respond"
	"github.com/tagwatch/tagwatch/internal/model"
	"github.com/tagwatch/tagwatch/internal/notifications"
)

// Subscribe stores a push subscription. New subscriptions receive a welcome
// notification.
// @Summary Subscribe to push notifications
// @Tags push
// @Accept json
// @Produce json
// @Param userID path string true "User ID"
// @Param subscription body model.Subscription true "Push subscription"
// @Success 200 {object} map[string]string
// @Success 201 {object} map[string]string
// @Failure 400 {object} respond.ErrorResponse
// @Router /api/v1/users/{userID}/subscribe [post]
func (h *Handler) Subscribe(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	var sub model.Subscription
	if !decodeBody(w, r, &sub) {
		return
	}
	created, err := h.notifier.AddSubscription(r.Context(), uid, sub)
	if err != nil {
		h.writeServiceError(w, r, err, "subscription")
		return
	}
	if created {
		respond.WriteMessage(w, http.StatusCreated, "Subscription saved")
		return
	}
	respond.WriteMessage(w, http.StatusOK, "Subscription already exists")
}

type unsubscribeRequest struct {
	Endpoint string `json:"endpoint"`
}

// Unsubscribe removes a push subscription by endpoint.
// @Summary Unsubscribe from push notifications
// @Tags push
// @Accept json
// @Produce json
// @Param userID path string true "User ID"
// @Success 200 {object} map[string]string
// @Failure 400 {object} respond.ErrorResponse
// @Failure 404 {object} respond.ErrorResponse
// @Router /api/v1/users/{userID}/unsubscribe [post]
func (h *Handler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	var req unsubscribeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Endpoint == "" {
		respond.WriteError(w, http.StatusBadRequest, "MISSING_ENDPOINT", "endpoint is required")
		return
	}
	if err := h.notifier.RemoveSubscription(r.Context(), uid, req.Endpoint); err != nil {
		h.writeServiceError(w, r, err, "Subscription")
		return
	}
	respond.WriteMessage(w, http.StatusOK, "Unsubscribed successfully")
}

// SendTestNotification pushes a synthetic notification for a device.
// @Summary Send test notification
// @Tags push
// @Produce json
// @Param userID path string true "User ID"
// @Param deviceID path string true "Device ID"
// @Param testType path string true "Test type" Enums(geofence_entry, geofence_exit, battery_low, generic_test)
// @Success 200 {object} map[string]string
// @Failure 400 {object} respond.ErrorResponse
// @Failure 404 {object} respond.ErrorResponse
// @Router /api/v1/users/{userID}/devices/{deviceID}/test_notification/{testType} [post]
func (h *Handler) SendTestNotification(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	deviceID := chi.URLParam(r, "deviceID")
	n, err := h.engine.SendTestNotification(r.Context(), uid, deviceID, chi.URLParam(r, "testType"))
	if err != nil {
		h.writeServiceError(w, r, err, "Device")
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, map[string]string{
		"message": "Test notification sent",
		"title":   n.Title,
		"tag":     n.Tag,
	})
}

// GenerateIcon renders the round SVG badge referenced by device push icons.
// @Summary Device icon
// @Tags utils
// @Produce image/svg+xml
// @Param label query string false "Label"
// @Param color query string false "Ring colour (#rrggbb)"
// @Param size query int false "Size in px"
// @Success 200 {string} string
// @Router /api/utils/generate_icon [get]
func (h *Handler) GenerateIcon(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	label := q.Get("label")
	if label == "" {
		label = "?"
	}
	color := q.Get("color")
	switch {
	case color == "":
		color = notifications.DefaultColor(label)
	case !notifications.ValidColor(color):
		h.logger.Warn("Invalid icon colour requested, using default", "color", color)
		color = "#70757a"
	}
	size, err := strconv.Atoi(q.Get("size"))
	if err != nil {
		size = 0
	}

	w.Header().Set("Content-Type", "image/svg+xml")
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(notifications.DeviceIconSVG(label, color, size)))
}
