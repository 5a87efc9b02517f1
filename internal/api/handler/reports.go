package handler

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/tagwatch/tagwatch/internal/api/respond"
	"github.com/tagwatch/tagwatch/internal/model"
	"github.com/tagwatch/tagwatch/internal/notifications"
	"github.com/tagwatch/tagwatch/internal/state"
)

// PostReport appends a location report to the device's report cache. With
// ?process=true the report also runs through the decision engine right away
// instead of waiting for the next poll.
// @Summary Submit device report
// @Tags reports
// @Accept json
// @Produce json
// @Param userID path string true "User ID"
// @Param deviceID path string true "Device ID"
// @Param process query bool false "Process immediately"
// @Success 200 {object} map[string]string
// @Success 202 {object} map[string]string
// @Failure 400 {object} respond.ErrorResponse
// @Failure 404 {object} respond.ErrorResponse
// @Router /api/v1/users/{userID}/devices/{deviceID}/reports [post]
func (h *Handler) PostReport(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	deviceID := chi.URLParam(r, "deviceID")
	if err := model.ValidateDeviceID(deviceID); err != nil {
		h.writeServiceError(w, r, err, "report")
		return
	}
	process := false
	if v := r.URL.Query().Get("process"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			respond.WriteErrorDetail(w, http.StatusBadRequest, "INVALID_PARAM", "process must be a boolean", err.Error())
			return
		}
		process = b
	}

	var report model.Report
	if !decodeBody(w, r, &report) {
		return
	}
	if report.Timestamp != "" {
		if _, err := model.ParseTimestamp(report.Timestamp); err != nil {
			respond.WriteErrorDetail(w, http.StatusBadRequest, "INVALID_REPORT", "Invalid report timestamp", err.Error())
			return
		}
	}

	unlock := h.store.Lock(uid, state.ResourceReports)
	err := h.store.AppendReport(r.Context(), uid, deviceID, report, h.cfg.ReportCacheSize)
	unlock()
	if err != nil {
		h.writeServiceError(w, r, err, "report")
		return
	}

	if !process {
		respond.WriteMessage(w, http.StatusAccepted, "Report cached")
		return
	}

	unlock = h.store.Lock(uid, state.ResourceConfig)
	devices, err := h.store.LoadDevices(r.Context(), uid)
	unlock()
	if err != nil {
		h.writeServiceError(w, r, err, "report")
		return
	}
	device, found := devices[deviceID]
	if !found {
		h.writeServiceError(w, r, fmt.Errorf("device %s: %w", deviceID, notifications.ErrNotFound), "Device")
		return
	}
	if err := h.engine.ProcessDeviceReport(r.Context(), uid, deviceID, &report, device); err != nil {
		h.writeServiceError(w, r, err, "report")
		return
	}
	respond.WriteMessage(w, http.StatusOK, "Report processed")
}
