package handler

import (
	"fmt"
	"net/http"
	"slices"

	"github.com/go-chi/chi/v5"

	"github.com/tagwatch/tagwatch/internal/api/respond"
	"github.com/tagwatch/tagwatch/internal/model"
	"github.com/tagwatch/tagwatch/internal/notifications"
	"github.com/tagwatch/tagwatch/internal/state"
)

// --------------------------------------------------------------------------
// Geofences
// --------------------------------------------------------------------------

// geofenceRequest is the writable part of a geofence; the id comes from the
// path.
type geofenceRequest struct {
	Name   string  `json:"name"`
	Lat    float64 `json:"lat"`
	Lng    float64 `json:"lng"`
	Radius float64 `json:"radius"`
}

// ListGeofences returns the user's geofences keyed by id.
// @Summary List geofences
// @Tags config
// @Produce json
// @Param userID path string true "User ID"
// @Success 200 {object} map[string]model.Geofence
// @Router /api/v1/users/{userID}/geofences [get]
func (h *Handler) ListGeofences(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	unlock := h.store.Lock(uid, state.ResourceConfig)
	set, err := h.store.LoadGeofences(r.Context(), uid)
	unlock()
	if err != nil {
		h.writeServiceError(w, r, err, "geofences")
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, set)
}

// PutGeofence creates or replaces one geofence.
// @Summary Save geofence
// @Tags config
// @Accept json
// @Produce json
// @Param userID path string true "User ID"
// @Param geofenceID path string true "Geofence ID"
// @Success 200 {object} model.Geofence
// @Failure 400 {object} respond.ErrorResponse
// @Failure 409 {object} respond.ErrorResponse
// @Router /api/v1/users/{userID}/geofences/{geofenceID} [put]
func (h *Handler) PutGeofence(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	var req geofenceRequest
	if !decodeBody(w, r, &req) {
		return
	}
	g := model.Geofence{
		ID:     chi.URLParam(r, "geofenceID"),
		Name:   req.Name,
		Lat:    req.Lat,
		Lng:    req.Lng,
		Radius: req.Radius,
	}

	unlock := h.store.Lock(uid, state.ResourceConfig)
	set, err := h.store.LoadGeofences(r.Context(), uid)
	if err == nil {
		err = set.Put(g)
	}
	if err == nil {
		err = h.store.SaveGeofences(r.Context(), uid, set)
	}
	unlock()
	if err != nil {
		h.writeServiceError(w, r, err, "geofence")
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, set[g.ID])
}

// DeleteGeofence removes a geofence, unlinks it from every device and drops
// its membership and cooldown state.
// @Summary Delete geofence
// @Tags config
// @Param userID path string true "User ID"
// @Param geofenceID path string true "Geofence ID"
// @Success 200 {object} map[string]string
// @Failure 404 {object} respond.ErrorResponse
// @Router /api/v1/users/{userID}/geofences/{geofenceID} [delete]
func (h *Handler) DeleteGeofence(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "geofenceID")

	if err := h.removeGeofence(r, uid, id); err != nil {
		h.writeServiceError(w, r, err, "Geofence")
		return
	}
	if err := h.engine.ForgetGeofence(r.Context(), uid, id); err != nil {
		h.logger.Warn("Geofence state cleanup failed", "user_id", uid, "geofence_id", id, "error", err)
	}
	respond.WriteMessage(w, http.StatusOK, "Geofence deleted")
}

func (h *Handler) removeGeofence(r *http.Request, uid, id string) error {
	defer h.store.Lock(uid, state.ResourceConfig)()

	set, err := h.store.LoadGeofences(r.Context(), uid)
	if err != nil {
		return err
	}
	if _, ok := set[id]; !ok {
		return fmt.Errorf("geofence %s: %w", id, notifications.ErrNotFound)
	}
	devices, err := h.store.LoadDevices(r.Context(), uid)
	if err != nil {
		return err
	}

	delete(set, id)
	if err := h.store.SaveGeofences(r.Context(), uid, set); err != nil {
		return err
	}

	unlinked := false
	for devID, d := range devices {
		links := slices.DeleteFunc(slices.Clone(d.LinkedGeofences), func(l model.GeofenceLink) bool {
			return l.ID == id
		})
		if len(links) != len(d.LinkedGeofences) {
			d.LinkedGeofences = links
			devices[devID] = d
			unlinked = true
		}
	}
	if !unlinked {
		return nil
	}
	return h.store.SaveDevices(r.Context(), uid, devices)
}

// --------------------------------------------------------------------------
// Devices
// --------------------------------------------------------------------------

// ListDevices returns the user's device configs keyed by device id.
// @Summary List devices
// @Tags config
// @Produce json
// @Param userID path string true "User ID"
// @Success 200 {object} map[string]model.DeviceConfig
// @Router /api/v1/users/{userID}/devices [get]
func (h *Handler) ListDevices(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	unlock := h.store.Lock(uid, state.ResourceConfig)
	devices, err := h.store.LoadDevices(r.Context(), uid)
	unlock()
	if err != nil {
		h.writeServiceError(w, r, err, "devices")
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, devices)
}

// PutDevice saves a device's display config and geofence links. Every link
// must reference an existing geofence.
// @Summary Save device config
// @Tags config
// @Accept json
// @Produce json
// @Param userID path string true "User ID"
// @Param deviceID path string true "Device ID"
// @Success 200 {object} model.DeviceConfig
// @Failure 400 {object} respond.ErrorResponse
// @Router /api/v1/users/{userID}/devices/{deviceID} [put]
func (h *Handler) PutDevice(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	deviceID := chi.URLParam(r, "deviceID")
	if err := model.ValidateDeviceID(deviceID); err != nil {
		h.writeServiceError(w, r, err, "device")
		return
	}
	var d model.DeviceConfig
	if !decodeBody(w, r, &d) {
		return
	}
	if d.Color != "" && !notifications.ValidColor(d.Color) {
		respond.WriteErrorDetail(w, http.StatusBadRequest, "INVALID_DEVICE", "Invalid device config", "color must be #rrggbb")
		return
	}

	unlock := h.store.Lock(uid, state.ResourceConfig)
	defer unlock()

	geofences, err := h.store.LoadGeofences(r.Context(), uid)
	if err != nil {
		h.writeServiceError(w, r, err, "device")
		return
	}
	for _, l := range d.LinkedGeofences {
		if _, ok := geofences[l.ID]; !ok {
			respond.WriteErrorDetail(w, http.StatusBadRequest, "INVALID_DEVICE", "Invalid device config",
				fmt.Sprintf("unknown geofence %q", l.ID))
			return
		}
	}
	devices, err := h.store.LoadDevices(r.Context(), uid)
	if err == nil {
		devices[deviceID] = d
		err = h.store.SaveDevices(r.Context(), uid, devices)
	}
	if err != nil {
		h.writeServiceError(w, r, err, "device")
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, d)
}

// DeleteDevice removes a device's config, cached reports and all of its
// membership, battery and cooldown state.
// @Summary Delete device
// @Tags config
// @Param userID path string true "User ID"
// @Param deviceID path string true "Device ID"
// @Success 200 {object} map[string]string
// @Failure 404 {object} respond.ErrorResponse
// @Router /api/v1/users/{userID}/devices/{deviceID} [delete]
func (h *Handler) DeleteDevice(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	deviceID := chi.URLParam(r, "deviceID")

	unlock := h.store.Lock(uid, state.ResourceConfig)
	devices, err := h.store.LoadDevices(r.Context(), uid)
	if err == nil {
		if _, found := devices[deviceID]; !found {
			err = fmt.Errorf("device %s: %w", deviceID, notifications.ErrNotFound)
		} else {
			delete(devices, deviceID)
			err = h.store.SaveDevices(r.Context(), uid, devices)
		}
	}
	unlock()
	if err != nil {
		h.writeServiceError(w, r, err, "Device")
		return
	}

	unlock = h.store.Lock(uid, state.ResourceReports)
	err = h.store.DeleteDeviceReports(r.Context(), uid, deviceID)
	unlock()
	if err != nil {
		h.logger.Warn("Report cache cleanup failed", "user_id", uid, "device_id", deviceID, "error", err)
	}
	if err := h.engine.ForgetDevice(r.Context(), uid, deviceID); err != nil {
		h.logger.Warn("Device state cleanup failed", "user_id", uid, "device_id", deviceID, "error", err)
	}
	respond.WriteMessage(w, http.StatusOK, "Device deleted")
}
