package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tagwatch/tagwatch/internal/api/respond"
)

// GetHistory returns the user's notification history, newest first.
// @Summary Notification history
// @Tags notifications
// @Produce json
// @Param userID path string true "User ID"
// @Success 200 {array} model.HistoryEntry
// @Failure 400 {object} respond.ErrorResponse
// @Router /api/v1/users/{userID}/notifications/history [get]
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	entries, err := h.notifier.History(r.Context(), uid)
	if err != nil {
		h.writeServiceError(w, r, err, "history")
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, entries)
}

// ClearHistory deletes every history entry.
// @Summary Clear notification history
// @Tags notifications
// @Produce json
// @Param userID path string true "User ID"
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/users/{userID}/notifications/history [delete]
func (h *Handler) ClearHistory(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	n, err := h.notifier.ClearHistory(r.Context(), uid)
	if err != nil {
		h.writeServiceError(w, r, err, "history")
		return
	}
	h.logger.Info("History cleared", "user_id", uid, "removed", n)
	respond.WriteJSONObject(w, http.StatusOK, map[string]any{
		"message": "Notification history cleared",
		"removed": n,
	})
}

// MarkRead marks one history entry read.
// @Summary Mark notification read
// @Tags notifications
// @Param userID path string true "User ID"
// @Param entryID path string true "History entry ID"
// @Success 200 {object} map[string]string
// @Failure 404 {object} respond.ErrorResponse
// @Router /api/v1/users/{userID}/notifications/history/{entryID}/read [put]
func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	h.setRead(w, r, true)
}

// MarkUnread marks one history entry unread.
// @Summary Mark notification unread
// @Tags notifications
// @Param userID path string true "User ID"
// @Param entryID path string true "History entry ID"
// @Success 200 {object} map[string]string
// @Failure 404 {object} respond.ErrorResponse
// @Router /api/v1/users/{userID}/notifications/history/{entryID}/unread [put]
func (h *Handler) MarkUnread(w http.ResponseWriter, r *http.Request) {
	h.setRead(w, r, false)
}

func (h *Handler) setRead(w http.ResponseWriter, r *http.Request, read bool) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "entryID")
	if err := h.notifier.SetRead(r.Context(), uid, id, read); err != nil {
		h.writeServiceError(w, r, err, "Notification")
		return
	}
	status := "read"
	if !read {
		status = "unread"
	}
	respond.WriteMessage(w, http.StatusOK, "Notification marked as "+status)
}

// DeleteHistoryEntry removes one history entry.
// @Summary Delete notification
// @Tags notifications
// @Param userID path string true "User ID"
// @Param entryID path string true "History entry ID"
// @Success 200 {object} map[string]string
// @Failure 404 {object} respond.ErrorResponse
// @Router /api/v1/users/{userID}/notifications/history/{entryID} [delete]
func (h *Handler) DeleteHistoryEntry(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	if err := h.notifier.DeleteEntry(r.Context(), uid, chi.URLParam(r, "entryID")); err != nil {
		h.writeServiceError(w, r, err, "Notification")
		return
	}
	respond.WriteMessage(w, http.StatusOK, "Notification deleted")
}
