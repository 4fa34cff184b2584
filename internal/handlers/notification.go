package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/stanstork/stratum-identity/internal/apperr"
	"github.com/stanstork/stratum-identity/internal/authz"
	"github.com/stanstork/stratum-identity/internal/models"
	"github.com/stanstork/stratum-identity/internal/notification"
)

// NotificationHandler serves the tenant's feed of migration and identity
// link outcomes.
type NotificationHandler struct {
	service notification.Service
	logger  zerolog.Logger
}

func NewNotificationHandler(service notification.Service, logger zerolog.Logger) *NotificationHandler {
	return &NotificationHandler{
		service: service,
		logger:  logger.With().Str("handler", "notification").Logger(),
	}
}

// List accepts category (migration or identity_links), unread and limit.
func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := authz.TenantIDFromRequest(r)
	if !ok {
		http.Error(w, "Missing tenant context", http.StatusUnauthorized)
		return
	}

	filter, err := notificationFilter(r)
	if err != nil {
		writeError(w, h.logger, err, "Failed to list notifications")
		return
	}

	page, err := h.service.List(r.Context(), tenantID, filter)
	if err != nil {
		writeError(w, h.logger, err, "Failed to list notifications")
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := authz.TenantIDFromRequest(r)
	if !ok {
		http.Error(w, "Missing tenant context", http.StatusUnauthorized)
		return
	}

	notif, err := h.service.MarkRead(r.Context(), tenantID, mux.Vars(r)["notificationID"])
	if err != nil {
		writeError(w, h.logger, err, "Failed to update notification")
		return
	}
	writeJSON(w, http.StatusOK, notif)
}

func notificationFilter(r *http.Request) (models.NotificationFilter, error) {
	params := r.URL.Query()

	category, ok := models.ParseNotificationCategory(strings.TrimSpace(params.Get("category")))
	if !ok {
		return models.NotificationFilter{}, apperr.Validation("Unknown notification category: %s", params.Get("category"))
	}
	filter := models.NotificationFilter{Category: category}

	if raw := strings.TrimSpace(params.Get("unread")); raw != "" {
		unread, err := strconv.ParseBool(raw)
		if err != nil {
			return models.NotificationFilter{}, apperr.Validation("unread must be a boolean")
		}
		filter.UnreadOnly = unread
	}

	limit, ok := intParam(params.Get("limit"))
	if !ok {
		return models.NotificationFilter{}, apperr.Validation("limit must be an integer")
	}
	filter.Limit = limit
	return filter, nil
}
