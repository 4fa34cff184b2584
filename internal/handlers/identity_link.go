package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/stanstork/stratum-identity/internal/apperr"
	"github.com/stanstork/stratum-identity/internal/batch"
	"github.com/stanstork/stratum-identity/internal/models"
)

type IdentityLinkService interface {
	LinkIdentities(ctx context.Context, req models.IdentityLinkRequest) (*batch.Completion, error)
}

type IdentityLinkHandler struct {
	service IdentityLinkService
	logger  zerolog.Logger
}

func NewIdentityLinkHandler(service IdentityLinkService, logger zerolog.Logger) *IdentityLinkHandler {
	return &IdentityLinkHandler{
		service: service,
		logger:  logger.With().Str("handler", "identity_link").Logger(),
	}
}

func (h *IdentityLinkHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req models.IdentityLinkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	completion, err := h.service.LinkIdentities(r.Context(), req)
	if apperr.IsValidation(err) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		writeError(w, h.logger, err, "Failed to start identity provider linking")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"tenantId": req.TenantID,
		"batches":  completion.Batches(),
	})
}
