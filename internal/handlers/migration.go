package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/stanstork/stratum-identity/internal/models"
)

type MigrationService interface {
	CreateMigration(ctx context.Context) (models.MigrationJob, error)
	GetMigrationByID(ctx context.Context, id string) (models.MigrationJob, error)
	GetMigrationsByQuery(ctx context.Context, query string, offset, limit int) (models.MigrationPage, error)
	DeleteMigrationByID(ctx context.Context, id string) error
}

type MigrationHandler struct {
	service MigrationService
	logger  zerolog.Logger
}

func NewMigrationHandler(service MigrationService, logger zerolog.Logger) *MigrationHandler {
	return &MigrationHandler{
		service: service,
		logger:  logger.With().Str("handler", "migration").Logger(),
	}
}

func (h *MigrationHandler) Create(w http.ResponseWriter, r *http.Request) {
	job, err := h.service.CreateMigration(r.Context())
	if err != nil {
		writeError(w, h.logger, err, "Failed to start migration")
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

func (h *MigrationHandler) Get(w http.ResponseWriter, r *http.Request) {
	job, err := h.service.GetMigrationByID(r.Context(), mux.Vars(r)["migrationID"])
	if err != nil {
		writeError(w, h.logger, err, "Failed to get migration")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *MigrationHandler) List(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	offset, ok := intParam(params.Get("offset"))
	if !ok {
		http.Error(w, "offset must be an integer", http.StatusBadRequest)
		return
	}
	limit, ok := intParam(params.Get("limit"))
	if !ok {
		http.Error(w, "limit must be an integer", http.StatusBadRequest)
		return
	}

	page, err := h.service.GetMigrationsByQuery(r.Context(), params.Get("query"), offset, limit)
	if err != nil {
		writeError(w, h.logger, err, "Failed to list migrations")
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *MigrationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteMigrationByID(r.Context(), mux.Vars(r)["migrationID"]); err != nil {
		writeError(w, h.logger, err, "Failed to delete migration")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// intParam parses an optional non-negative query parameter; blank means zero.
func intParam(raw string) (int, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}
