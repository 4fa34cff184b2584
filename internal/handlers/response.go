package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/stanstork/stratum-identity/internal/apperr"
)

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

type errorResponse struct {
	Message string `json:"message"`
}

// writeError maps service errors onto status codes. Anything unexpected is
// logged and hidden behind fallback.
func writeError(w http.ResponseWriter, logger zerolog.Logger, err error, fallback string) {
	var ve *apperr.ValidationError
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Message: ve.Message})
	case errors.Is(err, apperr.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Message: err.Error()})
	default:
		logger.Error().Err(err).Msg(fallback)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Message: fallback})
	}
}
