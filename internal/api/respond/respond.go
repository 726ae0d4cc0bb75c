// Package respond is the single point where store errors are translated to
// HTTP status codes. Handlers never pick a status for a typed error
// themselves.
package respond

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/fleethub/fleethub/internal/apperr"
)

// JSON writes v as a JSON response with the given status.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("response encode failed")
	}
}

// Fail writes a JSON error body {"error": msg} with the given status.
func Fail(w http.ResponseWriter, status int, msg string) {
	JSON(w, status, map[string]string{"error": msg})
}

// Error maps a typed store error to its status: Validation → 400,
// NotFound → 404, Conflict → 409. Untyped errors are logged and become 500.
func Error(w http.ResponseWriter, err error) {
	if kind, ok := apperr.KindOf(err); ok {
		switch kind {
		case apperr.KindValidation:
			Fail(w, http.StatusBadRequest, err.Error())
		case apperr.KindNotFound:
			Fail(w, http.StatusNotFound, err.Error())
		case apperr.KindConflict:
			Fail(w, http.StatusConflict, err.Error())
		}
		return
	}
	log.Error().Err(err).Msg("internal error")
	Fail(w, http.StatusInternalServerError, "internal error")
}
