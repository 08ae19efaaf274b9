// Package handler implements the jobwatch REST endpoints.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/kiranshivaraju/jobwatch/internal/api/response"
	"github.com/kiranshivaraju/jobwatch/internal/backend"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// decodeBody decodes a JSON body into v and validates its struct tags. It writes the 400 itself
// and reports false on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
		return false
	}
	if err := validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			details := make(map[string][]string, len(verrs))
			for _, fe := range verrs {
				field := strings.ToLower(fe.Field())
				details[field] = append(details[field], field+" failed on "+fe.Tag())
			}
			response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request parameters", details)
			return false
		}
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
		return false
	}
	return true
}

// backendError maps pipeline backend failures to gateway responses.
func backendError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, backend.ErrUnknownJobType):
		response.Error(w, http.StatusBadRequest, "UNKNOWN_JOB_TYPE", err.Error(), nil)
	case errors.Is(err, backend.ErrNotFound):
		response.Error(w, http.StatusNotFound, "BACKEND_NOT_FOUND", err.Error(), nil)
	case errors.Is(err, backend.ErrBackendTimeout):
		response.Error(w, http.StatusGatewayTimeout, "BACKEND_TIMEOUT",
			"The pipeline backend took too long to respond", nil)
	case errors.Is(err, backend.ErrBackendUnreachable):
		response.Error(w, http.StatusBadGateway, "BACKEND_UNAVAILABLE",
			"The pipeline backend is not reachable", nil)
	case errors.Is(err, backend.ErrBackendStatus):
		response.Error(w, http.StatusBadGateway, "BACKEND_ERROR", err.Error(), nil)
	default:
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
			"An unexpected error occurred", nil)
	}
}
