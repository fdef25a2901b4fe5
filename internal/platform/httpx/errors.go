package httpx

import (
	"errors"
	"net/http"

	"github.com/facturio/facturio/internal/shared"
)

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	var ve *shared.ValidationError
	var de *shared.DomainError

	switch {
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.As(err, &ve):
		Problem(w, http.StatusUnprocessableEntity, "Validation Failed", ve.Error())
	case errors.As(err, &de):
		Problem(w, http.StatusConflict, "Operation Not Allowed", de.Reason)
	case shared.IsRetryable(err):
		w.Header().Set("Retry-After", "1")
		Problem(w, http.StatusServiceUnavailable, "Temporarily Unavailable", "the resource is locked, retry the request")
	case errors.Is(err, shared.ErrIdempotencyConflict):
		Problem(w, http.StatusConflict, "Duplicate Request", err.Error())
	case errors.Is(err, shared.ErrConflict):
		Problem(w, http.StatusConflict, "Conflict", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
