package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/warp/bakery-ops/auth"
	"github.com/warp/bakery-ops/bakery"
	"github.com/warp/bakery-ops/docstore"
	"github.com/warp/bakery-ops/schema"
	"go.uber.org/zap"
)

// =============================================================================
// ERROR MAPPING
// =============================================================================
//
//	*schema.ValidationError          400  (fields listed)
//	auth.ErrInvalidCredentials,
//	auth.ErrTokenInvalid             401
//	bakery.ErrForbidden              403
//	bakery.NotFoundError             404
//	*bakery.OverFulfillmentError,
//	*bakery.TransitionError,
//	docstore.ErrDuplicateKey         409
//	retryable *docstore.StoreError   503
//	anything else                    500

func statusFor(err error) int {
	switch {
	case errors.Is(err, schema.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, auth.ErrTokenInvalid):
		return http.StatusUnauthorized
	case errors.Is(err, bakery.ErrForbidden):
		return http.StatusForbidden
	case bakery.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, bakery.ErrOverFulfillment),
		errors.Is(err, bakery.ErrInvalidTransition),
		errors.Is(err, docstore.ErrDuplicateKey),
		errors.Is(err, docstore.ErrAppendOnly):
		return http.StatusConflict
	case bakery.IsRetryable(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err with the status it maps to. Server errors are
// logged with the request id and their details are not sent to the client.
func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeError(w, status, http.StatusText(status), nil)
		return
	}

	resp := ErrorResponse{Error: http.StatusText(status), Details: err.Error()}
	var verr *schema.ValidationError
	if errors.As(err, &verr) {
		resp.Fields = verr.Fields()
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
