package api

import (
	"encoding/json"
	"net/http"

	"github.com/tfield/dashcast-go/internal/apperrors"
)

// ListResponse is the Stripe-style envelope for collection endpoints:
// {"object": "list", "data": [...], "has_more": false, "url": "/v1/devices"}
type ListResponse struct {
	Object  string `json:"object"`
	Data    any    `json:"data"`
	HasMore bool   `json:"has_more"`
	URL     string `json:"url"`
}

// ErrorResponse wraps an error body plus the request ID it occurred under.
type ErrorResponse struct {
	Error     apperrors.StripeErrorBody `json:"error"`
	RequestID string                    `json:"request_id,omitempty"`
}

// WriteJSON sends a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, payload any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(payload)
}

// WriteObject writes a single resource or action result with no envelope.
func WriteObject(w http.ResponseWriter, status int, v any) error {
	return WriteJSON(w, status, v)
}

// WriteList writes a collection inside the list envelope.
func WriteList(w http.ResponseWriter, url string, data any, hasMore bool) error {
	return WriteJSON(w, http.StatusOK, ListResponse{
		Object:  "list",
		Data:    data,
		HasMore: hasMore,
		URL:     url,
	})
}

// WriteError serializes any error as {"error": {"type", "code", "message"}},
// coercing non-AppError values to a 500.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	appErr := apperrors.EnsureAppError(err)
	_ = WriteJSON(w, appErr.StatusCode, ErrorResponse{
		Error:     appErr.StripeErrorBody(),
		RequestID: RequestID(r),
	})
}
