package api

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/reward-settler/internal/errors"
)

// ErrorBody is the JSON shape of every API error.
type ErrorBody struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// ErrorResponse wraps an ErrorBody.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data != nil {
		_ = json.NewEncoder(w).Encode(data) // nolint:errcheck // headers already sent
	}
}

// respondError maps a service error onto the wire. Uncategorized errors
// collapse to a sanitized 500 so internals never leak to clients.
func respondError(w http.ResponseWriter, err error) {
	categorized := apperrors.Categorize(err)
	respondJSON(w, apperrors.GetHTTPStatusCode(categorized), ErrorResponse{
		Error: ErrorBody{
			Code:    categorized.Code,
			Message: categorized.Message,
			Details: categorized.Details,
		},
	})
}

// parseJSONBody parses a JSON request body, rejecting unknown fields.
func parseJSONBody(r *http.Request, v interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}
