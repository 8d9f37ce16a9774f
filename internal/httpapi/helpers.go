package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rendis/flowarch/pkg/schema"
)

type errorResponse struct {
	Error   string         `json:"error"`
	Code    string         `json:"code"`
	Details map[string]any `json:"details,omitempty"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}

// writeFlowError maps err to a status code and writes it.
func writeFlowError(w http.ResponseWriter, err error) {
	resp := errorResponse{Error: err.Error(), Code: schema.CodeOf(err)}
	var fe *schema.FlowError
	if errors.As(err, &fe) {
		resp.Error = fe.Message
		resp.Details = fe.Details
	}
	writeJSON(w, statusFor(err), resp)
}

func statusFor(err error) int {
	switch schema.CodeOf(err) {
	case schema.ErrCodeValidation, schema.ErrCodeInvalidFormat, schema.ErrCodeUnknownCapability:
		return http.StatusBadRequest
	case schema.ErrCodeNotFound:
		return http.StatusNotFound
	case schema.ErrCodeBusy:
		return http.StatusConflict
	case schema.ErrCodeGuardRejected:
		return http.StatusUnprocessableEntity
	case schema.ErrCodeModel, schema.ErrCodeCircuitOpen:
		return http.StatusBadGateway
	case schema.ErrCodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
