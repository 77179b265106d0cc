package response

import (
	"encoding/json"
	"net/http"
)

// Error types carried in the error_type field of every error body.
const (
	TypeNotFound           = "not_found"
	TypeBadRequest         = "bad_request"
	TypeConflict           = "conflict"
	TypeValidation         = "validation_error"
	TypeServiceUnavailable = "service_unavailable"
	TypeInternal           = "internal_error"
)

type ErrorBody struct {
	Detail    string   `json:"detail"`
	ErrorType string   `json:"error_type"`
	Errors    []string `json:"errors,omitempty"`
}

func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func Error(w http.ResponseWriter, status int, errorType, detail string, errs ...string) {
	JSON(w, status, ErrorBody{Detail: detail, ErrorType: errorType, Errors: errs})
}
