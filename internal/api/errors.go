package api

import (
	"encoding/json"
	"net/http"
)

// Error codes returned in the envelope. Clients branch on these, not on
// messages.
const (
	CodeValidation    = "VALIDATION_ERROR"
	CodeRangeTooLarge = "RANGE_TOO_LARGE"
	CodeNotFound      = "NOT_FOUND"
	CodeEngineError   = "ENGINE_ERROR"
	CodeTimeout       = "TIMEOUT"
	CodeUnauthorized  = "UNAUTHORIZED"
	CodeServerError   = "SERVER_ERROR"
)

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

type errorEnvelope struct {
	Error apiError `json:"error"`
}

func errObj(code, message, field string) errorEnvelope {
	return errorEnvelope{Error: apiError{Code: code, Message: message, Field: field}}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message, field string) {
	writeJSON(w, status, errObj(code, message, field))
}
