package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"monay-hq/authz/pkg/audit"
	"monay-hq/authz/pkg/policy/engine"
	"monay-hq/authz/pkg/policy/model"
)

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains detailed error information.
type ErrorDetail struct {
	// Message is a human-readable error message.
	Message string `json:"message"`

	// Type categorizes the error.
	Type string `json:"type"`

	// Code is a machine-readable error code.
	Code string `json:"code,omitempty"`

	// Fields lists validation problems for rule and policy writes.
	Fields []model.FieldError `json:"fields,omitempty"`
}

// Error types.
const (
	ErrorTypeInvalidRequest     = "invalid_request_error"
	ErrorTypeAuthentication     = "authentication_error"
	ErrorTypeNotFound           = "not_found"
	ErrorTypeConflict           = "conflict"
	ErrorTypeRateLimit          = "rate_limit_error"
	ErrorTypeServer             = "server_error"
	ErrorTypeServiceUnavailable = "service_unavailable"
)

// Error codes.
const (
	CodeInvalidJSON      = "invalid_json"
	CodeInvalidValue     = "invalid_value"
	CodeValidationFailed = "validation_failed"
	CodeRequestTooLarge  = "request_too_large"
	CodeUnauthorized     = "unauthorized"
	CodeNotFound         = "not_found"
	CodeAlreadyExists    = "already_exists"
	CodeVersionConflict  = "version_conflict"
	CodeVersionRequired  = "version_required"
	CodeReadOnly         = "read_only"
	CodeLimitExceeded    = "limit_exceeded"
	CodeRateLimited      = "rate_limited"
	CodeUnavailable      = "unavailable"
	CodeInternal         = "internal_error"
)

func newErrorResponse(message, errorType, code string) *ErrorResponse {
	return &ErrorResponse{Error: ErrorDetail{Message: message, Type: errorType, Code: code}}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeBadRequest(w http.ResponseWriter, code, message string) {
	writeJSON(w, http.StatusBadRequest, newErrorResponse(message, ErrorTypeInvalidRequest, code))
}

func writeUnavailable(w http.ResponseWriter, what string) {
	writeJSON(w, http.StatusServiceUnavailable, newErrorResponse(what+" is not configured", ErrorTypeServiceUnavailable, CodeUnavailable))
}

// writeError maps domain errors to HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	var (
		validation *model.ValidationError
		queryErr   *audit.QueryError
		tooLarge   *http.MaxBytesError
	)

	switch {
	case errors.As(err, &validation):
		resp := newErrorResponse(err.Error(), ErrorTypeInvalidRequest, CodeValidationFailed)
		resp.Error.Fields = validation.Errors
		writeJSON(w, http.StatusUnprocessableEntity, resp)
	case errors.As(err, &queryErr), errors.Is(err, engine.ErrInvalidRequest):
		writeBadRequest(w, CodeInvalidValue, err.Error())
	case errors.As(err, &tooLarge):
		writeJSON(w, http.StatusRequestEntityTooLarge, newErrorResponse(err.Error(), ErrorTypeInvalidRequest, CodeRequestTooLarge))
	case errors.Is(err, model.ErrVersionConflict):
		writeJSON(w, http.StatusPreconditionFailed, newErrorResponse(err.Error(), ErrorTypeConflict, CodeVersionConflict))
	case errors.Is(err, model.ErrAlreadyExists):
		writeJSON(w, http.StatusConflict, newErrorResponse(err.Error(), ErrorTypeConflict, CodeAlreadyExists))
	case errors.Is(err, model.ErrReadOnly):
		writeJSON(w, http.StatusConflict, newErrorResponse(err.Error(), ErrorTypeConflict, CodeReadOnly))
	case errors.Is(err, model.ErrLimitExceeded):
		writeJSON(w, http.StatusConflict, newErrorResponse(err.Error(), ErrorTypeConflict, CodeLimitExceeded))
	case errors.Is(err, model.ErrNotFound), errors.Is(err, model.ErrLimitNotFound),
		errors.Is(err, engine.ErrTransactionNotFound):
		writeJSON(w, http.StatusNotFound, newErrorResponse(err.Error(), ErrorTypeNotFound, CodeNotFound))
	case errors.Is(err, engine.ErrClosed):
		writeJSON(w, http.StatusServiceUnavailable, newErrorResponse(err.Error(), ErrorTypeServiceUnavailable, CodeUnavailable))
	default:
		writeJSON(w, http.StatusInternalServerError, newErrorResponse(err.Error(), ErrorTypeServer, CodeInternal))
	}
}
