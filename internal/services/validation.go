package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-playground/validator/v10"
)

// ErrorResponse represents error response structure
type ErrorResponse struct {
	Error   string            `json:"error"`             // Error message
	Kind    string            `json:"kind,omitempty"`    // Ledger error kind
	Details map[string]string `json:"details,omitempty"` // Validation details
}

// ValidationHelper provides shared validation functionality
type ValidationHelper struct {
	validator *validator.Validate
}

// NewValidationHelper creates a new validation helper
func NewValidationHelper() *ValidationHelper {
	return &ValidationHelper{
		validator: validator.New(),
	}
}

// ValidateStruct validates a struct and returns validation errors
func (vh *ValidationHelper) ValidateStruct(s any) error {
	return vh.validator.Struct(s)
}

// DecodeJSON reads exactly one JSON object from the request body into dst
// and validates it. Failures have already been written to w when it returns
// false.
func (vh *ValidationHelper) DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return false
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return false
	}

	if err := vh.ValidateStruct(dst); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return false
	}
	return true
}

// SendErrorResponse sends a JSON error response
func SendErrorResponse(w http.ResponseWriter, message string, statusCode int, validationErr error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	errorResp := ErrorResponse{Error: message}
	var fieldErrs validator.ValidationErrors
	if errors.As(validationErr, &fieldErrs) {
		errorResp.Details = make(map[string]string)
		for _, err := range fieldErrs {
			errorResp.Details[err.Field()] = fmt.Sprintf("Field Validation Failed on '%s' tag", err.Tag())
		}
	}

	json.NewEncoder(w).Encode(errorResp)
}

// StatusFor maps a ledger error kind onto an HTTP status code.
func StatusFor(err error) int {
	switch Kind(err) {
	case ErrUnauthorized:
		return http.StatusForbidden
	case ErrReplayedNonce, ErrInvalidState:
		return http.StatusConflict
	case ErrInsufficientFunds, ErrAmountMismatch, ErrOutOfWindow, ErrIntervalNotElapsed, ErrArithmeticOverflow:
		return http.StatusUnprocessableEntity
	case ErrNotFound:
		return http.StatusNotFound
	case ErrAuthorityUnavailable, ErrSettlementFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// SendLedgerError writes err with the status code of its kind.
func SendLedgerError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(StatusFor(err))

	resp := ErrorResponse{Error: err.Error()}
	if kind := Kind(err); kind != nil {
		resp.Kind = kind.Error()
	}
	json.NewEncoder(w).Encode(resp)
}

// SendJSON writes v as a 200 JSON response.
func SendJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
