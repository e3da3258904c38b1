package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError is a structured error carrying a stable code. Workers branch on
// Code; the operator API maps HTTPStatus onto responses.
type AppError struct {
	Code       string `json:"error_code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"` // Wrapped internal error (not exposed to client)
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code string, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an internal error with an AppError.
func Wrap(code string, message string, httpStatus int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// HasCode reports whether any AppError in err's chain carries code.
func HasCode(err error, code string) bool {
	var appErr *AppError
	for err != nil {
		if !errors.As(err, &appErr) {
			return false
		}
		if appErr.Code == code {
			return true
		}
		err = appErr.Err
	}
	return false
}

const (
	CodeMalformedMessage    = "INBOX_001"
	CodeDuplicateMessage    = "INBOX_002"
	CodeUnauthorizedSource  = "INBOX_003"
	CodeReferenceNotFound   = "PROC_001"
	CodeUnsupportedCurrency = "PROC_002"
	CodeInvalidPayout       = "PROC_003"
	CodeChainTransfer       = "CHAIN_001"
	CodeNotification        = "NOTIFY_001"
	CodeInvalidTransition   = "STATE_001"
	CodeDatabase            = "SYS_001"
	CodeSettlementCommit    = "SYS_004"
)

// ---- Inbox (INBOX) ----

func ErrMalformedMessage(reason string, err error) *AppError {
	return Wrap(CodeMalformedMessage, "Malformed message: "+reason, http.StatusBadRequest, err)
}

// ErrDuplicateMessage is benign: the message was already persisted.
func ErrDuplicateMessage(messageID string) *AppError {
	return New(CodeDuplicateMessage, fmt.Sprintf("Message %s already received", messageID), http.StatusConflict)
}

func ErrUnauthorizedSource(reason string) *AppError {
	return New(CodeUnauthorizedSource, "Message source not authorised: "+reason, http.StatusForbidden)
}

// ---- Processing (PROC) ----

func ErrReferenceNotFound(reference string) *AppError {
	return New(CodeReferenceNotFound, fmt.Sprintf("Transaction %s not found", reference), http.StatusNotFound)
}

func ErrUnsupportedCurrency(currency string) *AppError {
	return New(CodeUnsupportedCurrency, fmt.Sprintf("Unsupported currency %q", currency), http.StatusUnprocessableEntity)
}

func ErrInvalidPayout(reason string) *AppError {
	return New(CodeInvalidPayout, "Invalid payout: "+reason, http.StatusUnprocessableEntity)
}

// ---- Chain (CHAIN) ----

func ErrChainTransfer(err error) *AppError {
	return Wrap(CodeChainTransfer, "Chain transfer failed", http.StatusBadGateway, err)
}

// ---- Notification (NOTIFY) ----

func ErrNotification(err error) *AppError {
	return Wrap(CodeNotification, "Status notification failed", http.StatusBadGateway, err)
}

// ---- State (STATE) ----

func ErrInvalidTransition(entity, from, to string) *AppError {
	return New(CodeInvalidTransition, fmt.Sprintf("%s cannot move from %s to %s", entity, from, to), http.StatusConflict)
}

// ---- Lookups ----

func ErrNotFound(entity string) *AppError {
	return New("OPS_001", fmt.Sprintf("%s not found", entity), http.StatusNotFound)
}

// Validation returns an OPS_002 request validation error.
func Validation(message string) *AppError {
	return New("OPS_002", message, http.StatusBadRequest)
}

// ---- Authentication (AUTH) ----

func ErrInvalidToken() *AppError {
	return New("AUTH_003", "Invalid or expired token", http.StatusUnauthorized)
}

func ErrForbidden() *AppError {
	return New("AUTH_005", "Operator role required", http.StatusForbidden)
}

// ---- Rate Limiting (RATE) ----

func ErrRateLimitExceeded() *AppError {
	return New("RATE_001", "Rate limit exceeded", http.StatusTooManyRequests)
}

// ---- System & Infrastructure (SYS) ----

func ErrDatabaseError(err error) *AppError {
	return Wrap(CodeDatabase, "Internal database error", http.StatusInternalServerError, err)
}

// ErrSettlementCommit marks a chain transfer that succeeded but whose
// outcome could not be recorded. The signature must be reconciled by hand.
func ErrSettlementCommit(signature string, err error) *AppError {
	return Wrap(CodeSettlementCommit, "Transfer "+signature+" submitted but not recorded", http.StatusInternalServerError, err)
}

// InternalError wraps an internal error as a SYS_001 error.
func InternalError(err error) *AppError {
	return Wrap(CodeDatabase, "Internal server error", http.StatusInternalServerError, err)
}
