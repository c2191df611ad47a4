package utils

import (
	"errors"
	"fmt"
	"net/http"
)

var ErrorRecordNotFound = errors.New("record not found")

// ErrorCode is the stable, machine-readable code returned to API callers.
// Codes never change once released; messages may.
type ErrorCode string

const (
	CodeInsufficientQuantity ErrorCode = "INSUFFICIENT_QUANTITY"
	CodeOverReservation      ErrorCode = "OVER_RESERVATION"
	CodeLPBlocked            ErrorCode = "LP_BLOCKED"
	CodeLPTerminal           ErrorCode = "LP_TERMINAL"
	CodeCycleDetected        ErrorCode = "CYCLE_DETECTED"
	CodeReservationLocked    ErrorCode = "RESERVATION_LOCKED"
	CodeNotFound             ErrorCode = "NOT_FOUND"
	CodeCrossOrgAccess       ErrorCode = "CROSS_ORG_ACCESS"
	CodeValidation           ErrorCode = "VALIDATION"
	CodeInternal             ErrorCode = "INTERNAL"
)

// DomainError carries a stable code alongside the human message.
// Engine code returns these for every deterministic rule violation;
// transient storage errors pass through untouched.
type DomainError struct {
	Code    ErrorCode
	Message string
}

func (e *DomainError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NewDomainError(code ErrorCode, format string, args ...interface{}) *DomainError {
	return &DomainError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the stable code, defaulting to INTERNAL for unknown errors.
func CodeOf(err error) ErrorCode {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	if errors.Is(err, ErrorRecordNotFound) {
		return CodeNotFound
	}
	return CodeInternal
}

func IsCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

// HTTPStatus maps codes onto API statuses:
// validation -> 400, not-found -> 404, state/lock conflict -> 409, unexpected -> 500.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case CodeValidation, CodeCycleDetected:
		return http.StatusBadRequest
	case CodeNotFound, CodeCrossOrgAccess:
		// Cross-org reads are indistinguishable from missing rows on purpose.
		return http.StatusNotFound
	case CodeInsufficientQuantity, CodeOverReservation, CodeLPBlocked, CodeLPTerminal, CodeReservationLocked:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func ErrorPanic(err error) {
	if err != nil {
		panic(err)
	}
}
