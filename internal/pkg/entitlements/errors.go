package entitlements

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
)

// ErrorCode categorizes entitlement failures so the boundary layer can map
// them to a transport without re-deriving semantics.
type ErrorCode string

const (
	CodeNotFound            ErrorCode = "not_found"
	CodeSuspended           ErrorCode = "suspended"
	CodeInvalid             ErrorCode = "invalid"
	CodeDeviceLimitExceeded ErrorCode = "device_limit_exceeded"
	CodeInsufficientCredit  ErrorCode = "insufficient_credit"
	CodeInvalidInput        ErrorCode = "invalid_input"
	CodeSweepFailure        ErrorCode = "sweep_failure"
)

// HTTPStatus maps an ErrorCode to its HTTP status. 500 is the safe default
// for unrecognized codes.
func (c ErrorCode) HTTPStatus() int {
	switch c {
	case CodeNotFound:
		return fiber.StatusNotFound
	case CodeSuspended, CodeInvalid, CodeDeviceLimitExceeded:
		return fiber.StatusForbidden
	case CodeInsufficientCredit:
		return fiber.StatusPaymentRequired
	case CodeInvalidInput:
		return fiber.StatusBadRequest
	default:
		return fiber.StatusInternalServerError
	}
}

// Error is a structured domain error: reason code plus human message, with
// the credit shortfall attached where that applies.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`

	// Required/Available are set for CodeInsufficientCredit so callers can
	// show a precise shortfall.
	Required  int64 `json:"required,omitempty"`
	Available int64 `json:"available,omitempty"`
}

func (e *Error) Error() string {
	if e.Code == CodeInsufficientCredit {
		return fmt.Sprintf("%s: %s (required %d, available %d)", e.Code, e.Message, e.Required, e.Available)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewError creates a domain error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// NewInsufficientCredit creates an insufficient-credit error carrying the
// requested and available unit counts.
func NewInsufficientCredit(required, available int64) *Error {
	return &Error{
		Code:      CodeInsufficientCredit,
		Message:   "not enough credit for the requested units",
		Required:  required,
		Available: available,
	}
}

// CodeOf extracts the ErrorCode from err, or empty when err is not a domain
// error.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsCode reports whether err is a domain error with the given code.
func IsCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}
