package auth

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is the stable machine-readable identifier for an authentication
// failure. Codes are part of the API contract and must not change.
type Code string

const (
	CodeMissingCredential   Code = "AUTH_HEADER_MISSING"
	CodeMalformedToken      Code = "MALFORMED_TOKEN"
	CodeInvalidCredential   Code = "INVALID_TOKEN"
	CodeProviderUnavailable Code = "PROVIDER_UNAVAILABLE"
)

// Error carries a failure code plus the underlying cause. Components return
// it untranslated; only the HTTP boundary maps it to a response.
type Error struct {
	Code Code
	err  error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("auth: %s: %v", e.Code, e.err)
	}
	return "auth: " + string(e.Code)
}

func (e *Error) Unwrap() error { return e.err }

// HTTPStatus maps the code to its status class. Provider unavailability is
// deliberately distinct from rejection: 503 signals the caller may retry.
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case CodeProviderUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusUnauthorized
	}
}

func NewError(code Code, cause error) *Error {
	return &Error{Code: code, err: cause}
}

// CodeOf extracts the auth code from err, or "" if err is not an auth error.
func CodeOf(err error) Code {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}
