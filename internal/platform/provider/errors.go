package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies provider failures into the small set of outcomes
// the portal surfaces to users. Every provider error crossing this
// package's boundary carries exactly one kind.
type ErrorKind string

const (
	KindInvalidCredentials       ErrorKind = "invalid_credentials"
	KindEmailOrPhoneNotConfirmed ErrorKind = "not_confirmed"
	KindRateLimited              ErrorKind = "rate_limited"
	KindInvalidOrExpiredCode     ErrorKind = "invalid_or_expired_code"
	KindProviderUnavailable      ErrorKind = "provider_unavailable"
	KindUnknown                  ErrorKind = "unknown"
)

// AuthError is the single error type returned by provider operations.
// Callers dispatch on Kind; the message and cause are for logs and the
// user-facing notification text.
type AuthError struct {
	Kind    ErrorKind
	Message string
	cause   error
}

func (e *AuthError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return string(e.Kind)
}

func (e *AuthError) Unwrap() error { return e.cause }

// NewAuthError builds an AuthError with an optional cause.
func NewAuthError(kind ErrorKind, message string, cause error) *AuthError {
	return &AuthError{Kind: kind, Message: message, cause: cause}
}

// KindOf extracts the ErrorKind from any error. Non-AuthError values map
// to KindUnknown; nil maps to the empty kind.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindUnknown
}

// IsRetryable reports whether the user may meaningfully retry the same
// operation. Everything except an unknown failure is retryable from the
// portal's point of view; nothing is fatal to the application.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindRateLimited, KindProviderUnavailable, KindInvalidCredentials, KindInvalidOrExpiredCode:
		return true
	}
	return false
}

// classify maps a provider HTTP response to the error taxonomy. GoTrue
// error codes take precedence over the status code because several
// distinct conditions share status 400.
func classify(status int, code, description string) *AuthError {
	switch code {
	case "invalid_credentials", "invalid_grant", "user_not_found":
		return NewAuthError(KindInvalidCredentials, description, nil)
	case "email_not_confirmed", "phone_not_confirmed":
		return NewAuthError(KindEmailOrPhoneNotConfirmed, description, nil)
	case "otp_expired", "otp_disabled", "invalid_otp":
		return NewAuthError(KindInvalidOrExpiredCode, description, nil)
	case "over_request_rate_limit", "over_email_send_rate_limit", "over_sms_send_rate_limit":
		return NewAuthError(KindRateLimited, description, nil)
	}

	switch {
	case status == http.StatusTooManyRequests:
		return NewAuthError(KindRateLimited, description, nil)
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return NewAuthError(KindInvalidCredentials, description, nil)
	case status >= 500:
		return NewAuthError(KindProviderUnavailable, description, nil)
	}
	return NewAuthError(KindUnknown, description, nil)
}

// transportError wraps network-level failures. Context cancellation is
// preserved as-is so callers can distinguish an abandoned call from a
// provider outage.
func transportError(err error) *AuthError {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return NewAuthError(KindProviderUnavailable, "request cancelled", err)
	}
	return NewAuthError(KindProviderUnavailable, "provider unreachable", err)
}
