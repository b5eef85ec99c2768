// Package provider defines the shared error taxonomy for indexers and
// download clients. Every error crossing an abstraction boundary is a
// *provider.Error so callers can match broadly on the type or narrowly
// on a Kind.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Kind codes for categorizing provider errors
const (
	KindNetwork         = "NETWORK_ERROR"
	KindTimeout         = "TIMEOUT_ERROR"
	KindAuthentication  = "AUTH_ERROR"
	KindParse           = "PARSE_ERROR"
	KindCapability      = "CAPABILITY_ERROR"
	KindUnsupportedType = "UNSUPPORTED_TYPE_ERROR"
	KindInvalidLocator  = "INVALID_LOCATOR_ERROR"
	KindDisabled        = "DISABLED_ERROR"
	KindRateLimit       = "RATE_LIMIT_ERROR"
	KindProtocolFault   = "PROTOCOL_FAULT"
	KindUnexpected      = "PROVIDER_ERROR"
)

// maxBodySnippet bounds how much of a remote response body is carried
// inside a network error.
const maxBodySnippet = 200

// Error represents a categorized error from a provider operation.
type Error struct {
	Kind     string // Error category code
	Provider string // Name of the affected provider ("" if not applicable)
	Message  string // Human-readable message
	Status   int    // HTTP status for network errors (0 otherwise)
	Cause    error  // Underlying error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Kind, e.Provider, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is implements error matching for errors.Is().
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

// Sentinel instances for errors.Is comparisons.
var (
	ErrNetwork         = &Error{Kind: KindNetwork, Message: "network error"}
	ErrTimeout         = &Error{Kind: KindTimeout, Message: "request timed out"}
	ErrAuthentication  = &Error{Kind: KindAuthentication, Message: "authentication failed"}
	ErrParse           = &Error{Kind: KindParse, Message: "parse error"}
	ErrCapability      = &Error{Kind: KindCapability, Message: "capability not supported"}
	ErrUnsupportedType = &Error{Kind: KindUnsupportedType, Message: "unsupported download type"}
	ErrInvalidLocator  = &Error{Kind: KindInvalidLocator, Message: "invalid locator"}
	ErrDisabled        = &Error{Kind: KindDisabled, Message: "provider disabled"}
	ErrRateLimit       = &Error{Kind: KindRateLimit, Message: "rate limit exceeded"}
	ErrProtocolFault   = &Error{Kind: KindProtocolFault, Message: "protocol fault"}
	ErrUnexpected      = &Error{Kind: KindUnexpected, Message: "provider error"}
)

// NewNetworkError creates a network error carrying the HTTP status and a
// truncated response body snippet.
func NewNetworkError(providerName string, status int, body []byte) *Error {
	snippet := string(body)
	if len(snippet) > maxBodySnippet {
		snippet = snippet[:maxBodySnippet]
	}
	return &Error{
		Kind:     KindNetwork,
		Provider: providerName,
		Message:  fmt.Sprintf("HTTP %d: %s", status, snippet),
		Status:   status,
	}
}

// NewTimeoutError creates a timeout error.
func NewTimeoutError(providerName string, cause error) *Error {
	return &Error{
		Kind:     KindTimeout,
		Provider: providerName,
		Message:  "request timed out",
		Cause:    cause,
	}
}

// NewAuthError creates an authentication error.
func NewAuthError(providerName, message string) *Error {
	if message == "" {
		message = "authentication failed"
	}
	return &Error{
		Kind:     KindAuthentication,
		Provider: providerName,
		Message:  message,
	}
}

// NewParseError creates a parse error for an undecodable response envelope.
func NewParseError(providerName string, cause error) *Error {
	return &Error{
		Kind:     KindParse,
		Provider: providerName,
		Message:  "response could not be parsed",
		Cause:    cause,
	}
}

// NewCapabilityError reports that a client lacks the requested capability.
func NewCapabilityError(providerName, capability string) *Error {
	return &Error{
		Kind:     KindCapability,
		Provider: providerName,
		Message:  fmt.Sprintf("capability %q not supported", capability),
	}
}

// NewUnsupportedTypeError reports that no strategy handles a download type.
func NewUnsupportedTypeError(downloadType string) *Error {
	return &Error{
		Kind:    KindUnsupportedType,
		Message: fmt.Sprintf("no strategy registered for download type %q", downloadType),
	}
}

// NewInvalidLocatorError reports a locator that matched no download type.
func NewInvalidLocatorError(locator string) *Error {
	return &Error{
		Kind:    KindInvalidLocator,
		Message: fmt.Sprintf("locator %q is not a magnet link, URL, or existing file", locator),
	}
}

// NewDisabledError reports an operation on a disabled provider.
func NewDisabledError(providerName string) *Error {
	return &Error{
		Kind:     KindDisabled,
		Provider: providerName,
		Message:  "provider is disabled",
	}
}

// NewRateLimitError creates a rate limit error.
func NewRateLimitError(providerName, message string) *Error {
	if message == "" {
		message = "rate limit exceeded"
	}
	return &Error{
		Kind:     KindRateLimit,
		Provider: providerName,
		Message:  message,
	}
}

// NewProtocolFault creates an error for an in-protocol fault response
// (e.g. an XML-RPC <fault> element).
func NewProtocolFault(providerName, message string) *Error {
	return &Error{
		Kind:     KindProtocolFault,
		Provider: providerName,
		Message:  message,
	}
}

// Wrap converts an arbitrary error into a provider error. Errors that are
// already typed pass through unchanged.
func Wrap(providerName string, err error) error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		return err
	}
	return &Error{
		Kind:     KindUnexpected,
		Provider: providerName,
		Message:  err.Error(),
		Cause:    err,
	}
}

// FromRequestError classifies a transport-level error from http.Client.Do:
// timeouts and context deadlines become timeout errors, everything else a
// network error.
func FromRequestError(providerName string, err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return NewTimeoutError(providerName, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewTimeoutError(providerName, err)
	}
	return &Error{
		Kind:     KindNetwork,
		Provider: providerName,
		Message:  err.Error(),
		Cause:    err,
	}
}

// IsAuthError returns whether the error is an authentication error.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrAuthentication)
}

// IsRateLimitError returns whether the error is a rate limit error.
func IsRateLimitError(err error) bool {
	return errors.Is(err, ErrRateLimit)
}

// IsNetworkError returns whether the error is a network or timeout error.
func IsNetworkError(err error) bool {
	return errors.Is(err, ErrNetwork) || errors.Is(err, ErrTimeout)
}

// GetKind extracts the kind code from an error.
func GetKind(err error) string {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}
