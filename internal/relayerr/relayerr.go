// Package relayerr defines the typed error taxonomy shared across relay
// services. Handlers in internal/httpapi map these types to HTTP status
// codes rather than inspecting error strings.
package relayerr

import "fmt"

// ConfigError signals a misconfiguration discovered at startup.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string { return "config: " + e.Msg }

func NewConfigError(format string, args ...any) *ConfigError {
	return &ConfigError{Msg: fmt.Sprintf(format, args...)}
}

// AuthError signals a failed authentication attempt (missing, expired, or
// malformed bearer token). Maps to HTTP 401.
type AuthError struct {
	Msg string
}

func (e *AuthError) Error() string { return "auth: " + e.Msg }

func NewAuthError(format string, args ...any) *AuthError {
	return &AuthError{Msg: fmt.Sprintf(format, args...)}
}

// AuthzError signals an authenticated caller acting outside its tenant
// scope. Maps to HTTP 403.
type AuthzError struct {
	Msg string
}

func (e *AuthzError) Error() string { return "authz: " + e.Msg }

func NewAuthzError(format string, args ...any) *AuthzError {
	return &AuthzError{Msg: fmt.Sprintf(format, args...)}
}

// NotFoundError signals a missing entity. Maps to HTTP 404.
type NotFoundError struct {
	Msg string
}

func (e *NotFoundError) Error() string { return "not found: " + e.Msg }

func NewNotFoundError(format string, args ...any) *NotFoundError {
	return &NotFoundError{Msg: fmt.Sprintf(format, args...)}
}

// ReplayError signals an attempt to reuse a seal that has already been
// executed. Maps to HTTP 400.
type ReplayError struct {
	Msg string
}

func (e *ReplayError) Error() string { return "replay: " + e.Msg }

func NewReplayError(format string, args ...any) *ReplayError {
	return &ReplayError{Msg: fmt.Sprintf(format, args...)}
}

// PolicyEngineError signals the external policy evaluator could not be
// reached or returned a malformed response. Maps to HTTP 503. No ledger
// writes happen once this error is raised.
type PolicyEngineError struct {
	Msg string
}

func (e *PolicyEngineError) Error() string { return "policy engine: " + e.Msg }

func NewPolicyEngineError(format string, args ...any) *PolicyEngineError {
	return &PolicyEngineError{Msg: fmt.Sprintf(format, args...)}
}

// IntegrityError signals a cryptographic verification failure (bad
// signature, tampered payload). Maps to HTTP 400/422 depending on context.
type IntegrityError struct {
	Msg string
}

func (e *IntegrityError) Error() string { return "integrity: " + e.Msg }

func NewIntegrityError(format string, args ...any) *IntegrityError {
	return &IntegrityError{Msg: fmt.Sprintf(format, args...)}
}

// InternalError wraps an unexpected failure that should be logged with
// detail server-side but surfaced generically to the caller. Maps to HTTP
// 500.
type InternalError struct {
	Msg string
	Err error
}

func (e *InternalError) Error() string {
	if e.Err != nil {
		return "internal: " + e.Msg + ": " + e.Err.Error()
	}
	return "internal: " + e.Msg
}

func (e *InternalError) Unwrap() error { return e.Err }

func NewInternalError(msg string, err error) *InternalError {
	return &InternalError{Msg: msg, Err: err}
}
