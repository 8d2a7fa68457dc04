package models

import "errors"

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Authentication flow errors
	ErrInvalidFlowState   = errors.New("invalid flow state")
	ErrCredentialRejected = errors.New("credential rejected")
	ErrTooManyAttempts    = errors.New("too many attempts")
	ErrProviderError      = errors.New("identity provider error")
	ErrTokenInvalid       = errors.New("token invalid")
	ErrStoreUnavailable   = errors.New("store unavailable")

	// Session errors
	ErrSessionNotFound   = errors.New("session not found")
	ErrElevationRequired = errors.New("elevation required")

	// Challenge errors
	ErrChallengeNotFound = errors.New("challenge not found or expired")
)
