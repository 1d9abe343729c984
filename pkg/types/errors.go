package types

import "errors"

// Store lifecycle errors.
var (
	ErrStoreDetached   = errors.New("store is detached")
	ErrAlreadyAttached = errors.New("store is already attached")
)

// Record errors.
var (
	ErrNotFound      = errors.New("record not found")
	ErrInvalidID     = errors.New("invalid record ID")
	ErrAlreadyExists = errors.New("record already exists")
	ErrEmptyText     = errors.New("message text must not be empty")
)

// User input errors. These are reported directly to the invoking user
// together with the valid choices.
var (
	ErrInvalidConsent = errors.New("invalid consent level")
	ErrUnknownSetting = errors.New("unknown setting")
	ErrInvalidValue   = errors.New("invalid setting value")
	ErrInvalidScope   = errors.New("invalid setting scope")
)

// Index and embedding errors.
var (
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	ErrIndexClosed       = errors.New("index is closed")
)
