package integrations

import "errors"

var (
	ErrUnsupportedProvider    = errors.New("provider not supported")
	ErrCapabilityNotSupported = errors.New("operation not supported by provider")
	ErrInvalidConfig          = errors.New("invalid integration config")
	ErrInvalidCredentials     = errors.New("invalid credentials")
	ErrNotFound               = errors.New("not found")
	ErrConflict               = errors.New("already exists")
	ErrInvalidTransition      = errors.New("invalid status transition")
	ErrSyncInProgress         = errors.New("sync already in progress")
	ErrIntegrationInactive    = errors.New("integration is inactive")
	ErrPlaintextCredentials   = errors.New("refusing to persist plaintext credentials")
)
