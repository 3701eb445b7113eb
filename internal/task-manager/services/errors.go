package services

import "errors"

var (
	// ErrStoreUnavailable means a tick could not run at all.
	ErrStoreUnavailable = errors.New("task store unavailable")
	// ErrStatusConflict is returned by manual transitions when the task is
	// not in a status the transition starts from.
	ErrStatusConflict     = errors.New("task status does not allow this transition")
	ErrSubmissionDisabled = errors.New("submission encryption key is not configured")
	ErrInvalidInput       = errors.New("invalid input")
)
