package services

import "errors"

// Failure taxonomy shared by the scheduling engine and the points ledger.
// Handlers map these to HTTP statuses and display messages; callers never
// see raw store errors.
var (
	ErrNotFound               = errors.New("session not found")
	ErrUnauthorized           = errors.New("unauthorized")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrTimeConflict           = errors.New("time conflict")
	ErrInsufficientPoints     = errors.New("insufficient points balance")
	ErrInvalidSchedule        = errors.New("scheduled time must be in the future")
	ErrTransferFailed         = errors.New("points transfer failed")
	ErrAlreadyFinished        = errors.New("session is already finished")
	ErrValidation             = errors.New("invalid input")
	ErrInvalidTutor           = errors.New("invalid tutor")
	ErrInvalidTutee           = errors.New("invalid tutee")
)
