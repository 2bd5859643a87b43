package services

import "errors"

var (
	// Fatal to a draw; returned before any request is issued.
	ErrInsufficientParticipants = errors.New("not enough participants for a draw")
	ErrNoDerangementFound       = errors.New("no derangement found")
	ErrConfigurationMissing     = errors.New("delivery configuration missing")
	ErrDrawInProgress           = errors.New("a draw is already in progress")

	ErrNothingToRetry = errors.New("no failed deliveries to retry")
	ErrNoActiveDraw   = errors.New("no draw in progress")

	// Registration.
	ErrInvalidParticipant = errors.New("participant name and email are required")
	ErrInvalidEmail       = errors.New("invalid email address")
	ErrDuplicateEmail     = errors.New("email already registered")
	ErrUnknownParticipant = errors.New("participant not found")
)
