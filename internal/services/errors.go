package services

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("conflict")
	ErrInvalidInput       = errors.New("invalid input")
	ErrInvalidPhone       = errors.New("invalid phone number")
	ErrNotOrganizer       = errors.New("user is not an organizer")
	ErrForbidden          = errors.New("forbidden")
	ErrAlreadyJoined      = errors.New("already joined this project")
	ErrProjectCapReached  = errors.New("active project limit reached")
	ErrInvalidTransition  = errors.New("invalid assignment transition")
	ErrTaskExpired        = errors.New("task deadline has passed")
	ErrEmptyPayload       = errors.New("empty file payload")
	ErrInvalidRating      = errors.New("rating must be between 1 and 5")
	ErrNotifyFailed       = errors.New("notification failed")
	ErrInvalidCredentials = errors.New("invalid credentials")
)
