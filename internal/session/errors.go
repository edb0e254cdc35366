package session

import "errors"

var (
	ErrNotFound          = errors.New("session not found")
	ErrFull              = errors.New("session is full")
	ErrUnauthorized      = errors.New("action not permitted")
	ErrInvalidParameters = errors.New("invalid session parameters")
)
