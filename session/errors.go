package session

import (
	"errors"
	"fmt"
)

// Error categories. Every error returned by this package wraps exactly one
// of them, so callers branch with errors.Is.
var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidInput    = errors.New("invalid input")
	ErrNoActiveRound   = errors.New("no active round")
	ErrEmptyDataSource = errors.New("question data source is empty")
	ErrStateCorruption = errors.New("session state corrupted")
)

var (
	ErrSessionNotFound   = fmt.Errorf("session %w", ErrNotFound)
	ErrPlayerNotFound    = fmt.Errorf("player %w", ErrNotFound)
	ErrProtectedSession  = fmt.Errorf("%w: the waiting area cannot be removed", ErrInvalidInput)
	ErrInvalidKind       = fmt.Errorf("%w: unsupported session kind", ErrInvalidInput)
	ErrInvalidUsername   = fmt.Errorf("%w: username must be non-empty and alphanumeric", ErrInvalidInput)
	ErrDuplicateUsername = fmt.Errorf("%w: username already taken in this session", ErrInvalidInput)
	ErrSessionFull       = fmt.Errorf("%w: session is full", ErrInvalidInput)
	ErrNoPlayers         = fmt.Errorf("%w: session has no players", ErrInvalidInput)
	ErrWrongPhase        = fmt.Errorf("%w: operation not allowed in the current session status", ErrInvalidInput)
	ErrInvalidAnswer     = fmt.Errorf("%w: answer does not fit the current question", ErrInvalidInput)
	ErrJokerUsed         = fmt.Errorf("%w: joker already used this game", ErrInvalidInput)
	ErrJokerNotAllowed   = fmt.Errorf("%w: joker not allowed here", ErrInvalidInput)
	ErrNoEvaluation      = fmt.Errorf("%w: no evaluation pending", ErrNoActiveRound)
)
