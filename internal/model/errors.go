package model

import (
	"errors"
	"strings"
)

var (
	// ErrRaceNotFound is returned when a race is not found.
	ErrRaceNotFound = errors.New("race not found")

	// ErrBotNotFound is returned when no active bot registration matches a
	// client identity and category.
	ErrBotNotFound = errors.New("bot registration not found")

	// ErrUnknownAction is returned when an action kind is not in the catalog.
	ErrUnknownAction = errors.New("unknown action")
)

// SafeError is a domain validation failure whose messages are safe to show
// to clients verbatim. It never carries internal diagnostic detail.
type SafeError struct {
	Messages []string
}

// Safe builds a SafeError from one or more user-renderable messages.
func Safe(messages ...string) *SafeError {
	return &SafeError{Messages: messages}
}

func (e *SafeError) Error() string {
	return strings.Join(e.Messages, "; ")
}

// SafeMessages extracts the user-renderable messages if err is (or wraps) a
// SafeError.
func SafeMessages(err error) ([]string, bool) {
	var safe *SafeError
	if errors.As(err, &safe) {
		return safe.Messages, true
	}
	return nil, false
}
