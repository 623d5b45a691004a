package session

import "errors"

var (
	// ErrNotFound is returned when a session does not exist, belongs to a
	// different owner, or has expired. The three cases are deliberately
	// indistinguishable so existence is never leaked across owners.
	ErrNotFound = errors.New("session not found")

	// ErrQuotaExceeded is returned when an owner already holds the maximum
	// number of non-terminal sessions.
	ErrQuotaExceeded = errors.New("maximum session limit reached")
)
