package security

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	// ErrSessionCompromised is returned when the stored session record was
	// issued for a different environment fingerprint. The record is already
	// destroyed when the caller sees it.
	ErrSessionCompromised = errors.New("session compromised: fingerprint mismatch")

	// ErrFramed aborts Start when the console runs inside a foreign frame.
	ErrFramed = errors.New("console cannot run inside a frame")
)

// AccountLockedError reports a brute-force lockout and how long it lasts.
type AccountLockedError struct {
	Remaining time.Duration
}

// RemainingMinutes rounds the remaining lockout up to whole minutes.
func (e *AccountLockedError) RemainingMinutes() int {
	return int(math.Ceil(e.Remaining.Minutes()))
}

func (e *AccountLockedError) Error() string {
	return fmt.Sprintf("account locked: try again in %d minutes", e.RemainingMinutes())
}
