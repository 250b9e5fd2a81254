// services/errors.go
package services

import (
	"errors"
	"fmt"
	"time"
)

// Typed game-error taxonomy. These map backend responses to conditions the UI
// can act on; they are never collapsed into a generic failure.
var (
	ErrNotYourTurn   = errors.New("not your turn")
	ErrGameNotActive = errors.New("game not active")
	ErrMatchNotFound = errors.New("match not found")
	ErrNotReady      = errors.New("content not ready yet")
)

// CooldownError is returned when the backend accepts the request but the
// active cooldown window has not elapsed yet.
type CooldownError struct {
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("cooldown active, %s remaining", e.Remaining)
}

// IsCooldown extracts a CooldownError from err, if present.
func IsCooldown(err error) (*CooldownError, bool) {
	var ce *CooldownError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}
