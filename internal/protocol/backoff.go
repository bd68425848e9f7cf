package protocol

import "time"

// Reconnect backoff parameters shared by the browser reload client and the
// host's control-channel retries.
const (
	BackoffBase       = 1000 * time.Millisecond
	BackoffMultiplier = 1.5
	BackoffCeiling    = 10000 * time.Millisecond
)

// Backoff is an explicit reconnect state machine: attempt count plus the
// delay to wait before that attempt. Next advances the state and returns the
// delay for the attempt just counted; Reset returns to the base delay after
// a successful connection.
type Backoff struct {
	Base       time.Duration
	Multiplier float64
	Ceiling    time.Duration

	attempt int
	delay   time.Duration
}

// NewBackoff returns a Backoff with the protocol's standard parameters.
func NewBackoff() *Backoff {
	return &Backoff{
		Base:       BackoffBase,
		Multiplier: BackoffMultiplier,
		Ceiling:    BackoffCeiling,
	}
}

// Next returns the delay to wait before the next attempt and advances the
// state. The first call returns Base; each subsequent call multiplies the
// previous delay, capped at Ceiling.
func (b *Backoff) Next() time.Duration {
	if b.attempt == 0 || b.delay <= 0 {
		b.delay = b.Base
	} else {
		b.delay = time.Duration(float64(b.delay) * b.Multiplier)
		if b.delay > b.Ceiling {
			b.delay = b.Ceiling
		}
	}
	b.attempt++
	return b.delay
}

// Reset clears the state after a successful connection so the next failure
// starts again from the base delay.
func (b *Backoff) Reset() {
	b.attempt = 0
	b.delay = 0
}

// Attempt reports how many delays have been handed out since the last Reset.
func (b *Backoff) Attempt() int {
	return b.attempt
}
