package circuitbreaker

import (
	"errors"

	"github.com/sony/gobreaker/v2"
)

type State int

const (
	StateClosed   State = iota // Normal operation
	StateOpen                  // Rejecting deliveries
	StateHalfOpen              // Testing with limited deliveries
)

// ErrOpen is returned when a breaker rejects a call.
var ErrOpen = errors.New("circuit breaker is open")

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF-OPEN"
	default:
		return "UNKNOWN"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func fromGobreaker(state gobreaker.State) State {
	switch state {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}
