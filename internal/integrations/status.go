package integrations

import "fmt"

// Status is the lifecycle state of an integration.
type Status string

const (
	StatusPendingSetup Status = "pending_setup"
	StatusActive       Status = "active"
	StatusError        Status = "error"
	StatusSyncing      Status = "syncing"
	StatusInactive     Status = "inactive"
	StatusExpired      Status = "expired"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPendingSetup, StatusActive, StatusError, StatusSyncing, StatusInactive, StatusExpired:
		return true
	default:
		return false
	}
}

var transitions = map[Status][]Status{
	StatusPendingSetup: {StatusActive, StatusError},
	StatusActive:       {StatusError, StatusSyncing},
	StatusError:        {StatusActive},
	StatusSyncing:      {StatusActive, StatusError},
	StatusInactive:     {StatusPendingSetup, StatusActive},
	StatusExpired:      {StatusPendingSetup, StatusActive},
}

// CanTransition reports whether an integration may move from s to next. Every state may
// move to inactive or expired; staying in place is always allowed. No state is terminal.
func (s Status) CanTransition(next Status) bool {
	if !s.Valid() || !next.Valid() {
		return false
	}
	if s == next || next == StatusInactive || next == StatusExpired {
		return true
	}
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Transition returns next, or ErrInvalidTransition.
func (s Status) Transition(next Status) (Status, error) {
	if !s.CanTransition(next) {
		return s, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s, next)
	}
	return next, nil
}
