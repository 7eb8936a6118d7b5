package model

import (
	"fmt"
	"time"
)

// transitionMap lists, per target status, the statuses it may be entered from.
var transitionMap = map[Status][]Status{
	StatusConfirmed: {StatusPending},
	StatusCancelled: {StatusConfirmed},
	StatusCompleted: {StatusConfirmed},
	StatusNoShow:    {StatusConfirmed},
}

func CanTransition(from, to Status) bool {
	for _, s := range transitionMap[to] {
		if s == from {
			return true
		}
	}
	return false
}

// Transition moves a to status to. An illegal move leaves a untouched and
// reports ErrNotFound: a terminal appointment cannot be acted on again.
func (a *Appointment) Transition(to Status, at time.Time) error {
	if !CanTransition(a.Status, to) {
		return fmt.Errorf("%w: appointment %s is %s, cannot become %s", ErrNotFound, a.ID, a.Status, to)
	}
	a.Status = to
	a.UpdatedAt = at
	if to == StatusCancelled {
		t := at
		a.CancelledAt = &t
	}
	return nil
}
