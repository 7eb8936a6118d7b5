package model

import "time"

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
	StatusNoShow    Status = "no_show"
)

// Active statuses hold capacity on the provider's calendar.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusConfirmed
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCancelled, StatusCompleted, StatusNoShow:
		return true
	}
	return false
}

type GuestInfo struct {
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

type Appointment struct {
	ID          string
	TenantID    string
	EventTypeID string
	// ProviderID is empty until a provider has been assigned.
	ProviderID      string
	Start           time.Time
	End             time.Time
	Reference       string
	Status          Status
	Guest           GuestInfo
	Responses       map[string]string
	HolidayOverride bool
	RescheduledFrom string
	CancelledAt     *time.Time
	CancelReason    string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Overlaps uses half-open [Start, End) semantics.
func (a Appointment) Overlaps(start, end time.Time) bool {
	return a.Start.Before(end) && start.Before(a.End)
}

// Clone returns a copy that shares no mutable state with a.
func (a Appointment) Clone() Appointment {
	out := a
	if a.Responses != nil {
		out.Responses = make(map[string]string, len(a.Responses))
		for k, v := range a.Responses {
			out.Responses[k] = v
		}
	}
	if a.CancelledAt != nil {
		t := *a.CancelledAt
		out.CancelledAt = &t
	}
	return out
}
