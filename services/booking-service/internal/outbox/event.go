package outbox

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	otelx "github.com/md-rashed-zaman/tenantbook/libs/otel"
)

// Event is the envelope written to the outbox table in the same transaction
// as the state change it describes. The Kafka topic equals EventType.
type Event struct {
	ID            int64
	EventID       string
	Tenant        string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	Traceparent   string
	Tracestate    string
	CreatedAt     time.Time
}

type Kind string

const (
	KindCreated     Kind = "created"
	KindCancelled   Kind = "cancelled"
	KindRescheduled Kind = "rescheduled"
	KindCompleted   Kind = "completed"
	KindNoShow      Kind = "no_show"
)

// EventType is the versioned topic name for kind.
func (k Kind) EventType() string {
	return "booking.appointment." + string(k) + ".v1"
}

// BookingEvent is the payload notifiers consume.
type BookingEvent struct {
	BookingReference      string    `json:"booking_reference"`
	Tenant                string    `json:"tenant"`
	Kind                  Kind      `json:"kind"`
	AppointmentID         string    `json:"appointment_id"`
	EventTypeID           string    `json:"event_type_id"`
	ProviderID            string    `json:"provider_id,omitempty"`
	Start                 time.Time `json:"start"`
	End                   time.Time `json:"end"`
	PreviousAppointmentID string    `json:"previous_appointment_id,omitempty"`
	Reason                string    `json:"reason,omitempty"`
}

// NewBookingEvent wraps be in an envelope keyed by the booking reference so
// every event of one booking lands on the same partition.
func NewBookingEvent(ctx context.Context, be BookingEvent) (Event, error) {
	payload, err := json.Marshal(be)
	if err != nil {
		return Event{}, err
	}
	tp, ts := otelx.TraceContextStrings(ctx)
	return Event{
		EventID:       uuid.NewString(),
		Tenant:        be.Tenant,
		AggregateType: "appointment",
		AggregateID:   be.BookingReference,
		EventType:     be.Kind.EventType(),
		Payload:       payload,
		Traceparent:   tp,
		Tracestate:    ts,
	}, nil
}
