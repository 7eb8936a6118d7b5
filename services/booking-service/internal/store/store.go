// Package store defines the tenant scoped unit of work. Booking code never
// sees a connection or a table name: it receives a Tx that is already bound
// to one tenant's namespace and can reach nothing outside it.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/md-rashed-zaman/tenantbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/tenantbook/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/tenantbook/services/booking-service/internal/tenancy"
)

// ErrReferenceTaken is returned by ClaimReference when another booking,
// in any tenant, already owns the reference.
var ErrReferenceTaken = errors.New("booking reference taken")

// Tx is every query booking code may issue. Lookups of unknown ids return
// model.ErrNotFound.
type Tx interface {
	GetEventType(ctx context.Context, id string) (model.EventType, error)
	GetTemplate(ctx context.Context, id string) (model.AvailabilityTemplate, error)
	GetProvider(ctx context.Context, id string) (model.Provider, error)
	ListDateOverrides(ctx context.Context, providerIDs []string, from, to model.Date) ([]model.DateOverride, error)

	ListHolidays(ctx context.Context) ([]model.Holiday, error)
	// InsertHoliday reports false when an entry for that date already exists.
	InsertHoliday(ctx context.Context, h model.Holiday) (bool, error)

	// ListActiveAppointments returns pending and confirmed appointments of
	// the given providers that intersect [from, to).
	ListActiveAppointments(ctx context.Context, providerIDs []string, from, to time.Time) ([]model.Appointment, error)
	CountActiveOnDay(ctx context.Context, providerID string, from, to time.Time) (int, error)
	// LockProviderDay blocks until no other transaction holds the lock for
	// the provider and day, and holds it until this transaction ends.
	LockProviderDay(ctx context.Context, providerID string, day model.Date) error

	ClaimReference(ctx context.Context, reference string) error
	// InsertAppointment returns model.ErrSlotUnavailable when the interval
	// collides with another active appointment of the same provider.
	InsertAppointment(ctx context.Context, a model.Appointment) (model.Appointment, error)
	UpdateAppointment(ctx context.Context, a model.Appointment) error
	GetAppointmentForUpdate(ctx context.Context, id string) (model.Appointment, error)
	// GetByReference returns the active appointment holding reference, or
	// the most recently updated one when none is active.
	GetByReference(ctx context.Context, reference string) (model.Appointment, error)

	AppendEvent(ctx context.Context, evt outbox.Event) error
}

// Runner opens units of work. Update commits when fn returns nil and rolls
// back when fn returns an error or panics; the panic is re-raised after the
// rollback. View runs fn read-only and always discards its effects.
type Runner interface {
	Update(ctx context.Context, h tenancy.Handle, fn func(context.Context, Tx) error) error
	View(ctx context.Context, h tenancy.Handle, fn func(context.Context, Tx) error) error
}

// ErrNoTenant guards against a zero Handle reaching a Runner.
var ErrNoTenant = errors.New("unit of work requires a resolved tenant")
