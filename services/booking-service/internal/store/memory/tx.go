package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/md-rashed-zaman/tenantbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/tenantbook/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/tenantbook/services/booking-service/internal/tenancy"
)

var errReadOnly = errors.New("write attempted in a read-only unit of work")

type tx struct {
	store    *Store
	tenant   tenancy.Handle
	data     *dataset
	writable bool
	claimed  []string
	events   []outbox.Event
}

func notFound(kind, id string) error {
	return fmt.Errorf("%w: %s %s", model.ErrNotFound, kind, id)
}

func (t *tx) GetEventType(_ context.Context, id string) (model.EventType, error) {
	et, ok := t.data.eventTypes[id]
	if !ok {
		return model.EventType{}, notFound("event type", id)
	}
	et.ProviderIDs = append([]string(nil), et.ProviderIDs...)
	return et, nil
}

func (t *tx) GetTemplate(_ context.Context, id string) (model.AvailabilityTemplate, error) {
	tpl, ok := t.data.templates[id]
	if !ok {
		return model.AvailabilityTemplate{}, notFound("template", id)
	}
	tpl.Windows = append([]model.Window(nil), tpl.Windows...)
	return tpl, nil
}

func (t *tx) GetProvider(_ context.Context, id string) (model.Provider, error) {
	p, ok := t.data.providers[id]
	if !ok {
		return model.Provider{}, notFound("provider", id)
	}
	return p, nil
}

func (t *tx) ListDateOverrides(_ context.Context, providerIDs []string, from, to model.Date) ([]model.DateOverride, error) {
	want := toSet(providerIDs)
	var out []model.DateOverride
	for _, o := range t.data.overrides {
		if want[o.ProviderID] && !o.Date.Before(from) && !o.Date.After(to) {
			out = append(out, o)
		}
	}
	return out, nil
}

func (t *tx) ListHolidays(context.Context) ([]model.Holiday, error) {
	return append([]model.Holiday(nil), t.data.holidays...), nil
}

func (t *tx) InsertHoliday(_ context.Context, h model.Holiday) (bool, error) {
	if !t.writable {
		return false, errReadOnly
	}
	for _, existing := range t.data.holidays {
		if existing.Date == h.Date {
			return false, nil
		}
	}
	if h.ID == "" {
		h.ID = uuid.NewString()
	}
	t.data.holidays = append(t.data.holidays, h)
	return true, nil
}

func (t *tx) ListActiveAppointments(_ context.Context, providerIDs []string, from, to time.Time) ([]model.Appointment, error) {
	want := toSet(providerIDs)
	var out []model.Appointment
	for _, a := range t.data.appointments {
		if a.Status.Active() && want[a.ProviderID] && a.Overlaps(from, to) {
			out = append(out, a.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Start.Equal(out[j].Start) {
			return out[i].Start.Before(out[j].Start)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (t *tx) CountActiveOnDay(_ context.Context, providerID string, from, to time.Time) (int, error) {
	n := 0
	for _, a := range t.data.appointments {
		if a.ProviderID == providerID && a.Status.Active() && !a.Start.Before(from) && a.Start.Before(to) {
			n++
		}
	}
	return n, nil
}

// LockProviderDay is satisfied by the namespace write lock Update holds.
func (t *tx) LockProviderDay(context.Context, string, model.Date) error {
	if !t.writable {
		return errReadOnly
	}
	return nil
}

func (t *tx) ClaimReference(_ context.Context, reference string) error {
	if !t.writable {
		return errReadOnly
	}
	if err := t.store.claimReference(reference, t.tenant.Namespace()); err != nil {
		return err
	}
	t.claimed = append(t.claimed, reference)
	return nil
}

func (t *tx) InsertAppointment(_ context.Context, a model.Appointment) (model.Appointment, error) {
	if !t.writable {
		return model.Appointment{}, errReadOnly
	}
	if a.Status.Active() {
		for _, other := range t.data.appointments {
			if !other.Status.Active() {
				continue
			}
			if other.Reference == a.Reference {
				return model.Appointment{}, fmt.Errorf("reference %s already active", a.Reference)
			}
			if a.ProviderID != "" && other.ProviderID == a.ProviderID && other.Overlaps(a.Start, a.End) {
				return model.Appointment{}, fmt.Errorf("%w: provider %s already booked at %s", model.ErrSlotUnavailable, a.ProviderID, other.Start.Format(time.RFC3339))
			}
		}
	}
	now := t.store.now()
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	t.data.appointments[a.ID] = a.Clone()
	return a, nil
}

func (t *tx) UpdateAppointment(_ context.Context, a model.Appointment) error {
	if !t.writable {
		return errReadOnly
	}
	if _, ok := t.data.appointments[a.ID]; !ok {
		return notFound("appointment", a.ID)
	}
	a.UpdatedAt = t.store.now()
	t.data.appointments[a.ID] = a.Clone()
	return nil
}

func (t *tx) GetAppointmentForUpdate(_ context.Context, id string) (model.Appointment, error) {
	a, ok := t.data.appointments[id]
	if !ok {
		return model.Appointment{}, notFound("appointment", id)
	}
	return a.Clone(), nil
}

func (t *tx) GetByReference(_ context.Context, reference string) (model.Appointment, error) {
	var best *model.Appointment
	for _, a := range t.data.appointments {
		if a.Reference != reference {
			continue
		}
		if a.Status.Active() {
			out := a.Clone()
			return out, nil
		}
		if best == nil || a.UpdatedAt.After(best.UpdatedAt) {
			c := a.Clone()
			best = &c
		}
	}
	if best == nil {
		return model.Appointment{}, notFound("booking", reference)
	}
	return *best, nil
}

func (t *tx) AppendEvent(_ context.Context, evt outbox.Event) error {
	if !t.writable {
		return errReadOnly
	}
	t.events = append(t.events, evt)
	return nil
}

func toSet(ids []string) map[string]bool {
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		out[id] = true
	}
	return out
}
