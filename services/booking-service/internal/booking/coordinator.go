// Package booking commits appointments. Every mutation runs in one tenant
// scoped unit of work that re-validates the slot under the provider's day
// lock before writing.
package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/md-rashed-zaman/tenantbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/tenantbook/services/booking-service/internal/metrics"
	"github.com/md-rashed-zaman/tenantbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/tenantbook/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/tenantbook/services/booking-service/internal/store"
	"github.com/md-rashed-zaman/tenantbook/services/booking-service/internal/tenancy"
)

// ReasonRescheduled is the cancel reason of the row a reschedule replaces.
const ReasonRescheduled = "rescheduled"

const maxReferenceAttempts = 5

// Warmer preloads official holiday lists so the booking transaction does
// not wait on the network. *holiday.Calendar implements it.
type Warmer interface {
	Warm(ctx context.Context, region string, years ...int)
}

type Options struct {
	Assigner     Assigner
	Warmer       Warmer
	Metrics      *metrics.Metrics
	Logger       *slog.Logger
	NewReference func() (string, error)
	// GuestCutoff stops guests from cancelling or rescheduling an
	// appointment that starts within this long. Zero disables it.
	GuestCutoff time.Duration
}

type Coordinator struct {
	runner   store.Runner
	engine   *availability.Engine
	assigner Assigner
	warmer   Warmer
	metrics  *metrics.Metrics
	logger   *slog.Logger
	newRef   func() (string, error)
	cutoff   time.Duration
	tracer   trace.Tracer
}

func New(runner store.Runner, engine *availability.Engine, opts Options) *Coordinator {
	if opts.Assigner == nil {
		opts.Assigner = LeastLoaded{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.NewReference == nil {
		opts.NewReference = NewReference
	}
	return &Coordinator{
		runner:   runner,
		engine:   engine,
		assigner: opts.Assigner,
		warmer:   opts.Warmer,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
		newRef:   opts.NewReference,
		cutoff:   max(opts.GuestCutoff, 0),
		tracer:   otel.Tracer("tenantbook/booking"),
	}
}

// Availability is a materialised availability answer.
type Availability struct {
	EventType model.EventType
	Slots     []availability.Slot
	// Degraded is set when holidays were computed without a current
	// official list.
	Degraded bool
}

func (c *Coordinator) ListAvailability(ctx context.Context, h tenancy.Handle, q availability.Query) (out Availability, err error) {
	ctx, span := c.tracer.Start(ctx, "booking.list_availability", trace.WithAttributes(attribute.String("tenant", h.Slug())))
	defer func() {
		c.metrics.ObserveAvailability(len(out.Slots), err)
		endSpan(span, err)
	}()

	if !q.From.IsZero() && !q.To.IsZero() && !q.To.Before(q.From) {
		c.warm(ctx, h, q.From.Year, q.To.Year)
	}
	err = c.runner.View(ctx, h, func(ctx context.Context, tx store.Tx) error {
		pl, err := c.engine.Plan(ctx, tx, h, q)
		if err != nil {
			return err
		}
		out = Availability{EventType: pl.EventType, Slots: pl.All(), Degraded: pl.Degraded}
		return nil
	})
	return out, err
}

// Get returns the current appointment for a booking reference: the active
// one, or the latest when the booking has ended.
func (c *Coordinator) Get(ctx context.Context, h tenancy.Handle, reference string) (model.Appointment, error) {
	reference = strings.ToUpper(strings.TrimSpace(reference))
	if !ValidReference(reference) {
		return model.Appointment{}, fmt.Errorf("%w: booking %s", model.ErrNotFound, reference)
	}
	var a model.Appointment
	err := c.runner.View(ctx, h, func(ctx context.Context, tx store.Tx) error {
		var err error
		a, err = tx.GetByReference(ctx, reference)
		if err != nil {
			return err
		}
		return h.Owns(a.TenantID)
	})
	return a, err
}

type CreateRequest struct {
	EventTypeID string
	// ProviderID is required for event types that need a provider chosen
	// up front; otherwise empty lets the assigner pick.
	ProviderID       string
	Start            time.Time
	End              time.Time
	Guest            model.GuestInfo
	Responses        map[string]string
	OverrideHolidays bool
}

func (r CreateRequest) validate() error {
	switch {
	case strings.TrimSpace(r.EventTypeID) == "":
		return fmt.Errorf("%w: event type is required", model.ErrValidation)
	case strings.TrimSpace(r.Guest.Name) == "":
		return fmt.Errorf("%w: guest name is required", model.ErrValidation)
	case r.Start.IsZero() || r.End.IsZero():
		return fmt.Errorf("%w: start and end are required", model.ErrValidation)
	case !r.End.After(r.Start):
		return fmt.Errorf("%w: end must be after start", model.ErrValidation)
	}
	return nil
}

// Create books one slot. Concurrent creates for the same provider and
// interval produce exactly one confirmed appointment; the others fail with
// model.ErrSlotUnavailable.
func (c *Coordinator) Create(ctx context.Context, h tenancy.Handle, req CreateRequest) (appt model.Appointment, err error) {
	ctx, done := c.begin(ctx, "create", h)
	defer func() { done(err) }()

	if err := req.validate(); err != nil {
		return model.Appointment{}, err
	}
	c.warm(ctx, h, req.Start.Year(), req.End.Year())

	err = c.runner.Update(ctx, h, func(ctx context.Context, tx store.Tx) error {
		a, err := c.reserve(ctx, tx, h, slotRequest{
			eventTypeID:      req.EventTypeID,
			providerID:       req.ProviderID,
			start:            req.Start,
			end:              req.End,
			overrideHolidays: req.OverrideHolidays,
		})
		if err != nil {
			return err
		}
		ref, err := c.claimReference(ctx, tx)
		if err != nil {
			return err
		}
		a.Reference = ref
		a.Guest = model.GuestInfo{
			Name:  strings.TrimSpace(req.Guest.Name),
			Email: strings.TrimSpace(req.Guest.Email),
			Phone: strings.TrimSpace(req.Guest.Phone),
		}
		a.Responses = req.Responses
		a.HolidayOverride = req.OverrideHolidays

		if appt, err = c.confirm(ctx, tx, a); err != nil {
			return err
		}
		return c.emit(ctx, tx, h, outbox.KindCreated, appt, "", "")
	})
	if err != nil {
		return model.Appointment{}, err
	}
	c.logger.Info("appointment created",
		"tenant", h.Slug(), "reference", appt.Reference, "appointment_id", appt.ID,
		"provider_id", appt.ProviderID, "start", appt.Start)
	return appt, nil
}

// Cancel fails with model.ErrNotFound unless the appointment exists and is
// confirmed.
func (c *Coordinator) Cancel(ctx context.Context, h tenancy.Handle, appointmentID, reason string) (model.Appointment, error) {
	return c.cancel(ctx, h, appointmentID, reason, 0)
}

// GuestCancel is Cancel for the booking guest, who may not cancel within
// the guest cutoff (model.ErrChangeWindowClosed).
func (c *Coordinator) GuestCancel(ctx context.Context, h tenancy.Handle, appointmentID, reason string) (model.Appointment, error) {
	return c.cancel(ctx, h, appointmentID, reason, c.cutoff)
}

func (c *Coordinator) cancel(ctx context.Context, h tenancy.Handle, appointmentID, reason string, cutoff time.Duration) (appt model.Appointment, err error) {
	ctx, done := c.begin(ctx, "cancel", h)
	defer func() { done(err) }()

	err = c.runner.Update(ctx, h, func(ctx context.Context, tx store.Tx) error {
		a, err := c.load(ctx, tx, h, appointmentID)
		if err != nil {
			return err
		}
		now := c.engine.Now()
		if err := a.Transition(model.StatusCancelled, now); err != nil {
			return err
		}
		if err := changeAllowed(a, now, cutoff); err != nil {
			return err
		}
		a.CancelReason = strings.TrimSpace(reason)
		if err := tx.UpdateAppointment(ctx, a); err != nil {
			return err
		}
		appt = a
		return c.emit(ctx, tx, h, outbox.KindCancelled, a, "", a.CancelReason)
	})
	if err != nil {
		return model.Appointment{}, err
	}
	c.logger.Info("appointment cancelled", "tenant", h.Slug(), "reference", appt.Reference, "appointment_id", appt.ID)
	return appt, nil
}

// Reschedule moves a confirmed appointment in one unit of work: the old row
// is cancelled and a new confirmed row with the same reference takes the
// new slot. If the new slot cannot be taken nothing changes.
func (c *Coordinator) Reschedule(ctx context.Context, h tenancy.Handle, appointmentID string, start, end time.Time) (model.Appointment, error) {
	return c.reschedule(ctx, h, appointmentID, start, end, 0)
}

// GuestReschedule is Reschedule held to the guest cutoff.
func (c *Coordinator) GuestReschedule(ctx context.Context, h tenancy.Handle, appointmentID string, start, end time.Time) (model.Appointment, error) {
	return c.reschedule(ctx, h, appointmentID, start, end, c.cutoff)
}

func (c *Coordinator) reschedule(ctx context.Context, h tenancy.Handle, appointmentID string, start, end time.Time, cutoff time.Duration) (appt model.Appointment, err error) {
	ctx, done := c.begin(ctx, "reschedule", h)
	defer func() { done(err) }()

	if start.IsZero() || !end.After(start) {
		return model.Appointment{}, fmt.Errorf("%w: end must be after start", model.ErrValidation)
	}
	c.warm(ctx, h, start.Year(), end.Year())

	err = c.runner.Update(ctx, h, func(ctx context.Context, tx store.Tx) error {
		old, err := c.load(ctx, tx, h, appointmentID)
		if err != nil {
			return err
		}
		et, err := tx.GetEventType(ctx, old.EventTypeID)
		if err != nil {
			return err
		}
		now := c.engine.Now()
		if err := old.Transition(model.StatusCancelled, now); err != nil {
			return err
		}
		if err := changeAllowed(old, now, cutoff); err != nil {
			return err
		}
		old.CancelReason = ReasonRescheduled
		// Written first so the old interval stops blocking the new one.
		if err := tx.UpdateAppointment(ctx, old); err != nil {
			return err
		}

		req := slotRequest{eventTypeID: old.EventTypeID, start: start, end: end}
		if et.RequiresProviderAssignment {
			req.providerID = old.ProviderID
		}
		a, err := c.reserve(ctx, tx, h, req)
		if err != nil {
			return err
		}
		a.Reference = old.Reference
		a.Guest = old.Guest
		a.Responses = old.Responses
		a.RescheduledFrom = old.ID

		if appt, err = c.confirm(ctx, tx, a); err != nil {
			return err
		}
		return c.emit(ctx, tx, h, outbox.KindRescheduled, appt, old.ID, "")
	})
	if err != nil {
		return model.Appointment{}, err
	}
	c.logger.Info("appointment rescheduled",
		"tenant", h.Slug(), "reference", appt.Reference, "appointment_id", appt.ID,
		"previous_appointment_id", appt.RescheduledFrom, "start", appt.Start)
	return appt, nil
}

// Complete marks a confirmed appointment that has started as attended.
func (c *Coordinator) Complete(ctx context.Context, h tenancy.Handle, appointmentID string) (model.Appointment, error) {
	return c.finish(ctx, h, appointmentID, model.StatusCompleted, outbox.KindCompleted)
}

// MarkNoShow marks a confirmed appointment that has started as missed.
func (c *Coordinator) MarkNoShow(ctx context.Context, h tenancy.Handle, appointmentID string) (model.Appointment, error) {
	return c.finish(ctx, h, appointmentID, model.StatusNoShow, outbox.KindNoShow)
}

func (c *Coordinator) finish(ctx context.Context, h tenancy.Handle, appointmentID string, to model.Status, kind outbox.Kind) (appt model.Appointment, err error) {
	ctx, done := c.begin(ctx, string(kind), h)
	defer func() { done(err) }()

	err = c.runner.Update(ctx, h, func(ctx context.Context, tx store.Tx) error {
		a, err := c.load(ctx, tx, h, appointmentID)
		if err != nil {
			return err
		}
		now := c.engine.Now()
		if now.Before(a.Start) {
			return fmt.Errorf("%w: appointment %s has not started", model.ErrValidation, a.ID)
		}
		if err := a.Transition(to, now); err != nil {
			return err
		}
		if err := tx.UpdateAppointment(ctx, a); err != nil {
			return err
		}
		appt = a
		return c.emit(ctx, tx, h, kind, a, "", "")
	})
	return appt, err
}

// changeAllowed checks the original start, not the cancellation stamp.
func changeAllowed(a model.Appointment, now time.Time, cutoff time.Duration) error {
	if cutoff > 0 && !a.Start.After(now.Add(cutoff)) {
		return fmt.Errorf("%w: %s starts within %s", model.ErrChangeWindowClosed, a.Reference, cutoff)
	}
	return nil
}

type slotRequest struct {
	eventTypeID      string
	providerID       string
	start            time.Time
	end              time.Time
	overrideHolidays bool
}

// reserve re-validates the slot and returns a pending appointment with a
// provider that is free under lock. The locks are held until the unit of
// work ends.
func (c *Coordinator) reserve(ctx context.Context, tx store.Tx, h tenancy.Handle, req slotRequest) (model.Appointment, error) {
	et, candidates, err := c.engine.Check(ctx, tx, h, availability.SlotRequest{
		EventTypeID:      req.eventTypeID,
		ProviderID:       req.providerID,
		Start:            req.start,
		End:              req.end,
		OverrideHolidays: req.overrideHolidays,
	})
	if err != nil {
		return model.Appointment{}, err
	}
	if et.RequiresProviderAssignment && req.providerID == "" {
		return model.Appointment{}, fmt.Errorf("%w: %s needs a provider", model.ErrValidation, et.ID)
	}

	loc := h.Location()
	day := model.DateOf(req.start.In(loc))
	// The buffers widen the interval that must be free, and every local day
	// it touches is locked.
	guarded := availability.Padded(availability.Interval{Start: req.start, End: req.end}, et.BufferBefore(), et.BufferAfter())
	firstDay := model.DateOf(guarded.Start.In(loc))
	lastDay := model.DateOf(guarded.End.Add(-time.Nanosecond).In(loc))

	// Ascending lock order keeps concurrent bookings from deadlocking.
	var free []string
	for _, id := range candidates {
		for d := firstDay; !d.After(lastDay); d = d.AddDays(1) {
			if err := tx.LockProviderDay(ctx, id, d); err != nil {
				return model.Appointment{}, err
			}
		}
		busy, err := tx.ListActiveAppointments(ctx, []string{id}, guarded.Start, guarded.End)
		if err != nil {
			return model.Appointment{}, err
		}
		if len(busy) == 0 {
			free = append(free, id)
		}
	}
	if len(free) == 0 {
		return model.Appointment{}, fmt.Errorf("%w: %s is taken", model.ErrSlotUnavailable, req.start.Format(time.RFC3339))
	}

	provider := free[0]
	if len(free) > 1 {
		provider, err = c.assigner.Assign(ctx, tx, free, day.In(loc), day.AddDays(1).In(loc))
		if err != nil {
			return model.Appointment{}, err
		}
	}

	return model.Appointment{
		ID:          uuid.NewString(),
		TenantID:    h.ID(),
		EventTypeID: et.ID,
		ProviderID:  provider,
		Start:       req.start,
		End:         req.end,
		Status:      model.StatusPending,
	}, nil
}

func (c *Coordinator) confirm(ctx context.Context, tx store.Tx, a model.Appointment) (model.Appointment, error) {
	now := c.engine.Now()
	a.CreatedAt = now
	if err := a.Transition(model.StatusConfirmed, now); err != nil {
		return model.Appointment{}, err
	}
	return tx.InsertAppointment(ctx, a)
}

func (c *Coordinator) claimReference(ctx context.Context, tx store.Tx) (string, error) {
	for i := 0; i < maxReferenceAttempts; i++ {
		ref, err := c.newRef()
		if err != nil {
			return "", err
		}
		err = tx.ClaimReference(ctx, ref)
		if err == nil {
			return ref, nil
		}
		if !errors.Is(err, store.ErrReferenceTaken) {
			return "", err
		}
		c.logger.Debug("booking reference collision", "reference", ref)
	}
	return "", fmt.Errorf("no free booking reference after %d attempts", maxReferenceAttempts)
}

func (c *Coordinator) load(ctx context.Context, tx store.Tx, h tenancy.Handle, id string) (model.Appointment, error) {
	if strings.TrimSpace(id) == "" {
		return model.Appointment{}, fmt.Errorf("%w: appointment id is required", model.ErrValidation)
	}
	a, err := tx.GetAppointmentForUpdate(ctx, id)
	if err != nil {
		return model.Appointment{}, err
	}
	if err := h.Owns(a.TenantID); err != nil {
		return model.Appointment{}, err
	}
	return a, nil
}

func (c *Coordinator) emit(ctx context.Context, tx store.Tx, h tenancy.Handle, kind outbox.Kind, a model.Appointment, previousID, reason string) error {
	evt, err := outbox.NewBookingEvent(ctx, outbox.BookingEvent{
		BookingReference:      a.Reference,
		Tenant:                h.Slug(),
		Kind:                  kind,
		AppointmentID:         a.ID,
		EventTypeID:           a.EventTypeID,
		ProviderID:            a.ProviderID,
		Start:                 a.Start,
		End:                   a.End,
		PreviousAppointmentID: previousID,
		Reason:                reason,
	})
	if err != nil {
		return err
	}
	return tx.AppendEvent(ctx, evt)
}

func (c *Coordinator) warm(ctx context.Context, h tenancy.Handle, fromYear, toYear int) {
	if c.warmer == nil || h.Region() == "" {
		return
	}
	years := make([]int, 0, toYear-fromYear+1)
	for y := fromYear; y <= toYear; y++ {
		years = append(years, y)
	}
	c.warmer.Warm(ctx, h.Region(), years...)
}

func (c *Coordinator) begin(ctx context.Context, op string, h tenancy.Handle) (context.Context, func(error)) {
	ctx, span := c.tracer.Start(ctx, "booking."+op, trace.WithAttributes(attribute.String("tenant", h.Slug())))
	start := time.Now()
	return ctx, func(err error) {
		c.metrics.ObserveBooking(op, err, time.Since(start))
		endSpan(span, err)
		if err != nil && !model.IsConflict(err) && !model.IsValidation(err) &&
			!errors.Is(err, model.ErrNotFound) && !errors.Is(err, model.ErrChangeWindowClosed) {
			c.logger.Error("booking operation failed", "operation", op, "tenant", h.Slug(), "err", err)
		}
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
