package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/md-rashed-zaman/tenantbook/services/booking-service/internal/model"
)

// Metrics holds the booking service collectors. A nil *Metrics is valid and
// records nothing, which keeps tests free of registry plumbing.
type Metrics struct {
	BookingsTotal        *prometheus.CounterVec
	BookingDuration      *prometheus.HistogramVec
	AvailabilityRequests *prometheus.CounterVec
	SlotsReturned        prometheus.Histogram
	HolidayFetches       *prometheus.CounterVec
	HolidayDegraded      *prometheus.CounterVec
	OutboxEvents         *prometheus.CounterVec
}

// New registers the collectors on reg. Pass prometheus.NewRegistry() in
// tests to avoid duplicate registration.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		BookingsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "booking_operations_total",
				Help: "Booking coordinator operations by outcome",
			},
			[]string{"operation", "outcome"},
		),
		BookingDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "booking_operation_duration_seconds",
				Help:    "Duration of booking coordinator operations including commit",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		AvailabilityRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "booking_availability_requests_total",
				Help: "Availability computations by outcome",
			},
			[]string{"outcome"},
		),
		SlotsReturned: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "booking_availability_slots_returned",
				Help:    "Number of slots returned per availability request",
				Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250, 500},
			},
		),
		HolidayFetches: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "booking_holiday_fetches_total",
				Help: "Official holiday list fetches by outcome",
			},
			[]string{"region", "outcome"},
		),
		HolidayDegraded: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "booking_holiday_degraded_total",
				Help: "Holiday lookups answered from stale or empty data",
			},
			[]string{"region"},
		),
		OutboxEvents: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "booking_outbox_events_total",
				Help: "Outbox events handed to Kafka by outcome",
			},
			[]string{"outcome"},
		),
	}
}

// Outcome maps an error to a low-cardinality label value.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, model.ErrSlotUnavailable):
		return "slot_unavailable"
	case errors.Is(err, model.ErrHolidayConflict):
		return "holiday_conflict"
	case errors.Is(err, model.ErrInvalidEventType):
		return "invalid_event_type"
	case errors.Is(err, model.ErrValidation):
		return "validation"
	case errors.Is(err, model.ErrNotFound):
		return "not_found"
	case errors.Is(err, model.ErrTenantNotFound):
		return "tenant_not_found"
	case errors.Is(err, model.ErrChangeWindowClosed):
		return "change_window_closed"
	default:
		return "error"
	}
}

func (m *Metrics) ObserveBooking(operation string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.BookingsTotal.WithLabelValues(operation, Outcome(err)).Inc()
	m.BookingDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveAvailability(slots int, err error) {
	if m == nil {
		return
	}
	m.AvailabilityRequests.WithLabelValues(Outcome(err)).Inc()
	if err == nil {
		m.SlotsReturned.Observe(float64(slots))
	}
}

// HolidayFetch records outcome "ok", "error" or "cooldown".
func (m *Metrics) HolidayFetch(region, outcome string) {
	if m == nil {
		return
	}
	m.HolidayFetches.WithLabelValues(region, outcome).Inc()
}

func (m *Metrics) HolidayDegradedAnswer(region string) {
	if m == nil {
		return
	}
	m.HolidayDegraded.WithLabelValues(region).Inc()
}

func (m *Metrics) OutboxPublished(n int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.OutboxEvents.WithLabelValues("error").Inc()
		return
	}
	m.OutboxEvents.WithLabelValues("ok").Add(float64(n))
}
