package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/md-rashed-zaman/tenantbook/libs/httpx"
	"github.com/md-rashed-zaman/tenantbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/tenantbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/tenantbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/tenantbook/services/booking-service/internal/tenancy"
)

// Coordinator is the booking core as the HTTP adapter sees it.
type Coordinator interface {
	ListAvailability(ctx context.Context, h tenancy.Handle, q availability.Query) (booking.Availability, error)
	Get(ctx context.Context, h tenancy.Handle, reference string) (model.Appointment, error)
	Create(ctx context.Context, h tenancy.Handle, req booking.CreateRequest) (model.Appointment, error)
	Cancel(ctx context.Context, h tenancy.Handle, appointmentID, reason string) (model.Appointment, error)
	GuestCancel(ctx context.Context, h tenancy.Handle, appointmentID, reason string) (model.Appointment, error)
	Reschedule(ctx context.Context, h tenancy.Handle, appointmentID string, start, end time.Time) (model.Appointment, error)
	GuestReschedule(ctx context.Context, h tenancy.Handle, appointmentID string, start, end time.Time) (model.Appointment, error)
	Complete(ctx context.Context, h tenancy.Handle, appointmentID string) (model.Appointment, error)
	MarkNoShow(ctx context.Context, h tenancy.Handle, appointmentID string) (model.Appointment, error)
	SyncHolidays(ctx context.Context, h tenancy.Handle, year int) (booking.HolidaySync, error)
}

type BookingHandler struct {
	coord     Coordinator
	resolver  *tenancy.Resolver
	jwtSecret string
	logger    *slog.Logger
}

// NewBookingHandler wires the adapter. An empty jwtSecret disables every
// staff route.
func NewBookingHandler(coord Coordinator, resolver *tenancy.Resolver, jwtSecret string, logger *slog.Logger) *BookingHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &BookingHandler{coord: coord, resolver: resolver, jwtSecret: jwtSecret, logger: logger}
}

// Mount registers the public and staff routes on mux.
func (h *BookingHandler) Mount(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/public/slots", h.Slots)
	mux.HandleFunc("/api/v1/public/book", h.Create)
	mux.HandleFunc("/api/v1/public/bookings", h.Lookup)
	mux.HandleFunc("/api/v1/public/cancel", h.Cancel)
	mux.HandleFunc("/api/v1/public/reschedule", h.Reschedule)
	mux.HandleFunc("/api/v1/appointments/cancel", h.StaffCancel)
	mux.HandleFunc("/api/v1/appointments/reschedule", h.StaffReschedule)
	mux.HandleFunc("/api/v1/appointments/complete", h.Complete)
	mux.HandleFunc("/api/v1/appointments/no-show", h.NoShow)
	mux.HandleFunc("/api/v1/holidays/sync", h.SyncHolidays)
	mux.HandleFunc("/api/v1/book-override", h.CreateOverride)
}

// tenant resolves the routing layer's identifier and tags the access log.
func (h *BookingHandler) tenant(r *http.Request) (tenancy.Handle, error) {
	th, err := h.resolver.Resolve(r.Context(), tenancy.IdentifierFromRequest(r))
	if err != nil {
		return tenancy.Handle{}, err
	}
	httpx.AddLogAttrs(r.Context(), "tenant", th.Slug())
	return th, nil
}

type slotItem struct {
	StartTime  string `json:"start_time"`
	EndTime    string `json:"end_time"`
	ProviderID string `json:"provider_id,omitempty"`
	Free       int    `json:"free,omitempty"`
}

type slotsResponse struct {
	EventTypeID string     `json:"event_type_id"`
	Timezone    string     `json:"timezone"`
	Degraded    bool       `json:"degraded"`
	Slots       []slotItem `json:"slots"`
}

func (h *BookingHandler) Slots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	th, err := h.tenant(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	q := r.URL.Query()
	from, err := model.ParseDate(strings.TrimSpace(q.Get("from")))
	if err != nil {
		h.badRequest(w, "invalid from date, expected YYYY-MM-DD")
		return
	}
	to := from
	if v := strings.TrimSpace(q.Get("to")); v != "" {
		if to, err = model.ParseDate(v); err != nil {
			h.badRequest(w, "invalid to date, expected YYYY-MM-DD")
			return
		}
	}

	res, err := h.coord.ListAvailability(r.Context(), th, availability.Query{
		EventTypeID: strings.TrimSpace(q.Get("event_type_id")),
		ProviderID:  strings.TrimSpace(q.Get("provider_id")),
		From:        from,
		To:          to,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	loc := th.Location()
	items := make([]slotItem, 0, len(res.Slots))
	for _, s := range res.Slots {
		items = append(items, slotItem{
			StartTime:  s.Start.In(loc).Format(time.RFC3339),
			EndTime:    s.End.In(loc).Format(time.RFC3339),
			ProviderID: s.ProviderID,
			Free:       s.Free,
		})
	}
	writeJSON(w, http.StatusOK, slotsResponse{
		EventTypeID: res.EventType.ID,
		Timezone:    loc.String(),
		Degraded:    res.Degraded,
		Slots:       items,
	})
}

type createBookingRequest struct {
	EventTypeID   string            `json:"event_type_id"`
	ProviderID    string            `json:"provider_id"`
	StartTime     string            `json:"start_time"`
	EndTime       string            `json:"end_time"`
	CustomerName  string            `json:"customer_name"`
	CustomerEmail string            `json:"customer_email"`
	CustomerPhone string            `json:"customer_phone"`
	Responses     map[string]string `json:"responses"`
}

type bookingResponse struct {
	Reference       string            `json:"reference"`
	AppointmentID   string            `json:"appointment_id"`
	Status          string            `json:"status"`
	EventTypeID     string            `json:"event_type_id"`
	ProviderID      string            `json:"provider_id,omitempty"`
	StartTime       string            `json:"start_time"`
	EndTime         string            `json:"end_time"`
	Guest           model.GuestInfo   `json:"guest"`
	Responses       map[string]string `json:"responses,omitempty"`
	HolidayOverride bool              `json:"holiday_override,omitempty"`
	RescheduledFrom string            `json:"rescheduled_from,omitempty"`
	CancelledAt     string            `json:"cancelled_at,omitempty"`
	CancelReason    string            `json:"cancel_reason,omitempty"`
}

func toBookingResponse(a model.Appointment, loc *time.Location) bookingResponse {
	out := bookingResponse{
		Reference:       a.Reference,
		AppointmentID:   a.ID,
		Status:          string(a.Status),
		EventTypeID:     a.EventTypeID,
		ProviderID:      a.ProviderID,
		StartTime:       a.Start.In(loc).Format(time.RFC3339),
		EndTime:         a.End.In(loc).Format(time.RFC3339),
		Guest:           a.Guest,
		Responses:       a.Responses,
		HolidayOverride: a.HolidayOverride,
		RescheduledFrom: a.RescheduledFrom,
		CancelReason:    a.CancelReason,
	}
	if a.CancelledAt != nil {
		out.CancelledAt = a.CancelledAt.In(loc).Format(time.RFC3339)
	}
	return out
}

func (h *BookingHandler) Create(w http.ResponseWriter, r *http.Request) {
	h.create(w, r, false)
}

// CreateOverride books on a holiday. Staff only.
func (h *BookingHandler) CreateOverride(w http.ResponseWriter, r *http.Request) {
	h.create(w, r, true)
}

func (h *BookingHandler) create(w http.ResponseWriter, r *http.Request, override bool) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	th, err := h.tenant(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if override {
		if err := h.requireStaff(r, th); err != nil {
			h.writeError(w, r, err)
			return
		}
	}

	var req createBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(w, "invalid json body")
		return
	}
	start, end, ok := h.parseInterval(w, req.StartTime, req.EndTime)
	if !ok {
		return
	}

	a, err := h.coord.Create(r.Context(), th, booking.CreateRequest{
		EventTypeID: strings.TrimSpace(req.EventTypeID),
		ProviderID:  strings.TrimSpace(req.ProviderID),
		Start:       start,
		End:         end,
		Guest: model.GuestInfo{
			Name:  strings.TrimSpace(req.CustomerName),
			Email: strings.TrimSpace(req.CustomerEmail),
			Phone: strings.TrimSpace(req.CustomerPhone),
		},
		Responses:        req.Responses,
		OverrideHolidays: override,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.AddLogAttrs(r.Context(), "booking_reference", a.Reference)
	writeJSON(w, http.StatusCreated, toBookingResponse(a, th.Location()))
}

func (h *BookingHandler) Lookup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	th, err := h.tenant(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	a, err := h.coord.Get(r.Context(), th, r.URL.Query().Get("reference"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingResponse(a, th.Location()))
}

// bookingRef names an appointment either by id or by the guest's booking
// reference, which resolves to the reference's active appointment.
type bookingRef struct {
	AppointmentID string `json:"appointment_id"`
	Reference     string `json:"reference"`
}

func (h *BookingHandler) appointmentID(ctx context.Context, th tenancy.Handle, ref bookingRef) (string, error) {
	if id := strings.TrimSpace(ref.AppointmentID); id != "" {
		return id, nil
	}
	a, err := h.coord.Get(ctx, th, ref.Reference)
	if err != nil {
		return "", err
	}
	return a.ID, nil
}

type cancelBookingRequest struct {
	bookingRef
	Reason string `json:"reason"`
}

// Cancel is the guest's cancellation, refused close to the start.
func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.cancel(w, r, false)
}

// StaffCancel cancels at any time.
func (h *BookingHandler) StaffCancel(w http.ResponseWriter, r *http.Request) {
	h.cancel(w, r, true)
}

func (h *BookingHandler) cancel(w http.ResponseWriter, r *http.Request, staff bool) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	th, err := h.tenant(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	op := h.coord.GuestCancel
	if staff {
		if err := h.requireStaff(r, th); err != nil {
			h.writeError(w, r, err)
			return
		}
		op = h.coord.Cancel
	}
	var req cancelBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(w, "invalid json body")
		return
	}
	id, err := h.appointmentID(r.Context(), th, req.bookingRef)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	a, err := op(r.Context(), th, id, req.Reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.AddLogAttrs(r.Context(), "booking_reference", a.Reference)
	writeJSON(w, http.StatusOK, toBookingResponse(a, th.Location()))
}

type rescheduleBookingRequest struct {
	bookingRef
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

func (h *BookingHandler) Reschedule(w http.ResponseWriter, r *http.Request) {
	h.reschedule(w, r, false)
}

func (h *BookingHandler) StaffReschedule(w http.ResponseWriter, r *http.Request) {
	h.reschedule(w, r, true)
}

func (h *BookingHandler) reschedule(w http.ResponseWriter, r *http.Request, staff bool) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	th, err := h.tenant(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	op := h.coord.GuestReschedule
	if staff {
		if err := h.requireStaff(r, th); err != nil {
			h.writeError(w, r, err)
			return
		}
		op = h.coord.Reschedule
	}
	var req rescheduleBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(w, "invalid json body")
		return
	}
	start, end, ok := h.parseInterval(w, req.StartTime, req.EndTime)
	if !ok {
		return
	}
	id, err := h.appointmentID(r.Context(), th, req.bookingRef)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	a, err := op(r.Context(), th, id, start, end)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.AddLogAttrs(r.Context(), "booking_reference", a.Reference)
	writeJSON(w, http.StatusOK, toBookingResponse(a, th.Location()))
}

func (h *BookingHandler) parseInterval(w http.ResponseWriter, startRaw, endRaw string) (time.Time, time.Time, bool) {
	start, err := time.Parse(time.RFC3339, strings.TrimSpace(startRaw))
	if err != nil {
		h.badRequest(w, "invalid start_time")
		return time.Time{}, time.Time{}, false
	}
	end, err := time.Parse(time.RFC3339, strings.TrimSpace(endRaw))
	if err != nil {
		h.badRequest(w, "invalid end_time")
		return time.Time{}, time.Time{}, false
	}
	return start, end, true
}

func (h *BookingHandler) Complete(w http.ResponseWriter, r *http.Request) {
	h.finish(w, r, h.coord.Complete)
}

func (h *BookingHandler) NoShow(w http.ResponseWriter, r *http.Request) {
	h.finish(w, r, h.coord.MarkNoShow)
}

func (h *BookingHandler) finish(w http.ResponseWriter, r *http.Request, op func(context.Context, tenancy.Handle, string) (model.Appointment, error)) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	th, err := h.tenant(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.requireStaff(r, th); err != nil {
		h.writeError(w, r, err)
		return
	}
	var req bookingRef
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(w, "invalid json body")
		return
	}
	id, err := h.appointmentID(r.Context(), th, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	a, err := op(r.Context(), th, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingResponse(a, th.Location()))
}

type syncHolidaysResponse struct {
	Year     int  `json:"year"`
	Inserted int  `json:"inserted"`
	Degraded bool `json:"degraded"`
}

// SyncHolidays copies the official list for ?year= (default: the current
// year in the tenant's timezone) into the tenant's holidays.
func (h *BookingHandler) SyncHolidays(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	th, err := h.tenant(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.requireStaff(r, th); err != nil {
		h.writeError(w, r, err)
		return
	}
	year := time.Now().In(th.Location()).Year()
	if v := strings.TrimSpace(r.URL.Query().Get("year")); v != "" {
		if year, err = strconv.Atoi(v); err != nil {
			h.badRequest(w, "invalid year")
			return
		}
	}
	res, err := h.coord.SyncHolidays(r.Context(), th, year)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, syncHolidaysResponse{Year: res.Year, Inserted: res.Inserted, Degraded: res.Degraded})
}
