package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/md-rashed-zaman/tenantbook/libs/auth"
	"github.com/md-rashed-zaman/tenantbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/tenantbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/tenantbook/services/booking-service/internal/holiday"
	"github.com/md-rashed-zaman/tenantbook/services/booking-service/internal/store"
	"github.com/md-rashed-zaman/tenantbook/services/booking-service/internal/store/memory"
	"github.com/md-rashed-zaman/tenantbook/services/booking-service/internal/tenancy"
)

const secret = "test-secret"

const seedYAML = `
tenants:
  - slug: acme
    timezone: Asia/Bangkok
    region: TH
    providers:
      - {id: p1, name: Dr. One, active: true, template_id: monday}
    templates:
      - id: monday
        windows:
          - {day_of_week: 1, start_minute: 540, end_minute: 720}
    event_types:
      - {id: consult, name: Consult, duration_minutes: 30, provider_ids: [p1], active: true}
  - slug: dormant
    state: inactive
`

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

func newServer(t *testing.T) (http.Handler, *clock) {
	t.Helper()
	ctx := context.Background()
	clk := &clock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}

	st := memory.New()
	st.SetClock(clk.Now)
	seed, err := store.DecodeSeed(strings.NewReader(seedYAML))
	require.NoError(t, err)
	require.NoError(t, st.Apply(ctx, seed))

	src, err := holiday.DecodeStaticSource(strings.NewReader("regions:\n  TH:\n    - {date: 2026-01-12, name: Bridge day}\n"))
	require.NoError(t, err)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cal := holiday.NewCalendar(src, nil, holiday.Config{Now: clk.Now, Logger: logger})
	eng := availability.New(cal, availability.Config{Now: clk.Now})
	coord := booking.New(st, eng, booking.Options{Warmer: cal, Logger: logger, GuestCutoff: 4 * time.Hour})

	mux := http.NewServeMux()
	NewBookingHandler(coord, tenancy.NewResolver(st, 0, logger), secret, logger).Mount(mux)
	return mux, clk
}

type call struct {
	method string
	path   string
	tenant string
	token  string
	body   any
}

func do(t *testing.T, srv http.Handler, c call) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var body io.Reader
	if c.body != nil {
		b, err := json.Marshal(c.body)
		require.NoError(t, err)
		body = bytes.NewReader(b)
	}
	req := httptest.NewRequest(c.method, c.path, body)
	if c.tenant != "" {
		req.Header.Set(tenancy.HeaderTenant, c.tenant)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec, out
}

func errorCode(out map[string]any) string {
	e, _ := out["error"].(map[string]any)
	code, _ := e["code"].(string)
	return code
}

func staffToken(t *testing.T, tenant, role string) string {
	t.Helper()
	tok, err := auth.SignHS256("staff-1", tenant, role, time.Hour, secret)
	require.NoError(t, err)
	return tok
}

func book(start string) map[string]any {
	return map[string]any{
		"event_type_id": "consult",
		"start_time":    start,
		"end_time":      strings.Replace(start, ":00:00", ":30:00", 1),
		"customer_name": "Ann",
	}
}

func TestSlotsEndpoint(t *testing.T) {
	srv, _ := newServer(t)

	rec, out := do(t, srv, call{method: http.MethodGet, path: "/api/v1/public/slots?event_type_id=consult&from=2026-01-05", tenant: "acme"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "Asia/Bangkok", out["timezone"])
	slots := out["slots"].([]any)
	require.Len(t, slots, 6)
	require.Equal(t, "2026-01-05T09:00:00+07:00", slots[0].(map[string]any)["start_time"])

	rec, out = do(t, srv, call{method: http.MethodGet, path: "/api/v1/public/slots?event_type_id=consult&from=2026-01-12", tenant: "acme"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, out["slots"])
}

func TestBookLookupCancel(t *testing.T) {
	srv, _ := newServer(t)

	rec, out := do(t, srv, call{method: http.MethodPost, path: "/api/v1/public/book", tenant: "acme", body: book("2026-01-05T10:00:00+07:00")})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Equal(t, "confirmed", out["status"])
	require.Equal(t, "p1", out["provider_id"])
	ref := out["reference"].(string)

	rec, _ = do(t, srv, call{method: http.MethodPost, path: "/api/v1/public/book", tenant: "acme", body: book("2026-01-05T10:00:00+07:00")})
	require.Equal(t, http.StatusConflict, rec.Code)

	rec, out = do(t, srv, call{method: http.MethodGet, path: "/api/v1/public/bookings?reference=" + ref, tenant: "acme"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "2026-01-05T10:00:00+07:00", out["start_time"])

	rec, out = do(t, srv, call{method: http.MethodPost, path: "/api/v1/public/cancel", tenant: "acme", body: map[string]any{"reference": ref, "reason": "sick"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "cancelled", out["status"])
	require.Equal(t, "sick", out["cancel_reason"])

	rec, out = do(t, srv, call{method: http.MethodPost, path: "/api/v1/public/cancel", tenant: "acme", body: map[string]any{"reference": ref}})
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "not_found", errorCode(out))
}

func TestRescheduleEndpoint(t *testing.T) {
	srv, _ := newServer(t)

	_, out := do(t, srv, call{method: http.MethodPost, path: "/api/v1/public/book", tenant: "acme", body: book("2026-01-05T10:00:00+07:00")})
	ref := out["reference"].(string)
	oldID := out["appointment_id"].(string)

	rec, out := do(t, srv, call{method: http.MethodPost, path: "/api/v1/public/reschedule", tenant: "acme", body: map[string]any{
		"reference":  ref,
		"start_time": "2026-01-05T11:00:00+07:00",
		"end_time":   "2026-01-05T11:30:00+07:00",
	}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, ref, out["reference"])
	require.Equal(t, oldID, out["rescheduled_from"])
}

func TestGuestChangesCloseBeforeStart(t *testing.T) {
	srv, clk := newServer(t)

	_, out := do(t, srv, call{method: http.MethodPost, path: "/api/v1/public/book", tenant: "acme", body: book("2026-01-05T10:00:00+07:00")})
	ref := out["reference"].(string)

	// Three hours before the appointment.
	clk.Set(time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC))

	rec, out := do(t, srv, call{method: http.MethodPost, path: "/api/v1/public/cancel", tenant: "acme", body: map[string]any{"reference": ref}})
	require.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
	require.Equal(t, "change_window_closed", errorCode(out))

	rec, out = do(t, srv, call{method: http.MethodPost, path: "/api/v1/public/reschedule", tenant: "acme", body: map[string]any{
		"reference":  ref,
		"start_time": "2026-01-05T11:00:00+07:00",
		"end_time":   "2026-01-05T11:30:00+07:00",
	}})
	require.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
	require.Equal(t, "change_window_closed", errorCode(out))

	rec, _ = do(t, srv, call{method: http.MethodPost, path: "/api/v1/appointments/cancel", tenant: "acme", body: map[string]any{"reference": ref}})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, out = do(t, srv, call{
		method: http.MethodPost, path: "/api/v1/appointments/cancel", tenant: "acme",
		token: staffToken(t, "acme", auth.RoleStaff), body: map[string]any{"reference": ref, "reason": "clinic closed"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "cancelled", out["status"])
}

func TestErrorMapping(t *testing.T) {
	srv, _ := newServer(t)

	cases := []struct {
		name   string
		call   call
		status int
		code   string
	}{
		{"unknown tenant", call{method: http.MethodGet, path: "/api/v1/public/slots?event_type_id=consult&from=2026-01-05", tenant: "nobody"}, http.StatusNotFound, "tenant_not_found"},
		{"inactive tenant", call{method: http.MethodGet, path: "/api/v1/public/slots?event_type_id=consult&from=2026-01-05", tenant: "dormant"}, http.StatusNotFound, "tenant_not_found"},
		{"unknown event type", call{method: http.MethodGet, path: "/api/v1/public/slots?event_type_id=nope&from=2026-01-05", tenant: "acme"}, http.StatusUnprocessableEntity, "invalid_event_type"},
		{"bad date", call{method: http.MethodGet, path: "/api/v1/public/slots?event_type_id=consult&from=05-01-2026", tenant: "acme"}, http.StatusBadRequest, "validation_error"},
		{"holiday", call{method: http.MethodPost, path: "/api/v1/public/book", tenant: "acme", body: book("2026-01-12T10:00:00+07:00")}, http.StatusConflict, "holiday_conflict"},
		{"missing guest", call{method: http.MethodPost, path: "/api/v1/public/book", tenant: "acme", body: map[string]any{
			"event_type_id": "consult", "start_time": "2026-01-05T10:00:00+07:00", "end_time": "2026-01-05T10:30:00+07:00",
		}}, http.StatusBadRequest, "validation_error"},
		{"bad reference", call{method: http.MethodGet, path: "/api/v1/public/bookings?reference=nope", tenant: "acme"}, http.StatusNotFound, "not_found"},
		{"wrong method", call{method: http.MethodGet, path: "/api/v1/public/book", tenant: "acme"}, http.StatusMethodNotAllowed, "method_not_allowed"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec, out := do(t, srv, tc.call)
			require.Equal(t, tc.status, rec.Code, rec.Body.String())
			require.Equal(t, tc.code, errorCode(out))
		})
	}
}

func TestStaffRoutesRequireTenantToken(t *testing.T) {
	srv, _ := newServer(t)
	body := book("2026-01-12T10:00:00+07:00")

	rec, out := do(t, srv, call{method: http.MethodPost, path: "/api/v1/book-override", tenant: "acme", body: body})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "unauthorized", errorCode(out))

	rec, _ = do(t, srv, call{method: http.MethodPost, path: "/api/v1/book-override", tenant: "acme", token: staffToken(t, "globex", auth.RoleOwner), body: body})
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec, _ = do(t, srv, call{method: http.MethodPost, path: "/api/v1/book-override", tenant: "acme", token: staffToken(t, "acme", "guest"), body: body})
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec, out = do(t, srv, call{method: http.MethodPost, path: "/api/v1/book-override", tenant: "acme", token: staffToken(t, "acme", auth.RoleStaff), body: body})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Equal(t, true, out["holiday_override"])
}

func TestCompleteAfterStart(t *testing.T) {
	srv, clk := newServer(t)
	tok := staffToken(t, "acme", auth.RoleOwner)

	_, out := do(t, srv, call{method: http.MethodPost, path: "/api/v1/public/book", tenant: "acme", body: book("2026-01-05T10:00:00+07:00")})
	id := out["appointment_id"].(string)

	rec, out := do(t, srv, call{method: http.MethodPost, path: "/api/v1/appointments/complete", tenant: "acme", token: tok, body: map[string]any{"appointment_id": id}})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "validation_error", errorCode(out))

	clk.Set(time.Date(2026, 1, 5, 4, 0, 0, 0, time.UTC))
	rec, out = do(t, srv, call{method: http.MethodPost, path: "/api/v1/appointments/no-show", tenant: "acme", token: tok, body: map[string]any{"appointment_id": id}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "no_show", out["status"])
}

func TestHolidaySyncEndpoint(t *testing.T) {
	srv, _ := newServer(t)
	tok := staffToken(t, "acme", auth.RoleOwner)

	rec, out := do(t, srv, call{method: http.MethodPost, path: "/api/v1/holidays/sync?year=2026", tenant: "acme", token: tok})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, float64(1), out["inserted"])

	rec, _ = do(t, srv, call{method: http.MethodPost, path: "/api/v1/holidays/sync?year=next", tenant: "acme", token: tok})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
