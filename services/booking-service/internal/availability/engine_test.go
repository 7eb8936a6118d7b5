package availability

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/md-rashed-zaman/tenantbook/services/booking-service/internal/holiday"
	"github.com/md-rashed-zaman/tenantbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/tenantbook/services/booking-service/internal/store"
	"github.com/md-rashed-zaman/tenantbook/services/booking-service/internal/store/memory"
	"github.com/md-rashed-zaman/tenantbook/services/booking-service/internal/tenancy"
)

const seedYAML = `
tenants:
  - slug: clinic
    timezone: Asia/Bangkok
    region: TH
    providers:
      - {id: p1, name: Dr. One, active: true, template_id: monday}
      - {id: p2, name: Dr. Two, active: true, template_id: monday}
      - {id: p3, name: Dr. Three, active: false, template_id: monday}
      - {id: p4, name: Dr. Four, active: true}
    templates:
      - id: monday
        name: Monday mornings
        windows:
          - {day_of_week: 1, start_minute: 540, end_minute: 720}
    event_types:
      - {id: consult, name: Consult, duration_minutes: 30, template_id: monday, provider_ids: [p1], active: true}
      - {id: pool, name: Walk-in, duration_minutes: 30, provider_ids: [p2, p1, p3], active: true}
      - {id: exam, name: Exam, duration_minutes: 30, requires_provider_assignment: true, provider_ids: [p2, p1], active: true}
      - {id: short-notice, name: Urgent, duration_minutes: 30, template_id: monday, provider_ids: [p1], min_notice_minutes: 60, active: true}
      - {id: horizon, name: Planned, duration_minutes: 30, template_id: monday, provider_ids: [p1], max_advance_days: 4, active: true}
      - {id: retired, name: Retired, duration_minutes: 30, template_id: monday, provider_ids: [p1], active: false}
      - {id: zero, name: Zero, duration_minutes: 0, template_id: monday, provider_ids: [p1], active: true}
      - {id: untemplated, name: Untemplated, duration_minutes: 30, provider_ids: [p4], active: true}
`

// 2026-01-05 is a Monday; 09:00 in Bangkok is 02:00 UTC.
var (
	monday  = model.Date{Year: 2026, Month: time.January, Day: 5}
	newYear = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
)

func bkk(h, m int) time.Time {
	loc, _ := time.LoadLocation("Asia/Bangkok")
	return time.Date(2026, 1, 5, h, m, 0, 0, loc)
}

type fixture struct {
	store  *memory.Store
	handle tenancy.Handle
	engine *Engine
}

func newFixture(t *testing.T, now time.Time, official string) *fixture {
	t.Helper()
	st := memory.New()
	st.SetClock(func() time.Time { return now })
	seed, err := store.DecodeSeed(strings.NewReader(seedYAML))
	require.NoError(t, err)
	require.NoError(t, st.Apply(context.Background(), seed))

	h, err := tenancy.NewResolver(st, 0, nil).Resolve(context.Background(), "clinic")
	require.NoError(t, err)

	var src holiday.Source
	if official != "" {
		src, err = holiday.DecodeStaticSource(strings.NewReader(official))
		require.NoError(t, err)
	}
	cal := holiday.NewCalendar(src, nil, holiday.Config{Now: func() time.Time { return now }})
	return &fixture{store: st, handle: h, engine: New(cal, Config{Now: func() time.Time { return now }})}
}

func (f *fixture) plan(t *testing.T, q Query) []Slot {
	t.Helper()
	pl, err := f.planErr(q)
	require.NoError(t, err)
	return pl.All()
}

func (f *fixture) planErr(q Query) (*Plan, error) {
	var pl *Plan
	err := f.store.View(context.Background(), f.handle, func(ctx context.Context, tx store.Tx) error {
		var err error
		pl, err = f.engine.Plan(ctx, tx, f.handle, q)
		return err
	})
	return pl, err
}

func (f *fixture) check(req SlotRequest) ([]string, error) {
	var ids []string
	err := f.store.View(context.Background(), f.handle, func(ctx context.Context, tx store.Tx) error {
		var err error
		_, ids, err = f.engine.Check(ctx, tx, f.handle, req)
		return err
	})
	return ids, err
}

func (f *fixture) book(t *testing.T, provider string, start time.Time) {
	t.Helper()
	err := f.store.Update(context.Background(), f.handle, func(ctx context.Context, tx store.Tx) error {
		_, err := tx.InsertAppointment(ctx, model.Appointment{
			TenantID:    f.handle.ID(),
			EventTypeID: "consult",
			ProviderID:  provider,
			Start:       start,
			End:         start.Add(30 * time.Minute),
			Reference:   "BK-" + provider + start.Format("1504"),
			Status:      model.StatusConfirmed,
		})
		return err
	})
	require.NoError(t, err)
}

func starts(slots []Slot) []string {
	out := make([]string, len(slots))
	for i, s := range slots {
		out[i] = s.Start.Format("15:04")
		if s.ProviderID != "" {
			out[i] += "/" + s.ProviderID
		}
	}
	return out
}

func TestBangkokMondayYieldsSixSlots(t *testing.T) {
	f := newFixture(t, newYear, "")
	slots := f.plan(t, Query{EventTypeID: "consult", From: monday, To: monday})

	require.Len(t, slots, 6)
	require.True(t, slots[0].Start.Equal(time.Date(2026, 1, 5, 2, 0, 0, 0, time.UTC)))
	require.Equal(t, []string{"09:00", "09:30", "10:00", "10:30", "11:00", "11:30"}, starts(slots))
	for _, s := range slots {
		require.Equal(t, 30*time.Minute, s.End.Sub(s.Start))
		require.Equal(t, 1, s.Free)
	}
}

func TestOfficialHolidayEmptiesDay(t *testing.T) {
	f := newFixture(t, newYear, "regions:\n  TH:\n    - {date: 2026-01-05, name: Bridge day}\n")

	require.Empty(t, f.plan(t, Query{EventTypeID: "consult", From: monday, To: monday}))

	slots := f.plan(t, Query{EventTypeID: "consult", From: monday, To: monday, OverrideHolidays: true})
	require.Len(t, slots, 6)
}

func TestBookedSlotDisappears(t *testing.T) {
	f := newFixture(t, newYear, "")
	f.book(t, "p1", bkk(10, 0))

	slots := f.plan(t, Query{EventTypeID: "consult", From: monday, To: monday})
	require.Equal(t, []string{"09:00", "09:30", "10:30", "11:00", "11:30"}, starts(slots))
}

func TestPooledSlotsCountFreeProviders(t *testing.T) {
	f := newFixture(t, newYear, "")
	f.book(t, "p1", bkk(10, 0))

	slots := f.plan(t, Query{EventTypeID: "pool", From: monday, To: monday})
	require.Len(t, slots, 6)
	for _, s := range slots {
		require.Empty(t, s.ProviderID)
		if s.Start.Equal(bkk(10, 0)) {
			require.Equal(t, 1, s.Free)
		} else {
			require.Equal(t, 2, s.Free, "inactive p3 is not counted")
		}
	}
}

func TestPerProviderSlotsOrderedByStartThenProvider(t *testing.T) {
	f := newFixture(t, newYear, "")
	f.book(t, "p2", bkk(9, 0))

	slots := f.plan(t, Query{EventTypeID: "exam", From: monday, To: monday})
	require.Equal(t, []string{
		"09:00/p1",
		"09:30/p1", "09:30/p2",
		"10:00/p1", "10:00/p2",
		"10:30/p1", "10:30/p2",
		"11:00/p1", "11:00/p2",
		"11:30/p1", "11:30/p2",
	}, starts(slots))

	only := f.plan(t, Query{EventTypeID: "pool", ProviderID: "p2", From: monday, To: monday})
	require.Len(t, only, 5)
	require.Equal(t, "p2", only[0].ProviderID)
}

func TestDateOverrides(t *testing.T) {
	f := newFixture(t, newYear, "")
	ctx := context.Background()
	seed, err := store.DecodeSeed(strings.NewReader(`
tenants:
  - slug: solo
    timezone: Asia/Bangkok
    providers:
      - {id: a, name: A, active: true, template_id: monday}
      - {id: b, name: B, active: true, template_id: monday}
    templates:
      - id: monday
        windows: [{day_of_week: 1, start_minute: 540, end_minute: 720}]
    event_types:
      - {id: visit, name: Visit, duration_minutes: 30, requires_provider_assignment: true, provider_ids: [a, b], active: true}
    overrides:
      - {provider_id: a, date: 2026-01-05, unavailable: true}
      - {provider_id: b, date: 2026-01-05, start_minute: 780, end_minute: 840}
`))
	require.NoError(t, err)
	require.NoError(t, f.store.Apply(ctx, seed))
	h, err := tenancy.NewResolver(f.store, 0, nil).Resolve(ctx, "solo")
	require.NoError(t, err)
	f.handle = h

	slots := f.plan(t, Query{EventTypeID: "visit", From: monday, To: monday.AddDays(7)})
	require.Equal(t, []string{
		"13:00/b", "13:30/b",
		"09:00/a", "09:00/b", "09:30/a", "09:30/b", "10:00/a", "10:00/b",
		"10:30/a", "10:30/b", "11:00/a", "11:00/b", "11:30/a", "11:30/b",
	}, starts(slots))
}

func TestLeadTimeAndMinimumNotice(t *testing.T) {
	f := newFixture(t, bkk(9, 30), "")

	slots := f.plan(t, Query{EventTypeID: "consult", From: monday, To: monday})
	require.Equal(t, []string{"10:00", "10:30", "11:00", "11:30"}, starts(slots))

	slots = f.plan(t, Query{EventTypeID: "short-notice", From: monday, To: monday})
	require.Equal(t, []string{"11:00", "11:30"}, starts(slots))

	f.engine.leadTime = 90 * time.Minute
	slots = f.plan(t, Query{EventTypeID: "short-notice", From: monday, To: monday})
	require.Equal(t, []string{"11:30"}, starts(slots))
}

func TestMaxAdvanceDaysClampsRange(t *testing.T) {
	f := newFixture(t, newYear, "")

	require.Len(t, f.plan(t, Query{EventTypeID: "consult", From: monday, To: monday.AddDays(7)}), 12)
	require.Len(t, f.plan(t, Query{EventTypeID: "horizon", From: monday, To: monday.AddDays(7)}), 6)

	f.engine.now = func() time.Time { return newYear.AddDate(0, 0, -1) }
	require.Empty(t, f.plan(t, Query{EventTypeID: "horizon", From: monday, To: monday.AddDays(7)}))
}

func TestSlotsSequenceIsLazyAndRestartable(t *testing.T) {
	f := newFixture(t, newYear, "")
	pl, err := f.planErr(Query{EventTypeID: "consult", From: monday, To: monday.AddDays(14)})
	require.NoError(t, err)

	n := 0
	for range pl.Slots() {
		n++
		if n == 2 {
			break
		}
	}
	require.Equal(t, 2, n)
	require.Len(t, pl.All(), 18)
	require.Equal(t, pl.All(), pl.All())
}

func TestPlanErrors(t *testing.T) {
	f := newFixture(t, newYear, "")
	cases := []struct {
		name string
		q    Query
		want error
	}{
		{"unknown event type", Query{EventTypeID: "nope", From: monday, To: monday}, model.ErrInvalidEventType},
		{"inactive event type", Query{EventTypeID: "retired", From: monday, To: monday}, model.ErrInvalidEventType},
		{"zero duration", Query{EventTypeID: "zero", From: monday, To: monday}, model.ErrInvalidEventType},
		{"no template anywhere", Query{EventTypeID: "untemplated", From: monday, To: monday}, model.ErrInvalidEventType},
		{"inverted range", Query{EventTypeID: "consult", From: monday, To: monday.AddDays(-1)}, model.ErrValidation},
		{"range too long", Query{EventTypeID: "consult", From: monday, To: monday.AddDays(62)}, model.ErrValidation},
		{"missing dates", Query{EventTypeID: "consult"}, model.ErrValidation},
		{"ineligible provider", Query{EventTypeID: "consult", ProviderID: "p2", From: monday, To: monday}, model.ErrValidation},
		{"inactive provider", Query{EventTypeID: "pool", ProviderID: "p3", From: monday, To: monday}, model.ErrValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.planErr(tc.q)
			require.ErrorIs(t, err, tc.want)
		})
	}

	_, err := f.planErr(Query{EventTypeID: "consult", From: monday, To: monday.AddDays(61)})
	require.NoError(t, err)
}

func TestCheck(t *testing.T) {
	f := newFixture(t, newYear, "regions:\n  TH:\n    - {date: 2026-01-12, name: Bridge day}\n")
	next := func(h, m int) time.Time { return bkk(h, m).AddDate(0, 0, 7) }

	ids, err := f.check(SlotRequest{EventTypeID: "pool", Start: bkk(10, 0), End: bkk(10, 30)})
	require.NoError(t, err)
	require.Equal(t, []string{"p1", "p2"}, ids)

	ids, err = f.check(SlotRequest{EventTypeID: "pool", ProviderID: "p2", Start: bkk(10, 0), End: bkk(10, 30)})
	require.NoError(t, err)
	require.Equal(t, []string{"p2"}, ids)

	_, err = f.check(SlotRequest{EventTypeID: "consult", Start: bkk(10, 10), End: bkk(10, 40)})
	require.ErrorIs(t, err, model.ErrValidation)

	_, err = f.check(SlotRequest{EventTypeID: "consult", Start: bkk(10, 0), End: bkk(11, 0)})
	require.ErrorIs(t, err, model.ErrValidation)

	_, err = f.check(SlotRequest{EventTypeID: "consult", Start: bkk(13, 0), End: bkk(13, 30)})
	require.ErrorIs(t, err, model.ErrSlotUnavailable)

	_, err = f.check(SlotRequest{EventTypeID: "consult", Start: bkk(11, 30).AddDate(0, 0, 1), End: bkk(12, 0).AddDate(0, 0, 1)})
	require.ErrorIs(t, err, model.ErrSlotUnavailable)

	_, err = f.check(SlotRequest{EventTypeID: "consult", Start: next(10, 0), End: next(10, 30)})
	require.ErrorIs(t, err, model.ErrHolidayConflict)
	require.True(t, model.IsConflict(err))

	ids, err = f.check(SlotRequest{EventTypeID: "consult", Start: next(10, 0), End: next(10, 30), OverrideHolidays: true})
	require.NoError(t, err)
	require.Equal(t, []string{"p1"}, ids)

	_, err = f.check(SlotRequest{EventTypeID: "horizon", Start: next(10, 0), End: next(10, 30)})
	require.ErrorIs(t, err, model.ErrSlotUnavailable)

	f.engine.now = func() time.Time { return bkk(10, 0) }
	_, err = f.check(SlotRequest{EventTypeID: "consult", Start: bkk(10, 0), End: bkk(10, 30)})
	require.ErrorIs(t, err, model.ErrSlotUnavailable)
}

func TestCheckAcceptsEverySlotThePlanOffers(t *testing.T) {
	f := newFixture(t, newYear, "")
	f.book(t, "p1", bkk(9, 30))

	for _, et := range []string{"consult", "pool", "exam"} {
		for _, s := range f.plan(t, Query{EventTypeID: et, From: monday, To: monday.AddDays(13)}) {
			ids, err := f.check(SlotRequest{EventTypeID: et, ProviderID: s.ProviderID, Start: s.Start, End: s.End})
			require.NoError(t, err, "%s at %s", et, s.Start)
			require.NotEmpty(t, ids)
		}
	}
}

type foreignReader struct{ Reader }

func (foreignReader) GetEventType(context.Context, string) (model.EventType, error) {
	return model.EventType{ID: "consult", TenantID: "someone-else", DurationMinutes: 30, Active: true}, nil
}

func TestForeignEntitiesAreRejected(t *testing.T) {
	f := newFixture(t, newYear, "")
	_, err := f.engine.Plan(context.Background(), foreignReader{}, f.handle, Query{EventTypeID: "consult", From: monday, To: monday})
	require.ErrorIs(t, err, model.ErrValidation)
}

// nightFixture adds a Bangkok tenant whose provider keeps UTC evening hours:
// Monday 20:00-22:00 UTC is Tuesday 03:00-05:00 in Bangkok.
func nightFixture(t *testing.T, official string) *fixture {
	t.Helper()
	f := newFixture(t, newYear, official)
	ctx := context.Background()
	seed, err := store.DecodeSeed(strings.NewReader(`
tenants:
  - slug: night
    timezone: Asia/Bangkok
    region: TH
    providers:
      - {id: n1, name: Night Desk, active: true, template_id: late}
    templates:
      - id: late
        timezone: UTC
        windows: [{day_of_week: 1, start_minute: 1200, end_minute: 1320}]
    event_types:
      - {id: visit, name: Visit, duration_minutes: 30, provider_ids: [n1], active: true}
`))
	require.NoError(t, err)
	require.NoError(t, f.store.Apply(ctx, seed))
	h, err := tenancy.NewResolver(f.store, 0, nil).Resolve(ctx, "night")
	require.NoError(t, err)
	f.handle = h
	return f
}

func TestForeignTimezoneWindowsLandOnLocalDate(t *testing.T) {
	f := nightFixture(t, "")
	tuesday := monday.AddDays(1)
	loc, _ := time.LoadLocation("Asia/Bangkok")

	require.Empty(t, f.plan(t, Query{EventTypeID: "visit", From: monday, To: monday}))

	slots := f.plan(t, Query{EventTypeID: "visit", From: tuesday, To: tuesday})
	var local []string
	for _, s := range slots {
		require.Equal(t, tuesday, model.DateOf(s.Start.In(loc)))
		local = append(local, s.Start.In(loc).Format("15:04"))
	}
	require.Equal(t, []string{"03:00", "03:30", "04:00", "04:30"}, local)
	require.Equal(t, slots, f.plan(t, Query{EventTypeID: "visit", From: monday, To: tuesday}))

	for _, s := range slots {
		ids, err := f.check(SlotRequest{EventTypeID: "visit", Start: s.Start, End: s.End})
		require.NoError(t, err)
		require.Equal(t, []string{"n1"}, ids)
	}
}

func TestForeignTimezoneWindowsRespectLocalHolidays(t *testing.T) {
	f := nightFixture(t, "regions:\n  TH:\n    - {date: 2026-01-06, name: Tuesday off}\n")
	tuesday := monday.AddDays(1)

	require.Empty(t, f.plan(t, Query{EventTypeID: "visit", From: monday, To: tuesday}))

	start := time.Date(2026, 1, 5, 20, 0, 0, 0, time.UTC)
	_, err := f.check(SlotRequest{EventTypeID: "visit", Start: start, End: start.Add(30 * time.Minute)})
	require.ErrorIs(t, err, model.ErrHolidayConflict)

	slots := f.plan(t, Query{EventTypeID: "visit", From: tuesday, To: tuesday, OverrideHolidays: true})
	require.Len(t, slots, 4)
	ids, err := f.check(SlotRequest{EventTypeID: "visit", Start: start, End: start.Add(30 * time.Minute), OverrideHolidays: true})
	require.NoError(t, err)
	require.Equal(t, []string{"n1"}, ids)
}
