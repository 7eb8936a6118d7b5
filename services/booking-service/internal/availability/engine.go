// Package availability turns templates, overrides, holidays and existing
// bookings into bookable slots.
package availability

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
	"sort"
	"time"

	"github.com/md-rashed-zaman/tenantbook/services/booking-service/internal/holiday"
	"github.com/md-rashed-zaman/tenantbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/tenantbook/services/booking-service/internal/tenancy"
)

// Reader is the tenant scoped data the engine reads. store.Tx satisfies it.
type Reader interface {
	GetEventType(ctx context.Context, id string) (model.EventType, error)
	GetTemplate(ctx context.Context, id string) (model.AvailabilityTemplate, error)
	GetProvider(ctx context.Context, id string) (model.Provider, error)
	ListDateOverrides(ctx context.Context, providerIDs []string, from, to model.Date) ([]model.DateOverride, error)
	ListHolidays(ctx context.Context) ([]model.Holiday, error)
	ListActiveAppointments(ctx context.Context, providerIDs []string, from, to time.Time) ([]model.Appointment, error)
}

const DefaultMaxRangeDays = 62

type Config struct {
	// LeadTime is the minimum distance between now and a bookable start.
	// An event type's own minimum notice applies when it is longer.
	LeadTime     time.Duration
	MaxRangeDays int
	Now          func() time.Time
}

type Engine struct {
	calendar *holiday.Calendar
	leadTime time.Duration
	maxRange int
	now      func() time.Time
}

func New(calendar *holiday.Calendar, cfg Config) *Engine {
	if cfg.MaxRangeDays <= 0 {
		cfg.MaxRangeDays = DefaultMaxRangeDays
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if calendar == nil {
		calendar = holiday.NewCalendar(nil, nil, holiday.Config{Now: cfg.Now})
	}
	return &Engine{
		calendar: calendar,
		leadTime: max(cfg.LeadTime, 0),
		maxRange: cfg.MaxRangeDays,
		now:      cfg.Now,
	}
}

// Now is the clock every availability decision is made against.
func (e *Engine) Now() time.Time { return e.now() }

func (e *Engine) Calendar() *holiday.Calendar { return e.calendar }

type Query struct {
	EventTypeID string
	// ProviderID narrows the answer to one eligible provider.
	ProviderID       string
	From             model.Date
	To               model.Date
	OverrideHolidays bool
}

type Slot struct {
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	ProviderID string    `json:"provider_id,omitempty"`
	// Free is the number of providers able to take a pooled slot.
	Free int `json:"free,omitempty"`
}

type window struct {
	weekday    time.Weekday
	start, end int
	loc        *time.Location
}

type provider struct {
	id        string
	windows   []window
	overrides map[model.Date][]model.DateOverride
	busy      []Interval
}

// Plan holds everything loaded for one availability question. Slots are
// computed from it a day at a time, so a Plan can outlive the unit of work
// that loaded it.
type Plan struct {
	EventType model.EventType
	From      model.Date
	To        model.Date
	// Degraded is set when the holiday answer had no current official list.
	Degraded bool

	loc       *time.Location
	pooled    bool
	override  bool
	notBefore time.Time
	holidays  holiday.Set
	providers []*provider
}

// Plan loads the inputs for q. The range is inclusive, in tenant local
// dates, and at most MaxRangeDays long.
func (e *Engine) Plan(ctx context.Context, r Reader, h tenancy.Handle, q Query) (*Plan, error) {
	if q.From.IsZero() || q.To.IsZero() {
		return nil, fmt.Errorf("%w: from and to are required", model.ErrValidation)
	}
	if q.To.Before(q.From) {
		return nil, fmt.Errorf("%w: range %s..%s is inverted", model.ErrValidation, q.From, q.To)
	}
	if n := daysBetween(q.From, q.To) + 1; n > e.maxRange {
		return nil, fmt.Errorf("%w: range of %d days exceeds %d", model.ErrValidation, n, e.maxRange)
	}

	et, providers, err := e.load(ctx, r, h, q.EventTypeID, q.ProviderID)
	if err != nil {
		return nil, err
	}

	now := e.now()
	pl := &Plan{
		EventType: et,
		From:      q.From,
		To:        q.To,
		loc:       h.Location(),
		pooled:    !et.RequiresProviderAssignment && q.ProviderID == "",
		override:  q.OverrideHolidays,
		notBefore: now.Add(max(e.leadTime, et.MinNotice())),
		providers: providers,
	}
	if limit, ok := advanceLimit(et, now, pl.loc); ok && pl.To.After(limit) {
		pl.To = limit
	}
	if pl.To.Before(pl.From) || len(providers) == 0 {
		return pl, nil
	}

	ids := pl.providerIDs()
	// Windows of the neighbouring dates can land inside the range when they
	// are kept in another timezone.
	if err := pl.attachOverrides(ctx, r, ids, pl.From.AddDays(-1), pl.To.AddDays(1)); err != nil {
		return nil, err
	}

	before, after := et.BufferBefore(), et.BufferAfter()
	appts, err := r.ListActiveAppointments(ctx, ids,
		pl.From.AddDays(-1).In(pl.loc).Add(-before), pl.To.AddDays(2).In(pl.loc).Add(after))
	if err != nil {
		return nil, err
	}
	busy := make(map[string][]Interval, len(ids))
	for _, a := range appts {
		busy[a.ProviderID] = append(busy[a.ProviderID], Padded(Interval{Start: a.Start, End: a.End}, after, before))
	}
	for _, p := range pl.providers {
		p.busy = Merge(busy[p.id])
	}

	set, err := e.calendar.ListHolidays(ctx, r, h, pl.From.Year, pl.To.Year)
	if err != nil {
		return nil, err
	}
	pl.holidays = set
	pl.Degraded = set.Degraded
	return pl, nil
}

// Slots yields the plan's slots in ascending start order, grouped by the
// tenant local date each slot starts on. Per provider
// plans yield one slot per free provider, ordered by provider id within a
// start; pooled plans yield each start once with the free provider count.
// The sequence can be ranged over any number of times.
func (pl *Plan) Slots() iter.Seq[Slot] {
	return func(yield func(Slot) bool) {
		if len(pl.providers) == 0 {
			return
		}
		for d := pl.From; !d.After(pl.To); d = d.AddDays(1) {
			for _, s := range pl.day(d) {
				if !yield(s) {
					return
				}
			}
		}
	}
}

func (pl *Plan) All() []Slot { return slices.Collect(pl.Slots()) }

// day returns the slots starting on local date d. The windows come from d
// and both neighbours; only slots whose start falls on d are kept.
func (pl *Plan) day(d model.Date) []Slot {
	if !pl.override && pl.holidays.Contains(d) {
		return nil
	}
	dur := pl.EventType.Duration()

	var pairs []Slot
	for _, p := range pl.providers {
		seen := map[int64]bool{}
		for src := d.AddDays(-1); !src.After(d.AddDays(1)); src = src.AddDays(1) {
			for _, w := range pl.windowsOn(p, src) {
				for _, s := range FreeSlots(w, dur, p.busy, pl.notBefore) {
					k := s.Start.UnixNano()
					if seen[k] || model.DateOf(s.Start.In(pl.loc)) != d {
						continue
					}
					seen[k] = true
					pairs = append(pairs, Slot{Start: s.Start, End: s.End, ProviderID: p.id})
				}
			}
		}
	}
	sort.SliceStable(pairs, func(i, j int) bool {
		if !pairs[i].Start.Equal(pairs[j].Start) {
			return pairs[i].Start.Before(pairs[j].Start)
		}
		return pairs[i].ProviderID < pairs[j].ProviderID
	})
	if !pl.pooled {
		return pairs
	}

	var pooled []Slot
	for _, s := range pairs {
		if n := len(pooled); n > 0 && pooled[n-1].Start.Equal(s.Start) {
			pooled[n-1].Free++
			continue
		}
		pooled = append(pooled, Slot{Start: s.Start, End: s.End, Free: 1})
	}
	return pooled
}

// windowsOn returns p's opening hours built from date d. Overrides for d replace the
// template; an unavailable override closes the whole day.
func (pl *Plan) windowsOn(p *provider, d model.Date) []Interval {
	if ovs, ok := p.overrides[d]; ok {
		out := make([]Interval, 0, len(ovs))
		for _, o := range ovs {
			if o.Unavailable {
				return nil
			}
			out = append(out, span(d, o.StartMinute, o.EndMinute, pl.loc))
		}
		return out
	}
	var out []Interval
	wd := d.Weekday()
	for _, w := range p.windows {
		if w.weekday == wd {
			out = append(out, span(d, w.start, w.end, w.loc))
		}
	}
	return out
}

func (pl *Plan) providerIDs() []string {
	ids := make([]string, len(pl.providers))
	for i, p := range pl.providers {
		ids[i] = p.id
	}
	return ids
}

func (pl *Plan) attachOverrides(ctx context.Context, r Reader, ids []string, from, to model.Date) error {
	list, err := r.ListDateOverrides(ctx, ids, from, to)
	if err != nil {
		return err
	}
	byID := make(map[string]*provider, len(pl.providers))
	for _, p := range pl.providers {
		p.overrides = nil
		byID[p.id] = p
	}
	for _, o := range list {
		p, ok := byID[o.ProviderID]
		if !ok {
			continue
		}
		if p.overrides == nil {
			p.overrides = map[model.Date][]model.DateOverride{}
		}
		p.overrides[o.Date] = append(p.overrides[o.Date], o)
	}
	return nil
}

type SlotRequest struct {
	EventTypeID string
	// ProviderID pins the slot to one provider; empty lets every eligible
	// provider compete.
	ProviderID       string
	Start            time.Time
	End              time.Time
	OverrideHolidays bool
}

// Check re-derives whether one slot is offered, using the same windows,
// holidays and notice rules as Plan. It returns the event type and the ids
// of providers whose hours cover the slot, ascending. Existing bookings are
// not consulted; the caller does that under its locks.
func (e *Engine) Check(ctx context.Context, r Reader, h tenancy.Handle, req SlotRequest) (model.EventType, []string, error) {
	et, providers, err := e.load(ctx, r, h, req.EventTypeID, req.ProviderID)
	if err != nil {
		return et, nil, err
	}
	slot := Interval{Start: req.Start, End: req.End}
	if !slot.End.After(slot.Start) {
		return et, nil, fmt.Errorf("%w: end must be after start", model.ErrValidation)
	}
	if slot.End.Sub(slot.Start) != et.Duration() {
		return et, nil, fmt.Errorf("%w: slot lasts %s but %s takes %s", model.ErrValidation, slot.End.Sub(slot.Start), et.ID, et.Duration())
	}

	now := e.now()
	loc := h.Location()
	if !slot.Start.After(now.Add(max(e.leadTime, et.MinNotice()))) {
		return et, nil, fmt.Errorf("%w: %s is too soon", model.ErrSlotUnavailable, slot.Start.Format(time.RFC3339))
	}
	day := model.DateOf(slot.Start.In(loc))
	if limit, ok := advanceLimit(et, now, loc); ok && day.After(limit) {
		return et, nil, fmt.Errorf("%w: %s is beyond the booking horizon", model.ErrSlotUnavailable, day)
	}

	pl := &Plan{EventType: et, loc: loc, providers: providers}
	if err := pl.attachOverrides(ctx, r, pl.providerIDs(), day.AddDays(-1), day.AddDays(1)); err != nil {
		return et, nil, err
	}
	set, err := e.calendar.ListHolidays(ctx, r, h, day.Year, day.Year)
	if err != nil {
		return et, nil, err
	}
	if !req.OverrideHolidays && set.Contains(day) {
		return et, nil, fmt.Errorf("%w: %s is %s", model.ErrHolidayConflict, day, set.Name(day))
	}

	var candidates []string
	misaligned := false
	for _, p := range providers {
		if matched, off := pl.covers(p, slot, day); matched {
			candidates = append(candidates, p.id)
		} else if off {
			misaligned = true
		}
	}
	if len(candidates) == 0 {
		if misaligned {
			return et, nil, fmt.Errorf("%w: %s is not on the slot grid", model.ErrValidation, slot.Start.Format(time.RFC3339))
		}
		return et, nil, fmt.Errorf("%w: %s is outside availability", model.ErrSlotUnavailable, slot.Start.Format(time.RFC3339))
	}
	return et, candidates, nil
}

// covers looks at the windows built from the slot's local day and its
// neighbours, the same dates Plan.day reads.
func (pl *Plan) covers(p *provider, slot Interval, day model.Date) (matched, misaligned bool) {
	dur := pl.EventType.Duration()
	for d := day.AddDays(-1); !d.After(day.AddDays(1)); d = d.AddDays(1) {
		for _, w := range pl.windowsOn(p, d) {
			if !w.Contains(slot) {
				continue
			}
			if Aligned(w, slot, dur) {
				return true, false
			}
			misaligned = true
		}
	}
	return false, misaligned
}

// load resolves the event type and its eligible, active providers, sorted
// by id, with their weekly windows. Every entity is checked against h.
func (e *Engine) load(ctx context.Context, r Reader, h tenancy.Handle, eventTypeID, providerID string) (model.EventType, []*provider, error) {
	et, err := r.GetEventType(ctx, eventTypeID)
	if errors.Is(err, model.ErrNotFound) {
		return et, nil, fmt.Errorf("%w: %q", model.ErrInvalidEventType, eventTypeID)
	}
	if err != nil {
		return et, nil, err
	}
	if err := h.Owns(et.TenantID); err != nil {
		return et, nil, err
	}
	if !et.Active || et.Duration() <= 0 {
		return et, nil, fmt.Errorf("%w: %q is inactive or has no duration", model.ErrInvalidEventType, et.ID)
	}

	ids := slices.Compact(slices.Sorted(slices.Values(et.ProviderIDs)))
	if providerID != "" {
		if !slices.Contains(ids, providerID) {
			return et, nil, fmt.Errorf("%w: provider %q does not offer %q", model.ErrValidation, providerID, et.ID)
		}
		ids = []string{providerID}
	}

	templates := map[string][]window{}
	template := func(id string) ([]window, error) {
		if w, ok := templates[id]; ok {
			return w, nil
		}
		tpl, err := r.GetTemplate(ctx, id)
		if errors.Is(err, model.ErrNotFound) {
			return nil, fmt.Errorf("%w: template %q not found", model.ErrInvalidEventType, id)
		}
		if err != nil {
			return nil, err
		}
		if err := h.Owns(tpl.TenantID); err != nil {
			return nil, err
		}
		w, err := compile(tpl.Windows, h.Location())
		if err != nil {
			return nil, fmt.Errorf("template %q: %w", id, err)
		}
		templates[id] = w
		return w, nil
	}

	hasTemplate := false
	if et.TemplateID != "" {
		if _, err := template(et.TemplateID); err != nil {
			return et, nil, err
		}
		hasTemplate = true
	}

	var out []*provider
	for _, id := range ids {
		p, err := r.GetProvider(ctx, id)
		if errors.Is(err, model.ErrNotFound) || (err == nil && !p.Active) {
			if providerID != "" {
				return et, nil, fmt.Errorf("%w: provider %q is not available", model.ErrValidation, id)
			}
			continue
		}
		if err != nil {
			return et, nil, err
		}
		if err := h.Owns(p.TenantID); err != nil {
			return et, nil, err
		}
		tplID := et.TemplateID
		if tplID == "" {
			tplID = p.TemplateID
		}
		if tplID == "" {
			continue
		}
		w, err := template(tplID)
		if err != nil {
			return et, nil, err
		}
		hasTemplate = true
		out = append(out, &provider{id: id, windows: w})
	}
	if !hasTemplate {
		return et, nil, fmt.Errorf("%w: %q has no availability template", model.ErrInvalidEventType, et.ID)
	}
	return et, out, nil
}

func compile(ws []model.Window, tenantLoc *time.Location) ([]window, error) {
	out := make([]window, 0, len(ws))
	for _, w := range ws {
		if err := w.Validate(); err != nil {
			return nil, err
		}
		loc := tenantLoc
		if w.Timezone != "" {
			l, err := time.LoadLocation(w.Timezone)
			if err != nil {
				return nil, fmt.Errorf("%w: timezone %q", model.ErrValidation, w.Timezone)
			}
			loc = l
		}
		out = append(out, window{weekday: w.DayOfWeek, start: w.StartMinute, end: w.EndMinute, loc: loc})
	}
	return out, nil
}

func span(d model.Date, from, to int, loc *time.Location) Interval {
	return Interval{
		Start: time.Date(d.Year, d.Month, d.Day, 0, from, 0, 0, loc),
		End:   time.Date(d.Year, d.Month, d.Day, 0, to, 0, 0, loc),
	}
}

// advanceLimit is the last local date an event type may be booked on.
func advanceLimit(et model.EventType, now time.Time, loc *time.Location) (model.Date, bool) {
	if et.MaxAdvanceDays <= 0 {
		return model.Date{}, false
	}
	return model.DateOf(now.In(loc)).AddDays(et.MaxAdvanceDays), true
}

func daysBetween(from, to model.Date) int {
	return int(to.In(time.UTC).Sub(from.In(time.UTC)).Hours() / 24)
}
