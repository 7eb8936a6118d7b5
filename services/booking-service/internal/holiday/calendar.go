package holiday

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/singleflight"

	"github.com/md-rashed-zaman/tenantbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/tenantbook/services/booking-service/internal/tenancy"
)

// TenantHolidays is the tenant-scoped read the calendar needs.
type TenantHolidays interface {
	ListHolidays(ctx context.Context) ([]model.Holiday, error)
}

// Observer receives fetch outcomes; *metrics.Metrics implements it.
type Observer interface {
	HolidayFetch(region, outcome string)
	HolidayDegradedAnswer(region string)
}

type Config struct {
	// FetchTimeout bounds one refresh including retries.
	FetchTimeout time.Duration
	MaxTries     uint
	// Cooldown is how long a region/year is not refetched after a failure.
	Cooldown time.Duration
	// Fallback answers when the source fails and nothing is cached.
	Fallback Source
	Observer Observer
	Logger   *slog.Logger
	Now      func() time.Time
}

// Calendar merges official holiday lists with tenant-entered holidays.
// Fetch problems never surface as errors; the answer is marked degraded.
type Calendar struct {
	source   Source
	cache    Cache
	fallback Source
	observer Observer
	logger   *slog.Logger
	now      func() time.Time

	timeout  time.Duration
	maxTries uint
	cooldown time.Duration

	group singleflight.Group

	mu          sync.Mutex
	failedUntil map[string]time.Time
}

func NewCalendar(source Source, cache Cache, cfg Config) *Calendar {
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 3 * time.Second
	}
	if cfg.MaxTries == 0 {
		cfg.MaxTries = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 5 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cache == nil {
		cache = NewMemoryCache()
	}
	return &Calendar{
		source:      source,
		cache:       cache,
		fallback:    cfg.Fallback,
		observer:    cfg.Observer,
		logger:      cfg.Logger,
		now:         cfg.Now,
		timeout:     cfg.FetchTimeout,
		maxTries:    cfg.MaxTries,
		cooldown:    cfg.Cooldown,
		failedUntil: map[string]time.Time{},
	}
}

// Official returns the official list for region and year. degraded is true
// when the list came from stale cache, the fallback, or nothing at all.
func (c *Calendar) Official(ctx context.Context, region string, year int) (list []Official, degraded bool) {
	if region == "" || c.source == nil {
		return nil, false
	}

	cached, hit, err := c.cache.Get(ctx, region, year)
	if err != nil {
		c.logger.Warn("holiday cache read failed", "region", region, "year", year, "err", err)
	}
	if hit && c.fresh(cached, year) {
		return cached.Holidays, false
	}

	key := region + ":" + strconv.Itoa(year)
	if c.coolingDown(key) {
		c.observe(region, "cooldown")
		return c.degrade(ctx, region, year, cached, hit), true
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		return c.refresh(ctx, region, year)
	})
	if err != nil {
		c.logger.Warn("holiday fetch failed, using fallback",
			"region", region, "year", year, "err", fmt.Errorf("%w: %v", model.ErrExternalServiceDegraded, err))
		return c.degrade(ctx, region, year, cached, hit), true
	}
	return v.([]Official), false
}

// fresh: past years never change, the current and future years are fetched
// at most once per calendar year.
func (c *Calendar) fresh(list CachedList, year int) bool {
	now := c.now()
	if year < now.Year() {
		return true
	}
	return list.FetchedAt.Year() == now.Year()
}

func (c *Calendar) coolingDown(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	until, ok := c.failedUntil[key]
	return ok && c.now().Before(until)
}

func (c *Calendar) refresh(ctx context.Context, region string, year int) ([]Official, error) {
	// Detached from the caller so one cancelled request does not fail the
	// others sharing this flight.
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = time.Second

	list, err := backoff.Retry(fctx, func() ([]Official, error) {
		return c.source.Fetch(fctx, region, year)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(c.maxTries),
		backoff.WithMaxElapsedTime(c.timeout),
	)

	key := region + ":" + strconv.Itoa(year)
	c.mu.Lock()
	if err != nil {
		c.failedUntil[key] = c.now().Add(c.cooldown)
	} else {
		delete(c.failedUntil, key)
	}
	c.mu.Unlock()

	if err != nil {
		c.observe(region, "error")
		return nil, err
	}
	c.observe(region, "ok")

	if err := c.cache.Put(fctx, CachedList{Region: region, Year: year, FetchedAt: c.now(), Holidays: list}); err != nil {
		c.logger.Warn("holiday cache write failed", "region", region, "year", year, "err", err)
	}
	return list, nil
}

func (c *Calendar) degrade(ctx context.Context, region string, year int, cached CachedList, hit bool) []Official {
	if c.observer != nil {
		c.observer.HolidayDegradedAnswer(region)
	}
	if hit {
		return cached.Holidays
	}
	if c.fallback != nil {
		list, err := c.fallback.Fetch(ctx, region, year)
		if err == nil {
			return list
		}
		c.logger.Warn("holiday fallback failed", "region", region, "year", year, "err", err)
	}
	return nil
}

func (c *Calendar) observe(region, outcome string) {
	if c.observer != nil {
		c.observer.HolidayFetch(region, outcome)
	}
}

// Warm makes sure the official lists for the given years are cached, so
// later lookups inside a booking transaction do not wait on the network.
func (c *Calendar) Warm(ctx context.Context, region string, years ...int) {
	for _, y := range years {
		c.Official(ctx, region, y)
	}
}

// Set is the merged holiday answer for a range of years.
type Set struct {
	names map[model.Date]string
	// Degraded marks answers built without a current official list.
	Degraded bool
}

func (s Set) Contains(d model.Date) bool {
	_, ok := s.names[d]
	return ok
}

func (s Set) Name(d model.Date) string { return s.names[d] }

func (s Set) Len() int { return len(s.names) }

// Dates returns the holidays in ascending order.
func (s Set) Dates() []model.Date {
	out := make([]model.Date, 0, len(s.names))
	for d := range s.names {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// precedence of entries competing for one date, highest wins.
const (
	rankFetched = iota + 1
	rankStoredOfficial
	rankManualRecurring
	rankManual
)

type candidate struct {
	rank   int
	active bool
	name   string
}

// ListHolidays merges the region's official list with the tenant's own
// entries for every year in [fromYear, toYear]. Manual entries beat
// official ones, and an inactive winner suppresses the date.
func (c *Calendar) ListHolidays(ctx context.Context, th TenantHolidays, h tenancy.Handle, fromYear, toYear int) (Set, error) {
	if toYear < fromYear {
		return Set{}, fmt.Errorf("%w: year range %d-%d", model.ErrValidation, fromYear, toYear)
	}
	stored, err := th.ListHolidays(ctx)
	if err != nil {
		return Set{}, err
	}

	best := map[model.Date]candidate{}
	offer := func(d model.Date, cand candidate) {
		if cur, ok := best[d]; !ok || cand.rank > cur.rank {
			best[d] = cand
		}
	}

	set := Set{names: map[model.Date]string{}}
	for year := fromYear; year <= toYear; year++ {
		official, degraded := c.Official(ctx, h.Region(), year)
		set.Degraded = set.Degraded || degraded
		for _, o := range official {
			offer(o.Date, candidate{rank: rankFetched, active: true, name: o.Name})
		}
		for _, hol := range stored {
			d, ok := occurrence(hol, year)
			if !ok {
				continue
			}
			offer(d, candidate{rank: rankOf(hol), active: hol.Active, name: hol.Name})
		}
	}

	for d, cand := range best {
		if cand.active {
			set.names[d] = cand.name
		}
	}
	if set.Degraded {
		c.logger.Debug("holiday answer degraded", "tenant", h.Slug(), "region", h.Region())
	}
	return set, nil
}

// IsHoliday reports whether d is an active holiday for the tenant.
func (c *Calendar) IsHoliday(ctx context.Context, th TenantHolidays, h tenancy.Handle, d model.Date) (bool, error) {
	set, err := c.ListHolidays(ctx, th, h, d.Year, d.Year)
	if err != nil {
		return false, err
	}
	return set.Contains(d), nil
}

func rankOf(h model.Holiday) int {
	switch {
	case h.Source == model.SourceManual && !h.Recurring:
		return rankManual
	case h.Source == model.SourceManual:
		return rankManualRecurring
	default:
		return rankStoredOfficial
	}
}

// occurrence places h in year. Recurring Feb 29 only occurs in leap years.
func occurrence(h model.Holiday, year int) (model.Date, bool) {
	if !h.Recurring {
		return h.Date, h.Date.Year == year
	}
	if h.Date.Month == time.February && h.Date.Day == 29 && !model.IsLeapYear(year) {
		return model.Date{}, false
	}
	return model.Date{Year: year, Month: h.Date.Month, Day: h.Date.Day}, true
}

// SyncTx is what Sync writes through.
type SyncTx interface {
	TenantHolidays
	InsertHoliday(ctx context.Context, h model.Holiday) (bool, error)
}

// Sync copies the region's official list for year into the tenant's own
// holidays so staff can review and deactivate entries. Dates the tenant
// already has are left alone.
func (c *Calendar) Sync(ctx context.Context, tx SyncTx, h tenancy.Handle, year int) (inserted int, degraded bool, err error) {
	list, degraded := c.Official(ctx, h.Region(), year)
	for _, o := range list {
		ok, err := tx.InsertHoliday(ctx, model.Holiday{
			Date:   o.Date,
			Name:   o.Name,
			Source: model.SourceOfficial,
			Active: true,
		})
		if err != nil {
			return inserted, degraded, err
		}
		if ok {
			inserted++
		}
	}
	return inserted, degraded, nil
}
