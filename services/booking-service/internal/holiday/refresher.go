package holiday

import (
	"context"
	"log/slog"
	"time"
)

// RegionLister reports the regions that active tenants use.
type RegionLister interface {
	ListRegions(ctx context.Context) ([]string, error)
}

// Refresher keeps the official lists of the current and next year warm so
// the booking path almost never fetches inline.
type Refresher struct {
	calendar *Calendar
	regions  RegionLister
	every    time.Duration
	logger   *slog.Logger
}

func NewRefresher(calendar *Calendar, regions RegionLister, every time.Duration, logger *slog.Logger) *Refresher {
	if every <= 0 {
		every = time.Hour
	}
	return &Refresher{calendar: calendar, regions: regions, every: every, logger: logger}
}

func (r *Refresher) Run(ctx context.Context) {
	r.RefreshOnce(ctx)

	ticker := time.NewTicker(r.every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.RefreshOnce(ctx)
		}
	}
}

func (r *Refresher) RefreshOnce(ctx context.Context) {
	regions, err := r.regions.ListRegions(ctx)
	if err != nil {
		if ctx.Err() == nil {
			r.logger.Error("list holiday regions failed", "err", err)
		}
		return
	}
	year := r.calendar.now().Year()
	for _, region := range regions {
		if ctx.Err() != nil {
			return
		}
		r.calendar.Warm(ctx, region, year, year+1)
	}
}
