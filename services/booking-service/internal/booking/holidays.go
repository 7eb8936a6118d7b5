package booking

import (
	"context"
	"fmt"

	"github.com/md-rashed-zaman/tenantbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/tenantbook/services/booking-service/internal/store"
	"github.com/md-rashed-zaman/tenantbook/services/booking-service/internal/tenancy"
)

// HolidaySync is the outcome of copying an official list into a tenant.
type HolidaySync struct {
	Year     int
	Inserted int
	// Degraded is set when the copied list was stale or missing.
	Degraded bool
}

// SyncHolidays copies the tenant region's official holidays for year into
// the tenant's own list. Dates the tenant already has are left untouched.
func (c *Coordinator) SyncHolidays(ctx context.Context, h tenancy.Handle, year int) (out HolidaySync, err error) {
	ctx, done := c.begin(ctx, "sync_holidays", h)
	defer func() { done(err) }()

	if year < 1900 || year > 9999 {
		return HolidaySync{}, fmt.Errorf("%w: year %d out of range", model.ErrValidation, year)
	}
	if h.Region() == "" {
		return HolidaySync{}, fmt.Errorf("%w: tenant %s has no holiday region", model.ErrValidation, h.Slug())
	}
	c.warm(ctx, h, year, year)

	out.Year = year
	err = c.runner.Update(ctx, h, func(ctx context.Context, tx store.Tx) error {
		var err error
		out.Inserted, out.Degraded, err = c.engine.Calendar().Sync(ctx, tx, h, year)
		return err
	})
	if err != nil {
		return HolidaySync{}, err
	}
	c.logger.Info("holidays synced", "tenant", h.Slug(), "year", year, "inserted", out.Inserted, "degraded", out.Degraded)
	return out, nil
}
