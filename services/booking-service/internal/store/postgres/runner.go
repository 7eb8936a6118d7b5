// Package postgres stores each tenant in its own schema. A unit of work pins
// the transaction's search_path to that schema, so every unqualified table
// name resolves inside the tenant and nowhere else. Shared rows live in
// public and are always schema-qualified.
package postgres

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/md-rashed-zaman/tenantbook/libs/db"
	"github.com/md-rashed-zaman/tenantbook/services/booking-service/internal/store"
	"github.com/md-rashed-zaman/tenantbook/services/booking-service/internal/tenancy"
)

//go:embed schema/public.sql
var publicSchema string

//go:embed schema/tenant.sql
var tenantSchema string

type Runner struct {
	pool *db.Pool
}

var _ store.Runner = (*Runner)(nil)

func NewRunner(pool *db.Pool) *Runner {
	return &Runner{pool: pool}
}

func (r *Runner) Update(ctx context.Context, h tenancy.Handle, fn func(context.Context, store.Tx) error) error {
	return r.run(ctx, h, pgx.TxOptions{}, true, fn)
}

func (r *Runner) View(ctx context.Context, h tenancy.Handle, fn func(context.Context, store.Tx) error) error {
	return r.run(ctx, h, pgx.TxOptions{AccessMode: pgx.ReadOnly}, false, fn)
}

func (r *Runner) run(ctx context.Context, h tenancy.Handle, opts pgx.TxOptions, writable bool, fn func(context.Context, store.Tx) error) error {
	return r.inTenant(ctx, h, opts, writable, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, &pgTx{tx: tx, tenant: h, writable: writable})
	})
}

// inTenant runs fn on a transaction scoped to h's schema. The transaction
// commits only when writable is set and fn succeeds.
func (r *Runner) inTenant(ctx context.Context, h tenancy.Handle, opts pgx.TxOptions, writable bool, fn func(context.Context, pgx.Tx) error) (err error) {
	if h.IsZero() {
		return store.ErrNoTenant
	}
	tx, err := r.pool.BeginTx(ctx, opts)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		_ = tx.Rollback(context.WithoutCancel(ctx))
		if p := recover(); p != nil {
			panic(p)
		}
	}()

	if _, err := tx.Exec(ctx, searchPath(h.Namespace())); err != nil {
		return fmt.Errorf("scope to %s: %w", h.Namespace(), err)
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if !writable {
		return nil
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	committed = true
	return nil
}

// searchPath leaves public out, so an unqualified shared table name fails
// instead of crossing the tenant boundary.
func searchPath(namespace string) string {
	return "SET LOCAL search_path TO " + pgx.Identifier{namespace}.Sanitize()
}

// ImportCatalog upserts the seed's catalog into h's schema. A seeded
// provider's overrides are replaced; holidays that already exist for a date
// are left alone.
func (r *Runner) ImportCatalog(ctx context.Context, h tenancy.Handle, ts store.TenantSeed) error {
	if err := ts.Normalize(h.ID()); err != nil {
		return err
	}
	return r.inTenant(ctx, h, pgx.TxOptions{}, true, func(ctx context.Context, tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, tpl := range ts.Templates {
			batch.Queue(`
				INSERT INTO availability_templates (id, tenant_id, name)
				VALUES ($1, $2, $3)
				ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name
			`, tpl.ID, tpl.TenantID, tpl.Name)
			batch.Queue(`DELETE FROM availability_windows WHERE template_id = $1`, tpl.ID)
			for i, w := range tpl.Windows {
				batch.Queue(`
					INSERT INTO availability_windows (template_id, position, day_of_week, start_minute, end_minute, timezone)
					VALUES ($1, $2, $3, $4, $5, $6)
				`, tpl.ID, i, int(w.DayOfWeek), w.StartMinute, w.EndMinute, w.Timezone)
			}
		}
		for _, p := range ts.Providers {
			batch.Queue(`
				INSERT INTO providers (id, tenant_id, name, active, template_id)
				VALUES ($1, $2, $3, $4, $5)
				ON CONFLICT (id) DO UPDATE
				SET name = EXCLUDED.name, active = EXCLUDED.active, template_id = EXCLUDED.template_id
			`, p.ID, p.TenantID, p.Name, p.Active, nullable(p.TemplateID))
			batch.Queue(`DELETE FROM date_overrides WHERE provider_id = $1`, p.ID)
		}
		for _, et := range ts.EventTypes {
			batch.Queue(`
				INSERT INTO event_types
					(id, tenant_id, name, duration_minutes, template_id, requires_provider_assignment,
					 min_notice_minutes, buffer_before_minutes, buffer_after_minutes, max_advance_days, active)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
				ON CONFLICT (id) DO UPDATE
				SET name = EXCLUDED.name,
					duration_minutes = EXCLUDED.duration_minutes,
					template_id = EXCLUDED.template_id,
					requires_provider_assignment = EXCLUDED.requires_provider_assignment,
					min_notice_minutes = EXCLUDED.min_notice_minutes,
					buffer_before_minutes = EXCLUDED.buffer_before_minutes,
					buffer_after_minutes = EXCLUDED.buffer_after_minutes,
					max_advance_days = EXCLUDED.max_advance_days,
					active = EXCLUDED.active
			`, et.ID, et.TenantID, et.Name, et.DurationMinutes, nullable(et.TemplateID), et.RequiresProviderAssignment,
				et.MinNoticeMinutes, et.BufferBeforeMinutes, et.BufferAfterMinutes, et.MaxAdvanceDays, et.Active)
			batch.Queue(`DELETE FROM event_type_providers WHERE event_type_id = $1`, et.ID)
			for _, pid := range et.ProviderIDs {
				batch.Queue(`
					INSERT INTO event_type_providers (event_type_id, provider_id) VALUES ($1, $2)
				`, et.ID, pid)
			}
		}
		for _, o := range ts.Overrides {
			batch.Queue(`
				INSERT INTO date_overrides (provider_id, date, unavailable, start_minute, end_minute)
				VALUES ($1, $2, $3, $4, $5)
			`, o.ProviderID, dateArg(o.Date), o.Unavailable, o.StartMinute, o.EndMinute)
		}
		for _, hol := range ts.Holidays {
			batch.Queue(insertHolidaySQL, holidayID(hol), dateArg(hol.Date), hol.Name, string(hol.Source), hol.Active, hol.Recurring)
		}
		if batch.Len() == 0 {
			return nil
		}
		return tx.SendBatch(ctx, batch).Close()
	})
}
