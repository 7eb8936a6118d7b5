package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/md-rashed-zaman/tenantbook/libs/db"
	"github.com/md-rashed-zaman/tenantbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/tenantbook/services/booking-service/internal/tenancy"
)

// Registry is the cross-tenant table of tenants in public.tenants.
type Registry struct {
	pool *db.Pool
}

var _ tenancy.Registry = (*Registry)(nil)

func NewRegistry(pool *db.Pool) *Registry {
	return &Registry{pool: pool}
}

// Migrate creates the shared tables.
func (r *Registry) Migrate(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, publicSchema)
	return err
}

func (r *Registry) LookupTenant(ctx context.Context, slug string) (tenancy.Record, error) {
	var rec tenancy.Record
	var state string
	err := r.pool.QueryRow(ctx, `
		SELECT id, slug, namespace, timezone, region, state, deleted_at
		FROM public.tenants
		WHERE slug = $1
	`, slug).Scan(&rec.ID, &rec.Slug, &rec.Namespace, &rec.Timezone, &rec.Region, &state, &rec.DeletedAt)
	if err != nil {
		if db.IsNoRows(err) {
			return tenancy.Record{}, fmt.Errorf("%w: %s", model.ErrTenantNotFound, slug)
		}
		return tenancy.Record{}, err
	}
	rec.State = tenancy.State(state)
	return rec, nil
}

// ListRegions returns the distinct holiday regions of active tenants.
func (r *Registry) ListRegions(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT upper(region) FROM public.tenants
		WHERE state = 'active' AND region <> ''
		ORDER BY 1
	`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// Provision registers rec and creates its schema in one transaction.
func (r *Registry) Provision(ctx context.Context, rec tenancy.Record) error {
	if !tenancy.ValidNamespace(rec.Namespace) {
		return fmt.Errorf("%w: invalid namespace %q", model.ErrValidation, rec.Namespace)
	}
	if rec.State == "" {
		rec.State = tenancy.StateActive
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO public.tenants (id, slug, namespace, timezone, region, state)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, rec.ID, rec.Slug, rec.Namespace, rec.Timezone, rec.Region, string(rec.State))
	if err != nil {
		if db.IsUniqueViolation(err) {
			return fmt.Errorf("%w: tenant %s already exists", model.ErrValidation, rec.Slug)
		}
		return err
	}
	if _, err := tx.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+pgx.Identifier{rec.Namespace}.Sanitize()); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, searchPath(rec.Namespace)); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, tenantSchema); err != nil {
		return fmt.Errorf("create tables in %s: %w", rec.Namespace, err)
	}
	return tx.Commit(ctx)
}

// Tombstone marks a tenant deleted. The schema stays for audit.
func (r *Registry) Tombstone(ctx context.Context, slug string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE public.tenants
		SET state = 'deleted', deleted_at = now()
		WHERE slug = $1 AND state <> 'deleted'
	`, slug)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", model.ErrTenantNotFound, slug)
	}
	return nil
}
