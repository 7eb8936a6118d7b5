package memory

import (
	"context"
	"fmt"

	"github.com/md-rashed-zaman/tenantbook/services/booking-service/internal/store"
	"github.com/md-rashed-zaman/tenantbook/services/booking-service/internal/tenancy"
)

// Apply provisions every tenant in seed and loads its catalog.
func (s *Store) Apply(ctx context.Context, seed store.Seed) error {
	for _, ts := range seed.Tenants {
		rec, err := ts.Record()
		if err != nil {
			return err
		}
		if err := ts.Normalize(rec.ID); err != nil {
			return fmt.Errorf("seed %s: %w", rec.Slug, err)
		}
		if err := s.Provision(ctx, rec); err != nil {
			return err
		}
		if err := s.loadCatalog(rec, ts); err != nil {
			return fmt.Errorf("seed %s: %w", rec.Slug, err)
		}
	}
	return nil
}

func (s *Store) loadCatalog(rec tenancy.Record, ts store.TenantSeed) error {
	ns, err := s.namespace(rec.Namespace)
	if err != nil {
		return err
	}
	ns.mu.Lock()
	defer ns.mu.Unlock()

	d := ns.data
	for _, p := range ts.Providers {
		d.providers[p.ID] = p
	}
	for _, tpl := range ts.Templates {
		d.templates[tpl.ID] = tpl
	}
	for _, et := range ts.EventTypes {
		d.eventTypes[et.ID] = et
	}
	d.holidays = append(d.holidays, ts.Holidays...)
	d.overrides = append(d.overrides, ts.Overrides...)
	return nil
}
