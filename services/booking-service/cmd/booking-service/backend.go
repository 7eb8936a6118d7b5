package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/md-rashed-zaman/tenantbook/libs/db"
	"github.com/md-rashed-zaman/tenantbook/libs/runtime"
	"github.com/md-rashed-zaman/tenantbook/services/booking-service/internal/holiday"
	"github.com/md-rashed-zaman/tenantbook/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/tenantbook/services/booking-service/internal/store"
	"github.com/md-rashed-zaman/tenantbook/services/booking-service/internal/store/memory"
	"github.com/md-rashed-zaman/tenantbook/services/booking-service/internal/store/postgres"
	"github.com/md-rashed-zaman/tenantbook/services/booking-service/internal/tenancy"
)

// backend bundles everything that depends on the chosen store driver.
type backend struct {
	runner   store.Runner
	registry tenancy.Registry
	regions  holiday.RegionLister
	outbox   outbox.Source
	checks   []runtime.ReadyCheck
	close    func()
}

func openBackend(ctx context.Context, s settings, logger *slog.Logger) (*backend, error) {
	if s.StoreDriver == driverMemory {
		seed, err := store.LoadSeedFile(s.SeedFile)
		if err != nil {
			return nil, err
		}
		st := memory.New()
		if err := st.Apply(ctx, seed); err != nil {
			return nil, fmt.Errorf("apply seed: %w", err)
		}
		logger.Warn("using in-memory store; data is lost on restart", "tenants", len(seed.Tenants))
		return &backend{runner: st, registry: st, regions: st, outbox: st, close: func() {}}, nil
	}

	pool, err := db.Open(ctx, s.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("db connection failed: %w", err)
	}
	registry := postgres.NewRegistry(pool)
	if err := registry.Migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &backend{
		runner:   postgres.NewRunner(pool),
		registry: registry,
		regions:  registry,
		outbox:   outbox.NewRepository(pool),
		checks:   []runtime.ReadyCheck{{Name: "db", Check: db.ReadyCheck(pool)}},
		close:    pool.Close,
	}, nil
}
