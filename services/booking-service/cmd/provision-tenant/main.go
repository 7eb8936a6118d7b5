// Command provision-tenant creates tenants from a seed file, tombstones
// them, or issues staff tokens for local testing.
//
//	provision-tenant -seed deploy/seed.yaml
//	provision-tenant -delete acme
//	provision-tenant -token acme -role owner
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/md-rashed-zaman/tenantbook/libs/auth"
	"github.com/md-rashed-zaman/tenantbook/libs/config"
	"github.com/md-rashed-zaman/tenantbook/libs/db"
	"github.com/md-rashed-zaman/tenantbook/libs/runtime"
	"github.com/md-rashed-zaman/tenantbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/tenantbook/services/booking-service/internal/store"
	"github.com/md-rashed-zaman/tenantbook/services/booking-service/internal/store/postgres"
	"github.com/md-rashed-zaman/tenantbook/services/booking-service/internal/tenancy"
)

func main() {
	_ = config.LoadDotEnv()
	var (
		databaseURL = flag.String("database-url", config.String("DATABASE_URL", ""), "postgres connection string")
		seedFile    = flag.String("seed", "", "seed file with tenants to provision")
		deleteSlug  = flag.String("delete", "", "tombstone the tenant with this slug")
		tokenSlug   = flag.String("token", "", "print a staff token for this tenant")
		role        = flag.String("role", auth.RoleStaff, "role claim of the issued token")
		ttl         = flag.Duration("ttl", 24*time.Hour, "lifetime of the issued token")
	)
	flag.Parse()

	if *tokenSlug != "" {
		secret, err := config.RequiredString("AUTH_JWT_SECRET")
		if err != nil {
			fatal(err)
		}
		tok, err := auth.SignHS256("provision-tenant", *tokenSlug, *role, *ttl, secret)
		if err != nil {
			fatal(err)
		}
		fmt.Println(tok)
		return
	}

	if *databaseURL == "" {
		fatal(errors.New("DATABASE_URL or -database-url is required"))
	}
	if (*seedFile == "") == (*deleteSlug == "") {
		fatal(errors.New("exactly one of -seed or -delete is required"))
	}

	logger := runtime.NewLogger("provision-tenant")
	ctx, stop := runtime.SignalContext()
	defer stop()

	pool, err := db.Open(ctx, *databaseURL, db.Options{MaxConns: 2})
	if err != nil {
		fatal(err)
	}
	defer pool.Close()
	registry := postgres.NewRegistry(pool)
	if err := registry.Migrate(ctx); err != nil {
		fatal(err)
	}

	if *deleteSlug != "" {
		if err := registry.Tombstone(ctx, *deleteSlug); err != nil {
			fatal(err)
		}
		logger.Info("tenant tombstoned", "tenant", *deleteSlug)
		return
	}

	seed, err := store.LoadSeedFile(*seedFile)
	if err != nil {
		fatal(err)
	}
	runner := postgres.NewRunner(pool)
	resolver := tenancy.NewResolver(registry, 0, logger)
	for _, ts := range seed.Tenants {
		if err := provision(ctx, registry, runner, resolver, ts); err != nil {
			fatal(fmt.Errorf("tenant %s: %w", ts.Slug, err))
		}
		logger.Info("tenant provisioned", "tenant", ts.Slug, "providers", len(ts.Providers), "event_types", len(ts.EventTypes))
	}
}

// provision registers the tenant unless it already exists, then upserts its
// catalog. Re-running with the same seed is safe.
func provision(ctx context.Context, registry *postgres.Registry, runner *postgres.Runner, resolver *tenancy.Resolver, ts store.TenantSeed) error {
	rec, err := ts.Record()
	if err != nil {
		return err
	}
	if _, err := registry.LookupTenant(ctx, rec.Slug); errors.Is(err, model.ErrTenantNotFound) {
		if err := registry.Provision(ctx, rec); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}
	if rec.State != tenancy.StateActive {
		return nil
	}
	h, err := resolver.Resolve(ctx, rec.Slug)
	if err != nil {
		return err
	}
	return runner.ImportCatalog(ctx, h, ts)
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "provision-tenant:", err)
	os.Exit(1)
}
