package store

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/md-rashed-zaman/tenantbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/tenantbook/services/booking-service/internal/tenancy"
)

// Seed describes tenants and their catalogs. Dev mode loads it into the
// memory backend; tools/provision-tenant loads it into Postgres.
type Seed struct {
	Tenants []TenantSeed `yaml:"tenants"`
}

type TenantSeed struct {
	ID         string                       `yaml:"id"`
	Slug       string                       `yaml:"slug"`
	Timezone   string                       `yaml:"timezone"`
	Region     string                       `yaml:"region"`
	State      tenancy.State                `yaml:"state"`
	Providers  []model.Provider             `yaml:"providers"`
	Templates  []model.AvailabilityTemplate `yaml:"templates"`
	EventTypes []model.EventType            `yaml:"event_types"`
	Holidays   []model.Holiday              `yaml:"holidays"`
	Overrides  []model.DateOverride         `yaml:"overrides"`
}

func LoadSeedFile(path string) (Seed, error) {
	f, err := os.Open(path)
	if err != nil {
		return Seed{}, err
	}
	defer f.Close()
	return DecodeSeed(f)
}

func DecodeSeed(r io.Reader) (Seed, error) {
	var seed Seed
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&seed); err != nil {
		return Seed{}, fmt.Errorf("decode seed: %w", err)
	}
	return seed, nil
}

// Record is the registry row for ts. The id defaults to tenant-<slug>, the
// timezone to UTC and the state to active.
func (ts TenantSeed) Record() (tenancy.Record, error) {
	slug, err := tenancy.NormalizeSlug(ts.Slug)
	if err != nil {
		return tenancy.Record{}, err
	}
	rec := tenancy.Record{
		ID:        ts.ID,
		Slug:      slug,
		Namespace: tenancy.NamespaceFor(slug),
		Timezone:  ts.Timezone,
		Region:    ts.Region,
		State:     ts.State,
	}
	if rec.ID == "" {
		rec.ID = "tenant-" + slug
	}
	if rec.Timezone == "" {
		rec.Timezone = "UTC"
	}
	if rec.State == "" {
		rec.State = tenancy.StateActive
	}
	return rec, nil
}

// Normalize stamps tenantID on entities that carry none, validates windows
// and buffers, and defaults holidays to manual entries.
func (ts *TenantSeed) Normalize(tenantID string) error {
	for i := range ts.Providers {
		if ts.Providers[i].TenantID == "" {
			ts.Providers[i].TenantID = tenantID
		}
	}
	for i := range ts.Templates {
		tpl := &ts.Templates[i]
		for _, w := range tpl.Windows {
			if err := w.Validate(); err != nil {
				return fmt.Errorf("template %s: %w", tpl.ID, err)
			}
		}
		if tpl.TenantID == "" {
			tpl.TenantID = tenantID
		}
	}
	for i := range ts.EventTypes {
		et := &ts.EventTypes[i]
		if et.BufferBeforeMinutes < 0 || et.BufferAfterMinutes < 0 {
			return fmt.Errorf("event type %s: %w: buffers must not be negative", et.ID, model.ErrValidation)
		}
		if et.TenantID == "" {
			et.TenantID = tenantID
		}
	}
	for i := range ts.Holidays {
		if ts.Holidays[i].Source == "" {
			ts.Holidays[i].Source = model.SourceManual
		}
	}
	return nil
}
