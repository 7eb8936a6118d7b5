// Package memory is an in-process implementation of the booking store used
// by tests and single-node dev setups. Each tenant namespace has its own
// lock; an Update works on a private copy that replaces the namespace data
// only on commit.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/md-rashed-zaman/tenantbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/tenantbook/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/tenantbook/services/booking-service/internal/store"
	"github.com/md-rashed-zaman/tenantbook/services/booking-service/internal/tenancy"
)

type dataset struct {
	eventTypes   map[string]model.EventType
	templates    map[string]model.AvailabilityTemplate
	providers    map[string]model.Provider
	overrides    []model.DateOverride
	holidays     []model.Holiday
	appointments map[string]model.Appointment
}

func newDataset() *dataset {
	return &dataset{
		eventTypes:   map[string]model.EventType{},
		templates:    map[string]model.AvailabilityTemplate{},
		providers:    map[string]model.Provider{},
		appointments: map[string]model.Appointment{},
	}
}

// clone copies everything a transaction may mutate. Catalog entries are
// never mutated in place, so their maps are copied shallowly.
func (d *dataset) clone() *dataset {
	out := &dataset{
		eventTypes:   make(map[string]model.EventType, len(d.eventTypes)),
		templates:    make(map[string]model.AvailabilityTemplate, len(d.templates)),
		providers:    make(map[string]model.Provider, len(d.providers)),
		overrides:    append([]model.DateOverride(nil), d.overrides...),
		holidays:     append([]model.Holiday(nil), d.holidays...),
		appointments: make(map[string]model.Appointment, len(d.appointments)),
	}
	for k, v := range d.eventTypes {
		out.eventTypes[k] = v
	}
	for k, v := range d.templates {
		out.templates[k] = v
	}
	for k, v := range d.providers {
		out.providers[k] = v
	}
	for k, v := range d.appointments {
		out.appointments[k] = v.Clone()
	}
	return out
}

type namespace struct {
	mu   sync.RWMutex
	data *dataset
}

type Store struct {
	now func() time.Time

	mu         sync.Mutex
	tenants    map[string]tenancy.Record
	namespaces map[string]*namespace
	refs       map[string]string

	outboxMu    sync.Mutex
	outbox      []outbox.Event
	nextEventID int64
}

var _ store.Runner = (*Store)(nil)
var _ tenancy.Registry = (*Store)(nil)
var _ outbox.Source = (*Store)(nil)

func New() *Store {
	return &Store{
		now:        time.Now,
		tenants:    map[string]tenancy.Record{},
		namespaces: map[string]*namespace{},
		refs:       map[string]string{},
	}
}

// SetClock overrides the timestamp source for created/updated fields.
func (s *Store) SetClock(now func() time.Time) { s.now = now }

func (s *Store) namespace(name string) (*namespace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ns, ok := s.namespaces[name]
	if !ok {
		return nil, fmt.Errorf("%w: namespace %s is not provisioned", model.ErrTenantNotFound, name)
	}
	return ns, nil
}

func (s *Store) Update(ctx context.Context, h tenancy.Handle, fn func(context.Context, store.Tx) error) (err error) {
	if h.IsZero() {
		return store.ErrNoTenant
	}
	ns, err := s.namespace(h.Namespace())
	if err != nil {
		return err
	}

	ns.mu.Lock()
	defer ns.mu.Unlock()

	t := &tx{store: s, tenant: h, data: ns.data.clone(), writable: true}
	committed := false
	defer func() {
		if !committed {
			s.releaseReferences(t.claimed)
		}
	}()

	if err := fn(ctx, t); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	ns.data = t.data
	s.publish(t.events)
	committed = true
	return nil
}

func (s *Store) View(ctx context.Context, h tenancy.Handle, fn func(context.Context, store.Tx) error) error {
	if h.IsZero() {
		return store.ErrNoTenant
	}
	ns, err := s.namespace(h.Namespace())
	if err != nil {
		return err
	}

	ns.mu.RLock()
	defer ns.mu.RUnlock()
	return fn(ctx, &tx{store: s, tenant: h, data: ns.data})
}

func (s *Store) claimReference(ref, ns string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.refs[ref]; taken {
		return store.ErrReferenceTaken
	}
	s.refs[ref] = ns
	return nil
}

func (s *Store) releaseReferences(refs []string) {
	if len(refs) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range refs {
		delete(s.refs, r)
	}
}

func (s *Store) publish(events []outbox.Event) {
	if len(events) == 0 {
		return
	}
	s.outboxMu.Lock()
	defer s.outboxMu.Unlock()
	for _, e := range events {
		s.nextEventID++
		e.ID = s.nextEventID
		e.CreatedAt = s.now()
		s.outbox = append(s.outbox, e)
	}
}

// ProcessUnpublished hands pending events to fn and drops them once fn
// succeeds.
func (s *Store) ProcessUnpublished(ctx context.Context, limit int, fn func(context.Context, []outbox.Event) error) (int, error) {
	s.outboxMu.Lock()
	defer s.outboxMu.Unlock()

	n := min(limit, len(s.outbox))
	if n == 0 {
		return 0, nil
	}
	batch := append([]outbox.Event(nil), s.outbox[:n]...)
	if err := fn(ctx, batch); err != nil {
		return 0, err
	}
	s.outbox = s.outbox[n:]
	return n, nil
}

// PendingEvents returns a copy of the unpublished outbox.
func (s *Store) PendingEvents() []outbox.Event {
	s.outboxMu.Lock()
	defer s.outboxMu.Unlock()
	return append([]outbox.Event(nil), s.outbox...)
}

// LookupTenant implements tenancy.Registry.
func (s *Store) LookupTenant(_ context.Context, slug string) (tenancy.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.tenants[slug]
	if !ok {
		return tenancy.Record{}, fmt.Errorf("%w: %s", model.ErrTenantNotFound, slug)
	}
	return rec, nil
}

// ListRegions returns the distinct holiday regions of active tenants.
func (s *Store) ListRegions(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[string]bool{}
	var out []string
	for _, rec := range s.tenants {
		if rec.State != tenancy.StateActive || rec.Region == "" || seen[rec.Region] {
			continue
		}
		seen[rec.Region] = true
		out = append(out, rec.Region)
	}
	sort.Strings(out)
	return out, nil
}

// Provision registers a tenant and creates its empty namespace.
func (s *Store) Provision(_ context.Context, rec tenancy.Record) error {
	if !tenancy.ValidNamespace(rec.Namespace) {
		return fmt.Errorf("%w: invalid namespace %q", model.ErrValidation, rec.Namespace)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tenants[rec.Slug]; exists {
		return fmt.Errorf("%w: tenant %s already exists", model.ErrValidation, rec.Slug)
	}
	if rec.State == "" {
		rec.State = tenancy.StateActive
	}
	s.tenants[rec.Slug] = rec
	if _, ok := s.namespaces[rec.Namespace]; !ok {
		s.namespaces[rec.Namespace] = &namespace{data: newDataset()}
	}
	return nil
}

// Tombstone marks a tenant deleted. Its namespace is kept for audit.
func (s *Store) Tombstone(_ context.Context, slug string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.tenants[slug]
	if !ok {
		return fmt.Errorf("%w: %s", model.ErrTenantNotFound, slug)
	}
	now := s.now()
	rec.State = tenancy.StateDeleted
	rec.DeletedAt = &now
	s.tenants[slug] = rec
	return nil
}
