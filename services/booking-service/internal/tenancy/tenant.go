package tenancy

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/md-rashed-zaman/tenantbook/services/booking-service/internal/model"
)

type State string

const (
	StateActive   State = "active"
	StateInactive State = "inactive"
	StateDeleted  State = "deleted"
)

// Record is a row of the cross-tenant registry.
type Record struct {
	ID        string
	Slug      string
	Namespace string
	Timezone  string
	Region    string
	State     State
	DeletedAt *time.Time
}

// Registry looks up tenants by slug. Implementations return
// model.ErrTenantNotFound for unknown slugs.
type Registry interface {
	LookupTenant(ctx context.Context, slug string) (Record, error)
}

// Handle is a resolved, active tenant. Only Resolve produces a usable one,
// so code holding a Handle is always scoped to a namespace that exists.
type Handle struct {
	id        string
	slug      string
	namespace string
	region    string
	loc       *time.Location
}

func (h Handle) ID() string        { return h.id }
func (h Handle) Slug() string      { return h.slug }
func (h Handle) Namespace() string { return h.namespace }
func (h Handle) Region() string    { return h.region }
func (h Handle) IsZero() bool      { return h.namespace == "" }

// Location is the tenant's configured timezone.
func (h Handle) Location() *time.Location {
	if h.loc == nil {
		return time.UTC
	}
	return h.loc
}

// Owns fails unless every tenantID equals the handle's tenant. It is the one
// check guarding against references that cross tenants.
func (h Handle) Owns(tenantIDs ...string) error {
	for _, id := range tenantIDs {
		if id != h.id {
			return fmt.Errorf("%w: entity of tenant %q referenced from tenant %q", model.ErrValidation, id, h.id)
		}
	}
	return nil
}

var (
	slugPattern      = regexp.MustCompile(`^[a-z0-9](?:[a-z0-9-]{0,61}[a-z0-9])?$`)
	namespacePattern = regexp.MustCompile(`^tenant_[a-z0-9_]{1,56}$`)
)

// NormalizeSlug lower-cases and validates a tenant identifier.
func NormalizeSlug(identifier string) (string, error) {
	slug := strings.ToLower(strings.TrimSpace(identifier))
	if !slugPattern.MatchString(slug) {
		return "", fmt.Errorf("%w: %q is not a tenant identifier", model.ErrTenantNotFound, identifier)
	}
	return slug, nil
}

// NamespaceFor derives the schema name a new tenant is provisioned into.
func NamespaceFor(slug string) string {
	return "tenant_" + strings.ReplaceAll(slug, "-", "_")
}

func ValidNamespace(ns string) bool {
	return namespacePattern.MatchString(ns)
}

func handleFromRecord(rec Record) (Handle, error) {
	if rec.State != StateActive || rec.DeletedAt != nil {
		return Handle{}, fmt.Errorf("%w: %s is %s", model.ErrTenantNotFound, rec.Slug, rec.State)
	}
	if !ValidNamespace(rec.Namespace) {
		return Handle{}, fmt.Errorf("tenant %s has invalid namespace %q", rec.Slug, rec.Namespace)
	}
	loc, err := time.LoadLocation(rec.Timezone)
	if err != nil {
		return Handle{}, fmt.Errorf("tenant %s timezone: %w", rec.Slug, err)
	}
	return Handle{
		id:        rec.ID,
		slug:      rec.Slug,
		namespace: rec.Namespace,
		region:    rec.Region,
		loc:       loc,
	}, nil
}
