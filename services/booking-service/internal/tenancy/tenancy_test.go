package tenancy

import (
	"context"
	"errors"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/md-rashed-zaman/tenantbook/services/booking-service/internal/model"
)

type fakeRegistry struct {
	records map[string]Record
	calls   atomic.Int32
}

func (f *fakeRegistry) LookupTenant(_ context.Context, slug string) (Record, error) {
	f.calls.Add(1)
	rec, ok := f.records[slug]
	if !ok {
		return Record{}, model.ErrTenantNotFound
	}
	return rec, nil
}

func newRegistry() *fakeRegistry {
	deletedAt := time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)
	return &fakeRegistry{records: map[string]Record{
		"acme":    {ID: "t1", Slug: "acme", Namespace: "tenant_acme", Timezone: "Asia/Bangkok", Region: "TH", State: StateActive},
		"dormant": {ID: "t2", Slug: "dormant", Namespace: "tenant_dormant", Timezone: "UTC", State: StateInactive},
		"gone":    {ID: "t3", Slug: "gone", Namespace: "tenant_gone", Timezone: "UTC", State: StateDeleted, DeletedAt: &deletedAt},
		"broken":  {ID: "t4", Slug: "broken", Namespace: "public", Timezone: "UTC", State: StateActive},
	}}
}

func TestResolveActiveTenant(t *testing.T) {
	r := NewResolver(newRegistry(), time.Minute, nil)

	h, err := r.Resolve(context.Background(), "  ACME ")
	require.NoError(t, err)
	require.Equal(t, "t1", h.ID())
	require.Equal(t, "acme", h.Slug())
	require.Equal(t, "tenant_acme", h.Namespace())
	require.Equal(t, "TH", h.Region())
	require.Equal(t, "Asia/Bangkok", h.Location().String())
	require.NoError(t, h.Owns("t1", "t1"))
	require.ErrorIs(t, h.Owns("t1", "t2"), model.ErrValidation)
}

func TestResolveRejectsUnknownInactiveAndTombstoned(t *testing.T) {
	r := NewResolver(newRegistry(), time.Minute, nil)

	for _, id := range []string{"nobody", "dormant", "gone", "bad slug!", ""} {
		_, err := r.Resolve(context.Background(), id)
		require.ErrorIs(t, err, model.ErrTenantNotFound, id)
	}

	_, err := r.Resolve(context.Background(), "broken")
	require.Error(t, err)
	require.False(t, errors.Is(err, model.ErrTenantNotFound))
}

func TestResolverCachesHits(t *testing.T) {
	reg := newRegistry()
	r := NewResolver(reg, time.Minute, nil)
	now := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		_, err := r.Resolve(context.Background(), "acme")
		require.NoError(t, err)
	}
	require.EqualValues(t, 1, reg.calls.Load())

	now = now.Add(2 * time.Minute)
	_, err := r.Resolve(context.Background(), "acme")
	require.NoError(t, err)
	require.EqualValues(t, 2, reg.calls.Load())

	r.Invalidate("acme")
	_, err = r.Resolve(context.Background(), "acme")
	require.NoError(t, err)
	require.EqualValues(t, 3, reg.calls.Load())
}

func TestResolverDoesNotCacheMisses(t *testing.T) {
	reg := newRegistry()
	r := NewResolver(reg, time.Minute, nil)

	_, err := r.Resolve(context.Background(), "newco")
	require.ErrorIs(t, err, model.ErrTenantNotFound)

	reg.records["newco"] = Record{ID: "t9", Slug: "newco", Namespace: NamespaceFor("newco"), Timezone: "UTC", State: StateActive}
	h, err := r.Resolve(context.Background(), "newco")
	require.NoError(t, err)
	require.Equal(t, "tenant_newco", h.Namespace())
}

func TestIdentifierFromRequest(t *testing.T) {
	cases := []struct {
		name   string
		target string
		host   string
		header string
		want   string
	}{
		{"header wins", "/api/v1/public/slots?tenant=q", "sub.example.com", "hdr", "hdr"},
		{"query", "/api/v1/public/slots?tenant=q", "sub.example.com", "", "q"},
		{"subdomain query", "/x?subdomain=clinic", "example.com", "", "clinic"},
		{"host", "/x", "clinic.example.com:8080", "", "clinic"},
		{"localhost", "/x", "clinic.localhost:8080", "", "clinic"},
		{"reserved", "/x", "www.example.com", "", ""},
		{"bare domain", "/x", "example.com", "", ""},
		{"ip", "/x", "127.0.0.1:8080", "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", tc.target, nil)
			req.Host = tc.host
			if tc.header != "" {
				req.Header.Set(HeaderTenant, tc.header)
			}
			require.Equal(t, tc.want, IdentifierFromRequest(req))
		})
	}
}

func TestNamespaceFor(t *testing.T) {
	require.Equal(t, "tenant_city_clinic", NamespaceFor("city-clinic"))
	require.True(t, ValidNamespace(NamespaceFor("city-clinic")))
	require.False(t, ValidNamespace("public"))
	require.False(t, ValidNamespace(`tenant_x"; drop`))
}
