package store

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/md-rashed-zaman/tenantbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/tenantbook/services/booking-service/internal/tenancy"
)

func TestDeploySeedLoads(t *testing.T) {
	seed, err := LoadSeedFile("../../deploy/seed.yaml")
	require.NoError(t, err)
	require.Len(t, seed.Tenants, 2)

	for _, ts := range seed.Tenants {
		rec, err := ts.Record()
		require.NoError(t, err)
		require.NoError(t, ts.Normalize(rec.ID))
		_, err = time.LoadLocation(rec.Timezone)
		require.NoError(t, err)
	}
}

func TestRecordDefaults(t *testing.T) {
	rec, err := TenantSeed{Slug: " Acme "}.Record()
	require.NoError(t, err)
	require.Equal(t, tenancy.Record{
		ID:        "tenant-acme",
		Slug:      "acme",
		Namespace: tenancy.NamespaceFor("acme"),
		Timezone:  "UTC",
		State:     tenancy.StateActive,
	}, rec)
}

func TestNormalizeStampsTenantAndRejectsBadWindows(t *testing.T) {
	ts := TenantSeed{
		Providers: []model.Provider{{ID: "p1"}},
		Holidays:  []model.Holiday{{Name: "x"}},
	}
	require.NoError(t, ts.Normalize("t1"))
	require.Equal(t, "t1", ts.Providers[0].TenantID)
	require.Equal(t, model.SourceManual, ts.Holidays[0].Source)

	bad := TenantSeed{Templates: []model.AvailabilityTemplate{{
		ID:      "x",
		Windows: []model.Window{{DayOfWeek: time.Monday, StartMinute: 600, EndMinute: 540}},
	}}}
	require.ErrorIs(t, bad.Normalize("t1"), model.ErrValidation)

	negative := TenantSeed{EventTypes: []model.EventType{{ID: "e", DurationMinutes: 30, BufferAfterMinutes: -5}}}
	require.ErrorIs(t, negative.Normalize("t1"), model.ErrValidation)
}

func TestDecodeSeedRejectsUnknownFields(t *testing.T) {
	_, err := DecodeSeed(strings.NewReader("tenants:\n  - slug: acme\n    colour: blue\n"))
	require.Error(t, err)
}
