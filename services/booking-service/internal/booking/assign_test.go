package booking

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/md-rashed-zaman/tenantbook/services/booking-service/internal/model"
)

type loads map[string]int

func (l loads) CountActiveOnDay(_ context.Context, providerID string, _, _ time.Time) (int, error) {
	if n, ok := l[providerID]; ok {
		return n, nil
	}
	return 0, errors.New("unexpected provider " + providerID)
}

func TestLeastLoaded(t *testing.T) {
	ctx := context.Background()
	var day time.Time

	got, err := LeastLoaded{}.Assign(ctx, loads{"a": 3, "b": 1, "c": 1}, []string{"a", "b", "c"}, day, day)
	require.NoError(t, err)
	require.Equal(t, "b", got)

	got, err = LeastLoaded{}.Assign(ctx, loads{"a": 0, "b": 0}, []string{"a", "b"}, day, day)
	require.NoError(t, err)
	require.Equal(t, "a", got)

	_, err = LeastLoaded{}.Assign(ctx, loads{}, []string{"x"}, day, day)
	require.Error(t, err)
}

func TestAssignerByName(t *testing.T) {
	for name, want := range map[string]Assigner{
		"":                 LeastLoaded{},
		"least-loaded":     LeastLoaded{},
		" First-Available": FirstAvailable{},
	} {
		got, err := AssignerByName(name)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	_, err := AssignerByName("round-robin")
	require.ErrorIs(t, err, model.ErrValidation)
}

func TestNewReference(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		ref, err := NewReference()
		require.NoError(t, err)
		require.True(t, ValidReference(ref), ref)
		seen[ref] = true
	}
	require.Greater(t, len(seen), 190)

	require.False(t, ValidReference("BK-AAAAAA"))
	require.False(t, ValidReference("bk-a2b3c4"))
}
