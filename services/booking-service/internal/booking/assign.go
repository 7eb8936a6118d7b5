package booking

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/md-rashed-zaman/tenantbook/services/booking-service/internal/model"
)

// LoadCounter counts a provider's active appointments starting in [from, to).
type LoadCounter interface {
	CountActiveOnDay(ctx context.Context, providerID string, from, to time.Time) (int, error)
}

// Assigner chooses the provider for a pooled booking. candidates are free
// for the slot, sorted ascending, and never empty. day spans the slot's
// local day.
type Assigner interface {
	Assign(ctx context.Context, lc LoadCounter, candidates []string, dayStart, dayEnd time.Time) (string, error)
}

const (
	PolicyLeastLoaded    = "least-loaded"
	PolicyFirstAvailable = "first-available"
)

// AssignerByName maps a configured policy name to an Assigner. The empty
// name selects least-loaded.
func AssignerByName(name string) (Assigner, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", PolicyLeastLoaded:
		return LeastLoaded{}, nil
	case PolicyFirstAvailable:
		return FirstAvailable{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown assignment policy %q", model.ErrValidation, name)
	}
}

// LeastLoaded picks the provider with the fewest active appointments that
// day. Ties go to the lowest id.
type LeastLoaded struct{}

func (LeastLoaded) Assign(ctx context.Context, lc LoadCounter, candidates []string, dayStart, dayEnd time.Time) (string, error) {
	best, bestLoad := "", -1
	for _, id := range candidates {
		n, err := lc.CountActiveOnDay(ctx, id, dayStart, dayEnd)
		if err != nil {
			return "", err
		}
		if bestLoad < 0 || n < bestLoad {
			best, bestLoad = id, n
		}
	}
	return best, nil
}

// FirstAvailable always picks the lowest id.
type FirstAvailable struct{}

func (FirstAvailable) Assign(_ context.Context, _ LoadCounter, candidates []string, _, _ time.Time) (string, error) {
	return candidates[0], nil
}
