package reward

import (
	"context"

	"github.com/pulserank/pulserank/internal/faults"
)

// RosterSource yields the ordered identity roster a cycle's vector is
// submitted against. Row order in the score matrix is pinned to it.
type RosterSource interface {
	Roster(ctx context.Context) ([]int, error)
}

// StaticRoster synthesizes the identity range [0, size). It is both the
// default source and the degraded fallback when a live source fails.
type StaticRoster struct {
	size int
}

// NewStaticRoster builds a roster of the first size identities.
func NewStaticRoster(size int) *StaticRoster {
	return &StaticRoster{size: size}
}

func (s *StaticRoster) Roster(context.Context) ([]int, error) {
	if s.size <= 0 {
		return nil, faults.Configuration(nil, "roster size must be positive, got %d", s.size)
	}
	roster := make([]int, s.size)
	for i := range roster {
		roster[i] = i
	}
	return roster, nil
}

// RosterFunc adapts a plain function into a RosterSource.
type RosterFunc func(ctx context.Context) ([]int, error)

func (f RosterFunc) Roster(ctx context.Context) ([]int, error) {
	return f(ctx)
}
