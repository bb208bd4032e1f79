package eventstore

import (
	"testing"

	"github.com/stretchr/testify/require"

	"trading-core/internal/events"
)

func TestRing_EvictsOldestWhenFull(t *testing.T) {
	r := NewRing(3)
	r.Add(events.DomainEvent{ID: "1"})
	r.Add(events.DomainEvent{ID: "2"})
	r.Add(events.DomainEvent{ID: "3"})
	r.Add(events.DomainEvent{ID: "4"})

	require.Equal(t, 3, r.Len())
	recent := r.Recent(0)
	require.Len(t, recent, 3)
	require.Equal(t, "4", recent[0].ID)
	require.Equal(t, "2", recent[2].ID)
}

func TestRing_RecentNewestFirstAndLimit(t *testing.T) {
	r := NewRing(10)
	for i := 0; i < 5; i++ {
		r.Add(events.DomainEvent{ID: string(rune('a' + i))})
	}

	top2 := r.Recent(2)
	require.Len(t, top2, 2)
	require.Equal(t, "e", top2[0].ID)
	require.Equal(t, "d", top2[1].ID)
}

func TestRing_ZeroCapacityClampsToOne(t *testing.T) {
	r := NewRing(0)
	r.Add(events.DomainEvent{ID: "1"})
	r.Add(events.DomainEvent{ID: "2"})
	require.Equal(t, 1, r.Len())
	require.Equal(t, "2", r.Recent(0)[0].ID)
}
