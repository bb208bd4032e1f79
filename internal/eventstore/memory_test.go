package eventstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"trading-core/internal/events"
)

func TestMemoryStore_AppendAssignsSequentialSeq(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Append(ctx,
		events.DomainEvent{ID: "1", Type: events.TypeMarketTick},
		events.DomainEvent{ID: "2", Type: events.TypeMarketTick},
	))

	tail, err := store.Tail(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(2), tail)

	all, err := store.Read(ctx, nil, nil, nil)
	require.NoError(t, err)
	require.Equal(t, uint64(1), all[0].Seq)
	require.Equal(t, uint64(2), all[1].Seq)
}

func TestMemoryStore_CloseRejectsFurtherAppends(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Close())
	err := store.Append(context.Background(), events.DomainEvent{ID: "1", Type: events.TypeMarketTick})
	require.ErrorIs(t, err, ErrClosed)
}

func TestMemoryStore_StreamSeesLiveAppends(t *testing.T) {
	store := NewMemoryStore()
	ch, unsub := store.Stream(context.Background())
	defer unsub()

	require.NoError(t, store.Append(context.Background(), events.DomainEvent{ID: "tick", Type: events.TypeMarketTick}))

	select {
	case e := <-ch:
		require.Equal(t, "tick", e.ID)
	case <-time.After(time.Second):
		t.Fatal("expected streamed event")
	}
}
