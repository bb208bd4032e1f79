package eventstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"trading-core/internal/events"
)

func TestFileStore_AppendReadRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.log")
	store, err := OpenFileStore(path)
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.Append(ctx,
		events.DomainEvent{ID: "1", Type: events.TypeMarketTick, Ts: time.Unix(1, 0)},
		events.DomainEvent{ID: "2", Type: events.TypeOrderFill, Ts: time.Unix(2, 0)},
	))

	all, err := store.Read(ctx, nil, nil, nil)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, "1", all[0].ID)
	require.Equal(t, uint64(1), all[0].Seq)
}

func TestFileStore_ReplaysExistingLogOnReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.log")
	store, err := OpenFileStore(path)
	require.NoError(t, err)

	require.NoError(t, store.Append(context.Background(), events.DomainEvent{ID: "1", Type: events.TypeMarketTick}))
	require.NoError(t, store.Close())

	reopened, err := OpenFileStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	tail, err := reopened.Tail(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(1), tail)

	require.NoError(t, reopened.Append(context.Background(), events.DomainEvent{ID: "2", Type: events.TypeMarketTick}))
	all, err := reopened.Read(context.Background(), nil, nil, nil)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, uint64(2), all[1].Seq)
}

func TestFileStore_FilterAppliesToRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.log")
	store, err := OpenFileStore(path)
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.Append(ctx,
		events.DomainEvent{ID: "tick", Type: events.TypeMarketTick},
		events.DomainEvent{ID: "fill", Type: events.TypeOrderFill},
	))

	fills, err := store.Read(ctx, nil, nil, func(e events.DomainEvent) bool {
		return e.Type == events.TypeOrderFill
	})
	require.NoError(t, err)
	require.Len(t, fills, 1)
	require.Equal(t, "fill", fills[0].ID)
}
