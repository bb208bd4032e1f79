package eventstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"trading-core/internal/events"
)

func TestSQLiteStore_AppendReadTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")
	store, err := OpenSQLiteStore(path)
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	e1 := events.DomainEvent{ID: "1", Type: events.TypeMarketTick, Data: map[string]any{"px": 1.0}, Ts: time.Unix(1, 0)}
	e2 := events.DomainEvent{ID: "2", Type: events.TypeOrderFill, Data: map[string]any{"qty": 2.0}, Ts: time.Unix(2, 0)}
	require.NoError(t, store.Append(ctx, e1, e2))

	tail, err := store.Tail(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(2), tail)

	all, err := store.Read(ctx, nil, nil, nil)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, "1", all[0].ID)
	require.Equal(t, uint64(1), all[0].Seq)
	require.Equal(t, "2", all[1].ID)

	fillsOnly, err := store.Read(ctx, nil, nil, func(e events.DomainEvent) bool {
		return e.Type == events.TypeOrderFill
	})
	require.NoError(t, err)
	require.Len(t, fillsOnly, 1)
	require.Equal(t, "2", fillsOnly[0].ID)
}

func TestSQLiteStore_ReadBounds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")
	store, err := OpenSQLiteStore(path)
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, store.Append(ctx, events.DomainEvent{
			ID: string(rune('a' + i)), Type: events.TypeMarketTick, Ts: time.Unix(int64(i), 0),
		}))
	}

	from := uint64(2)
	to := uint64(4)
	subset, err := store.Read(ctx, &from, &to, nil)
	require.NoError(t, err)
	require.Len(t, subset, 3)
	require.Equal(t, uint64(2), subset[0].Seq)
	require.Equal(t, uint64(4), subset[2].Seq)
}

func TestSQLiteStore_StreamPublishesAppendedEvents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")
	store, err := OpenSQLiteStore(path)
	require.NoError(t, err)
	defer store.Close()

	ch, unsub := store.Stream(context.Background())
	defer unsub()

	require.NoError(t, store.Append(context.Background(), events.DomainEvent{
		ID: "tick-1", Type: events.TypeMarketTick, Ts: time.Unix(0, 0),
	}))

	select {
	case e := <-ch:
		require.Equal(t, "tick-1", e.ID)
	case <-time.After(time.Second):
		t.Fatal("expected streamed event")
	}
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")
	store, err := OpenSQLiteStore(path)
	require.NoError(t, err)

	require.NoError(t, store.Append(context.Background(), events.DomainEvent{
		ID: "persisted", Type: events.TypeMarketTick, Ts: time.Unix(0, 0),
	}))
	require.NoError(t, store.Close())

	reopened, err := OpenSQLiteStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	all, err := reopened.Read(context.Background(), nil, nil, nil)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, "persisted", all[0].ID)
}
