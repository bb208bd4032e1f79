package eventstore

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"trading-core/internal/events"
)

// SQLiteStore is the local-file relational driver (spec.md §6's "relational
// driver A"): a single append table in an embedded, CGO-free sqlite file,
// as an alternative to FileStore's hand-rolled binary log and to SQLStore's
// GORM/MySQL driver for deployments that want SQL semantics without a
// separate database server.
type SQLiteStore struct {
	mu   sync.Mutex
	db   *sql.DB
	tail *tailBroadcaster
}

// OpenSQLiteStore opens (creating if absent) the event_log table at path.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("eventstore: open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers per connection

	const schema = `CREATE TABLE IF NOT EXISTS event_log (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		type TEXT NOT NULL,
		data TEXT NOT NULL,
		ts_unix_ms INTEGER NOT NULL,
		metadata TEXT,
		trace_id TEXT
	)`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("eventstore: migrate sqlite: %w", err)
	}

	return &SQLiteStore{db: db, tail: newTailBroadcaster()}, nil
}

func (s *SQLiteStore) Append(ctx context.Context, evs ...events.DomainEvent) error {
	if len(evs) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("eventstore: begin: %w", err)
	}
	defer tx.Rollback()

	stamped := make([]events.DomainEvent, len(evs))
	for i, e := range evs {
		r, err := toRecord(e)
		if err != nil {
			return fmt.Errorf("eventstore: encode: %w", err)
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO event_log (id, type, data, ts_unix_ms, metadata, trace_id) VALUES (?, ?, ?, ?, ?, ?)`,
			r.EventID, r.Type, r.Data, e.Ts.UnixMilli(), r.Metadata, r.TraceID)
		if err != nil {
			return fmt.Errorf("eventstore: append: %w", err)
		}
		seq, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("eventstore: last insert id: %w", err)
		}
		e.Seq = uint64(seq)
		stamped[i] = e
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("eventstore: commit: %w", err)
	}
	for _, e := range stamped {
		s.tail.publish(e)
	}
	return nil
}

func (s *SQLiteStore) Read(ctx context.Context, from, to *uint64, filter Filter) ([]events.DomainEvent, error) {
	query := `SELECT seq, id, type, data, ts_unix_ms, metadata, trace_id FROM event_log WHERE 1=1`
	args := []any{}
	if from != nil {
		query += ` AND seq >= ?`
		args = append(args, *from)
	}
	if to != nil {
		query += ` AND seq <= ?`
		args = append(args, *to)
	}
	query += ` ORDER BY seq ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("eventstore: read: %w", err)
	}
	defer rows.Close()

	var out []events.DomainEvent
	for rows.Next() {
		var r eventRecord
		var tsMs int64
		if err := rows.Scan(&r.Seq, &r.EventID, &r.Type, &r.Data, &tsMs, &r.Metadata, &r.TraceID); err != nil {
			return nil, fmt.Errorf("eventstore: scan: %w", err)
		}
		e := fromRecord(r)
		e.Ts = time.UnixMilli(tsMs)
		if filter != nil && !filter(e) {
			continue
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Stream(ctx context.Context) (<-chan events.DomainEvent, func()) {
	return s.tail.subscribe()
}

func (s *SQLiteStore) Tail(ctx context.Context) (uint64, error) {
	var seq sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM event_log`).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("eventstore: tail: %w", err)
	}
	return uint64(seq.Int64), nil
}

func (s *SQLiteStore) Close() error {
	s.tail.closeAll()
	return s.db.Close()
}
