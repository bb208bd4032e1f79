package eventstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"trading-core/internal/events"
)

// eventRecord is the single append table named in spec.md §6: "a relational
// schema with a single append table keyed by (seq, id)".
type eventRecord struct {
	Seq      uint64 `gorm:"primaryKey;autoIncrement"`
	EventID  string `gorm:"column:id;uniqueIndex;size:64"`
	Type     string `gorm:"size:64;index"`
	Data     string `gorm:"type:longtext"`
	Ts       time.Time
	Metadata string `gorm:"type:longtext"`
	TraceID  string `gorm:"size:64;index"`
}

func (eventRecord) TableName() string { return "event_log" }

// SQLStore is the relational driver: GORM over MySQL, with a single
// append-only table. Reads and the live tail are served the same way as
// the other drivers; the DB is the durable record.
type SQLStore struct {
	db   *gorm.DB
	tail *tailBroadcaster
}

// OpenMySQLStore opens (and migrates) a relational event store against a
// MySQL DSN.
func OpenMySQLStore(dsn string) (*SQLStore, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("eventstore: open mysql: %w", err)
	}
	if err := db.AutoMigrate(&eventRecord{}); err != nil {
		return nil, fmt.Errorf("eventstore: migrate: %w", err)
	}
	return &SQLStore{db: db, tail: newTailBroadcaster()}, nil
}

func toRecord(e events.DomainEvent) (eventRecord, error) {
	data, err := json.Marshal(e.Data)
	if err != nil {
		return eventRecord{}, err
	}
	meta, err := json.Marshal(e.Metadata)
	if err != nil {
		return eventRecord{}, err
	}
	return eventRecord{
		EventID:  e.ID,
		Type:     string(e.Type),
		Data:     string(data),
		Ts:       e.Ts,
		Metadata: string(meta),
		TraceID:  e.TraceID,
	}, nil
}

func fromRecord(r eventRecord) events.DomainEvent {
	var data any
	_ = json.Unmarshal([]byte(r.Data), &data)
	var meta map[string]any
	_ = json.Unmarshal([]byte(r.Metadata), &meta)
	return events.DomainEvent{
		ID:       r.EventID,
		Type:     events.Type(r.Type),
		Data:     data,
		Ts:       r.Ts,
		Metadata: meta,
		TraceID:  r.TraceID,
		Seq:      r.Seq,
	}
}

func (s *SQLStore) Append(ctx context.Context, evs ...events.DomainEvent) error {
	if len(evs) == 0 {
		return nil
	}
	records := make([]eventRecord, len(evs))
	for i, e := range evs {
		r, err := toRecord(e)
		if err != nil {
			return fmt.Errorf("eventstore: encode: %w", err)
		}
		records[i] = r
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&records).Error
	})
	if err != nil {
		return fmt.Errorf("eventstore: append: %w", err)
	}

	for i, r := range records {
		stamped := evs[i]
		stamped.Seq = r.Seq
		s.tail.publish(stamped)
	}
	return nil
}

func (s *SQLStore) Read(ctx context.Context, from, to *uint64, filter Filter) ([]events.DomainEvent, error) {
	q := s.db.WithContext(ctx).Model(&eventRecord{}).Order("seq asc")
	if from != nil {
		q = q.Where("seq >= ?", *from)
	}
	if to != nil {
		q = q.Where("seq <= ?", *to)
	}

	var records []eventRecord
	if err := q.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("eventstore: read: %w", err)
	}

	out := make([]events.DomainEvent, 0, len(records))
	for _, r := range records {
		e := fromRecord(r)
		if filter != nil && !filter(e) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *SQLStore) Stream(ctx context.Context) (<-chan events.DomainEvent, func()) {
	return s.tail.subscribe()
}

func (s *SQLStore) Tail(ctx context.Context) (uint64, error) {
	var r eventRecord
	err := s.db.WithContext(ctx).Model(&eventRecord{}).Order("seq desc").Limit(1).Find(&r).Error
	if err != nil {
		return 0, fmt.Errorf("eventstore: tail: %w", err)
	}
	return r.Seq, nil
}

func (s *SQLStore) Close() error {
	s.tail.closeAll()
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
