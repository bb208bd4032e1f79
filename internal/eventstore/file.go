package eventstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"sync"

	"trading-core/internal/events"
)

// FileStore is the local-file driver: a single append-only log of
// JSON records, each prefixed by its length and a CRC32 of the payload, as
// named in spec.md §6 ("single-file append log (length-prefixed JSON
// records with CRC per record, monotonic sequence)"). An in-memory index
// mirrors the log for Read so lookups don't re-scan disk.
type FileStore struct {
	mu     sync.Mutex
	f      *os.File
	seq    uint64
	index  []events.DomainEvent
	closed bool
	tail   *tailBroadcaster
}

// OpenFileStore opens (creating if absent) the log at path and replays any
// existing records into the in-memory index.
func OpenFileStore(path string) (*FileStore, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("eventstore: open %s: %w", path, err)
	}

	fs := &FileStore{f: f, tail: newTailBroadcaster()}
	if err := fs.replay(); err != nil {
		f.Close()
		return nil, err
	}
	return fs, nil
}

func (fs *FileStore) replay() error {
	if _, err := fs.f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	for {
		e, err := readRecord(fs.f)
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("eventstore: corrupt record at seq %d: %w", fs.seq+1, err)
		}
		fs.seq++
		e.Seq = fs.seq
		fs.index = append(fs.index, e)
	}
	_, err := fs.f.Seek(0, io.SeekEnd)
	return err
}

func readRecord(r io.Reader) (events.DomainEvent, error) {
	var lenBuf, crcBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return events.DomainEvent{}, err
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	if _, err := io.ReadFull(r, crcBuf[:]); err != nil {
		return events.DomainEvent{}, err
	}
	wantCRC := binary.LittleEndian.Uint32(crcBuf[:])

	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return events.DomainEvent{}, err
	}
	if got := crc32.ChecksumIEEE(payload); got != wantCRC {
		return events.DomainEvent{}, fmt.Errorf("crc mismatch: want %x got %x", wantCRC, got)
	}

	var e events.DomainEvent
	if err := json.Unmarshal(payload, &e); err != nil {
		return events.DomainEvent{}, err
	}
	return e, nil
}

func writeRecord(w io.Writer, e events.DomainEvent) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	var lenBuf, crcBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	binary.LittleEndian.PutUint32(crcBuf[:], crc32.ChecksumIEEE(payload))

	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	if _, err := w.Write(crcBuf[:]); err != nil {
		return err
	}
	_, err = w.Write(payload)
	return err
}

func (fs *FileStore) Append(ctx context.Context, evs ...events.DomainEvent) error {
	if len(evs) == 0 {
		return nil
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.closed {
		return ErrClosed
	}

	start, err := fs.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return fmt.Errorf("eventstore: append: %w", err)
	}

	stamped := make([]events.DomainEvent, len(evs))
	for i, e := range evs {
		fs.seq++
		e.Seq = fs.seq
		stamped[i] = e
	}

	for _, e := range stamped {
		if err := writeRecord(fs.f, e); err != nil {
			// Roll the sequence counter and the file back; this batch never committed.
			fs.seq -= uint64(len(evs))
			_ = fs.f.Truncate(start)
			_, _ = fs.f.Seek(start, io.SeekStart)
			return fmt.Errorf("eventstore: append: %w", err)
		}
	}
	if err := fs.f.Sync(); err != nil {
		fs.seq -= uint64(len(evs))
		_ = fs.f.Truncate(start)
		_, _ = fs.f.Seek(start, io.SeekStart)
		return fmt.Errorf("eventstore: sync: %w", err)
	}

	fs.index = append(fs.index, stamped...)
	for _, e := range stamped {
		fs.tail.publish(e)
	}
	return nil
}

func (fs *FileStore) Read(ctx context.Context, from, to *uint64, filter Filter) ([]events.DomainEvent, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	out := make([]events.DomainEvent, 0, len(fs.index))
	for _, e := range fs.index {
		if from != nil && e.Seq < *from {
			continue
		}
		if to != nil && e.Seq > *to {
			continue
		}
		if filter != nil && !filter(e) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (fs *FileStore) Stream(ctx context.Context) (<-chan events.DomainEvent, func()) {
	return fs.tail.subscribe()
}

func (fs *FileStore) Tail(ctx context.Context) (uint64, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.seq, nil
}

func (fs *FileStore) Close() error {
	fs.mu.Lock()
	fs.closed = true
	err := fs.f.Close()
	fs.mu.Unlock()
	fs.tail.closeAll()
	return err
}
