package lockout

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"warden/internal/abuse/models"
)

// Records live under lockout:gen:<generation>:<record key>. The current
// generation is named by lockout:current and only moves once a new generation
// is fully flushed, so a failed or interrupted Save leaves the previous
// snapshot readable.
const (
	snapshotKeyPrefix  = "lockout:"
	currentGenKey      = snapshotKeyPrefix + "current"
	generationKeyStart = snapshotKeyPrefix + "gen:"
)

func generationPrefix(gen uint64) []byte {
	return []byte(fmt.Sprintf("%s%016x:", generationKeyStart, gen))
}

// BadgerSnapshotter persists lockout records so blocks and escalation streaks
// survive a restart. A snapshot replaces the previous one. Save is not safe
// for concurrent use.
type BadgerSnapshotter struct {
	db *badger.DB
}

// OpenBadger opens (or creates) a badger database at path.
func OpenBadger(path string) (*badger.DB, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", path, err)
	}
	return db, nil
}

func NewBadgerSnapshotter(db *badger.DB) *BadgerSnapshotter {
	return &BadgerSnapshotter{db: db}
}

// Save writes records as a new generation, skipping the idle ones, then
// switches the current pointer to it and drops the previous generation.
func (s *BadgerSnapshotter) Save(ctx context.Context, records []*models.LockoutRecord, now time.Time) (int, error) {
	prev, _, err := s.currentGeneration()
	if err != nil {
		return 0, err
	}
	next := prev + 1
	prefix := generationPrefix(next)

	// Leftovers of an earlier interrupted save under the same generation.
	if err := s.db.DropPrefix(prefix); err != nil {
		return 0, fmt.Errorf("clear snapshot generation: %w", err)
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	saved := 0
	for _, r := range records {
		if err := ctx.Err(); err != nil {
			return saved, err
		}
		if r.IsIdle(now) {
			continue
		}
		data, err := json.Marshal(r)
		if err != nil {
			return saved, fmt.Errorf("marshal lockout record: %w", err)
		}
		key := append(append([]byte(nil), prefix...), r.Key()...)
		if err := wb.Set(key, data); err != nil {
			return saved, fmt.Errorf("write lockout record: %w", err)
		}
		saved++
	}
	if err := wb.Flush(); err != nil {
		return saved, fmt.Errorf("flush snapshot: %w", err)
	}

	if err := s.db.Update(func(txn *badger.Txn) error {
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], next)
		return txn.Set([]byte(currentGenKey), buf[:])
	}); err != nil {
		return saved, fmt.Errorf("publish snapshot generation: %w", err)
	}

	if prev > 0 {
		if err := s.db.DropPrefix(generationPrefix(prev)); err != nil {
			return saved, fmt.Errorf("drop previous snapshot: %w", err)
		}
	}
	return saved, nil
}

// currentGeneration returns the published generation; ok is false before
// the first successful Save.
func (s *BadgerSnapshotter) currentGeneration() (gen uint64, ok bool, err error) {
	err = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(currentGenKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) != 8 {
				return fmt.Errorf("corrupt snapshot generation of %d bytes", len(val))
			}
			gen, ok = binary.BigEndian.Uint64(val), true
			return nil
		})
	})
	if err != nil {
		return 0, false, fmt.Errorf("read snapshot generation: %w", err)
	}
	return gen, ok, nil
}

// Load reads every record of the last snapshot that still matters at now.
func (s *BadgerSnapshotter) Load(ctx context.Context, now time.Time) ([]*models.LockoutRecord, error) {
	gen, ok, err := s.currentGeneration()
	if err != nil || !ok {
		return nil, err
	}

	var out []*models.LockoutRecord
	err = s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := generationPrefix(gen)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var r models.LockoutRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &r)
			}); err != nil {
				return fmt.Errorf("decode lockout record: %w", err)
			}
			if r.IsIdle(now) {
				continue
			}
			out = append(out, &r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
