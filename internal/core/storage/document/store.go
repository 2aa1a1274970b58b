package document

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	coreerrors "github.com/tidemark-io/tidemark/internal/core/errors"
	"github.com/tidemark-io/tidemark/internal/core/record"
	"github.com/tidemark-io/tidemark/internal/core/storage"
)

// Store implements storage.Engine on an embedded document store (BadgerDB).
// Each data set is a key prefix holding JSON documents plus an
// insertion-order index used for capped eviction.
//
// Key layout per data set:
//
//	meta!<set>        data set metadata (capped size, created at)
//	rec!<set>!<id>    record document
//	ord!<set>!<seq>   insertion order index -> record id
//	pos!<set>!<id>    reverse index -> insertion seq
//	seq!<set>         insertion counter
//	cnt!<set>         live record count
//	upd!<set>         latest _updatedAt
type Store struct {
	db *badger.DB
}

// Config holds document store configuration.
type Config struct {
	// Path to the database directory.
	Path string

	// InMemory mode, used by tests.
	InMemory bool
}

type setMeta struct {
	CappedSize int64     `json:"capped_size"`
	CreatedAt  time.Time `json:"created_at"`
}

// New opens the embedded store.
func New(cfg Config) (*Store, error) {
	opts := badger.DefaultOptions(cfg.Path).
		WithLogger(nil).
		WithNumVersionsToKeep(1)
	if cfg.InMemory {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open document store: %w", err)
	}
	slog.Info("[Document] Store opened", "path", cfg.Path, "in_memory", cfg.InMemory)
	return &Store{db: db}, nil
}

func metaKey(id string) []byte { return []byte("meta!" + id) }
func seqKey(id string) []byte  { return []byte("seq!" + id) }
func cntKey(id string) []byte  { return []byte("cnt!" + id) }
func updKey(id string) []byte  { return []byte("upd!" + id) }

func recPrefix(id string) []byte { return []byte("rec!" + id + "!") }
func ordPrefix(id string) []byte { return []byte("ord!" + id + "!") }

func recKey(id, recordID string) []byte { return append(recPrefix(id), recordID...) }
func posKey(id, recordID string) []byte { return []byte("pos!" + id + "!" + recordID) }

func ordKey(id string, seq uint64) []byte {
	key := ordPrefix(id)
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], seq)
	return append(key, buf[:]...)
}

// Alive reports whether the store is open.
func (s *Store) Alive(ctx context.Context) error {
	if s.db.IsClosed() {
		return errors.New("document store is closed")
	}
	return nil
}

// DataSetExists checks for the data set's metadata document.
func (s *Store) DataSetExists(ctx context.Context, id string) (bool, error) {
	exists := false
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(metaKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		exists = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to check data set %q: %w", id, err)
	}
	return exists, nil
}

// CreateDataSet writes the metadata document. Fails with DataSetCreationError
// when it is already present.
func (s *Store) CreateDataSet(ctx context.Context, id string, cappedSize int64) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(metaKey(id)); err == nil {
			return &coreerrors.DataSetCreationError{DataSet: id}
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		body, err := json.Marshal(setMeta{CappedSize: cappedSize, CreatedAt: time.Now().UTC()})
		if err != nil {
			return err
		}
		return txn.Set(metaKey(id), body)
	})
	if err != nil {
		var creationErr *coreerrors.DataSetCreationError
		if errors.As(err, &creationErr) {
			return err
		}
		return fmt.Errorf("failed to create data set %q: %w", id, err)
	}
	slog.Info("[Document] Created data set", "data_set", id, "capped_size", cappedSize)
	return nil
}

// DeleteDataSet removes every key belonging to the data set. Only the
// terminated record prefixes go through DropPrefix; the bookkeeping keys are
// whole key names, and dropping them as prefixes would also hit data sets
// whose names extend this one.
func (s *Store) DeleteDataSet(ctx context.Context, id string) error {
	if err := s.drop(id, metaKey(id), seqKey(id), cntKey(id), updKey(id)); err != nil {
		return fmt.Errorf("failed to delete data set %q: %w", id, err)
	}
	return nil
}

// EmptyDataSet removes all records but keeps the metadata document.
func (s *Store) EmptyDataSet(ctx context.Context, id string) error {
	if err := s.drop(id, seqKey(id), cntKey(id), updKey(id)); err != nil {
		return fmt.Errorf("failed to empty data set %q: %w", id, err)
	}
	return nil
}

func (s *Store) drop(id string, keys ...[]byte) error {
	prefixes := [][]byte{
		recPrefix(id), ordPrefix(id),
		[]byte("pos!" + id + "!"),
	}
	if err := s.db.DropPrefix(prefixes...); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		for _, key := range keys {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
}

// LastUpdated reads the maintained latest-update key.
func (s *Store) LastUpdated(ctx context.Context, id string) (time.Time, bool, error) {
	var last time.Time
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(updKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			t, err := time.Parse(time.RFC3339Nano, string(val))
			if err != nil {
				return err
			}
			last = t.UTC()
			found = true
			return nil
		})
	})
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to read last update of %q: %w", id, err)
	}
	return last, found, nil
}

// BatchLastUpdated fans the per-set reads out over an errgroup; the store is
// embedded so each read is local.
func (s *Store) BatchLastUpdated(ctx context.Context, ids []string) (map[string]time.Time, error) {
	type result struct {
		id   string
		last time.Time
		ok   bool
	}

	results := make([]result, len(ids))
	g, ctx := errgroup.WithContext(ctx)
	for i, id := range ids {
		g.Go(func() error {
			last, ok, err := s.LastUpdated(ctx, id)
			if err != nil {
				return err
			}
			results[i] = result{id: id, last: last, ok: ok}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string]time.Time, len(ids))
	for _, r := range results {
		if r.ok {
			out[r.id] = r.last
		}
	}
	return out, nil
}

// SaveRecord upserts by _id, stamping _updatedAt and maintaining the
// insertion-order index. Capped sets evict their oldest records in the same
// transaction. Write conflicts are transient and retried.
func (s *Store) SaveRecord(ctx context.Context, id string, rec record.Record) error {
	rec = rec.Clone()
	recordID, ok := rec.ID()
	if !ok {
		recordID = uuid.NewString()
		rec[record.FieldID] = recordID
	}

	now := time.Now().UTC()
	rec[record.FieldUpdatedAt] = now

	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	return storage.WithRetry(ctx, transientError, func(ctx context.Context) error {
		return s.db.Update(func(txn *badger.Txn) error {
			if err := s.upsert(txn, id, recordID, body, now); err != nil {
				return err
			}
			return s.evict(txn, id)
		})
	})
}

func (s *Store) upsert(txn *badger.Txn, id, recordID string, body []byte, now time.Time) error {
	if err := txn.Set(recKey(id, recordID), body); err != nil {
		return err
	}
	if err := txn.Set(updKey(id), []byte(now.Format(time.RFC3339Nano))); err != nil {
		return err
	}

	// An existing reverse-index entry means an update in place: the record
	// keeps its original insertion position.
	_, err := txn.Get(posKey(id, recordID))
	if err == nil {
		return nil
	}
	if !errors.Is(err, badger.ErrKeyNotFound) {
		return err
	}

	seq, err := nextCounter(txn, seqKey(id))
	if err != nil {
		return err
	}
	var seqBuf [8]byte
	binary.BigEndian.PutUint64(seqBuf[:], seq)
	if err := txn.Set(ordKey(id, seq), []byte(recordID)); err != nil {
		return err
	}
	if err := txn.Set(posKey(id, recordID), seqBuf[:]); err != nil {
		return err
	}

	_, err = nextCounter(txn, cntKey(id))
	return err
}

// evict trims a capped data set to its configured size, oldest inserted
// first.
func (s *Store) evict(txn *badger.Txn, id string) error {
	meta, err := s.meta(txn, id)
	if err != nil || meta == nil || meta.CappedSize <= 0 {
		return err
	}
	count, err := readCounter(txn, cntKey(id))
	if err != nil || int64(count) <= meta.CappedSize {
		return err
	}

	excess := int64(count) - meta.CappedSize
	opts := badger.DefaultIteratorOptions
	opts.Prefix = ordPrefix(id)
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Rewind(); it.Valid() && excess > 0; it.Next() {
		item := it.Item()
		var victim string
		if err := item.Value(func(val []byte) error {
			victim = string(val)
			return nil
		}); err != nil {
			return err
		}
		if err := txn.Delete(item.KeyCopy(nil)); err != nil {
			return err
		}
		if err := txn.Delete(recKey(id, victim)); err != nil {
			return err
		}
		if err := txn.Delete(posKey(id, victim)); err != nil {
			return err
		}
		count--
		excess--
	}
	return setCounter(txn, cntKey(id), count)
}

func (s *Store) meta(txn *badger.Txn, id string) (*setMeta, error) {
	item, err := txn.Get(metaKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var meta setMeta
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &meta)
	}); err != nil {
		return nil, err
	}
	return &meta, nil
}

// Close shuts the store down.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close document store: %w", err)
	}
	slog.Info("[Document] Store closed gracefully")
	return nil
}

func nextCounter(txn *badger.Txn, key []byte) (uint64, error) {
	cur, err := readCounter(txn, key)
	if err != nil {
		return 0, err
	}
	cur++
	return cur, setCounter(txn, key, cur)
}

func readCounter(txn *badger.Txn, key []byte) (uint64, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var out uint64
	err = item.Value(func(val []byte) error {
		if len(val) != 8 {
			return fmt.Errorf("malformed counter at %q", key)
		}
		out = binary.BigEndian.Uint64(val)
		return nil
	})
	return out, err
}

func setCounter(txn *badger.Txn, key []byte, v uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return txn.Set(key, buf[:])
}

// transientError treats optimistic-transaction conflicts as retryable.
func transientError(err error) bool {
	return errors.Is(err, badger.ErrConflict)
}
