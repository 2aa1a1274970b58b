package document

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/dgraph-io/badger/v4"

	"github.com/tidemark-io/tidemark/internal/core/group"
	"github.com/tidemark-io/tidemark/internal/core/query"
	"github.com/tidemark-io/tidemark/internal/core/record"
	"github.com/tidemark-io/tidemark/internal/core/storage"
)

// ExecuteQuery scans the data set's record prefix and either returns the
// matching documents or accumulates grouped rows. A data set that was never
// written to yields an empty result.
func (s *Store) ExecuteQuery(ctx context.Context, id string, q query.Query) (*storage.Result, error) {
	var (
		result *storage.Result
		err    error
	)
	viewErr := s.db.View(func(txn *badger.Txn) error {
		if q.IsGrouped() {
			result, err = s.executeGrouped(txn, id, q)
		} else {
			result, err = s.executeUngrouped(txn, id, q)
		}
		return err
	})
	if viewErr != nil {
		return nil, fmt.Errorf("query on data set %q failed: %w", id, viewErr)
	}
	return result, nil
}

func (s *Store) executeUngrouped(txn *badger.Txn, id string, q query.Query) (*storage.Result, error) {
	var records []record.Record
	err := s.scan(txn, id, q, func(rec record.Record) error {
		records = append(records, rec)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if q.SortBy != nil {
		sortRecords(records, *q.SortBy)
	}
	if q.Limit > 0 && len(records) > q.Limit {
		records = records[:q.Limit]
	}
	for _, rec := range records {
		if err := rec.DecodeTimes(); err != nil {
			return nil, fmt.Errorf("malformed record document: %w", err)
		}
	}
	return &storage.Result{Records: records}, nil
}

// executeGrouped buckets matching records by their composite group key.
// Buckets are addressed by an xxhash fingerprint of the key values; records
// missing any group key are excluded. Collected fields keep their raw values,
// reduction happens in the merger.
func (s *Store) executeGrouped(txn *badger.Txn, id string, q query.Query) (*storage.Result, error) {
	keys := q.GroupKeys()
	groups := make(map[uint64]*storage.GroupRow)
	var order []uint64

	err := s.scan(txn, id, q, func(rec record.Record) error {
		keyValues := make(map[string]any, len(keys))
		for _, key := range keys {
			v, ok := rec[key]
			if !ok || v == nil {
				return nil
			}
			keyValues[key] = v
		}

		fp := fingerprint(keys, keyValues)
		row, ok := groups[fp]
		if !ok {
			row = &storage.GroupRow{Keys: keyValues, Fields: make(map[string][]any)}
			groups[fp] = row
			order = append(order, fp)
		}
		row.Count++
		for _, c := range q.Collect {
			if v, ok := rec[c.Field]; ok {
				row.Fields[c.Field] = append(row.Fields[c.Field], v)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	rows := make([]storage.GroupRow, 0, len(order))
	for _, fp := range order {
		rows = append(rows, *groups[fp])
	}
	sort.SliceStable(rows, func(i, j int) bool {
		for _, key := range keys {
			if c := group.CompareValues(rows[i].Keys[key], rows[j].Keys[key]); c != 0 {
				return c < 0
			}
		}
		return false
	})
	return &storage.Result{Grouped: true, Groups: rows}, nil
}

// scan walks the record prefix and invokes fn for every record matching the
// query's window and filters.
func (s *Store) scan(txn *badger.Txn, id string, q query.Query, fn func(record.Record) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = recPrefix(id)
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Rewind(); it.Valid(); it.Next() {
		var rec record.Record
		err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
		if err != nil {
			return fmt.Errorf("malformed record document: %w", err)
		}
		if !matches(rec, q) {
			continue
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

func matches(rec record.Record, q query.Query) bool {
	if q.StartAt != nil || q.EndAt != nil {
		raw, ok := rec[record.FieldTimestamp]
		if !ok {
			return false
		}
		ts, err := record.ParseTimestamp(raw)
		if err != nil {
			return false
		}
		if q.StartAt != nil && ts.Before(*q.StartAt) {
			return false
		}
		if q.EndAt != nil {
			if q.InclusiveEnd {
				if ts.After(*q.EndAt) {
					return false
				}
			} else if !ts.Before(*q.EndAt) {
				return false
			}
		}
	}

	for _, f := range q.FilterBy {
		v, ok := rec[f.Key]
		if !ok || !sameValue(v, f.Value) {
			return false
		}
	}
	for _, f := range q.FilterPrefix {
		v, ok := rec[f.Key]
		if !ok {
			return false
		}
		s, ok := v.(string)
		if !ok {
			return false
		}
		prefix, ok := f.Value.(string)
		if !ok || !strings.HasPrefix(s, prefix) {
			return false
		}
	}
	return true
}

// sameValue is typed equality: a numeric 5 never matches the string "5",
// mirroring the relational backend's JSON containment semantics.
func sameValue(a, b any) bool {
	return sameKind(a, b) && group.CompareValues(a, b) == 0
}

func sameKind(a, b any) bool {
	return valueKind(a) == valueKind(b)
}

func valueKind(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case string:
		return 3
	default:
		return 2
	}
}

func sortRecords(records []record.Record, by query.Sort) {
	sort.SliceStable(records, func(i, j int) bool {
		c := group.CompareValues(records[i][by.Field], records[j][by.Field])
		if by.Direction == query.Descending {
			return c > 0
		}
		return c < 0
	})
}

func fingerprint(keys []string, values map[string]any) uint64 {
	h := xxhash.New()
	for _, key := range keys {
		_, _ = h.WriteString(key)
		_, _ = h.Write([]byte{0})
		_, _ = h.WriteString(fmt.Sprintf("%v", values[key]))
		_, _ = h.Write([]byte{0x1f})
	}
	return h.Sum64()
}
