package series

import (
	"fmt"
	"time"

	"github.com/tidemark-io/tidemark/internal/core/group"
	"github.com/tidemark-io/tidemark/internal/core/period"
	"github.com/tidemark-io/tidemark/internal/core/query"
)

// Entry is one period bucket in a filled series. Defaulted entries carry a
// zero count and nil collected fields but correct boundary timestamps.
type Entry struct {
	StartAt   time.Time
	EndAt     time.Time
	Count     int64
	Collected map[string]any
}

// Fill expands sparse period-grouped nodes into one entry per boundary of
// p.Range(start, end). Node keys must be valid period starts; anything else
// is corrupted stored metadata and surfaces as InvalidPeriodBoundaryError.
func Fill(nodes []*group.Node, p *period.Period, start, end time.Time, collect []query.Collect) ([]Entry, error) {
	byStart, err := indexByStart(nodes, p)
	if err != nil {
		return nil, err
	}

	var entries []Entry
	for ps, pe := range p.Range(start, end) {
		if n, ok := byStart[ps.Unix()]; ok {
			entries = append(entries, Entry{
				StartAt:   ps,
				EndAt:     pe,
				Count:     n.Count,
				Collected: n.Collected,
			})
			continue
		}
		entries = append(entries, defaultEntry(ps, pe, collect))
	}
	return entries, nil
}

// Sparse converts period nodes straight to entries without filling, for
// period queries that carry no explicit window.
func Sparse(nodes []*group.Node, p *period.Period) ([]Entry, error) {
	entries := make([]Entry, 0, len(nodes))
	for _, n := range nodes {
		ps, err := nodeStart(n, p)
		if err != nil {
			return nil, err
		}
		entries = append(entries, Entry{
			StartAt:   ps,
			EndAt:     p.Add(ps, 1),
			Count:     n.Count,
			Collected: n.Collected,
		})
	}
	return entries, nil
}

func indexByStart(nodes []*group.Node, p *period.Period) (map[int64]*group.Node, error) {
	byStart := make(map[int64]*group.Node, len(nodes))
	for _, n := range nodes {
		ps, err := nodeStart(n, p)
		if err != nil {
			return nil, err
		}
		byStart[ps.Unix()] = n
	}
	return byStart, nil
}

func nodeStart(n *group.Node, p *period.Period) (time.Time, error) {
	switch key := n.Key.(type) {
	case string:
		return p.ParseStart(key)
	case time.Time:
		if !p.ValidStart(key) {
			return p.ParseStart(key.Format(time.RFC3339))
		}
		return key.UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("period group key has unexpected type %T", n.Key)
	}
}

func defaultEntry(ps, pe time.Time, collect []query.Collect) Entry {
	e := Entry{StartAt: ps, EndAt: pe, Count: 0}
	if len(collect) > 0 {
		e.Collected = make(map[string]any, len(collect))
		for _, c := range collect {
			e.Collected[c.Field] = nil
		}
	}
	return e
}
