package series

import (
	"context"

	"github.com/tidemark-io/tidemark/internal/core/group"
	"github.com/tidemark-io/tidemark/internal/core/query"
	"github.com/tidemark-io/tidemark/internal/core/record"
	"github.com/tidemark-io/tidemark/internal/core/storage"
)

// maxWindowShifts caps the shift-to-non-empty-window loop. The offset reaches
// 0 on the first re-issue in the normal case; the cap keeps termination
// obvious when concurrent writes move the data under us.
const maxWindowShifts = 10

// Executor runs a query against a data set and returns raw rows. The shaper
// re-issues the whole query through this when shifting the window.
type Executor func(ctx context.Context, q query.Query) (*storage.Result, error)

// Shaper selects the result shape for a query — {grouped, period,
// grouped+period} × {nested, flattened} — and assembles the final payload.
type Shaper struct {
	execute Executor
}

func NewShaper(execute Executor) *Shaper {
	if execute == nil {
		panic("series: executor must not be nil")
	}
	return &Shaper{execute: execute}
}

// Respond executes q and shapes the raw rows into the response payload.
func (s *Shaper) Respond(ctx context.Context, q query.Query) ([]map[string]any, error) {
	res, err := s.execute(ctx, q)
	if err != nil {
		return nil, err
	}

	if !q.IsGrouped() {
		return shapeRecords(res.Records), nil
	}

	nodes, err := group.Merge(res.Groups, q)
	if err != nil {
		return nil, err
	}

	switch {
	case q.Period == nil:
		return shapeGrouped(nodes, q), nil
	case q.GroupBy == "":
		entries, err := s.periodSeries(ctx, q, nodes)
		if err != nil {
			return nil, err
		}
		return shapePeriod(entries), nil
	default:
		return s.shapeGroupedPeriod(nodes, q)
	}
}

// periodSeries fills the series and, for relative-window queries, applies the
// shift-to-non-empty-window algorithm: while the edge of the series is empty,
// re-issue the whole query shifted by the empty run length. Re-issuing (rather
// than trimming buckets already in hand) re-checks backend state on each pass.
func (s *Shaper) periodSeries(ctx context.Context, q query.Query, nodes []*group.Node) ([]Entry, error) {
	if q.StartAt == nil || q.EndAt == nil {
		return Sparse(nodes, q.Period)
	}

	entries, err := Fill(nodes, q.Period, *q.StartAt, *q.EndAt, q.Collect)
	if err != nil {
		return nil, err
	}
	if q.Duration == 0 {
		return entries, nil
	}

	for attempt := 0; attempt < maxWindowShifts; attempt++ {
		offset := shiftOffset(entries, q.Duration)
		if offset == 0 {
			return entries, nil
		}

		q = q.Shifted(offset)
		res, err := s.execute(ctx, q)
		if err != nil {
			return nil, err
		}
		nodes, err = group.Merge(res.Groups, q)
		if err != nil {
			return nil, err
		}
		entries, err = Fill(nodes, q.Period, *q.StartAt, *q.EndAt, q.Collect)
		if err != nil {
			return nil, err
		}
	}
	return entries, nil
}

// shiftOffset returns how many periods the window should move: the run length
// of empty edge buckets, trailing for backward-looking queries and leading for
// forward-looking ones. Defined as 0 when every bucket is empty.
func shiftOffset(entries []Entry, duration int) int {
	empty := 0
	if duration < 0 {
		for i := len(entries) - 1; i >= 0 && entries[i].Count == 0; i-- {
			empty++
		}
		if empty == len(entries) {
			return 0
		}
		return -empty
	}

	for i := 0; i < len(entries) && entries[i].Count == 0; i++ {
		empty++
	}
	if empty == len(entries) {
		return 0
	}
	return empty
}

func (s *Shaper) shapeGroupedPeriod(nodes []*group.Node, q query.Query) ([]map[string]any, error) {
	out := make([]map[string]any, 0, len(nodes))
	for _, n := range nodes {
		entries, err := s.groupEntries(n, q)
		if err != nil {
			return nil, err
		}

		if q.Flatten {
			for _, e := range entries {
				row := periodEntry(e)
				row[q.GroupBy] = n.Key
				out = append(out, row)
			}
			continue
		}

		item := map[string]any{
			q.GroupBy:               n.Key,
			group.CountField:        n.Count,
			group.SubgroupCountField: n.SubgroupCount(),
			"values":                shapePeriod(entries),
		}
		for f, v := range n.Collected {
			item[f] = v
		}
		out = append(out, item)
	}
	return out, nil
}

// groupEntries fills one outer group's subseries independently.
func (s *Shaper) groupEntries(n *group.Node, q query.Query) ([]Entry, error) {
	if q.StartAt == nil || q.EndAt == nil {
		return Sparse(n.Subgroups, q.Period)
	}
	return Fill(n.Subgroups, q.Period, *q.StartAt, *q.EndAt, q.Collect)
}

func shapeRecords(records []record.Record) []map[string]any {
	out := make([]map[string]any, 0, len(records))
	for _, r := range records {
		out = append(out, map[string]any(r))
	}
	return out
}

// shapeGrouped emits one row per group with the key under its field name.
// A single-level grouping flattens to the same rows, so Flatten is a no-op.
func shapeGrouped(nodes []*group.Node, q query.Query) []map[string]any {
	out := make([]map[string]any, 0, len(nodes))
	for _, n := range nodes {
		row := map[string]any{
			q.GroupBy:        n.Key,
			group.CountField: n.Count,
		}
		for f, v := range n.Collected {
			row[f] = v
		}
		out = append(out, row)
	}
	return out
}

func shapePeriod(entries []Entry) []map[string]any {
	out := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		out = append(out, periodEntry(e))
	}
	return out
}

func periodEntry(e Entry) map[string]any {
	row := map[string]any{
		"_start_at":      e.StartAt,
		"_end_at":        e.EndAt,
		group.CountField: e.Count,
	}
	for f, v := range e.Collected {
		row[f] = v
	}
	return row
}
