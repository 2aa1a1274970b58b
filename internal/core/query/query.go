package query

import (
	"fmt"
	"time"

	coreerrors "github.com/tidemark-io/tidemark/internal/core/errors"
	"github.com/tidemark-io/tidemark/internal/core/period"
)

// Collect methods. Set is the default when a collect spec names no method.
const (
	MethodSum   = "sum"
	MethodCount = "count"
	MethodSet   = "set"
	MethodMean  = "mean"
)

// Sort directions accepted in a sort spec.
const (
	Ascending  = "ascending"
	Descending = "descending"
)

// ValidMethod reports whether m is a registered collect method.
func ValidMethod(m string) bool {
	switch m {
	case MethodSum, MethodCount, MethodSet, MethodMean:
		return true
	}
	return false
}

// Filter is one exact key/value condition. Filters are AND-combined.
type Filter struct {
	Key   string
	Value any
}

// Sort orders results by a field.
type Sort struct {
	Field     string
	Direction string
}

// Collect pairs a field with the method used to reduce its values per group.
type Collect struct {
	Field  string
	Method string
}

// Spec is the raw construction input for a Query. Relative windows are
// resolved once, at Build time.
type Spec struct {
	StartAt      *time.Time
	EndAt        *time.Time
	InclusiveEnd bool
	Period       *period.Period
	Duration     int
	FilterBy     []Filter
	FilterPrefix []Filter
	GroupBy      string
	SortBy       *Sort
	Limit        int
	Collect      []Collect
	Flatten      bool
}

// Query is an immutable description of a read request. Construct with Build;
// treat all fields as read-only afterwards.
type Query struct {
	StartAt      *time.Time
	EndAt        *time.Time
	InclusiveEnd bool
	Period       *period.Period
	Duration     int
	FilterBy     []Filter
	FilterPrefix []Filter
	GroupBy      string
	SortBy       *Sort
	Limit        int
	Collect      []Collect
	Flatten      bool
}

// nowFunc is swapped in tests that exercise relative window resolution.
var nowFunc = func() time.Time { return time.Now().UTC() }

// Build validates a Spec and resolves any relative window into absolute
// bounds, sorted so StartAt <= EndAt.
func Build(s Spec) (Query, error) {
	q := Query{
		InclusiveEnd: s.InclusiveEnd,
		Period:       s.Period,
		Duration:     s.Duration,
		FilterBy:     append([]Filter(nil), s.FilterBy...),
		FilterPrefix: append([]Filter(nil), s.FilterPrefix...),
		GroupBy:      s.GroupBy,
		SortBy:       s.SortBy,
		Limit:        s.Limit,
		Collect:      append([]Collect(nil), s.Collect...),
		Flatten:      s.Flatten,
	}
	if s.StartAt != nil {
		t := s.StartAt.UTC()
		q.StartAt = &t
	}
	if s.EndAt != nil {
		t := s.EndAt.UTC()
		q.EndAt = &t
	}

	if err := q.validate(); err != nil {
		return Query{}, err
	}

	if s.Duration != 0 {
		resolveRelativeWindow(&q)
	}
	return q, nil
}

func (q *Query) validate() error {
	if q.Duration != 0 && q.Period == nil {
		return fmt.Errorf("duration requires a period")
	}
	if q.Duration != 0 && q.StartAt != nil && q.EndAt != nil {
		return fmt.Errorf("duration cannot be combined with both start_at and end_at")
	}
	if q.Limit < 0 {
		return fmt.Errorf("limit must not be negative")
	}

	if q.SortBy != nil {
		if q.SortBy.Direction != Ascending && q.SortBy.Direction != Descending {
			return &coreerrors.InvalidSortError{Direction: q.SortBy.Direction}
		}
		if q.SortBy.Field == "" {
			return fmt.Errorf("sort_by requires a field")
		}
	}

	if q.Period != nil && q.GroupBy == q.Period.StartKey() && q.GroupBy != "" {
		return &coreerrors.InvalidOperationError{
			Operation: "group_by",
			Message:   fmt.Sprintf("cannot group by %q and by the %s period at once", q.GroupBy, q.Period.Name()),
		}
	}

	if len(q.Collect) > 0 && !q.IsGrouped() {
		return &coreerrors.InvalidOperationError{
			Operation: "collect",
			Message:   "collect requires group_by or period",
		}
	}
	for _, c := range q.Collect {
		if c.Field == "" {
			return fmt.Errorf("collect requires a field")
		}
		if !ValidMethod(c.Method) {
			return &coreerrors.InvalidOperationError{
				Operation: "collect",
				Message:   fmt.Sprintf("unknown collect method %q", c.Method),
			}
		}
		if c.Field == q.GroupBy {
			return &coreerrors.InvalidOperationError{
				Operation: "collect",
				Message:   fmt.Sprintf("cannot collect the grouping key %q", c.Field),
			}
		}
	}
	return nil
}

// resolveRelativeWindow computes the missing bound from the anchor and the
// signed duration, then orders the pair.
func resolveRelativeWindow(q *Query) {
	anchor := nowFunc()
	if q.StartAt != nil {
		anchor = *q.StartAt
	} else if q.EndAt != nil {
		anchor = *q.EndAt
	}

	other := q.Period.Add(anchor, q.Duration)
	start, end := anchor, other
	if end.Before(start) {
		start, end = end, start
	}
	q.StartAt = &start
	q.EndAt = &end
}

// IsGrouped reports whether the query buckets records at all, by field or by
// period.
func (q Query) IsGrouped() bool {
	return q.GroupBy != "" || q.Period != nil
}

// GroupKeys returns the active grouping keys in nesting order: the field key
// first (outer), then the period's start key (inner). The Grouping Merger
// relies on this ordering.
func (q Query) GroupKeys() []string {
	var keys []string
	if q.GroupBy != "" {
		keys = append(keys, q.GroupBy)
	}
	if q.Period != nil {
		keys = append(keys, q.Period.StartKey())
	}
	return keys
}

// Shifted returns a copy with both window bounds moved by n periods. Only
// meaningful for period queries with a resolved window.
func (q Query) Shifted(n int) Query {
	out := q
	if q.Period == nil {
		return out
	}
	if q.StartAt != nil {
		t := q.Period.Add(*q.StartAt, n)
		out.StartAt = &t
	}
	if q.EndAt != nil {
		t := q.Period.Add(*q.EndAt, n)
		out.EndAt = &t
	}
	return out
}
