package period

import (
	"fmt"
	"iter"
	"time"

	coreerrors "github.com/tidemark-io/tidemark/internal/core/errors"
)

// Period is a UTC-aligned bucketing granularity with truncation and
// range-enumeration rules. All boundary arithmetic normalizes to UTC first.
type Period struct {
	name     string
	startKey string
	start    func(t time.Time) time.Time
	add      func(t time.Time, n int) time.Time
}

var (
	Day = &Period{
		name:     "day",
		startKey: "_day_start_at",
		start: func(t time.Time) time.Time {
			y, m, d := t.UTC().Date()
			return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
		},
		add: func(t time.Time, n int) time.Time { return t.AddDate(0, 0, n) },
	}

	Week = &Period{
		name:     "week",
		startKey: "_week_start_at",
		start: func(t time.Time) time.Time {
			t = t.UTC()
			y, m, d := t.Date()
			midnight := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
			// Monday is the first day of the week.
			offset := (int(midnight.Weekday()) + 6) % 7
			return midnight.AddDate(0, 0, -offset)
		},
		add: func(t time.Time, n int) time.Time { return t.AddDate(0, 0, 7*n) },
	}

	Month = &Period{
		name:     "month",
		startKey: "_month_start_at",
		start: func(t time.Time) time.Time {
			y, m, _ := t.UTC().Date()
			return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
		},
		add: func(t time.Time, n int) time.Time { return t.AddDate(0, n, 0) },
	}

	Quarter = &Period{
		name:     "quarter",
		startKey: "_quarter_start_at",
		start: func(t time.Time) time.Time {
			y, m, _ := t.UTC().Date()
			qm := time.Month(((int(m)-1)/3)*3 + 1)
			return time.Date(y, qm, 1, 0, 0, 0, 0, time.UTC)
		},
		add: func(t time.Time, n int) time.Time { return t.AddDate(0, 3*n, 0) },
	}

	Year = &Period{
		name:     "year",
		startKey: "_year_start_at",
		start: func(t time.Time) time.Time {
			y, _, _ := t.UTC().Date()
			return time.Date(y, time.January, 1, 0, 0, 0, 0, time.UTC)
		},
		add: func(t time.Time, n int) time.Time { return t.AddDate(n, 0, 0) },
	}
)

// All lists every tracked period, smallest first. Record ingestion derives one
// start-key per entry here.
var All = []*Period{Day, Week, Month, Quarter, Year}

// Periods is the registry of supported periods keyed by name.
var Periods = map[string]*Period{
	Day.name:     Day,
	Week.name:    Week,
	Month.name:   Month,
	Quarter.name: Quarter,
	Year.name:    Year,
}

// Parse resolves a period by name.
func Parse(name string) (*Period, error) {
	p, ok := Periods[name]
	if !ok {
		return nil, fmt.Errorf("unknown period %q", name)
	}
	return p, nil
}

// Name returns the registry name of the period (e.g. "week").
func (p *Period) Name() string { return p.name }

// StartKey returns the derived metadata key stamped onto records for this
// period (e.g. "_week_start_at").
func (p *Period) StartKey() string { return p.startKey }

// Start truncates t to the period boundary at or before it.
// Idempotent: Start(Start(t)) == Start(t).
func (p *Period) Start(t time.Time) time.Time { return p.start(t) }

// ValidStart reports whether t is exactly on a period boundary.
func (p *Period) ValidStart(t time.Time) bool { return t.UTC().Equal(p.start(t)) }

// End returns the next boundary at or after t. A value exactly on a boundary
// maps to itself.
func (p *Period) End(t time.Time) time.Time {
	if p.ValidStart(t) {
		return t.UTC()
	}
	return p.add(p.start(t), 1)
}

// Add moves t by n periods. For calendar-variable periods (month, quarter,
// year) this follows calendar arithmetic, not a fixed duration.
func (p *Period) Add(t time.Time, n int) time.Time { return p.add(t.UTC(), n) }

// Range yields consecutive (periodStart, periodEnd) pairs covering at least
// [start, end). Bounds widen outward to period boundaries, never inward. The
// sequence is lazy and may be ranged over more than once.
func (p *Period) Range(start, end time.Time) iter.Seq2[time.Time, time.Time] {
	end = end.UTC()
	return func(yield func(time.Time, time.Time) bool) {
		cur := p.start(start)
		for {
			next := p.add(cur, 1)
			if !yield(cur, next) {
				return
			}
			if !next.Before(end) {
				return
			}
			cur = next
		}
	}
}

// ParseStart parses a stored period-start value and verifies it sits on a
// boundary. A non-boundary value means corrupted stored metadata and surfaces
// as InvalidPeriodBoundaryError.
func (p *Period) ParseStart(value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, &coreerrors.InvalidPeriodBoundaryError{Period: p.name, Value: value}
	}
	t = t.UTC()
	if !p.ValidStart(t) {
		return time.Time{}, &coreerrors.InvalidPeriodBoundaryError{Period: p.name, Value: value}
	}
	return t, nil
}
