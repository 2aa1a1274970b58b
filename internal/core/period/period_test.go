package period

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	coreerrors "github.com/tidemark-io/tidemark/internal/core/errors"
)

func TestStart(t *testing.T) {
	ts := time.Date(2013, 4, 9, 13, 32, 5, 0, time.UTC) // a Tuesday

	tests := []struct {
		period *Period
		want   time.Time
	}{
		{Day, time.Date(2013, 4, 9, 0, 0, 0, 0, time.UTC)},
		{Week, time.Date(2013, 4, 8, 0, 0, 0, 0, time.UTC)}, // preceding Monday
		{Month, time.Date(2013, 4, 1, 0, 0, 0, 0, time.UTC)},
		{Quarter, time.Date(2013, 4, 1, 0, 0, 0, 0, time.UTC)},
		{Year, time.Date(2013, 1, 1, 0, 0, 0, 0, time.UTC)},
	}

	for _, tc := range tests {
		t.Run(tc.period.Name(), func(t *testing.T) {
			require.Equal(t, tc.want, tc.period.Start(ts))
		})
	}
}

func TestStartIsIdempotentAndValid(t *testing.T) {
	timestamps := []time.Time{
		time.Date(2013, 4, 9, 13, 32, 5, 0, time.UTC),
		time.Date(2012, 12, 31, 23, 59, 59, 0, time.UTC),
		time.Date(2024, 2, 29, 6, 0, 0, 0, time.UTC),
		time.Date(2013, 4, 8, 0, 0, 0, 0, time.UTC),
	}

	for _, p := range All {
		for _, ts := range timestamps {
			start := p.Start(ts)
			require.Equal(t, start, p.Start(start), "%s start not idempotent for %s", p.Name(), ts)
			require.True(t, p.ValidStart(start), "%s start of %s is not a valid boundary", p.Name(), ts)
		}
	}
}

func TestStartNormalizesToUTC(t *testing.T) {
	paris := time.FixedZone("CET", 3600)
	ts := time.Date(2013, 2, 2, 0, 0, 0, 0, paris) // 2013-02-01T23:00:00Z

	require.Equal(t, time.Date(2013, 2, 1, 0, 0, 0, 0, time.UTC), Day.Start(ts))
	require.Equal(t, time.UTC, Day.Start(ts).Location())
}

func TestEnd(t *testing.T) {
	boundary := time.Date(2013, 4, 8, 0, 0, 0, 0, time.UTC) // Monday
	inside := time.Date(2013, 4, 9, 10, 0, 0, 0, time.UTC)

	// A value exactly on a boundary maps to itself.
	require.Equal(t, boundary, Week.End(boundary))
	require.Equal(t, time.Date(2013, 4, 15, 0, 0, 0, 0, time.UTC), Week.End(inside))
}

func TestRange(t *testing.T) {
	start := time.Date(2013, 4, 3, 12, 0, 0, 0, time.UTC)
	end := time.Date(2013, 4, 16, 0, 0, 0, 0, time.UTC)

	type pair struct{ start, end time.Time }
	var got []pair
	for ps, pe := range Week.Range(start, end) {
		got = append(got, pair{ps, pe})
	}

	want := []pair{
		{time.Date(2013, 4, 1, 0, 0, 0, 0, time.UTC), time.Date(2013, 4, 8, 0, 0, 0, 0, time.UTC)},
		{time.Date(2013, 4, 8, 0, 0, 0, 0, time.UTC), time.Date(2013, 4, 15, 0, 0, 0, 0, time.UTC)},
		{time.Date(2013, 4, 15, 0, 0, 0, 0, time.UTC), time.Date(2013, 4, 22, 0, 0, 0, 0, time.UTC)},
	}
	require.Equal(t, want, got)
}

func TestRangeIsContiguousAndRestartable(t *testing.T) {
	start := time.Date(2013, 1, 15, 0, 0, 0, 0, time.UTC)
	end := time.Date(2013, 11, 2, 0, 0, 0, 0, time.UTC)

	seq := Month.Range(start, end)

	for pass := 0; pass < 2; pass++ {
		var prevEnd time.Time
		count := 0
		for ps, pe := range seq {
			if count > 0 {
				require.Equal(t, prevEnd, ps, "gap between consecutive periods")
			}
			require.True(t, pe.After(ps))
			prevEnd = pe
			count++
		}
		require.Equal(t, 11, count)
	}
}

func TestRangeQuarterBoundaries(t *testing.T) {
	start := time.Date(2013, 2, 10, 0, 0, 0, 0, time.UTC)
	end := time.Date(2013, 8, 1, 0, 0, 0, 0, time.UTC)

	var starts []time.Time
	for ps := range Quarter.Range(start, end) {
		starts = append(starts, ps)
	}
	require.Equal(t, []time.Time{
		time.Date(2013, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2013, 4, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2013, 7, 1, 0, 0, 0, 0, time.UTC),
	}, starts)
}

func TestParse(t *testing.T) {
	p, err := Parse("week")
	require.NoError(t, err)
	require.Equal(t, Week, p)

	_, err = Parse("fortnight")
	require.Error(t, err)
}

func TestParseStart(t *testing.T) {
	got, err := Week.ParseStart("2013-04-08T00:00:00Z")
	require.NoError(t, err)
	require.Equal(t, time.Date(2013, 4, 8, 0, 0, 0, 0, time.UTC), got)

	// A Tuesday is not a valid week start: corrupted metadata must surface.
	_, err = Week.ParseStart("2013-04-09T00:00:00Z")
	var boundaryErr *coreerrors.InvalidPeriodBoundaryError
	require.ErrorAs(t, err, &boundaryErr)
	require.Equal(t, "week", boundaryErr.Period)

	_, err = Week.ParseStart("not-a-time")
	require.ErrorAs(t, err, &boundaryErr)
}
