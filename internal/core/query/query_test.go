package query

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	coreerrors "github.com/tidemark-io/tidemark/internal/core/errors"
	"github.com/tidemark-io/tidemark/internal/core/period"
)

func fixedNow(t time.Time) func() {
	prev := nowFunc
	nowFunc = func() time.Time { return t }
	return func() { nowFunc = prev }
}

func TestBuildResolvesRelativeWindow(t *testing.T) {
	anchor := time.Date(2013, 4, 8, 0, 0, 0, 0, time.UTC)

	t.Run("negative duration from end_at", func(t *testing.T) {
		q, err := Build(Spec{EndAt: &anchor, Period: period.Week, Duration: -3})
		require.NoError(t, err)
		require.Equal(t, time.Date(2013, 3, 18, 0, 0, 0, 0, time.UTC), *q.StartAt)
		require.Equal(t, anchor, *q.EndAt)
	})

	t.Run("positive duration from start_at", func(t *testing.T) {
		q, err := Build(Spec{StartAt: &anchor, Period: period.Week, Duration: 2})
		require.NoError(t, err)
		require.Equal(t, anchor, *q.StartAt)
		require.Equal(t, time.Date(2013, 4, 22, 0, 0, 0, 0, time.UTC), *q.EndAt)
	})

	t.Run("anchor defaults to now", func(t *testing.T) {
		now := time.Date(2013, 4, 11, 13, 0, 0, 0, time.UTC)
		defer fixedNow(now)()

		q, err := Build(Spec{Period: period.Day, Duration: -2})
		require.NoError(t, err)
		require.Equal(t, time.Date(2013, 4, 9, 13, 0, 0, 0, time.UTC), *q.StartAt)
		require.Equal(t, now, *q.EndAt)
	})

	t.Run("bounds always ordered", func(t *testing.T) {
		q, err := Build(Spec{StartAt: &anchor, Period: period.Week, Duration: -1})
		require.NoError(t, err)
		require.True(t, q.StartAt.Before(*q.EndAt))
		require.Equal(t, anchor, *q.EndAt)
	})
}

func TestBuildValidation(t *testing.T) {
	start := time.Date(2013, 4, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2013, 5, 1, 0, 0, 0, 0, time.UTC)

	t.Run("duration without period", func(t *testing.T) {
		_, err := Build(Spec{Duration: 3})
		require.Error(t, err)
	})

	t.Run("duration with both bounds", func(t *testing.T) {
		_, err := Build(Spec{StartAt: &start, EndAt: &end, Period: period.Week, Duration: 1})
		require.Error(t, err)
	})

	t.Run("bad sort direction", func(t *testing.T) {
		_, err := Build(Spec{SortBy: &Sort{Field: "foo", Direction: "sideways"}})
		var sortErr *coreerrors.InvalidSortError
		require.ErrorAs(t, err, &sortErr)
	})

	t.Run("group by period start key", func(t *testing.T) {
		_, err := Build(Spec{GroupBy: "_week_start_at", Period: period.Week})
		var opErr *coreerrors.InvalidOperationError
		require.ErrorAs(t, err, &opErr)
	})

	t.Run("collect without grouping", func(t *testing.T) {
		_, err := Build(Spec{Collect: []Collect{{Field: "volume", Method: MethodSum}}})
		var opErr *coreerrors.InvalidOperationError
		require.ErrorAs(t, err, &opErr)
	})

	t.Run("collect with unknown method", func(t *testing.T) {
		_, err := Build(Spec{GroupBy: "foo", Collect: []Collect{{Field: "volume", Method: "median"}}})
		var opErr *coreerrors.InvalidOperationError
		require.ErrorAs(t, err, &opErr)
	})

	t.Run("collect on the grouping key", func(t *testing.T) {
		_, err := Build(Spec{GroupBy: "foo", Collect: []Collect{{Field: "foo", Method: MethodSet}}})
		var opErr *coreerrors.InvalidOperationError
		require.ErrorAs(t, err, &opErr)
	})

	t.Run("negative limit", func(t *testing.T) {
		_, err := Build(Spec{Limit: -1})
		require.Error(t, err)
	})
}

func TestBuildCarriesSortSpec(t *testing.T) {
	q, err := Build(Spec{SortBy: &Sort{Field: "volume", Direction: Descending}})
	require.NoError(t, err)
	require.Equal(t, &Sort{Field: "volume", Direction: Descending}, q.SortBy)
}

func TestGroupKeysOrdering(t *testing.T) {
	q, err := Build(Spec{GroupBy: "authority", Period: period.Month})
	require.NoError(t, err)
	require.Equal(t, []string{"authority", "_month_start_at"}, q.GroupKeys())
	require.True(t, q.IsGrouped())

	q, err = Build(Spec{Period: period.Month})
	require.NoError(t, err)
	require.Equal(t, []string{"_month_start_at"}, q.GroupKeys())

	q, err = Build(Spec{GroupBy: "authority"})
	require.NoError(t, err)
	require.Equal(t, []string{"authority"}, q.GroupKeys())

	q, err = Build(Spec{})
	require.NoError(t, err)
	require.Empty(t, q.GroupKeys())
	require.False(t, q.IsGrouped())
}

func TestShifted(t *testing.T) {
	end := time.Date(2013, 4, 8, 0, 0, 0, 0, time.UTC)
	q, err := Build(Spec{EndAt: &end, Period: period.Week, Duration: -3})
	require.NoError(t, err)

	shifted := q.Shifted(-1)
	require.Equal(t, time.Date(2013, 3, 11, 0, 0, 0, 0, time.UTC), *shifted.StartAt)
	require.Equal(t, time.Date(2013, 4, 1, 0, 0, 0, 0, time.UTC), *shifted.EndAt)

	// The original query is untouched.
	require.Equal(t, time.Date(2013, 3, 18, 0, 0, 0, 0, time.UTC), *q.StartAt)
	require.Equal(t, end, *q.EndAt)
}
