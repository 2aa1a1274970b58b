package series

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	coreerrors "github.com/tidemark-io/tidemark/internal/core/errors"
	"github.com/tidemark-io/tidemark/internal/core/group"
	"github.com/tidemark-io/tidemark/internal/core/period"
	"github.com/tidemark-io/tidemark/internal/core/query"
	"github.com/tidemark-io/tidemark/internal/core/storage"
)

var (
	w0 = time.Date(2013, 4, 1, 0, 0, 0, 0, time.UTC)
	w1 = time.Date(2013, 4, 8, 0, 0, 0, 0, time.UTC)
	w2 = time.Date(2013, 4, 15, 0, 0, 0, 0, time.UTC)
)

func weekNode(t *testing.T, start time.Time, count int64) *group.Node {
	t.Helper()
	q, err := query.Build(query.Spec{Period: period.Week})
	require.NoError(t, err)
	nodes, err := group.Merge([]storage.GroupRow{
		{Keys: map[string]any{"_week_start_at": start.Format(time.RFC3339)}, Count: count},
	}, q)
	require.NoError(t, err)
	return nodes[0]
}

func TestFillSubstitutesDefaults(t *testing.T) {
	nodes := []*group.Node{weekNode(t, w1, 12)}

	entries, err := Fill(nodes, period.Week, w0, w2, nil)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	require.Equal(t, w0, entries[0].StartAt)
	require.Equal(t, w1, entries[0].EndAt)
	require.Equal(t, int64(0), entries[0].Count)

	require.Equal(t, w1, entries[1].StartAt)
	require.Equal(t, w2, entries[1].EndAt)
	require.Equal(t, int64(12), entries[1].Count)
}

func TestFillDefaultsCarryNilCollectedFields(t *testing.T) {
	collect := []query.Collect{{Field: "volume", Method: query.MethodSum}}

	entries, err := Fill(nil, period.Week, w0, w2, collect)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, e := range entries {
		require.Contains(t, e.Collected, "volume")
		require.Nil(t, e.Collected["volume"])
	}
}

func TestFillRejectsCorruptBoundary(t *testing.T) {
	q, err := query.Build(query.Spec{Period: period.Week})
	require.NoError(t, err)
	nodes, err := group.Merge([]storage.GroupRow{
		// A Wednesday: not a valid week start.
		{Keys: map[string]any{"_week_start_at": "2013-04-03T00:00:00Z"}, Count: 1},
	}, q)
	require.NoError(t, err)

	_, err = Fill(nodes, period.Week, w0, w2, nil)
	var boundaryErr *coreerrors.InvalidPeriodBoundaryError
	require.ErrorAs(t, err, &boundaryErr)
}

func TestSparse(t *testing.T) {
	nodes := []*group.Node{weekNode(t, w1, 3)}

	entries, err := Sparse(nodes, period.Week)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, w1, entries[0].StartAt)
	require.Equal(t, w2, entries[0].EndAt)
	require.Equal(t, int64(3), entries[0].Count)
}
