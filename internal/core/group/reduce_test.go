package group

import (
	"testing"

	"github.com/stretchr/testify/require"

	coreerrors "github.com/tidemark-io/tidemark/internal/core/errors"
	"github.com/tidemark-io/tidemark/internal/core/query"
)

func TestReduce(t *testing.T) {
	t.Run("sum", func(t *testing.T) {
		got, err := Reduce([]any{2, 5, 8}, query.MethodSum)
		require.NoError(t, err)
		require.Equal(t, float64(15), got)
	})

	t.Run("sum of floats is exact", func(t *testing.T) {
		got, err := Reduce([]any{0.1, 0.2}, query.MethodSum)
		require.NoError(t, err)
		require.Equal(t, 0.3, got)
	})

	t.Run("mean", func(t *testing.T) {
		got, err := Reduce([]any{13, 19, 15, 2}, query.MethodMean)
		require.NoError(t, err)
		require.Equal(t, 12.25, got)
	})

	t.Run("count", func(t *testing.T) {
		got, err := Reduce([]any{"a", "b", "b"}, query.MethodCount)
		require.NoError(t, err)
		require.Equal(t, 3, got)
	})

	t.Run("set", func(t *testing.T) {
		got, err := Reduce([]any{"a", "a", "b"}, query.MethodSet)
		require.NoError(t, err)
		require.Equal(t, []any{"a", "b"}, got)
	})

	t.Run("set is the default method", func(t *testing.T) {
		got, err := Reduce([]any{"b", "a", "b"}, "")
		require.NoError(t, err)
		require.Equal(t, []any{"a", "b"}, got)
	})

	t.Run("sum over non-numeric fails", func(t *testing.T) {
		_, err := Reduce([]any{"x"}, query.MethodSum)
		var opErr *coreerrors.InvalidOperationError
		require.ErrorAs(t, err, &opErr)
	})

	t.Run("mean over non-numeric fails", func(t *testing.T) {
		_, err := Reduce([]any{1, "x"}, query.MethodMean)
		var opErr *coreerrors.InvalidOperationError
		require.ErrorAs(t, err, &opErr)
	})
}

func TestCompareValues(t *testing.T) {
	tests := []struct {
		name string
		a, b any
		want int
	}{
		{"equal ints", 3, 3, 0},
		{"numeric order", 2, 10, -1},
		{"mixed numeric types", int64(5), 4.5, 1},
		{"strings", "apple", "banana", -1},
		{"bools", false, true, -1},
		{"nil first", nil, 0, -1},
		{"bool before number", true, 0, -1},
		{"number before string", 99, "1", -1},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := CompareValues(tc.a, tc.b)
			switch {
			case tc.want < 0:
				require.Negative(t, got)
			case tc.want > 0:
				require.Positive(t, got)
			default:
				require.Zero(t, got)
			}
		})
	}
}
