package sheet

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"sheetcast/internal/post"
)

type fakeSource struct {
	calls    atomic.Int32
	failures int32 // first N calls fail transiently
	err      error // returned for failing calls; defaults to a transient error
	grids    []Grid
}

func (s *fakeSource) Read(ctx context.Context, sheet string, ranges ...string) ([]Grid, error) {
	n := s.calls.Add(1)
	if n <= s.failures {
		if s.err != nil {
			return nil, s.err
		}
		return nil, errors.New("503 backend unavailable")
	}
	return s.grids, nil
}

func weekA() []Grid {
	return []Grid{
		{{"Subject", "Time", "Room", "Teacher"}},
		{{"Math", "9:00", "101", "Smith"}},
		{{"Science"}},
		{{"Monday"}},
	}
}

func fastRetry() Retry {
	return Retry{MaxAttempts: 5, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func newTestFetcher(t *testing.T, src Source) *Fetcher {
	t.Helper()
	f, err := NewFetcher(src, Options{Retry: fastRetry()})
	require.NoError(t, err)
	return f
}

func TestFetchSuccess(t *testing.T) {
	t.Parallel()

	src := &fakeSource{grids: weekA()}
	ws, n, err := newTestFetcher(t, src).FetchWithAttempts(context.Background(), "WeekA")
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, []string{"Subject", "Time", "Room", "Teacher"}, ws.Headers)
	require.Equal(t, [][]string{{"Math", "9:00", "101", "Smith"}}, ws.Rows)
	require.Equal(t, "Science", ws.Category)
	require.Equal(t, "Monday", ws.Day)
}

func TestFetchRetriesUntilSuccess(t *testing.T) {
	t.Parallel()

	src := &fakeSource{failures: 4, grids: weekA()}
	_, n, err := newTestFetcher(t, src).FetchWithAttempts(context.Background(), "WeekA")
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.EqualValues(t, 5, src.calls.Load())
}

func TestFetchGivesUpAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	src := &fakeSource{failures: 100, grids: weekA()}
	_, n, err := newTestFetcher(t, src).FetchWithAttempts(context.Background(), "WeekA")
	require.Error(t, err)
	require.True(t, post.IsKind(err, post.KindSourceUnavailable), "kind=%s", post.KindOf(err))
	require.Equal(t, 5, n)
	require.EqualValues(t, 5, src.calls.Load(), "no sixth attempt")
}

func TestFetchPermanentErrorNotRetried(t *testing.T) {
	t.Parallel()

	src := &fakeSource{failures: 100, err: Permanent(errors.New("worksheet not found"))}
	_, n, err := newTestFetcher(t, src).FetchWithAttempts(context.Background(), "Nope")
	require.True(t, post.IsKind(err, post.KindMalformedSource), "kind=%s", post.KindOf(err))
	require.Equal(t, 1, n)
}

func TestFetchBackoffGrows(t *testing.T) {
	t.Parallel()

	src := &fakeSource{failures: 3, grids: weekA()}
	f, err := NewFetcher(src, Options{Retry: Retry{MaxAttempts: 5, BaseDelay: 10 * time.Millisecond, MaxDelay: time.Second}})
	require.NoError(t, err)

	start := time.Now()
	_, err = f.Fetch(context.Background(), "WeekA")
	require.NoError(t, err)
	// 10ms + 20ms + 40ms between four attempts.
	require.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
}

func TestFetchValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		grids []Grid
	}{
		{name: "narrow header", grids: []Grid{{{"A", "B", "C"}}, {}, {{"cat"}}, {{"Mon"}}}},
		{name: "no header", grids: []Grid{{}, {}, {{"cat"}}, {{"Mon"}}}},
		{name: "empty category", grids: []Grid{{{"A", "B", "C", "D"}}, {}, {}, {{"Mon"}}}},
		{name: "empty day", grids: []Grid{{{"A", "B", "C", "D"}}, {}, {{"cat"}}, {{"  "}}}},
		{name: "missing ranges", grids: []Grid{{{"A", "B", "C", "D"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			src := &fakeSource{grids: tt.grids}
			_, n, err := newTestFetcher(t, src).FetchWithAttempts(context.Background(), "S")
			require.True(t, post.IsKind(err, post.KindMalformedSource), "kind=%s err=%v", post.KindOf(err), err)
			require.Equal(t, 1, n, "validation failures are not retried")
		})
	}
}

func TestFetchNormalizesRows(t *testing.T) {
	t.Parallel()

	data := Grid{
		{"a", "b"},
		{"", "", "", ""},
		{"c", "d", "e", "f"},
	}
	for i := 0; i < 20; i++ {
		data = append(data, Grid{{"x", "y", "z", "w"}}...)
	}
	src := &fakeSource{grids: []Grid{{{"A", "B", "C", "D"}}, data, {{"cat"}}, {{"Mon"}}}}
	ws, err := newTestFetcher(t, src).Fetch(context.Background(), "S")
	require.NoError(t, err)

	require.Len(t, ws.Rows, 10)
	require.Equal(t, []string{"a", "b", "", ""}, ws.Rows[0])
	require.Equal(t, []string{"c", "d", "e", "f"}, ws.Rows[1])
	for _, r := range ws.Rows {
		require.Len(t, r, 4)
	}
}

func TestFetchCanceledContext(t *testing.T) {
	t.Parallel()

	src := &fakeSource{failures: 100}
	f, err := NewFetcher(src, Options{Retry: Retry{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: 10 * time.Second}})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err = f.Fetch(ctx, "S")
	require.Error(t, err)
	require.Less(t, time.Since(start), 900*time.Millisecond)
}

func TestDefaultRetry(t *testing.T) {
	t.Parallel()

	r := Retry{}.normalize()
	require.Equal(t, 5, r.MaxAttempts)
	require.Equal(t, time.Second, r.BaseDelay)
	require.Equal(t, 10*time.Second, r.MaxDelay)
}
