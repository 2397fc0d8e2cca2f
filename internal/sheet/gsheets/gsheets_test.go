package gsheets

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"sheetcast/internal/sheet"
)

func newTestSource(t *testing.T, h http.HandlerFunc) *Source {
	t.Helper()

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	src, err := New(context.Background(), Config{
		SpreadsheetKey: "key123",
		Options:        []option.ClientOption{option.WithEndpoint(srv.URL + "/"), option.WithoutAuthentication()},
	})
	require.NoError(t, err)
	return src
}

func TestReadBatch(t *testing.T) {
	t.Parallel()

	var gotPath string
	var gotRanges []string
	src := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotRanges = r.URL.Query()["ranges"]
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"spreadsheetId": "key123",
			"valueRanges": []map[string]any{
				{"range": "'Week A'!C1:F1", "values": [][]any{{"Subject", "Time", "Room", "Teacher"}}},
				{"range": "'Week A'!C2:F11", "values": [][]any{{"Math", "9:00", "101", "Smith"}}},
				{"range": "'Week A'!A2", "values": [][]any{{"Science"}}},
				{"range": "'Week A'!B2"},
			},
		})
	})

	grids, err := src.Read(context.Background(), "Week A", "C1:F1", "C2:F11", "A2", "B2")
	require.NoError(t, err)
	require.True(t, strings.Contains(gotPath, "key123"), gotPath)
	require.Equal(t, []string{"'Week A'!C1:F1", "'Week A'!C2:F11", "'Week A'!A2", "'Week A'!B2"}, gotRanges)
	require.Len(t, grids, 4)
	require.Equal(t, "Teacher", grids[0].Cell(0, 3))
	require.Equal(t, "101", grids[1].Cell(0, 2))
	require.Equal(t, "Science", grids[2].Cell(0, 0))
	require.Equal(t, "", grids[3].Cell(0, 0))
}

func TestErrorClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		code      int
		permanent bool
	}{
		{code: http.StatusBadRequest, permanent: true},
		{code: http.StatusForbidden, permanent: true},
		{code: http.StatusNotFound, permanent: true},
		{code: http.StatusTooManyRequests, permanent: false},
		{code: http.StatusServiceUnavailable, permanent: false},
	}
	for _, tt := range tests {
		src := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(tt.code)
			_, _ = fmt.Fprintf(w, `{"error":{"code":%d,"message":"nope"}}`, tt.code)
		})
		_, err := src.Read(context.Background(), "WeekA", "A1")
		require.Error(t, err, "code %d", tt.code)
		require.Equal(t, tt.permanent, sheet.IsPermanent(err), "code %d: %v", tt.code, err)
	}
}

func TestQuoteSheet(t *testing.T) {
	t.Parallel()

	require.Equal(t, "'It''s'", quoteSheet("It's"))
}
