package caption

import (
	"strings"
	"testing"
)

func TestCompose(t *testing.T) {
	t.Parallel()

	sep := strings.Repeat("-", 30)
	tests := []struct {
		name    string
		headers []string
		rows    [][]string
		want    string
	}{
		{
			name:    "single row",
			headers: []string{"Subject", "Time", "Room", "Teacher"},
			rows:    [][]string{{"Math", "9:00", "101", "Smith"}},
			want:    "Subject: Math\nTime: 9:00\nRoom: 101\nTeacher: Smith",
		},
		{
			name:    "two rows",
			headers: []string{"A", "B"},
			rows:    [][]string{{"1", "2"}, {"3", "4"}},
			want:    "A: 1\nB: 2\n" + sep + "\nA: 3\nB: 4",
		},
		{
			name:    "short row",
			headers: []string{"A", "B"},
			rows:    [][]string{{"1"}},
			want:    "A: 1\nB: ",
		},
		{
			name:    "no rows",
			headers: []string{"A"},
			want:    "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Compose(tt.headers, tt.rows, sep); got != tt.want {
				t.Fatalf("Compose=%q want %q", got, tt.want)
			}
		})
	}
}

func TestComposeDeterministic(t *testing.T) {
	t.Parallel()

	headers := []string{"Subject", "Time"}
	rows := [][]string{{"Math", "9:00"}, {"Art", "10:00"}, {"PE", "11:00"}}
	first := Compose(headers, rows, Separator)
	for i := 0; i < 50; i++ {
		if got := Compose(headers, rows, Separator); got != first {
			t.Fatalf("iteration %d differs: %q vs %q", i, got, first)
		}
	}
	if strings.HasSuffix(first, Separator) {
		t.Fatal("caption must not end with a separator")
	}
	if strings.Count(first, Separator) != len(rows)-1 {
		t.Fatalf("expected %d separators", len(rows)-1)
	}
}
