package post

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Destination pairs a worksheet with the channel it is posted to every day.
// Source is the unique key; registering the same Source again replaces it.
type Destination struct {
	Source  string `json:"source"`
	Channel string `json:"channel"`
	At      string `json:"time"` // "HH:MM", 24h, scheduler-local
}

func (d Destination) Validate() error {
	if strings.TrimSpace(d.Source) == "" {
		return fmt.Errorf("destination: empty source")
	}
	if strings.TrimSpace(d.Channel) == "" {
		return fmt.Errorf("destination %q: empty channel", d.Source)
	}
	if _, _, err := ParseHHMM(d.At); err != nil {
		return fmt.Errorf("destination %q: %w", d.Source, err)
	}
	return nil
}

// ParseHHMM parses a 24h "HH:MM" wall clock time.
func ParseHHMM(s string) (hour, minute int, err error) {
	s = strings.TrimSpace(s)
	hh, mm, ok := strings.Cut(s, ":")
	if !ok || len(hh) == 0 || len(hh) > 2 || len(mm) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q (want HH:MM)", s)
	}
	h, err1 := strconv.Atoi(hh)
	m, err2 := strconv.Atoi(mm)
	if err1 != nil || err2 != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid time %q (want HH:MM)", s)
	}
	return h, m, nil
}

// Worksheet is one read of a source worksheet.
// Every row has exactly len(Headers) cells.
type Worksheet struct {
	Headers  []string
	Rows     [][]string
	Category string
	Day      string
}

// Message is the composed, ready-to-send post.
type Message struct {
	Caption   string
	ImagePath string
}

// Outcome is the terminal result of one run for one destination.
type Outcome struct {
	RunID       string        `json:"run_id"`
	Destination Destination   `json:"destination"`
	Success     bool          `json:"success"`
	Degraded    bool          `json:"degraded,omitempty"`
	Kind        Kind          `json:"kind,omitempty"`
	Err         string        `json:"error,omitempty"`
	MessageID   int           `json:"message_id,omitempty"`
	Attempts    int           `json:"attempts,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	Duration    time.Duration `json:"duration"`
}

// Result is a short label for logs and metrics.
func (o Outcome) Result() string {
	switch {
	case o.Success && o.Degraded:
		return "degraded"
	case o.Success:
		return "success"
	default:
		return "failed"
	}
}
