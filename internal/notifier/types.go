package notifier

import (
	"time"

	kit "sheetcast/internal/transport"
)

// Config controls the alert pipeline.
type Config struct {
	Enabled bool
	// Target is the operator chat. ChatID 0 disables delivery.
	Target kit.ChatTarget
	// Degraded also alerts on runs that posted but could not pin.
	Degraded bool

	QueueSize       int
	RatePerSec      int
	RetryMax        int
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int
}

type HistoryItem struct {
	At   time.Time `json:"at"`
	Text string    `json:"text"`
}

// AlertEvent is emitted on the event bus after each alert attempt.
type AlertEvent struct {
	Source string    `json:"source"`
	Key    string    `json:"key"`
	At     time.Time `json:"at"`
	Error  string    `json:"error,omitempty"`
}

const (
	EventAlertSent   = "notifier.sent"
	EventAlertFailed = "notifier.failed"
)
