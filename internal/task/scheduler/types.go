package scheduler

import (
	"context"
	"time"

	"sheetcast/internal/post"
)

type Config struct {
	Enabled  bool
	Timezone string
	// Tick is the due-check interval.
	Tick time.Duration
	// GracePeriod bounds how long Stop waits for in-flight runs.
	GracePeriod time.Duration
}

// Runner executes one run for a destination.
type Runner interface {
	Run(ctx context.Context, dest post.Destination) post.Outcome
}

type RunnerFunc func(ctx context.Context, dest post.Destination) post.Outcome

func (f RunnerFunc) Run(ctx context.Context, dest post.Destination) post.Outcome { return f(ctx, dest) }

// Entry is a read-only view of one scheduled destination.
type Entry struct {
	Source    string    `json:"source"`
	Channel   string    `json:"channel"`
	At        string    `json:"time"`
	Next      time.Time `json:"next"`
	LastFired string    `json:"last_fired,omitempty"`
}

type Snapshot struct {
	Enabled    bool          `json:"enabled"`
	Running    bool          `json:"running"`
	Timezone   string        `json:"timezone"`
	Tick       time.Duration `json:"tick"`
	InFlight   int64         `json:"in_flight"`
	Dispatched uint64        `json:"dispatched"`
	Entries    []Entry       `json:"entries"`
	UpdatedAt  time.Time     `json:"updated_at"`
}
