package storage

import (
	"context"
	"errors"
	"time"

	"sheetcast/internal/post"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means 5s
}

// Store is the destination registry. Source is the unique key; Put replaces.
type Store interface {
	PutDestination(ctx context.Context, d post.Destination) error
	DeleteDestination(ctx context.Context, source string) (bool, error)
	ListDestinations(ctx context.Context) ([]post.Destination, error)
	Close() error
}
