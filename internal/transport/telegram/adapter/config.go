package adapter

import "time"

type Config struct {
	Token string
	// APIURL overrides the Bot API base URL (self-hosted bot API server).
	APIURL string
	// Timeout bounds each Bot API HTTP call. Photo uploads need headroom.
	Timeout time.Duration
}
