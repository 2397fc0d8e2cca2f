package app

import (
	"context"
	"sort"
	"strings"

	"sheetcast/internal/post"
	"sheetcast/internal/storage"
	logx "sheetcast/pkg/logx"
)

// MergeDestinations unions the config list with the stored registry.
// Source is the key; stored entries replace config entries with the same source.
// The result is sorted by source.
func MergeDestinations(static, stored []post.Destination) []post.Destination {
	by := make(map[string]post.Destination, len(static)+len(stored))
	for _, d := range static {
		by[strings.TrimSpace(d.Source)] = d
	}
	for _, d := range stored {
		by[strings.TrimSpace(d.Source)] = d
	}
	out := make([]post.Destination, 0, len(by))
	for _, d := range by {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out
}

// loadDestinations reads the registry. A store failure falls back to the config
// list so a broken database never unschedules config-managed destinations.
func loadDestinations(ctx context.Context, static []post.Destination, store storage.Store, log logx.Logger) ([]post.Destination, error) {
	if store == nil {
		return MergeDestinations(static, nil), nil
	}
	stored, err := store.ListDestinations(ctx)
	if err != nil {
		log.Warn("destination store unavailable; using config destinations only", logx.Err(err))
		return MergeDestinations(static, nil), err
	}
	return MergeDestinations(static, stored), nil
}
