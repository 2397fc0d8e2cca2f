package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"sheetcast/internal/post"
	logx "sheetcast/pkg/logx"
)

// fileStore keeps the registry in two files:
//   - <prefix>.destinations.json        (snapshot)
//   - <prefix>.destinations.journal.jsonl (append-only put/delete records)
//
// The journal is compacted into the snapshot every compactEvery writes.
type fileStore struct {
	log logx.Logger

	mu           sync.Mutex
	snapshotPath string
	journalPath  string
	journal      *os.File
	writes       int
}

const compactEvery = 100

type journalRecord struct {
	Op   string           `json:"op"` // "put" | "del"
	Dest post.Destination `json:"dest"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	s := &fileStore{
		log:          log,
		snapshotPath: prefix + ".destinations.json",
		journalPath:  prefix + ".destinations.journal.jsonl",
	}
	jf, err := os.OpenFile(s.journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	s.journal = jf
	return s, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil
	}
	err := s.journal.Close()
	s.journal = nil
	return err
}

func (s *fileStore) PutDestination(ctx context.Context, d post.Destination) error {
	if err := d.Validate(); err != nil {
		return err
	}
	return s.append(journalRecord{Op: "put", Dest: d})
}

func (s *fileStore) DeleteDestination(ctx context.Context, source string) (bool, error) {
	s.mu.Lock()
	cur, err := s.loadLocked()
	s.mu.Unlock()
	if err != nil {
		return false, err
	}
	if _, ok := cur[source]; !ok {
		return false, nil
	}
	return true, s.append(journalRecord{Op: "del", Dest: post.Destination{Source: source}})
}

func (s *fileStore) ListDestinations(ctx context.Context) ([]post.Destination, error) {
	s.mu.Lock()
	cur, err := s.loadLocked()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	out := make([]post.Destination, 0, len(cur))
	for _, d := range cur {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out, nil
}

func (s *fileStore) append(r journalRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return errors.New("destination journal closed")
	}
	if err := json.NewEncoder(s.journal).Encode(r); err != nil {
		return err
	}
	s.writes++
	if s.writes%compactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("destination journal compact failed", logx.Err(err))
		}
	}
	return nil
}

// loadLocked rebuilds the registry from snapshot + journal.
func (s *fileStore) loadLocked() (map[string]post.Destination, error) {
	out := map[string]post.Destination{}
	if err := loadSnapshot(s.snapshotPath, out); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	if err := replayJournal(s.journalPath, out); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	return out, nil
}

func (s *fileStore) compactLocked() error {
	cur, err := s.loadLocked()
	if err != nil {
		return err
	}
	list := make([]post.Destination, 0, len(cur))
	for _, d := range cur {
		list = append(list, d)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Source < list[j].Source })

	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(list); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	_, err = s.journal.Seek(0, 2)
	return err
}

func loadSnapshot(path string, out map[string]post.Destination) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var list []post.Destination
	if err := json.Unmarshal(b, &list); err != nil {
		return err
	}
	for _, d := range list {
		out[d.Source] = d
	}
	return nil
}

func replayJournal(path string, out map[string]post.Destination) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r journalRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil || r.Dest.Source == "" {
			// Torn tail from a crash mid-write.
			continue
		}
		switch r.Op {
		case "put":
			out[r.Dest.Source] = r.Dest
		case "del":
			delete(out, r.Dest.Source)
		}
	}
	return sc.Err()
}
