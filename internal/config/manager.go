package config

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "sheetcast/pkg/logx"
)

const (
	reloadDebounce  = 250 * time.Millisecond
	validateTimeout = 5 * time.Second
	watchBackoffMin = 250 * time.Millisecond
	watchBackoffMax = 5 * time.Second
)

// Manager owns the current config and publishes validated changes to subscribers.
//
// A change reaches subscribers only after it parses, passes Validate and the
// optional validator hook. Rejected files leave the current config in place.
type Manager struct {
	path   string
	getenv func(string) string
	log    logx.Logger
	check  func(ctx context.Context, cfg *Config) error

	mu   sync.RWMutex
	cur  *Config
	hash uint64 // of the committed config, after env overrides

	// serializes Reload between the watcher and SIGHUP
	reloadMu sync.Mutex

	subsMu sync.Mutex
	subs   []chan *Config
}

func NewManager(path string) *Manager {
	return &Manager{path: path, getenv: os.Getenv}
}

func (m *Manager) Path() string { return m.path }

// SetEnv replaces the environment lookup used for secret overrides.
func (m *Manager) SetEnv(getenv func(string) string) { m.getenv = getenv }

func (m *Manager) SetLogger(log logx.Logger) { m.log = log }

// SetValidator installs a hook that can reject a reload the running app cannot apply.
func (m *Manager) SetValidator(fn func(ctx context.Context, cfg *Config) error) { m.check = fn }

// Parse reads and validates the file without committing it.
func (m *Manager) Parse() (*Config, error) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return nil, err
	}
	cfg, err := decode(m.path, data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", m.path, err)
	}
	ApplyEnv(cfg, m.getenv)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", m.path, err)
	}
	return cfg, nil
}

// decode parses json, yaml or toml (by extension) strictly: unknown fields and
// trailing data are errors.
func decode(path string, data []byte) (*Config, error) {
	jb, _, err := coerceToJSONBytes(path, data)
	if err != nil {
		return nil, err
	}
	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return nil, errors.New("trailing data after config document")
		}
		return nil, err
	}
	return &cfg, nil
}

// Load parses and commits the file. Used once at startup.
func (m *Manager) Load() (*Config, error) {
	cfg, err := m.Parse()
	if err != nil {
		return nil, err
	}
	m.commit(cfg, hashConfig(cfg))
	return cfg, nil
}

func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cur
}

func (m *Manager) commit(cfg *Config, h uint64) {
	m.mu.Lock()
	m.cur = cfg
	m.hash = h
	m.mu.Unlock()
}

func hashConfig(cfg *Config) uint64 {
	b, err := json.Marshal(cfg)
	if err != nil {
		return 0
	}
	return hashBytes(b)
}

// Reload re-reads the file and publishes it when it differs from the committed
// config. It reports whether a new config was published.
func (m *Manager) Reload(ctx context.Context) (bool, error) {
	m.reloadMu.Lock()
	defer m.reloadMu.Unlock()

	cfg, err := m.Parse()
	if err != nil {
		return false, err
	}
	h := hashConfig(cfg)
	m.mu.RLock()
	same := h != 0 && h == m.hash
	m.mu.RUnlock()
	if same {
		return false, nil
	}
	if m.check != nil {
		vctx, cancel := context.WithTimeout(ctx, validateTimeout)
		err := m.check(vctx, cfg)
		cancel()
		if err != nil {
			return false, fmt.Errorf("config rejected: %w", err)
		}
	}
	m.commit(cfg, h)
	m.publish(cfg)
	m.log.Debug("config published", logx.String("path", m.path), logx.String("hash", fmt.Sprintf("%x", h)))
	return true, nil
}

// Subscribe returns a channel that receives every published config.
// Slow subscribers lose older configs, never the latest.
func (m *Manager) Subscribe(buffer int) chan *Config {
	ch := make(chan *Config, max(1, buffer))
	m.subsMu.Lock()
	m.subs = append(m.subs, ch)
	m.subsMu.Unlock()
	return ch
}

func (m *Manager) Unsubscribe(ch chan *Config) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for i, s := range m.subs {
		if s == ch {
			m.subs = append(m.subs[:i], m.subs[i+1:]...)
			close(ch)
			return
		}
	}
}

func (m *Manager) publish(cfg *Config) {
	// held while sending so Unsubscribe never closes a channel mid-send
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for _, ch := range m.subs {
		for range 2 {
			select {
			case ch <- cfg:
			default:
				select {
				case <-ch:
				default:
				}
				continue
			}
			break
		}
	}
}

// Watch reloads the config whenever its file changes, until ctx is done.
// The parent directory is watched so editors that replace the file are seen.
// A broken watcher is recreated with jittered backoff.
func (m *Manager) Watch(ctx context.Context) error {
	dir := filepath.Dir(m.path)
	file := filepath.Base(m.path)

	bo := watchBackoff{next: watchBackoffMin}
	debounce := time.NewTimer(time.Hour)
	debounce.Stop()
	defer debounce.Stop()

	for ctx.Err() == nil {
		w, err := openWatcher(dir)
		if err != nil {
			m.log.Warn("config watch failed", logx.String("dir", dir), logx.Err(err))
			if !bo.sleep(ctx) {
				return nil
			}
			continue
		}
		bo.reset()
		m.log.Debug("config watcher started", logx.String("dir", dir), logx.String("file", file))

		broken := m.watchLoop(ctx, w, file, debounce)
		_ = w.Close()
		if !broken {
			return nil
		}
		m.log.Warn("config watcher stopped; restarting", logx.String("dir", dir))
		if !bo.sleep(ctx) {
			return nil
		}
	}
	return nil
}

func openWatcher(dir string) (*fsnotify.Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil, err
	}
	return w, nil
}

// watchLoop returns true when the watcher broke and should be recreated.
func (m *Manager) watchLoop(ctx context.Context, w *fsnotify.Watcher, file string, debounce *time.Timer) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case ev, ok := <-w.Events:
			if !ok {
				return true
			}
			if strings.EqualFold(filepath.Base(ev.Name), file) && ev.Op != fsnotify.Chmod {
				debounce.Reset(reloadDebounce)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return true
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				// events were lost; reload once to catch up
				debounce.Reset(reloadDebounce)
				continue
			}
			m.log.Warn("config watch error", logx.Err(err))
		case <-debounce.C:
			changed, err := m.Reload(ctx)
			switch {
			case err != nil:
				m.log.Warn("config reload skipped", logx.String("path", m.path), logx.Err(err))
			case !changed:
				m.log.Debug("config unchanged", logx.String("path", m.path))
			}
		}
	}
}

type watchBackoff struct{ next time.Duration }

func (b *watchBackoff) reset() { b.next = watchBackoffMin }

// sleep waits the current backoff plus up to 50% jitter; false when ctx ended first.
func (b *watchBackoff) sleep(ctx context.Context) bool {
	wait := b.next + rand.N(b.next/2+1)
	b.next = min(2*b.next, watchBackoffMax)
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
