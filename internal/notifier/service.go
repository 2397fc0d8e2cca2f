package notifier

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"sheetcast/internal/eventbus"
	"sheetcast/internal/post"
	rtsup "sheetcast/internal/runtime/supervisor"
	kit "sheetcast/internal/transport"
	logx "sheetcast/pkg/logx"
)

const historySize = 50

// Service is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log    logx.Logger
	sender kit.TextSender
	bus    eventbus.Bus

	cfg     Config
	limiter *rate.Limiter
	sup     *rtsup.Supervisor

	// key -> suppress until
	dmu   sync.Mutex
	dedup map[string]time.Time

	hmu     sync.Mutex
	history []HistoryItem

	now func() time.Time
}

func New(cfg Config, sender kit.TextSender, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop{}
	}
	s := &Service{
		sender: sender,
		log:    log,
		bus:    bus,
		dedup:  map[string]time.Time{},
		now:    time.Now,
	}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply swaps the config of a running service. Enabling or disabling
// is the caller's job (Start/Stop).
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	if cfg.DedupWindow < 0 {
		cfg.DedupWindow = 0
	}
	if cfg.DedupMaxEntries <= 0 {
		cfg.DedupMaxEntries = 500
	}
	s.cfg = cfg
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Start subscribes to run events. It is idempotent and a no-op when disabled.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil || !s.cfg.Enabled {
		return
	}
	events, unsub := s.bus.Subscribe(s.cfg.QueueSize)
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log), rtsup.WithCancelOnError(false))
	s.sup.Go0("alerts", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				s.handle(c, e)
			}
		}
	})
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	sup := s.sup
	s.sup = nil
	s.mu.Unlock()
	if sup == nil {
		return
	}
	sup.Cancel()
	_ = sup.Wait(ctx)
}

func (s *Service) handle(ctx context.Context, e eventbus.Event) {
	out, ok := e.Data.(post.Outcome)
	if !ok {
		return
	}
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	switch e.Type {
	case eventbus.RunFailed:
	case eventbus.RunDegraded:
		if !cfg.Degraded {
			return
		}
	default:
		return
	}
	if cfg.Target.ChatID == 0 || s.sender == nil {
		return
	}
	key := dedupKey(out)
	if cfg.DedupWindow > 0 && !s.dedupAllow(key, cfg.DedupWindow, cfg.DedupMaxEntries) {
		s.log.Debug("alert suppressed (duplicate)", logx.String("source", out.Destination.Source))
		return
	}
	s.sendWithRetry(ctx, cfg, out.Destination.Source, key, formatAlert(out))
}

func formatAlert(out post.Outcome) string {
	var b strings.Builder
	if out.Success {
		b.WriteString("Posted without pin: ")
	} else {
		b.WriteString("Post failed: ")
	}
	b.WriteString(out.Destination.Source)
	b.WriteString(" -> ")
	b.WriteString(out.Destination.Channel)
	b.WriteString("\nkind: ")
	b.WriteString(string(out.Kind))
	if out.Err != "" {
		b.WriteString("\nerror: ")
		b.WriteString(out.Err)
	}
	if out.Attempts > 0 {
		fmt.Fprintf(&b, "\nattempts: %d", out.Attempts)
	}
	if out.RunID != "" {
		b.WriteString("\nrun: ")
		b.WriteString(out.RunID)
	}
	return b.String()
}

func dedupKey(out post.Outcome) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(out.Destination.Source))
	_, _ = h.Write([]byte("|"))
	_, _ = h.Write([]byte(out.Kind))
	_, _ = h.Write([]byte("|"))
	_, _ = h.Write([]byte(out.Err))
	return fmt.Sprintf("%x", h.Sum64())
}

func (s *Service) sendWithRetry(ctx context.Context, cfg Config, source, key, text string) {
	s.mu.Lock()
	lim := s.limiter
	s.mu.Unlock()

	attempts := 1 + cfg.RetryMax
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := lim.Wait(ctx); err != nil {
			return
		}
		callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		_, err := s.sender.SendText(callCtx, cfg.Target, text, &kit.SendOptions{DisablePreview: true})
		cancel()
		if err == nil {
			s.appendHistory(text)
			s.bus.Publish(eventbus.Event{Type: EventAlertSent, Time: s.now(), Data: AlertEvent{Source: source, Key: key, At: s.now()}})
			return
		}
		lastErr = err
		s.log.Debug("alert send failed", logx.Err(err), logx.Int("attempt", attempt), logx.Int("max", attempts))
		if attempt == attempts {
			break
		}
		t := time.NewTimer(retryDelay(cfg, attempt))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return
		}
	}
	s.log.Warn("alert not delivered", logx.String("source", source), logx.Err(lastErr))
	s.bus.Publish(eventbus.Event{Type: EventAlertFailed, Time: s.now(), Data: AlertEvent{Source: source, Key: key, At: s.now(), Error: lastErr.Error()}})
}

func (s *Service) dedupAllow(key string, window time.Duration, maxEntries int) bool {
	now := s.now()
	s.dmu.Lock()
	defer s.dmu.Unlock()

	if until, ok := s.dedup[key]; ok && now.Before(until) {
		return false
	}
	s.dedup[key] = now.Add(window)

	for k, until := range s.dedup {
		if !now.Before(until) {
			delete(s.dedup, k)
		}
	}
	// Remove entries with earliest expiry until within cap.
	for len(s.dedup) > maxEntries {
		var (
			minKey string
			minT   time.Time
		)
		for k, t := range s.dedup {
			if minKey == "" || t.Before(minT) {
				minKey, minT = k, t
			}
		}
		delete(s.dedup, minKey)
	}
	return true
}

// retryDelay is the wait before attempt+1: base * 2^(attempt-1), capped.
func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cfg.RetryMaxDelay {
			return cfg.RetryMaxDelay
		}
	}
	return min(d, cfg.RetryMaxDelay)
}

// Snapshot returns recent delivered alerts, oldest first.
func (s *Service) Snapshot() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}

func (s *Service) appendHistory(text string) {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	s.history = append(s.history, HistoryItem{At: s.now(), Text: text})
	if len(s.history) > historySize {
		s.history = s.history[len(s.history)-historySize:]
	}
}
