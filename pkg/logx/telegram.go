package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	kit "sheetcast/internal/transport"
)

const (
	telegramQueue    = 256
	telegramMaxText  = 3500
	telegramMaxValue = 600
	telegramTimeout  = 10 * time.Second
)

type telegramItem struct {
	to   kit.ChatTarget
	text string
}

// telegramSink is a zerolog.LevelWriter that hands lines to a background
// sender. Writes never block: lines over the rate or a full queue are dropped.
type telegramSink struct {
	mu       sync.Mutex
	sender   kit.TextSender
	target   kit.ChatTarget
	minLevel zerolog.Level
	limiter  *rate.Limiter

	queue  chan telegramItem
	start  sync.Once
	cancel context.CancelFunc
	done   chan struct{}
}

func newTelegramSink(sender kit.TextSender) *telegramSink {
	return &telegramSink{sender: sender, queue: make(chan telegramItem, telegramQueue)}
}

func (t *telegramSink) setSender(sender kit.TextSender) {
	t.mu.Lock()
	t.sender = sender
	t.mu.Unlock()
}

func (t *telegramSink) configure(cfg TelegramConfig) {
	rps := max(1, cfg.RatePerSec)
	t.mu.Lock()
	t.target = kit.ChatTarget{ChatID: cfg.ChatID, ThreadID: cfg.ThreadID}
	t.minLevel = ParseLevel(cfg.MinLevel, zerolog.WarnLevel)
	t.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	t.mu.Unlock()

	if cfg.Enabled {
		t.start.Do(func() {
			ctx, cancel := context.WithCancel(context.Background())
			t.mu.Lock()
			t.cancel = cancel
			t.done = make(chan struct{})
			t.mu.Unlock()
			go t.run(ctx)
		})
	}
}

func (t *telegramSink) close() {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.cancel = nil
	t.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

func (t *telegramSink) run(ctx context.Context) {
	t.mu.Lock()
	done := t.done
	t.mu.Unlock()
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			return
		case it := <-t.queue:
			t.mu.Lock()
			sender := t.sender
			t.mu.Unlock()
			if sender == nil {
				continue
			}
			sctx, cancel := context.WithTimeout(ctx, telegramTimeout)
			_, _ = sender.SendText(sctx, it.to, it.text, &kit.SendOptions{DisablePreview: true})
			cancel()
		}
	}
}

func (t *telegramSink) Write(p []byte) (int, error) {
	return t.WriteLevel(zerolog.InfoLevel, p)
}

func (t *telegramSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	t.mu.Lock()
	to, lim, minLevel := t.target, t.limiter, t.minLevel
	t.mu.Unlock()

	if to.ChatID == 0 || level < minLevel || lim == nil || !lim.Allow() {
		return len(p), nil
	}
	if text := telegramText(p); text != "" {
		select {
		case t.queue <- telegramItem{to: to, text: text}:
		default:
		}
	}
	return len(p), nil
}

// telegramText renders a JSON log line as "[LEVEL] message" followed by one
// "- key=value" line per field in key order.
func telegramText(p []byte) string {
	var m map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(p), &m); err != nil {
		return clip(strings.TrimSpace(string(p)), telegramMaxText)
	}

	var b strings.Builder
	if lvl, _ := m["level"].(string); lvl != "" {
		fmt.Fprintf(&b, "[%s] ", strings.ToUpper(lvl))
	}
	msg, _ := m["message"].(string)
	b.WriteString(msg)

	for _, k := range slices.Sorted(maps.Keys(m)) {
		switch k {
		case zerolog.TimestampFieldName, zerolog.LevelFieldName, zerolog.MessageFieldName:
			continue
		}
		fmt.Fprintf(&b, "\n- %s=%s", k, clip(fmt.Sprint(m[k]), telegramMaxValue))
	}
	return clip(b.String(), telegramMaxText)
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n < 10 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
