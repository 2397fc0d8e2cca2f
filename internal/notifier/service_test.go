package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"sheetcast/internal/eventbus"
	"sheetcast/internal/post"
	kit "sheetcast/internal/transport"
	logx "sheetcast/pkg/logx"

	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	mu    sync.Mutex
	fails int
	texts []string
	to    []kit.ChatTarget
}

func (f *fakeSender) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fails > 0 {
		f.fails--
		return kit.MessageRef{}, errors.New("telegram: 502")
	}
	f.texts = append(f.texts, text)
	f.to = append(f.to, to)
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(f.texts)}, nil
}

func (f *fakeSender) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

func failed(source string, kind post.Kind, msg string) eventbus.Event {
	return eventbus.Event{Type: eventbus.RunFailed, Data: post.Outcome{
		RunID:       "01J0000000000000000000000",
		Destination: post.Destination{Source: source, Channel: "@class", At: "08:00"},
		Kind:        kind,
		Err:         msg,
		Attempts:    5,
	}}
}

func waitEvent(t *testing.T, ch <-chan eventbus.Event, typ string) eventbus.Event {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case e := <-ch:
			if e.Type == typ {
				return e
			}
		case <-timeout:
			t.Fatalf("no %s event", typ)
		}
	}
}

func testConfig() Config {
	return Config{
		Enabled:     true,
		Target:      kit.ChatTarget{ChatID: -100123, ThreadID: 7},
		RatePerSec:  100,
		RetryMax:    2,
		RetryBase:   time.Millisecond,
		DedupWindow: time.Minute,
	}
}

func TestAlertsOnFailedRun(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()
	sender := &fakeSender{fails: 1}
	s := New(testConfig(), sender, logx.Nop(), bus)
	events, unsub := bus.Subscribe(16)
	defer unsub()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop(context.Background())

	bus.Publish(failed("WeekA", post.KindSourceUnavailable, "sheets: 503"))
	e := waitEvent(t, events, EventAlertSent)
	require.Equal(t, "WeekA", e.Data.(AlertEvent).Source)

	texts := sender.sent()
	require.Len(t, texts, 1)
	require.Contains(t, texts[0], "Post failed: WeekA -> @class")
	require.Contains(t, texts[0], "kind: SOURCE_UNAVAILABLE")
	require.Contains(t, texts[0], "error: sheets: 503")
	require.Equal(t, kit.ChatTarget{ChatID: -100123, ThreadID: 7}, sender.to[0])
	require.Len(t, s.Snapshot(), 1)
}

func TestAlertsDedupAndFilter(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()
	sender := &fakeSender{}
	s := New(testConfig(), sender, logx.Nop(), bus)
	events, unsub := bus.Subscribe(16)
	defer unsub()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop(context.Background())

	bus.Publish(failed("WeekA", post.KindAssetNotFound, "missing monday.png"))
	waitEvent(t, events, EventAlertSent)

	// Same failure again is suppressed; degraded runs are ignored by default.
	bus.Publish(failed("WeekA", post.KindAssetNotFound, "missing monday.png"))
	bus.Publish(eventbus.Event{Type: eventbus.RunDegraded, Data: post.Outcome{
		Destination: post.Destination{Source: "WeekA"}, Success: true, Degraded: true, Kind: post.KindPinFailed,
	}})
	bus.Publish(failed("WeekB", post.KindAssetNotFound, "missing monday.png"))
	e := waitEvent(t, events, EventAlertSent)
	require.Equal(t, "WeekB", e.Data.(AlertEvent).Source)
	require.Len(t, sender.sent(), 2)
}

func TestAlertsGiveUpAfterRetries(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()
	sender := &fakeSender{fails: 10}
	s := New(testConfig(), sender, logx.Nop(), bus)
	events, unsub := bus.Subscribe(16)
	defer unsub()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop(context.Background())

	bus.Publish(failed("WeekA", post.KindDeliveryFailed, "chat not found"))
	e := waitEvent(t, events, EventAlertFailed)
	require.Contains(t, e.Data.(AlertEvent).Error, "502")
	require.Empty(t, sender.sent())

	sender.mu.Lock()
	require.Equal(t, 7, sender.fails)
	sender.mu.Unlock()
}

func TestDisabledServiceDoesNotSubscribe(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Enabled = false
	s := New(cfg, &fakeSender{}, logx.Nop(), eventbus.New())
	s.Start(context.Background())
	require.False(t, s.Enabled())
	s.mu.Lock()
	require.Nil(t, s.sup)
	s.mu.Unlock()
	s.Stop(context.Background())
}

func TestDedupAllowExpiresAndCaps(t *testing.T) {
	t.Parallel()

	s := New(testConfig(), nil, logx.Nop(), nil)
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	require.True(t, s.dedupAllow("a", time.Minute, 2))
	require.False(t, s.dedupAllow("a", time.Minute, 2))
	require.True(t, s.dedupAllow("b", time.Minute, 2))
	require.True(t, s.dedupAllow("c", time.Minute, 2))
	require.Len(t, s.dedup, 2)

	now = now.Add(2 * time.Minute)
	require.True(t, s.dedupAllow("a", time.Minute, 2))
}

func TestRetryDelay(t *testing.T) {
	t.Parallel()

	cfg := Config{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second}
	require.Equal(t, 100*time.Millisecond, retryDelay(cfg, 1))
	require.Equal(t, 200*time.Millisecond, retryDelay(cfg, 2))
	require.Equal(t, 800*time.Millisecond, retryDelay(cfg, 4))
	require.Equal(t, time.Second, retryDelay(cfg, 5))
}
