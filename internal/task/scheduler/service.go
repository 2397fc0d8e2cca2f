package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"sheetcast/internal/eventbus"
	"sheetcast/internal/observability/metrics"
	"sheetcast/internal/post"
	rtsup "sheetcast/internal/runtime/supervisor"
	logx "sheetcast/pkg/logx"
)

const (
	defaultTick  = time.Second
	defaultGrace = 30 * time.Second
)

type Option func(*Service)

// WithClock replaces time.Now for due checks.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// Service is the scheduler runtime.
type Service struct {
	cfg     Config
	loc     *time.Location
	run     Runner
	log     logx.Logger
	bus     eventbus.Bus
	metrics *metrics.Metrics
	now     func() time.Time

	// latest registry snapshot not yet applied by the loop
	reload chan []post.Destination

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	loopDone chan struct{}
	runs     *rtsup.Supervisor

	dispatched atomic.Uint64
	snap       atomic.Pointer[Snapshot]
}

// New validates the timezone and returns a stopped scheduler.
func New(cfg Config, run Runner, log logx.Logger, bus eventbus.Bus, opts ...Option) (*Service, error) {
	if run == nil {
		return nil, errors.New("scheduler: nil runner")
	}
	loc, err := LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, err
	}
	if cfg.Tick <= 0 {
		cfg.Tick = defaultTick
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = defaultGrace
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop{}
	}
	s := &Service{
		cfg:    cfg,
		loc:    loc,
		run:    run,
		log:    log,
		bus:    bus,
		now:    time.Now,
		reload: make(chan []post.Destination, 1),
	}
	for _, o := range opts {
		o(s)
	}
	s.snap.Store(&Snapshot{Enabled: cfg.Enabled, Timezone: loc.String(), Tick: cfg.Tick})
	return s, nil
}

// LoadLocation resolves an IANA zone name; empty means the host zone.
func LoadLocation(tz string) (*time.Location, error) {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("scheduler timezone %q: %w", tz, err)
	}
	return loc, nil
}

func (s *Service) Enabled() bool { return s.cfg.Enabled }

// Reload hands a new destination set to the loop. It never blocks; if an
// earlier set is still pending it is replaced.
func (s *Service) Reload(dests []post.Destination) {
	cp := append([]post.Destination(nil), dests...)
	for {
		select {
		case s.reload <- cp:
			return
		default:
		}
		select {
		case <-s.reload:
		default:
		}
	}
}

// Start launches the tick loop. Calling it on a running or disabled
// scheduler does nothing.
func (s *Service) Start(ctx context.Context) error {
	if !s.cfg.Enabled {
		s.log.Info("scheduler disabled")
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	// Runs outlive the loop: stopping the loop must not cancel them.
	s.runs = rtsup.New(context.WithoutCancel(ctx), rtsup.WithLogger(s.log.With(logx.String("comp", "scheduler.runs"))))

	lctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.loopDone = make(chan struct{})
	s.running = true
	// readiness checks see a running scheduler as soon as Start returns
	s.publish(nil, true)

	go s.loop(lctx, s.runs, s.loopDone)

	s.log.Info("scheduler started",
		logx.String("tz", s.loc.String()),
		logx.Duration("tick", s.cfg.Tick),
		logx.Duration("grace", s.cfg.GracePeriod),
	)
	s.bus.Publish(eventbus.Event{Type: eventbus.SchedulerStarted, Data: s.loc.String()})
	return nil
}

func (s *Service) loop(ctx context.Context, runs *rtsup.Supervisor, done chan struct{}) {
	defer close(done)

	daily := NewDaily(s.loc)
	t := time.NewTicker(s.cfg.Tick)
	defer t.Stop()

	s.applyPending(daily)
	s.tick(ctx, daily, runs)
	for {
		select {
		case <-ctx.Done():
			return
		case dests := <-s.reload:
			s.apply(daily, dests)
		case <-t.C:
			s.tick(ctx, daily, runs)
		}
	}
}

func (s *Service) applyPending(d *Daily) {
	select {
	case dests := <-s.reload:
		s.apply(d, dests)
	default:
	}
}

func (s *Service) apply(d *Daily, dests []post.Destination) {
	for _, err := range d.Load(s.now(), dests) {
		s.log.Warn("destination skipped", logx.Err(err))
	}
	s.metrics.SetScheduled(d.Len())
	s.log.Info("destinations loaded", logx.Int("count", d.Len()))
	s.bus.Publish(eventbus.Event{Type: eventbus.SchedulerReload, Data: d.Len()})
	s.publish(d, true)
}

// tick dispatches due entries. select may pick a ready tick after Stop
// canceled ctx, so a canceled loop dispatches nothing.
func (s *Service) tick(ctx context.Context, d *Daily, runs *rtsup.Supervisor) {
	if ctx.Err() != nil {
		return
	}
	for _, dest := range d.Due(s.now()) {
		s.dispatch(runs, dest)
	}
	s.publish(d, true)
}

func (s *Service) dispatch(runs *rtsup.Supervisor, dest post.Destination) {
	s.dispatched.Add(1)
	s.log.Debug("destination due", logx.String("source", dest.Source), logx.String("at", dest.At))
	runs.Go0("run:"+dest.Source, func(ctx context.Context) {
		s.run.Run(ctx, dest)
	})
}

func (s *Service) publish(d *Daily, running bool) {
	snap := &Snapshot{
		Enabled:    s.cfg.Enabled,
		Running:    running,
		Timezone:   s.loc.String(),
		Tick:       s.cfg.Tick,
		Dispatched: s.dispatched.Load(),
		UpdatedAt:  s.now(),
	}
	if d != nil {
		snap.Entries = d.Entries()
	} else if prev := s.snap.Load(); prev != nil {
		snap.Entries = prev.Entries
	}
	s.snap.Store(snap)
}

// Stop ends the loop, then waits for in-flight runs up to the grace period
// (bounded by ctx). Runs still going after that are canceled and abandoned.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	cancel, done, runs := s.cancel, s.loopDone, s.runs
	s.mu.Unlock()

	start := time.Now()
	cancel()
	select {
	case <-done:
	case <-ctx.Done():
	}

	inFlight := runs.Counters().Active
	wctx, wcancel := context.WithTimeout(ctx, s.cfg.GracePeriod)
	defer wcancel()
	err := runs.Wait(wctx)
	if err != nil && (errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)) {
		left := runs.Counters().Active
		runs.Cancel()
		s.log.Warn("grace period elapsed; abandoning runs", logx.Int64("abandoned", left), logx.Duration("grace", s.cfg.GracePeriod))
	} else if err != nil {
		s.log.Warn("run supervisor reported error", logx.Err(err))
	}

	s.publish(nil, false)
	s.bus.Publish(eventbus.Event{Type: eventbus.SchedulerStopped})
	s.log.Info("scheduler stopped", logx.Int64("in_flight_at_stop", inFlight), logx.Duration("took", time.Since(start)))
	return nil
}

// RunNow executes one run synchronously, outside the daily bookkeeping.
func (s *Service) RunNow(ctx context.Context, dest post.Destination) post.Outcome {
	return s.run.Run(ctx, dest)
}

// Snapshot returns the latest published state. Safe from any goroutine.
func (s *Service) Snapshot() Snapshot {
	snap := *s.snap.Load()
	snap.Entries = append([]Entry(nil), snap.Entries...)
	s.mu.Lock()
	if s.runs != nil {
		snap.InFlight = s.runs.Counters().Active
	}
	s.mu.Unlock()
	return snap
}
