// Package pipeline runs one destination end to end:
// fetch the worksheet, compose the caption, resolve the image, publish.
package pipeline

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/oklog/ulid/v2"

	"sheetcast/internal/asset"
	"sheetcast/internal/caption"
	"sheetcast/internal/eventbus"
	"sheetcast/internal/observability/metrics"
	"sheetcast/internal/post"
	"sheetcast/pkg/logx"
)

type Fetcher interface {
	FetchWithAttempts(ctx context.Context, source string) (post.Worksheet, int, error)
}

type Publisher interface {
	Publish(ctx context.Context, dest post.Destination, msg post.Message) post.Outcome
}

type Config struct {
	AssetsRoot string
	Separator  string
	// RunTimeout bounds a whole run; 0 means unbounded.
	RunTimeout time.Duration
}

type Deps struct {
	Fetcher   Fetcher
	Publisher Publisher
	Bus       eventbus.Bus
	Metrics   *metrics.Metrics
	Logger    logx.Logger
}

// Runner executes runs. It is safe for concurrent use; runs share no state.
type Runner struct {
	cfg   Config
	fetch Fetcher
	pub   Publisher
	bus   eventbus.Bus
	m     *metrics.Metrics
	log   logx.Logger
}

func New(cfg Config, d Deps) *Runner {
	if cfg.Separator == "" {
		cfg.Separator = caption.Separator
	}
	bus := d.Bus
	if bus == nil {
		bus = eventbus.Nop{}
	}
	log := d.Logger
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Runner{cfg: cfg, fetch: d.Fetcher, pub: d.Publisher, bus: bus, m: d.Metrics, log: log}
}

// Run performs one run for dest and always returns an outcome.
// Failures never escape as panics or errors.
func (r *Runner) Run(ctx context.Context, dest post.Destination) (out post.Outcome) {
	runID := ulid.Make().String()
	started := time.Now()
	log := r.log.With(logx.String("run_id", runID), logx.String("source", dest.Source), logx.String("channel", dest.Channel))
	done := r.m.RunStarted()

	if r.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.RunTimeout)
		defer cancel()
	}

	r.bus.Publish(eventbus.Event{Type: eventbus.RunStarted, Data: dest})
	log.Info("run started")

	defer func() {
		if p := recover(); p != nil {
			log.Error("run panicked", logx.Any("panic", p), logx.String("stack", string(debug.Stack())))
			err := post.E(post.KindInternal, "run", dest.Source, fmt.Errorf("panic: %v", p))
			out = post.Outcome{Destination: dest, Kind: err.Kind, Err: err.Error()}
		}
		out.RunID = runID
		out.Destination = dest
		out.StartedAt = started
		out.Duration = time.Since(started)
		done(out)
		r.report(log, out)
	}()

	ws, attempts, err := r.fetch.FetchWithAttempts(ctx, dest.Source)
	if err != nil {
		kind := post.KindOf(err)
		if kind == "" {
			kind = post.KindInternal
		}
		return post.Outcome{Kind: kind, Err: err.Error(), Attempts: attempts}
	}

	msg := post.Message{
		Caption:   caption.Compose(ws.Headers, ws.Rows, r.cfg.Separator),
		ImagePath: asset.Resolve(r.cfg.AssetsRoot, ws.Category, ws.Day),
	}
	log.Debug("message composed",
		logx.Int("rows", len(ws.Rows)),
		logx.String("image", msg.ImagePath),
		logx.Int("attempts", attempts),
	)

	out = r.pub.Publish(ctx, dest, msg)
	out.Attempts = attempts
	return out
}

func (r *Runner) report(log logx.Logger, out post.Outcome) {
	fields := []logx.Field{
		logx.String("result", out.Result()),
		logx.Duration("duration", out.Duration),
		logx.Int("attempts", out.Attempts),
	}
	switch {
	case out.Success && !out.Degraded:
		log.Info("run succeeded", append(fields, logx.Int("message_id", out.MessageID))...)
		r.bus.Publish(eventbus.Event{Type: eventbus.RunSucceeded, Data: out})
	case out.Success:
		log.Warn("run degraded", append(fields, logx.String("kind", string(out.Kind)), logx.String("err", out.Err))...)
		r.bus.Publish(eventbus.Event{Type: eventbus.RunDegraded, Data: out})
	default:
		log.Error("run failed", append(fields, logx.String("kind", string(out.Kind)), logx.String("err", out.Err))...)
		r.bus.Publish(eventbus.Event{Type: eventbus.RunFailed, Data: out})
	}
}
