package sheet

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"

	"sheetcast/internal/post"
	"sheetcast/pkg/logx"
)

// Retry bounds the fetch retry. Delays double from BaseDelay up to MaxDelay.
type Retry struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func DefaultRetry() Retry {
	return Retry{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: 10 * time.Second}
}

func (r Retry) normalize() Retry {
	def := DefaultRetry()
	if r.MaxAttempts <= 0 {
		r.MaxAttempts = def.MaxAttempts
	}
	if r.BaseDelay <= 0 {
		r.BaseDelay = def.BaseDelay
	}
	if r.MaxDelay <= 0 {
		r.MaxDelay = def.MaxDelay
	}
	if r.MaxDelay < r.BaseDelay {
		r.MaxDelay = r.BaseDelay
	}
	return r
}

type Options struct {
	Layout Layout
	Retry  Retry
	// RequestTimeout bounds each attempt; 0 means no per-attempt bound.
	RequestTimeout time.Duration
	Logger         logx.Logger
	// OnAttempt is called once per source read, before it starts.
	OnAttempt func(source string, attempt int)
}

// Fetcher reads worksheets from a Source with retry and validation.
type Fetcher struct {
	src    Source
	layout Layout
	width  int
	retry  Retry
	policy retrypolicy.RetryPolicy[[]Grid]
	opt    Options
	log    logx.Logger
}

func NewFetcher(src Source, opt Options) (*Fetcher, error) {
	if src == nil {
		return nil, errors.New("sheet: nil source")
	}
	layout, err := opt.Layout.Normalize()
	if err != nil {
		return nil, fmt.Errorf("sheet layout: %w", err)
	}
	log := opt.Logger
	if log.IsZero() {
		log = logx.Nop()
	}
	r := opt.Retry.normalize()

	f := &Fetcher{
		src:    src,
		layout: layout,
		width:  layout.Width(),
		retry:  r,
		opt:    opt,
		log:    log,
	}
	f.policy = retrypolicy.NewBuilder[[]Grid]().
		HandleIf(func(_ []Grid, err error) bool {
			return err != nil && !IsPermanent(err) && !errors.Is(err, context.Canceled)
		}).
		WithMaxAttempts(r.MaxAttempts).
		WithBackoff(r.BaseDelay, r.MaxDelay).
		ReturnLastFailure().
		Build()
	return f, nil
}

func (f *Fetcher) Layout() Layout { return f.layout }

// Fetch reads one worksheet snapshot.
func (f *Fetcher) Fetch(ctx context.Context, source string) (post.Worksheet, error) {
	ws, _, err := f.FetchWithAttempts(ctx, source)
	return ws, err
}

// FetchWithAttempts is Fetch that also reports how many source reads it made.
func (f *Fetcher) FetchWithAttempts(ctx context.Context, source string) (post.Worksheet, int, error) {
	var attempts atomic.Int32
	ranges := []string{f.layout.HeaderRange, f.layout.DataRange, f.layout.CategoryCell, f.layout.DayCell}

	grids, err := failsafe.With[[]Grid](f.policy).WithContext(ctx).Get(func() ([]Grid, error) {
		n := int(attempts.Add(1))
		if f.opt.OnAttempt != nil {
			f.opt.OnAttempt(source, n)
		}
		actx, cancel := ctx, context.CancelFunc(func() {})
		if f.opt.RequestTimeout > 0 {
			actx, cancel = context.WithTimeout(ctx, f.opt.RequestTimeout)
		}
		defer cancel()

		g, err := f.src.Read(actx, source, ranges...)
		if err != nil {
			f.log.Warn("sheet read failed",
				logx.String("source", source),
				logx.Int("attempt", n),
				logx.Int("max_attempts", f.retry.MaxAttempts),
				logx.Bool("permanent", IsPermanent(err)),
				logx.Err(err),
			)
		}
		return g, err
	})
	n := int(attempts.Load())
	if err != nil {
		if IsPermanent(err) {
			return post.Worksheet{}, n, post.E(post.KindMalformedSource, "fetch", source, err)
		}
		return post.Worksheet{}, n, post.E(post.KindSourceUnavailable, "fetch", source, err)
	}

	ws, err := f.build(grids)
	if err != nil {
		return post.Worksheet{}, n, post.E(post.KindMalformedSource, "validate", source, err)
	}
	return ws, n, nil
}

func (f *Fetcher) build(grids []Grid) (post.Worksheet, error) {
	if len(grids) != 4 {
		return post.Worksheet{}, fmt.Errorf("source returned %d ranges, want 4", len(grids))
	}
	header, data, cat, day := grids[0], grids[1], grids[2], grids[3]

	var headers []string
	if len(header) > 0 {
		headers = trimTrailingEmpty(header[0])
	}
	if len(headers) != f.width {
		return post.Worksheet{}, fmt.Errorf("header has %d columns, want %d", len(headers), f.width)
	}
	for i, h := range headers {
		if strings.TrimSpace(h) == "" {
			return post.Worksheet{}, fmt.Errorf("header column %d is empty", i+1)
		}
	}

	category := strings.TrimSpace(cat.Cell(0, 0))
	if category == "" {
		return post.Worksheet{}, fmt.Errorf("category cell %s is empty", f.layout.CategoryCell)
	}
	dayV := strings.TrimSpace(day.Cell(0, 0))
	if dayV == "" {
		return post.Worksheet{}, fmt.Errorf("day cell %s is empty", f.layout.DayCell)
	}

	rows := make([][]string, 0, len(data))
	for _, r := range data {
		if len(rows) >= f.layout.MaxRows {
			break
		}
		if blank(r) {
			continue
		}
		row := make([]string, f.width)
		copy(row, r)
		rows = append(rows, row)
	}

	return post.Worksheet{Headers: headers, Rows: rows, Category: category, Day: dayV}, nil
}

func trimTrailingEmpty(row []string) []string {
	n := len(row)
	for n > 0 && strings.TrimSpace(row[n-1]) == "" {
		n--
	}
	return append([]string(nil), row[:n]...)
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
