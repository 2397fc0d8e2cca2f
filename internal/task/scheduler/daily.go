package scheduler

import (
	"fmt"
	"sort"
	"time"

	"github.com/robfig/cron/v3"

	"sheetcast/internal/post"
)

const dayLayout = "2006-01-02"

var dailyParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

type entry struct {
	dest      post.Destination
	sched     cron.Schedule
	hour, minute int
	next      time.Time
	lastFired string // day of the last fire in the scheduler location
}

// Daily fires each destination at most once per calendar day at its time of day.
// Not safe for concurrent use.
type Daily struct {
	loc     *time.Location
	entries map[string]*entry
}

func NewDaily(loc *time.Location) *Daily {
	if loc == nil {
		loc = time.Local
	}
	return &Daily{loc: loc, entries: map[string]*entry{}}
}

func (d *Daily) Location() *time.Location { return d.loc }

func (d *Daily) Len() int { return len(d.entries) }

// Load replaces the entry set. Entries are keyed by Source; a later duplicate
// wins. Unchanged entries keep their fire state, so reloading never causes a
// second fire on the same day. Invalid destinations are skipped and returned
// as errors.
func (d *Daily) Load(now time.Time, dests []post.Destination) []error {
	var errs []error
	next := make(map[string]*entry, len(dests))
	for _, dest := range dests {
		if err := dest.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		h, m, _ := post.ParseHHMM(dest.At)
		if old, ok := d.entries[dest.Source]; ok && sameTime(old.dest.At, dest.At) {
			old.dest = dest
			next[dest.Source] = old
			continue
		}

		sched, err := dailyParser.Parse(fmt.Sprintf("%d %d * * *", m, h))
		if err != nil {
			errs = append(errs, fmt.Errorf("destination %q: %w", dest.Source, err))
			continue
		}
		e := &entry{dest: dest, sched: sched, hour: h, minute: m}
		if old, ok := d.entries[dest.Source]; ok {
			e.lastFired = old.lastFired
		}
		// Arm for the next occurrence at or after now.
		e.next = d.nextAfter(e, now.In(d.loc).Add(-time.Second))
		next[dest.Source] = e
	}
	d.entries = next
	return errs
}

func sameTime(a, b string) bool {
	ah, am, err1 := post.ParseHHMM(a)
	bh, bm, err2 := post.ParseHHMM(b)
	return err1 == nil && err2 == nil && ah == bh && am == bm
}

// Due returns the destinations whose armed time has arrived, marks them
// fired for that day and re-arms them for their next occurrence after now.
// Missed days are not replayed.
func (d *Daily) Due(now time.Time) []post.Destination {
	now = now.In(d.loc)
	var due []post.Destination
	for _, e := range d.sorted() {
		if now.Before(e.next) {
			continue
		}
		day := e.next.In(d.loc).Format(dayLayout)
		if e.lastFired != day {
			e.lastFired = day
			due = append(due, e.dest)
		}
		e.next = d.nextAfter(e, now)
	}
	return due
}

// nextAfter returns the first occurrence of e strictly after from. On a
// spring-forward day whose time of day falls in the gap, the occurrence moves
// to the first instant after the gap; cron alone would skip that day.
func (d *Daily) nextAfter(e *entry, from time.Time) time.Time {
	n := e.sched.Next(from)
	from = from.In(d.loc)
	for day := from; ; day = day.AddDate(0, 0, 1) {
		want := time.Date(day.Year(), day.Month(), day.Day(), e.hour, e.minute, 0, 0, d.loc)
		if want.Hour() != e.hour || want.Minute() != e.minute {
			_, want = want.ZoneBounds()
		}
		if !want.Before(n) {
			return n
		}
		if want.After(from) {
			return want
		}
	}
}

func (d *Daily) sorted() []*entry {
	out := make([]*entry, 0, len(d.entries))
	for _, e := range d.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].dest.Source < out[j].dest.Source })
	return out
}

// Entries returns a copy of the schedule state ordered by source.
func (d *Daily) Entries() []Entry {
	es := d.sorted()
	out := make([]Entry, 0, len(es))
	for _, e := range es {
		out = append(out, Entry{
			Source:    e.dest.Source,
			Channel:   e.dest.Channel,
			At:        e.dest.At,
			Next:      e.next,
			LastFired: e.lastFired,
		})
	}
	return out
}
