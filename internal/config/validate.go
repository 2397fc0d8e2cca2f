package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"sheetcast/internal/sheet"
)

const (
	SheetsDriverGoogle = "gsheets"
	SheetsDriverXLSX   = "xlsx"
)

// SheetsDriver returns the normalized source driver ("gsheets" when omitted).
func (c SheetsConfig) SheetsDriver() string {
	d := strings.ToLower(strings.TrimSpace(c.Driver))
	if d == "" {
		return SheetsDriverGoogle
	}
	return d
}

// SheetLayout merges the configured layout over the built-in one.
func (c SheetsConfig) SheetLayout() sheet.Layout {
	l := sheet.DefaultLayout()
	if s := strings.TrimSpace(c.Layout.HeaderRange); s != "" {
		l.HeaderRange = s
	}
	if s := strings.TrimSpace(c.Layout.DataRange); s != "" {
		l.DataRange = s
	}
	if s := strings.TrimSpace(c.Layout.CategoryCell); s != "" {
		l.CategoryCell = s
	}
	if s := strings.TrimSpace(c.Layout.DayCell); s != "" {
		l.DayCell = s
	}
	if c.Layout.MaxRows > 0 {
		l.MaxRows = c.Layout.MaxRows
	}
	return l
}

// SheetRetry resolves the retry block over the built-in policy.
func (c SheetsConfig) SheetRetry() (sheet.Retry, error) {
	r := sheet.DefaultRetry()
	if c.Retry.MaxAttempts < 0 {
		return r, fmt.Errorf("sheets.retry.max_attempts: must be >= 0")
	}
	if c.Retry.MaxAttempts > 0 {
		r.MaxAttempts = c.Retry.MaxAttempts
	}
	var err error
	if r.BaseDelay, err = ParseDurationOrDefault("sheets.retry.base_delay", c.Retry.BaseDelay, r.BaseDelay); err != nil {
		return r, err
	}
	if r.MaxDelay, err = ParseDurationOrDefault("sheets.retry.max_delay", c.Retry.MaxDelay, r.MaxDelay); err != nil {
		return r, err
	}
	if r.MaxDelay < r.BaseDelay {
		return r, fmt.Errorf("sheets.retry.max_delay must be >= base_delay")
	}
	return r, nil
}

// Location loads the scheduler timezone (Local when omitted).
func (c SchedulerConfig) Location() (*time.Location, error) {
	tz := strings.TrimSpace(c.Timezone)
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("scheduler.timezone: %w", err)
	}
	return loc, nil
}

// Validate checks everything that can be checked without touching the network.
// Secrets are not required here; commands that talk to Telegram check the token.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	dur := func(path, raw string) {
		_, err := ParseDurationField(path, raw)
		add(err)
	}

	dur("telegram.timeout", c.Telegram.Timeout)

	switch c.Sheets.SheetsDriver() {
	case SheetsDriverGoogle:
	case SheetsDriverXLSX:
		if strings.TrimSpace(c.Sheets.WorkbookPath) == "" {
			add(errors.New("sheets.workbook_path: required for the xlsx driver"))
		}
	default:
		add(fmt.Errorf("sheets.driver: unknown driver %q", c.Sheets.Driver))
	}
	dur("sheets.request_timeout", c.Sheets.RequestTimeout)
	if _, err := c.Sheets.SheetLayout().Normalize(); err != nil {
		add(fmt.Errorf("sheets.layout: %w", err))
	}
	_, err := c.Sheets.SheetRetry()
	add(err)

	if strings.TrimSpace(c.Assets.Root) == "" {
		add(errors.New("assets.root: required"))
	}

	_, err = c.Scheduler.Location()
	add(err)
	dur("scheduler.tick", c.Scheduler.Tick)
	dur("scheduler.grace_period", c.Scheduler.GracePeriod)
	dur("scheduler.registry_refresh", c.Scheduler.RegistryRefresh)
	dur("scheduler.run_timeout", c.Scheduler.RunTimeout)

	seen := make(map[string]struct{}, len(c.Destinations))
	for i, d := range c.Destinations {
		if err := d.Validate(); err != nil {
			add(fmt.Errorf("destinations[%d]: %w", i, err))
			continue
		}
		key := strings.TrimSpace(d.Source)
		if _, dup := seen[key]; dup {
			add(fmt.Errorf("destinations[%d]: duplicate source %q", i, key))
		}
		seen[key] = struct{}{}
	}

	if c.Storage != nil {
		switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
		case "", "none", "file", "sqlite", "sqlite3":
		default:
			add(fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
		}
		dur("storage.busy_timeout", c.Storage.BusyTimeout)
	}

	if c.Alerts.Enabled {
		if strings.TrimSpace(c.Telegram.GroupLog) == "" {
			add(errors.New("alerts: telegram.group_log is required"))
		}
		if c.Alerts.RatePerSec < 0 || c.Alerts.RetryMax < 0 {
			add(errors.New("alerts: rate_per_sec and retry_max must be >= 0"))
		}
		dur("alerts.dedup_window", c.Alerts.DedupWindow)
	}

	if c.Ops.Enabled {
		dur("ops.read_timeout", c.Ops.ReadTimeout)
		dur("ops.write_timeout", c.Ops.WriteTimeout)
		dur("ops.idle_timeout", c.Ops.IdleTimeout)
		if addr := strings.TrimSpace(c.Ops.Addr); addr != "" {
			if _, _, err := net.SplitHostPort(addr); err != nil {
				add(fmt.Errorf("ops.addr: %w", err))
			}
		}
	}

	return errors.Join(errs...)
}

// ParseDurationField parses an optional non-negative Go duration; empty is 0.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	case d < 0:
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with def standing in for empty or zero.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil || d > 0 {
		return d, err
	}
	return def, nil
}
