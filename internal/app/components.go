package app

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"sheetcast/internal/config"
	"sheetcast/internal/notifier"
	"sheetcast/internal/observability/opsserver"
	"sheetcast/internal/pipeline"
	"sheetcast/internal/sheet"
	"sheetcast/internal/sheet/gsheets"
	"sheetcast/internal/sheet/xlsx"
	"sheetcast/internal/storage"
	"sheetcast/internal/task/scheduler"
	kit "sheetcast/internal/transport"
	telegram "sheetcast/internal/transport/telegram/adapter"
	logx "sheetcast/pkg/logx"
)

const (
	defaultRequestTimeout  = 20 * time.Second
	defaultRegistryRefresh = time.Minute
	defaultRunTimeout      = 5 * time.Minute
)

// groupLogChat parses telegram.group_log; 0 when unset or not numeric.
func groupLogChat(cfg *config.Config) int64 {
	if s := strings.TrimSpace(cfg.Telegram.GroupLog); s != "" {
		if id, err := strconv.ParseInt(s, 10, 64); err == nil {
			return id
		}
	}
	return 0
}

func mapLogConfig(cfg *config.Config) logx.Config {
	chatID := groupLogChat(cfg)
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ChatID:     chatID,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func mapAlertsConfig(cfg *config.Config) (notifier.Config, error) {
	ac := cfg.Alerts
	dedup, err := config.ParseDurationOrDefault("alerts.dedup_window", ac.DedupWindow, 10*time.Minute)
	if err != nil {
		return notifier.Config{}, err
	}
	retryMax := ac.RetryMax
	if retryMax == 0 {
		retryMax = 3
	}
	return notifier.Config{
		Enabled:     ac.Enabled,
		Target:      kit.ChatTarget{ChatID: groupLogChat(cfg), ThreadID: ac.ThreadID},
		Degraded:    ac.Degraded,
		RatePerSec:  ac.RatePerSec,
		RetryMax:    retryMax,
		DedupWindow: dedup,
	}, nil
}

func mapTelegramConfig(cfg *config.Config) (telegram.Config, error) {
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return telegram.Config{}, fmt.Errorf("telegram.token is required (or set %s)", config.EnvTelegramToken)
	}
	timeout, err := config.ParseDurationOrDefault("telegram.timeout", cfg.Telegram.Timeout, 60*time.Second)
	if err != nil {
		return telegram.Config{}, err
	}
	return telegram.Config{
		Token:   cfg.Telegram.Token,
		APIURL:  cfg.Telegram.APIURL,
		Timeout: timeout,
	}, nil
}

// newSource opens the configured tabular source.
func newSource(ctx context.Context, cfg *config.Config) (sheet.Source, error) {
	sc := cfg.Sheets
	switch sc.SheetsDriver() {
	case config.SheetsDriverXLSX:
		return xlsx.New(sc.WorkbookPath)
	case config.SheetsDriverGoogle:
		if strings.TrimSpace(sc.SpreadsheetKey) == "" {
			return nil, fmt.Errorf("sheets.spreadsheet_key is required (or set %s)", config.EnvSheetsKey)
		}
		if strings.TrimSpace(sc.CredentialsFile) == "" {
			return nil, fmt.Errorf("sheets.credentials_file is required (or set %s)", config.EnvSheetsCredentials)
		}
		return gsheets.New(ctx, gsheets.Config{
			SpreadsheetKey:  sc.SpreadsheetKey,
			CredentialsFile: sc.CredentialsFile,
		})
	default:
		return nil, fmt.Errorf("unknown sheets.driver: %s", sc.Driver)
	}
}

func mapFetcherOptions(cfg *config.Config) (sheet.Options, error) {
	retry, err := cfg.Sheets.SheetRetry()
	if err != nil {
		return sheet.Options{}, err
	}
	timeout, err := config.ParseDurationOrDefault("sheets.request_timeout", cfg.Sheets.RequestTimeout, defaultRequestTimeout)
	if err != nil {
		return sheet.Options{}, err
	}
	return sheet.Options{
		Layout:         cfg.Sheets.SheetLayout(),
		Retry:          retry,
		RequestTimeout: timeout,
	}, nil
}

func mapPipelineConfig(cfg *config.Config) (pipeline.Config, error) {
	runTimeout := defaultRunTimeout
	if raw := strings.TrimSpace(cfg.Scheduler.RunTimeout); raw != "" {
		// an explicit "0s" disables the bound
		d, err := config.ParseDurationField("scheduler.run_timeout", raw)
		if err != nil {
			return pipeline.Config{}, err
		}
		runTimeout = d
	}
	pc := pipeline.Config{
		AssetsRoot: strings.TrimSpace(cfg.Assets.Root),
		RunTimeout: runTimeout,
	}
	if cfg.Caption.Separator != nil {
		pc.Separator = *cfg.Caption.Separator
	}
	return pc, nil
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, time.Duration, error) {
	sc := cfg.Scheduler
	tick, err := config.ParseDurationField("scheduler.tick", sc.Tick)
	if err != nil {
		return scheduler.Config{}, 0, err
	}
	grace, err := config.ParseDurationField("scheduler.grace_period", sc.GracePeriod)
	if err != nil {
		return scheduler.Config{}, 0, err
	}
	refresh, err := config.ParseDurationOrDefault("scheduler.registry_refresh", sc.RegistryRefresh, defaultRegistryRefresh)
	if err != nil {
		return scheduler.Config{}, 0, err
	}
	return scheduler.Config{
		Enabled:     sc.Enabled,
		Timezone:    sc.Timezone,
		Tick:        tick,
		GracePeriod: grace,
	}, refresh, nil
}

// mapStorageConfig resolves the optional registry store; ok is false when disabled.
func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "file":
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, 5*time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapOpsConfig(cfg *config.Config) (opsserver.Config, error) {
	oc := cfg.Ops
	read, err := config.ParseDurationOrDefault("ops.read_timeout", oc.ReadTimeout, 10*time.Second)
	if err != nil {
		return opsserver.Config{}, err
	}
	// pprof /profile can take 30s+; leave writes unbounded unless configured.
	write, err := config.ParseDurationField("ops.write_timeout", oc.WriteTimeout)
	if err != nil {
		return opsserver.Config{}, err
	}
	idle, err := config.ParseDurationOrDefault("ops.idle_timeout", oc.IdleTimeout, 60*time.Second)
	if err != nil {
		return opsserver.Config{}, err
	}
	return opsserver.Config{
		Enabled:       oc.Enabled,
		Addr:          strings.TrimSpace(oc.Addr),
		Token:         strings.TrimSpace(oc.Token),
		AllowInsecure: oc.AllowInsecure,
		Pprof:         oc.Pprof,
		ReadTimeout:   read,
		WriteTimeout:  write,
		IdleTimeout:   idle,
	}, nil
}

// OpenStore opens the destination registry store for CLI commands.
// It fails when storage is not configured.
func OpenStore(cfg *config.Config, log logx.Logger) (storage.Store, error) {
	sc, ok, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: configure storage.driver to manage destinations", storage.ErrDisabled)
	}
	return storage.Open(sc, log)
}
