package config

import (
	"sheetcast/internal/post"
)

type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Sheets    SheetsConfig    `json:"sheets"`
	Assets    AssetsConfig    `json:"assets"`
	Caption   CaptionConfig   `json:"caption,omitempty"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Logging   LoggingConfig   `json:"logging"`
	Alerts    AlertsConfig    `json:"alerts,omitempty"`
	Ops       OpsConfig       `json:"ops,omitempty"`

	// Storage is the optional persistent destination registry (CLI-managed).
	// Destinations listed here are merged with it; stored entries win on conflict.
	Storage      *StorageConfig     `json:"storage,omitempty"`
	Destinations []post.Destination `json:"destinations,omitempty"`
}

type TelegramConfig struct {
	Token    string `json:"token"`
	GroupLog string `json:"group_log,omitempty"`
	// APIURL overrides the Bot API endpoint (self-hosted bot API servers, tests).
	APIURL string `json:"api_url,omitempty"`
	// Timeout is a Go duration string bounding a single Bot API call. Default "60s".
	Timeout string `json:"timeout,omitempty"`
}

// SheetsConfig selects and configures the tabular source.
//
// Driver is "gsheets" (default) or "xlsx". For gsheets, the spreadsheet key and the
// service account credentials file are required. For xlsx, workbook_path points to a
// local workbook whose sheets play the role of worksheets.
type SheetsConfig struct {
	Driver          string `json:"driver,omitempty"`
	SpreadsheetKey  string `json:"spreadsheet_key,omitempty"`
	CredentialsFile string `json:"credentials_file,omitempty"`
	WorkbookPath    string `json:"workbook_path,omitempty"`

	// RequestTimeout bounds a single read attempt. Default "20s".
	RequestTimeout string `json:"request_timeout,omitempty"`

	Layout LayoutConfig `json:"layout,omitempty"`
	Retry  RetryConfig  `json:"retry,omitempty"`
}

// LayoutConfig describes where the headers, data rows and metadata cells live.
// Empty fields keep the built-in layout (C1:F1, C2:F11, A2, B2, 10 rows).
type LayoutConfig struct {
	HeaderRange  string `json:"header_range,omitempty"`
	DataRange    string `json:"data_range,omitempty"`
	CategoryCell string `json:"category_cell,omitempty"`
	DayCell      string `json:"day_cell,omitempty"`
	MaxRows      int    `json:"max_rows,omitempty"`
}

type RetryConfig struct {
	MaxAttempts int    `json:"max_attempts,omitempty"`
	BaseDelay   string `json:"base_delay,omitempty"`
	MaxDelay    string `json:"max_delay,omitempty"`
}

type AssetsConfig struct {
	Root string `json:"root"`
}

type CaptionConfig struct {
	// Separator is placed between row blocks. Default is 30 dashes.
	Separator *string `json:"separator,omitempty"`
}

// SchedulerConfig controls the daily trigger loop.
//
// Timezone and tick are read at startup only; changing them requires a restart.
type SchedulerConfig struct {
	Enabled  bool   `json:"enabled"`
	Timezone string `json:"timezone,omitempty"`

	Tick            string `json:"tick,omitempty"`             // default "1s"
	GracePeriod     string `json:"grace_period,omitempty"`     // default "30s"
	RegistryRefresh string `json:"registry_refresh,omitempty"` // default "1m"
	// RunTimeout bounds one post run (fetch, read, send, pin). "0s" disables it.
	RunTimeout string `json:"run_timeout,omitempty"`
}

// StorageConfig controls the optional persistent destination registry.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./sheetcast.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// AlertsConfig sends a message to the telegram.group_log chat when a run fails.
type AlertsConfig struct {
	Enabled  bool `json:"enabled"`
	ThreadID int  `json:"thread_id,omitempty"`
	// Degraded also alerts on runs that posted but could not pin.
	Degraded    bool   `json:"degraded,omitempty"`
	RatePerSec  int    `json:"rate_per_sec,omitempty"`  // default 1
	RetryMax    int    `json:"retry_max,omitempty"`     // default 3
	DedupWindow string `json:"dedup_window,omitempty"` // default "10m"; "0s" disables
}

// OpsConfig controls the optional operations HTTP server (health, status, metrics, pprof).
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:9477").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type OpsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default: "127.0.0.1:9477"
	Token         string `json:"token,omitempty"` // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}
