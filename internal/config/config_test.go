package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	_ "time/tzdata"

	"sheetcast/internal/post"

	"github.com/stretchr/testify/require"
)

const jsonConfig = `{
  "telegram": {"token": "file-token"},
  "sheets": {"driver": "xlsx", "workbook_path": "./schedule.xlsx", "retry": {"max_attempts": 3}},
  "assets": {"root": "./images"},
  "scheduler": {"enabled": true, "timezone": "Asia/Jakarta"},
  "logging": {"level": "info", "console": true},
  "destinations": [{"source": "WeekA", "channel": "@class_a", "time": "08:00"}]
}`

const yamlConfig = `
telegram:
  token: file-token
sheets:
  driver: xlsx
  workbook_path: ./schedule.xlsx
  retry:
    max_attempts: 3
assets:
  root: ./images
scheduler:
  enabled: true
  timezone: Asia/Jakarta
logging:
  level: info
  console: true
destinations:
  - source: WeekA
    channel: "@class_a"
    time: "08:00"
`

const tomlConfig = `
[telegram]
token = "file-token"

[sheets]
driver = "xlsx"
workbook_path = "./schedule.xlsx"

[sheets.retry]
max_attempts = 3

[assets]
root = "./images"

[scheduler]
enabled = true
timezone = "Asia/Jakarta"

[logging]
level = "info"
console = true

[[destinations]]
source = "WeekA"
channel = "@class_a"
time = "08:00"
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func noEnv(string) string { return "" }

func TestParseFormats(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		file string
		body string
	}{
		{name: "json", file: "config.json", body: jsonConfig},
		{name: "yaml", file: "config.yaml", body: yamlConfig},
		{name: "toml", file: "config.toml", body: tomlConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m := NewManager(writeFile(t, tt.file, tt.body))
			m.SetEnv(noEnv)
			cfg, err := m.Load()
			require.NoError(t, err)
			require.Equal(t, "file-token", cfg.Telegram.Token)
			require.Equal(t, SheetsDriverXLSX, cfg.Sheets.SheetsDriver())
			require.Equal(t, 3, cfg.Sheets.Retry.MaxAttempts)
			require.True(t, cfg.Scheduler.Enabled)
			require.Len(t, cfg.Destinations, 1)
			require.Equal(t, "WeekA", cfg.Destinations[0].Source)
			require.Equal(t, "@class_a", cfg.Destinations[0].Channel)
			require.Equal(t, "08:00", cfg.Destinations[0].At)
			require.Same(t, cfg, m.Get())
		})
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()

	body := strings.Replace(jsonConfig, `"assets"`, `"poll_timeout": "10s", "assets"`, 1)
	m := NewManager(writeFile(t, "config.json", body))
	m.SetEnv(noEnv)
	_, err := m.Parse()
	require.Error(t, err)
	require.Contains(t, err.Error(), "poll_timeout")
}

func TestParseRejectsTrailingData(t *testing.T) {
	t.Parallel()

	m := NewManager(writeFile(t, "config.json", jsonConfig+"{}"))
	m.SetEnv(noEnv)
	_, err := m.Parse()
	require.Error(t, err)
}

func TestParseAppliesEnvOverrides(t *testing.T) {
	t.Parallel()

	env := map[string]string{
		EnvTelegramToken:     "env-token",
		EnvSheetsKey:         "sheet-key",
		EnvSheetsCredentials: "/etc/sheetcast/sa.json",
	}
	m := NewManager(writeFile(t, "config.json", jsonConfig))
	m.SetEnv(func(k string) string { return env[k] })
	cfg, err := m.Parse()
	require.NoError(t, err)
	require.Equal(t, "env-token", cfg.Telegram.Token)
	require.Equal(t, "sheet-key", cfg.Sheets.SpreadsheetKey)
	require.Equal(t, "/etc/sheetcast/sa.json", cfg.Sheets.CredentialsFile)
}

func validConfig() *Config {
	return &Config{
		Telegram: TelegramConfig{Token: "t"},
		Sheets:   SheetsConfig{Driver: "xlsx", WorkbookPath: "w.xlsx"},
		Assets:   AssetsConfig{Root: "./images"},
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "ok", mutate: func(*Config) {}},
		{name: "unknown sheets driver", mutate: func(c *Config) { c.Sheets.Driver = "csv" }, wantErr: "sheets.driver"},
		{name: "xlsx without workbook", mutate: func(c *Config) { c.Sheets.WorkbookPath = "" }, wantErr: "sheets.workbook_path"},
		{name: "bad layout", mutate: func(c *Config) { c.Sheets.Layout.HeaderRange = "C1:F2" }, wantErr: "sheets.layout"},
		{name: "bad retry delay", mutate: func(c *Config) { c.Sheets.Retry.BaseDelay = "soon" }, wantErr: "sheets.retry.base_delay"},
		{name: "retry max below base", mutate: func(c *Config) {
			c.Sheets.Retry.BaseDelay = "5s"
			c.Sheets.Retry.MaxDelay = "1s"
		}, wantErr: "max_delay"},
		{name: "missing assets root", mutate: func(c *Config) { c.Assets.Root = " " }, wantErr: "assets.root"},
		{name: "bad timezone", mutate: func(c *Config) { c.Scheduler.Timezone = "Mars/Olympus" }, wantErr: "scheduler.timezone"},
		{name: "negative tick", mutate: func(c *Config) { c.Scheduler.Tick = "-1s" }, wantErr: "scheduler.tick"},
		{name: "bad destination time", mutate: func(c *Config) {
			c.Destinations = []post.Destination{{Source: "A", Channel: "@a", At: "25:00"}}
		}, wantErr: "destinations[0]"},
		{name: "duplicate destination", mutate: func(c *Config) {
			c.Destinations = []post.Destination{
				{Source: "A", Channel: "@a", At: "08:00"},
				{Source: "A", Channel: "@b", At: "09:00"},
			}
		}, wantErr: "duplicate source"},
		{name: "unknown storage driver", mutate: func(c *Config) { c.Storage = &StorageConfig{Driver: "redis"} }, wantErr: "storage.driver"},
		{name: "alerts without group log", mutate: func(c *Config) { c.Alerts.Enabled = true }, wantErr: "telegram.group_log"},
		{name: "alerts bad dedup window", mutate: func(c *Config) {
			c.Telegram.GroupLog = "-100"
			c.Alerts = AlertsConfig{Enabled: true, DedupWindow: "often"}
		}, wantErr: "alerts.dedup_window"},
		{name: "bad ops addr", mutate: func(c *Config) {
			c.Ops = OpsConfig{Enabled: true, Addr: "localhost"}
		}, wantErr: "ops.addr"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := validConfig()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSheetsResolvers(t *testing.T) {
	t.Parallel()

	var c SheetsConfig
	require.Equal(t, SheetsDriverGoogle, c.SheetsDriver())
	l := c.SheetLayout()
	require.Equal(t, "C1:F1", l.HeaderRange)
	require.Equal(t, 10, l.MaxRows)

	r, err := c.SheetRetry()
	require.NoError(t, err)
	require.Equal(t, 5, r.MaxAttempts)
	require.Equal(t, time.Second, r.BaseDelay)
	require.Equal(t, 10*time.Second, r.MaxDelay)

	c.Layout = LayoutConfig{HeaderRange: "B3:D3", DataRange: "B4:D8", MaxRows: 3}
	c.Retry = RetryConfig{MaxAttempts: 2, BaseDelay: "200ms", MaxDelay: "2s"}
	l = c.SheetLayout()
	require.Equal(t, "B3:D3", l.HeaderRange)
	require.Equal(t, "A2", l.CategoryCell)
	require.Equal(t, 3, l.MaxRows)
	r, err = c.SheetRetry()
	require.NoError(t, err)
	require.Equal(t, 2, r.MaxAttempts)
	require.Equal(t, 200*time.Millisecond, r.BaseDelay)
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()

	d, err := ParseDurationOrDefault("x", "", 3*time.Second)
	require.NoError(t, err)
	require.Equal(t, 3*time.Second, d)

	d, err = ParseDurationOrDefault("x", " 250ms ", time.Second)
	require.NoError(t, err)
	require.Equal(t, 250*time.Millisecond, d)

	_, err = ParseDurationOrDefault("x", "-1s", time.Second)
	require.Error(t, err)
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()

	oldCfg := validConfig()
	newCfg := validConfig()
	changed, _, restart := SummarizeConfigChange(oldCfg, newCfg)
	require.Empty(t, changed)
	require.Empty(t, restart)

	newCfg.Logging.Level = "debug"
	newCfg.Alerts.Enabled = true
	newCfg.Destinations = []post.Destination{{Source: "A", Channel: "@a", At: "08:00"}}
	changed, attrs, restart := SummarizeConfigChange(oldCfg, newCfg)
	require.Equal(t, []string{"destinations", "logging", "alerts"}, changed)
	require.NotEmpty(t, attrs)
	require.Empty(t, restart)

	newCfg = validConfig()
	newCfg.Scheduler.Timezone = "Asia/Jakarta"
	newCfg.Telegram.Token = "rotated"
	changed, _, restart = SummarizeConfigChange(oldCfg, newCfg)
	require.Equal(t, []string{"telegram", "scheduler"}, changed)
	require.Equal(t, []string{"telegram", "scheduler"}, restart)
}

func TestReload(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "config.json", jsonConfig)
	m := NewManager(path)
	m.SetEnv(noEnv)
	_, err := m.Load()
	require.NoError(t, err)
	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)
	ctx := context.Background()

	changed, err := m.Reload(ctx)
	require.NoError(t, err)
	require.False(t, changed)

	var rejected bool
	m.SetValidator(func(_ context.Context, cfg *Config) error {
		if cfg.Destinations[0].At == "07:00" {
			rejected = true
			return errors.New("no early posts")
		}
		return nil
	})
	require.NoError(t, os.WriteFile(path, []byte(strings.Replace(jsonConfig, `"08:00"`, `"07:00"`, 1)), 0o600))
	_, err = m.Reload(ctx)
	require.ErrorContains(t, err, "no early posts")
	require.True(t, rejected)
	require.Equal(t, "08:00", m.Get().Destinations[0].At)

	require.NoError(t, os.WriteFile(path, []byte(strings.Replace(jsonConfig, `"08:00"`, `"10:15"`, 1)), 0o600))
	changed, err = m.Reload(ctx)
	require.NoError(t, err)
	require.True(t, changed)
	require.Equal(t, "10:15", (<-sub).Destinations[0].At)

	// a second publish into a full buffer keeps only the newest
	require.NoError(t, os.WriteFile(path, []byte(strings.Replace(jsonConfig, `"08:00"`, `"11:00"`, 1)), 0o600))
	_, err = m.Reload(ctx)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte(strings.Replace(jsonConfig, `"08:00"`, `"12:00"`, 1)), 0o600))
	_, err = m.Reload(ctx)
	require.NoError(t, err)
	require.Equal(t, "12:00", (<-sub).Destinations[0].At)
}

func TestWatchPublishesValidChanges(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "config.json", jsonConfig)
	m := NewManager(path)
	m.SetEnv(noEnv)
	_, err := m.Load()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()

	// Give the watcher a moment to register the directory.
	time.Sleep(200 * time.Millisecond)

	// Invalid content is rejected and never published.
	require.NoError(t, os.WriteFile(path, []byte(strings.Replace(jsonConfig, `"08:00"`, `"8am"`, 1)), 0o600))
	time.Sleep(600 * time.Millisecond)
	select {
	case <-sub:
		t.Fatal("invalid config was published")
	default:
	}

	require.NoError(t, os.WriteFile(path, []byte(strings.Replace(jsonConfig, `"08:00"`, `"09:30"`, 1)), 0o600))
	select {
	case cfg := <-sub:
		require.Equal(t, "09:30", cfg.Destinations[0].At)
		require.Equal(t, "09:30", m.Get().Destinations[0].At)
	case <-time.After(5 * time.Second):
		t.Fatal("config change was not published")
	}

	cancel()
	<-done
}
