package config

import (
	"reflect"
	"strings"

	logx "sheetcast/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections,
// (2) safe structured attrs for logging (never includes secrets like tokens),
// and (3) the changed settings that only take effect after a restart.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 24)
	restart := make([]string, 0, 4)

	trim := strings.TrimSpace

	// Telegram (never log token)
	if trim(oldCfg.Telegram.Token) != trim(newCfg.Telegram.Token) ||
		trim(oldCfg.Telegram.GroupLog) != trim(newCfg.Telegram.GroupLog) ||
		trim(oldCfg.Telegram.APIURL) != trim(newCfg.Telegram.APIURL) ||
		trim(oldCfg.Telegram.Timeout) != trim(newCfg.Telegram.Timeout) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.group_log_set", trim(newCfg.Telegram.GroupLog) != ""),
			logx.Bool("telegram.api_url_set", trim(newCfg.Telegram.APIURL) != ""),
			logx.String("telegram.timeout", trim(newCfg.Telegram.Timeout)),
		)
		restart = append(restart, "telegram")
	}

	// Sheets (credentials path and key are not secrets but stay out of logs)
	if !reflect.DeepEqual(oldCfg.Sheets, newCfg.Sheets) {
		changed = append(changed, "sheets")
		attrs = append(attrs,
			logx.String("sheets.driver", newCfg.Sheets.SheetsDriver()),
			logx.String("sheets.request_timeout", trim(newCfg.Sheets.RequestTimeout)),
			logx.Int("sheets.retry.max_attempts", newCfg.Sheets.Retry.MaxAttempts),
		)
		restart = append(restart, "sheets")
	}

	if trim(oldCfg.Assets.Root) != trim(newCfg.Assets.Root) ||
		!reflect.DeepEqual(oldCfg.Caption, newCfg.Caption) {
		changed = append(changed, "assets")
		attrs = append(attrs, logx.String("assets.root", trim(newCfg.Assets.Root)))
		restart = append(restart, "assets")
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.String("scheduler.timezone", trim(newCfg.Scheduler.Timezone)),
			logx.String("scheduler.tick", trim(newCfg.Scheduler.Tick)),
			logx.String("scheduler.grace_period", trim(newCfg.Scheduler.GracePeriod)),
			logx.String("scheduler.registry_refresh", trim(newCfg.Scheduler.RegistryRefresh)),
		)
		if oldCfg.Scheduler.Enabled != newCfg.Scheduler.Enabled ||
			trim(oldCfg.Scheduler.Timezone) != trim(newCfg.Scheduler.Timezone) ||
			trim(oldCfg.Scheduler.Tick) != trim(newCfg.Scheduler.Tick) ||
			trim(oldCfg.Scheduler.GracePeriod) != trim(newCfg.Scheduler.GracePeriod) ||
			trim(oldCfg.Scheduler.RunTimeout) != trim(newCfg.Scheduler.RunTimeout) {
			restart = append(restart, "scheduler")
		}
	}

	// Destinations are applied live through the registry refresh.
	if !reflect.DeepEqual(oldCfg.Destinations, newCfg.Destinations) {
		changed = append(changed, "destinations")
		attrs = append(attrs,
			logx.Int("destinations.old_count", len(oldCfg.Destinations)),
			logx.Int("destinations.new_count", len(newCfg.Destinations)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		driver := ""
		if newCfg.Storage != nil {
			driver = trim(newCfg.Storage.Driver)
		}
		attrs = append(attrs, logx.String("storage.driver", driver))
		restart = append(restart, "storage")
	}

	// Logging is applied live.
	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logx.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	// Alerts are applied live.
	if oldCfg.Alerts != newCfg.Alerts {
		changed = append(changed, "alerts")
		attrs = append(attrs,
			logx.Bool("alerts.enabled", newCfg.Alerts.Enabled),
			logx.Bool("alerts.degraded", newCfg.Alerts.Degraded),
			logx.String("alerts.dedup_window", trim(newCfg.Alerts.DedupWindow)),
		)
	}

	// Ops (never log token)
	if oldCfg.Ops != newCfg.Ops {
		changed = append(changed, "ops")
		attrs = append(attrs,
			logx.Bool("ops.enabled", newCfg.Ops.Enabled),
			logx.String("ops.addr", trim(newCfg.Ops.Addr)),
			logx.Bool("ops.token_set", trim(newCfg.Ops.Token) != ""),
			logx.Bool("ops.allow_insecure", newCfg.Ops.AllowInsecure),
			logx.Bool("ops.pprof", newCfg.Ops.Pprof),
		)
		restart = append(restart, "ops")
	}

	return changed, attrs, restart
}
