package config

import (
	"os"
	"strings"
)

// Environment variables that override secrets from the config file.
// A .env file in the working directory is loaded by the CLI before parsing.
const (
	EnvTelegramToken     = "SHEETCAST_TELEGRAM_TOKEN"
	EnvSheetsKey         = "SHEETCAST_SHEETS_KEY"
	EnvSheetsCredentials = "SHEETCAST_SHEETS_CREDENTIALS"
)

// ApplyEnv overlays non-empty environment values onto cfg.
// getenv defaults to os.Getenv.
func ApplyEnv(cfg *Config, getenv func(string) string) {
	if cfg == nil {
		return
	}
	if getenv == nil {
		getenv = os.Getenv
	}
	if v := strings.TrimSpace(getenv(EnvTelegramToken)); v != "" {
		cfg.Telegram.Token = v
	}
	if v := strings.TrimSpace(getenv(EnvSheetsKey)); v != "" {
		cfg.Sheets.SpreadsheetKey = v
	}
	if v := strings.TrimSpace(getenv(EnvSheetsCredentials)); v != "" {
		cfg.Sheets.CredentialsFile = v
	}
}
