// Package logx is sheetcast's structured logging, a thin layer over zerolog.
//
// A Service owns the sinks (console, JSON file, Telegram operator chat) and can
// be reconfigured at runtime; Loggers derived from it follow every Apply.
// Registered secrets are masked in every sink.
package logx
