package logx

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	kit "sheetcast/internal/transport"
)

// Service owns the log sinks. Apply and SetSecrets are safe to call while
// loggers are in use.
type Service struct {
	mu   sync.Mutex // guards file and Apply
	file *os.File
	tg   *telegramSink

	root   atomic.Pointer[zerolog.Logger]
	redact atomic.Pointer[strings.Replacer]
}

// New builds the service with cfg applied and returns it with a root Logger.
// sender may be nil and attached later with SetSender.
func New(cfg Config, sender kit.TextSender) (*Service, Logger) {
	s := &Service{tg: newTelegramSink(sender)}
	s.Apply(cfg)
	return s, Logger{svc: s}
}

func (s *Service) Logger() Logger { return Logger{svc: s} }

func (s *Service) current() *zerolog.Logger { return s.root.Load() }

// SetSender attaches the transport for the Telegram sink.
func (s *Service) SetSender(sender kit.TextSender) { s.tg.setSender(sender) }

// SetSecrets registers values that are replaced by "[REDACTED]" in every sink.
// Empty values are ignored; each call replaces the previous set.
func (s *Service) SetSecrets(secrets ...string) {
	pairs := make([]string, 0, 2*len(secrets))
	for _, v := range secrets {
		if v = strings.TrimSpace(v); v != "" {
			pairs = append(pairs, v, "[REDACTED]")
		}
	}
	if len(pairs) == 0 {
		s.redact.Store(nil)
		return
	}
	s.redact.Store(strings.NewReplacer(pairs...))
}

// Apply swaps outputs and levels.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}

	var writers []io.Writer
	if cfg.Console {
		writers = append(writers, consoleWriter(os.Stdout))
	}
	if cfg.File.Enabled {
		path := strings.TrimSpace(cfg.File.Path)
		if path == "" {
			path = defaultLogFile
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "logx: open %s: %v\n", path, err)
		} else {
			s.file = f
			writers = append(writers, zerolog.SyncWriter(f))
		}
	}
	s.tg.configure(cfg.Telegram)
	if cfg.Telegram.Enabled {
		if cfg.Telegram.ChatID == 0 {
			fmt.Fprintln(os.Stderr, "logx: telegram sink enabled without telegram.group_log")
		}
		writers = append(writers, s.tg)
	}
	if len(writers) == 0 {
		writers = append(writers, consoleWriter(os.Stdout))
	}

	out := redactWriter{svc: s, next: zerolog.MultiLevelWriter(writers...)}
	zl := zerolog.New(out).Level(ParseLevel(cfg.Level, zerolog.InfoLevel)).With().Timestamp().Logger()
	s.root.Store(&zl)
}

// Close stops the Telegram worker and closes the log file.
func (s *Service) Close() error {
	s.tg.close()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

type redactWriter struct {
	svc  *Service
	next zerolog.LevelWriter
}

func (w redactWriter) Write(p []byte) (int, error) {
	return w.WriteLevel(zerolog.NoLevel, p)
}

func (w redactWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	r := w.svc.redact.Load()
	if r == nil {
		return w.next.WriteLevel(level, p)
	}
	if _, err := w.next.WriteLevel(level, []byte(r.Replace(string(p)))); err != nil {
		return 0, err
	}
	return len(p), nil
}
