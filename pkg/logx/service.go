package logx

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

const (
	timeFormat      = "2006-01-02T15:04:05.000Z07:00"
	defaultLogFile  = "./pushbridge.log"
	defaultFileMode = 0o644
)

var globalsOnce sync.Once

func initGlobals() {
	globalsOnce.Do(func() {
		zerolog.ErrorFieldName = "err"
		zerolog.TimeFieldFormat = timeFormat
	})
}

type Config struct {
	Level   string
	Console bool
	File    FileConfig
}

type FileConfig struct {
	Enabled bool
	Path    string
}

// Service owns the process log sinks and lets config reloads swap them.
type Service struct {
	mu   sync.Mutex
	file *os.File
	root atomic.Pointer[zerolog.Logger]
}

// New builds the service from cfg. A sink that cannot be opened is
// reported through the returned logger and replaced by the console.
func New(cfg Config) (*Service, Logger) {
	initGlobals()
	s := &Service{}
	err := s.Apply(cfg)
	log := s.Logger()
	if err != nil {
		log.Error("log sink unavailable", Err(err))
	}
	return s, log
}

func (s *Service) current() zerolog.Logger {
	if zl := s.root.Load(); zl != nil {
		return *zl
	}
	return zerolog.Nop()
}

// Logger returns a logger that follows every later Apply.
func (s *Service) Logger() Logger { return Logger{src: s} }

// Apply rebuilds the sinks and level. The previous file sink is closed
// only after the new logger is in place.
func (s *Service) Apply(cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		sinks   []io.Writer
		file    *os.File
		openErr error
	)
	if cfg.Console {
		sinks = append(sinks, consoleWriter(Stdout()))
	}
	if cfg.File.Enabled {
		path := strings.TrimSpace(cfg.File.Path)
		if path == "" {
			path = defaultLogFile
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, defaultFileMode)
		if err != nil {
			openErr = fmt.Errorf("logx: open %s: %w", path, err)
		} else {
			file = f
			sinks = append(sinks, zerolog.SyncWriter(f))
		}
	}
	if len(sinks) == 0 {
		sinks = append(sinks, consoleWriter(Stdout()))
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(sinks...)).
		Level(parseLevel(cfg.Level, LevelInfo)).
		With().Timestamp().Logger()
	s.root.Store(&zl)

	prev := s.file
	s.file = file
	if prev != nil {
		if err := prev.Close(); err != nil {
			openErr = errors.Join(openErr, err)
		}
	}
	return openErr
}

// Close releases the file sink. Loggers keep writing to the console
// sinks, if any.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	f := s.file
	s.file = nil
	return f.Close()
}

func consoleWriter(w io.Writer) io.Writer {
	return zerolog.ConsoleWriter{
		Out:          w,
		TimeFormat:   timeFormat,
		FormatCaller: func(i any) string { s, _ := i.(string); return s },
	}
}

func parseLevel(s string, def Level) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return LevelTrace
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	}
	return def
}

// Stdout is the console sink target.
func Stdout() io.Writer { return os.Stdout }
