// Package logging builds the slog loggers used by both binaries.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/natefinch/lumberjack"
)

const (
	EnvLevel  = "TEZBAKE_LOG_LEVEL"
	EnvFormat = "TEZBAKE_LOG_FORMAT"
	EnvFile   = "TEZBAKE_LOG_FILE"
)

type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

type Config struct {
	Level  slog.Level
	Format Format
	// File, when set, receives the log instead of stderr and is rotated.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

func DefaultConfig() Config {
	return Config{
		Level:      slog.LevelInfo,
		Format:     FormatText,
		MaxSizeMB:  10,
		MaxBackups: 5,
		MaxAgeDays: 30,
	}
}

func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("log level %q: %w", s, err)
	}
	return l, nil
}

func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatText, FormatJSON:
		return f, nil
	case "":
		return FormatText, nil
	default:
		return FormatText, fmt.Errorf("unknown log format %q", s)
	}
}

// NewConfigFromEnv starts from DefaultConfig and applies TEZBAKE_LOG_*.
func NewConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	if v, ok := os.LookupEnv(EnvLevel); ok {
		l, err := ParseLevel(v)
		if err != nil {
			return cfg, err
		}
		cfg.Level = l
	}
	if v, ok := os.LookupEnv(EnvFormat); ok {
		f, err := ParseFormat(v)
		if err != nil {
			return cfg, err
		}
		cfg.Format = f
	}
	if v, ok := os.LookupEnv(EnvFile); ok {
		cfg.File = v
	}
	return cfg, nil
}

var (
	fileMu      sync.Mutex
	currentFile string
)

// CurrentFile is the log file of the last logger built with one, or "".
func CurrentFile() string {
	fileMu.Lock()
	defer fileMu.Unlock()
	return currentFile
}

// New builds a logger. The returned closer releases the log file.
func New(cfg Config) (*slog.Logger, io.Closer, error) {
	var out io.Writer = os.Stderr
	var closer io.Closer = nopCloser{}

	if cfg.File != "" {
		if err := EnsureDir(cfg.File); err != nil {
			return nil, nil, err
		}
		lj := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}
		out, closer = lj, lj

		fileMu.Lock()
		currentFile = cfg.File
		fileMu.Unlock()
	}

	opts := &slog.HandlerOptions{Level: cfg.Level}
	var h slog.Handler
	if cfg.Format == FormatJSON {
		h = slog.NewJSONHandler(out, opts)
	} else {
		h = slog.NewTextHandler(out, opts)
	}
	return slog.New(h), closer, nil
}

// NewFromEnv never fails to return a logger: on a bad environment it falls
// back to the defaults and reports the error.
func NewFromEnv() (*slog.Logger, error) {
	cfg, cfgErr := NewConfigFromEnv()
	l, _, err := New(cfg)
	if err != nil {
		l, _, _ = New(DefaultConfig())
		return l, err
	}
	return l, cfgErr
}

// DefaultFileInExecDir places name next to the running binary.
func DefaultFileInExecDir(name string) string {
	exe, err := os.Executable()
	if err != nil {
		return name
	}
	return filepath.Join(filepath.Dir(exe), name)
}

func EnsureDir(file string) error {
	return os.MkdirAll(filepath.Dir(file), 0o750)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
