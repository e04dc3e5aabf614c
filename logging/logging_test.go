package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewConfigFromEnv(t *testing.T) {
	t.Setenv(EnvLevel, "debug")
	t.Setenv(EnvFormat, "JSON")
	t.Setenv(EnvFile, "/tmp/x.log")

	cfg, err := NewConfigFromEnv()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Level != slog.LevelDebug || cfg.Format != FormatJSON || cfg.File != "/tmp/x.log" {
		t.Fatalf("config %+v", cfg)
	}

	t.Setenv(EnvFormat, "xml")
	if _, err := NewConfigFromEnv(); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{"info": slog.LevelInfo, "WARN": slog.LevelWarn, " error ": slog.LevelError} {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Errorf("ParseLevel(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Error("expected error")
	}
}

func TestNewWritesFile(t *testing.T) {
	cfg := DefaultConfig()
	cfg.File = filepath.Join(t.TempDir(), "logs", "device.log")
	cfg.Format = FormatJSON

	l, closer, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	l.Info("hello", slog.Int("round", 42))
	if err := closer.Close(); err != nil {
		t.Fatal(err)
	}

	raw, err := os.ReadFile(cfg.File)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(raw), `"round":42`) {
		t.Fatalf("log content %s", raw)
	}
	if CurrentFile() != cfg.File {
		t.Fatalf("CurrentFile = %q", CurrentFile())
	}
}
