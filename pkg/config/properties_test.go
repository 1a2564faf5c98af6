package config_test

import (
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/downfa11-org/bookie/pkg/config"
	"github.com/downfa11-org/bookie/util"
)

func newFlagSet() *flag.FlagSet {
	return flag.NewFlagSet("test", flag.ContinueOnError)
}

func TestNormalizeDefaults(t *testing.T) {
	cfg := &config.Config{}
	cfg.Normalize()

	if cfg.WriteBufferSize != config.DefaultWriteBufferSize {
		t.Errorf("WriteBufferSize default incorrect: %d", cfg.WriteBufferSize)
	}
	if cfg.ReadBufferSize != config.DefaultReadBufferSize {
		t.Errorf("ReadBufferSize default incorrect: %d", cfg.ReadBufferSize)
	}
	if cfg.EntryLogSizeLimit != config.DefaultEntryLogSizeLimit {
		t.Errorf("EntryLogSizeLimit default incorrect: %d", cfg.EntryLogSizeLimit)
	}
	if cfg.LedgerDir != config.DefaultLedgerDir || cfg.IndexDir != config.DefaultIndexDir {
		t.Errorf("directory defaults incorrect: %q %q", cfg.LedgerDir, cfg.IndexDir)
	}
	if cfg.UnpersistedBytesBound != 0 {
		t.Errorf("UnpersistedBytesBound default incorrect: %d", cfg.UnpersistedBytesBound)
	}
}

func TestNormalizeClampsInvalidValues(t *testing.T) {
	cfg := &config.Config{
		UnpersistedBytesBound: -10,
		EntryLogSizeLimit:     100,
		LogLevel:              util.LogLevel(42),
	}
	cfg.Normalize()

	if cfg.UnpersistedBytesBound != 0 {
		t.Errorf("negative bound not clamped: %d", cfg.UnpersistedBytesBound)
	}
	if cfg.EntryLogSizeLimit != 64*1024 {
		t.Errorf("small EntryLogSizeLimit not raised: %d", cfg.EntryLogSizeLimit)
	}
	if cfg.LogLevel != util.LogLevelInfo {
		t.Errorf("invalid log level not reset: %v", cfg.LogLevel)
	}
}

func TestLoadConfigFlags(t *testing.T) {
	cfg, err := config.LoadConfig(newFlagSet(), []string{
		"-write-buffer-size", "128KiB",
		"-read-buffer-size", "1024",
		"-unpersisted-bytes-bound", "4096",
		"-log-level", "debug",
		"-extra-index-dirs", "/mnt/a, /mnt/b,",
	})
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	defer util.SetLevel(util.LogLevelInfo)

	if cfg.WriteBufferSize != 128*1024 {
		t.Errorf("WriteBufferSize = %d", cfg.WriteBufferSize)
	}
	if cfg.ReadBufferSize != 1024 {
		t.Errorf("ReadBufferSize = %d", cfg.ReadBufferSize)
	}
	if cfg.UnpersistedBytesBound != 4096 {
		t.Errorf("UnpersistedBytesBound = %d", cfg.UnpersistedBytesBound)
	}
	if len(cfg.ExtraIndexDirs) != 2 || cfg.ExtraIndexDirs[1] != "/mnt/b" {
		t.Errorf("ExtraIndexDirs = %q", cfg.ExtraIndexDirs)
	}
	if cfg.LogLevel != util.LogLevelDebug || util.GetLevel() != util.LogLevelDebug {
		t.Errorf("log level not applied: %v / %v", cfg.LogLevel, util.GetLevel())
	}
}

func TestLoadConfigFileThenFlags(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bookie.yaml")
	content := `
log_level: warn
ledger_dir: /data/ledgers
write_buffer_size: 4096
flush_interval_ms: 250
extra_index_dirs: [/mnt/a, " ", /mnt/b]
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := config.LoadConfig(newFlagSet(), []string{"-config", path, "-flush-interval-ms", "500"})
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	defer util.SetLevel(util.LogLevelInfo)

	if cfg.LedgerDir != "/data/ledgers" {
		t.Errorf("LedgerDir from file not applied: %q", cfg.LedgerDir)
	}
	if cfg.WriteBufferSize != 4096 {
		t.Errorf("WriteBufferSize from file not applied: %d", cfg.WriteBufferSize)
	}
	if cfg.LogLevel != util.LogLevelWarn {
		t.Errorf("LogLevel from file not applied: %v", cfg.LogLevel)
	}
	if len(cfg.ExtraIndexDirs) != 2 || cfg.ExtraIndexDirs[0] != "/mnt/a" || cfg.ExtraIndexDirs[1] != "/mnt/b" {
		t.Errorf("ExtraIndexDirs from file not applied: %v", cfg.ExtraIndexDirs)
	}
	if cfg.FlushIntervalMS != 500 {
		t.Errorf("explicit flag should override file: %d", cfg.FlushIntervalMS)
	}
	if cfg.ReadBufferSize != config.DefaultReadBufferSize {
		t.Errorf("ReadBufferSize default lost: %d", cfg.ReadBufferSize)
	}
}

func TestLoadConfigJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bookie.json")
	if err := os.WriteFile(path, []byte(`{"index.dir": "/data/index", "log_level": "error"}`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := config.LoadConfig(newFlagSet(), []string{"-config", path})
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	defer util.SetLevel(util.LogLevelInfo)

	if cfg.IndexDir != "/data/index" {
		t.Errorf("IndexDir = %q", cfg.IndexDir)
	}
	if cfg.LogLevel != util.LogLevelError {
		t.Errorf("LogLevel = %v", cfg.LogLevel)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := config.LoadConfig(newFlagSet(), []string{"-config", filepath.Join(t.TempDir(), "missing.yaml")})
	if err == nil {
		t.Fatalf("expected error for missing config file")
	}
}
