package config

import (
	"strings"

	"github.com/downfa11-org/bookie/util"
)

const (
	DefaultLedgerDir         = "bookie-data/ledgers"
	DefaultIndexDir          = "bookie-data/index"
	DefaultWriteBufferSize   = 64 * 1024
	DefaultReadBufferSize    = 512
	DefaultEntryLogSizeLimit = 1 << 30
	DefaultFlushIntervalMS   = 1000
	DefaultExporterPort      = 9100

	minEntryLogSizeLimit = 64 * 1024
)

func (cfg *Config) Normalize() {
	if strings.TrimSpace(cfg.LedgerDir) == "" {
		cfg.LedgerDir = DefaultLedgerDir
	}
	if strings.TrimSpace(cfg.IndexDir) == "" {
		cfg.IndexDir = DefaultIndexDir
	}
	dirs := cfg.ExtraIndexDirs[:0]
	for _, d := range cfg.ExtraIndexDirs {
		if d = strings.TrimSpace(d); d != "" {
			dirs = append(dirs, d)
		}
	}
	cfg.ExtraIndexDirs = dirs

	if cfg.WriteBufferSize <= 0 {
		util.Warn("Invalid WriteBufferSize (%d), defaulting to %d", cfg.WriteBufferSize, DefaultWriteBufferSize)
		cfg.WriteBufferSize = DefaultWriteBufferSize
	}
	if cfg.ReadBufferSize <= 0 {
		util.Warn("Invalid ReadBufferSize (%d), defaulting to %d", cfg.ReadBufferSize, DefaultReadBufferSize)
		cfg.ReadBufferSize = DefaultReadBufferSize
	}
	if cfg.UnpersistedBytesBound < 0 {
		cfg.UnpersistedBytesBound = 0
	}

	if cfg.EntryLogSizeLimit <= 0 {
		cfg.EntryLogSizeLimit = DefaultEntryLogSizeLimit
	}
	if cfg.EntryLogSizeLimit < minEntryLogSizeLimit {
		util.Warn("EntryLogSizeLimit %d too small, raising to %d", cfg.EntryLogSizeLimit, minEntryLogSizeLimit)
		cfg.EntryLogSizeLimit = minEntryLogSizeLimit
	}
	if cfg.FlushIntervalMS <= 0 {
		util.Warn("Invalid FlushIntervalMS (%d), defaulting to %dms", cfg.FlushIntervalMS, DefaultFlushIntervalMS)
		cfg.FlushIntervalMS = DefaultFlushIntervalMS
	}

	if cfg.ExporterPort <= 0 {
		cfg.ExporterPort = DefaultExporterPort
	}
	if cfg.LogLevel < util.LogLevelDebug || cfg.LogLevel > util.LogLevelError {
		cfg.LogLevel = util.LogLevelInfo
	}
}
