package config

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/downfa11-org/bookie/util"
	"gopkg.in/yaml.v3"
)

// Config represents the storage node configuration including buffer and durability tunables
type Config struct {
	LogLevel util.LogLevel `yaml:"log_level" json:"log_level"`

	// Directories
	LedgerDir      string   `yaml:"ledger_dir" json:"ledger.dir"`
	IndexDir       string   `yaml:"index_dir" json:"index.dir"`
	ExtraIndexDirs []string `yaml:"extra_index_dirs" json:"index.extra.dirs"` // searched after IndexDir

	// Buffered channel
	WriteBufferSize       int   `yaml:"write_buffer_size" json:"write.buffer.size"`
	ReadBufferSize        int   `yaml:"read_buffer_size" json:"read.buffer.size"`
	UnpersistedBytesBound int64 `yaml:"unpersisted_bytes_bound" json:"unpersisted.bytes.bound"`
	FadviseSequential     bool  `yaml:"fadvise_sequential" json:"fadvise.sequential"`

	// Entry log
	EntryLogSizeLimit int64 `yaml:"entry_log_size_limit" json:"entry.log.size.limit"`
	FlushIntervalMS   int   `yaml:"flush_interval_ms" json:"flush.interval.ms"`

	// Metrics
	EnableExporter bool `yaml:"enable_exporter" json:"enable.exporter"`
	ExporterPort   int  `yaml:"exporter_port" json:"exporter.port"`
}

type flagValues struct {
	configPath        *string
	logLevel          *string
	ledgerDir         *string
	indexDir          *string
	extraIndexDirs    *string
	writeBufferSize   *string
	readBufferSize    *string
	unpersistedBound  *string
	fadvise           *bool
	entryLogSizeLimit *string
	flushIntervalMS   *int
	exporter          *bool
	exporterPort      *int
}

func registerFlags(fs *flag.FlagSet) *flagValues {
	return &flagValues{
		configPath:        fs.String("config", "", "Path to YAML/JSON config file"),
		logLevel:          fs.String("log-level", "info", "Log Level (debug, info, warn, error)"),
		ledgerDir:         fs.String("ledger-dir", DefaultLedgerDir, "Directory holding entry logs"),
		indexDir:          fs.String("index-dir", DefaultIndexDir, "Directory holding ledger index files"),
		extraIndexDirs:    fs.String("extra-index-dirs", "", "Comma-separated directories also searched for index files"),
		writeBufferSize:   fs.String("write-buffer-size", "64KiB", "Write buffer capacity per buffered channel"),
		readBufferSize:    fs.String("read-buffer-size", "512", "Read buffer capacity per buffered channel"),
		unpersistedBound:  fs.String("unpersisted-bytes-bound", "0", "Force to disk after this many unpersisted bytes (0=disabled)"),
		fadvise:           fs.Bool("fadvise-sequential", true, "Hint sequential access on entry logs (linux only)"),
		entryLogSizeLimit: fs.String("entry-log-size-limit", "1GiB", "Rotate entry logs past this size"),
		flushIntervalMS:   fs.Int("flush-interval-ms", DefaultFlushIntervalMS, "Periodic flush interval in milliseconds"),
		exporter:          fs.Bool("exporter", true, "Enable Prometheus exporter"),
		exporterPort:      fs.Int("exporter-port", DefaultExporterPort, "Exporter port"),
	}
}

// LoadConfig builds a Config from defaults, an optional config file and explicitly set flags, in that order.
func LoadConfig(fs *flag.FlagSet, args []string) (*Config, error) {
	fv := registerFlags(fs)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg := &Config{}
	applyDefaults(cfg, fv)

	configPath := *fv.configPath
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" && configPath == "" {
		configPath = envPath
	}

	if configPath != "" {
		if err := loadFile(cfg, configPath); err != nil {
			return nil, err
		}
	}

	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })
	applyExplicitFlags(cfg, fv, explicit)

	cfg.Normalize()
	util.SetLevel(cfg.LogLevel)
	return cfg, nil
}

func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}

	if strings.HasSuffix(path, ".json") {
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse json config %s: %w", path, err)
		}
		return nil
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse yaml config %s: %w", path, err)
	}
	return nil
}

func applyDefaults(cfg *Config, fv *flagValues) {
	cfg.LogLevel = util.ParseLogLevel(*fv.logLevel)
	cfg.LedgerDir = *fv.ledgerDir
	cfg.IndexDir = *fv.indexDir
	cfg.ExtraIndexDirs = splitDirs(*fv.extraIndexDirs)
	cfg.WriteBufferSize = int(util.ParseSize(*fv.writeBufferSize, DefaultWriteBufferSize))
	cfg.ReadBufferSize = int(util.ParseSize(*fv.readBufferSize, DefaultReadBufferSize))
	cfg.UnpersistedBytesBound = util.ParseSize(*fv.unpersistedBound, 0)
	cfg.FadviseSequential = *fv.fadvise
	cfg.EntryLogSizeLimit = util.ParseSize(*fv.entryLogSizeLimit, DefaultEntryLogSizeLimit)
	cfg.FlushIntervalMS = *fv.flushIntervalMS
	cfg.EnableExporter = *fv.exporter
	cfg.ExporterPort = *fv.exporterPort
}

func applyExplicitFlags(cfg *Config, fv *flagValues, explicit map[string]bool) {
	if explicit["log-level"] {
		cfg.LogLevel = util.ParseLogLevel(*fv.logLevel)
	}
	if explicit["ledger-dir"] {
		cfg.LedgerDir = *fv.ledgerDir
	}
	if explicit["index-dir"] {
		cfg.IndexDir = *fv.indexDir
	}
	if explicit["extra-index-dirs"] {
		cfg.ExtraIndexDirs = splitDirs(*fv.extraIndexDirs)
	}
	if explicit["write-buffer-size"] {
		cfg.WriteBufferSize = int(util.ParseSize(*fv.writeBufferSize, int64(cfg.WriteBufferSize)))
	}
	if explicit["read-buffer-size"] {
		cfg.ReadBufferSize = int(util.ParseSize(*fv.readBufferSize, int64(cfg.ReadBufferSize)))
	}
	if explicit["unpersisted-bytes-bound"] {
		cfg.UnpersistedBytesBound = util.ParseSize(*fv.unpersistedBound, cfg.UnpersistedBytesBound)
	}
	if explicit["fadvise-sequential"] {
		cfg.FadviseSequential = *fv.fadvise
	}
	if explicit["entry-log-size-limit"] {
		cfg.EntryLogSizeLimit = util.ParseSize(*fv.entryLogSizeLimit, cfg.EntryLogSizeLimit)
	}
	if explicit["flush-interval-ms"] {
		cfg.FlushIntervalMS = *fv.flushIntervalMS
	}
	if explicit["exporter"] {
		cfg.EnableExporter = *fv.exporter
	}
	if explicit["exporter-port"] {
		cfg.ExporterPort = *fv.exporterPort
	}
}

func splitDirs(s string) []string {
	var dirs []string
	for _, d := range strings.Split(s, ",") {
		if d = strings.TrimSpace(d); d != "" {
			dirs = append(dirs, d)
		}
	}
	return dirs
}
