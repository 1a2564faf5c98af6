package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/downfa11-org/bookie/pkg/config"
	"github.com/downfa11-org/bookie/pkg/disk"
	"github.com/downfa11-org/bookie/pkg/index"
	"github.com/downfa11-org/bookie/pkg/metrics"
	"github.com/downfa11-org/bookie/util"
)

func main() {
	// Configuration
	cfg, err := config.LoadConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("❌ Failed to load config: %v", err)
	}

	util.Info("🚀 Starting bookie storage: ledgers=%s index=%s", cfg.LedgerDir, cfg.IndexDir)
	util.Info("🧠 Write buffer %d | Read buffer %d | 📊 Exporter: %v", cfg.WriteBufferSize, cfg.ReadBufferSize, cfg.EnableExporter)

	// Initialization
	el, err := disk.NewEntryLogger(cfg)
	if err != nil {
		log.Fatalf("❌ Failed to open entry logger: %v", err)
	}
	im := index.NewManager(cfg)

	st := disk.NewSyncThread(time.Duration(cfg.FlushIntervalMS)*time.Millisecond, el, im)
	st.Start()

	var exporter *http.Server
	if cfg.EnableExporter {
		exporter = metrics.StartMetricsServer(cfg.ExporterPort)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	util.Info("received %s, shutting down", s)

	if err := st.Stop(); err != nil {
		util.Error("final flush failed: %v", err)
	}
	if err := im.CloseAll(); err != nil {
		util.Error("closing index files: %v", err)
	}
	if err := el.Close(); err != nil {
		util.Error("closing entry logger: %v", err)
	}
	if exporter != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := exporter.Shutdown(ctx); err != nil {
			util.Error("[METRICS] shutdown: %v", err)
		}
	}
	util.Info("bookie stopped")
}
