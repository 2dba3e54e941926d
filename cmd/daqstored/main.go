// daqstored is the telemetry acquisition daemon: it receives product
// buffers from the capture boundary, persists them into partitioned
// containers and notifies the downstream client of every stored block.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	defaults "github.com/radiometric/daqstore/config"
	"github.com/radiometric/daqstore/internal/capture"
	"github.com/radiometric/daqstore/internal/catalog"
	"github.com/radiometric/daqstore/internal/config"
	"github.com/radiometric/daqstore/internal/consumer"
	"github.com/radiometric/daqstore/internal/daq"
	"github.com/radiometric/daqstore/internal/delivery"
	"github.com/radiometric/daqstore/internal/logging"
	"github.com/radiometric/daqstore/internal/persister"
	"github.com/radiometric/daqstore/internal/ratemonitor"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	cfgPath := flag.String("config", "daqstore.yaml", "config file path")
	dataDir := flag.String("data-dir", "", "data directory (overrides config)")
	modesFlag := flag.String("modes", "", "comma-separated product modes to start")
	jsonLogs := flag.Bool("json-logs", false, "log as JSON")
	debug := flag.Bool("debug", false, "enable debug logging")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("daqstored", Version)
		return
	}

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logging.Init(level, *jsonLogs)
	log := logging.Component("daqstored")
	log.Info("starting", "version", Version)

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			log.Info("no config file found, using defaults", "path", *cfgPath)
			cfg = config.Default()
		} else {
			log.Error("load config", "error", err)
			os.Exit(1)
		}
	}
	if *dataDir != "" {
		cfg.Directory = *dataDir
	}

	if err := os.MkdirAll(cfg.Directory, 0o755); err != nil {
		log.Error("create data directory", "error", err)
		os.Exit(1)
	}

	persister.Version = Version

	// =========================================================================
	// Storage engine
	// =========================================================================

	store, err := persister.NewFromConfig(cfg)
	if err != nil {
		log.Error("create store", "error", err)
		os.Exit(1)
	}

	var cat *catalog.Writer
	if cfg.Catalog.Enabled {
		cat, err = catalog.NewWriter(catalog.Options{
			Dir:           cfg.CatalogDir(),
			FlushInterval: cfg.Catalog.FlushInterval,
			FlushRows:     cfg.Catalog.FlushRows,
		})
		if err != nil {
			log.Error("create catalog", "error", err)
			os.Exit(1)
		}
		log.Info("catalog enabled", "dir", cfg.CatalogDir())
	}

	// =========================================================================
	// Delivery
	// =========================================================================

	deliv := delivery.New(cfg.Delivery.Capacity)
	drainLog := logging.Component("drain")
	drainer := delivery.NewDrainer(deliv, delivery.ClientFunc(func(events []delivery.Event) error {
		for _, ev := range events {
			drainLog.Info("block stored", "mode", ev.Mode, "file", ev.Filename)
		}
		return nil
	}), cfg.Delivery.PollInterval)

	// =========================================================================
	// Consumers
	// =========================================================================

	stats := ratemonitor.NewSignalStats(defaults.DefaultSketchAccuracy)
	engine := capture.NewManual()
	dispatch := consumer.New(cfg, engine, store, deliv, consumer.Options{
		Stats:   stats,
		Catalog: cat,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	drainer.Start(ctx)

	if *modesFlag != "" {
		for _, name := range strings.Split(*modesFlag, ",") {
			mode, err := daq.ParseMode(strings.TrimSpace(name))
			if err != nil {
				log.Error("unknown mode", "mode", name)
				os.Exit(1)
			}
			if _, err := dispatch.Start(mode); err != nil {
				log.Error("start consumer", "mode", mode.String(), "error", err)
				os.Exit(1)
			}
		}
	}

	// =========================================================================
	// Rate monitor
	// =========================================================================

	var monitor *ratemonitor.Monitor
	if cfg.RateMonitor.Enabled {
		var source ratemonitor.CounterSource
		if cfg.RateMonitor.SNMP.Enabled {
			source = ratemonitor.NewSNMPSource(cfg.RateMonitor.SNMP)
			log.Info("rate monitor sampling via SNMP", "host", cfg.RateMonitor.SNMP.Host)
		} else {
			source = &ratemonitor.ProcNetSource{Interface: cfg.RateMonitor.Interface}
			log.Info("rate monitor sampling procfs", "interface", cfg.RateMonitor.Interface)
		}
		monitor = ratemonitor.New(source, cfg.RateMonitor.Interval)
		monitor.Start(ctx)
	}

	// =========================================================================
	// Run
	// =========================================================================

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				st := deliv.Stats()
				attrs := []any{
					"status", deliv.Status().String(),
					"pushed", st.Pushed, "drained", st.Drained,
					"dropped", st.Dropped, "errors", st.Errors,
				}
				if monitor != nil {
					r := monitor.Rates()
					attrs = append(attrs, "mbps", r.BytesPerSec*8/1e6, "pps", r.PacketsPerSec)
				}
				log.Info("acquisition status", attrs...)
			}
		}
	})

	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	log.Info("running", "data_dir", cfg.Directory, "modes", *modesFlag)
	_ = g.Wait()

	// =========================================================================
	// Shutdown: quiesce consumers, flush everything, seal partitions.
	// =========================================================================

	log.Info("shutting down")

	if err := dispatch.StopAll(); err != nil {
		log.Warn("stop consumers", "error", err)
	}
	if monitor != nil {
		monitor.Stop()
	}
	drainer.Stop()
	if cat != nil {
		if err := cat.Close(); err != nil {
			log.Warn("close catalog", "error", err)
		}
	}
	if err := store.Close(); err != nil {
		log.Warn("close store", "error", err)
	}

	log.Info("stopped")
}
