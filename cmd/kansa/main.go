// Command kansa starts the scan engine API server.
// Usage: kansa [-config kansa.yaml] [-listen :8080]
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

	"github.com/raysh454/kansa/internal/admission"
	"github.com/raysh454/kansa/internal/analyzer"
	"github.com/raysh454/kansa/internal/baseline"
	"github.com/raysh454/kansa/internal/browserpool"
	"github.com/raysh454/kansa/internal/cache"
	"github.com/raysh454/kansa/internal/config"
	"github.com/raysh454/kansa/internal/events"
	"github.com/raysh454/kansa/internal/logging"
	"github.com/raysh454/kansa/internal/metrics"
	"github.com/raysh454/kansa/internal/scanner"
	"github.com/raysh454/kansa/internal/server"
	"github.com/raysh454/kansa/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	listen := flag.String("listen", "", "listen address override")
	flag.Parse()

	logger := logging.NewStdoutLogger("kansa")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	if *listen != "" {
		cfg.Listen = *listen
	}

	m := metrics.New()
	bus := events.NewBus(cfg.Events.Buffer)
	defer bus.Close()

	var resultStore store.Store
	switch cfg.Storage.Backend {
	case "memory":
		resultStore = store.NewMemoryStore()
	default:
		resultStore, err = store.OpenSQLite(cfg.Storage.Path, logger)
		if err != nil {
			log.Fatalf("opening result store: %v", err)
		}
	}
	defer resultStore.Close()

	pool := browserpool.New(cfg.PoolConfig(), browserpool.ChromeLauncher, logger)
	defer pool.Close()

	svc, err := scanner.New(cfg.Queue, scanner.Deps{
		Gate:      admission.NewGate(cfg.AdmissionConfig(), logger),
		Pool:      pool,
		Runner:    analyzer.NewChromeRunner(cfg.AnalyzerConfig(), logger),
		Store:     resultStore,
		Bus:       bus,
		Cache:     cache.New(cfg.CacheConfig()),
		Baselines: baseline.NewStore(),
		Metrics:   m,
		Logger:    logger,
	})
	if err != nil {
		log.Fatalf("assembling scanner: %v", err)
	}

	srv := server.NewServer(cfg.ServerConfig(), svc, bus, m)
	httpSrv := srv.HTTPServer()

	go func() {
		logger.Info("listening", logging.Field{Key: "addr", Value: cfg.Listen})
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", logging.Field{Key: "error", Value: err.Error()})
	}
	srv.Close()
}
