// Command server runs the remote-command relay broker: it wires the clock,
// liveness tracker, command relay, function registry, and session store into
// a single broker.Broker and serves the HTTP surface from internal/httpapi.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agent-racer/relaybroker/internal/broker"
	"github.com/agent-racer/relaybroker/internal/config"
	"github.com/agent-racer/relaybroker/internal/httpapi"
	"github.com/agent-racer/relaybroker/internal/metrics"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (defaults to ~/.config/relaybroker/config.yaml)")
	port := flag.Int("port", 0, "Override server port")
	flag.Parse()

	cfgPath := *configPath
	if cfgPath == "" {
		cfgPath = config.DefaultConfigPath()
	}

	cfg, err := config.LoadOrDefault(cfgPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *port > 0 {
		cfg.Port = *port
	}

	b := broker.New(broker.Config{
		StaleAfter:         cfg.StaleAfter,
		TimingCleanupDelay: cfg.TimingCleanupDelay,
		ScanDataDir:        cfg.ScanDataDir,
	})

	// Metrics collection is always wired; only the /metrics HTTP exposure is
	// gated behind METRICS_ADDR.
	m := metrics.New(prometheus.DefaultRegisterer)

	server := httpapi.NewServer(b, cfg.AllowedOrigins, m, cfg.PublicDir)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		metricsServer = &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           promhttp.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("relay broker listening on %s (scan data: %s)", httpServer.Addr, cfg.ScanDataDir)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	if metricsServer != nil {
		go func() {
			log.Printf("metrics listening on %s", metricsServer.Addr)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("metrics server error: %v", err)
			}
		}()
	}

	<-ctx.Done()
	log.Println("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("metrics server shutdown failed: %v", err)
		}
	}
}
