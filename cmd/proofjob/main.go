// proofjob is the daily reconciliation job: it backfills theoretical
// proofs for the reporting window and dispatches everything pending to the
// carpool register. It is meant to run once per day from an external
// scheduler.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Iliess-A/Mobicoop-api/internal/config"
	"github.com/Iliess-A/Mobicoop-api/internal/ingest"
	"github.com/Iliess-A/Mobicoop-api/internal/logging"
	"github.com/Iliess-A/Mobicoop-api/internal/models"
	"github.com/Iliess-A/Mobicoop-api/internal/proof"
	"github.com/Iliess-A/Mobicoop-api/internal/registry"
	"github.com/Iliess-A/Mobicoop-api/internal/storage"
)

func main() {
	var fromFlag, toFlag, metricsAddr string
	flag.StringVar(&fromFlag, "from", "", "start of the reporting window (YYYY-MM-DD), defaults to yesterday")
	flag.StringVar(&toFlag, "to", "", "end of the reporting window (YYYY-MM-DD), defaults to yesterday")
	flag.StringVar(&metricsAddr, "metrics-addr", ":2112", "address to serve prometheus metrics on")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logging.NewLogger("proofjob", "error").Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.NewLogger("proofjob", cfg.LogLevel)

	from, to, err := parseWindow(fromFlag, toFlag)
	if err != nil {
		logger.Error("invalid window", "error", err)
		os.Exit(1)
	}

	if cfg.PGDSN == "" {
		logger.Error("PG_DSN is required for the batch job")
		os.Exit(1)
	}
	pg, err := storage.NewPostgresStore(cfg.PGDSN)
	if err != nil {
		logger.Error("postgres connect failed", "error", err)
		os.Exit(1)
	}
	defer pg.Close()

	if cfg.RegistryURI == "" {
		logger.Error("REGISTRY_URI is required for the batch job")
		os.Exit(1)
	}

	gen := &proof.Generator{
		Proofs:     pg,
		Agreements: pg,
		Waypoints:  pg,
		ProofType:  models.ProofType(cfg.RegistryProofType),
		Logger:     logger,
	}
	disp := &proof.Dispatcher{
		Generator: gen,
		Proofs:    pg,
		Registry:  registry.NewGouvClient(cfg.RegistryURI, cfg.RegistryToken),
		Logger:    logger,
	}
	if len(cfg.KafkaBrokers) > 0 {
		producer := ingest.NewProofEventProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer producer.Close()
		disp.Events = producer
	}

	// metrics for scrape-on-exit setups (e.g. pushgateway sidecars)
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) })
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			logger.Warn("metrics server stopped", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	if err := disp.Dispatch(ctx, from, to); err != nil {
		logger.Error("dispatch run failed", "error", err)
		os.Exit(1)
	}
	logger.Info("dispatch run complete", "took", time.Since(start).String())
}

// parseWindow turns the optional -from/-to day flags into a window; zero
// times let the generator fall back to yesterday.
func parseWindow(fromFlag, toFlag string) (time.Time, time.Time, error) {
	var from, to time.Time
	var err error
	if fromFlag != "" {
		if from, err = time.ParseInLocation("2006-01-02", fromFlag, time.UTC); err != nil {
			return from, to, fmt.Errorf("invalid -from: %w", err)
		}
	}
	if toFlag != "" {
		if to, err = time.ParseInLocation("2006-01-02", toFlag, time.UTC); err != nil {
			return from, to, fmt.Errorf("invalid -to: %w", err)
		}
		to = to.Add(24*time.Hour - time.Millisecond)
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return from, to, fmt.Errorf("-from %s is after -to %s", fromFlag, toFlag)
	}
	return from, to, nil
}
