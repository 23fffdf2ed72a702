// Command sna-pdpd is the policy decision point process: it wires
// config, the verdict store, EAS, the escalation registry, the policy
// document watcher, and the evaluation engine together, then serves a
// minimal health endpoint until asked to stop.
//
// Grounded on cmd/helm/main.go's subsystem-wiring order (DB connect,
// fail-fast Init calls, health server on a side port, signal-driven
// shutdown) and cmd/bootstrap/main.go's minimal top-to-bottom style —
// this binary has no subcommand dispatch, unlike cmd/helm/main.go,
// because sna-pdpd has exactly one mode of operation.
package main

import (
	"context"
	"database/sql"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	_ "modernc.org/sqlite"

	"github.com/netauton/sna-pdp/internal/policyloader"
	"github.com/netauton/sna-pdp/pkg/config"
	"github.com/netauton/sna-pdp/pkg/eas"
	"github.com/netauton/sna-pdp/pkg/engine"
	"github.com/netauton/sna-pdp/pkg/escalation"
	"github.com/netauton/sna-pdp/pkg/metrics"
	"github.com/netauton/sna-pdp/pkg/urlsafety"
	"github.com/netauton/sna-pdp/pkg/verdictstore"
)

func main() {
	cfg := config.Load()
	logger := slog.Default()
	ctx := context.Background()

	store, err := openVerdictStore(ctx, cfg.AuditDatabaseURL)
	if err != nil {
		log.Fatalf("sna-pdpd: failed to open verdict store: %v", err)
	}
	logger.Info("sna-pdpd: verdict store ready", "url", redactURL(cfg.AuditDatabaseURL))

	for _, webhookURL := range cfg.WebhookURLs {
		if err := urlsafety.ValidateWebhookURL(webhookURL); err != nil {
			log.Fatalf("sna-pdpd: configured webhook URL failed safety validation: %v", err)
		}
	}
	logger.Info("sna-pdpd: webhook URLs validated", "count", len(cfg.WebhookURLs))

	easCalc := eas.New(store, cfg.EASWindow)
	escalations := escalation.New(cfg.EscalationTTL, nil)

	meterProvider := sdkmetric.NewMeterProvider()
	defer func() { _ = meterProvider.Shutdown(ctx) }()
	recorder, err := metrics.New(meterProvider.Meter("sna-pdp"), easCalc, escalations)
	if err != nil {
		log.Fatalf("sna-pdpd: failed to build metrics recorder: %v", err)
	}

	eng := engine.New(nil, easCalc, escalations, store, recorder)

	loader := policyloader.New(cfg.PolicyDocumentPath, policyloader.DefaultPollInterval, eng, logger)
	if err := loader.LoadInitial(); err != nil {
		log.Fatalf("sna-pdpd: failed to load initial policy document: %v", err)
	}
	logger.Info("sna-pdpd: policy document loaded", "path", cfg.PolicyDocumentPath)

	watchCtx, cancelWatch := context.WithCancel(ctx)
	defer cancelWatch()
	go loader.Run(watchCtx)

	sweepCtx, cancelSweep := context.WithCancel(ctx)
	defer cancelSweep()
	go runEscalationSweep(sweepCtx, escalations, logger)

	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	go func() {
		logger.Info("sna-pdpd: health server listening", "addr", ":"+cfg.Port)
		//nolint:gosec // health endpoint only, no sensitive data
		if err := http.ListenAndServe(":"+cfg.Port, healthMux); err != nil {
			logger.Error("sna-pdpd: health server error", "error", err)
		}
	}()

	logger.Info("sna-pdpd: ready")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("sna-pdpd: shutting down")
}

// openVerdictStore selects the verdict store backend from the
// AUDIT_DATABASE_URL scheme: postgres:// opens a Postgres-backed store
// (running its migration), sqlite:// or a bare file path opens a
// pure-Go SQLite store, and an empty URL falls back to an in-memory
// store for local development.
func openVerdictStore(ctx context.Context, dbURL string) (verdictstore.Store, error) {
	switch {
	case dbURL == "":
		return verdictstore.NewMemoryStore(), nil
	case strings.HasPrefix(dbURL, "postgres://") || strings.HasPrefix(dbURL, "postgresql://"):
		db, err := sql.Open("postgres", dbURL)
		if err != nil {
			return nil, err
		}
		if err := db.PingContext(ctx); err != nil {
			return nil, err
		}
		store := verdictstore.NewPostgresStore(db)
		if err := store.Migrate(ctx); err != nil {
			return nil, err
		}
		return store, nil
	default:
		path := strings.TrimPrefix(dbURL, "sqlite://")
		db, err := sql.Open("sqlite", path)
		if err != nil {
			return nil, err
		}
		return verdictstore.NewSQLiteStore(db)
	}
}

// runEscalationSweep periodically expires PENDING escalations past
// their TTL, matching the teacher's manager.go CheckTimeouts sweep
// cadence.
func runEscalationSweep(ctx context.Context, registry *escalation.Registry, logger *slog.Logger) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if swept := registry.Expire(time.Now()); swept > 0 {
				logger.Info("sna-pdpd: expired pending escalations", "count", swept)
			}
		}
	}
}

// redactURL strips credentials from a database URL before logging it.
func redactURL(dbURL string) string {
	if i := strings.Index(dbURL, "@"); i != -1 {
		if j := strings.Index(dbURL, "://"); j != -1 && j < i {
			return dbURL[:j+3] + "***@" + dbURL[i+1:]
		}
	}
	return dbURL
}
