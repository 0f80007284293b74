package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lattice-labs/bmde-go/internal/designsource"
	"github.com/lattice-labs/bmde-go/internal/envelope"
	"github.com/lattice-labs/bmde-go/internal/platform/env"
	"github.com/lattice-labs/bmde-go/internal/platform/httpserver"
	"github.com/lattice-labs/bmde-go/internal/platform/objectstore"
	"github.com/lattice-labs/bmde-go/internal/platform/postgres"
	"github.com/lattice-labs/bmde-go/internal/verifier"
)

const serviceName = "provider"

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx := context.Background()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := env.String("PROVIDER_HTTP_ADDR", ":8000")
	shutdownTimeout, err := env.Duration("PROVIDER_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	maxBody, err := env.Bytes("PROVIDER_MAX_BODY_BYTES", 1<<20)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	corsOrigin := env.String("PROVIDER_CORS_ORIGIN", "*")

	checks := []httpserver.ReadinessCheck{}

	var opener verifier.RecordOpener
	keyed, err := envelope.New(envelope.ConfigFromEnv())
	if err != nil {
		// Orders are still answered, each rejected with missing_key.
		logger.Error("encryption key unavailable", "error", err)
	} else {
		opener = keyed
	}

	srcCfg, err := designsource.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid design source config", "error", err)
		os.Exit(2)
	}
	var source designsource.Source
	switch srcCfg.Kind {
	case designsource.KindMinio:
		storeCfg, err := objectstore.ConfigFromEnv()
		if err != nil {
			logger.Error("invalid object store config", "error", err)
			os.Exit(2)
		}
		client, err := objectstore.NewMinIOClient(storeCfg)
		if err != nil {
			logger.Error("object store unavailable", "error", err)
			os.Exit(1)
		}
		store, err := objectstore.NewStore(client, storeCfg)
		if err != nil {
			logger.Error("object store unavailable", "error", err)
			os.Exit(1)
		}
		source = designsource.NewBucket(store)
		checks = append(checks, httpserver.ReadinessCheck{
			Name: "objectstore",
			Check: func(ctx context.Context) error {
				checkCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
				defer cancel()
				return objectstore.CheckBucket(checkCtx, client, storeCfg)
			},
		})
	default:
		source = designsource.Dir{Root: srcCfg.Dir}
	}

	dbCfg, err := postgres.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid database config", "error", err)
		os.Exit(2)
	}
	db, err := postgres.Open(ctx, dbCfg)
	if err != nil {
		logger.Error("database unavailable", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()
	if err := postgres.Migrate(ctx, db); err != nil {
		logger.Error("database migration failed", "error", err)
		os.Exit(1)
	}
	checks = append(checks, httpserver.ReadinessCheck{
		Name: "postgres",
		Check: func(ctx context.Context) error {
			checkCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
			defer cancel()
			return db.PingContext(checkCtx)
		},
	})

	cacheCfg, err := verifier.CacheConfigFromEnv()
	if err != nil {
		logger.Error("invalid cache config", "error", err)
		os.Exit(2)
	}
	deps := verifier.Deps{
		Logger:   logger,
		Source:   source,
		Opener:   opener,
		Recorder: verifier.SQLRecorder{DB: db},
		Actor:    serviceName,
	}
	cache, err := verifier.OpenBadgerCache(cacheCfg, logger)
	if err != nil {
		logger.Error("cache unavailable", "error", err)
		os.Exit(1)
	}
	if cache != nil {
		defer func() { _ = cache.Close() }()
		deps.Cache = cache
	}

	svc, err := verifier.New(deps)
	if err != nil {
		logger.Error("invalid verifier config", "error", err)
		os.Exit(2)
	}
	checks = append(checks, httpserver.ReadinessCheck{Name: "encryption_key", Check: svc.Ready})

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", httpserver.Healthz(serviceName))
	mux.HandleFunc("/readyz", httpserver.Readyz(serviceName, checks...))
	mux.Handle("GET /metrics", promhttp.Handler())

	api := newProviderAPI(logger, svc)
	api.register(mux)

	cfg := httpserver.Config{
		Service:         serviceName,
		Addr:            addr,
		ShutdownTimeout: shutdownTimeout,
		MaxBodyBytes:    maxBody,
	}

	if err := httpserver.Run(ctx, logger, cfg, httpserver.Wrap(logger, cfg, withCORS(corsOrigin, mux))); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}
