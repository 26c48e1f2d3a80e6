package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/wildfire-lending/guardrail/internal/cache"
	"github.com/wildfire-lending/guardrail/internal/config"
	"github.com/wildfire-lending/guardrail/internal/engine"
	"github.com/wildfire-lending/guardrail/internal/engine/rules"
	"github.com/wildfire-lending/guardrail/internal/logging"
	"github.com/wildfire-lending/guardrail/internal/metrics"
	"github.com/wildfire-lending/guardrail/internal/server"
	"github.com/wildfire-lending/guardrail/internal/storage"
)

func main() {
	var (
		configFile = flag.String("config", "", "path to server configuration file")
		envPrefix  = flag.String("env-prefix", "GUARDRAIL", "environment variable prefix")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loader := config.NewLoader(*envPrefix, *configFile)
	cfg, err := loader.Load(ctx)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.Server.Logging)
	if err != nil {
		log.Fatalf("failed to configure logger: %v", err)
	}

	kv := buildCache(logger.With(slog.String("component", "cache_factory")), cfg.Server.Cache)
	defer func() {
		if err := kv.Close(context.Background()); err != nil {
			logger.Error("cache shutdown failed", slog.Any("error", err))
		}
	}()

	db, err := storage.Open(storage.OpenConfig{
		DSN:             cfg.Server.Database.DSN,
		MaxOpenConns:    cfg.Server.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Server.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Server.Database.ConnMaxLifetime(),
	})
	if err != nil {
		logger.Error("database setup failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error("database shutdown failed", slog.Any("error", err))
		}
	}()
	promRegistry := prometheus.NewRegistry()
	recorder := metrics.NewRecorder(promRegistry)

	store := storage.NewPostgres(db, logger, storage.WithCallObserver(recorder))
	instrumentedKV := cache.NewInstrumented(kv, recorder)

	manager := rules.NewManager(store, instrumentedKV, logger,
		rules.WithRulesTTL(time.Duration(cfg.Server.Cache.RulesTTLSeconds)*time.Second))

	var rulesWatcher *rules.Watcher
	if path := strings.TrimSpace(cfg.Server.Rules.RulesFile); path != "" {
		watcher, err := rules.WatchRulesFile(ctx, path, manager.SetStatic, func(err error) {
			logger.Error("rules watcher error", slog.Any("error", err))
		})
		if err != nil {
			logger.Error("rules watcher setup failed", slog.String("rules_file", path), slog.Any("error", err))
			os.Exit(1)
		}
		rulesWatcher = watcher
		defer rulesWatcher.Stop()
	}

	service := engine.NewService(logger)
	router := engine.NewRouter(manager, service, store, instrumentedKV, logger, recorder, cfg.Server.Evaluation.Timeout())

	mux := http.NewServeMux()
	mux.Handle("/metrics", recorder.Handler())
	mux.Handle("/", server.NewEngineHandler(router))

	srv, err := server.New(cfg, logger, mux)
	if err != nil {
		logger.Error("unable to construct server", slog.Any("error", err))
		os.Exit(1)
	}

	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server terminated unexpectedly", slog.Any("error", err))
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger.Info("server shutdown complete")
}

func buildCache(logger *slog.Logger, cfg config.CacheConfig) cache.KVCache {
	backend := strings.TrimSpace(strings.ToLower(cfg.Backend))
	switch backend {
	case "", "memory":
		logger.Info("using memory cache")
		return cache.NewMemory()
	case "valkey":
		valkeyCache, err := cache.NewValkey(cache.ValkeyConfig{
			Address:  cfg.Valkey.Address,
			Username: cfg.Valkey.Username,
			Password: cfg.Valkey.Password,
			DB:       cfg.Valkey.DB,
			TLS: cache.ValkeyTLSConfig{
				Enabled: cfg.Valkey.TLS.Enabled,
				CAFile:  cfg.Valkey.TLS.CAFile,
			},
		})
		if err != nil {
			logger.Error("valkey cache initialization failed", slog.Any("error", err))
			logger.Info("falling back to memory cache")
			return cache.NewMemory()
		}
		logger.Info("using valkey cache", slog.String("address", cfg.Valkey.Address))
		return valkeyCache
	default:
		logger.Warn("unsupported cache backend, defaulting to memory", slog.String("backend", cfg.Backend))
		return cache.NewMemory()
	}
}
