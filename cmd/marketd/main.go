// Command marketd serves a single market over HTTP.
//
// Configuration comes from MARKET_* environment variables, optionally read
// from a .env file. Payouts settle on an in-process wallet.Bank.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/xraph/market"
	"github.com/xraph/market/account"
	"github.com/xraph/market/api"
	audithook "github.com/xraph/market/audit_hook"
	"github.com/xraph/market/observability"
	"github.com/xraph/market/relay"
	"github.com/xraph/market/store"
	"github.com/xraph/market/store/memory"
	"github.com/xraph/market/store/mongo"
	"github.com/xraph/market/store/postgres"
	"github.com/xraph/market/store/sqlite"
	"github.com/xraph/market/wallet"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	if err := godotenv.Load(); err != nil {
		logger.Warn(".env file not found, relying on environment")
	}

	cfg, err := Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Level()}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("marketd exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *Config, logger *slog.Logger) error {
	owner, err := account.Parse(cfg.Owner)
	if err != nil {
		return fmt.Errorf("owner: %w", err)
	}

	s, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	opts := []market.Option{
		market.WithLogger(logger),
		market.WithCurrency(cfg.Currency),
		market.WithHookTimeout(cfg.HookTimeout),
		market.WithPayout(wallet.NewBank()),
	}
	if cfg.Metrics {
		opts = append(opts, market.WithPlugin(observability.NewMetricsExtension(observability.NewPrometheusFactory(reg))))
	}
	if cfg.Audit {
		opts = append(opts, market.WithPlugin(audithook.New(auditLog(logger), audithook.WithLogger(logger))))
	}
	relays, err := openRelays(ctx, cfg, logger)
	if err != nil {
		_ = s.Close()
		return err
	}
	for _, r := range relays {
		opts = append(opts, market.WithPlugin(r))
	}

	m, err := market.New(owner, s, opts...)
	if err != nil {
		_ = s.Close()
		return err
	}
	if err := m.Start(ctx); err != nil {
		_ = m.Stop()
		return fmt.Errorf("start market: %w", err)
	}
	defer func() {
		if err := m.Stop(); err != nil {
			logger.Error("error stopping market", "error", err)
		}
	}()

	router := chi.NewRouter()
	router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := s.Ping(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	router.Mount("/", api.New(m, api.WithLogger(logger)))

	srv := &http.Server{Addr: cfg.Addr, Handler: router}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("marketd listening", "addr", cfg.Addr, "store", cfg.Store)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	logger.Info("marketd shutting down")
	return srv.Shutdown(shutdownCtx)
}

func openStore(ctx context.Context, cfg *Config) (store.Store, error) {
	switch cfg.Store {
	case StoreSQLite:
		return sqlite.Open(cfg.SQLite.DSN)
	case StorePostgres:
		return postgres.Open(ctx, cfg.Postgres.URL)
	case StoreMongo:
		return mongo.Open(cfg.Mongo.URI, cfg.Mongo.Database)
	default:
		return memory.New(), nil
	}
}

func openRelays(ctx context.Context, cfg *Config, logger *slog.Logger) ([]*relay.Relay, error) {
	var relays []*relay.Relay

	if cfg.Redis.URL != "" {
		pub, err := relay.DialRedis(ctx, cfg.Redis.URL, cfg.Redis.Prefix)
		if err != nil {
			return nil, err
		}
		relays = append(relays, relay.New(pub, relay.WithName("relay-redis"), relay.WithLogger(logger)))
	}

	if cfg.AMQP.URL != "" {
		pub, err := relay.DialAMQP(cfg.AMQP.URL, cfg.AMQP.Exchange)
		if err != nil {
			for _, r := range relays {
				_ = r.Close()
			}
			return nil, err
		}
		relays = append(relays, relay.New(pub, relay.WithName("relay-amqp"), relay.WithLogger(logger)))
	}

	return relays, nil
}

// auditLog records audit events as structured log lines.
func auditLog(logger *slog.Logger) audithook.RecorderFunc {
	return func(ctx context.Context, e *audithook.AuditEvent) error {
		logger.LogAttrs(ctx, slog.LevelInfo, "audit",
			slog.String("action", e.Action),
			slog.String("resource", e.Resource),
			slog.String("resource_id", e.ResourceID),
			slog.String("actor", e.Actor),
			slog.String("outcome", e.Outcome),
			slog.String("severity", e.Severity),
			slog.Any("metadata", e.Metadata),
		)
		return nil
	}
}
