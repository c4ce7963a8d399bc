package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"ledger-payment-stats/internal/aggregation"
	"ledger-payment-stats/internal/config"
	"ledger-payment-stats/internal/ledger"
	"ledger-payment-stats/internal/logger"
	"ledger-payment-stats/internal/observability"
	"ledger-payment-stats/internal/storage"
	chstore "ledger-payment-stats/internal/storage/clickhouse"
	"ledger-payment-stats/internal/storage/memory"
	"ledger-payment-stats/internal/storage/migrations"
	pgstore "ledger-payment-stats/internal/storage/postgres"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file (defaults apply when empty)")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage regardless of store.backend")
	metricsAddr := flag.String("metrics-addr", "", "Override metrics.addr (\"off\" disables the HTTP server)")
	logLevel := flag.String("log-level", "", "Override log.level")
	streamEndpoint := flag.String("stream-endpoint", "", "Override stream.endpoint and enable the ledger stream")

	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	if *useMemory {
		cfg.Store.Backend = config.BackendMemory
	}
	if *metricsAddr != "" {
		cfg.Metrics.Addr = *metricsAddr
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *streamEndpoint != "" {
		cfg.Stream.Endpoint = *streamEndpoint
		cfg.Stream.Enabled = true
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}

	log, closer, err := logger.New(cfg.Log.Level, cfg.Log.Format, cfg.Log.Destination)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(2)
	}
	defer closer.Close()
	slog.SetDefault(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals with graceful timeout
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		select {
		case sig := <-sigCh:
			log.Info("received signal, shutting down", "signal", sig.String())
			cancel()
		case <-done:
			return
		}

		// Wait for second signal for immediate shutdown
		select {
		case sig := <-sigCh:
			log.Error("received second signal, forcing exit", "signal", sig.String())
			os.Exit(1)
		case <-time.After(30 * time.Second):
			log.Error("graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
		}
	}()

	err = run(ctx, cfg, log)
	close(done)

	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error("aggregator stopped", "err", err)
		closer.Close()
		os.Exit(1)
	}
	log.Info("shutdown complete")
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

// run wires the stores, the aggregator, the optional ledger stream and the
// metrics server, and blocks until ctx is canceled or a component fails.
func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	log.Info("starting aggregator", "config", cfg)

	stores, err := openStores(ctx, cfg.Store, log)
	if err != nil {
		return err
	}
	defer stores.close()

	retention := cfg.Aggregator.Retention()
	if retention == 0 {
		retention = aggregation.NoRetentionOffset
	}

	agg, err := aggregation.New(aggregation.Options{
		AggregateStore:    stores.aggregates,
		ExchangeStore:     stores.exchanges,
		Logger:            log.With("component", "aggregator"),
		PollInterval:      cfg.Aggregator.PollInterval,
		ReapInterval:      cfg.Aggregator.ReapInterval,
		RetentionOffset:   retention,
		CallTimeout:       cfg.Aggregator.CallTimeout,
		LoadConcurrency:   cfg.Aggregator.LoadConcurrency,
		LookupConcurrency: cfg.Aggregator.LookupConcurrency,
		RateCacheSize:     cfg.Aggregator.RateCacheSize,
	})
	if err != nil {
		return fmt.Errorf("create aggregator: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return agg.Run(gctx)
	})

	if cfg.Stream.Enabled {
		stream, err := ledger.NewStream(ledger.DefaultStreamConfig(cfg.Stream.Endpoint), agg, log)
		if err != nil {
			return fmt.Errorf("create ledger stream: %w", err)
		}
		g.Go(func() error {
			return stream.Run(gctx)
		})
	} else {
		log.Info("ledger stream disabled; payments must be enqueued by an embedding process")
	}

	if cfg.Metrics.Addr != "" && cfg.Metrics.Addr != "off" {
		srv := &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           newMux(agg),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			log.Info("starting metrics server", "addr", cfg.Metrics.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}

// newMux serves /metrics and a /health endpoint reporting aggregator stats.
func newMux(agg *aggregation.Aggregator) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		s := agg.Stats()
		resp := healthResponse{
			Status:        "ok",
			Queued:        s.Queued,
			Enqueued:      s.Enqueued,
			Cycles:        s.Cycles,
			FailedCycles:  s.FailedCycles,
			CachedBuckets: s.CachedBuckets,
		}
		if !s.LastCycleAt.IsZero() {
			resp.LastCycleAt = s.LastCycleAt.Format(time.RFC3339Nano)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	})
	return mux
}

type healthResponse struct {
	Status        string `json:"status"`
	Queued        int    `json:"queued"`
	Enqueued      int64  `json:"enqueued"`
	Cycles        int64  `json:"cycles"`
	FailedCycles  int64  `json:"failed_cycles"`
	CachedBuckets int    `json:"cached_buckets"`
	LastCycleAt   string `json:"last_cycle_at,omitempty"`
}

type storeSet struct {
	aggregates storage.AggregateStore
	exchanges  storage.ExchangeStore
	close      func()
}

// openStores connects the configured backend, running migrations first
// when store.migrate is set.
func openStores(ctx context.Context, cfg config.StoreConfig, log *slog.Logger) (*storeSet, error) {
	switch cfg.Backend {
	case config.BackendPostgres:
		pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		if cfg.Migrate {
			if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
				pool.Close()
				return nil, fmt.Errorf("postgres migrations: %w", err)
			}
			log.Info("postgres migrations applied")
		}
		return &storeSet{
			aggregates: pgstore.NewAggregateStore(pool),
			exchanges:  pgstore.NewExchangeStore(pool),
			close:      pool.Close,
		}, nil

	case config.BackendClickhouse:
		var conn *chstore.Conn
		var err error
		if cfg.Migrate {
			conn, err = migrations.RunClickhouseMigrations(ctx, cfg.ClickhouseDSN)
			if err == nil {
				log.Info("clickhouse migrations applied")
			}
		} else {
			conn, err = chstore.NewConn(ctx, cfg.ClickhouseDSN)
		}
		if err != nil {
			return nil, fmt.Errorf("connect to clickhouse: %w", err)
		}
		return &storeSet{
			aggregates: chstore.NewAggregateStore(conn),
			exchanges:  chstore.NewExchangeStore(conn),
			close:      func() { conn.Close() },
		}, nil

	default:
		log.Warn("using in-memory storage; aggregates are lost on exit")
		return &storeSet{
			aggregates: memory.NewAggregateStore(),
			exchanges:  memory.NewExchangeStore(),
			close:      func() {},
		}, nil
	}
}
