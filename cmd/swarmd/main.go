// Command swarmd runs the swarm coordination daemon: the HTTP + JSON API,
// the WebSocket event feed, the MCP tool server, and the optional NATS
// relay, all over one shared coordination store.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/hivetown/swarmd/internal/adapter/fsstore"
	"github.com/hivetown/swarmd/internal/adapter/httpapi"
	"github.com/hivetown/swarmd/internal/adapter/mcp"
	"github.com/hivetown/swarmd/internal/adapter/memstore"
	swarmnats "github.com/hivetown/swarmd/internal/adapter/nats"
	"github.com/hivetown/swarmd/internal/adapter/natskv"
	"github.com/hivetown/swarmd/internal/adapter/otel"
	"github.com/hivetown/swarmd/internal/adapter/postgres"
	"github.com/hivetown/swarmd/internal/adapter/ristretto"
	"github.com/hivetown/swarmd/internal/adapter/tiered"
	"github.com/hivetown/swarmd/internal/adapter/ws"
	"github.com/hivetown/swarmd/internal/config"
	"github.com/hivetown/swarmd/internal/domain/result"
	"github.com/hivetown/swarmd/internal/logger"
	"github.com/hivetown/swarmd/internal/middleware"
	"github.com/hivetown/swarmd/internal/port/cache"
	"github.com/hivetown/swarmd/internal/port/database"
	"github.com/hivetown/swarmd/internal/port/messagequeue"
	"github.com/hivetown/swarmd/internal/resilience"
	"github.com/hivetown/swarmd/internal/service"
)

const version = "0.1.0"

func main() {
	if len(os.Args) > 1 && os.Args[1] == "admin" {
		os.Exit(runAdmin(os.Args[2:]))
	}

	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, closeLog := logger.New(cfg.Logging)
	slog.SetDefault(log)
	defer closeLog.Close()

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"store", cfg.Store.Backend,
		"nats", cfg.NATS.Enabled,
		"mcp", cfg.MCP.Enabled,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Observability ---
	var metrics *otel.Metrics
	if cfg.Otel.Enabled {
		shutdown, err := otel.Setup(ctx, cfg.Logging.Service, cfg.Otel.Endpoint)
		if err != nil {
			return fmt.Errorf("otel: %w", err)
		}
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(flushCtx); err != nil {
				slog.Warn("otel shutdown", "error", err)
			}
		}()
		if metrics, err = otel.NewMetrics(); err != nil {
			return fmt.Errorf("otel metrics: %w", err)
		}
	}

	// --- Store ---
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	defer closeStore()
	slog.Info("store ready", "backend", cfg.Store.Backend)

	// --- NATS relay (optional) ---
	var queue messagequeue.Queue
	var natsConn *swarmnats.Queue
	if cfg.NATS.Enabled {
		natsConn, err = swarmnats.Connect(ctx, cfg.NATS.URL)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer func() { _ = natsConn.Drain() }()
		queue = natsConn
	}

	// --- Services ---
	hub := ws.NewHub()
	breaker := resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)
	relay := service.NewRelay(hub, queue, breaker)

	taskSvc := service.NewTaskService(store, relay, cfg.Swarm, metrics)
	workerSvc := service.NewWorkerService(store, relay, cfg.Swarm, metrics)
	lockSvc := service.NewLockService(store, relay, cfg.Swarm, metrics)
	collectorSvc := service.NewCollectorService(store, taskSvc, workerSvc, lockSvc, relay, metrics)
	waveSvc := service.NewWaveService(store, taskSvc, workerSvc, collectorSvc, relay, cfg.Swarm, metrics)
	statusSvc := service.NewStatusService(store)

	// Inbound result submissions for workers that cannot reach the HTTP API.
	if natsConn != nil {
		cancelSub, err := natsConn.Subscribe(ctx, messagequeue.SubjectResultSubmit,
			func(ctx context.Context, _ string, data []byte) error {
				var r result.Result
				if err := json.Unmarshal(data, &r); err != nil {
					slog.Warn("discarding undecodable result submission", "error", err)
					return nil // do not redeliver garbage
				}
				return collectorSvc.Submit(ctx, &r)
			})
		if err != nil {
			return fmt.Errorf("result subscriber: %w", err)
		}
		defer cancelSub()
	}

	// --- Read cache ---
	readCache, closeCache, err := buildCache(ctx, cfg, natsConn)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer closeCache()

	// --- HTTP ---
	handlers := &httpapi.Handlers{
		Status:    statusSvc,
		Tasks:     taskSvc,
		Workers:   workerSvc,
		Locks:     lockSvc,
		Waves:     waveSvc,
		Collector: collectorSvc,
		Cache:     readCache,
		CacheTTL:  cfg.Cache.StatusTTL,
	}

	r := chi.NewRouter()
	r.Use(httpapi.CORS(cfg.Server.CORSOrigin))
	// RequestID must wrap Logger so the logged request carries the ID.
	r.Use(middleware.RequestID)
	r.Use(httpapi.Logger)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))
	if cfg.Otel.Enabled {
		r.Use(otel.HTTPMiddleware(cfg.Logging.Service))
	}
	r.Use(middleware.APIKey(cfg.Auth.KeyHash))

	r.Get("/health", healthHandler(store, queue))
	r.Get("/ws", hub.HandleWS)
	httpapi.MountRoutes(r, handlers)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// --- MCP ---
	var mcpSrv *mcp.Server
	if cfg.MCP.Enabled {
		mcpSrv = mcp.NewServer(
			mcp.ServerConfig{Addr: cfg.MCP.Addr, Name: "swarmd", Version: version},
			mcp.ServerDeps{
				Status:  statusSvc,
				Tasks:   taskSvc,
				Workers: workerSvc,
				Locks:   lockSvc,
				Waves:   waveSvc,
				Results: collectorSvc,
			})
		if err := mcpSrv.Start(); err != nil {
			return fmt.Errorf("mcp: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("starting server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if mcpSrv != nil {
			if err := mcpSrv.Stop(shutdownCtx); err != nil {
				slog.Warn("mcp shutdown", "error", err)
			}
		}
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// openStore builds the configured store backend.
func openStore(ctx context.Context, cfg *config.Config) (database.Store, func(), error) {
	switch cfg.Store.Backend {
	case "fs":
		s, err := fsstore.New(cfg.Store.FS)
		if err != nil {
			return nil, nil, err
		}
		return s, func() {}, nil
	case "postgres":
		pool, err := postgres.NewPool(ctx, cfg.Store.Postgres)
		if err != nil {
			return nil, nil, err
		}
		if err := postgres.RunMigrations(ctx, cfg.Store.Postgres.DSN); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return postgres.New(pool), pool.Close, nil
	case "memory":
		return memstore.New(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

// buildCache assembles the read-path cache: ristretto L1, optionally tiered
// with a NATS KV L2 when the relay is connected.
func buildCache(ctx context.Context, cfg *config.Config, natsConn *swarmnats.Queue) (cache.Cache, func(), error) {
	l1, err := ristretto.New(cfg.Cache.L1MaxSizeMB)
	if err != nil {
		return nil, nil, err
	}
	if natsConn == nil {
		return l1, l1.Close, nil
	}

	kv, err := natsConn.KeyValue(ctx, cfg.NATS.KVBucket)
	if err != nil {
		l1.Close()
		return nil, nil, err
	}
	return tiered.New(l1, natskv.New(kv), cfg.Cache.StatusTTL), l1.Close, nil
}

// healthHandler reports transport and store reachability.
func healthHandler(store database.Store, queue messagequeue.Queue) http.HandlerFunc {
	type health struct {
		Connected      bool `json:"connected"`
		StoreReachable bool `json:"storeReachable"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		h := health{Connected: true, StoreReachable: store.Ping(r.Context()) == nil}
		if queue != nil {
			h.Connected = queue.IsConnected()
		}
		w.Header().Set("Content-Type", "application/json")
		if !h.StoreReachable {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(h)
	}
}
