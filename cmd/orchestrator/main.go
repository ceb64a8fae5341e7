package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fortressi/sagaorch"
	"github.com/fortressi/sagaorch/httpapi"
	"github.com/fortressi/sagaorch/internal/config"
	"github.com/fortressi/sagaorch/internal/logger"
	"github.com/fortressi/sagaorch/internal/observability"
	"github.com/fortressi/sagaorch/orderflow"
	"github.com/fortressi/sagaorch/redisevents"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const serviceName = "saga-orchestrator"

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("orchestrator stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, log, serviceName, nil)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	router, cleanup, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()

	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout.Duration,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", zap.String("addr", cfg.HTTP.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout.Duration)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// newApp assembles the orchestrator and its HTTP API from cfg.
func newApp(ctx context.Context, cfg *config.Config, log *zap.Logger) (*gin.Engine, func(), error) {
	cleanup := func() {}

	registry := sagaorch.NewDefinitionRegistry[*orderflow.OrderRequest]()
	err := orderflow.Register(registry, orderflow.Endpoints{
		OrderURL:     cfg.Participants.OrderURL,
		PaymentURL:   cfg.Participants.PaymentURL,
		InventoryURL: cfg.Participants.InventoryURL,
	})
	if err != nil {
		return nil, cleanup, fmt.Errorf("register order saga: %w", err)
	}

	var executor sagaorch.StepExecutor = sagaorch.NewHTTPExecutor(nil)
	if cfg.Saga.Retries > 0 {
		executor = sagaorch.NewRetryingExecutor(executor, uint(cfg.Saga.Retries+1), cfg.Saga.RetryInterval.Duration)
	}

	metrics := sagaorch.NewMetrics()
	opts := []sagaorch.Option{
		sagaorch.WithLogger(log.Named("saga")),
		sagaorch.WithMetrics(metrics),
		sagaorch.WithStepTimeout(cfg.Saga.StepTimeout.Duration),
	}

	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, cleanup, fmt.Errorf("ping redis %s: %w", cfg.Redis.Addr, err)
		}
		cleanup = func() { _ = client.Close() }

		var sinkOpts []redisevents.Option
		if cfg.Redis.MaxLen > 0 {
			sinkOpts = append(sinkOpts, redisevents.WithMaxLen(cfg.Redis.MaxLen))
		}
		sink := redisevents.New(client, cfg.Redis.Stream, sinkOpts...)
		opts = append(opts, sagaorch.WithEventSink(sink))
		log.Info("publishing saga events", zap.String("redis", cfg.Redis.Addr), zap.String("stream", sink.Stream()))
	}

	orch := sagaorch.NewOrchestrator(registry, executor, opts...)

	if cfg.LogMode == "prod" || cfg.LogMode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := httpapi.NewRouter(httpapi.RouterConfig[*orderflow.OrderRequest]{
		Handler: httpapi.NewHandler(orch, func() *orderflow.OrderRequest {
			return &orderflow.OrderRequest{}
		}, log.Named("http")),
		Metrics:     metrics.Handler(),
		Logger:      log.Named("http"),
		ServiceName: serviceName,
	})
	return router, cleanup, nil
}
