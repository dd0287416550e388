// Courier Dispatcher — выполняет tasks.
//
// Dispatcher:
//   - Получает уведомления task.submitted из RabbitMQ
//   - Поднимает готовые tasks polling'ом как fallback
//   - Захватывает task через CAS и зовёт обработчик топика
//   - Планирует повторные попытки через RETRYING + exponential backoff
//
// Dispatchers масштабируются горизонтально: CAS на захвате гарантирует,
// что task выполняется одним инстансом.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/shaiso/Courier/internal/apiclient"
	"github.com/shaiso/Courier/internal/config"
	"github.com/shaiso/Courier/internal/credentials"
	"github.com/shaiso/Courier/internal/dispatch"
	"github.com/shaiso/Courier/internal/handlers"
	"github.com/shaiso/Courier/internal/mq"
	"github.com/shaiso/Courier/internal/repo"
	"github.com/shaiso/Courier/internal/telemetry"
)

func main() {
	logger := telemetry.SetupLogger()
	logger.Info("starting courier-dispatcher")

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pool, err := repo.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("database connected")

	taskRepo := repo.NewTaskRepo(pool)

	var mqConn *mq.Connection
	mqConn, err = mq.NewConnection(cfg.RabbitURL, logger)
	if err != nil {
		logger.Warn("RabbitMQ not available, running in polling-only mode", "error", err)
		mqConn = nil
	} else {
		defer mqConn.Close()
		logger.Info("RabbitMQ connected")

		if err := mq.SetupTopology(mqConn); err != nil {
			logger.Warn("failed to setup topology", "error", err)
		}
	}

	apis, err := cfg.APIs()
	if err != nil {
		logger.Error("failed to parse APIS", "error", err)
		os.Exit(1)
	}

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
	}

	tokens := credentials.NewCache(credentials.CacheConfig{
		Issuer:       credentials.NewAuthClient(apis),
		Redis:        rdb,
		SafetyMargin: cfg.Credentials.SafetyMargin,
		Logger:       logger,
	})
	caller := apiclient.New(apis, tokens, logger)

	registry := handlers.NewRegistry()
	registry.Register(handlers.NewRESTHandler(caller))
	registry.Register(handlers.NewSOAPHandler(caller))

	dispatcher := dispatch.New(dispatch.Config{
		Store:    taskRepo,
		Registry: registry,
		Conn:     mqConn,
		Dispatch: cfg.Dispatch,
		Retry:    cfg.Retry,
		Logger:   logger,
	})
	dispatcher.Start(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	go func() {
		addr := ":" + cfg.DispatcherPort
		logger.Info("listening", "addr", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()

	dispatcher.Stop()
	logger.Info("courier-dispatcher stopped")
}
