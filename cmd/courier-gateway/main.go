// Courier Gateway — HTTP API шлюза.
//
// Принимает задачи и callbacks, отдаёт их состояние для аудита.
// Постановка задачи и приём callback'а пишутся в Postgres до ответа;
// RabbitMQ используется только как уведомление обработчикам.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/Courier/internal/api"
	"github.com/shaiso/Courier/internal/apiclient"
	"github.com/shaiso/Courier/internal/config"
	"github.com/shaiso/Courier/internal/correlate"
	"github.com/shaiso/Courier/internal/credentials"
	"github.com/shaiso/Courier/internal/engine"
	"github.com/shaiso/Courier/internal/gateway"
	"github.com/shaiso/Courier/internal/handlers"
	"github.com/shaiso/Courier/internal/mq"
	"github.com/shaiso/Courier/internal/repo"
	"github.com/shaiso/Courier/internal/telemetry"

	"github.com/redis/go-redis/v9"
)

var (
	startTime = time.Now()
	reqTotal  = promauto.NewCounter(prometheus.CounterOpts{
		Name: "courier_gateway_http_requests_total",
		Help: "Total HTTP requests handled by courier_gateway",
	})
)

func main() {
	logger := telemetry.SetupLogger()
	logger.Info("starting courier-gateway")

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
	callbackRepo := repo.NewCallbackRepo(pool)
	correlationRepo := repo.NewCorrelationRepo(pool)

	// RabbitMQ опционален: без него задачи подберёт polling диспетчера.
	// Интерфейсные поля оставляем nil, а не typed-nil указателем.
	var taskPublisher gateway.TaskPublisher
	var callbackPublisher correlate.CallbackPublisher
	mqConn, err := mq.NewConnection(cfg.RabbitURL, logger)
	if err != nil {
		logger.Warn("RabbitMQ not available, tasks will be picked up by polling", "error", err)
	} else {
		defer mqConn.Close()
		logger.Info("RabbitMQ connected")

		if err := mq.SetupTopology(mqConn); err != nil {
			logger.Warn("failed to setup topology", "error", err)
		}

		publisher := mq.NewPublisher(mqConn, logger)
		taskPublisher = publisher
		callbackPublisher = publisher
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

	// Registry нужен шлюзу для валидации входа: невалидная задача
	// фиксируется сразу в FAILED, не доходя до диспетчера.
	registry := handlers.NewRegistry()
	registry.Register(handlers.NewRESTHandler(caller))
	registry.Register(handlers.NewSOAPHandler(caller))

	service := gateway.NewService(taskRepo, registry, taskPublisher, logger)

	// Correlator здесь только принимает callbacks (persist + publish);
	// сопоставление выполняют adapter и sweeper.
	correlator := correlate.New(correlate.Config{
		Callbacks:    callbackRepo,
		Correlations: correlationRepo,
		Signaler:     engine.NewClient(cfg.Engine, logger),
		Publisher:    callbackPublisher,
		Logger:       logger,
	})

	handler := api.NewHandler(api.Config{
		Submitter:    service,
		Receiver:     correlator,
		Tasks:        taskRepo,
		Callbacks:    callbackRepo,
		Correlations: correlationRepo,
		Logger:       logger,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		reqTotal.Inc()
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "ok %s", time.Since(startTime))
	})
	mux.Handle("/metrics", promhttp.Handler())

	handler.RegisterRoutes(mux)

	server := &http.Server{
		Addr:    ":" + cfg.GatewayPort,
		Handler: mux,
	}

	go func() {
		logger.Info("listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	logger.Info("stopped")
}
