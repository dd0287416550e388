// Courier Adapter — мост между workflow-движком и шлюзом.
//
// Adapter:
//   - Забирает external tasks из движка (fetchAndLock)
//   - Ставит их задачами в шлюз и продлевает лок, пока задача живёт
//   - Маппит терминальный статус обратно (complete / failure / bpmnError)
//   - Регистрирует ожидания callbacks и шлёт сигналы возобновления
//
// Движок видит одну «долгую» задачу; retry шлюза скрыты за локом.
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
	"github.com/shaiso/Courier/internal/correlate"
	"github.com/shaiso/Courier/internal/credentials"
	"github.com/shaiso/Courier/internal/engine"
	"github.com/shaiso/Courier/internal/gateway"
	"github.com/shaiso/Courier/internal/handlers"
	"github.com/shaiso/Courier/internal/mq"
	"github.com/shaiso/Courier/internal/repo"
	"github.com/shaiso/Courier/internal/telemetry"
)

func main() {
	logger := telemetry.SetupLogger()
	logger.Info("starting courier-adapter")

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

	// Интерфейсные поля оставляем nil, а не typed-nil указателем.
	var taskPublisher gateway.TaskPublisher
	var callbackPublisher correlate.CallbackPublisher
	var mqConn *mq.Connection
	mqConn, err = mq.NewConnection(cfg.RabbitURL, logger)
	if err != nil {
		logger.Warn("RabbitMQ not available, callbacks will be matched by sweeper only", "error", err)
		mqConn = nil
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

	registry := handlers.NewRegistry()
	registry.Register(handlers.NewRESTHandler(caller))
	registry.Register(handlers.NewSOAPHandler(caller))

	service := gateway.NewService(taskRepo, registry, taskPublisher, logger)
	engineClient := engine.NewClient(cfg.Engine, logger)

	// Adapter же и сопоставляет callbacks: у него есть клиент движка
	// для отправки сигналов возобновления.
	correlator := correlate.New(correlate.Config{
		Callbacks:    callbackRepo,
		Correlations: correlationRepo,
		Signaler:     engineClient,
		Publisher:    callbackPublisher,
		Conn:         mqConn,
		Logger:       logger,
	})
	correlator.Start(ctx)

	worker := engine.NewWorker(engine.WorkerConfig{
		Client:    engineClient,
		Submitter: service,
		Registry:  registry,
		Pending:   correlationRepo,
		Engine:    cfg.Engine,
		Logger:    logger,
	})
	worker.Start(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	go func() {
		addr := ":" + cfg.AdapterPort
		logger.Info("listening", "addr", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()

	worker.Stop()
	correlator.Stop()
	logger.Info("courier-adapter stopped")
}
