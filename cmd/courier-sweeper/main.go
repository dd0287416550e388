// Courier Sweeper — периодические компенсирующие задачи.
//
// Sweeper:
//   - Возвращает tasks с истёкшей арендой из IN_PROGRESS в PENDING
//   - Прогоняет reconciliation sweep по несопоставленным callbacks
//
// Оба прохода идемпотентны, но выполняются одним лидером: инстансы
// соревнуются за advisory lock в Postgres, не-лидеры пропускают тики.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"

	"github.com/shaiso/Courier/internal/config"
	"github.com/shaiso/Courier/internal/correlate"
	"github.com/shaiso/Courier/internal/dispatch"
	"github.com/shaiso/Courier/internal/engine"
	"github.com/shaiso/Courier/internal/mq"
	"github.com/shaiso/Courier/internal/repo"
	"github.com/shaiso/Courier/internal/telemetry"
)

const sweepLockKey int64 = 727272

// leaderLock — лидерство через pg advisory lock.
// Лок держится сессией пула; TryAcquire после потери соединения
// возвращает лидерство автоматически.
type leaderLock struct {
	pool *pgxpool.Pool
	held bool
}

func (l *leaderLock) TryAcquire(ctx context.Context) bool {
	if l.held {
		return true
	}
	var ok bool
	if err := l.pool.QueryRow(ctx, "select pg_try_advisory_lock($1)", sweepLockKey).Scan(&ok); err != nil {
		return false
	}
	l.held = ok
	return ok
}

func (l *leaderLock) Release() {
	if l.held {
		_, _ = l.pool.Exec(context.Background(), "select pg_advisory_unlock($1)", sweepLockKey)
		l.held = false
	}
}

func main() {
	logger := telemetry.SetupLogger()
	logger.Info("starting courier-sweeper")

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

	// Publisher нужен реклеймеру, чтобы возвращённые tasks подхватились
	// диспетчерами без ожидания их polling'а.
	// Интерфейсные поля оставляем nil, а не typed-nil указателем.
	var taskPublisher dispatch.TaskPublisher
	var callbackPublisher correlate.CallbackPublisher
	mqConn, err := mq.NewConnection(cfg.RabbitURL, logger)
	if err != nil {
		logger.Warn("RabbitMQ not available, reclaimed tasks rely on dispatcher polling", "error", err)
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

	reclaimer := dispatch.NewReclaimer(taskRepo, taskPublisher, logger)

	// Sweep может досылать сигналы, поэтому sweeper'у нужен клиент движка.
	correlator := correlate.New(correlate.Config{
		Callbacks:    callbackRepo,
		Correlations: correlationRepo,
		Signaler:     engine.NewClient(cfg.Engine, logger),
		Publisher:    callbackPublisher,
		Logger:       logger,
	})
	reconciler := correlate.NewReconciler(
		callbackRepo,
		correlator,
		cfg.Sweep.CallbackRetention,
		cfg.Sweep.ReconcileBatch,
		logger,
	)

	leader := &leaderLock{pool: pool}
	defer leader.Release()

	sched := cron.New()

	if _, err := sched.AddFunc(cfg.Sweep.ReclaimSpec, func() {
		if !leader.TryAcquire(ctx) {
			return
		}
		if err := reclaimer.Run(ctx); err != nil {
			logger.Error("reclaim failed", "error", err)
		}
	}); err != nil {
		logger.Error("invalid reclaim spec", "spec", cfg.Sweep.ReclaimSpec, "error", err)
		os.Exit(1)
	}

	if _, err := sched.AddFunc(cfg.Sweep.ReconcileSpec, func() {
		if !leader.TryAcquire(ctx) {
			return
		}
		if err := reconciler.Sweep(ctx); err != nil {
			logger.Error("reconcile sweep failed", "error", err)
		}
	}); err != nil {
		logger.Error("invalid reconcile spec", "spec", cfg.Sweep.ReconcileSpec, "error", err)
		os.Exit(1)
	}

	sched.Start()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	go func() {
		addr := ":" + cfg.SweeperPort
		logger.Info("listening", "addr", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()

	<-sched.Stop().Done()
	logger.Info("courier-sweeper stopped")
}
