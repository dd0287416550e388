package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Courier/internal/config"
	"github.com/shaiso/Courier/internal/domain"
	"github.com/shaiso/Courier/internal/handlers"
	"github.com/shaiso/Courier/internal/mq"
	"github.com/shaiso/Courier/internal/repo"
	"github.com/shaiso/Courier/internal/telemetry"
)

// TaskStore — подмножество репозитория tasks, нужное диспетчеру.
type TaskStore interface {
	Claim(ctx context.Context, id uuid.UUID, lease time.Duration) (*domain.Task, error)
	MarkSucceeded(ctx context.Context, id uuid.UUID, result map[string]any) error
	MarkRetrying(ctx context.Context, id uuid.UUID, errCode, errMsg string, nextAttemptAt time.Time) error
	MarkFailed(ctx context.Context, id uuid.UUID, errCode, errMsg string) error
	ListDispatchable(ctx context.Context, limit int) ([]domain.Task, error)
}

// Dispatcher выполняет tasks: захватывает запись через CAS,
// зовёт обработчик топика и фиксирует исход.
//
// Два источника работы:
// - событийный: сообщения task.submitted из RabbitMQ (низкая латентность)
// - polling fallback: периодическая выборка готовых tasks из Postgres
//
// Повторные попытки планирует сам диспетчер: transient-ошибка переводит
// task в RETRYING с next_attempt_at по экспоненциальному backoff.
// Инлайновых циклов retry со sleep нет — между попытками task не держит
// ни горутину, ни слот семафора.
type Dispatcher struct {
	store    TaskStore
	registry *handlers.Registry
	conn     *mq.Connection
	logger   *slog.Logger

	dispatchCfg config.DispatchConfig
	retryCfg    config.RetryConfig

	// now подменяется в тестах.
	now func() time.Time

	// sem ограничивает число одновременных выполнений.
	sem chan struct{}

	consumer *mq.Consumer

	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

// Config — зависимости и настройки диспетчера.
type Config struct {
	Store    TaskStore
	Registry *handlers.Registry

	// Conn — соединение с RabbitMQ. nil — только polling.
	Conn *mq.Connection

	Dispatch config.DispatchConfig
	Retry    config.RetryConfig

	Logger *slog.Logger

	// Now — источник времени. nil — time.Now.
	Now func() time.Time
}

// New создаёт Dispatcher.
func New(cfg Config) *Dispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	concurrency := cfg.Dispatch.MaxConcurrency
	if concurrency <= 0 {
		concurrency = 16
	}

	return &Dispatcher{
		store:       cfg.Store,
		registry:    cfg.Registry,
		conn:        cfg.Conn,
		logger:      logger,
		dispatchCfg: cfg.Dispatch,
		retryCfg:    cfg.Retry,
		now:         now,
		sem:         make(chan struct{}, concurrency),
	}
}

// Start запускает диспетчер: consumer очереди и polling loop.
func (d *Dispatcher) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	d.cancelFunc = cancel

	if d.conn != nil {
		d.consumer = mq.NewConsumer(d.conn, d.logger, mq.ConsumerConfig{
			Queue:    string(mq.QueueTasksSubmitted),
			Handler:  d.handleMessage,
			Prefetch: cap(d.sem),
		})

		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			if err := d.consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				d.logger.Error("consumer stopped", "error", err)
			}
		}()
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.pollLoop(ctx)
	}()

	d.logger.Info("dispatcher started",
		"max_concurrency", cap(d.sem),
		"poll_interval", d.dispatchCfg.PollInterval,
	)
}

// Stop останавливает диспетчер и дожидается активных выполнений.
func (d *Dispatcher) Stop() {
	if d.cancelFunc != nil {
		d.cancelFunc()
	}
	d.wg.Wait()
	d.logger.Info("dispatcher stopped")
}

// handleMessage — обработчик сообщений task.submitted.
func (d *Dispatcher) handleMessage(ctx context.Context, delivery *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.TaskSubmittedPayload](&delivery.Message)
	if err != nil {
		// Сообщение битое, requeue бессмысленен.
		d.logger.Error("malformed task.submitted message", "error", err)
		return nil
	}

	// Захват слота до ack: prefetch + семафор вместе ограничивают
	// число одновременно выполняемых tasks.
	select {
	case d.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-d.sem }()

	d.Dispatch(ctx, payload.TaskID)
	return nil
}

// pollLoop — резервный источник работы: выборка готовых tasks из Postgres.
// Подхватывает tasks, чьё сообщение потерялось, и RETRYING с наступившим
// next_attempt_at, для которых сообщений не бывает вовсе.
func (d *Dispatcher) pollLoop(ctx context.Context) {
	interval := d.dispatchCfg.PollInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.pollOnce(ctx)
		}
	}
}

// pollOnce выбирает и выполняет партию готовых tasks.
func (d *Dispatcher) pollOnce(ctx context.Context) {
	limit := d.dispatchCfg.BatchSize
	if limit <= 0 {
		limit = 50
	}

	tasks, err := d.store.ListDispatchable(ctx, limit)
	if err != nil {
		d.logger.Error("failed to list dispatchable tasks", "error", err)
		return
	}

	if len(tasks) == 0 {
		return
	}

	d.logger.Debug("poll picked up tasks", "count", len(tasks))

	var wg sync.WaitGroup
	for _, task := range tasks {
		select {
		case d.sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return
		}

		wg.Add(1)
		go func(id uuid.UUID) {
			defer wg.Done()
			defer func() { <-d.sem }()
			d.Dispatch(ctx, id)
		}(task.ID)
	}
	wg.Wait()
}

// Dispatch выполняет одну попытку task.
//
// Поток: CAS-захват → обработчик топика → фиксация исхода.
// Проигрыш гонки за захват — не ошибка: task уже взял другой
// инстанс, либо его next_attempt_at ещё не наступил.
func (d *Dispatcher) Dispatch(ctx context.Context, id uuid.UUID) {
	log := d.logger.With("task_id", id)

	task, err := d.store.Claim(ctx, id, d.dispatchCfg.LeaseDuration)
	if err != nil {
		if errors.Is(err, repo.ErrNotClaimable) {
			log.Debug("task not claimable, skipping")
			return
		}
		log.Error("failed to claim task", "error", err)
		return
	}

	log = log.With("topic", task.Topic, "attempt", task.Attempt)
	log.Info("task claimed")

	handler, err := d.registry.Get(task.Topic)
	if err != nil {
		// Топик без обработчика: терминально, бюджет не расходуем дальше.
		ce := domain.AsClassified(err)
		d.finishFailed(ctx, log, task, ce)
		return
	}

	start := d.now()
	result, err := handler.Handle(ctx, task.Payload)
	elapsed := d.now().Sub(start)

	if err == nil {
		if err := d.store.MarkSucceeded(ctx, task.ID, result); err != nil {
			log.Error("failed to mark task succeeded", "error", err)
			return
		}
		telemetry.RecordAttempt(task.Topic, "succeeded")
		log.Info("task succeeded", "elapsed", elapsed)
		return
	}

	ce := domain.AsClassified(err)
	log = log.With("class", ce.Class, "code", ce.Code, "elapsed", elapsed)

	if !ce.Retryable() {
		d.finishFailed(ctx, log, task, ce)
		return
	}

	d.scheduleRetry(ctx, log, task, ce)
}

// scheduleRetry переводит task в RETRYING либо, при исчерпании бюджета,
// в терминальный FAILED с кодом RETRY_EXHAUSTED.
func (d *Dispatcher) scheduleRetry(ctx context.Context, log *slog.Logger, task *domain.Task, ce *domain.ClassifiedError) {
	now := d.now()

	withinAttempts := task.CanRetry(d.retryCfg.MaxAttempts)
	withinElapsed := d.retryCfg.MaxElapsed <= 0 || task.Elapsed(now) < d.retryCfg.MaxElapsed

	if !withinAttempts || !withinElapsed {
		exhausted := &domain.ClassifiedError{
			Class:   ce.Class,
			Code:    domain.ErrCodeRetryExhausted,
			Message: fmt.Sprintf("retry budget exhausted after %d attempts, last error %s: %s", task.Attempt, ce.Code, ce.Message),
		}
		d.finishFailed(ctx, log, task, exhausted)
		return
	}

	delay := Backoff(d.retryCfg, task.Attempt)
	nextAttemptAt := now.Add(delay)

	if err := d.store.MarkRetrying(ctx, task.ID, ce.Code, ce.Message, nextAttemptAt); err != nil {
		log.Error("failed to mark task retrying", "error", err)
		return
	}

	telemetry.RecordAttempt(task.Topic, "retrying")
	log.Warn("task attempt failed, retry scheduled",
		"next_attempt_at", nextAttemptAt,
		"delay", delay,
	)
}

// finishFailed фиксирует терминальный отказ.
func (d *Dispatcher) finishFailed(ctx context.Context, log *slog.Logger, task *domain.Task, ce *domain.ClassifiedError) {
	if err := d.store.MarkFailed(ctx, task.ID, ce.Code, ce.Message); err != nil {
		log.Error("failed to mark task failed", "error", err)
		return
	}

	telemetry.RecordAttempt(task.Topic, "failed")
	log.Error("task failed terminally", "class", ce.Class, "code", ce.Code, "error", ce.Message)
}
