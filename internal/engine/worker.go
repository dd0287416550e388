package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Courier/internal/config"
	"github.com/shaiso/Courier/internal/domain"
	"github.com/shaiso/Courier/internal/handlers"
)

// EngineAPI — подмножество Client, нужное воркеру.
type EngineAPI interface {
	FetchAndLock(ctx context.Context, topics []string, maxTasks int, lockDuration time.Duration) ([]ExternalTask, error)
	Complete(ctx context.Context, taskID string, variables map[string]any) error
	Fail(ctx context.Context, taskID, errMsg string, retries int, retryTimeout time.Duration) error
	ReportBusinessError(ctx context.Context, taskID, errorCode, errMsg string) error
	ExtendLock(ctx context.Context, taskID string, newDuration time.Duration) error
}

// Submitter принимает задачу в шлюз.
type Submitter interface {
	Submit(ctx context.Context, topic string, payload map[string]any) (*domain.Task, error)
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error)
}

// CorrelationRegistrar регистрирует ожидание callback'а.
type CorrelationRegistrar interface {
	Register(ctx context.Context, pc *domain.PendingCorrelation) error
}

// tracked — external task, сопоставленный с задачей шлюза.
type tracked struct {
	engineID   string
	instanceID string
	gatewayID  uuid.UUID
	topic      string
	retries    int
}

// Worker — адаптер external-task протокола.
//
// Цикл: fetchAndLock → валидация входа → постановка задачи в шлюз →
// heartbeat лока, пока задача живёт → маппинг терминального статуса
// обратно в движок. Между движком и внешним API движок видит одну
// «долгую» задачу; все промежуточные попытки шлюза скрыты за локом.
type Worker struct {
	client    EngineAPI
	submitter Submitter
	registry  *handlers.Registry
	pending   CorrelationRegistrar
	logger    *slog.Logger

	cfg config.EngineConfig

	mu     sync.Mutex
	inwork map[string]*tracked

	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

// WorkerConfig — зависимости воркера.
type WorkerConfig struct {
	Client    EngineAPI
	Submitter Submitter
	Registry  *handlers.Registry
	Pending   CorrelationRegistrar
	Engine    config.EngineConfig
	Logger    *slog.Logger
}

// NewWorker создаёт Worker.
func NewWorker(cfg WorkerConfig) *Worker {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		client:    cfg.Client,
		submitter: cfg.Submitter,
		registry:  cfg.Registry,
		pending:   cfg.Pending,
		logger:    logger,
		cfg:       cfg.Engine,
		inwork:    make(map[string]*tracked),
	}
}

// Start запускает циклы fetch и heartbeat.
func (w *Worker) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	w.cancelFunc = cancel

	w.wg.Add(2)
	go func() {
		defer w.wg.Done()
		w.fetchLoop(ctx)
	}()
	go func() {
		defer w.wg.Done()
		w.heartbeatLoop(ctx)
	}()

	w.logger.Info("adapter worker started",
		"topics", w.cfg.Topics,
		"worker_id", w.cfg.WorkerID,
	)
}

// Stop останавливает воркер.
func (w *Worker) Stop() {
	if w.cancelFunc != nil {
		w.cancelFunc()
	}
	w.wg.Wait()
	w.logger.Info("adapter worker stopped")
}

// fetchLoop периодически захватывает задачи у движка.
func (w *Worker) fetchLoop(ctx context.Context) {
	interval := w.cfg.FetchInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, err := w.FetchOnce(ctx)
		if err != nil {
			w.logger.Warn("fetch and lock failed", "error", err)
		}

		// Пустая выборка — пауза; непустая — сразу за следующей партией.
		if n == 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(interval):
			}
		}
	}
}

// FetchOnce выполняет один fetchAndLock и принимает захваченные задачи.
// Возвращает число захваченных задач.
func (w *Worker) FetchOnce(ctx context.Context) (int, error) {
	maxTasks := w.cfg.MaxTasks
	if maxTasks <= 0 {
		maxTasks = 10
	}

	tasks, err := w.client.FetchAndLock(ctx, w.cfg.Topics, maxTasks, w.cfg.LockDuration)
	if err != nil {
		return 0, err
	}

	for i := range tasks {
		w.accept(ctx, &tasks[i])
	}

	return len(tasks), nil
}

// accept валидирует external task и ставит её в шлюз.
func (w *Worker) accept(ctx context.Context, et *ExternalTask) {
	log := w.logger.With("engine_task_id", et.ID, "topic", et.Topic, "instance_id", et.InstanceID)

	handler, err := w.registry.Get(et.Topic)
	if err != nil {
		ce := domain.AsClassified(err)
		log.Error("no handler for engine topic", "error", err)
		w.reportBusinessError(ctx, log, et.ID, ce.Code, ce.Message)
		return
	}

	payload := et.Variables
	if payload == nil {
		payload = map[string]any{}
	}

	// Невалидный вход репортится движку сразу, не расходуя
	// ни лок, ни retry-бюджет шлюза.
	if err := handler.Validate(payload); err != nil {
		ce := domain.AsClassified(err)
		log.Warn("engine task payload invalid", "error", err)
		w.reportBusinessError(ctx, log, et.ID, ce.Code, ce.Message)
		return
	}

	task, err := w.submitter.Submit(ctx, et.Topic, payload)
	if err != nil {
		// Шлюз не принял задачу (инфраструктура). Лок истечёт,
		// движок выдаст задачу снова.
		log.Error("failed to submit task to gateway", "error", err)
		return
	}

	w.registerCorrelation(ctx, log, et)

	retries := 3
	if et.Retries != nil {
		retries = *et.Retries
	}

	w.mu.Lock()
	w.inwork[et.ID] = &tracked{
		engineID:   et.ID,
		instanceID: et.InstanceID,
		gatewayID:  task.ID,
		topic:      et.Topic,
		retries:    retries,
	}
	w.mu.Unlock()

	log.Info("engine task accepted", "task_id", task.ID)
}

// registerCorrelation записывает ожидание callback'а, если переменные
// процесса его описывают.
func (w *Worker) registerCorrelation(ctx context.Context, log *slog.Logger, et *ExternalTask) {
	key, _ := et.Variables["correlation_key"].(string)
	signal, _ := et.Variables["signal_name"].(string)
	if key == "" || signal == "" {
		return
	}

	pc := &domain.PendingCorrelation{
		CorrelationKey: key,
		InstanceID:     et.InstanceID,
		SignalName:     signal,
		CreatedAt:      time.Now().UTC(),
	}

	if err := w.pending.Register(ctx, pc); err != nil {
		// Дубликат регистрации при повторной выдаче задачи — норма.
		log.Debug("pending correlation not registered", "correlation_key", key, "error", err)
		return
	}

	log.Info("pending correlation registered", "correlation_key", key, "signal", signal)
}

// heartbeatLoop продлевает локи активных задач и финализирует завершённые.
func (w *Worker) heartbeatLoop(ctx context.Context) {
	interval := w.cfg.HeartbeatInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.HeartbeatOnce(ctx)
		}
	}
}

// HeartbeatOnce проходит по отслеживаемым задачам: завершённые
// финализируются в движке, активным продлевается лок.
func (w *Worker) HeartbeatOnce(ctx context.Context) {
	w.mu.Lock()
	snapshot := make([]*tracked, 0, len(w.inwork))
	for _, tr := range w.inwork {
		snapshot = append(snapshot, tr)
	}
	w.mu.Unlock()

	for _, tr := range snapshot {
		log := w.logger.With("engine_task_id", tr.engineID, "task_id", tr.gatewayID, "topic", tr.topic)

		task, err := w.submitter.GetByID(ctx, tr.gatewayID)
		if err != nil {
			log.Error("failed to load gateway task", "error", err)
			continue
		}

		if task.IsFinished() {
			w.finalize(ctx, log, tr, task)
			continue
		}

		if err := w.client.ExtendLock(ctx, tr.engineID, w.cfg.LockDuration); err != nil {
			log.Warn("failed to extend engine lock", "error", err)
		}
	}
}

// finalize маппит терминальный статус задачи шлюза в исход для движка.
func (w *Worker) finalize(ctx context.Context, log *slog.Logger, tr *tracked, task *domain.Task) {
	var err error

	switch {
	case task.Status == domain.TaskStatusSucceeded:
		err = w.client.Complete(ctx, tr.engineID, task.Result)
		if err == nil {
			log.Info("engine task completed")
		}

	case isBusinessCode(task.ErrorCode):
		// Бизнес-отказ и невалидный вход — boundary error event:
		// процесс ветвится по стабильному коду.
		err = w.client.ReportBusinessError(ctx, tr.engineID, task.ErrorCode, task.Error)
		if err == nil {
			log.Info("engine task finished with business error", "code", task.ErrorCode)
		}

	default:
		// Техническая неудача: декрементируем счётчик движка.
		retries := tr.retries - 1
		if retries < 0 {
			retries = 0
		}
		msg := fmt.Sprintf("%s: %s", task.ErrorCode, task.Error)
		err = w.client.Fail(ctx, tr.engineID, msg, retries, w.cfg.LockDuration)
		if err == nil {
			log.Warn("engine task failed", "code", task.ErrorCode, "engine_retries", retries)
		}
	}

	if err != nil {
		// Финализация не прошла — оставляем в отслеживании,
		// следующий heartbeat повторит.
		log.Error("failed to finalize engine task", "error", err)
		return
	}

	w.mu.Lock()
	delete(w.inwork, tr.engineID)
	w.mu.Unlock()
}

// isBusinessCode возвращает true для кодов, которые движок должен
// получить как boundary error, а не как технический отказ.
func isBusinessCode(code string) bool {
	switch code {
	case domain.ErrCodeBusinessRejected, domain.ErrCodeValidationFailed, domain.ErrCodeUnknownTopic:
		return true
	default:
		return false
	}
}

// reportBusinessError — best-effort репорт бизнес-ошибки движку.
func (w *Worker) reportBusinessError(ctx context.Context, log *slog.Logger, engineID, code, msg string) {
	if err := w.client.ReportBusinessError(ctx, engineID, code, msg); err != nil {
		log.Error("failed to report business error to engine", "error", err)
	}
}
