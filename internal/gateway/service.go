package gateway

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/shaiso/Courier/internal/domain"
	"github.com/shaiso/Courier/internal/handlers"
	"github.com/shaiso/Courier/internal/telemetry"
)

// TaskStore — подмножество репозитория tasks для приёма.
type TaskStore interface {
	Create(ctx context.Context, task *domain.Task) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error)
}

// TaskPublisher публикует уведомление о принятой задаче.
type TaskPublisher interface {
	PublishTaskSubmitted(ctx context.Context, taskID uuid.UUID, topic string) error
}

// Service — приём задач в шлюз.
//
// Валидация происходит на границе: невалидный вход НЕ попадает
// в очередь выполнения, но запись о нём создаётся — сразу в FAILED,
// с нулём попыток и стабильным кодом. Вызывающий получает task_id
// для аудита в обоих случаях.
type Service struct {
	store     TaskStore
	registry  *handlers.Registry
	publisher TaskPublisher
	logger    *slog.Logger
}

// NewService создаёт Service.
func NewService(store TaskStore, registry *handlers.Registry, publisher TaskPublisher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     store,
		registry:  registry,
		publisher: publisher,
		logger:    logger,
	}
}

// Submit принимает задачу.
//
// Валидный вход: задача создаётся в PENDING и публикуется уведомление.
// Невалидный вход или неизвестный топик: создаётся терминальная FAILED
// запись (attempt=0) — ошибка вызывающему не возвращается, исход
// читается из самой задачи.
func (s *Service) Submit(ctx context.Context, topic string, payload map[string]any) (*domain.Task, error) {
	log := s.logger.With("topic", topic)

	handler, err := s.registry.Get(topic)
	if err != nil {
		return s.createRejected(ctx, log, topic, payload, domain.AsClassified(err))
	}

	if err := handler.Validate(payload); err != nil {
		return s.createRejected(ctx, log, topic, payload, domain.AsClassified(err))
	}

	task := domain.NewTask(topic, payload)
	if err := s.store.Create(ctx, task); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}

	telemetry.TasksSubmitted.WithLabelValues(topic).Inc()
	log.Info("task accepted", "task_id", task.ID)

	if s.publisher != nil {
		// Best-effort: потерянное уведомление компенсирует polling диспетчера.
		if err := s.publisher.PublishTaskSubmitted(ctx, task.ID, topic); err != nil {
			log.Warn("failed to publish task event, poll will pick it up",
				"task_id", task.ID,
				"error", err,
			)
		}
	}

	return task, nil
}

// GetByID возвращает задачу по ID.
func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	return s.store.GetByID(ctx, id)
}

// createRejected создаёт терминальную запись об отклонённом входе.
func (s *Service) createRejected(ctx context.Context, log *slog.Logger, topic string, payload map[string]any, ce *domain.ClassifiedError) (*domain.Task, error) {
	task := domain.NewTask(topic, payload)
	task.Status = domain.TaskStatusFailed
	task.ErrorCode = ce.Code
	task.Error = ce.Message

	if err := s.store.Create(ctx, task); err != nil {
		return nil, fmt.Errorf("create rejected task: %w", err)
	}

	telemetry.RecordAttempt(topic, "failed")
	log.Warn("task rejected at submission",
		"task_id", task.ID,
		"code", ce.Code,
		"error", ce.Message,
	)

	return task, nil
}
