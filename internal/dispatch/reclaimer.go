package dispatch

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/shaiso/Courier/internal/domain"
	"github.com/shaiso/Courier/internal/telemetry"
)

// ReclaimStore — подмножество репозитория tasks для реклейма аренды.
type ReclaimStore interface {
	ReclaimExpired(ctx context.Context) ([]uuid.UUID, error)
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error)
}

// TaskPublisher публикует уведомления о готовых к выполнению tasks.
type TaskPublisher interface {
	PublishTaskSubmitted(ctx context.Context, taskID uuid.UUID, topic string) error
}

// Reclaimer возвращает зависшие tasks в оборот.
//
// Task с истёкшей арендой IN_PROGRESS означает умерший или зависший
// инстанс диспетчера. Реклейм переводит такие tasks обратно в PENDING
// и публикует уведомление, чтобы живой инстанс подхватил их сразу,
// не дожидаясь polling fallback.
type Reclaimer struct {
	store     ReclaimStore
	publisher TaskPublisher
	logger    *slog.Logger
}

// NewReclaimer создаёт Reclaimer.
func NewReclaimer(store ReclaimStore, publisher TaskPublisher, logger *slog.Logger) *Reclaimer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reclaimer{
		store:     store,
		publisher: publisher,
		logger:    logger,
	}
}

// Run выполняет один проход реклейма. Вызывается по расписанию.
func (r *Reclaimer) Run(ctx context.Context) error {
	ids, err := r.store.ReclaimExpired(ctx)
	if err != nil {
		return err
	}

	if len(ids) == 0 {
		return nil
	}

	r.logger.Warn("reclaimed tasks with expired leases", "count", len(ids))

	for _, id := range ids {
		telemetry.TasksReclaimed.Inc()

		topic := ""
		if task, err := r.store.GetByID(ctx, id); err == nil {
			topic = task.Topic
		}

		if r.publisher == nil {
			continue
		}

		// Публикация best-effort: при ошибке task останется в PENDING
		// и его подхватит polling fallback диспетчера.
		if err := r.publisher.PublishTaskSubmitted(ctx, id, topic); err != nil {
			r.logger.Warn("failed to republish reclaimed task",
				"task_id", id,
				"error", err,
			)
		}
	}

	return nil
}
