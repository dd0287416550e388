package correlate

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Courier/internal/domain"
)

// SweepStore — выборка кандидатов для reconciliation sweep.
type SweepStore interface {
	ListUnsignalled(ctx context.Context, retention time.Duration, limit int) ([]domain.Callback, error)
}

// Processor — корреляционная обработка одной записи.
type Processor interface {
	Process(ctx context.Context, callbackID uuid.UUID) error
}

// Reconciler повторяет корреляцию для callbacks, не отправивших сигнал.
//
// Закрывает две дыры at-least-once пути:
// - callback пришёл раньше, чем процесс зарегистрировал ожидание
// - отправка сигнала упала после CAS-захвата и была откачена
//
// Записи старше retention из выборки выпадают и остаются в аудите
// как несопоставленные.
type Reconciler struct {
	store     SweepStore
	processor Processor
	logger    *slog.Logger

	retention time.Duration
	batch     int
}

// NewReconciler создаёт Reconciler.
func NewReconciler(store SweepStore, processor Processor, retention time.Duration, batch int, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	if batch <= 0 {
		batch = 100
	}
	return &Reconciler{
		store:     store,
		processor: processor,
		logger:    logger,
		retention: retention,
		batch:     batch,
	}
}

// Sweep выполняет один проход сопоставления. Вызывается по расписанию.
func (r *Reconciler) Sweep(ctx context.Context) error {
	callbacks, err := r.store.ListUnsignalled(ctx, r.retention, r.batch)
	if err != nil {
		return err
	}

	if len(callbacks) == 0 {
		return nil
	}

	r.logger.Debug("reconciliation sweep", "candidates", len(callbacks))

	for _, cb := range callbacks {
		if err := r.processor.Process(ctx, cb.ID); err != nil {
			r.logger.Warn("sweep failed to process callback",
				"callback_id", cb.ID,
				"correlation_key", cb.CorrelationKey,
				"error", err,
			)
		}
	}

	return nil
}
