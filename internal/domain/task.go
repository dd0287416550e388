package domain

import (
	"time"

	"github.com/google/uuid"
)

// Task — единица работы, принятая шлюзом.
//
// Task создаётся когда:
// - Внешний клиент отправляет работу через API (POST /api/v1/tasks)
// - Adapter принимает external task от workflow-движка
//
// Task выполняется Dispatcher'ом через обработчик, соответствующий топику.
// Запись хранится для аудита и не удаляется шлюзом.
type Task struct {
	// ID — уникальный идентификатор task.
	ID uuid.UUID `json:"id"`

	// Topic — топик, определяющий обработчик (например "rest.call").
	Topic string `json:"topic"`

	// Status — текущий статус task.
	Status TaskStatus `json:"status"`

	// Attempt — количество попыток выполнения.
	// Увеличивается при каждом захвате task диспетчером, никогда не уменьшается.
	Attempt int `json:"attempt"`

	// Payload — входной документ запроса к внешнему API.
	Payload map[string]any `json:"payload,omitempty"`

	// Result — документ ответа внешнего API.
	// Заполняется после успешного выполнения и хранится как есть.
	Result map[string]any `json:"result,omitempty"`

	// ErrorCode — стабильный код ошибки при неудаче (см. errclass.go).
	ErrorCode string `json:"error_code,omitempty"`

	// Error — человекочитаемое сообщение об ошибке.
	Error string `json:"error,omitempty"`

	// LeaseExpiresAt — момент истечения аренды для IN_PROGRESS.
	// Task с истёкшей арендой возвращается в PENDING sweeper'ом.
	LeaseExpiresAt *time.Time `json:"lease_expires_at,omitempty"`

	// NextAttemptAt — момент, раньше которого RETRYING task не захватывается.
	NextAttemptAt *time.Time `json:"next_attempt_at,omitempty"`

	// CreatedAt — время создания task.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt — время последнего перехода состояния.
	UpdatedAt time.Time `json:"updated_at"`
}

// NewTask создаёт task в статусе PENDING.
func NewTask(topic string, payload map[string]any) *Task {
	now := time.Now().UTC()
	return &Task{
		ID:        uuid.New(),
		Topic:     topic,
		Status:    TaskStatusPending,
		Payload:   payload,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsFinished возвращает true, если task завершён.
func (t *Task) IsFinished() bool {
	return t.Status.IsTerminal()
}

// IsActive возвращает true, если task ещё обрабатывается
// (с точки зрения адаптера — лок движка нужно продлевать).
func (t *Task) IsActive() bool {
	switch t.Status {
	case TaskStatusPending, TaskStatusInProgress, TaskStatusRetrying:
		return true
	default:
		return false
	}
}

// Elapsed возвращает время с момента создания task.
func (t *Task) Elapsed(now time.Time) time.Duration {
	return now.Sub(t.CreatedAt)
}

// CanRetry проверяет, остались ли попытки в бюджете.
func (t *Task) CanRetry(maxAttempts int) bool {
	return t.Attempt < maxAttempts
}
