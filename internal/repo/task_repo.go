package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Courier/internal/domain"
)

const taskColumns = `
	id, topic, status, attempt, payload, result, error_code, error,
	lease_expires_at, next_attempt_at, created_at, updated_at`

// TaskRepo — репозиторий для работы с tasks.
type TaskRepo struct {
	pool *pgxpool.Pool
}

// NewTaskRepo создаёт новый TaskRepo.
func NewTaskRepo(pool *pgxpool.Pool) *TaskRepo {
	return &TaskRepo{pool: pool}
}

// Create создаёт новый task.
func (r *TaskRepo) Create(ctx context.Context, task *domain.Task) error {
	payloadJSON, err := json.Marshal(task.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	query := `
		INSERT INTO tasks (id, topic, status, attempt, payload, error_code, error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = r.pool.Exec(ctx, query,
		task.ID,
		task.Topic,
		task.Status,
		task.Attempt,
		payloadJSON,
		nullString(task.ErrorCode),
		nullString(task.Error),
		task.CreatedAt,
		task.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// GetByID возвращает task по ID.
func (r *TaskRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1`
	return r.scanTask(r.pool.QueryRow(ctx, query, id))
}

// Claim атомарно захватывает task для выполнения.
//
// Условный UPDATE: переход PENDING/RETRYING → IN_PROGRESS возможен только
// если next_attempt_at наступил. Attempt увеличивается, аренда выставляется.
// Конкурентный диспетчер, проигравший гонку, получает ErrNotClaimable.
func (r *TaskRepo) Claim(ctx context.Context, id uuid.UUID, lease time.Duration) (*domain.Task, error) {
	query := `
		UPDATE tasks
		SET status = 'IN_PROGRESS',
		    attempt = attempt + 1,
		    lease_expires_at = now() + make_interval(secs => $2),
		    updated_at = now()
		WHERE id = $1
		  AND status IN ('PENDING', 'RETRYING')
		  AND (next_attempt_at IS NULL OR next_attempt_at <= now())
		RETURNING ` + taskColumns
	task, err := r.scanTask(r.pool.QueryRow(ctx, query, id, lease.Seconds()))
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNotClaimable
	}
	return task, err
}

// MarkSucceeded переводит IN_PROGRESS task в SUCCEEDED с результатом.
// Переход из любого другого статуса невозможен (терминальность).
func (r *TaskRepo) MarkSucceeded(ctx context.Context, id uuid.UUID, result map[string]any) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	query := `
		UPDATE tasks
		SET status = 'SUCCEEDED', result = $2, lease_expires_at = NULL, updated_at = now()
		WHERE id = $1 AND status = 'IN_PROGRESS'
	`
	ct, err := r.pool.Exec(ctx, query, id, resultJSON)
	if err != nil {
		return fmt.Errorf("mark succeeded: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrTerminal
	}
	return nil
}

// MarkRetrying переводит IN_PROGRESS task в RETRYING с задержкой до nextAttemptAt.
func (r *TaskRepo) MarkRetrying(ctx context.Context, id uuid.UUID, errCode, errMsg string, nextAttemptAt time.Time) error {
	query := `
		UPDATE tasks
		SET status = 'RETRYING', error_code = $2, error = $3,
		    next_attempt_at = $4, lease_expires_at = NULL, updated_at = now()
		WHERE id = $1 AND status = 'IN_PROGRESS'
	`
	ct, err := r.pool.Exec(ctx, query, id, errCode, errMsg, nextAttemptAt.UTC())
	if err != nil {
		return fmt.Errorf("mark retrying: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrTerminal
	}
	return nil
}

// MarkFailed переводит task в терминальный FAILED.
// Допустим из IN_PROGRESS (обычный путь) и из PENDING (отмена до запуска).
func (r *TaskRepo) MarkFailed(ctx context.Context, id uuid.UUID, errCode, errMsg string) error {
	query := `
		UPDATE tasks
		SET status = 'FAILED', error_code = $2, error = $3,
		    lease_expires_at = NULL, updated_at = now()
		WHERE id = $1 AND status IN ('IN_PROGRESS', 'PENDING', 'RETRYING')
	`
	ct, err := r.pool.Exec(ctx, query, id, errCode, errMsg)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrTerminal
	}
	return nil
}

// ListDispatchable возвращает tasks, готовые к захвату:
// PENDING либо RETRYING с наступившим next_attempt_at.
func (r *TaskRepo) ListDispatchable(ctx context.Context, limit int) ([]domain.Task, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM tasks
		WHERE (status = 'PENDING')
		   OR (status = 'RETRYING' AND next_attempt_at <= now())
		ORDER BY created_at ASC
		LIMIT $1
	`
	return r.queryTasks(ctx, query, limit)
}

// ReclaimExpired возвращает в PENDING tasks с истёкшей арендой IN_PROGRESS.
// Возвращает идентификаторы для повторной публикации в очередь.
func (r *TaskRepo) ReclaimExpired(ctx context.Context) ([]uuid.UUID, error) {
	query := `
		UPDATE tasks
		SET status = 'PENDING', lease_expires_at = NULL, updated_at = now()
		WHERE status = 'IN_PROGRESS' AND lease_expires_at < now()
		RETURNING id
	`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("reclaim expired: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan reclaimed id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// TaskFilter — фильтр для List.
type TaskFilter struct {
	Status domain.TaskStatus
	Topic  string
	Limit  int
	Offset int
}

// List возвращает tasks с фильтрацией по статусу и топику.
func (r *TaskRepo) List(ctx context.Context, filter TaskFilter) ([]domain.Task, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT ` + taskColumns + `
		FROM tasks
		WHERE ($1::text IS NULL OR status = $1::text)
		  AND ($2::text IS NULL OR topic = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`
	return r.queryTasks(ctx, query,
		nullString(string(filter.Status)),
		nullString(filter.Topic),
		limit,
		filter.Offset,
	)
}

// --- Helpers ---

func (r *TaskRepo) queryTasks(ctx context.Context, query string, args ...any) ([]domain.Task, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []domain.Task
	for rows.Next() {
		task, err := r.scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *task)
	}
	return tasks, rows.Err()
}

func (r *TaskRepo) scanTask(row pgx.Row) (*domain.Task, error) {
	var task domain.Task
	var payloadJSON, resultJSON []byte
	var errCode, errMsg *string

	err := row.Scan(
		&task.ID,
		&task.Topic,
		&task.Status,
		&task.Attempt,
		&payloadJSON,
		&resultJSON,
		&errCode,
		&errMsg,
		&task.LeaseExpiresAt,
		&task.NextAttemptAt,
		&task.CreatedAt,
		&task.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan task: %w", err)
	}

	if payloadJSON != nil {
		if err := json.Unmarshal(payloadJSON, &task.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal payload: %w", err)
		}
	}
	if resultJSON != nil {
		if err := json.Unmarshal(resultJSON, &task.Result); err != nil {
			return nil, fmt.Errorf("unmarshal result: %w", err)
		}
	}
	if errCode != nil {
		task.ErrorCode = *errCode
	}
	if errMsg != nil {
		task.Error = *errMsg
	}

	return &task, nil
}
