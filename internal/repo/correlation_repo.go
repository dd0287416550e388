package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Courier/internal/domain"
)

// CorrelationRepo — репозиторий ожидающих корреляций.
//
// Записи эфемерны: создаются адаптером при входе процесса в ожидание
// и удаляются при потреблении совпавшим callback'ом.
type CorrelationRepo struct {
	pool *pgxpool.Pool
}

// NewCorrelationRepo создаёт новый CorrelationRepo.
func NewCorrelationRepo(pool *pgxpool.Pool) *CorrelationRepo {
	return &CorrelationRepo{pool: pool}
}

// Register записывает ожидание callback'а.
// Повторная регистрация того же ключа — ErrAlreadyExists.
func (r *CorrelationRepo) Register(ctx context.Context, pc *domain.PendingCorrelation) error {
	query := `
		INSERT INTO pending_correlations (correlation_key, instance_id, signal_name, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (correlation_key) DO NOTHING
	`
	ct, err := r.pool.Exec(ctx, query,
		pc.CorrelationKey,
		pc.InstanceID,
		pc.SignalName,
		pc.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert pending correlation: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrAlreadyExists
	}
	return nil
}

// Get возвращает ожидание по ключу, не потребляя его.
func (r *CorrelationRepo) Get(ctx context.Context, key string) (*domain.PendingCorrelation, error) {
	query := `
		SELECT correlation_key, instance_id, signal_name, created_at
		FROM pending_correlations
		WHERE correlation_key = $1
	`
	return r.scanCorrelation(r.pool.QueryRow(ctx, query, key))
}

// Consume атомарно удаляет и возвращает ожидание по ключу.
// Ровно один из конкурентных потребителей получает запись.
func (r *CorrelationRepo) Consume(ctx context.Context, key string) (*domain.PendingCorrelation, error) {
	query := `
		DELETE FROM pending_correlations
		WHERE correlation_key = $1
		RETURNING correlation_key, instance_id, signal_name, created_at
	`
	return r.scanCorrelation(r.pool.QueryRow(ctx, query, key))
}

// Delete удаляет ожидание (процесс завершён иным путём).
func (r *CorrelationRepo) Delete(ctx context.Context, key string) error {
	ct, err := r.pool.Exec(ctx, `DELETE FROM pending_correlations WHERE correlation_key = $1`, key)
	if err != nil {
		return fmt.Errorf("delete pending correlation: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Helpers ---

func (r *CorrelationRepo) scanCorrelation(row pgx.Row) (*domain.PendingCorrelation, error) {
	var pc domain.PendingCorrelation
	err := row.Scan(&pc.CorrelationKey, &pc.InstanceID, &pc.SignalName, &pc.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan pending correlation: %w", err)
	}
	return &pc, nil
}
