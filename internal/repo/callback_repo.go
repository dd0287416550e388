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

const callbackColumns = `
	id, correlation_key, payload_hash, payload, processed, signal_sent,
	received_at, processed_at`

// CallbackRepo — репозиторий для записей о webhook-уведомлениях.
type CallbackRepo struct {
	pool *pgxpool.Pool
}

// NewCallbackRepo создаёт новый CallbackRepo.
func NewCallbackRepo(pool *pgxpool.Pool) *CallbackRepo {
	return &CallbackRepo{pool: pool}
}

// Create сохраняет полученное уведомление.
// Вызывается до любой корреляционной работы: запись должна быть durable
// к моменту ответа внешней системе.
func (r *CallbackRepo) Create(ctx context.Context, cb *domain.Callback) error {
	payloadJSON, err := json.Marshal(cb.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	query := `
		INSERT INTO callbacks (id, correlation_key, payload_hash, payload, processed, signal_sent, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = r.pool.Exec(ctx, query,
		cb.ID,
		cb.CorrelationKey,
		cb.PayloadHash,
		payloadJSON,
		cb.Processed,
		cb.SignalSent,
		cb.ReceivedAt,
	)
	if err != nil {
		return fmt.Errorf("insert callback: %w", err)
	}
	return nil
}

// GetByID возвращает callback по ID.
func (r *CallbackRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Callback, error) {
	query := `SELECT ` + callbackColumns + ` FROM callbacks WHERE id = $1`
	return r.scanCallback(r.pool.QueryRow(ctx, query, id))
}

// ListByCorrelationKey возвращает все записи с данным ключом (свежие первыми).
func (r *CallbackRepo) ListByCorrelationKey(ctx context.Context, key string, limit int) ([]domain.Callback, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT ` + callbackColumns + `
		FROM callbacks
		WHERE correlation_key = $1
		ORDER BY received_at DESC
		LIMIT $2
	`
	return r.queryCallbacks(ctx, query, key, limit)
}

// HasSignalled возвращает true, если сигнал по (key, hash) уже отправлялся.
// Защита от повторной доставки материально идентичного уведомления.
func (r *CallbackRepo) HasSignalled(ctx context.Context, key, payloadHash string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM callbacks
			WHERE correlation_key = $1 AND payload_hash = $2 AND signal_sent = TRUE)
	`, key, payloadHash).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check signalled: %w", err)
	}
	return exists, nil
}

// ClaimSignal атомарно помечает запись как отправляющую сигнал.
//
// Условный UPDATE signal_sent FALSE → TRUE: конкурентный Correlator
// (другой экземпляр шлюза либо reconciliation sweep) получает
// ErrAlreadySignalled и не шлёт дубликат.
func (r *CallbackRepo) ClaimSignal(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE callbacks
		SET processed = TRUE, signal_sent = TRUE, processed_at = now()
		WHERE id = $1 AND signal_sent = FALSE
	`
	ct, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("claim signal: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrAlreadySignalled
	}
	return nil
}

// ReleaseSignal откатывает ClaimSignal после неудачной отправки сигнала,
// чтобы reconciliation sweep повторил попытку.
func (r *CallbackRepo) ReleaseSignal(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE callbacks SET signal_sent = FALSE WHERE id = $1`
	if _, err := r.pool.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("release signal: %w", err)
	}
	return nil
}

// MarkProcessed помечает запись обработанной без отправки сигнала
// (нет ожидающей корреляции, дубликат, пустой ключ).
func (r *CallbackRepo) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE callbacks
		SET processed = TRUE, processed_at = now()
		WHERE id = $1
	`
	if _, err := r.pool.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("mark processed: %w", err)
	}
	return nil
}

// ListUnsignalled возвращает обработанные, но не отправившие сигнал записи
// внутри окна retention — кандидаты для reconciliation sweep.
func (r *CallbackRepo) ListUnsignalled(ctx context.Context, retention time.Duration, limit int) ([]domain.Callback, error) {
	query := `
		SELECT ` + callbackColumns + `
		FROM callbacks
		WHERE processed = TRUE
		  AND signal_sent = FALSE
		  AND correlation_key <> ''
		  AND received_at >= now() - make_interval(secs => $1)
		ORDER BY received_at ASC
		LIMIT $2
	`
	return r.queryCallbacks(ctx, query, retention.Seconds(), limit)
}

// --- Helpers ---

func (r *CallbackRepo) queryCallbacks(ctx context.Context, query string, args ...any) ([]domain.Callback, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query callbacks: %w", err)
	}
	defer rows.Close()

	var callbacks []domain.Callback
	for rows.Next() {
		cb, err := r.scanCallback(rows)
		if err != nil {
			return nil, err
		}
		callbacks = append(callbacks, *cb)
	}
	return callbacks, rows.Err()
}

func (r *CallbackRepo) scanCallback(row pgx.Row) (*domain.Callback, error) {
	var cb domain.Callback
	var payloadJSON []byte

	err := row.Scan(
		&cb.ID,
		&cb.CorrelationKey,
		&cb.PayloadHash,
		&payloadJSON,
		&cb.Processed,
		&cb.SignalSent,
		&cb.ReceivedAt,
		&cb.ProcessedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan callback: %w", err)
	}

	if payloadJSON != nil {
		if err := json.Unmarshal(payloadJSON, &cb.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal payload: %w", err)
		}
	}

	return &cb, nil
}
