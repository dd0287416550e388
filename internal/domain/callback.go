package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Callback — асинхронное уведомление от внешней системы.
//
// Создаётся при каждом получении webhook'а (at-least-once доставка —
// дубликаты тоже сохраняются, аудит важнее дедупликации на записи).
// Помечается Correlator'ом ровно один раз; не удаляется.
type Callback struct {
	// ID — уникальный идентификатор записи.
	ID uuid.UUID `json:"id"`

	// CorrelationKey — ключ корреляции, извлечённый из payload.
	// Пустой, если внешняя система не передала опознаваемый ключ.
	CorrelationKey string `json:"correlation_key"`

	// PayloadHash — SHA-256 канонизированного payload.
	// Используется для распознавания повторной доставки того же уведомления.
	PayloadHash string `json:"payload_hash"`

	// Payload — сырое тело уведомления.
	Payload map[string]any `json:"payload,omitempty"`

	// Processed — Correlator обработал запись (независимо от исхода).
	Processed bool `json:"processed"`

	// SignalSent — сигнал возобновления отправлен в движок.
	// Повторная обработка записи с signal_sent=true — no-op.
	SignalSent bool `json:"signal_sent"`

	// ReceivedAt — время получения уведомления.
	ReceivedAt time.Time `json:"received_at"`

	// ProcessedAt — время обработки Correlator'ом.
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

// NewCallback создаёт запись о полученном уведомлении.
func NewCallback(correlationKey string, payload map[string]any) *Callback {
	return &Callback{
		ID:             uuid.New(),
		CorrelationKey: correlationKey,
		PayloadHash:    HashPayload(payload),
		Payload:        payload,
		ReceivedAt:     time.Now().UTC(),
	}
}

// HashPayload считает SHA-256 от канонизированного JSON payload.
// json.Marshal сортирует ключи map — одинаковое содержимое даёт одинаковый хеш.
func HashPayload(payload map[string]any) string {
	b, err := json.Marshal(payload)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// PendingCorrelation — ожидание callback'а конкретным экземпляром процесса.
//
// Записывается адаптером, когда процесс встаёт в ожидание; потребляется
// Correlator'ом при совпадении ключа или при тике reconciliation sweep.
type PendingCorrelation struct {
	// CorrelationKey — ключ, по которому придёт callback.
	CorrelationKey string `json:"correlation_key"`

	// InstanceID — ссылка на ожидающий экземпляр процесса в движке.
	InstanceID string `json:"instance_id"`

	// SignalName — имя сигнала возобновления для движка.
	SignalName string `json:"signal_name"`

	// CreatedAt — время регистрации ожидания.
	CreatedAt time.Time `json:"created_at"`
}
