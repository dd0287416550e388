package correlate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/shaiso/Courier/internal/domain"
	"github.com/shaiso/Courier/internal/mq"
	"github.com/shaiso/Courier/internal/repo"
	"github.com/shaiso/Courier/internal/telemetry"
)

// defaultKeyFields — поля payload, в которых ищется ключ корреляции,
// в порядке приоритета.
var defaultKeyFields = []string{"correlation_key", "order_id", "request_id", "reference"}

// CallbackStore — подмножество репозитория callbacks для Correlator.
type CallbackStore interface {
	Create(ctx context.Context, cb *domain.Callback) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Callback, error)
	HasSignalled(ctx context.Context, key, payloadHash string) (bool, error)
	ClaimSignal(ctx context.Context, id uuid.UUID) error
	ReleaseSignal(ctx context.Context, id uuid.UUID) error
	MarkProcessed(ctx context.Context, id uuid.UUID) error
}

// CorrelationStore — подмножество репозитория ожидающих корреляций.
type CorrelationStore interface {
	Consume(ctx context.Context, key string) (*domain.PendingCorrelation, error)
	Get(ctx context.Context, key string) (*domain.PendingCorrelation, error)
}

// Signaler доставляет сигнал возобновления ожидающему экземпляру процесса.
type Signaler interface {
	SendSignal(ctx context.Context, instanceID, signalName string, payload map[string]any) error
}

// CallbackPublisher публикует уведомление о сохранённом callback'е.
type CallbackPublisher interface {
	PublishCallbackReceived(ctx context.Context, callbackID uuid.UUID, correlationKey string) error
}

// Correlator сопоставляет входящие callbacks с ожидающими процессами.
//
// Приём и корреляция разделены: Receive только сохраняет запись
// (после этого webhook'у можно отвечать 202 — уведомление не потеряется),
// Process выполняет сопоставление асинхронно. Идемпотентность на двух
// уровнях: CAS signal_sent на записи и (key, payload_hash) против
// повторной доставки того же уведомления другой записью.
type Correlator struct {
	callbacks    CallbackStore
	correlations CorrelationStore
	signaler     Signaler
	publisher    CallbackPublisher
	conn         *mq.Connection
	logger       *slog.Logger

	keyFields []string

	consumer   *mq.Consumer
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

// Config — зависимости Correlator.
type Config struct {
	Callbacks    CallbackStore
	Correlations CorrelationStore
	Signaler     Signaler

	// Publisher — публикация callback.received. nil — корреляция
	// только через reconciliation sweep.
	Publisher CallbackPublisher

	// Conn — соединение с RabbitMQ для consumer. nil — без consumer.
	Conn *mq.Connection

	// KeyFields — поля payload с ключом корреляции. nil — дефолтный список.
	KeyFields []string

	Logger *slog.Logger
}

// New создаёт Correlator.
func New(cfg Config) *Correlator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	keyFields := cfg.KeyFields
	if len(keyFields) == 0 {
		keyFields = defaultKeyFields
	}

	return &Correlator{
		callbacks:    cfg.Callbacks,
		correlations: cfg.Correlations,
		signaler:     cfg.Signaler,
		publisher:    cfg.Publisher,
		conn:         cfg.Conn,
		logger:       logger,
		keyFields:    keyFields,
	}
}

// Start запускает consumer очереди callbacks.received.
func (c *Correlator) Start(ctx context.Context) {
	if c.conn == nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	c.cancelFunc = cancel

	c.consumer = mq.NewConsumer(c.conn, c.logger, mq.ConsumerConfig{
		Queue:    string(mq.QueueCallbacksReceived),
		Handler:  c.handleMessage,
		Prefetch: 8,
	})

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := c.consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Error("callback consumer stopped", "error", err)
		}
	}()
}

// Stop останавливает consumer.
func (c *Correlator) Stop() {
	if c.cancelFunc != nil {
		c.cancelFunc()
	}
	c.wg.Wait()
}

// handleMessage — обработчик сообщений callback.received.
func (c *Correlator) handleMessage(ctx context.Context, delivery *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.CallbackReceivedPayload](&delivery.Message)
	if err != nil {
		c.logger.Error("malformed callback.received message", "error", err)
		return nil
	}

	return c.Process(ctx, payload.CallbackID)
}

// Receive принимает webhook-уведомление: извлекает ключ, сохраняет
// запись и публикует событие для асинхронной корреляции.
//
// Возврат из Receive означает, что уведомление durable — вызывающий
// может отвечать внешней системе 202 до того, как корреляция случится.
func (c *Correlator) Receive(ctx context.Context, payload map[string]any) (*domain.Callback, error) {
	key := c.extractKey(payload)

	cb := domain.NewCallback(key, payload)
	if err := c.callbacks.Create(ctx, cb); err != nil {
		return nil, fmt.Errorf("persist callback: %w", err)
	}

	telemetry.CallbacksReceived.Inc()

	log := c.logger.With("callback_id", cb.ID, "correlation_key", key)
	log.Info("callback received")

	if c.publisher != nil {
		// Best-effort: при недоступном брокере запись подберёт
		// reconciliation sweep.
		if err := c.publisher.PublishCallbackReceived(ctx, cb.ID, key); err != nil {
			log.Warn("failed to publish callback event, sweep will pick it up", "error", err)
		}
	}

	return cb, nil
}

// Process выполняет корреляцию сохранённого callback'а.
//
// Исходы:
// - сигнал уже отправлен (этой или другой записью с тем же содержимым) — no-op
// - ожидающей корреляции нет — запись помечается processed и остаётся
//   кандидатом для reconciliation sweep (ранний callback)
// - есть ожидание — CAS-захват, отправка сигнала, потребление ожидания
func (c *Correlator) Process(ctx context.Context, callbackID uuid.UUID) error {
	cb, err := c.callbacks.GetByID(ctx, callbackID)
	if err != nil {
		return fmt.Errorf("load callback: %w", err)
	}

	log := c.logger.With("callback_id", cb.ID, "correlation_key", cb.CorrelationKey)

	if cb.SignalSent {
		log.Debug("callback already signalled, skipping")
		return nil
	}

	if cb.CorrelationKey == "" {
		log.Warn("callback carries no correlation key, marking processed")
		return c.callbacks.MarkProcessed(ctx, cb.ID)
	}

	// Повторная доставка того же уведомления: материально идентичный
	// payload по этому ключу уже отправлял сигнал.
	dup, err := c.callbacks.HasSignalled(ctx, cb.CorrelationKey, cb.PayloadHash)
	if err != nil {
		return fmt.Errorf("check duplicate: %w", err)
	}
	if dup {
		log.Info("duplicate callback delivery, signal already sent")
		return c.callbacks.MarkProcessed(ctx, cb.ID)
	}

	pending, err := c.correlations.Get(ctx, cb.CorrelationKey)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			// Callback пришёл раньше регистрации ожидания.
			// processed=TRUE, signal_sent=FALSE: sweep повторит сопоставление.
			log.Info("no pending correlation yet, leaving for reconciliation sweep")
			return c.callbacks.MarkProcessed(ctx, cb.ID)
		}
		return fmt.Errorf("lookup pending correlation: %w", err)
	}

	// CAS до отправки: конкурентный инстанс (или sweep) проигрывает
	// здесь и не шлёт дубликат сигнала.
	if err := c.callbacks.ClaimSignal(ctx, cb.ID); err != nil {
		if errors.Is(err, repo.ErrAlreadySignalled) {
			log.Debug("lost signal race, skipping")
			return nil
		}
		return fmt.Errorf("claim signal: %w", err)
	}

	if err := c.signaler.SendSignal(ctx, pending.InstanceID, pending.SignalName, cb.Payload); err != nil {
		// Откат захвата: sweep повторит отправку.
		if relErr := c.callbacks.ReleaseSignal(ctx, cb.ID); relErr != nil {
			log.Error("failed to release signal claim", "error", relErr)
		}
		return fmt.Errorf("send signal: %w", err)
	}

	if _, err := c.correlations.Consume(ctx, cb.CorrelationKey); err != nil && !errors.Is(err, repo.ErrNotFound) {
		log.Warn("failed to consume pending correlation", "error", err)
	}

	telemetry.SignalsSent.Inc()
	log.Info("signal sent", "instance_id", pending.InstanceID, "signal", pending.SignalName)

	return nil
}

// extractKey ищет ключ корреляции в payload по настроенным полям.
func (c *Correlator) extractKey(payload map[string]any) string {
	for _, field := range c.keyFields {
		if s, ok := payload[field].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
