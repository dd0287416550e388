package handlers

import (
	"context"
	"fmt"
	"sync"

	"github.com/shaiso/Courier/internal/domain"
)

// Handler — обработчик одного топика.
type Handler interface {
	// Topic возвращает имя топика.
	Topic() string

	// Validate проверяет входной документ до постановки task в очередь.
	// Ошибка валидации терминальна и не расходует бюджет попыток.
	Validate(payload map[string]any) error

	// Handle выполняет работу топика. Возвращает выходной документ
	// либо классифицированную ошибку.
	Handle(ctx context.Context, payload map[string]any) (map[string]any, error)
}

// Registry — реестр обработчиков по имени топика.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry создаёт пустой реестр.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
	}
}

// Register добавляет обработчик в реестр.
// Повторная регистрация топика — ошибка программиста, паникуем.
func (r *Registry) Register(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	topic := h.Topic()
	if _, exists := r.handlers[topic]; exists {
		panic(fmt.Sprintf("handler for topic %q already registered", topic))
	}

	r.handlers[topic] = h
}

// Get возвращает обработчик топика.
func (r *Registry) Get(topic string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handlers[topic]
	if !ok {
		return nil, domain.NewClassifiedError(domain.ErrorClassValidation, domain.ErrCodeUnknownTopic,
			fmt.Sprintf("no handler registered for topic %q", topic))
	}

	return h, nil
}

// Topics возвращает список зарегистрированных топиков.
func (r *Registry) Topics() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	topics := make([]string, 0, len(r.handlers))
	for topic := range r.handlers {
		topics = append(topics, topic)
	}
	return topics
}
