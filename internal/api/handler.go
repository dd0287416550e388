package api

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/shaiso/Courier/internal/domain"
	"github.com/shaiso/Courier/internal/repo"
)

// Submitter — приём задач (gateway.Service).
type Submitter interface {
	Submit(ctx context.Context, topic string, payload map[string]any) (*domain.Task, error)
}

// Receiver — приём callbacks (correlate.Correlator).
type Receiver interface {
	Receive(ctx context.Context, payload map[string]any) (*domain.Callback, error)
}

// TaskReader — чтение задач.
type TaskReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error)
	List(ctx context.Context, filter repo.TaskFilter) ([]domain.Task, error)
}

// CallbackReader — чтение callbacks.
type CallbackReader interface {
	ListByCorrelationKey(ctx context.Context, key string, limit int) ([]domain.Callback, error)
}

// CorrelationRegistrar — регистрация ожиданий callbacks.
type CorrelationRegistrar interface {
	Register(ctx context.Context, pc *domain.PendingCorrelation) error
}

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	submitter    Submitter
	receiver     Receiver
	tasks        TaskReader
	callbacks    CallbackReader
	correlations CorrelationRegistrar
	logger       *slog.Logger
}

// Config — конфигурация для создания Handler.
type Config struct {
	Submitter    Submitter
	Receiver     Receiver
	Tasks        TaskReader
	Callbacks    CallbackReader
	Correlations CorrelationRegistrar
	Logger       *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		submitter:    cfg.Submitter,
		receiver:     cfg.Receiver,
		tasks:        cfg.Tasks,
		callbacks:    cfg.Callbacks,
		correlations: cfg.Correlations,
		logger:       logger,
	}
}
