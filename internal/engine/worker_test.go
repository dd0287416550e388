package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Courier/internal/config"
	"github.com/shaiso/Courier/internal/domain"
	"github.com/shaiso/Courier/internal/handlers"
	"github.com/shaiso/Courier/internal/repo"
)

// fakeEngine — EngineAPI с записью вызовов.
type fakeEngine struct {
	mu sync.Mutex

	queue []ExternalTask

	completed      map[string]map[string]any
	failed         map[string]string
	businessErrors map[string]string
	extended       map[string]int
}

func newFakeEngine(tasks ...ExternalTask) *fakeEngine {
	return &fakeEngine{
		queue:          tasks,
		completed:      make(map[string]map[string]any),
		failed:         make(map[string]string),
		businessErrors: make(map[string]string),
		extended:       make(map[string]int),
	}
}

func (f *fakeEngine) FetchAndLock(ctx context.Context, topics []string, maxTasks int, lockDuration time.Duration) ([]ExternalTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tasks := f.queue
	f.queue = nil
	return tasks, nil
}

func (f *fakeEngine) Complete(ctx context.Context, taskID string, variables map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed[taskID] = variables
	return nil
}

func (f *fakeEngine) Fail(ctx context.Context, taskID, errMsg string, retries int, retryTimeout time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed[taskID] = errMsg
	return nil
}

func (f *fakeEngine) ReportBusinessError(ctx context.Context, taskID, errorCode, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.businessErrors[taskID] = errorCode
	return nil
}

func (f *fakeEngine) ExtendLock(ctx context.Context, taskID string, newDuration time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.extended[taskID]++
	return nil
}

// fakeSubmitter — Submitter поверх map.
type fakeSubmitter struct {
	mu    sync.Mutex
	tasks map[uuid.UUID]*domain.Task
}

func newFakeSubmitter() *fakeSubmitter {
	return &fakeSubmitter{tasks: make(map[uuid.UUID]*domain.Task)}
}

func (s *fakeSubmitter) Submit(ctx context.Context, topic string, payload map[string]any) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task := domain.NewTask(topic, payload)
	s.tasks[task.ID] = task
	clone := *task
	return &clone, nil
}

func (s *fakeSubmitter) GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	clone := *task
	return &clone, nil
}

func (s *fakeSubmitter) setStatus(id uuid.UUID, status domain.TaskStatus, errCode, errMsg string, result map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task := s.tasks[id]
	task.Status = status
	task.ErrorCode = errCode
	task.Error = errMsg
	task.Result = result
}

func (s *fakeSubmitter) onlyTaskID(t *testing.T) uuid.UUID {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.tasks) != 1 {
		t.Fatalf("expected exactly 1 submitted task, got %d", len(s.tasks))
	}
	for id := range s.tasks {
		return id
	}
	return uuid.Nil
}

// fakeRegistrar — CorrelationRegistrar с записью регистраций.
type fakeRegistrar struct {
	mu         sync.Mutex
	registered []domain.PendingCorrelation
}

func (r *fakeRegistrar) Register(ctx context.Context, pc *domain.PendingCorrelation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.registered = append(r.registered, *pc)
	return nil
}

// validatingHandler — Handler с настраиваемой валидацией.
type validatingHandler struct {
	topic       string
	validateErr error
}

func (h *validatingHandler) Topic() string { return h.topic }

func (h *validatingHandler) Validate(payload map[string]any) error { return h.validateErr }

func (h *validatingHandler) Handle(ctx context.Context, payload map[string]any) (map[string]any, error) {
	return nil, nil
}

func newTestWorker(eng EngineAPI, sub Submitter, handler handlers.Handler) (*Worker, *fakeRegistrar) {
	registry := handlers.NewRegistry()
	if handler != nil {
		registry.Register(handler)
	}
	registrar := &fakeRegistrar{}
	return NewWorker(WorkerConfig{
		Client:    eng,
		Submitter: sub,
		Registry:  registry,
		Pending:   registrar,
		Engine: config.EngineConfig{
			WorkerID:     "courier-adapter",
			Topics:       []string{"rest.call"},
			LockDuration: 5 * time.Minute,
			MaxTasks:     10,
		},
	}), registrar
}

func TestFetchOnceSubmitsValidTask(t *testing.T) {
	eng := newFakeEngine(ExternalTask{
		ID:         "et-1",
		Topic:      "rest.call",
		InstanceID: "inst-1",
		Variables:  map[string]any{"api_name": "billing", "account_id": "a", "path": "/p"},
	})
	sub := newFakeSubmitter()
	w, _ := newTestWorker(eng, sub, &validatingHandler{topic: "rest.call"})

	n, err := w.FetchOnce(context.Background())
	if err != nil {
		t.Fatalf("FetchOnce failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 fetched task, got %d", n)
	}

	id := sub.onlyTaskID(t)
	task, _ := sub.GetByID(context.Background(), id)
	if task.Topic != "rest.call" {
		t.Errorf("unexpected topic %s", task.Topic)
	}
	if task.Status != domain.TaskStatusPending {
		t.Errorf("expected PENDING, got %s", task.Status)
	}
}

func TestFetchOnceInvalidPayloadReportedWithoutSubmit(t *testing.T) {
	eng := newFakeEngine(ExternalTask{
		ID:         "et-1",
		Topic:      "rest.call",
		InstanceID: "inst-1",
		Variables:  map[string]any{"garbage": true},
	})
	sub := newFakeSubmitter()
	handler := &validatingHandler{
		topic:       "rest.call",
		validateErr: domain.NewClassifiedError(domain.ErrorClassValidation, domain.ErrCodeValidationFailed, "missing api_name"),
	}
	w, _ := newTestWorker(eng, sub, handler)

	if _, err := w.FetchOnce(context.Background()); err != nil {
		t.Fatalf("FetchOnce failed: %v", err)
	}

	if len(sub.tasks) != 0 {
		t.Errorf("expected no gateway task for invalid payload, got %d", len(sub.tasks))
	}
	if eng.businessErrors["et-1"] != domain.ErrCodeValidationFailed {
		t.Errorf("expected VALIDATION_FAILED reported to engine, got %q", eng.businessErrors["et-1"])
	}
}

func TestFetchOnceRegistersCorrelation(t *testing.T) {
	eng := newFakeEngine(ExternalTask{
		ID:         "et-1",
		Topic:      "rest.call",
		InstanceID: "inst-1",
		Variables: map[string]any{
			"api_name":        "billing",
			"account_id":      "a",
			"path":            "/p",
			"correlation_key": "ord-42",
			"signal_name":     "OrderConfirmed",
		},
	})
	sub := newFakeSubmitter()
	w, registrar := newTestWorker(eng, sub, &validatingHandler{topic: "rest.call"})

	if _, err := w.FetchOnce(context.Background()); err != nil {
		t.Fatalf("FetchOnce failed: %v", err)
	}

	if len(registrar.registered) != 1 {
		t.Fatalf("expected 1 correlation registered, got %d", len(registrar.registered))
	}
	pc := registrar.registered[0]
	if pc.CorrelationKey != "ord-42" || pc.SignalName != "OrderConfirmed" || pc.InstanceID != "inst-1" {
		t.Errorf("unexpected correlation %+v", pc)
	}
}

func TestHeartbeatExtendsLockWhileActive(t *testing.T) {
	eng := newFakeEngine(ExternalTask{
		ID:         "et-1",
		Topic:      "rest.call",
		InstanceID: "inst-1",
		Variables:  map[string]any{"api_name": "b", "account_id": "a", "path": "/p"},
	})
	sub := newFakeSubmitter()
	w, _ := newTestWorker(eng, sub, &validatingHandler{topic: "rest.call"})

	ctx := context.Background()
	w.FetchOnce(ctx)

	// Задача ещё в работе: heartbeat продлевает лок.
	w.HeartbeatOnce(ctx)
	w.HeartbeatOnce(ctx)

	if eng.extended["et-1"] != 2 {
		t.Errorf("expected 2 lock extensions, got %d", eng.extended["et-1"])
	}
	if len(eng.completed) != 0 {
		t.Error("expected no completion while task is active")
	}
}

func TestHeartbeatCompletesSucceededTask(t *testing.T) {
	eng := newFakeEngine(ExternalTask{
		ID:         "et-1",
		Topic:      "rest.call",
		InstanceID: "inst-1",
		Variables:  map[string]any{"api_name": "b", "account_id": "a", "path": "/p"},
	})
	sub := newFakeSubmitter()
	w, _ := newTestWorker(eng, sub, &validatingHandler{topic: "rest.call"})

	ctx := context.Background()
	w.FetchOnce(ctx)

	id := sub.onlyTaskID(t)
	sub.setStatus(id, domain.TaskStatusSucceeded, "", "", map[string]any{"status": 200})

	w.HeartbeatOnce(ctx)

	vars, ok := eng.completed["et-1"]
	if !ok {
		t.Fatal("expected engine task completed")
	}
	if vars["status"] != 200 {
		t.Errorf("expected result variables forwarded, got %v", vars)
	}

	// Финализированная задача больше не трогается.
	w.HeartbeatOnce(ctx)
	if eng.extended["et-1"] != 0 {
		t.Errorf("expected no lock extension after completion, got %d", eng.extended["et-1"])
	}
}

func TestHeartbeatReportsBusinessFailure(t *testing.T) {
	eng := newFakeEngine(ExternalTask{
		ID:         "et-1",
		Topic:      "rest.call",
		InstanceID: "inst-1",
		Variables:  map[string]any{"api_name": "b", "account_id": "a", "path": "/p"},
	})
	sub := newFakeSubmitter()
	w, _ := newTestWorker(eng, sub, &validatingHandler{topic: "rest.call"})

	ctx := context.Background()
	w.FetchOnce(ctx)

	id := sub.onlyTaskID(t)
	sub.setStatus(id, domain.TaskStatusFailed, domain.ErrCodeBusinessRejected, "insufficient funds", nil)

	w.HeartbeatOnce(ctx)

	if eng.businessErrors["et-1"] != domain.ErrCodeBusinessRejected {
		t.Errorf("expected BUSINESS_REJECTED boundary error, got %q", eng.businessErrors["et-1"])
	}
	if len(eng.failed) != 0 {
		t.Error("expected business failure not reported as technical failure")
	}
}

func TestHeartbeatReportsTechnicalFailure(t *testing.T) {
	retries := 2
	eng := newFakeEngine(ExternalTask{
		ID:         "et-1",
		Topic:      "rest.call",
		InstanceID: "inst-1",
		Variables:  map[string]any{"api_name": "b", "account_id": "a", "path": "/p"},
		Retries:    &retries,
	})
	sub := newFakeSubmitter()
	w, _ := newTestWorker(eng, sub, &validatingHandler{topic: "rest.call"})

	ctx := context.Background()
	w.FetchOnce(ctx)

	id := sub.onlyTaskID(t)
	sub.setStatus(id, domain.TaskStatusFailed, domain.ErrCodeRetryExhausted, "upstream down", nil)

	w.HeartbeatOnce(ctx)

	if _, ok := eng.failed["et-1"]; !ok {
		t.Fatal("expected technical failure reported to engine")
	}
	if len(eng.businessErrors) != 0 {
		t.Error("expected no business error for technical failure")
	}
}
