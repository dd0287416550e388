package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/shaiso/Courier/internal/domain"
	"github.com/shaiso/Courier/internal/repo"
)

// fakeBackend реализует все зависимости Handler поверх map.
type fakeBackend struct {
	mu           sync.Mutex
	tasks        map[uuid.UUID]*domain.Task
	callbacks    []domain.Callback
	correlations map[string]*domain.PendingCorrelation

	rejectSubmit bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		tasks:        make(map[uuid.UUID]*domain.Task),
		correlations: make(map[string]*domain.PendingCorrelation),
	}
}

func (b *fakeBackend) Submit(ctx context.Context, topic string, payload map[string]any) (*domain.Task, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	task := domain.NewTask(topic, payload)
	if b.rejectSubmit {
		task.Status = domain.TaskStatusFailed
		task.ErrorCode = domain.ErrCodeValidationFailed
		task.Error = "missing api_name"
	}
	b.tasks[task.ID] = task
	return task, nil
}

func (b *fakeBackend) Receive(ctx context.Context, payload map[string]any) (*domain.Callback, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	key, _ := payload["correlation_key"].(string)
	cb := domain.NewCallback(key, payload)
	b.callbacks = append(b.callbacks, *cb)
	return cb, nil
}

func (b *fakeBackend) GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	task, ok := b.tasks[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return task, nil
}

func (b *fakeBackend) List(ctx context.Context, filter repo.TaskFilter) ([]domain.Task, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []domain.Task
	for _, task := range b.tasks {
		if filter.Status != "" && task.Status != filter.Status {
			continue
		}
		if filter.Topic != "" && task.Topic != filter.Topic {
			continue
		}
		out = append(out, *task)
	}
	return out, nil
}

func (b *fakeBackend) ListByCorrelationKey(ctx context.Context, key string, limit int) ([]domain.Callback, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []domain.Callback
	for _, cb := range b.callbacks {
		if cb.CorrelationKey == key {
			out = append(out, cb)
		}
	}
	return out, nil
}

func (b *fakeBackend) Register(ctx context.Context, pc *domain.PendingCorrelation) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.correlations[pc.CorrelationKey]; exists {
		return repo.ErrAlreadyExists
	}
	b.correlations[pc.CorrelationKey] = pc
	return nil
}

func newTestServer(backend *fakeBackend) *httptest.Server {
	h := NewHandler(Config{
		Submitter:    backend,
		Receiver:     backend,
		Tasks:        backend,
		Callbacks:    backend,
		Correlations: backend,
	})

	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return httptest.NewServer(mux)
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func decodeData[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()

	var wrapper struct {
		Data T `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&wrapper); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return wrapper.Data
}

func TestSubmitTask(t *testing.T) {
	backend := newFakeBackend()
	srv := newTestServer(backend)
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/api/v1/tasks", SubmitTaskRequest{
		Topic:   "rest.call",
		Payload: map[string]any{"api_name": "billing"},
	})

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	task := decodeData[domain.Task](t, resp)
	if task.Topic != "rest.call" {
		t.Errorf("unexpected topic %s", task.Topic)
	}
	if task.Status != domain.TaskStatusPending {
		t.Errorf("expected PENDING, got %s", task.Status)
	}
}

// Сценарий: невалидный вход возвращает 201 с FAILED записью —
// задача создана для аудита, вызывающий читает исход из неё.
func TestSubmitTaskInvalidPayloadReturnsAuditRecord(t *testing.T) {
	backend := newFakeBackend()
	backend.rejectSubmit = true
	srv := newTestServer(backend)
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/api/v1/tasks", SubmitTaskRequest{
		Topic:   "rest.call",
		Payload: map[string]any{"garbage": true},
	})

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201 with audit record, got %d", resp.StatusCode)
	}

	task := decodeData[domain.Task](t, resp)
	if task.Status != domain.TaskStatusFailed {
		t.Errorf("expected FAILED, got %s", task.Status)
	}
	if task.ErrorCode != domain.ErrCodeValidationFailed {
		t.Errorf("expected VALIDATION_FAILED, got %s", task.ErrorCode)
	}
}

func TestSubmitTaskRequiresTopic(t *testing.T) {
	srv := newTestServer(newFakeBackend())
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/api/v1/tasks", SubmitTaskRequest{Payload: map[string]any{}})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing topic, got %d", resp.StatusCode)
	}
}

func TestGetTask(t *testing.T) {
	backend := newFakeBackend()
	srv := newTestServer(backend)
	defer srv.Close()

	task, _ := backend.Submit(context.Background(), "rest.call", nil)

	resp, err := http.Get(srv.URL + "/api/v1/tasks/" + task.ID.String())
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	got := decodeData[domain.Task](t, resp)
	if got.ID != task.ID {
		t.Errorf("expected task %s, got %s", task.ID, got.ID)
	}
}

func TestGetTaskNotFound(t *testing.T) {
	srv := newTestServer(newFakeBackend())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/tasks/" + uuid.NewString())
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestReceiveCallbackAnswers202(t *testing.T) {
	backend := newFakeBackend()
	srv := newTestServer(backend)
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/api/v1/callbacks", map[string]any{
		"correlation_key": "ord-42",
		"status":          "confirmed",
	})

	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}

	ack := decodeData[CallbackAck](t, resp)
	if ack.CallbackID == "" {
		t.Error("expected callback_id in ack")
	}
	if ack.CorrelationKey != "ord-42" {
		t.Errorf("expected correlation key echoed, got %q", ack.CorrelationKey)
	}

	if len(backend.callbacks) != 1 {
		t.Errorf("expected callback persisted, got %d", len(backend.callbacks))
	}
}

func TestListCallbacksRequiresKey(t *testing.T) {
	srv := newTestServer(newFakeBackend())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/callbacks")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 without correlation_key, got %d", resp.StatusCode)
	}
}

func TestRegisterCorrelation(t *testing.T) {
	backend := newFakeBackend()
	srv := newTestServer(backend)
	defer srv.Close()

	req := RegisterCorrelationRequest{
		CorrelationKey: "ord-42",
		InstanceID:     "inst-1",
		SignalName:     "OrderConfirmed",
	}

	resp := postJSON(t, srv.URL+"/api/v1/correlations", req)
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	// Повторная регистрация того же ключа — конфликт.
	resp = postJSON(t, srv.URL+"/api/v1/correlations", req)
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate key, got %d", resp.StatusCode)
	}
}

func TestListTasksFiltersByStatus(t *testing.T) {
	backend := newFakeBackend()
	srv := newTestServer(backend)
	defer srv.Close()

	backend.Submit(context.Background(), "rest.call", nil)
	backend.rejectSubmit = true
	backend.Submit(context.Background(), "rest.call", nil)

	resp, err := http.Get(srv.URL + "/api/v1/tasks?status=FAILED")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}

	tasks := decodeData[[]domain.Task](t, resp)
	if len(tasks) != 1 {
		t.Fatalf("expected 1 failed task, got %d", len(tasks))
	}
	if tasks[0].Status != domain.TaskStatusFailed {
		t.Errorf("expected FAILED, got %s", tasks[0].Status)
	}
}

func TestListTasksRejectsUnknownStatus(t *testing.T) {
	srv := newTestServer(newFakeBackend())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/tasks?status=BOGUS")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status, got %d", resp.StatusCode)
	}
}
