package correlate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Courier/internal/domain"
	"github.com/shaiso/Courier/internal/repo"
)

// memCallbacks — in-memory CallbackStore + SweepStore.
type memCallbacks struct {
	mu        sync.Mutex
	callbacks map[uuid.UUID]*domain.Callback
}

func newMemCallbacks() *memCallbacks {
	return &memCallbacks{callbacks: make(map[uuid.UUID]*domain.Callback)}
}

func (s *memCallbacks) Create(ctx context.Context, cb *domain.Callback) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *cb
	s.callbacks[cb.ID] = &clone
	return nil
}

func (s *memCallbacks) GetByID(ctx context.Context, id uuid.UUID) (*domain.Callback, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cb, ok := s.callbacks[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	clone := *cb
	return &clone, nil
}

func (s *memCallbacks) HasSignalled(ctx context.Context, key, payloadHash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cb := range s.callbacks {
		if cb.CorrelationKey == key && cb.PayloadHash == payloadHash && cb.SignalSent {
			return true, nil
		}
	}
	return false, nil
}

func (s *memCallbacks) ClaimSignal(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cb := s.callbacks[id]
	if cb.SignalSent {
		return repo.ErrAlreadySignalled
	}
	now := time.Now()
	cb.SignalSent = true
	cb.Processed = true
	cb.ProcessedAt = &now
	return nil
}

func (s *memCallbacks) ReleaseSignal(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callbacks[id].SignalSent = false
	return nil
}

func (s *memCallbacks) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	cb := s.callbacks[id]
	cb.Processed = true
	cb.ProcessedAt = &now
	return nil
}

func (s *memCallbacks) ListUnsignalled(ctx context.Context, retention time.Duration, limit int) ([]domain.Callback, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().Add(-retention)
	var out []domain.Callback
	for _, cb := range s.callbacks {
		if len(out) >= limit {
			break
		}
		if cb.Processed && !cb.SignalSent && cb.CorrelationKey != "" && cb.ReceivedAt.After(cutoff) {
			out = append(out, *cb)
		}
	}
	return out, nil
}

// memCorrelations — in-memory CorrelationStore.
type memCorrelations struct {
	mu      sync.Mutex
	pending map[string]*domain.PendingCorrelation
}

func newMemCorrelations() *memCorrelations {
	return &memCorrelations{pending: make(map[string]*domain.PendingCorrelation)}
}

func (s *memCorrelations) register(pc *domain.PendingCorrelation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[pc.CorrelationKey] = pc
}

func (s *memCorrelations) Get(ctx context.Context, key string) (*domain.PendingCorrelation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pc, ok := s.pending[key]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return pc, nil
}

func (s *memCorrelations) Consume(ctx context.Context, key string) (*domain.PendingCorrelation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pc, ok := s.pending[key]
	if !ok {
		return nil, repo.ErrNotFound
	}
	delete(s.pending, key)
	return pc, nil
}

// recordingSignaler запоминает отправленные сигналы.
type recordingSignaler struct {
	mu      sync.Mutex
	signals []string // instanceID/signalName
	err     error
}

func (s *recordingSignaler) SendSignal(ctx context.Context, instanceID, signalName string, payload map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.signals = append(s.signals, instanceID+"/"+signalName)
	return nil
}

func (s *recordingSignaler) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.signals)
}

func newTestCorrelator(callbacks *memCallbacks, correlations *memCorrelations, signaler Signaler) *Correlator {
	return New(Config{
		Callbacks:    callbacks,
		Correlations: correlations,
		Signaler:     signaler,
	})
}

func TestReceiveExtractsKeyAndPersists(t *testing.T) {
	callbacks := newMemCallbacks()
	c := newTestCorrelator(callbacks, newMemCorrelations(), &recordingSignaler{})

	cb, err := c.Receive(context.Background(), map[string]any{
		"order_id": "ord-42",
		"status":   "confirmed",
	})
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}

	if cb.CorrelationKey != "ord-42" {
		t.Errorf("expected key ord-42, got %q", cb.CorrelationKey)
	}
	if cb.PayloadHash == "" {
		t.Error("expected payload hash computed")
	}

	stored, err := callbacks.GetByID(context.Background(), cb.ID)
	if err != nil {
		t.Fatalf("callback not persisted: %v", err)
	}
	if stored.SignalSent {
		t.Error("expected signal_sent false right after receive")
	}
}

func TestProcessMatchesPendingAndSignals(t *testing.T) {
	callbacks := newMemCallbacks()
	correlations := newMemCorrelations()
	signaler := &recordingSignaler{}
	c := newTestCorrelator(callbacks, correlations, signaler)

	correlations.register(&domain.PendingCorrelation{
		CorrelationKey: "ord-42",
		InstanceID:     "inst-1",
		SignalName:     "OrderConfirmed",
		CreatedAt:      time.Now(),
	})

	cb, err := c.Receive(context.Background(), map[string]any{"order_id": "ord-42"})
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}

	if err := c.Process(context.Background(), cb.ID); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if signaler.count() != 1 {
		t.Fatalf("expected 1 signal, got %d", signaler.count())
	}
	if signaler.signals[0] != "inst-1/OrderConfirmed" {
		t.Errorf("unexpected signal %q", signaler.signals[0])
	}

	// Ожидание потреблено.
	if _, err := correlations.Get(context.Background(), "ord-42"); !errors.Is(err, repo.ErrNotFound) {
		t.Error("expected pending correlation consumed")
	}

	stored, _ := callbacks.GetByID(context.Background(), cb.ID)
	if !stored.SignalSent || !stored.Processed {
		t.Error("expected callback marked signalled and processed")
	}
}

// Сценарий: дубликат доставки webhook'а не порождает второй сигнал.
func TestProcessDuplicateDeliveryIsIdempotent(t *testing.T) {
	callbacks := newMemCallbacks()
	correlations := newMemCorrelations()
	signaler := &recordingSignaler{}
	c := newTestCorrelator(callbacks, correlations, signaler)

	correlations.register(&domain.PendingCorrelation{
		CorrelationKey: "ord-42",
		InstanceID:     "inst-1",
		SignalName:     "OrderConfirmed",
	})

	payload := map[string]any{"order_id": "ord-42", "status": "confirmed"}

	first, _ := c.Receive(context.Background(), payload)
	if err := c.Process(context.Background(), first.ID); err != nil {
		t.Fatalf("first Process failed: %v", err)
	}

	// Внешняя система доставила то же уведомление ещё раз.
	second, _ := c.Receive(context.Background(), payload)
	if err := c.Process(context.Background(), second.ID); err != nil {
		t.Fatalf("second Process failed: %v", err)
	}

	if signaler.count() != 1 {
		t.Errorf("expected exactly 1 signal for duplicate delivery, got %d", signaler.count())
	}

	stored, _ := callbacks.GetByID(context.Background(), second.ID)
	if !stored.Processed {
		t.Error("expected duplicate marked processed")
	}
	if stored.SignalSent {
		t.Error("expected duplicate record without signal_sent")
	}
}

// Сценарий: callback пришёл раньше регистрации ожидания; sweep доделывает.
func TestEarlyCallbackResolvedBySweep(t *testing.T) {
	callbacks := newMemCallbacks()
	correlations := newMemCorrelations()
	signaler := &recordingSignaler{}
	c := newTestCorrelator(callbacks, correlations, signaler)

	cb, _ := c.Receive(context.Background(), map[string]any{"order_id": "ord-42"})

	// Ожидания ещё нет: Process оставляет запись для sweep'а.
	if err := c.Process(context.Background(), cb.ID); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if signaler.count() != 0 {
		t.Fatalf("expected no signal before correlation registered, got %d", signaler.count())
	}

	// Процесс зарегистрировал ожидание.
	correlations.register(&domain.PendingCorrelation{
		CorrelationKey: "ord-42",
		InstanceID:     "inst-1",
		SignalName:     "OrderConfirmed",
	})

	r := NewReconciler(callbacks, c, 24*time.Hour, 100, nil)
	if err := r.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}

	if signaler.count() != 1 {
		t.Errorf("expected sweep to deliver the signal, got %d", signaler.count())
	}
}

func TestProcessReleasesClaimOnSendFailure(t *testing.T) {
	callbacks := newMemCallbacks()
	correlations := newMemCorrelations()
	signaler := &recordingSignaler{err: errors.New("engine unavailable")}
	c := newTestCorrelator(callbacks, correlations, signaler)

	correlations.register(&domain.PendingCorrelation{
		CorrelationKey: "ord-42",
		InstanceID:     "inst-1",
		SignalName:     "OrderConfirmed",
	})

	cb, _ := c.Receive(context.Background(), map[string]any{"order_id": "ord-42"})

	if err := c.Process(context.Background(), cb.ID); err == nil {
		t.Fatal("expected error when signal delivery fails")
	}

	stored, _ := callbacks.GetByID(context.Background(), cb.ID)
	if stored.SignalSent {
		t.Error("expected signal claim released after failed delivery")
	}

	// Движок ожил — sweep доставляет сигнал.
	signaler.err = nil

	r := NewReconciler(callbacks, c, 24*time.Hour, 100, nil)
	if err := r.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}

	if signaler.count() != 1 {
		t.Errorf("expected sweep retry to deliver the signal, got %d", signaler.count())
	}
}

func TestProcessKeylessCallbackMarkedProcessed(t *testing.T) {
	callbacks := newMemCallbacks()
	signaler := &recordingSignaler{}
	c := newTestCorrelator(callbacks, newMemCorrelations(), signaler)

	cb, _ := c.Receive(context.Background(), map[string]any{"noise": true})
	if cb.CorrelationKey != "" {
		t.Fatalf("expected empty key, got %q", cb.CorrelationKey)
	}

	if err := c.Process(context.Background(), cb.ID); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	stored, _ := callbacks.GetByID(context.Background(), cb.ID)
	if !stored.Processed {
		t.Error("expected keyless callback marked processed")
	}
	if signaler.count() != 0 {
		t.Error("expected no signal for keyless callback")
	}
}

func TestProcessAlreadySignalledIsNoop(t *testing.T) {
	callbacks := newMemCallbacks()
	correlations := newMemCorrelations()
	signaler := &recordingSignaler{}
	c := newTestCorrelator(callbacks, correlations, signaler)

	correlations.register(&domain.PendingCorrelation{
		CorrelationKey: "ord-42",
		InstanceID:     "inst-1",
		SignalName:     "OrderConfirmed",
	})

	cb, _ := c.Receive(context.Background(), map[string]any{"order_id": "ord-42"})

	// Конкурентная обработка того же сообщения (redelivery из очереди).
	if err := c.Process(context.Background(), cb.ID); err != nil {
		t.Fatalf("first Process failed: %v", err)
	}
	if err := c.Process(context.Background(), cb.ID); err != nil {
		t.Fatalf("second Process failed: %v", err)
	}

	if signaler.count() != 1 {
		t.Errorf("expected single signal for redelivered message, got %d", signaler.count())
	}
}
