package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/shaiso/Courier/internal/config"
)

// ExternalTask — задача, захваченная у workflow-движка.
type ExternalTask struct {
	// ID — идентификатор external task в движке.
	ID string `json:"id"`

	// Topic — топик задачи.
	Topic string `json:"topic"`

	// InstanceID — экземпляр процесса, породивший задачу.
	InstanceID string `json:"instance_id"`

	// BusinessKey — бизнес-ключ процесса.
	BusinessKey string `json:"business_key,omitempty"`

	// Variables — переменные процесса, видимые задаче.
	Variables map[string]any `json:"variables"`

	// Retries — остаток повторов на стороне движка.
	// nil — движок ещё не выставлял счётчик.
	Retries *int `json:"retries,omitempty"`
}

// Client — HTTP клиент external-task протокола движка.
type Client struct {
	baseURL  string
	workerID string
	http     *http.Client
	logger   *slog.Logger
}

// NewClient создаёт клиент движка.
func NewClient(cfg config.EngineConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:  strings.TrimSuffix(cfg.BaseURL, "/"),
		workerID: cfg.WorkerID,
		http:     &http.Client{Timeout: 30 * time.Second},
		logger:   logger,
	}
}

// FetchAndLock захватывает до maxTasks задач по указанным топикам.
// Long-poll на стороне движка; пустой ответ — нет готовых задач.
func (c *Client) FetchAndLock(ctx context.Context, topics []string, maxTasks int, lockDuration time.Duration) ([]ExternalTask, error) {
	type topicSpec struct {
		Name         string `json:"name"`
		LockDuration int64  `json:"lock_duration_ms"`
	}

	specs := make([]topicSpec, 0, len(topics))
	for _, t := range topics {
		specs = append(specs, topicSpec{Name: t, LockDuration: lockDuration.Milliseconds()})
	}

	body := map[string]any{
		"worker_id": c.workerID,
		"max_tasks": maxTasks,
		"topics":    specs,
	}

	var tasks []ExternalTask
	if err := c.post(ctx, "/external-tasks/fetchAndLock", body, &tasks); err != nil {
		return nil, fmt.Errorf("fetch and lock: %w", err)
	}
	return tasks, nil
}

// Complete завершает задачу с выходными переменными.
func (c *Client) Complete(ctx context.Context, taskID string, variables map[string]any) error {
	body := map[string]any{
		"worker_id": c.workerID,
		"variables": variables,
	}
	if err := c.post(ctx, "/external-tasks/"+taskID+"/complete", body, nil); err != nil {
		return fmt.Errorf("complete task %s: %w", taskID, err)
	}
	return nil
}

// Fail сообщает движку о технической неудаче.
// retries — остаток повторов на стороне движка; 0 переводит задачу
// в инцидент.
func (c *Client) Fail(ctx context.Context, taskID, errMsg string, retries int, retryTimeout time.Duration) error {
	body := map[string]any{
		"worker_id":        c.workerID,
		"error_message":    errMsg,
		"retries":          retries,
		"retry_timeout_ms": retryTimeout.Milliseconds(),
	}
	if err := c.post(ctx, "/external-tasks/"+taskID+"/failure", body, nil); err != nil {
		return fmt.Errorf("fail task %s: %w", taskID, err)
	}
	return nil
}

// ReportBusinessError сообщает движку о бизнес-отказе со стабильным кодом.
// Процесс ветвится по коду через boundary error event.
func (c *Client) ReportBusinessError(ctx context.Context, taskID, errorCode, errMsg string) error {
	body := map[string]any{
		"worker_id":     c.workerID,
		"error_code":    errorCode,
		"error_message": errMsg,
	}
	if err := c.post(ctx, "/external-tasks/"+taskID+"/bpmnError", body, nil); err != nil {
		return fmt.Errorf("report business error for task %s: %w", taskID, err)
	}
	return nil
}

// ExtendLock продлевает лок задачи.
func (c *Client) ExtendLock(ctx context.Context, taskID string, newDuration time.Duration) error {
	body := map[string]any{
		"worker_id":       c.workerID,
		"new_duration_ms": newDuration.Milliseconds(),
	}
	if err := c.post(ctx, "/external-tasks/"+taskID+"/extendLock", body, nil); err != nil {
		return fmt.Errorf("extend lock for task %s: %w", taskID, err)
	}
	return nil
}

// SendSignal доставляет сигнал возобновления ожидающему экземпляру процесса.
// Реализует correlate.Signaler.
func (c *Client) SendSignal(ctx context.Context, instanceID, signalName string, payload map[string]any) error {
	body := map[string]any{
		"message_name": signalName,
		"instance_id":  instanceID,
		"variables":    payload,
	}
	if err := c.post(ctx, "/messages", body, nil); err != nil {
		return fmt.Errorf("send signal %s to %s: %w", signalName, instanceID, err)
	}
	return nil
}

// post выполняет POST с JSON телом и опциональным парсингом ответа.
func (c *Client) post(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("engine request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read engine response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("engine returned %d: %s", resp.StatusCode, truncate(string(respBody), 200))
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("parse engine response: %w", err)
		}
	}

	return nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
