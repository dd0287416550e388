package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// --- Response types (дублируются из api, CLI не импортирует internal/api) ---

// TaskResponse — task из API.
type TaskResponse struct {
	ID            string         `json:"id"`
	Topic         string         `json:"topic"`
	Status        string         `json:"status"`
	Attempt       int            `json:"attempt"`
	Payload       map[string]any `json:"payload,omitempty"`
	Result        map[string]any `json:"result,omitempty"`
	ErrorCode     string         `json:"error_code,omitempty"`
	Error         string         `json:"error,omitempty"`
	NextAttemptAt string         `json:"next_attempt_at,omitempty"`
	CreatedAt     string         `json:"created_at"`
	UpdatedAt     string         `json:"updated_at"`
}

// CallbackResponse — callback из API.
type CallbackResponse struct {
	ID             string         `json:"id"`
	CorrelationKey string         `json:"correlation_key"`
	PayloadHash    string         `json:"payload_hash"`
	Payload        map[string]any `json:"payload,omitempty"`
	Processed      bool           `json:"processed"`
	SignalSent     bool           `json:"signal_sent"`
	ReceivedAt     string         `json:"received_at"`
}

// CallbackAckResponse — подтверждение приёма webhook'а.
type CallbackAckResponse struct {
	CallbackID     string `json:"callback_id"`
	CorrelationKey string `json:"correlation_key,omitempty"`
}

// CorrelationResponse — зарегистрированное ожидание callback'а.
type CorrelationResponse struct {
	CorrelationKey string `json:"correlation_key"`
	InstanceID     string `json:"instance_id"`
	SignalName     string `json:"signal_name"`
	CreatedAt      string `json:"created_at"`
}

// --- Request types ---

// SubmitTaskRequest — постановка задачи.
type SubmitTaskRequest struct {
	Topic   string         `json:"topic"`
	Payload map[string]any `json:"payload,omitempty"`
}

// RegisterCorrelationRequest — регистрация ожидания callback'а.
type RegisterCorrelationRequest struct {
	CorrelationKey string `json:"correlation_key"`
	InstanceID     string `json:"instance_id"`
	SignalName     string `json:"signal_name"`
}

// ListTasksOpts — параметры фильтрации tasks.
type ListTasksOpts struct {
	Status string
	Topic  string
	Limit  int
}

// --- API response wrappers ---

type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

type listResponse struct {
	Data  json.RawMessage `json:"data"`
	Total int             `json:"total"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// --- Client ---

// Client — HTTP-клиент для Courier API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент для API.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// --- Tasks ---

// SubmitTask ставит задачу в очередь шлюза.
func (c *Client) SubmitTask(req SubmitTaskRequest) (*TaskResponse, error) {
	var task TaskResponse
	err := c.post("/api/v1/tasks", req, &task)
	return &task, err
}

// GetTask возвращает task по ID.
func (c *Client) GetTask(id string) (*TaskResponse, error) {
	var task TaskResponse
	err := c.get("/api/v1/tasks/"+id, &task)
	return &task, err
}

// ListTasks возвращает список tasks с фильтрацией.
func (c *Client) ListTasks(opts ListTasksOpts) ([]TaskResponse, error) {
	params := url.Values{}
	if opts.Status != "" {
		params.Set("status", opts.Status)
	}
	if opts.Topic != "" {
		params.Set("topic", opts.Topic)
	}
	if opts.Limit > 0 {
		params.Set("limit", fmt.Sprintf("%d", opts.Limit))
	}

	var tasks []TaskResponse
	err := c.list("/api/v1/tasks", params, &tasks)
	return tasks, err
}

// --- Callbacks ---

// SendCallback отправляет уведомление в webhook-эндпоинт.
// Используется для ручного тестирования корреляции.
func (c *Client) SendCallback(payload map[string]any) (*CallbackAckResponse, error) {
	var ack CallbackAckResponse
	err := c.post("/api/v1/callbacks", payload, &ack)
	return &ack, err
}

// ListCallbacks возвращает callbacks по ключу корреляции.
func (c *Client) ListCallbacks(correlationKey string, limit int) ([]CallbackResponse, error) {
	params := url.Values{}
	params.Set("correlation_key", correlationKey)
	if limit > 0 {
		params.Set("limit", fmt.Sprintf("%d", limit))
	}

	var callbacks []CallbackResponse
	err := c.list("/api/v1/callbacks", params, &callbacks)
	return callbacks, err
}

// --- Correlations ---

// RegisterCorrelation регистрирует ожидание callback'а.
func (c *Client) RegisterCorrelation(req RegisterCorrelationRequest) (*CorrelationResponse, error) {
	var pc CorrelationResponse
	err := c.post("/api/v1/correlations", req, &pc)
	return &pc, err
}

// --- HTTP helpers ---

func (c *Client) get(path string, result any) error {
	return c.doData(http.MethodGet, path, nil, result)
}

func (c *Client) post(path string, body any, result any) error {
	return c.doData(http.MethodPost, path, body, result)
}

func (c *Client) list(path string, params url.Values, result any) error {
	if len(params) > 0 {
		path = path + "?" + params.Encode()
	}

	resp, err := c.do(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	var lr listResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return json.Unmarshal(lr.Data, result)
}

func (c *Client) doData(method, path string, body any, result any) error {
	resp, err := c.do(method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	var dr dataResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if result != nil {
		return json.Unmarshal(dr.Data, result)
	}
	return nil
}

func (c *Client) do(method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

func (c *Client) checkError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return fmt.Errorf("API error: HTTP %d", resp.StatusCode)
	}

	return fmt.Errorf("%s: %s", er.Error.Code, er.Error.Message)
}
