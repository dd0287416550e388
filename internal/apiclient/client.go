package apiclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/shaiso/Courier/internal/config"
	"github.com/shaiso/Courier/internal/domain"
)

// CallClass — класс вызова, определяет таймаут попытки.
type CallClass string

const (
	// CallClassDefault — обычный вызов.
	CallClassDefault CallClass = "default"

	// CallClassSlow — заведомо долгая операция (тяжёлые отчёты, batch).
	CallClassSlow CallClass = "slow"
)

// Request — один вызов внешнего API.
type Request struct {
	// APIName — имя API из конфигурации.
	APIName string

	// AccountID — аккаунт, от имени которого идёт вызов.
	AccountID string

	// Method — HTTP метод.
	Method string

	// Path — путь относительно BaseURL API.
	Path string

	// Headers — дополнительные заголовки.
	Headers map[string]string

	// Body — тело запроса. Nil — без тела.
	Body []byte

	// ContentType — Content-Type тела. Пустой — application/json.
	ContentType string

	// Class — класс вызова. Пустой — default.
	Class CallClass
}

// Response — ответ внешнего API.
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// TokenSource выдаёт и инвалидирует токены для внешних API.
type TokenSource interface {
	Get(ctx context.Context, apiName, accountID string) (*domain.Credential, error)
	Invalidate(ctx context.Context, apiName, accountID string)
}

// Client — клиент внешних API с классификацией ошибок.
//
// Клиент выполняет ОДНУ попытку на вызов; единственное исключение —
// обязательная одноразовая реаутентификация при 401: токен
// инвалидируется, выпускается заново, запрос повторяется один раз.
// Все прочие повторы — ответственность state machine диспетчера,
// поэтому возвращаемая ошибка всегда классифицирована.
type Client struct {
	apis   map[string]config.APIConfig
	tokens TokenSource
	logger *slog.Logger

	// transport разделяется между вызовами; таймаут попытки задаётся
	// через context per-call, а не через http.Client.Timeout.
	transport *http.Client
}

// New создаёт клиент внешних API.
func New(apis map[string]config.APIConfig, tokens TokenSource, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		apis:      apis,
		tokens:    tokens,
		logger:    logger,
		transport: &http.Client{},
	}
}

// Call выполняет вызов внешнего API.
//
// Ошибка всегда *domain.ClassifiedError (через errors.As):
//   - транспортная ошибка / connection refused → TRANSIENT, UPSTREAM_UNAVAILABLE
//   - таймаут попытки → TRANSIENT, UPSTREAM_TIMEOUT
//   - 5xx, 429 → TRANSIENT, UPSTREAM_ERROR
//   - 401 после реаутентификации → AUTH, AUTH_REJECTED
//   - прочие 4xx → BUSINESS, BUSINESS_REJECTED (тело ответа сохраняется)
func (c *Client) Call(ctx context.Context, req *Request) (*Response, error) {
	apiCfg, ok := c.apis[req.APIName]
	if !ok {
		return nil, domain.NewClassifiedError(domain.ErrorClassValidation, domain.ErrCodeValidationFailed,
			fmt.Sprintf("unknown api %q", req.APIName))
	}

	timeout := apiCfg.DefaultTimeout.Std()
	if req.Class == CallClassSlow && apiCfg.SlowTimeout > 0 {
		timeout = apiCfg.SlowTimeout.Std()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	start := time.Now()

	resp, err := c.attempt(ctx, &apiCfg, req, timeout)

	// 401: обязательная одноразовая реаутентификация.
	// Инвалидируем токен на обоих ярусах и повторяем с новым.
	if err == nil && resp.StatusCode == http.StatusUnauthorized {
		c.logger.Warn("upstream rejected token, re-authenticating",
			"api_name", req.APIName,
			"account_id", req.AccountID,
		)
		c.tokens.Invalidate(ctx, req.APIName, req.AccountID)
		resp, err = c.attempt(ctx, &apiCfg, req, timeout)
	}

	elapsed := time.Since(start)

	if err != nil {
		ce := domain.AsClassified(err)
		c.logger.Warn("upstream call failed",
			"api_name", req.APIName,
			"method", req.Method,
			"path", req.Path,
			"class", ce.Class,
			"code", ce.Code,
			"elapsed", elapsed,
			"error", err,
		)
		return nil, ce
	}

	if ce := classifyStatus(resp); ce != nil {
		c.logger.Warn("upstream call rejected",
			"api_name", req.APIName,
			"method", req.Method,
			"path", req.Path,
			"status", resp.StatusCode,
			"class", ce.Class,
			"code", ce.Code,
			"elapsed", elapsed,
		)
		return resp, ce
	}

	c.logger.Debug("upstream call succeeded",
		"api_name", req.APIName,
		"method", req.Method,
		"path", req.Path,
		"status", resp.StatusCode,
		"elapsed", elapsed,
	)

	return resp, nil
}

// attempt выполняет один HTTP запрос с токеном и таймаутом.
func (c *Client) attempt(ctx context.Context, apiCfg *config.APIConfig, req *Request, timeout time.Duration) (*Response, error) {
	cred, err := c.tokens.Get(ctx, req.APIName, req.AccountID)
	if err != nil {
		return nil, domain.WrapClassified(domain.ErrorClassAuth, domain.ErrCodeAuthRejected,
			"failed to obtain token", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	fullURL := strings.TrimSuffix(apiCfg.BaseURL, "/") + "/" + strings.TrimPrefix(req.Path, "/")

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, fullURL, body)
	if err != nil {
		return nil, domain.WrapClassified(domain.ErrorClassValidation, domain.ErrCodeValidationFailed,
			"build request", err)
	}

	httpReq.Header.Set("Authorization", "Bearer "+cred.Token)
	if req.Body != nil {
		ct := req.ContentType
		if ct == "" {
			ct = "application/json"
		}
		httpReq.Header.Set("Content-Type", ct)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := c.transport.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, domain.WrapClassified(domain.ErrorClassTransient, domain.ErrCodeUpstreamTimeout,
				fmt.Sprintf("attempt timed out after %s", timeout), err)
		}
		return nil, domain.WrapClassified(domain.ErrorClassTransient, domain.ErrCodeUpstreamUnavailable,
			"transport error", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, 4<<20))
	if err != nil {
		return nil, domain.WrapClassified(domain.ErrorClassTransient, domain.ErrCodeUpstreamUnavailable,
			"read response body", err)
	}

	return &Response{
		StatusCode: httpResp.StatusCode,
		Headers:    httpResp.Header,
		Body:       respBody,
	}, nil
}

// classifyStatus переводит HTTP статус в классифицированную ошибку.
// Возвращает nil для успешных статусов.
func classifyStatus(resp *Response) *domain.ClassifiedError {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil

	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		// Второй 401 после реаутентификации: учётные данные неверны.
		return domain.NewClassifiedError(domain.ErrorClassAuth, domain.ErrCodeAuthRejected,
			fmt.Sprintf("upstream rejected credentials with %d after re-authentication", resp.StatusCode))

	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return domain.NewClassifiedError(domain.ErrorClassTransient, domain.ErrCodeUpstreamError,
			fmt.Sprintf("upstream returned %d: %s", resp.StatusCode, snippet(resp.Body)))

	default:
		// Прочие 4xx: upstream явно отклонил семантику запроса.
		// Тело ответа сохраняется дословно для передачи в процесс.
		return domain.NewClassifiedError(domain.ErrorClassBusiness, domain.ErrCodeBusinessRejected,
			fmt.Sprintf("upstream returned %d: %s", resp.StatusCode, snippet(resp.Body)))
	}
}

// snippet возвращает начало тела для сообщения об ошибке.
func snippet(body []byte) string {
	const maxLen = 500
	s := string(body)
	if len(s) > maxLen {
		return s[:maxLen] + "..."
	}
	return s
}
