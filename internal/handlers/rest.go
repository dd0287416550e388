package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/shaiso/Courier/internal/apiclient"
	"github.com/shaiso/Courier/internal/domain"
)

// Caller — подмножество apiclient.Client, нужное обработчикам.
type Caller interface {
	Call(ctx context.Context, req *apiclient.Request) (*apiclient.Response, error)
}

// RESTHandler выполняет вызов REST API по описанию из payload.
//
// Входной документ:
//
//	{
//	  "api_name":   "billing",          // обязательно
//	  "account_id": "acc-1",            // обязательно
//	  "path":       "/v1/invoices",     // обязательно
//	  "method":     "POST",             // опционально, default POST
//	  "body":       {...},              // опционально, JSON-тело
//	  "headers":    {"X-Req": "1"},     // опционально
//	  "call_class": "slow"              // опционально, default|slow
//	}
type RESTHandler struct {
	client Caller
}

// NewRESTHandler создаёт обработчик топика rest.call.
func NewRESTHandler(client Caller) *RESTHandler {
	return &RESTHandler{client: client}
}

// Topic возвращает имя топика.
func (h *RESTHandler) Topic() string { return "rest.call" }

// Validate проверяет обязательные поля входного документа.
func (h *RESTHandler) Validate(payload map[string]any) error {
	for _, field := range []string{"api_name", "account_id", "path"} {
		if _, err := getString(payload, field); err != nil {
			return domain.WrapClassified(domain.ErrorClassValidation, domain.ErrCodeValidationFailed,
				"invalid rest.call payload", err)
		}
	}

	if method := optString(payload, "method"); method != "" {
		switch method {
		case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		default:
			return domain.NewClassifiedError(domain.ErrorClassValidation, domain.ErrCodeValidationFailed,
				fmt.Sprintf("unsupported method %q", method))
		}
	}

	if class := optString(payload, "call_class"); class != "" && class != "default" && class != "slow" {
		return domain.NewClassifiedError(domain.ErrorClassValidation, domain.ErrCodeValidationFailed,
			fmt.Sprintf("unknown call_class %q", class))
	}

	return nil
}

// Handle выполняет REST вызов и возвращает выходной документ.
func (h *RESTHandler) Handle(ctx context.Context, payload map[string]any) (map[string]any, error) {
	apiName, _ := getString(payload, "api_name")
	accountID, _ := getString(payload, "account_id")
	path, _ := getString(payload, "path")

	method := optString(payload, "method")
	if method == "" {
		method = http.MethodPost
	}

	var body []byte
	if raw, ok := payload["body"]; ok && raw != nil {
		var err error
		body, err = json.Marshal(raw)
		if err != nil {
			return nil, domain.WrapClassified(domain.ErrorClassValidation, domain.ErrCodeValidationFailed,
				"marshal request body", err)
		}
	}

	headers := make(map[string]string)
	if raw, ok := payload["headers"].(map[string]any); ok {
		for k, v := range raw {
			if s, ok := v.(string); ok {
				headers[k] = s
			}
		}
	}

	resp, err := h.client.Call(ctx, &apiclient.Request{
		APIName:   apiName,
		AccountID: accountID,
		Method:    method,
		Path:      path,
		Headers:   headers,
		Body:      body,
		Class:     apiclient.CallClass(optString(payload, "call_class")),
	})
	if err != nil {
		return nil, err
	}

	return buildOutputs(resp), nil
}

// buildOutputs собирает выходной документ из ответа upstream.
// Тело парсится как JSON, если получается; иначе кладётся строкой.
func buildOutputs(resp *apiclient.Response) map[string]any {
	out := map[string]any{
		"status": resp.StatusCode,
	}

	if len(resp.Body) > 0 {
		var parsed any
		if err := json.Unmarshal(resp.Body, &parsed); err == nil {
			out["body"] = parsed
		} else {
			out["body"] = string(resp.Body)
		}
	}

	return out
}

// getString извлекает обязательное строковое поле из payload.
func getString(payload map[string]any, key string) (string, error) {
	raw, ok := payload[key]
	if !ok {
		return "", fmt.Errorf("missing required field %q", key)
	}

	s, ok := raw.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("field %q must be a non-empty string", key)
	}

	return s, nil
}

// optString извлекает опциональное строковое поле.
func optString(payload map[string]any, key string) string {
	s, _ := payload[key].(string)
	return s
}
