package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/shaiso/Courier/internal/apiclient"
	"github.com/shaiso/Courier/internal/domain"
)

// soapEnvelope — шаблон конверта SOAP 1.1. В body подставляется
// XML-фрагмент из входного документа как есть.
const soapEnvelope = `<?xml version="1.0" encoding="UTF-8"?>
<soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/">
  <soapenv:Body>
%s
  </soapenv:Body>
</soapenv:Envelope>`

// SOAPHandler выполняет вызов SOAP API по описанию из payload.
//
// Входной документ:
//
//	{
//	  "api_name":    "legacy-erp",          // обязательно
//	  "account_id":  "acc-1",               // обязательно
//	  "path":        "/ws/OrderService",    // обязательно
//	  "soap_action": "urn:CreateOrder",     // обязательно
//	  "body":        "<CreateOrder>...</CreateOrder>", // обязательно, XML-фрагмент
//	  "call_class":  "slow"                 // опционально
//	}
type SOAPHandler struct {
	client Caller
}

// NewSOAPHandler создаёт обработчик топика soap.call.
func NewSOAPHandler(client Caller) *SOAPHandler {
	return &SOAPHandler{client: client}
}

// Topic возвращает имя топика.
func (h *SOAPHandler) Topic() string { return "soap.call" }

// Validate проверяет обязательные поля входного документа.
func (h *SOAPHandler) Validate(payload map[string]any) error {
	for _, field := range []string{"api_name", "account_id", "path", "soap_action", "body"} {
		if _, err := getString(payload, field); err != nil {
			return domain.WrapClassified(domain.ErrorClassValidation, domain.ErrCodeValidationFailed,
				"invalid soap.call payload", err)
		}
	}

	if class := optString(payload, "call_class"); class != "" && class != "default" && class != "slow" {
		return domain.NewClassifiedError(domain.ErrorClassValidation, domain.ErrCodeValidationFailed,
			fmt.Sprintf("unknown call_class %q", class))
	}

	return nil
}

// Handle выполняет SOAP вызов и возвращает выходной документ.
func (h *SOAPHandler) Handle(ctx context.Context, payload map[string]any) (map[string]any, error) {
	apiName, _ := getString(payload, "api_name")
	accountID, _ := getString(payload, "account_id")
	path, _ := getString(payload, "path")
	soapAction, _ := getString(payload, "soap_action")
	bodyXML, _ := getString(payload, "body")

	envelope := fmt.Sprintf(soapEnvelope, bodyXML)

	resp, err := h.client.Call(ctx, &apiclient.Request{
		APIName:     apiName,
		AccountID:   accountID,
		Method:      http.MethodPost,
		Path:        path,
		ContentType: "text/xml; charset=utf-8",
		Headers: map[string]string{
			"SOAPAction": soapAction,
		},
		Body:  []byte(envelope),
		Class: apiclient.CallClass(optString(payload, "call_class")),
	})
	if err != nil {
		return nil, err
	}

	body := string(resp.Body)

	// SOAP fault может прийти и со статусом 200: легаси-сервисы
	// нередко игнорируют соглашение про 500. Наличие Fault-элемента —
	// явный отказ, терминальный для task.
	if containsFault(body) {
		return nil, domain.NewClassifiedError(domain.ErrorClassBusiness, domain.ErrCodeBusinessRejected,
			fmt.Sprintf("soap fault: %s", snippetXML(body)))
	}

	return map[string]any{
		"status": resp.StatusCode,
		"body":   body,
	}, nil
}

// containsFault проверяет наличие SOAP Fault в ответе.
func containsFault(body string) bool {
	return strings.Contains(body, ":Fault>") || strings.Contains(body, "<Fault>")
}

// snippetXML обрезает XML для сообщения об ошибке.
func snippetXML(body string) string {
	const maxLen = 500
	if len(body) > maxLen {
		return body[:maxLen] + "..."
	}
	return body
}
