package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/shaiso/Courier/internal/domain"
)

// ReceiveCallback обрабатывает POST /api/v1/callbacks — webhook-эндпоинт.
//
// 202 отвечается после durable записи, до корреляции: внешней системе
// важно только то, что уведомление не потеряется. Повторная доставка
// того же уведомления тоже получает 202 — идемпотентность обеспечивает
// Correlator, а не этот эндпоинт.
func (h *Handler) ReceiveCallback(w http.ResponseWriter, r *http.Request) {
	var payload map[string]any
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		BadRequest(w, "invalid JSON body")
		return
	}

	cb, err := h.receiver.Receive(r.Context(), payload)
	if err != nil {
		InternalError(w, h.logger, err)
		return
	}

	Accepted(w, CallbackAck{
		CallbackID:     cb.ID.String(),
		CorrelationKey: cb.CorrelationKey,
	})
}

// ListCallbacks обрабатывает GET /api/v1/callbacks?correlation_key=.
func (h *Handler) ListCallbacks(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("correlation_key")
	if key == "" {
		BadRequest(w, "correlation_key is required")
		return
	}

	limit := parseIntParam(r.URL.Query().Get("limit"), 50)

	callbacks, err := h.callbacks.ListByCorrelationKey(r.Context(), key, limit)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	List(w, callbacks, len(callbacks))
}

// RegisterCorrelation обрабатывает POST /api/v1/correlations.
// Используется движком (или его glue-кодом), когда процесс встаёт
// в ожидание callback'а.
func (h *Handler) RegisterCorrelation(w http.ResponseWriter, r *http.Request) {
	var req RegisterCorrelationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid JSON body")
		return
	}

	if req.CorrelationKey == "" || req.InstanceID == "" || req.SignalName == "" {
		BadRequest(w, "correlation_key, instance_id and signal_name are required")
		return
	}

	pc := &domain.PendingCorrelation{
		CorrelationKey: req.CorrelationKey,
		InstanceID:     req.InstanceID,
		SignalName:     req.SignalName,
		CreatedAt:      time.Now().UTC(),
	}

	if HandleRepoError(w, h.logger, h.correlations.Register(r.Context(), pc), "") {
		return
	}

	Created(w, pc)
}
