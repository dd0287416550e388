package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/shaiso/Courier/internal/domain"
	"github.com/shaiso/Courier/internal/repo"
)

// SubmitTask обрабатывает POST /api/v1/tasks.
//
// Ответ всегда 201 с записью задачи: невалидный вход даёт запись
// сразу в FAILED со стабильным кодом — вызывающий читает исход
// из самой задачи.
func (h *Handler) SubmitTask(w http.ResponseWriter, r *http.Request) {
	var req SubmitTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid JSON body")
		return
	}

	if req.Topic == "" {
		BadRequest(w, "topic is required")
		return
	}

	task, err := h.submitter.Submit(r.Context(), req.Topic, req.Payload)
	if err != nil {
		InternalError(w, h.logger, err)
		return
	}

	Created(w, task)
}

// GetTask обрабатывает GET /api/v1/tasks/{id}.
func (h *Handler) GetTask(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid task id")
		return
	}

	task, err := h.tasks.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "task not found") {
		return
	}

	Success(w, task)
}

// ListTasks обрабатывает GET /api/v1/tasks?status=&topic=&limit=&offset=.
func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := repo.TaskFilter{
		Topic:  q.Get("topic"),
		Limit:  parseIntParam(q.Get("limit"), 50),
		Offset: parseIntParam(q.Get("offset"), 0),
	}

	if raw := q.Get("status"); raw != "" {
		status, ok := domain.ParseTaskStatus(raw)
		if !ok {
			BadRequest(w, "unknown status "+raw)
			return
		}
		filter.Status = status
	}

	tasks, err := h.tasks.List(r.Context(), filter)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	List(w, tasks, len(tasks))
}

// parseIntParam парсит числовой query-параметр с дефолтом.
func parseIntParam(raw string, def int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}
