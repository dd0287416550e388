package api

import (
	"net/http"
)

// RegisterRoutes регистрирует все маршруты API.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Middleware chain
	chain := Chain(
		Recovery(h.logger),
		Logging(h.logger),
	)

	// Tasks
	mux.Handle("POST /api/v1/tasks", chain(http.HandlerFunc(h.SubmitTask)))
	mux.Handle("GET /api/v1/tasks", chain(http.HandlerFunc(h.ListTasks)))
	mux.Handle("GET /api/v1/tasks/{id}", chain(http.HandlerFunc(h.GetTask)))

	// Callbacks (webhook)
	mux.Handle("POST /api/v1/callbacks", chain(http.HandlerFunc(h.ReceiveCallback)))
	mux.Handle("GET /api/v1/callbacks", chain(http.HandlerFunc(h.ListCallbacks)))

	// Pending correlations
	mux.Handle("POST /api/v1/correlations", chain(http.HandlerFunc(h.RegisterCorrelation)))
}
