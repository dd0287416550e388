// Package api — HTTP API шлюза.
//
// Поверхность:
//
//	POST /api/v1/tasks          — постановка задачи
//	GET  /api/v1/tasks          — список с фильтрами
//	GET  /api/v1/tasks/{id}     — задача по ID
//	POST /api/v1/callbacks      — webhook-эндпоинт (202 после записи)
//	GET  /api/v1/callbacks      — аудит по ключу корреляции
//	POST /api/v1/correlations   — регистрация ожидания callback'а
//
// Формат ответов: {"data": ...} для успеха,
// {"error": {"code", "message"}} для ошибок.
package api
