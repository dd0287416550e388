// Package telemetry — structured logging и метрики.
//
// Логирование построено на log/slog: SetupLogger() настраивает глобальный
// логгер по LOG_LEVEL/LOG_FORMAT, With*-хелперы добавляют стандартные поля
// (task_id, topic, correlation_key, api_name).
//
// Метрики — prometheus counters, отдаются каждым процессом на /metrics.
package telemetry
