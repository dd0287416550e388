// Package gateway — приём задач на границе шлюза.
//
// Submit валидирует вход через обработчик топика до постановки
// в очередь: невалидный документ сразу становится терминальной FAILED
// записью с нулём попыток, валидный — PENDING задачей с уведомлением
// диспетчеру.
package gateway
