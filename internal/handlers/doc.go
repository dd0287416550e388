// Package handlers — обработчики топиков.
//
// Обработчик отвечает за один топик: валидирует входной документ
// на приёме (до записи в store) и выполняет работу при dispatch.
// Валидация на приёме терминальна — невалидный документ сразу даёт
// FAILED с кодом VALIDATION_FAILED, не расходуя бюджет попыток.
//
// Встроенные топики: rest.call и soap.call — универсальные мосты
// к внешним REST и SOAP API. Новые топики добавляются реализацией
// Handler и регистрацией в Registry.
package handlers
