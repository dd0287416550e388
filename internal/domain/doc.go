// Package domain содержит основные типы шлюза Courier.
//
// Типы:
//   - Task — единица работы с машиной состояний PENDING → IN_PROGRESS →
//     RETRYING/SUCCEEDED/FAILED (терминальные статусы неизменяемы)
//   - Callback — запись о полученном webhook-уведомлении (аудит, идемпотентность)
//   - PendingCorrelation — ожидание callback'а экземпляром процесса
//   - Credential — короткоживущий токен для внешнего API
//   - ClassifiedError — ошибка с классом (VALIDATION, TRANSIENT, AUTH,
//     BUSINESS, INFRA) и стабильным кодом для ветвления в движке
//
// Пакет не зависит от инфраструктуры (БД, MQ, HTTP) и не содержит I/O.
package domain
