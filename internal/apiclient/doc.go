// Package apiclient — вызовы внешних SOAP/REST API с классификацией ошибок.
//
// Клиент выполняет одну попытку на вызов; повторные попытки планирует
// диспетчер через статус RETRYING и next_attempt_at. Единственное
// исключение — обязательная одноразовая реаутентификация при 401:
// токен инвалидируется, выпускается заново и запрос уходит ещё раз.
// Повторный 401 означает негодные учётные данные и классифицируется
// как AUTH.
//
// Таймаут попытки зависит от класса вызова: default или slow,
// оба настраиваются per-API.
package apiclient
