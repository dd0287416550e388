// Package credentials — выпуск и кэширование токенов доступа к внешним API.
//
// Токены живут на двух уровнях: локальный in-process кэш и общий Redis.
// Токен считается годным, только если до его истечения остаётся больше
// safety margin — иначе запрос может уйти с токеном, который протухнет
// в полёте. Одновременные промахи по одному ключу схлопываются
// в один запрос к провайдеру через singleflight.
//
// При 401 от upstream клиент вызывает Invalidate, и следующий Get
// выпустит свежий токен.
package credentials
