// Package cli реализует инструмент командной строки Courier.
//
// # Обзор
//
// CLI — клиентская утилита для взаимодействия с Courier API.
// Работает через HTTP, не импортирует внутренние пакеты системы.
// CLI используется для постановки задач, просмотра их состояния
// и ручной работы с callbacks при отладке корреляции.
//
// # Ключевые компоненты
//
// ## Client
//
// HTTP-клиент для Courier API. Инкапсулирует все HTTP-запросы,
// парсинг ответов (DataResponse, ListResponse, ErrorResponse)
// и обработку ошибок.
//
//	client := cli.NewClient("http://localhost:8080")
//	tasks, err := client.ListTasks(cli.ListTasksOpts{Status: "FAILED"})
//
// ## Output
//
// Форматирование вывода. Поддерживает два режима:
//   - Таблицы (text/tabwriter) — по умолчанию
//   - JSON — с флагом --json
//
// Данные выводятся в stdout, сообщения (Success/Error) — в stderr.
// Это позволяет использовать pipe: courier task list --json | jq .
//
// ## Commands
//
// Cobra-команды организованы по ресурсам:
//   - task: submit, show, list
//   - callback: send, list
//   - correlation: register
//
// Каждая группа создаётся через фабричную функцию (NewTaskCmd и т.д.),
// принимающую clientFn и outputFn — замыкания для ленивого создания
// Client и Output после парсинга PersistentFlags.
package cli
