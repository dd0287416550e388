package domain

// TaskStatus — статус выполнения task.
//
// Жизненный цикл:
//
//	PENDING → IN_PROGRESS → SUCCEEDED
//	                      ↘ RETRYING → PENDING-подобное повторное выполнение
//	                      ↘ FAILED (после исчерпания бюджета или терминальной ошибки)
//
// Терминальный статус неизменяем: никакой переход из SUCCEEDED/FAILED невозможен.
type TaskStatus string

const (
	// TaskStatusPending — task принят, ожидает диспетчеризации.
	TaskStatusPending TaskStatus = "PENDING"

	// TaskStatusInProgress — task захвачен диспетчером и выполняется.
	// Одновременно ровно один диспетчер держит IN_PROGRESS для task.
	TaskStatusInProgress TaskStatus = "IN_PROGRESS"

	// TaskStatusRetrying — попытка не удалась, назначена следующая
	// через next_attempt_at.
	TaskStatusRetrying TaskStatus = "RETRYING"

	// TaskStatusSucceeded — task успешно завершён, result сохранён.
	TaskStatusSucceeded TaskStatus = "SUCCEEDED"

	// TaskStatusFailed — task завершился с ошибкой (терминально).
	TaskStatusFailed TaskStatus = "FAILED"
)

// IsTerminal возвращает true, если статус финальный.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusSucceeded, TaskStatusFailed:
		return true
	default:
		return false
	}
}

// String возвращает строковое представление TaskStatus.
func (s TaskStatus) String() string {
	return string(s)
}

// ParseTaskStatus парсит строку в TaskStatus.
// Пустая строка и неизвестные значения невалидны.
func ParseTaskStatus(s string) (TaskStatus, bool) {
	switch TaskStatus(s) {
	case TaskStatusPending, TaskStatusInProgress, TaskStatusRetrying,
		TaskStatusSucceeded, TaskStatusFailed:
		return TaskStatus(s), true
	default:
		return "", false
	}
}
