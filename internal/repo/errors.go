package repo

import "errors"

// Общие ошибки репозиториев.
var (
	// ErrNotFound — запись не найдена в БД.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists — запись уже существует (конфликт уникальности).
	ErrAlreadyExists = errors.New("already exists")

	// ErrNotClaimable — task нельзя захватить: статус уже изменён
	// конкурентным диспетчером или next_attempt_at ещё не наступил.
	ErrNotClaimable = errors.New("task not claimable")

	// ErrTerminal — попытка перехода из терминального статуса.
	ErrTerminal = errors.New("task already in terminal status")

	// ErrAlreadySignalled — сигнал по callback уже отправлен.
	ErrAlreadySignalled = errors.New("callback already signalled")
)
