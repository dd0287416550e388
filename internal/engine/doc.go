// Package engine — интеграция с workflow-движком по external-task протоколу.
//
// Client говорит с REST API движка: fetchAndLock, complete, failure,
// bpmnError, extendLock и корреляция сообщений (сигнал возобновления).
// Worker держит цикл адаптера: захватывает задачи по топикам шлюза,
// валидирует вход, ставит задачи в шлюз и продлевает лок движка,
// пока шлюз крутит свои попытки. Движок видит одну долгую задачу;
// retry-машинерия шлюза для него невидима.
package engine
