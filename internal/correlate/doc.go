// Package correlate — сопоставление асинхронных callbacks с ожидающими
// экземплярами процессов.
//
// Приём и корреляция разделены на два шага: Receive делает запись durable
// и отвечает внешней системе, Process сопоставляет её с ожиданием
// и шлёт сигнал возобновления. Дубликаты при at-least-once доставке
// гасятся CAS-захватом signal_sent и сравнением (key, payload_hash).
// Reconciliation sweep периодически повторяет Process для записей,
// оставшихся без сигнала — ранние callbacks и упавшие отправки.
package correlate
