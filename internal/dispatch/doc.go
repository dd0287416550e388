// Package dispatch — выполнение tasks и планирование повторных попыток.
//
// Диспетчер владеет state machine задачи:
//
//	PENDING ──claim──▶ IN_PROGRESS ──ok──▶ SUCCEEDED
//	   ▲                   │
//	   │ lease expired     ├─transient──▶ RETRYING ──next_attempt_at──▶ (claim)
//	   │ (reclaimer)       │
//	   └───────────────────┴─terminal───▶ FAILED
//
// Захват — условный UPDATE в Postgres: конкурентные инстансы диспетчера
// не могут выполнить один task дважды. Повторные попытки не держат
// горутин: RETRYING task лежит в базе до next_attempt_at и подхватывается
// polling'ом. Бюджет повторов двойной — по числу попыток и по общему
// времени с момента создания.
package dispatch
