// Package repo — слой доступа к Postgres через pgx.
//
// Репозитории:
//   - TaskRepo — tasks с CAS-переходами статусов и арендой IN_PROGRESS
//   - CallbackRepo — записи webhook-уведомлений с CAS-захватом отправки сигнала
//   - CorrelationRepo — эфемерные ожидания корреляций
//
// Ожидаемая схема:
//
//	CREATE TABLE tasks (
//	    id               UUID PRIMARY KEY,
//	    topic            TEXT NOT NULL,
//	    status           TEXT NOT NULL,
//	    attempt          INT  NOT NULL DEFAULT 0,
//	    payload          JSONB,
//	    result           JSONB,
//	    error_code       TEXT,
//	    error            TEXT,
//	    lease_expires_at TIMESTAMPTZ,
//	    next_attempt_at  TIMESTAMPTZ,
//	    created_at       TIMESTAMPTZ NOT NULL,
//	    updated_at       TIMESTAMPTZ NOT NULL
//	);
//	CREATE INDEX idx_tasks_status ON tasks (status, next_attempt_at);
//	CREATE INDEX idx_tasks_lease  ON tasks (lease_expires_at) WHERE status = 'IN_PROGRESS';
//
//	CREATE TABLE callbacks (
//	    id              UUID PRIMARY KEY,
//	    correlation_key TEXT NOT NULL,
//	    payload_hash    TEXT NOT NULL,
//	    payload         JSONB,
//	    processed       BOOLEAN NOT NULL DEFAULT FALSE,
//	    signal_sent     BOOLEAN NOT NULL DEFAULT FALSE,
//	    received_at     TIMESTAMPTZ NOT NULL,
//	    processed_at    TIMESTAMPTZ
//	);
//	CREATE INDEX idx_callbacks_key     ON callbacks (correlation_key);
//	CREATE INDEX idx_callbacks_pending ON callbacks (received_at) WHERE processed AND NOT signal_sent;
//
//	CREATE TABLE pending_correlations (
//	    correlation_key TEXT PRIMARY KEY,
//	    instance_id     TEXT NOT NULL,
//	    signal_name     TEXT NOT NULL,
//	    created_at      TIMESTAMPTZ NOT NULL
//	);
//
// Инварианты обеспечиваются условными UPDATE'ами (compare-and-swap):
// захват task единственным диспетчером, неизменяемость терминальных
// статусов, единственность отправки сигнала по callback.
package repo
