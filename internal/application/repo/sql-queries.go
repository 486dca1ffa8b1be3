package repo

const eventColumns = `id, correlation_id, tenant_id, event_type, payload, status, error_message,
	retry_count, max_retries, source, destination, idempotency_key, claimed_by,
	next_attempt_at, created_at, updated_at, processed_at, delivered_at`

const eventColumnsE = `e.id, e.correlation_id, e.tenant_id, e.event_type, e.payload, e.status, e.error_message,
	e.retry_count, e.max_retries, e.source, e.destination, e.idempotency_key, e.claimed_by,
	e.next_attempt_at, e.created_at, e.updated_at, e.processed_at, e.delivered_at`

// ON CONFLICT по частичному уникальному индексу (tenant_id, idempotency_key):
// при коллизии 0 строк, существующее событие читаем отдельным запросом
const insertEvent = `
INSERT INTO integration_events (
	id, correlation_id, tenant_id, event_type, payload, status, retry_count, max_retries,
	source, destination, idempotency_key, next_attempt_at, created_at, updated_at
) VALUES ($1, $2, $3, $4, ($5)::jsonb, $6, 0, $7, $8, $9, $10, $11, $11, $11)
ON CONFLICT (tenant_id, idempotency_key) WHERE idempotency_key IS NOT NULL DO NOTHING
RETURNING ` + eventColumns

const getByIdempotencyKey = `
SELECT ` + eventColumns + `
FROM integration_events
WHERE tenant_id = $1 AND idempotency_key = $2`

const getByCorrelationID = `
SELECT ` + eventColumns + `
FROM integration_events
WHERE tenant_id = $1 AND correlation_id = $2`

const listEvents = `
SELECT ` + eventColumns + `
FROM integration_events
WHERE tenant_id = $1
	AND ($2::text = '' OR event_type = $2)
	AND ($3::text = '' OR status = $3)
ORDER BY created_at DESC, id DESC
LIMIT $4 OFFSET $5`

const listLogs = `
SELECT l.id, l.event_id, l.level, l.message, l.metadata, l.logged_at
FROM integration_event_logs l
WHERE l.event_id = $1
ORDER BY l.logged_at, l.id`

const insertLog = `
INSERT INTO integration_event_logs (id, event_id, level, message, metadata, logged_at)
VALUES ($1, $2, $3, $4, ($5)::jsonb, $6)`

// RELAY

// claimBatch: queued, либо failed с оставшимися попытками и наступившим next_attempt_at.
// SKIP LOCKED - параллельные релеи не видят чужие строки и не ждут их.
const claimBatch = `
WITH picked AS (
	SELECT id
	FROM integration_events
	WHERE (status = 'queued' OR (status = 'failed' AND retry_count < max_retries))
		AND next_attempt_at <= $3
	ORDER BY created_at, id
	FOR UPDATE SKIP LOCKED
	LIMIT $2
)
UPDATE integration_events AS e
SET status = 'processing',
	claimed_by = $1,
	processed_at = COALESCE(e.processed_at, $3),
	updated_at = $3
FROM picked
WHERE e.id = picked.id
RETURNING ` + eventColumnsE

const touchClaim = `
UPDATE integration_events
SET updated_at = $3
WHERE id = $1 AND status = 'processing' AND claimed_by = $2
RETURNING ` + eventColumns

const markDelivered = `
UPDATE integration_events
SET status = 'delivered',
	delivered_at = $3,
	error_message = NULL,
	claimed_by = NULL,
	updated_at = $3
WHERE id = $1 AND status = 'processing' AND claimed_by = $2
RETURNING ` + eventColumns

const markFailed = `
UPDATE integration_events
SET status = 'failed',
	retry_count = LEAST(retry_count + 1, max_retries),
	error_message = $3,
	next_attempt_at = $4,
	claimed_by = NULL,
	updated_at = $5
WHERE id = $1 AND status = 'processing' AND claimed_by = $2
RETURNING ` + eventColumns

const reclaimStale = `
UPDATE integration_events
SET status = 'failed',
	retry_count = LEAST(retry_count + 1, max_retries),
	error_message = $3,
	next_attempt_at = $2,
	claimed_by = NULL,
	updated_at = $2
WHERE status = 'processing' AND updated_at < $1
RETURNING ` + eventColumns

const requeueEvent = `
UPDATE integration_events
SET status = 'queued',
	retry_count = 0,
	error_message = NULL,
	next_attempt_at = $3,
	updated_at = $3
WHERE tenant_id = $1 AND correlation_id = $2
	AND status = 'failed' AND retry_count >= max_retries
RETURNING ` + eventColumns

const countByStatus = `SELECT status, count(*) FROM integration_events GROUP BY status`
