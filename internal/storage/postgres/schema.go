package postgres

// Schema contains the SQL statements to create the database schema.
// All statements are idempotent so the schema can be re-applied on open.
//
// The partial unique index on versioned_records enforces the core invariant
// at the storage layer: at most one current row per logical id.
const Schema = `
-- Versioned records: bi-temporal rows for entities, relationships, patterns
CREATE TABLE IF NOT EXISTS versioned_records (
    version_id TEXT PRIMARY KEY,
    logical_id TEXT NOT NULL,
    record_kind TEXT NOT NULL,
    user_id TEXT NOT NULL DEFAULT '',

    -- When the fact was true in reality, half-open [from, to)
    valid_from TIMESTAMPTZ NOT NULL,
    valid_to TIMESTAMPTZ NOT NULL,

    -- When the system believed the fact, half-open [from, to)
    stored_from TIMESTAMPTZ NOT NULL,
    stored_to TIMESTAMPTZ NOT NULL,

    -- Denormalisation of stored_to == infinity
    is_current BOOLEAN NOT NULL DEFAULT TRUE,

    -- Forward-only supersession chain, never a cycle
    superseded_by TEXT,

    -- Kind-specific payload
    fields JSONB
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_records_one_current
    ON versioned_records(logical_id) WHERE is_current;
CREATE INDEX IF NOT EXISTS idx_records_history
    ON versioned_records(logical_id, stored_from);
CREATE INDEX IF NOT EXISTS idx_records_kind
    ON versioned_records(user_id, record_kind, is_current);

-- Preferences: single-temporal key/value facts per user
CREATE TABLE IF NOT EXISTS preferences (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    key TEXT NOT NULL,
    value TEXT NOT NULL,
    valid_from TIMESTAMPTZ NOT NULL,
    valid_to TIMESTAMPTZ NOT NULL,
    is_current BOOLEAN NOT NULL DEFAULT TRUE,
    confidence DOUBLE PRECISION NOT NULL DEFAULT 0.5,
    observation_count INTEGER NOT NULL DEFAULT 1
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_prefs_one_current
    ON preferences(user_id, key) WHERE is_current;
CREATE INDEX IF NOT EXISTS idx_prefs_asof
    ON preferences(user_id, key, valid_from);

-- Temporal items: ephemeral, recurring entries with duplicate suppression
CREATE TABLE IF NOT EXISTS temporal_items (
    item_id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    name TEXT NOT NULL,
    normalized_name TEXT NOT NULL,
    category TEXT,
    urgency TEXT NOT NULL DEFAULT 'normal',
    added_at TIMESTAMPTZ NOT NULL,
    completed_at TIMESTAMPTZ,
    expired_at TIMESTAMPTZ,
    status TEXT NOT NULL DEFAULT 'active',
    is_recurring BOOLEAN NOT NULL DEFAULT FALSE,
    recurrence_pattern TEXT,
    last_occurrence_at TIMESTAMPTZ,
    occurrence_count INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_items_dup_check
    ON temporal_items(user_id, status, normalized_name, added_at);
CREATE INDEX IF NOT EXISTS idx_items_active
    ON temporal_items(user_id, status, added_at);

-- Events: append-only stream, mined by the pattern detector
CREATE TABLE IF NOT EXISTS events (
    event_id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    event_type TEXT NOT NULL,
    subject_id TEXT,
    event_time TIMESTAMPTZ NOT NULL,
    day_of_week INTEGER NOT NULL,
    hour_of_day INTEGER NOT NULL,
    context JSONB,
    derived_pattern_id TEXT
);

CREATE INDEX IF NOT EXISTS idx_events_user_time
    ON events(user_id, event_time);
CREATE INDEX IF NOT EXISTS idx_events_type
    ON events(user_id, event_type, event_time);
`
