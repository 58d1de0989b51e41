// Package postgres is the durable implementation of internal/store.Store,
// backed by a pgxpool.Pool against a plain relational schema: agents,
// sessions, messages. Grounded on pkg/memory/postgres/store.go's
// pool-setup/migrate pattern and pkg/memory/postgres/session_store.go's
// parameterized-query and pgx.CollectRows conventions, adapted from the
// teacher's NPC knowledge-graph schema to VoxGate's conversation schema.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlAgents = `
CREATE TABLE IF NOT EXISTS agents (
    id              TEXT         PRIMARY KEY,
    name            TEXT         NOT NULL UNIQUE,
    system_prompt   TEXT         NOT NULL DEFAULT '',
    llm_variant     TEXT         NOT NULL DEFAULT 'hosted',
    llm_model_id    TEXT         NOT NULL DEFAULT '',
    temperature     DOUBLE PRECISION NOT NULL DEFAULT 0.7,
    tts_voice_id    TEXT         NOT NULL DEFAULT '',
    tts_intensity   DOUBLE PRECISION NOT NULL DEFAULT 0.5,
    tts_pace_weight DOUBLE PRECISION NOT NULL DEFAULT 0.5,
    tts_temperature DOUBLE PRECISION NOT NULL DEFAULT 0.8,
    language        TEXT         NOT NULL DEFAULT 'en',
    tts_error_policy TEXT        NOT NULL DEFAULT '',
    active          BOOLEAN      NOT NULL DEFAULT true,
    created_at      TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at      TIMESTAMPTZ  NOT NULL DEFAULT now()
);
`

const ddlSessions = `
CREATE TABLE IF NOT EXISTS sessions (
    id          TEXT         PRIMARY KEY,
    user_id     TEXT         NOT NULL,
    agent_id    TEXT         NOT NULL REFERENCES agents (id),
    ingress     TEXT         NOT NULL,
    started_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    ended_at    TIMESTAMPTZ,
    active      BOOLEAN      NOT NULL DEFAULT true,
    metadata    JSONB         NOT NULL DEFAULT '{}'
);

-- Enforces spec §3's "at most one session per (user_id, ingress) is active
-- at a time" via a partial unique index over active rows only.
CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_active_user_ingress
    ON sessions (user_id, ingress)
    WHERE active;

CREATE INDEX IF NOT EXISTS idx_sessions_agent_id ON sessions (agent_id);
`

const ddlMessages = `
CREATE TABLE IF NOT EXISTS messages (
    id              BIGSERIAL    NOT NULL,
    session_id      TEXT         NOT NULL REFERENCES sessions (id),
    role            TEXT         NOT NULL,
    text            TEXT         NOT NULL,
    "timestamp"     TIMESTAMPTZ  NOT NULL DEFAULT now(),
    incomplete      BOOLEAN      NOT NULL DEFAULT false,
    user_audio_ms   BIGINT,
    tts_duration_ms BIGINT,
    llm_latency_ms  BIGINT,
    turn_latency_ms BIGINT,
    PRIMARY KEY (session_id, id)
);

CREATE INDEX IF NOT EXISTS idx_messages_session_timestamp
    ON messages (session_id, "timestamp");
`

// Migrate creates or ensures all required tables and indexes exist. It is
// idempotent and safe to call on every process start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range []string{ddlAgents, ddlSessions, ddlMessages} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("store/postgres: migrate: %w", err)
		}
	}
	return nil
}
