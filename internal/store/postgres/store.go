package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/voxgate/voxgate/internal/store"
)

var _ store.Store = (*Store)(nil)

// Store is the PostgreSQL-backed conversation store: Agent config, Session
// lifecycle, and the append-only Message log, fronted by an in-process
// context cache.
//
// Safe for concurrent use.
type Store struct {
	pool  *pgxpool.Pool
	cache *store.Cache
}

// New establishes a connection pool to dsn, runs Migrate, and returns a
// ready Store. cacheTTL of 0 uses the spec default of 15 minutes.
func New(ctx context.Context, dsn string, cacheTTL time.Duration) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("store/postgres: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("store/postgres: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store/postgres: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store/postgres: migrate: %w", err)
	}

	return &Store{pool: pool, cache: store.NewCache(cacheTTL)}, nil
}

// Close releases all pooled connections.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping verifies connectivity to the database, for use by HTTP readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// GetOrCreateSession implements store.Store. The active-session invariant
// (spec §3: "at most one session per (user_id, ingress) is active at a
// time") is enforced by the database itself via the partial unique index
// idx_sessions_active_user_ingress: concurrent INSERTs for the same pair
// race on that constraint, and the loser falls back to re-reading the
// winner's row, making the whole operation atomic without an explicit lock.
func (s *Store) GetOrCreateSession(ctx context.Context, userID, agentID string, ingress store.IngressKind) (store.Session, error) {
	const selectQ = `
		SELECT id, user_id, agent_id, ingress, started_at, ended_at, active, metadata
		FROM   sessions
		WHERE  user_id = $1 AND ingress = $2 AND active`

	if sess, err := s.scanOneSession(ctx, selectQ, userID, ingress); err == nil {
		return sess, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return store.Session{}, err
	}

	const insertQ = `
		INSERT INTO sessions (id, user_id, agent_id, ingress, started_at, active, metadata)
		VALUES ($1, $2, $3, $4, now(), true, '{}')
		ON CONFLICT (user_id, ingress) WHERE active DO NOTHING
		RETURNING id, user_id, agent_id, ingress, started_at, ended_at, active, metadata`

	sess, err := s.scanOneSession(ctx, insertQ, uuid.NewString(), userID, agentID, ingress)
	if err == nil {
		return sess, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return store.Session{}, err
	}

	// Lost the race to a concurrent insert: the winner's row now exists.
	return s.scanOneSession(ctx, selectQ, userID, ingress)
}

func (s *Store) scanOneSession(ctx context.Context, q string, args ...any) (store.Session, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return store.Session{}, fmt.Errorf("store/postgres: query session: %w", err)
	}
	sess, err := pgx.CollectOneRow(rows, scanSession)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Session{}, store.ErrNotFound
		}
		return store.Session{}, fmt.Errorf("store/postgres: scan session: %w", err)
	}
	return sess, nil
}

func scanSession(row pgx.CollectableRow) (store.Session, error) {
	var (
		sess     store.Session
		endedAt  *time.Time
		metadata []byte
	)
	if err := row.Scan(&sess.ID, &sess.UserID, &sess.AgentID, &sess.Ingress, &sess.StartedAt, &endedAt, &sess.Active, &metadata); err != nil {
		return store.Session{}, err
	}
	if endedAt != nil {
		sess.EndedAt = *endedAt
	}
	sess.Metadata = map[string]string{}
	if len(metadata) > 0 {
		_ = json.Unmarshal(metadata, &sess.Metadata)
	}
	return sess, nil
}

// GetContext implements store.Store, reading through the TTL cache.
func (s *Store) GetContext(ctx context.Context, sessionID string, limit int) ([]store.Message, error) {
	return s.cache.GetOrFill(sessionID, func() ([]store.Message, error) {
		return s.fetchRecentMessages(ctx, sessionID, limit)
	})
}

func (s *Store) fetchRecentMessages(ctx context.Context, sessionID string, limit int) ([]store.Message, error) {
	q := `
		SELECT id, session_id, role, text, "timestamp", incomplete,
		       user_audio_ms, tts_duration_ms, llm_latency_ms, turn_latency_ms
		FROM   messages
		WHERE  session_id = $1
		ORDER  BY id DESC`
	args := []any{sessionID}
	if limit > 0 {
		q += fmt.Sprintf("\nLIMIT $%d", len(args)+1)
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store/postgres: query context: %w", err)
	}
	messages, err := pgx.CollectRows(rows, scanMessage)
	if err != nil {
		return nil, fmt.Errorf("store/postgres: scan context: %w", err)
	}
	// Query orders newest-first to apply LIMIT to the most recent N rows;
	// callers expect chronological order.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	if messages == nil {
		messages = []store.Message{}
	}
	return messages, nil
}

func scanMessage(row pgx.CollectableRow) (store.Message, error) {
	var (
		m                                  store.Message
		userAudioMs, ttsMs, llmMs, turnMs  *int64
	)
	if err := row.Scan(&m.ID, &m.SessionID, &m.Role, &m.Text, &m.Timestamp, &m.Incomplete,
		&userAudioMs, &ttsMs, &llmMs, &turnMs); err != nil {
		return store.Message{}, err
	}
	if userAudioMs != nil || ttsMs != nil || llmMs != nil || turnMs != nil {
		lat := &store.Latencies{}
		if userAudioMs != nil {
			lat.UserAudioDuration = time.Duration(*userAudioMs) * time.Millisecond
		}
		if ttsMs != nil {
			lat.AssistantTTSDuration = time.Duration(*ttsMs) * time.Millisecond
		}
		if llmMs != nil {
			lat.LLMLatency = time.Duration(*llmMs) * time.Millisecond
		}
		if turnMs != nil {
			lat.TotalTurnLatency = time.Duration(*turnMs) * time.Millisecond
		}
		m.Latencies = lat
	}
	return m, nil
}

// AppendMessage implements store.Store. It returns only after the insert is
// durably acknowledged by Postgres (at-least-once persistence, spec §4.7),
// then invalidates the session's cached context.
func (s *Store) AppendMessage(ctx context.Context, sessionID string, role store.Role, text string, incomplete bool, lat *store.Latencies) (store.Message, error) {
	const q = `
		INSERT INTO messages (session_id, role, text, "timestamp", incomplete,
		                       user_audio_ms, tts_duration_ms, llm_latency_ms, turn_latency_ms)
		VALUES ($1, $2, $3, now(), $4, $5, $6, $7, $8)
		RETURNING id, session_id, role, text, "timestamp", incomplete,
		          user_audio_ms, tts_duration_ms, llm_latency_ms, turn_latency_ms`

	var userAudioMs, ttsMs, llmMs, turnMs *int64
	if lat != nil {
		userAudioMs = durationPtrMs(lat.UserAudioDuration)
		ttsMs = durationPtrMs(lat.AssistantTTSDuration)
		llmMs = durationPtrMs(lat.LLMLatency)
		turnMs = durationPtrMs(lat.TotalTurnLatency)
	}

	rows, err := s.pool.Query(ctx, q, sessionID, role, text, incomplete, userAudioMs, ttsMs, llmMs, turnMs)
	if err != nil {
		return store.Message{}, fmt.Errorf("store/postgres: append message: %w", err)
	}
	msg, err := pgx.CollectOneRow(rows, scanMessage)
	if err != nil {
		return store.Message{}, fmt.Errorf("store/postgres: scan appended message: %w", err)
	}

	s.cache.Invalidate(sessionID)
	return msg, nil
}

func durationPtrMs(d time.Duration) *int64 {
	if d == 0 {
		return nil
	}
	ms := d.Milliseconds()
	return &ms
}

// GetAgentConfig implements store.Store.
func (s *Store) GetAgentConfig(ctx context.Context, sessionID string) (store.Agent, error) {
	const q = `
		SELECT a.id, a.name, a.system_prompt, a.llm_variant, a.llm_model_id,
		       a.temperature, a.tts_voice_id, a.tts_intensity, a.tts_pace_weight,
		       a.tts_temperature, a.language, a.tts_error_policy, a.active,
		       a.created_at, a.updated_at
		FROM   agents a
		JOIN   sessions s ON s.agent_id = a.id
		WHERE  s.id = $1`

	rows, err := s.pool.Query(ctx, q, sessionID)
	if err != nil {
		return store.Agent{}, fmt.Errorf("store/postgres: query agent config: %w", err)
	}
	agent, err := pgx.CollectOneRow(rows, scanAgent)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Agent{}, store.ErrNotFound
		}
		return store.Agent{}, fmt.Errorf("store/postgres: scan agent config: %w", err)
	}
	return agent, nil
}

func scanAgent(row pgx.CollectableRow) (store.Agent, error) {
	var a store.Agent
	err := row.Scan(&a.ID, &a.Name, &a.SystemPrompt, &a.LLMVariant, &a.LLMModelID,
		&a.Temperature, &a.TTSVoiceID, &a.TTSIntensity, &a.TTSPaceWeight,
		&a.TTSTemp, &a.Language, &a.TTSErrorPolicy, &a.Active,
		&a.CreatedAt, &a.UpdatedAt)
	return a, err
}

// UpsertAgent inserts or replaces an agent record, used at startup to seed
// the agents table from the static configuration file. Not part of the
// store.Store interface: only the process wiring the configured agent list
// needs it.
func (s *Store) UpsertAgent(ctx context.Context, a store.Agent) error {
	const q = `
		INSERT INTO agents (id, name, system_prompt, llm_variant, llm_model_id,
		                     temperature, tts_voice_id, tts_intensity, tts_pace_weight,
		                     tts_temperature, language, tts_error_policy, active, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, now())
		ON CONFLICT (id) DO UPDATE SET
			name             = EXCLUDED.name,
			system_prompt    = EXCLUDED.system_prompt,
			llm_variant      = EXCLUDED.llm_variant,
			llm_model_id     = EXCLUDED.llm_model_id,
			temperature      = EXCLUDED.temperature,
			tts_voice_id     = EXCLUDED.tts_voice_id,
			tts_intensity    = EXCLUDED.tts_intensity,
			tts_pace_weight  = EXCLUDED.tts_pace_weight,
			tts_temperature  = EXCLUDED.tts_temperature,
			language         = EXCLUDED.language,
			tts_error_policy = EXCLUDED.tts_error_policy,
			active           = EXCLUDED.active,
			updated_at       = now()`

	_, err := s.pool.Exec(ctx, q, a.ID, a.Name, a.SystemPrompt, a.LLMVariant, a.LLMModelID,
		a.Temperature, a.TTSVoiceID, a.TTSIntensity, a.TTSPaceWeight,
		a.TTSTemp, a.Language, a.TTSErrorPolicy, a.Active)
	if err != nil {
		return fmt.Errorf("store/postgres: upsert agent: %w", err)
	}
	return nil
}

// EndSession implements store.Store.
func (s *Store) EndSession(ctx context.Context, sessionID string) error {
	const q = `UPDATE sessions SET active = false, ended_at = now() WHERE id = $1`
	tag, err := s.pool.Exec(ctx, q, sessionID)
	if err != nil {
		return fmt.Errorf("store/postgres: end session: %w", err)
	}
	s.cache.Delete(sessionID)
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}
