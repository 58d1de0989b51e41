// Package store defines the conversation persistence contract (spec §3,
// §4.7, §6.6): Agent configuration, Session lifecycle, and the append-only
// Message log, plus the context cache that sits in front of Message reads.
//
// The interfaces here are public so alternative backends (Postgres, an
// in-memory fake for tests) can be swapped without any caller depending on
// a concrete implementation. See internal/store/postgres for the durable
// implementation.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a lookup finds no matching row.
var ErrNotFound = errors.New("store: not found")

// IngressKind identifies which ingress adapter a Session is attached to.
type IngressKind string

const (
	IngressChat    IngressKind = "chat"
	IngressBrowser IngressKind = "browser"
)

// TTSErrorPolicy mirrors pipeline.ErrorPolicy without importing internal/pipeline,
// keeping the store package free of a dependency on the response pipeline.
type TTSErrorPolicy string

const (
	// TTSErrorPolicyUnset means "use the global error_strategy default."
	TTSErrorPolicyUnset TTSErrorPolicy = ""
	TTSErrorPolicySkip  TTSErrorPolicy = "skip"
	TTSErrorPolicyRetry TTSErrorPolicy = "retry"
)

// Agent is one assistant persona's configuration (spec §3).
type Agent struct {
	ID   string
	Name string

	SystemPrompt  string
	LLMVariant    string // "hosted" | "local" | "webhook"
	LLMModelID    string // required unless LLMVariant == "webhook"
	Temperature   float64
	TTSVoiceID    string
	TTSIntensity  float64 // 0.25-2.0
	TTSPaceWeight float64 // 0.0-1.0
	TTSTemp       float64 // 0.05-5.0
	Language      string

	// TTSErrorPolicy overrides the global error_strategy for this agent's
	// response pipeline when set (decided Open Question, §9).
	TTSErrorPolicy TTSErrorPolicy

	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Session is one live conversation attached to one user on one ingress.
type Session struct {
	ID      string
	UserID  string
	AgentID string
	Ingress IngressKind

	StartedAt time.Time
	EndedAt   time.Time
	Active    bool
	Metadata  map[string]string
}

// Role identifies who authored a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Latencies carries optional per-turn timing measurements attached to a
// Message at append time.
type Latencies struct {
	UserAudioDuration     time.Duration
	AssistantTTSDuration  time.Duration
	LLMLatency            time.Duration
	TotalTurnLatency      time.Duration
}

// Message is one logical message in a session. Message ids increase
// strictly by insertion order within a session.
type Message struct {
	ID        int64
	SessionID string
	Role      Role
	Text      string
	Timestamp time.Time

	// Incomplete is set when the response pipeline's error policy omitted
	// at least one synthesis unit while producing this message (decided
	// Open Question, §9). Always false for non-assistant messages.
	Incomplete bool

	Latencies *Latencies
}

// AgentSeeder is implemented by every Store backend to load the
// configuration file's agent list into the store at startup. It is
// deliberately separate from the Store interface: only process wiring needs
// it, never session-handling code.
type AgentSeeder interface {
	UpsertAgent(ctx context.Context, a Agent) error
}

// Store is the full conversation persistence contract.
type Store interface {
	// GetOrCreateSession returns the active Session for (userID, ingress),
	// creating one bound to agentID if none is active; agentID does not take
	// part in the lookup. Concurrent calls for the same (userID, ingress)
	// pair return the same Session (spec §4.7 atomicity invariant).
	GetOrCreateSession(ctx context.Context, userID, agentID string, ingress IngressKind) (Session, error)

	// GetContext returns the most recent messages for sessionID, reading
	// through a TTL cache in front of the durable Message log.
	GetContext(ctx context.Context, sessionID string, limit int) ([]Message, error)

	// AppendMessage durably appends a message and invalidates the
	// session's cached context. Returns only after durable acknowledgment.
	AppendMessage(ctx context.Context, sessionID string, role Role, text string, incomplete bool, lat *Latencies) (Message, error)

	// GetAgentConfig returns the Agent configuring sessionID's assistant persona.
	GetAgentConfig(ctx context.Context, sessionID string) (Agent, error)

	// EndSession marks a session inactive and flushes any pending writes.
	EndSession(ctx context.Context, sessionID string) error
}
