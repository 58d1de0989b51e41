package postgres_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/voxgate/voxgate/internal/store"
	"github.com/voxgate/voxgate/internal/store/postgres"
)

// testDSN returns the test database DSN from the environment, or skips the
// test if VOXGATE_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("VOXGATE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("VOXGATE_TEST_POSTGRES_DSN not set — skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore creates a fresh *postgres.Store with a clean schema.
func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	cleanPool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	t.Cleanup(cleanPool.Close)
	for _, stmt := range []string{
		"DROP TABLE IF EXISTS messages CASCADE",
		"DROP TABLE IF EXISTS sessions CASCADE",
		"DROP TABLE IF EXISTS agents CASCADE",
	} {
		if _, err := cleanPool.Exec(ctx, stmt); err != nil {
			t.Fatalf("dropSchema %q: %v", stmt, err)
		}
	}

	s, err := postgres.New(ctx, dsn, time.Minute)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func seedAgent(t *testing.T, pool *pgxpool.Pool, ctx context.Context, id string) {
	t.Helper()
	_, err := pool.Exec(ctx, `
		INSERT INTO agents (id, name, llm_model_id) VALUES ($1, $2, 'gpt-test')`,
		id, "agent-"+id)
	if err != nil {
		t.Fatalf("seed agent: %v", err)
	}
}

func TestGetOrCreateSessionIsAtomicAcrossCallers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, testDSN(t))
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	defer pool.Close()
	seedAgent(t, pool, ctx, "agent-1")

	const n = 8
	results := make(chan store.Session, n)
	for i := 0; i < n; i++ {
		go func() {
			sess, err := s.GetOrCreateSession(ctx, "user-1", "agent-1", store.IngressChat)
			if err != nil {
				t.Errorf("GetOrCreateSession: %v", err)
				return
			}
			results <- sess
		}()
	}

	var ids = map[string]struct{}{}
	for i := 0; i < n; i++ {
		sess := <-results
		ids[sess.ID] = struct{}{}
	}
	if len(ids) != 1 {
		t.Fatalf("expected one session across %d concurrent callers, got %d", n, len(ids))
	}
}

func TestAppendMessageAndGetContextRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, testDSN(t))
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	defer pool.Close()
	seedAgent(t, pool, ctx, "agent-1")

	sess, err := s.GetOrCreateSession(ctx, "user-1", "agent-1", store.IngressChat)
	if err != nil {
		t.Fatalf("GetOrCreateSession: %v", err)
	}

	if _, err := s.AppendMessage(ctx, sess.ID, store.RoleUser, "hello", false, nil); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if _, err := s.AppendMessage(ctx, sess.ID, store.RoleAssistant, "hi there", true, &store.Latencies{
		LLMLatency: 200 * time.Millisecond,
	}); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	msgs, err := s.GetContext(ctx, sess.ID, 10)
	if err != nil {
		t.Fatalf("GetContext: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("len(msgs) = %d, want 2", len(msgs))
	}
	if msgs[0].Text != "hello" || msgs[1].Text != "hi there" {
		t.Fatalf("unexpected order: %#v", msgs)
	}
	if !msgs[1].Incomplete {
		t.Fatal("expected second message marked Incomplete")
	}
	if msgs[1].Latencies == nil || msgs[1].Latencies.LLMLatency != 200*time.Millisecond {
		t.Fatalf("latencies not round-tripped: %#v", msgs[1].Latencies)
	}
}

func TestGetAgentConfigFollowsSessionToAgent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, testDSN(t))
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	defer pool.Close()
	seedAgent(t, pool, ctx, "agent-1")

	sess, err := s.GetOrCreateSession(ctx, "user-1", "agent-1", store.IngressChat)
	if err != nil {
		t.Fatalf("GetOrCreateSession: %v", err)
	}

	agent, err := s.GetAgentConfig(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GetAgentConfig: %v", err)
	}
	if agent.ID != "agent-1" || agent.LLMModelID != "gpt-test" {
		t.Fatalf("unexpected agent: %#v", agent)
	}
}

func TestEndSessionAllowsNewSessionForSameTriple(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, testDSN(t))
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	defer pool.Close()
	seedAgent(t, pool, ctx, "agent-1")

	first, err := s.GetOrCreateSession(ctx, "user-1", "agent-1", store.IngressChat)
	if err != nil {
		t.Fatalf("GetOrCreateSession: %v", err)
	}
	if err := s.EndSession(ctx, first.ID); err != nil {
		t.Fatalf("EndSession: %v", err)
	}

	second, err := s.GetOrCreateSession(ctx, "user-1", "agent-1", store.IngressChat)
	if err != nil {
		t.Fatalf("GetOrCreateSession: %v", err)
	}
	if second.ID == first.ID {
		t.Fatal("expected a fresh session after the first ended")
	}
}
