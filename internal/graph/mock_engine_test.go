package graph

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// discardLogger silences log output in tests.
func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// executedQuery records one statement sent to the mock engine.
type executedQuery struct {
	statement string
	params    map[string]any
	write     bool
}

// queryStub scripts the mock's response for statements containing match.
type queryStub struct {
	match  string
	result *Result
	err    error
}

// mockEngine implements Engine with scripted responses and call recording.
type mockEngine struct {
	mu       sync.Mutex
	calls    []executedQuery
	stubs    []queryStub
	writeErr error
	pingErr  error
	closed   bool
}

func (m *mockEngine) stub(match string, result *Result, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stubs = append(m.stubs, queryStub{match: match, result: result, err: err})
}

func (m *mockEngine) record(q GraphQuery, write bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, executedQuery{statement: q.Statement, params: q.Params, write: write})
}

func (m *mockEngine) respond(q GraphQuery) (*Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.stubs {
		if strings.Contains(q.Statement, s.match) {
			return s.result, s.err
		}
	}
	return &Result{}, nil
}

func (m *mockEngine) ExecuteRead(_ context.Context, q GraphQuery) (*Result, error) {
	m.record(q, false)
	return m.respond(q)
}

func (m *mockEngine) ExecuteWrite(_ context.Context, q GraphQuery) (*Result, error) {
	m.record(q, true)
	if m.writeErr != nil {
		return nil, m.writeErr
	}
	return m.respond(q)
}

func (m *mockEngine) ExecuteTransaction(_ context.Context, qs []GraphQuery) error {
	for _, q := range qs {
		m.record(q, true)
	}
	return m.writeErr
}

func (m *mockEngine) Ping(_ context.Context) error {
	return m.pingErr
}

func (m *mockEngine) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockEngine) callCount(match string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, c := range m.calls {
		if strings.Contains(c.statement, match) {
			count++
		}
	}
	return count
}

// newTestStore wires a store over a mock engine with fast retries and no
// background sweep.
func newTestStore(engine *mockEngine) *Store {
	logger := discardLogger()
	executor := NewBatchExecutor(ExecutorConfig{
		MaxRetries: 2,
		RetryDelay: time.Millisecond,
	}, logger)
	executor.sleep = func(context.Context, time.Duration) error { return nil }
	cache := NewCache(CacheConfig{DefaultTTL: time.Minute}, logger)
	return NewStore(engine, NewCatalog(), executor, cache,
		NewPerformanceTracker(), NewCoordinator(100, logger),
		SpaceConfig{Name: "testspace", PartitionNum: 1, ReplicaFactor: 1}, logger)
}
