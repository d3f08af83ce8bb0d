package core

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type startCall struct {
	name string
	mode Mode
}

// fakeBackend blocks every StartProbe until the test settles it.
type fakeBackend struct {
	mu     sync.Mutex
	starts []startCall
	runIDs []string
	stops  int
	result chan error
	panic  bool
	// beforeReturn runs after the result is received and before StartProbe returns.
	beforeReturn func(ctx context.Context)
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{result: make(chan error, 1)}
}

func (f *fakeBackend) StartProbe(ctx context.Context, name string, mode Mode) error {
	f.mu.Lock()
	f.starts = append(f.starts, startCall{name: name, mode: mode})
	if id, ok := RunIDFrom(ctx); ok {
		f.runIDs = append(f.runIDs, id)
	}
	shouldPanic := f.panic
	f.mu.Unlock()
	if shouldPanic {
		panic("engine exploded")
	}
	select {
	case err := <-f.result:
		if f.beforeReturn != nil {
			f.beforeReturn(ctx)
		}
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeBackend) StopProbe(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return nil
}

func (f *fakeBackend) settle(err error) { f.result <- err }

func (f *fakeBackend) startCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.starts)
}

func (f *fakeBackend) stopCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stops
}

// memoryRepo is an in-memory ConfigRepository keeping insertion order.
type memoryRepo struct {
	mu      sync.Mutex
	order   []string
	records map[string]Record
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{records: make(map[string]Record)}
}

func (m *memoryRepo) ListConfigs(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.order...), nil
}

func (m *memoryRepo) LoadConfig(ctx context.Context, name string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[name]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec.Clone(), nil
}

func (m *memoryRepo) SaveConfig(ctx context.Context, name string, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[name]; !ok {
		m.order = append(m.order, name)
	}
	m.records[name] = rec.Clone()
	return nil
}

func (m *memoryRepo) CreateConfig(ctx context.Context, name string, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[name]; ok {
		return ErrNameConflict
	}
	m.order = append(m.order, name)
	m.records[name] = rec.Clone()
	return nil
}

func (m *memoryRepo) DeleteConfig(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[name]; !ok {
		return ErrNotFound
	}
	delete(m.records, name)
	for i, n := range m.order {
		if n == name {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}
