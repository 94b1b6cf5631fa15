package services

import (
	"context"
	"sync"
)

// MockRenderer is a test double for the external rendering tool. It
// records every invocation and can be configured to fail, block until
// released, or fabricate artifacts on disk.
type MockRenderer struct {
	mu sync.Mutex

	// Err is returned from Render when set.
	Err error
	// Stderr is returned as captured error output.
	Stderr string
	// OnRender, when set, runs inside Render before returning; tests use
	// it to fabricate artifacts or to block mid-run.
	OnRender func(dir string, clear bool)

	calls []MockRenderCall
}

// MockRenderCall captures the arguments of one Render invocation.
type MockRenderCall struct {
	Dir   string
	Clear bool
}

// NewMockRenderer creates an empty mock renderer.
func NewMockRenderer() *MockRenderer {
	return &MockRenderer{}
}

// Render records the call and returns the configured result.
func (m *MockRenderer) Render(_ context.Context, dir string, clear bool) (string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, MockRenderCall{Dir: dir, Clear: clear})
	onRender := m.OnRender
	stderr, err := m.Stderr, m.Err
	m.mu.Unlock()

	if onRender != nil {
		onRender(dir, clear)
	}
	return stderr, err
}

// Calls returns a copy of all recorded invocations.
func (m *MockRenderer) Calls() []MockRenderCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockRenderCall(nil), m.calls...)
}

// CallCount returns the number of recorded invocations.
func (m *MockRenderer) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}
