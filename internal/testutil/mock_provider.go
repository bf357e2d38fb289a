// Package testutil provides shared test utilities for lakeloader.
package testutil

import (
	"context"
	"sync"

	"github.com/dwsmith1983/lakeloader/internal/provider"
	"github.com/dwsmith1983/lakeloader/pkg/types"
)

// MockProvider is an in-memory RunStore for tests.
type MockProvider struct {
	mu       sync.Mutex
	runs     map[string]types.RunRecord
	runIndex map[string][]string // workflow -> run ids, newest first
	steps    map[string][]types.StepRun

	// PutRunErr, when set, is returned by PutRun.
	PutRunErr error
}

var _ provider.RunStore = (*MockProvider)(nil)

// NewMockProvider creates a new in-memory mock provider.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		runs:     make(map[string]types.RunRecord),
		runIndex: make(map[string][]string),
		steps:    make(map[string][]types.StepRun),
	}
}

func (m *MockProvider) PutRun(_ context.Context, run types.RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PutRunErr != nil {
		return m.PutRunErr
	}
	if _, exists := m.runs[run.RunID]; !exists {
		m.runIndex[run.Workflow] = append([]string{run.RunID}, m.runIndex[run.Workflow]...)
	}
	m.runs[run.RunID] = run
	return nil
}

func (m *MockProvider) GetRun(_ context.Context, runID string) (*types.RunRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[runID]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (m *MockProvider) LatestRun(_ context.Context, workflow string) (*types.RunRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := m.runIndex[workflow]
	if len(ids) == 0 {
		return nil, nil
	}
	r := m.runs[ids[0]]
	return &r, nil
}

func (m *MockProvider) ListRuns(_ context.Context, workflow string, limit int) ([]types.RunRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := m.runIndex[workflow]
	if limit <= 0 || limit > len(ids) {
		limit = len(ids)
	}
	out := make([]types.RunRecord, 0, limit)
	for _, id := range ids[:limit] {
		out = append(out, m.runs[id])
	}
	return out, nil
}

func (m *MockProvider) PutStepRun(_ context.Context, step types.StepRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps[step.RunID] = append(m.steps[step.RunID], step)
	return nil
}

func (m *MockProvider) ListStepRuns(_ context.Context, runID string) ([]types.StepRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.StepRun, len(m.steps[runID]))
	copy(out, m.steps[runID])
	return out, nil
}

func (m *MockProvider) Ping(_ context.Context) error { return nil }

func (m *MockProvider) Close() {}
