package testutil

import (
	"context"
	"fmt"
	"sync"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/dwsmith1983/lakeloader/internal/source"
)

// MockSource serves fixed records per collection and remembers the pipelines
// it was asked to run.
type MockSource struct {
	mu          sync.Mutex
	collections map[string][]source.Record
	pipelines   map[string][][]bson.D

	// AggregateErr, when set, is returned by Aggregate.
	AggregateErr error
}

var _ source.Source = (*MockSource)(nil)

// NewMockSource creates an empty mock source.
func NewMockSource() *MockSource {
	return &MockSource{
		collections: make(map[string][]source.Record),
		pipelines:   make(map[string][][]bson.D),
	}
}

// SetCollection replaces the records served for a collection.
func (m *MockSource) SetCollection(name string, records ...source.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.collections[name] = records
}

// Pipelines returns every pipeline aggregated against a collection.
func (m *MockSource) Pipelines(collection string) [][]bson.D {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]bson.D(nil), m.pipelines[collection]...)
}

func (m *MockSource) Aggregate(_ context.Context, collection string, pipeline []bson.D) (source.Cursor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.AggregateErr != nil {
		return nil, m.AggregateErr
	}
	recs, ok := m.collections[collection]
	if !ok {
		return nil, fmt.Errorf("collection %q not found", collection)
	}
	m.pipelines[collection] = append(m.pipelines[collection], pipeline)
	out := make([]source.Record, len(recs))
	for i, r := range recs {
		out[i] = r.Clone()
	}
	return &sliceCursor{records: out, pos: -1}, nil
}

func (m *MockSource) Close(_ context.Context) error { return nil }

type sliceCursor struct {
	records []source.Record
	pos     int
}

func (c *sliceCursor) Next(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	c.pos++
	return c.pos < len(c.records)
}

func (c *sliceCursor) Record() (source.Record, error) { return c.records[c.pos], nil }

func (c *sliceCursor) Err() error { return nil }

func (c *sliceCursor) Close(_ context.Context) error { return nil }
