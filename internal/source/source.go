// Package source reads aggregated documents from the document store.
package source

import (
	"context"
	"fmt"

	"github.com/dwsmith1983/lakeloader/pkg/types"
	"go.mongodb.org/mongo-driver/bson"
)

// Record is one normalized document: JSON-like values only, with the
// identifier always rendered as a string.
type Record map[string]interface{}

// ID returns the record identifier, or "" when absent.
func (r Record) ID() string {
	id, _ := r[types.IdentifierField].(string)
	return id
}

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Cursor is a lazy sequence of records produced by an aggregation.
type Cursor interface {
	Next(ctx context.Context) bool
	Record() (Record, error)
	Err() error
	Close(ctx context.Context) error
}

// Source executes aggregations against named collections.
type Source interface {
	Aggregate(ctx context.Context, collection string, pipeline []bson.D) (Cursor, error)
	Close(ctx context.Context) error
}

// ParsePipeline decodes a canonical Extended JSON aggregation into stages.
func ParsePipeline(q types.AggregationQuery) ([]bson.D, error) {
	if q == "" {
		return nil, fmt.Errorf("aggregation query is empty")
	}
	var wrapper struct {
		Pipeline []bson.D `bson:"pipeline"`
	}
	doc := `{"pipeline": ` + string(q) + `}`
	if err := bson.UnmarshalExtJSON([]byte(doc), false, &wrapper); err != nil {
		return nil, fmt.Errorf("parsing aggregation query: %w", err)
	}
	return wrapper.Pipeline, nil
}
