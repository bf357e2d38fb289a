package source

import (
	"context"
	"fmt"
	"log/slog"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Mongo runs aggregations against one database of a MongoDB deployment.
type Mongo struct {
	client    *mongo.Client
	db        *mongo.Database
	batchSize int32
	logger    *slog.Logger
}

// MongoOption configures a Mongo source.
type MongoOption func(*Mongo)

// WithBatchSize sets the cursor batch size. Zero keeps the server default.
func WithBatchSize(n int32) MongoOption {
	return func(m *Mongo) { m.batchSize = n }
}

// WithLogger sets the logger used by the source.
func WithLogger(l *slog.Logger) MongoOption {
	return func(m *Mongo) { m.logger = l }
}

// Connect dials the deployment with majority read concern and verifies it
// answers a ping.
func Connect(ctx context.Context, uri, database string, opts ...MongoOption) (*Mongo, error) {
	clientOpts := options.Client().ApplyURI(uri).SetReadConcern(readconcern.Majority())
	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("connecting to mongodb: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("pinging mongodb: %w", err)
	}

	m := &Mongo{client: client, db: client.Database(database), logger: slog.Default()}
	for _, o := range opts {
		o(m)
	}
	return m, nil
}

// Aggregate starts the pipeline on the collection and returns a lazy cursor.
func (m *Mongo) Aggregate(ctx context.Context, collection string, pipeline []bson.D) (Cursor, error) {
	aggOpts := options.Aggregate().SetAllowDiskUse(true)
	if m.batchSize > 0 {
		aggOpts.SetBatchSize(m.batchSize)
	}
	m.logger.Debug("starting aggregation", "database", m.db.Name(), "collection", collection, "stages", len(pipeline))

	cur, err := m.db.Collection(collection).Aggregate(ctx, pipeline, aggOpts)
	if err != nil {
		return nil, fmt.Errorf("aggregating %s.%s: %w", m.db.Name(), collection, err)
	}
	return &mongoCursor{cur: cur}, nil
}

// Close disconnects the client.
func (m *Mongo) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

type mongoCursor struct {
	cur *mongo.Cursor
}

func (c *mongoCursor) Next(ctx context.Context) bool { return c.cur.Next(ctx) }

func (c *mongoCursor) Record() (Record, error) {
	var doc bson.M
	if err := c.cur.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decoding document: %w", err)
	}
	return Normalize(doc)
}

func (c *mongoCursor) Err() error { return c.cur.Err() }

func (c *mongoCursor) Close(ctx context.Context) error { return c.cur.Close(ctx) }

var _ Source = (*Mongo)(nil)
