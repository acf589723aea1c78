package sinks

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/tarungka/lifelog/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoSink upserts every record by its ID
type MongoSink struct {
	name       string
	uri        string
	database   string
	collection string
	logger     zerolog.Logger

	client *mongo.Client
	coll   *mongo.Collection
}

// NewMongoSink reads the config keys mongodb_uri, database and collection,
// all required
func NewMongoSink(c SinkConfig, logger zerolog.Logger) (Sink, error) {
	m := &MongoSink{
		name:       c.Name,
		uri:        c.Config["mongodb_uri"],
		database:   c.Config["database"],
		collection: c.Config["collection"],
		logger:     logger,
	}
	if m.uri == "" || m.database == "" || m.collection == "" {
		return nil, fmt.Errorf("mongodb sink %s: mongodb_uri, database and collection are required", c.Name)
	}
	return m, nil
}

func (m *MongoSink) Name() string { return m.name }

func (m *MongoSink) Open(ctx context.Context) error {
	m.logger.Trace().Msg("Connecting to mongodb...")
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(m.uri))
	if err != nil {
		m.logger.Err(err).Msg("Error when connecting to mongodb database!")
		return err
	}
	m.client = client
	m.coll = client.Database(m.database).Collection(m.collection)
	return nil
}

func (m *MongoSink) Emit(ctx context.Context, r models.Record) error {
	if m.coll == nil {
		return fmt.Errorf("mongodb sink %s is not open", m.name)
	}
	doc := NewDocument(r)
	_, err := m.coll.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("upsert %s: %w", doc.ID, err)
	}
	return nil
}

// Flush is a no-op, every Emit is acknowledged by the server
func (m *MongoSink) Flush(ctx context.Context) error { return nil }

func (m *MongoSink) Close() error {
	if m.client == nil {
		return nil
	}
	m.logger.Info().Msg("Closing MongoDB connection")
	return m.client.Disconnect(context.Background())
}
