package database

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/travigo/livetrains/pkg/config"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const RealtimeTrainsCollection = "realtime_trains"

type MongoInstance struct {
	Client   *mongo.Client
	Database *mongo.Database
}

func Connect(cfg config.MongoDBConfig) (*MongoInstance, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.Connection))
	if err != nil {
		return nil, err
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, err
	}

	instance := &MongoInstance{
		Client:   client,
		Database: client.Database(cfg.Database),
	}

	instance.createIndexes()

	log.Info().Str("database", cfg.Database).Msg("MongoDB client setup")

	return instance, nil
}

func (m *MongoInstance) GetCollection(collectionName string) *mongo.Collection {
	return m.Database.Collection(collectionName)
}

func (m *MongoInstance) Disconnect(ctx context.Context) error {
	return m.Client.Disconnect(ctx)
}

func (m *MongoInstance) createIndexes() {
	realtimeTrainsCollection := m.GetCollection(RealtimeTrainsCollection)
	realtimeTrainsIndex := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "number", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "location.coordinates", Value: "2d"}},
		},
		{
			Keys:    bson.D{{Key: "lastupdated", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(3600),
		},
	}

	opts := options.CreateIndexes()
	_, err := realtimeTrainsCollection.Indexes().CreateMany(context.Background(), realtimeTrainsIndex, opts)
	if err != nil {
		log.Error().Err(err).Msg("Creating Index")
	}
}
