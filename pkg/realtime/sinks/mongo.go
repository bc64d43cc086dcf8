package sinks

import (
	"context"

	"github.com/travigo/livetrains/pkg/ctdf"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type BulkWriter interface {
	BulkWrite(ctx context.Context, models []mongo.WriteModel, opts ...*options.BulkWriteOptions) (*mongo.BulkWriteResult, error)
}

// MongoSink upserts the latest position of each train keyed on its number
type MongoSink struct {
	Collection BulkWriter
}

func (s *MongoSink) Name() string {
	return "mongodb"
}

func (s *MongoSink) Write(ctx context.Context, positions []*ctdf.TrainPosition) error {
	operations := make([]mongo.WriteModel, 0, len(positions))

	for _, position := range positions {
		updateModel, err := positionUpdateModel(position)
		if err != nil {
			return err
		}
		operations = append(operations, updateModel)
	}

	if len(operations) == 0 {
		return nil
	}

	_, err := s.Collection.BulkWrite(ctx, operations, options.BulkWrite().SetOrdered(false))
	return err
}

func (s *MongoSink) Close() error {
	return nil
}

func positionUpdateModel(position *ctdf.TrainPosition) (*mongo.UpdateOneModel, error) {
	searchQuery := bson.M{"number": position.Number}

	updateMap := bson.M{
		"number":        position.Number,
		"type":          position.Type,
		"carrier":       position.Carrier,
		"trainid":       position.TrainID,
		"location":      position.Location(),
		"hasgps":        position.HasGPS,
		"gpstimestamp":  position.GPSTimestamp,
		"averagespeed":  position.AverageSpeed,
		"speedcategory": position.SpeedCategory,
		"lastupdated":   position.LastUpdated,
	}

	bsonRep, err := bson.Marshal(bson.M{"$set": updateMap})
	if err != nil {
		return nil, err
	}

	updateModel := mongo.NewUpdateOneModel()
	updateModel.SetFilter(searchQuery)
	updateModel.SetUpdate(bsonRep)
	updateModel.SetUpsert(true)

	return updateModel, nil
}
