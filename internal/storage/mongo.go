package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/IshaanNene/AirQuality-CVL/internal/config"
	"github.com/IshaanNene/AirQuality-CVL/internal/types"
)

// MongoStorage writes records to a MongoDB collection.
type MongoStorage struct {
	client     *mongo.Client
	collection *mongo.Collection
	timeout    time.Duration
	mu         sync.Mutex
	count      int
	logger     *slog.Logger
}

// NewMongoStorage connects, pings and makes sure the query indexes exist.
func NewMongoStorage(ctx context.Context, cfg config.MongoConfig, logger *slog.Logger) (*MongoStorage, error) {
	cctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	client, err := mongo.Connect(cctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, &types.StorageError{Backend: "mongodb", Err: fmt.Errorf("connect: %w", err)}
	}

	if err := client.Ping(cctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, &types.StorageError{Backend: "mongodb", Err: fmt.Errorf("ping: %w", err)}
	}

	s := &MongoStorage{
		client:     client,
		collection: client.Database(cfg.Database).Collection(cfg.Collection),
		timeout:    cfg.Timeout,
		logger:     logger.With("component", "mongo_storage"),
	}

	if err := s.ensureIndexes(cctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	s.logger.Info("connected to mongodb", "database", cfg.Database, "collection", cfg.Collection)
	return s, nil
}

// recordIndexes cover the fields the statistics query groups and sorts on.
func recordIndexes() []mongo.IndexModel {
	return []mongo.IndexModel{
		{Keys: bson.D{{Key: "year", Value: 1}}},
		{Keys: bson.D{{Key: "data_type", Value: 1}}},
		{Keys: bson.D{{Key: "collected_at", Value: 1}}},
	}
}

func (s *MongoStorage) ensureIndexes(ctx context.Context) error {
	names, err := s.collection.Indexes().CreateMany(ctx, recordIndexes())
	if err != nil {
		return &types.StorageError{Backend: "mongodb", Err: fmt.Errorf("create indexes: %w", err)}
	}
	s.logger.Debug("indexes ready", "indexes", names)
	return nil
}

func (s *MongoStorage) Name() string { return "mongodb" }

func (s *MongoStorage) Store(records []*types.Record) error {
	if len(records) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	docs := make([]any, len(records))
	for i, rec := range records {
		docs[i] = rec.Document()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*s.timeout)
	defer cancel()

	if _, err := s.collection.InsertMany(ctx, docs); err != nil {
		return &types.StorageError{Backend: "mongodb", Err: fmt.Errorf("insert: %w", err)}
	}

	s.count += len(records)
	s.logger.Debug("records stored in mongodb", "count", len(records), "total", s.count)
	return nil
}

// layerStatsPipeline counts documents per (year, data_type), oldest year
// first.
func layerStatsPipeline() mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: bson.D{
				{Key: "year", Value: "$year"},
				{Key: "data_type", Value: "$data_type"},
			}},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
		{{Key: "$sort", Value: bson.D{
			{Key: "_id.year", Value: 1},
			{Key: "_id.data_type", Value: 1},
		}}},
	}
}

// CountByYearAndType aggregates the collection into per-year, per-dataset
// counts.
func (s *MongoStorage) CountByYearAndType(ctx context.Context) ([]types.LayerStat, error) {
	cur, err := s.collection.Aggregate(ctx, layerStatsPipeline())
	if err != nil {
		return nil, &types.StorageError{Backend: "mongodb", Err: fmt.Errorf("aggregate: %w", err)}
	}
	defer cur.Close(ctx)

	var rows []struct {
		ID struct {
			Year     int    `bson:"year"`
			DataType string `bson:"data_type"`
		} `bson:"_id"`
		Count int64 `bson:"count"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return nil, &types.StorageError{Backend: "mongodb", Err: fmt.Errorf("decode stats: %w", err)}
	}

	stats := make([]types.LayerStat, len(rows))
	for i, r := range rows {
		stats[i] = types.LayerStat{Year: r.ID.Year, DataType: r.ID.DataType, Count: r.Count}
	}
	return stats, nil
}

func (s *MongoStorage) Close() error {
	s.logger.Info("mongodb storage closing", "total_records", s.count)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
