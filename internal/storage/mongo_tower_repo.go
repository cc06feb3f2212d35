package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/annel0/voxel-tower/internal/tower"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoConfig contains connection settings for the MongoDB tower repository.
type MongoConfig struct {
	URI        string `yaml:"uri"`        // e.g. mongodb://localhost:27017
	Database   string `yaml:"database"`   // e.g. voxeltower
	Collection string `yaml:"collection"` // e.g. tower
}

const mongoTowerID = "tower"

// MongoTowerRepo keeps the tower as a single upserted document.
type MongoTowerRepo struct {
	client     *mongo.Client
	collection *mongo.Collection
	ctxTimeout time.Duration
}

type mongoTowerDoc struct {
	ID     string `bson:"_id"`
	Record `bson:",inline"`
}

// NewMongoTowerRepo establishes connection and returns repository.
func NewMongoTowerRepo(ctx context.Context, cfg MongoConfig) (*MongoTowerRepo, error) {
	if cfg.URI == "" {
		cfg.URI = "mongodb://localhost:27017"
	}
	if cfg.Database == "" {
		cfg.Database = "voxeltower"
	}
	if cfg.Collection == "" {
		cfg.Collection = "tower"
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	// ping
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	return &MongoTowerRepo{
		client:     client,
		collection: client.Database(cfg.Database).Collection(cfg.Collection),
		ctxTimeout: 5 * time.Second,
	}, nil
}

// Load implements TowerRepo.
func (m *MongoTowerRepo) Load(ctx context.Context) (*tower.Snapshot, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, m.ctxTimeout)
	defer cancel()

	var doc mongoTowerDoc
	err := m.collection.FindOne(ctx, bson.M{"_id": mongoTowerID}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("mongo find tower: %w", err)
	}
	snap := doc.Snapshot
	return &snap, true, nil
}

// Save implements TowerRepo.
func (m *MongoTowerRepo) Save(ctx context.Context, snap *tower.Snapshot, timestamp time.Time) error {
	if snap == nil {
		return fmt.Errorf("nil snapshot")
	}
	ctx, cancel := context.WithTimeout(ctx, m.ctxTimeout)
	defer cancel()

	doc := mongoTowerDoc{
		ID:     mongoTowerID,
		Record: Record{Timestamp: timestamp.UTC(), Snapshot: *snap},
	}
	_, err := m.collection.ReplaceOne(ctx, bson.M{"_id": mongoTowerID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("mongo save tower: %w", err)
	}
	return nil
}

// Close implements TowerRepo.
func (m *MongoTowerRepo) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), m.ctxTimeout)
	defer cancel()
	return m.client.Disconnect(ctx)
}
