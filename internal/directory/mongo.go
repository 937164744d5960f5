package directory

import (
	"context"
	"encoding/hex"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"campuschat/internal/model"
)

type (
	MongoDirectory struct {
		collection *mongo.Collection
	}
)

func NewMongoDirectory(db *mongo.Database) *MongoDirectory {
	return &MongoDirectory{
		collection: db.Collection("chat_keys"),
	}
}

func (d *MongoDirectory) Publish(ctx context.Context, userID string, publicKey [32]byte) error {
	filter := bson.M{
		"user_id": userID,
	}
	update := bson.M{
		"$set": bson.M{
			"user_id":    userID,
			"public_key": hex.EncodeToString(publicKey[:]),
		},
	}

	opts := options.Update().SetUpsert(true)
	if _, err := d.collection.UpdateOne(ctx, filter, update, opts); err != nil {
		return fmt.Errorf("publish public key: %w", err)
	}
	return nil
}

func (d *MongoDirectory) Fetch(ctx context.Context, userID string) ([32]byte, error) {
	var key [32]byte

	filter := bson.M{
		"user_id": userID,
	}

	var entry model.DirectoryEntry
	err := d.collection.FindOne(ctx, filter).Decode(&entry)
	if err == mongo.ErrNoDocuments {
		return key, ErrNotFound
	}

	if err != nil {
		return key, fmt.Errorf("fetch public key: %w", err)
	}

	raw, err := hex.DecodeString(entry.PublicKey)
	if err != nil {
		return key, fmt.Errorf("%w: user %s: %v", ErrCorruptEntry, userID, err)
	}
	if len(raw) != 32 {
		return key, fmt.Errorf("%w: user %s: got %d bytes, want 32", ErrCorruptEntry, userID, len(raw))
	}

	copy(key[:], raw)
	return key, nil
}
