package message

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"campuschat/internal/model"
)

type (
	MessageRepo struct {
		collection *mongo.Collection
	}
)

func NewMessageRepo(db *mongo.Database) *MessageRepo {
	return &MessageRepo{
		collection: db.Collection("messages"),
	}
}

// Insert writes the row and returns it with its assigned id and timestamp.
func (r *MessageRepo) Insert(ctx context.Context, msg *model.Message) (*model.Message, error) {
	inserted := *msg
	inserted.ID = uuid.NewString()
	inserted.CreatedAt = time.Now().UTC()

	if _, err := r.collection.InsertOne(ctx, &inserted); err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	return &inserted, nil
}

// ListConversation returns every message exchanged between the two users,
// regardless of direction, ascending by creation time.
func (r *MessageRepo) ListConversation(ctx context.Context, userA, userB string) ([]model.Message, error) {
	filter := bson.M{
		"$or": bson.A{
			bson.M{"sender_id": userA, "receiver_id": userB},
			bson.M{"sender_id": userB, "receiver_id": userA},
		},
	}

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("list conversation: %w", err)
	}
	defer cursor.Close(ctx)

	var messages []model.Message
	if err := cursor.All(ctx, &messages); err != nil {
		return nil, fmt.Errorf("decode conversation: %w", err)
	}
	return messages, nil
}
