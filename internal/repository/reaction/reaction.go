package reaction

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"campuschat/internal/model"
)

type (
	ReactionRepo struct {
		collection *mongo.Collection
	}
)

func NewReactionRepo(db *mongo.Database) *ReactionRepo {
	return &ReactionRepo{
		collection: db.Collection("message_reactions"),
	}
}

func (r *ReactionRepo) Insert(ctx context.Context, reaction *model.Reaction) (*model.Reaction, error) {
	inserted := *reaction
	inserted.ID = uuid.NewString()

	if _, err := r.collection.InsertOne(ctx, &inserted); err != nil {
		return nil, fmt.Errorf("insert reaction: %w", err)
	}
	return &inserted, nil
}

func (r *ReactionRepo) UpdateEmoji(ctx context.Context, id, emoji string) error {
	filter := bson.M{"_id": id}
	update := bson.M{"$set": bson.M{"emoji": emoji}}

	if _, err := r.collection.UpdateOne(ctx, filter, update); err != nil {
		return fmt.Errorf("update reaction %s: %w", id, err)
	}
	return nil
}

func (r *ReactionRepo) Delete(ctx context.Context, id string) error {
	if _, err := r.collection.DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return fmt.Errorf("delete reaction %s: %w", id, err)
	}
	return nil
}

// ListForMessages returns all reactions attached to the given message ids.
func (r *ReactionRepo) ListForMessages(ctx context.Context, messageIDs []string) ([]model.Reaction, error) {
	if len(messageIDs) == 0 {
		return nil, nil
	}

	filter := bson.M{
		"message_id": bson.M{"$in": messageIDs},
	}

	cursor, err := r.collection.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list reactions: %w", err)
	}
	defer cursor.Close(ctx)

	var reactions []model.Reaction
	if err := cursor.All(ctx, &reactions); err != nil {
		return nil, fmt.Errorf("decode reactions: %w", err)
	}
	return reactions, nil
}
