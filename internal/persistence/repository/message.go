package repository

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/hilthontt/visper-relay/internal/domain"
	"github.com/hilthontt/visper-relay/internal/persistence/db"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type messageRepository struct {
	db *mongo.Database
}

func NewMessageRepository(db *mongo.Database) domain.MessageRepository {
	return &messageRepository{
		db: db,
	}
}

// Create upserts by id so a replayed task does not duplicate the message.
func (r *messageRepository) Create(ctx context.Context, message *domain.Message) error {
	if message == nil || message.ID == "" || message.RoomID == "" {
		return domain.ErrInvalidInput
	}
	collection := r.db.Collection(db.MessagesCollection)

	_, err := collection.ReplaceOne(ctx,
		bson.M{"_id": message.ID},
		message,
		options.Replace().SetUpsert(true),
	)
	return err
}

func (r *messageRepository) GetByID(ctx context.Context, id string) (*domain.Message, error) {
	collection := r.db.Collection(db.MessagesCollection)

	var msg domain.Message
	if err := collection.FindOne(ctx, bson.M{"_id": id}).Decode(&msg); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrMessageNotFound
		}
		return nil, err
	}
	return &msg, nil
}

func (r *messageRepository) ListByRoom(ctx context.Context, roomID string, before time.Time, limit int) ([]domain.Message, bool, error) {
	if roomID == "" {
		return nil, false, domain.ErrInvalidInput
	}
	if limit <= 0 {
		limit = 30
	}
	collection := r.db.Collection(db.MessagesCollection)

	filter := bson.M{"room_id": roomID}
	if !before.IsZero() {
		filter["timestamp"] = bson.M{"$lt": before}
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: -1}}).
		SetLimit(int64(limit + 1))

	cursor, err := collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, false, err
	}
	defer cursor.Close(ctx)

	var msgs []domain.Message
	if err := cursor.All(ctx, &msgs); err != nil {
		return nil, false, err
	}

	hasMore := len(msgs) > limit
	if hasMore {
		msgs = msgs[:limit]
	}
	slices.Reverse(msgs)
	return msgs, hasMore, nil
}

func (r *messageRepository) ApplyReaction(ctx context.Context, messageID, emoji, userID string, op domain.ReactionOp) (*domain.Message, error) {
	if emoji == "" || userID == "" || strings.ContainsAny(emoji, ".$") {
		return nil, domain.ErrInvalidReaction
	}
	collection := r.db.Collection(db.MessagesCollection)

	field := "reactions." + emoji
	var update bson.M
	switch op {
	case domain.ReactionAdd:
		update = bson.M{"$addToSet": bson.M{field: userID}}
	case domain.ReactionRemove:
		update = bson.M{"$pull": bson.M{field: userID}}
	default:
		return nil, domain.ErrInvalidReaction
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var msg domain.Message
	if err := collection.FindOneAndUpdate(ctx, bson.M{"_id": messageID}, update, opts).Decode(&msg); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrMessageNotFound
		}
		return nil, err
	}

	if users, ok := msg.Reactions[emoji]; ok && len(users) == 0 {
		delete(msg.Reactions, emoji)
	}
	return &msg, nil
}

// MarkRead pushes a receipt only when the user has none yet. A miss on the
// guarded update falls back to a plain read to tell "already read" from
// "no such message".
func (r *messageRepository) MarkRead(ctx context.Context, messageID, userID string, at time.Time) (*domain.Message, bool, error) {
	if userID == "" {
		return nil, false, domain.ErrInvalidInput
	}
	collection := r.db.Collection(db.MessagesCollection)

	filter := bson.M{"_id": messageID, "read_by.user_id": bson.M{"$ne": userID}}
	update := bson.M{"$push": bson.M{"read_by": domain.ReadReceipt{UserID: userID, ReadAt: at}}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var msg domain.Message
	err := collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&msg)
	if err == nil {
		return &msg, true, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, false, err
	}

	existing, err := r.GetByID(ctx, messageID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// EnsureIndexes creates the room history index used by ListByRoom.
func (r *messageRepository) EnsureIndexes(ctx context.Context) error {
	collection := r.db.Collection(db.MessagesCollection)

	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "room_id", Value: 1},
				{Key: "timestamp", Value: -1},
			},
		},
		{
			Keys: bson.D{
				{Key: "sender.id", Value: 1},
				{Key: "timestamp", Value: -1},
			},
		},
	}

	_, err := collection.Indexes().CreateMany(ctx, indexes)
	return err
}
