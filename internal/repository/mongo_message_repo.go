package repository

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"chat-relay/internal/domain"
)

type messageDocument struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	Username  string             `bson:"username"`
	Content   string             `bson:"content"`
	Timestamp time.Time          `bson:"timestamp"`
	Delivered bool               `bson:"delivered"`
	SeenBy    []string           `bson:"seenBy"`
}

type MongoMessageRepository struct {
	coll *mongo.Collection
}

func NewMongoMessageRepository(db *mongo.Database, collection string) *MongoMessageRepository {
	return &MongoMessageRepository{coll: db.Collection(collection)}
}

// EnsureIndexes crea el indice por timestamp usado por List.
func (r *MongoMessageRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "timestamp", Value: 1}},
	})
	if err != nil {
		return storeError("ensure indexes", err)
	}
	return nil
}

func (r *MongoMessageRepository) Create(ctx context.Context, message domain.Message) (domain.Message, error) {
	doc := toMessageDocument(message)
	doc.ID = primitive.NewObjectID()

	if _, err := r.coll.InsertOne(ctx, doc); err != nil {
		return domain.Message{}, storeError("insert message", err)
	}
	return doc.toDomain(), nil
}

func (r *MongoMessageRepository) List(ctx context.Context) ([]domain.Message, error) {
	opts := options.Find().SetSort(bson.D{
		{Key: "timestamp", Value: 1},
		{Key: "_id", Value: 1},
	})
	cursor, err := r.coll.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, storeError("find messages", err)
	}
	defer cursor.Close(ctx)

	var docs []messageDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, storeError("decode messages", err)
	}

	messages := make([]domain.Message, 0, len(docs))
	for _, doc := range docs {
		messages = append(messages, doc.toDomain())
	}
	return messages, nil
}

func (r *MongoMessageRepository) AddSeenBy(ctx context.Context, id, username string) error {
	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return ErrNotFound
	}

	res, err := r.coll.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: objectID}},
		bson.D{{Key: "$addToSet", Value: bson.D{{Key: "seenBy", Value: username}}}},
	)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return ErrNotFound
		}
		return storeError("add seen", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *MongoMessageRepository) Ping(ctx context.Context) error {
	if err := r.coll.Database().Client().Ping(ctx, readpref.Primary()); err != nil {
		return storeError("ping", err)
	}
	return nil
}

func toMessageDocument(message domain.Message) messageDocument {
	seenBy := message.SeenBy
	if seenBy == nil {
		seenBy = []string{}
	}
	// BSON guarda milisegundos.
	return messageDocument{
		Username:  message.Username,
		Content:   message.Content,
		Timestamp: message.Timestamp.UTC().Truncate(time.Millisecond),
		Delivered: message.Delivered,
		SeenBy:    seenBy,
	}
}

func (d messageDocument) toDomain() domain.Message {
	seenBy := d.SeenBy
	if seenBy == nil {
		seenBy = []string{}
	}
	return domain.Message{
		ID:        d.ID.Hex(),
		Username:  d.Username,
		Content:   d.Content,
		Timestamp: d.Timestamp.UTC(),
		Delivered: d.Delivered,
		SeenBy:    seenBy,
	}
}
