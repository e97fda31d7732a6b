package storage

import (
	"context"
	"encoding/json"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"audittrail/internal/domain"
	"audittrail/pkg/apperrors"
)

const mongoCollection = "audit_events"

// eventDocument is the stored shape: listing columns for the indexes plus
// the canonical JSON payload kept verbatim.
type eventDocument struct {
	ID         string    `bson:"_id"`
	ObjectType string    `bson:"object_type"`
	ObjectID   string    `bson:"object_id"`
	ActorID    string    `bson:"actor_id"`
	OccurredAt time.Time `bson:"occurred_at"`
	Payload    []byte    `bson:"payload"`
}

// MongoBackend stores one document per event in the audit_events collection.
type MongoBackend struct {
	collection *mongo.Collection
}

func NewMongoBackend(db *mongo.Database) *MongoBackend {
	return &MongoBackend{collection: db.Collection(mongoCollection)}
}

// EnsureIndexes creates the by-object and by-actor listing indexes. Call
// once at startup.
func (b *MongoBackend) EnsureIndexes(ctx context.Context) error {
	_, err := b.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{
			{Key: "object_type", Value: 1},
			{Key: "object_id", Value: 1},
			{Key: "occurred_at", Value: -1},
			{Key: "_id", Value: -1},
		}},
		{Keys: bson.D{
			{Key: "actor_id", Value: 1},
			{Key: "occurred_at", Value: -1},
			{Key: "_id", Value: -1},
		}},
	})
	if err != nil {
		return apperrors.Wrap(apperrors.KindConfiguration, "create event indexes", err)
	}
	return nil
}

func (b *MongoBackend) StoreEvent(ctx context.Context, event domain.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return apperrors.Wrap(apperrors.KindDelivery, "marshal event payload", err)
	}

	doc := eventDocument{
		ID:         event.EventID,
		ObjectType: event.ObjectType,
		ObjectID:   event.ObjectID,
		ActorID:    actorID(event),
		OccurredAt: event.Timestamp.UTC(),
		Payload:    payload,
	}
	// Replace-with-upsert keeps redelivery a no-op: the same event id always
	// maps to the same document.
	_, err = b.collection.ReplaceOne(ctx,
		bson.M{"_id": event.EventID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return apperrors.Wrap(apperrors.KindDelivery, "store event", err)
	}
	return nil
}

func (b *MongoBackend) FetchObjectEvents(ctx context.Context, objectType, objectID string, limit int, cursor string) (Page, error) {
	return b.fetch(ctx, bson.M{"object_type": objectType, "object_id": objectID}, limit, cursor)
}

func (b *MongoBackend) FetchUserEvents(ctx context.Context, userID string, limit int, cursor string) (Page, error) {
	return b.fetch(ctx, bson.M{"actor_id": userID}, limit, cursor)
}

func (b *MongoBackend) fetch(ctx context.Context, filter bson.M, limit int, cursor string) (Page, error) {
	if cursor != "" {
		var position keysetCursor
		if err := decodeCursor(cursor, &position); err != nil {
			return Page{}, err
		}
		filter["$or"] = bson.A{
			bson.M{"occurred_at": bson.M{"$lt": position.Timestamp.UTC()}},
			bson.M{"occurred_at": position.Timestamp.UTC(), "_id": bson.M{"$lt": position.EventID}},
		}
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "occurred_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(limit + 1))
	result, err := b.collection.Find(ctx, filter, opts)
	if err != nil {
		return Page{}, apperrors.Wrap(apperrors.KindQuery, "list events", err)
	}
	defer result.Close(ctx)

	events := make([]domain.Event, 0, limit)
	for result.Next(ctx) {
		var doc eventDocument
		if err := result.Decode(&doc); err != nil {
			return Page{}, apperrors.Wrap(apperrors.KindQuery, "decode event document", err)
		}
		var event domain.Event
		if err := json.Unmarshal(doc.Payload, &event); err != nil {
			return Page{}, apperrors.Wrap(apperrors.KindQuery, "decode event payload", err)
		}
		events = append(events, event)
	}
	if err := result.Err(); err != nil {
		return Page{}, apperrors.Wrap(apperrors.KindQuery, "list events", err)
	}

	page := Page{}
	if len(events) > limit {
		events = events[:limit]
		last := events[limit-1]
		page.NextCursor = encodeCursor(keysetCursor{Timestamp: last.Timestamp, EventID: last.EventID})
	}
	page.Events = events
	return page, nil
}

var _ Backend = (*MongoBackend)(nil)
