package identity

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// DefaultCollection holds one document per user: {_id, metadata, updated_at}.
const DefaultCollection = "user_metadata"

// MongoStore is a self-hosted MetadataStore for deployments where the identity
// provider offers no metadata of its own.
type MongoStore struct {
	coll *mongo.Collection
}

var _ MetadataStore = (*MongoStore)(nil)

func NewMongoStore(db *mongo.Database, collection string) *MongoStore {
	if collection == "" {
		collection = DefaultCollection
	}
	return &MongoStore{coll: db.Collection(collection)}
}

type metadataDoc struct {
	UserID    string         `bson:"_id"`
	Metadata  map[string]any `bson:"metadata"`
	UpdatedAt time.Time      `bson:"updated_at"`
}

func (s *MongoStore) Get(ctx context.Context, userID string) (map[string]any, error) {
	var doc metadataDoc
	err := s.coll.FindOne(ctx, bson.D{{Key: "_id", Value: userID}}).Decode(&doc)
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		return map[string]any{}, nil
	case err != nil:
		return nil, errors.Join(ErrProvider, err)
	}
	if doc.Metadata == nil {
		doc.Metadata = map[string]any{}
	}
	return doc.Metadata, nil
}

// Merge applies patch atomically with $set/$unset on dotted paths, so
// concurrent writers of different keys never clobber each other.
func (s *MongoStore) Merge(ctx context.Context, userID string, patch map[string]any) error {
	_, err := s.coll.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: userID}},
		MergeUpdate(patch, time.Now()),
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return errors.Join(ErrProvider, err)
	}
	return nil
}

func (s *MongoStore) DeleteUser(ctx context.Context, userID string) error {
	res, err := s.coll.DeleteOne(ctx, bson.D{{Key: "_id", Value: userID}})
	if err != nil {
		return errors.Join(ErrProvider, err)
	}
	if res.DeletedCount == 0 {
		return ErrUserNotFound
	}
	return nil
}

// MergeUpdate builds the update document for a metadata patch.
func MergeUpdate(patch map[string]any, now time.Time) bson.D {
	set := bson.D{{Key: "updated_at", Value: now}}
	var unset bson.D
	for k, v := range patch {
		if v == nil {
			unset = append(unset, bson.E{Key: "metadata." + k, Value: ""})
			continue
		}
		set = append(set, bson.E{Key: "metadata." + k, Value: v})
	}

	update := bson.D{{Key: "$set", Value: set}}
	if len(unset) > 0 {
		update = append(update, bson.E{Key: "$unset", Value: unset})
	}
	return update
}
