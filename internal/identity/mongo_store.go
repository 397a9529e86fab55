package identity

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore implements Store using a MongoDB collection. The uniqueness
// constraints the linking protocol relies on live here as indexes: a unique
// index on publicId and a partial unique index on externalId (only documents
// that actually carry one).
type MongoStore struct {
	col *mongo.Collection
}

// NewMongoStore creates the store and ensures the load-bearing indexes exist.
func NewMongoStore(ctx context.Context, col *mongo.Collection) (*MongoStore, error) {
	models := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "publicId", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "externalId", Value: 1}},
			Options: options.Index().SetUnique(true).
				SetPartialFilterExpression(bson.M{"externalId": bson.M{"$exists": true}}),
		},
	}
	if _, err := col.Indexes().CreateMany(ctx, models); err != nil {
		return nil, err
	}
	return &MongoStore{col: col}, nil
}

func (s *MongoStore) Insert(ctx context.Context, rec *Record) error {
	if _, err := s.col.InsertOne(ctx, rec); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicatePublicID
		}
		return err
	}
	return nil
}

func (s *MongoStore) FindByPublicID(ctx context.Context, publicID string) (*Record, error) {
	return s.findOne(ctx, bson.M{"publicId": publicID})
}

func (s *MongoStore) FindByExternalID(ctx context.Context, externalID string) (*Record, error) {
	if externalID == "" {
		return nil, nil
	}
	return s.findOne(ctx, bson.M{"externalId": externalID})
}

func (s *MongoStore) findOne(ctx context.Context, filter bson.M) (*Record, error) {
	var rec Record
	if err := s.col.FindOne(ctx, filter).Decode(&rec); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// Promote performs the single conditional write of the upgrade step. The
// filter matches only a still-anonymous record, so a concurrent linking of
// the same record makes this a no-match instead of a silent clobber; a
// concurrent linking of the same externalId by a different record trips the
// unique index instead.
func (s *MongoStore) Promote(ctx context.Context, publicID string, ext ExternalIdentity, now time.Time) (*Record, error) {
	set := bson.M{
		"externalId":  ext.ExternalID,
		"isAnonymous": false,
		"updatedAt":   now,
	}
	// displayName is intentionally untouched: the anonymous name survives.
	if ext.Email != "" {
		set["email"] = ext.Email
	}
	if ext.AvatarImage != "" {
		set["avatarImage"] = ext.AvatarImage
	}

	filter := bson.M{"publicId": publicID, "isAnonymous": true}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var rec Record
	err := s.col.FindOneAndUpdate(ctx, filter, bson.M{"$set": set}, opts).Decode(&rec)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, ErrExternalIDTaken
		}
		if err == mongo.ErrNoDocuments {
			return nil, ErrPromoteConflict
		}
		return nil, err
	}
	return &rec, nil
}
