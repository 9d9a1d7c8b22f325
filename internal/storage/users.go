package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/real-rm/livechat/internal/auth"
	"github.com/real-rm/livechat/internal/constants"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// userDocument is the subset of a stored user this service reads
type userDocument struct {
	ID         interface{} `bson:"_id"`
	FullName   string      `bson:"fullName"`
	ProfilePic string      `bson:"profilePic,omitempty"`
}

// UserStore is the user directory backed by the users collection
type UserStore struct {
	collection *mongo.Collection
}

// NewUserStore creates a user directory over collection
func NewUserStore(collection *mongo.Collection) *UserStore {
	return &UserStore{collection: collection}
}

// idFilter matches an ObjectID when userID is one, the raw string otherwise
func idFilter(userID string) bson.M {
	if oid, err := primitive.ObjectIDFromHex(userID); err == nil {
		return bson.M{constants.MongoFieldID: oid}
	}
	return bson.M{constants.MongoFieldID: userID}
}

// FindUserByID returns the identity of userID with the password projected out.
// It performs exactly one query.
func (s *UserStore) FindUserByID(ctx context.Context, userID string) (*auth.Identity, error) {
	if userID == "" {
		return nil, auth.ErrUserNotFound
	}

	opts := options.FindOne().SetProjection(bson.M{constants.MongoFieldPassword: 0})

	var doc userDocument
	err := s.collection.FindOne(ctx, idFilter(userID), opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, auth.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user %s: %w", userID, err)
	}

	return &auth.Identity{
		UserID:      userID,
		DisplayName: doc.FullName,
		ProfileRef:  doc.ProfilePic,
	}, nil
}

// Exists reports whether userID names a stored user
func (s *UserStore) Exists(ctx context.Context, userID string) (bool, error) {
	_, err := s.FindUserByID(ctx, userID)
	if errors.Is(err, auth.ErrUserNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
