package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/real-rm/livechat/internal/constants"
	"github.com/real-rm/livechat/internal/message"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

var (
	// ErrInvalidMessage is returned when message is nil or has no ID
	ErrInvalidMessage = errors.New("message must be non-nil with an ID")
	// ErrMessageNotFound is returned when no message has the ID
	ErrMessageNotFound = errors.New("message not found")
)

// MessageStore persists chat messages in the messages collection
type MessageStore struct {
	collection *mongo.Collection
	logger     *zap.SugaredLogger
	retry      retryConfig
}

// NewMessageStore creates a message store over collection
func NewMessageStore(collection *mongo.Collection, logger *zap.SugaredLogger) *MessageStore {
	return &MessageStore{
		collection: collection,
		logger:     logger.Named("storage"),
		retry:      defaultRetryConfig,
	}
}

// EnsureIndexes creates the indexes used to load conversations
func (s *MessageStore) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: constants.MongoFieldSenderID, Value: 1},
				{Key: constants.MongoFieldReceiverID, Value: 1},
				{Key: constants.MongoFieldCreatedAt, Value: 1},
			},
			Options: options.Index().SetName(constants.IndexConversation),
		},
		{
			Keys: bson.D{
				{Key: constants.MongoFieldReceiverID, Value: 1},
				{Key: constants.MongoFieldCreatedAt, Value: -1},
			},
			Options: options.Index().SetName(constants.IndexReceiver),
		},
	}

	if _, err := s.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	s.logger.Infow("MongoDB indexes created successfully",
		"indexes", []string{constants.IndexConversation, constants.IndexReceiver})
	return nil
}

// Create stores msg. Transient failures are retried; the insert is keyed by
// the message ID so a retried insert cannot store the message twice.
func (s *MessageStore) Create(ctx context.Context, msg *message.Message) error {
	if msg == nil || msg.ID == "" {
		return ErrInvalidMessage
	}

	return retryOperation(ctx, s.logger, s.retry, "create message", func() error {
		_, err := s.collection.InsertOne(ctx, msg)
		if mongo.IsDuplicateKeyError(err) {
			// An earlier attempt landed before its acknowledgement was lost
			return nil
		}
		return err
	})
}

// Get returns the message with id
func (s *MessageStore) Get(ctx context.Context, id string) (*message.Message, error) {
	var msg message.Message
	err := s.collection.FindOne(ctx, bson.M{constants.MongoFieldID: id}).Decode(&msg)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message %s: %w", id, err)
	}
	return &msg, nil
}

// ListConversation returns every message exchanged between userA and userB,
// oldest first
func (s *MessageStore) ListConversation(ctx context.Context, userA, userB string) ([]*message.Message, error) {
	filter := bson.M{"$or": bson.A{
		bson.M{constants.MongoFieldSenderID: userA, constants.MongoFieldReceiverID: userB},
		bson.M{constants.MongoFieldSenderID: userB, constants.MongoFieldReceiverID: userA},
	}}
	opts := options.Find().SetSort(bson.D{{Key: constants.MongoFieldCreatedAt, Value: 1}})

	var msgs []*message.Message
	err := retryOperation(ctx, s.logger, s.retry, "list conversation", func() error {
		cursor, err := s.collection.Find(ctx, filter, opts)
		if err != nil {
			return err
		}
		msgs = msgs[:0]
		return cursor.All(ctx, &msgs)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list conversation: %w", err)
	}
	if msgs == nil {
		msgs = []*message.Message{}
	}
	return msgs, nil
}

// UpdateText replaces the text of message id, marks it edited, and returns the updated record
func (s *MessageStore) UpdateText(ctx context.Context, id, text string, now time.Time) (*message.Message, error) {
	update := bson.M{"$set": bson.M{
		constants.MongoFieldText:      text,
		constants.MongoFieldEdited:    true,
		constants.MongoFieldUpdatedAt: now.UTC(),
	}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var msg message.Message
	err := s.collection.FindOneAndUpdate(ctx, bson.M{constants.MongoFieldID: id}, update, opts).Decode(&msg)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update message %s: %w", id, err)
	}
	return &msg, nil
}

// Delete removes message id
func (s *MessageStore) Delete(ctx context.Context, id string) error {
	res, err := s.collection.DeleteOne(ctx, bson.M{constants.MongoFieldID: id})
	if err != nil {
		return fmt.Errorf("failed to delete message %s: %w", id, err)
	}
	if res.DeletedCount == 0 {
		return ErrMessageNotFound
	}
	return nil
}
