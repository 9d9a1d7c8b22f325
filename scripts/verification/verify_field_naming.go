//go:build ignore

// verify_field_naming checks that stored chat messages use the camelCase
// field names clients and indexes expect. Run against a disposable database:
//
//	MONGO_URI=mongodb://127.0.0.1:27017 go run scripts/verification/verify_field_naming.go
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"

	"github.com/real-rm/livechat/internal/constants"
	"github.com/real-rm/livechat/internal/message"
	"github.com/real-rm/livechat/internal/storage"
)

func main() {
	fmt.Println("=== Message Field Naming Verification ===")

	uri := os.Getenv("MONGO_URI")
	if uri == "" {
		uri = constants.DefaultMongoURI
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := storage.Connect(ctx, uri)
	if err != nil {
		log.Fatalf("Failed to connect to MongoDB: %v", err)
	}
	defer client.Disconnect(context.Background())
	fmt.Println("✓ Connected to MongoDB")

	collection := client.Database("livechat_field_naming").Collection(constants.DefaultMessagesColl)
	_ = collection.Drop(ctx)
	defer collection.Drop(context.Background())

	store := storage.NewMessageStore(collection, zap.NewNop().Sugar())
	if err := store.EnsureIndexes(ctx); err != nil {
		log.Fatalf("Failed to create indexes: %v", err)
	}

	msg := message.New("user-a", "user-b", message.SendRequest{Text: "field check"}, time.Now())
	if err := store.Create(ctx, msg); err != nil {
		log.Fatalf("Failed to insert message: %v", err)
	}
	fmt.Println("✓ Message inserted")

	var raw bson.M
	if err := collection.FindOne(ctx, bson.M{constants.MongoFieldID: msg.ID}).Decode(&raw); err != nil {
		log.Fatalf("Failed to read message back: %v", err)
	}

	ok := true
	for _, field := range []string{
		constants.MongoFieldSenderID,
		constants.MongoFieldReceiverID,
		constants.MongoFieldText,
		constants.MongoFieldEdited,
		constants.MongoFieldCreatedAt,
		constants.MongoFieldUpdatedAt,
	} {
		if _, exists := raw[field]; !exists {
			fmt.Printf("✗ Field '%s' not found\n", field)
			ok = false
			continue
		}
		fmt.Printf("✓ Field '%s' exists\n", field)
	}
	for _, field := range []string{"sender_id", "receiver_id", "created_at", "updated_at"} {
		if _, exists := raw[field]; exists {
			fmt.Printf("✗ snake_case field '%s' present\n", field)
			ok = false
		}
	}

	cursor, err := collection.Indexes().List(ctx)
	if err != nil {
		log.Fatalf("Failed to list indexes: %v", err)
	}
	var indexes []bson.M
	if err := cursor.All(ctx, &indexes); err != nil {
		log.Fatalf("Failed to read indexes: %v", err)
	}
	names := make(map[string]bool, len(indexes))
	for _, idx := range indexes {
		if name, isString := idx["name"].(string); isString {
			names[name] = true
		}
	}
	for _, want := range []string{constants.IndexConversation, constants.IndexReceiver} {
		if !names[want] {
			fmt.Printf("✗ Index '%s' missing\n", want)
			ok = false
			continue
		}
		fmt.Printf("✓ Index '%s' exists\n", want)
	}

	if !ok {
		fmt.Println("\n✗ Verification failed")
		os.Exit(1)
	}
	fmt.Println("\n✓ All checks passed")
}
