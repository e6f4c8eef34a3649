package db

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"clarify/models"
	"clarify/store"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// extractDBName parses the database name from the URI, defaulting to "clarify"
func extractDBName(uri string) string {
	u, err := url.Parse(uri)
	if err != nil {
		return "clarify"
	}
	if u.Path != "" && u.Path != "/" {
		return u.Path[1:] // Trim leading '/'
	}
	return "clarify"
}

// ConnectMongoDB establishes a connection to MongoDB using the provided URI
func ConnectMongoDB(ctx context.Context, uri string) (*mongo.Client, *mongo.Database, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	// Verify connection with a ping
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return client, client.Database(extractDBName(uri)), nil
}

// NewGateway binds every entity collection to the given database.
func NewGateway(database *mongo.Database) *store.Gateway {
	return &store.Gateway{
		Users:         NewCollection[models.User](database, store.UsersCollection),
		Profiles:      NewCollection[models.UserProfile](database, store.ProfilesCollection),
		Topics:        NewCollection[models.Topic](database, store.TopicsCollection),
		Opinions:      NewCollection[models.TopicOpinion](database, store.OpinionsCollection),
		Conversations: NewCollection[models.Conversation](database, store.ConversationsCollection),
		Messages:      NewCollection[models.Message](database, store.MessagesCollection),
	}
}
