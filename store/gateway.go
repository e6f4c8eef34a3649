// Package store defines the entity gateway: filtered CRUD access to the persistent
// records the core reads and writes. The gateway is eventually consistent and has
// no transactions or joins.
package store

import (
	"context"

	"clarify/models"
)

// Filter is an equality predicate over stored field names. The "$or" key holds a
// []Filter whose clauses are alternatives.
type Filter map[string]interface{}

// Fields is a partial update keyed by stored field name.
type Fields map[string]interface{}

// Or combines equality clauses into one alternative predicate.
func Or(clauses ...Filter) Filter {
	return Filter{"$or": clauses}
}

// Collection is CRUD+filter access to one entity type. Sort is a field name,
// optionally prefixed with "-" for descending. A limit of 0 means unlimited.
type Collection[T any] interface {
	List(ctx context.Context, sort string, limit int) ([]T, error)
	Filter(ctx context.Context, where Filter, sort string, limit int) ([]T, error)
	Get(ctx context.Context, id string) (T, error)
	Create(ctx context.Context, rec T) (T, error)
	Update(ctx context.Context, id string, fields Fields) (T, error)
	Delete(ctx context.Context, id string) error
}

// Gateway bundles the collections for every entity type.
type Gateway struct {
	Users         Collection[models.User]
	Profiles      Collection[models.UserProfile]
	Topics        Collection[models.Topic]
	Opinions      Collection[models.TopicOpinion]
	Conversations Collection[models.Conversation]
	Messages      Collection[models.Message]
}

// Collection names shared by every backend.
const (
	UsersCollection         = "users"
	ProfilesCollection      = "user_profiles"
	TopicsCollection        = "topics"
	OpinionsCollection      = "topic_opinions"
	ConversationsCollection = "conversations"
	MessagesCollection      = "messages"
)

// NewMemoryGateway returns a gateway backed entirely by in-process collections.
func NewMemoryGateway() *Gateway {
	return &Gateway{
		Users:         NewMemoryCollection[models.User](UsersCollection),
		Profiles:      NewMemoryCollection[models.UserProfile](ProfilesCollection),
		Topics:        NewMemoryCollection[models.Topic](TopicsCollection),
		Opinions:      NewMemoryCollection[models.TopicOpinion](OpinionsCollection),
		Conversations: NewMemoryCollection[models.Conversation](ConversationsCollection),
		Messages:      NewMemoryCollection[models.Message](MessagesCollection),
	}
}
