package store

import (
	"fmt"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
)

// ToDocument converts a record into its stored field map.
func ToDocument(rec interface{}) (bson.M, error) {
	raw, err := bson.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal document: %w", err)
	}
	var doc bson.M
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal document: %w", err)
	}
	return doc, nil
}

// FromDocument decodes a stored field map into a record.
func FromDocument[T any](doc bson.M) (T, error) {
	var out T
	raw, err := bson.Marshal(doc)
	if err != nil {
		return out, fmt.Errorf("marshal document: %w", err)
	}
	if err := bson.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode document: %w", err)
	}
	return out, nil
}

// EnsureID assigns a fresh id to a document that has none and returns the id.
func EnsureID(doc bson.M) string {
	if id, ok := doc["_id"].(string); ok && id != "" {
		return id
	}
	id := uuid.NewString()
	doc["_id"] = id
	return id
}

// Normalize runs field values through the document codec so that stored values
// compare the same way regardless of the Go type they were written with.
func Normalize(fields Fields) (bson.M, error) {
	return ToDocument(bson.M(fields))
}
