package db

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"clarify/models"
	"clarify/store"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Collection implements store.Collection over a MongoDB collection.
type Collection[T any] struct {
	coll *mongo.Collection
}

func NewCollection[T any](database *mongo.Database, name string) *Collection[T] {
	return &Collection[T]{coll: database.Collection(name)}
}

func (c *Collection[T]) List(ctx context.Context, sortSpec string, limit int) ([]T, error) {
	return c.Filter(ctx, nil, sortSpec, limit)
}

func (c *Collection[T]) Filter(ctx context.Context, where store.Filter, sortSpec string, limit int) ([]T, error) {
	opts := options.Find()
	if field, dir := sortOrder(sortSpec); field != "" {
		opts.SetSort(bson.D{{Key: field, Value: dir}})
	}
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := c.coll.Find(ctx, toQuery(where), opts)
	if err != nil {
		return nil, c.classify("find", err)
	}
	defer cursor.Close(ctx)

	out := []T{}
	if err := cursor.All(ctx, &out); err != nil {
		return nil, c.classify("decode", err)
	}
	return out, nil
}

func (c *Collection[T]) Get(ctx context.Context, id string) (T, error) {
	var out T
	err := c.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&out)
	if err != nil {
		return out, c.classify("get "+id, err)
	}
	return out, nil
}

func (c *Collection[T]) Create(ctx context.Context, rec T) (T, error) {
	var zero T
	doc, err := store.ToDocument(rec)
	if err != nil {
		return zero, err
	}
	store.EnsureID(doc)
	if _, err := c.coll.InsertOne(ctx, doc); err != nil {
		return zero, c.classify("insert", err)
	}
	return store.FromDocument[T](doc)
}

func (c *Collection[T]) Update(ctx context.Context, id string, fields store.Fields) (T, error) {
	var out T
	set := bson.M{}
	for k, v := range fields {
		if k == "_id" {
			continue
		}
		set[k] = v
	}
	res := c.coll.FindOneAndUpdate(
		ctx,
		bson.M{"_id": id},
		bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	)
	if err := res.Decode(&out); err != nil {
		return out, c.classify("update "+id, err)
	}
	return out, nil
}

func (c *Collection[T]) Delete(ctx context.Context, id string) error {
	res, err := c.coll.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return c.classify("delete "+id, err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("%s %q: %w", c.coll.Name(), id, models.ErrNotFound)
	}
	return nil
}

// classify maps driver errors onto the sentinel errors the core reacts to.
func (c *Collection[T]) classify(op string, err error) error {
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		return fmt.Errorf("%s %s: %w", c.coll.Name(), op, models.ErrNotFound)
	case mongo.IsTimeout(err), mongo.IsNetworkError(err):
		return fmt.Errorf("%s %s: %w: %v", c.coll.Name(), op, models.ErrTransient, err)
	case isRateLimit(err):
		return fmt.Errorf("%s %s: %w: %v", c.coll.Name(), op, models.ErrRateLimited, err)
	default:
		return fmt.Errorf("%s %s: %w", c.coll.Name(), op, err)
	}
}

func isRateLimit(err error) bool {
	var se mongo.ServerError
	if errors.As(err, &se) {
		// 16500 is returned by throttled deployments (request rate too large)
		return se.HasErrorCode(16500)
	}
	return strings.Contains(strings.ToLower(err.Error()), "rate limit")
}

func sortOrder(spec string) (string, int) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return "", 0
	}
	if strings.HasPrefix(spec, "-") {
		return spec[1:], -1
	}
	return spec, 1
}

func toQuery(where store.Filter) bson.M {
	q := bson.M{}
	for k, v := range where {
		if k == "$or" {
			if clauses, ok := v.([]store.Filter); ok {
				or := bson.A{}
				for _, cl := range clauses {
					or = append(or, toQuery(cl))
				}
				q["$or"] = or
				continue
			}
		}
		q[k] = v
	}
	return q
}
