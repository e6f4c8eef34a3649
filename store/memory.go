package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"clarify/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type memoryDoc struct {
	seq int64
	doc bson.M
}

// MemoryCollection is an in-process Collection. It stores documents in their
// encoded form so filters and sorts see the same field names as a real backend.
type MemoryCollection[T any] struct {
	name string
	mu   sync.RWMutex
	docs map[string]memoryDoc
	seq  int64
}

func NewMemoryCollection[T any](name string) *MemoryCollection[T] {
	return &MemoryCollection[T]{
		name: name,
		docs: make(map[string]memoryDoc),
	}
}

func (c *MemoryCollection[T]) List(ctx context.Context, sortSpec string, limit int) ([]T, error) {
	return c.Filter(ctx, nil, sortSpec, limit)
}

func (c *MemoryCollection[T]) Filter(ctx context.Context, where Filter, sortSpec string, limit int) ([]T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.RLock()
	matched := make([]memoryDoc, 0, len(c.docs))
	for _, d := range c.docs {
		if matches(d.doc, where) {
			matched = append(matched, d)
		}
	}
	c.mu.RUnlock()

	field, desc := parseSort(sortSpec)
	sort.SliceStable(matched, func(i, j int) bool {
		if field != "" {
			cmp := compareValues(matched[i].doc[field], matched[j].doc[field])
			if cmp != 0 {
				if desc {
					return cmp > 0
				}
				return cmp < 0
			}
		}
		return matched[i].seq < matched[j].seq
	})

	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}

	out := make([]T, 0, len(matched))
	for _, d := range matched {
		rec, err := FromDocument[T](d.doc)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (c *MemoryCollection[T]) Get(ctx context.Context, id string) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	c.mu.RLock()
	d, ok := c.docs[id]
	c.mu.RUnlock()
	if !ok {
		return zero, fmt.Errorf("%s %q: %w", c.name, id, models.ErrNotFound)
	}
	return FromDocument[T](d.doc)
}

func (c *MemoryCollection[T]) Create(ctx context.Context, rec T) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	doc, err := ToDocument(rec)
	if err != nil {
		return zero, err
	}
	id := EnsureID(doc)

	c.mu.Lock()
	if _, exists := c.docs[id]; exists {
		c.mu.Unlock()
		return zero, fmt.Errorf("%s %q already exists", c.name, id)
	}
	c.seq++
	c.docs[id] = memoryDoc{seq: c.seq, doc: doc}
	c.mu.Unlock()

	return FromDocument[T](doc)
}

func (c *MemoryCollection[T]) Update(ctx context.Context, id string, fields Fields) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	norm, err := Normalize(fields)
	if err != nil {
		return zero, err
	}
	delete(norm, "_id")

	c.mu.Lock()
	d, ok := c.docs[id]
	if !ok {
		c.mu.Unlock()
		return zero, fmt.Errorf("%s %q: %w", c.name, id, models.ErrNotFound)
	}
	next := make(bson.M, len(d.doc)+len(norm))
	for k, v := range d.doc {
		next[k] = v
	}
	for k, v := range norm {
		next[k] = v
	}
	c.docs[id] = memoryDoc{seq: d.seq, doc: next}
	c.mu.Unlock()

	return FromDocument[T](next)
}

func (c *MemoryCollection[T]) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.docs[id]; !ok {
		return fmt.Errorf("%s %q: %w", c.name, id, models.ErrNotFound)
	}
	delete(c.docs, id)
	return nil
}

// Len returns the number of stored records.
func (c *MemoryCollection[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.docs)
}

func parseSort(spec string) (string, bool) {
	spec = strings.TrimSpace(spec)
	if strings.HasPrefix(spec, "-") {
		return spec[1:], true
	}
	return spec, false
}

func matches(doc bson.M, where Filter) bool {
	for key, want := range where {
		if key == "$or" {
			if !matchesAny(doc, want) {
				return false
			}
			continue
		}
		if !valuesEqual(doc[key], want) {
			return false
		}
	}
	return true
}

func matchesAny(doc bson.M, clauses interface{}) bool {
	switch cs := clauses.(type) {
	case []Filter:
		for _, c := range cs {
			if matches(doc, c) {
				return true
			}
		}
	case []map[string]interface{}:
		for _, c := range cs {
			if matches(doc, Filter(c)) {
				return true
			}
		}
	}
	return false
}

func valuesEqual(a, b interface{}) bool {
	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			return af == bf
		}
	}
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if at, ok := toTime(a); ok {
		if bt, ok := toTime(b); ok {
			return at.Equal(bt)
		}
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func compareValues(a, b interface{}) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			switch {
			case af < bf:
				return -1
			case af > bf:
				return 1
			}
			return 0
		}
	}
	if at, ok := toTime(a); ok {
		if bt, ok := toTime(b); ok {
			return at.Compare(bt)
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func toTime(v interface{}) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return *t, true
	case primitive.DateTime:
		return t.Time(), true
	default:
		return time.Time{}, false
	}
}
