package docstore

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func init() {
	Register("memory", func(ctx context.Context, dbName string, args interface{}) (Database, error) {
		return NewMemoryDatabase(), nil
	})
}

type memoryDatabase struct {
	mu    sync.Mutex
	colls map[string]*memoryCollection
}

// NewMemoryDatabase returns a process local database. Documents go through the
// same bson encoding as the mongo backend.
func NewMemoryDatabase() Database {
	return &memoryDatabase{colls: make(map[string]*memoryCollection)}
}

func (d *memoryDatabase) Collection(name string) Collection {
	d.mu.Lock()
	defer d.mu.Unlock()
	coll, ok := d.colls[name]
	if !ok {
		coll = &memoryCollection{name: name, unique: map[string]struct{}{"_id": {}}}
		d.colls[name] = coll
	}
	return coll
}

func (d *memoryDatabase) Close(ctx context.Context) error {
	return nil
}

type memoryCollection struct {
	mu     sync.RWMutex
	name   string
	docs   []bson.M
	unique map[string]struct{}
}

func (c *memoryCollection) Name() string {
	return c.name
}

func (c *memoryCollection) FindOne(ctx context.Context, filter Filter, out interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	want, err := normalizeFilter(filter)
	if err != nil {
		return err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, doc := range c.docs {
		if matches(doc, want) {
			return decodeDoc(doc, out)
		}
	}
	return ErrNoDocuments
}

func (c *memoryCollection) Find(ctx context.Context, filter Filter, opts FindOptions, out interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	want, err := normalizeFilter(filter)
	if err != nil {
		return err
	}
	c.mu.RLock()
	hits := make([]bson.M, 0)
	for _, doc := range c.docs {
		if matches(doc, want) {
			hits = append(hits, doc)
		}
	}
	c.mu.RUnlock()

	if opts.SortField != "" {
		sort.SliceStable(hits, func(i, j int) bool {
			cmp := compareValues(hits[i][opts.SortField], hits[j][opts.SortField])
			if opts.Desc {
				cmp = -cmp
			}
			if cmp != 0 {
				return cmp < 0
			}
			return idString(hits[i]["_id"]) < idString(hits[j]["_id"])
		})
	}
	if opts.Skip > 0 {
		if opts.Skip >= int64(len(hits)) {
			hits = hits[:0]
		} else {
			hits = hits[opts.Skip:]
		}
	}
	if opts.Limit > 0 && int64(len(hits)) > opts.Limit {
		hits = hits[:opts.Limit]
	}
	return decodeDocs(hits, out)
}

func (c *memoryCollection) InsertOne(ctx context.Context, doc interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m, err := toDoc(doc)
	if err != nil {
		return err
	}
	if _, ok := m["_id"]; !ok {
		m["_id"] = uuid.NewString()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.violatesUnique(m, -1) {
		return fmt.Errorf("%w: collection %s", ErrDuplicateKey, c.name)
	}
	c.docs = append(c.docs, m)
	return nil
}

func (c *memoryCollection) UpdateOne(ctx context.Context, filter Filter, set map[string]interface{}, upsert bool) (UpdateResult, error) {
	if err := ctx.Err(); err != nil {
		return UpdateResult{}, err
	}
	want, err := normalizeFilter(filter)
	if err != nil {
		return UpdateResult{}, err
	}
	patch, err := toDoc(set)
	if err != nil {
		return UpdateResult{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, doc := range c.docs {
		if !matches(doc, want) {
			continue
		}
		updated := make(bson.M, len(doc)+len(patch))
		for k, v := range doc {
			updated[k] = v
		}
		modified := false
		for k, v := range patch {
			if old, ok := doc[k]; !ok || !reflect.DeepEqual(old, v) {
				modified = true
			}
			updated[k] = v
		}
		if !modified {
			return UpdateResult{MatchedCount: 1}, nil
		}
		if c.violatesUnique(updated, i) {
			return UpdateResult{}, fmt.Errorf("%w: collection %s", ErrDuplicateKey, c.name)
		}
		c.docs[i] = updated
		return UpdateResult{MatchedCount: 1, ModifiedCount: 1}, nil
	}
	if !upsert {
		return UpdateResult{}, nil
	}
	doc := make(bson.M, len(want)+len(patch)+1)
	for k, v := range want {
		doc[k] = v
	}
	for k, v := range patch {
		doc[k] = v
	}
	if _, ok := doc["_id"]; !ok {
		doc["_id"] = uuid.NewString()
	}
	if c.violatesUnique(doc, -1) {
		return UpdateResult{}, fmt.Errorf("%w: collection %s", ErrDuplicateKey, c.name)
	}
	c.docs = append(c.docs, doc)
	return UpdateResult{UpsertedCount: 1}, nil
}

func (c *memoryCollection) DeleteOne(ctx context.Context, filter Filter) (int64, error) {
	return c.delete(ctx, filter, 1)
}

func (c *memoryCollection) DeleteMany(ctx context.Context, filter Filter) (int64, error) {
	return c.delete(ctx, filter, -1)
}

func (c *memoryCollection) delete(ctx context.Context, filter Filter, max int) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	want, err := normalizeFilter(filter)
	if err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.docs[:0]
	var deleted int64
	for _, doc := range c.docs {
		if (max < 0 || deleted < int64(max)) && matches(doc, want) {
			deleted++
			continue
		}
		kept = append(kept, doc)
	}
	for i := len(kept); i < len(c.docs); i++ {
		c.docs[i] = nil
	}
	c.docs = kept
	return deleted, nil
}

func (c *memoryCollection) GroupCount(ctx context.Context, field string, limit int64) ([]GroupCount, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	counts := make(map[string]int64)
	for _, doc := range c.docs {
		value, ok := doc[field].(string)
		if !ok {
			continue
		}
		counts[value]++
	}
	c.mu.RUnlock()
	items := make([]GroupCount, 0, len(counts))
	for key, count := range counts {
		items = append(items, GroupCount{Key: key, Count: count})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Count != items[j].Count {
			return items[i].Count > items[j].Count
		}
		return items[i].Key < items[j].Key
	})
	if limit > 0 && int64(len(items)) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (c *memoryCollection) EnsureUniqueIndex(ctx context.Context, field string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	seen := make(map[string]struct{})
	for _, doc := range c.docs {
		value, ok := doc[field]
		if !ok {
			continue
		}
		key := fmt.Sprintf("%T:%v", value, value)
		if _, dup := seen[key]; dup {
			return fmt.Errorf("%w: existing duplicates on %s.%s", ErrDuplicateKey, c.name, field)
		}
		seen[key] = struct{}{}
	}
	c.unique[field] = struct{}{}
	return nil
}

// violatesUnique reports whether doc collides with another document on a
// unique field. skip is the index of the document being replaced, or -1.
func (c *memoryCollection) violatesUnique(doc bson.M, skip int) bool {
	for field := range c.unique {
		value, ok := doc[field]
		if !ok {
			continue
		}
		for i, other := range c.docs {
			if i == skip {
				continue
			}
			if existing, ok := other[field]; ok && reflect.DeepEqual(existing, value) {
				return true
			}
		}
	}
	return false
}

func toDoc(v interface{}) (bson.M, error) {
	raw, err := bson.Marshal(v)
	if err != nil {
		return nil, err
	}
	doc := bson.M{}
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func decodeDoc(doc bson.M, out interface{}) error {
	raw, err := bson.Marshal(doc)
	if err != nil {
		return err
	}
	return bson.Unmarshal(raw, out)
}

func decodeDocs(docs []bson.M, out interface{}) error {
	target := reflect.ValueOf(out)
	if target.Kind() != reflect.Ptr || target.Elem().Kind() != reflect.Slice {
		return fmt.Errorf("docstore: out must be a pointer to a slice, got %T", out)
	}
	slice := target.Elem()
	result := reflect.MakeSlice(slice.Type(), 0, len(docs))
	for _, doc := range docs {
		item := reflect.New(slice.Type().Elem())
		if err := decodeDoc(doc, item.Interface()); err != nil {
			return err
		}
		result = reflect.Append(result, item.Elem())
	}
	slice.Set(result)
	return nil
}

func normalizeFilter(filter Filter) (bson.M, error) {
	if len(filter) == 0 {
		return bson.M{}, nil
	}
	return toDoc(map[string]interface{}(filter))
}

func matches(doc bson.M, want bson.M) bool {
	for field, value := range want {
		got, ok := doc[field]
		if !ok || !reflect.DeepEqual(got, value) {
			return false
		}
	}
	return true
}

func compareValues(a, b interface{}) int {
	switch av := a.(type) {
	case string:
		if bv, ok := b.(string); ok {
			switch {
			case av < bv:
				return -1
			case av > bv:
				return 1
			}
			return 0
		}
	case primitive.DateTime:
		if bv, ok := b.(primitive.DateTime); ok {
			return compareInt(int64(av), int64(bv))
		}
	case int32:
		if bv, ok := b.(int32); ok {
			return compareInt(int64(av), int64(bv))
		}
	case int64:
		if bv, ok := b.(int64); ok {
			return compareInt(av, bv)
		}
	case float64:
		if bv, ok := b.(float64); ok {
			switch {
			case av < bv:
				return -1
			case av > bv:
				return 1
			}
			return 0
		}
	}
	// missing values sort first, mixed types keep insertion order
	switch {
	case a == nil && b != nil:
		return -1
	case a != nil && b == nil:
		return 1
	}
	return 0
}

func compareInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
