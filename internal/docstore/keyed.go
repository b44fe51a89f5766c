package docstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	appErr "github.com/xxxsen/mflix/internal/pkg/errors"
)

type UpsertResult struct {
	Matched  bool
	Modified bool
	Inserted bool
}

// KeyedStore keeps at most one record of type T per value of its natural key.
// Store faults are logged here and returned wrapped in appErr.ErrUnavailable;
// unique violations on insert come back as appErr.ErrAlreadyExists.
type KeyedStore[T any] struct {
	coll Collection
	key  string
}

func NewKeyedStore[T any](coll Collection, key string) *KeyedStore[T] {
	return &KeyedStore[T]{coll: coll, key: key}
}

func (s *KeyedStore[T]) EnsureIndexes(ctx context.Context) error {
	if err := s.coll.EnsureUniqueIndex(ctx, s.key); err != nil {
		return s.fail(ctx, "ensure_index", err)
	}
	return nil
}

// Get returns the record stored under key, or nil when there is none.
func (s *KeyedStore[T]) Get(ctx context.Context, key interface{}) (*T, error) {
	return s.FindOne(ctx, Filter{s.key: key})
}

func (s *KeyedStore[T]) FindOne(ctx context.Context, filter Filter) (*T, error) {
	var out T
	err := s.coll.FindOne(ctx, filter, &out)
	if errors.Is(err, ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, s.fail(ctx, "find_one", err)
	}
	return &out, nil
}

func (s *KeyedStore[T]) Find(ctx context.Context, filter Filter, opts FindOptions) ([]T, error) {
	out := make([]T, 0)
	if err := s.coll.Find(ctx, filter, opts, &out); err != nil {
		return nil, s.fail(ctx, "find", err)
	}
	return out, nil
}

func (s *KeyedStore[T]) InsertIfAbsent(ctx context.Context, record *T) error {
	if record == nil {
		return appErr.ErrInvalid
	}
	err := s.coll.InsertOne(ctx, record)
	if errors.Is(err, ErrDuplicateKey) {
		logutil.GetLogger(ctx).Debug("insert rejected by unique index",
			zap.String("collection", s.coll.Name()), zap.String("key", s.key))
		return fmt.Errorf("%s: %w", s.coll.Name(), appErr.ErrAlreadyExists)
	}
	if err != nil {
		return s.fail(ctx, "insert", err)
	}
	return nil
}

// Upsert replaces fields of the record under key, inserting it when absent.
// It is a single update-or-insert call on the backend, so concurrent callers
// on the same key never both insert.
func (s *KeyedStore[T]) Upsert(ctx context.Context, key interface{}, fields map[string]interface{}) (UpsertResult, error) {
	if len(fields) == 0 {
		return UpsertResult{}, appErr.ErrInvalid
	}
	res, err := s.coll.UpdateOne(ctx, Filter{s.key: key}, fields, true)
	if err != nil {
		return UpsertResult{}, s.fail(ctx, "upsert", err)
	}
	return UpsertResult{
		Matched:  res.MatchedCount > 0,
		Modified: res.ModifiedCount > 0,
		Inserted: res.UpsertedCount > 0,
	}, nil
}

// UpdateFields sets fields on the record matching key and owner. It reports
// whether a record matched; an update that changes nothing still counts.
func (s *KeyedStore[T]) UpdateFields(ctx context.Context, key interface{}, owner Filter, fields map[string]interface{}) (bool, error) {
	if len(fields) == 0 {
		return false, appErr.ErrInvalid
	}
	filter := s.ownedFilter(key, owner)
	res, err := s.coll.UpdateOne(ctx, filter, fields, false)
	if err != nil {
		return false, s.fail(ctx, "update", err)
	}
	if res.MatchedCount == 0 {
		return false, nil
	}
	if res.ModifiedCount == 0 {
		logutil.GetLogger(ctx).Warn("record matched but not modified",
			zap.String("collection", s.coll.Name()), zap.Any("key", key))
	}
	return true, nil
}

func (s *KeyedStore[T]) UpdateField(ctx context.Context, key interface{}, owner Filter, field string, value interface{}) (bool, error) {
	return s.UpdateFields(ctx, key, owner, map[string]interface{}{field: value})
}

// DeleteByKey removes the record matching key and owner. Removing nothing is
// reported as false, not as an error.
func (s *KeyedStore[T]) DeleteByKey(ctx context.Context, key interface{}, owner Filter) (bool, error) {
	deleted, err := s.coll.DeleteOne(ctx, s.ownedFilter(key, owner))
	if err != nil {
		return false, s.fail(ctx, "delete", err)
	}
	if deleted != 1 {
		logutil.GetLogger(ctx).Info("nothing deleted",
			zap.String("collection", s.coll.Name()), zap.Any("key", key))
		return false, nil
	}
	return true, nil
}

func (s *KeyedStore[T]) DeleteMany(ctx context.Context, filter Filter) (int64, error) {
	deleted, err := s.coll.DeleteMany(ctx, filter)
	if err != nil {
		return 0, s.fail(ctx, "delete_many", err)
	}
	return deleted, nil
}

// TopKByGroupCount ranks the values of field by number of records, highest
// first, ties broken by value ascending.
func (s *KeyedStore[T]) TopKByGroupCount(ctx context.Context, field string, k int) ([]GroupCount, error) {
	if k <= 0 {
		return []GroupCount{}, nil
	}
	items, err := s.coll.GroupCount(ctx, field, int64(k))
	if err != nil {
		return nil, s.fail(ctx, "group_count", err)
	}
	if items == nil {
		items = []GroupCount{}
	}
	return items, nil
}

func (s *KeyedStore[T]) ownedFilter(key interface{}, owner Filter) Filter {
	filter := make(Filter, len(owner)+1)
	for field, value := range owner {
		filter[field] = value
	}
	filter[s.key] = key
	return filter
}

func (s *KeyedStore[T]) fail(ctx context.Context, op string, err error) error {
	logutil.GetLogger(ctx).Error("document store operation failed",
		zap.String("collection", s.coll.Name()),
		zap.String("op", op),
		zap.Error(err),
	)
	return fmt.Errorf("%s %s: %w: %w", s.coll.Name(), op, appErr.ErrUnavailable, err)
}
