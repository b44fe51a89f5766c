// Package docstore provides the document-store primitives the data access
// layer is built on, plus KeyedStore, a generic keyed-record store on top of
// them. Backends (mongo, postgres, memory) register themselves by driver name.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/xxxsen/mflix/internal/config"
)

var (
	ErrNoDocuments  = errors.New("docstore: no documents")
	ErrDuplicateKey = errors.New("docstore: duplicate key")
	ErrUnsupported  = errors.New("docstore: unsupported operation")
)

// Filter is a conjunction of field equality predicates.
type Filter map[string]interface{}

type UpdateResult struct {
	MatchedCount  int64
	ModifiedCount int64
	UpsertedCount int64
}

type GroupCount struct {
	Key   string `bson:"_id" db:"key" json:"key"`
	Count int64  `bson:"count" db:"count" json:"count"`
}

type FindOptions struct {
	SortField string
	Desc      bool
	Limit     int64
	Skip      int64
}

// Collection is the client surface of one document collection. Documents are
// structs with bson tags; every backend honours the same tags.
type Collection interface {
	Name() string
	FindOne(ctx context.Context, filter Filter, out interface{}) error
	// Find decodes the matching documents into out, a pointer to a slice.
	Find(ctx context.Context, filter Filter, opts FindOptions, out interface{}) error
	InsertOne(ctx context.Context, doc interface{}) error
	// UpdateOne applies set to the first match. With upsert the backend inserts
	// filter+set atomically when nothing matches.
	UpdateOne(ctx context.Context, filter Filter, set map[string]interface{}, upsert bool) (UpdateResult, error)
	DeleteOne(ctx context.Context, filter Filter) (int64, error)
	DeleteMany(ctx context.Context, filter Filter) (int64, error)
	// GroupCount counts documents per string value of field, ordered by count
	// descending then value ascending.
	GroupCount(ctx context.Context, field string, limit int64) ([]GroupCount, error)
	EnsureUniqueIndex(ctx context.Context, field string) error
}

type Database interface {
	Collection(name string) Collection
	Close(ctx context.Context) error
}

type Factory func(ctx context.Context, dbName string, args interface{}) (Database, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

func Register(name string, factory Factory) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" || factory == nil {
		return
	}
	registryMu.Lock()
	registry[key] = factory
	registryMu.Unlock()
}

func Open(ctx context.Context, cfg config.DatabaseConfig) (Database, error) {
	key := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if key == "" {
		return nil, fmt.Errorf("database.driver is required")
	}
	registryMu.RLock()
	factory := registry[key]
	registryMu.RUnlock()
	if factory == nil {
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}
	return factory(ctx, cfg.Name, cfg.Data)
}

func decodeConfig(args interface{}, dst interface{}) error {
	if args == nil {
		return fmt.Errorf("database config is required")
	}
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode database config: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode database config: %w", err)
	}
	return nil
}

var identRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func validIdent(name string) bool {
	return identRegex.MatchString(name)
}
