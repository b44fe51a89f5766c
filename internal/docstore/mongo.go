package docstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"
	"go.uber.org/zap"
)

type mongoConfig struct {
	URI              string `json:"uri"`
	MaxPoolSize      uint64 `json:"max_pool_size"`
	ConnectTimeoutMS int64  `json:"connect_timeout_ms"`
	WriteTimeoutMS   int64  `json:"write_timeout_ms"`
}

func init() {
	Register("mongo", createMongoDatabase)
}

type mongoDatabase struct {
	client *mongo.Client
	db     *mongo.Database
}

func createMongoDatabase(ctx context.Context, dbName string, args interface{}) (Database, error) {
	cfg := &mongoConfig{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, err
	}
	if cfg.URI == "" {
		return nil, fmt.Errorf("mongo uri is required")
	}
	client, err := mongo.Connect(ctx, mongoClientOptions(cfg))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return &mongoDatabase{client: client, db: client.Database(dbName)}, nil
}

// mongoClientOptions applies the connection string and then tightens writes
// to majority acknowledgement with retryable writes on.
func mongoClientOptions(cfg *mongoConfig) *options.ClientOptions {
	wc := writeconcern.Majority()
	if cfg.WriteTimeoutMS > 0 {
		wc.WTimeout = time.Duration(cfg.WriteTimeoutMS) * time.Millisecond
	}
	opts := options.Client().
		ApplyURI(cfg.URI).
		SetWriteConcern(wc).
		SetRetryWrites(true)
	if cfg.MaxPoolSize > 0 {
		opts.SetMaxPoolSize(cfg.MaxPoolSize)
	}
	if cfg.ConnectTimeoutMS > 0 {
		opts.SetConnectTimeout(time.Duration(cfg.ConnectTimeoutMS) * time.Millisecond)
	}
	return opts
}

func (d *mongoDatabase) Collection(name string) Collection {
	return &mongoCollection{coll: d.db.Collection(name)}
}

func (d *mongoDatabase) Close(ctx context.Context) error {
	return d.client.Disconnect(ctx)
}

type mongoCollection struct {
	coll *mongo.Collection
}

func (c *mongoCollection) Name() string {
	return c.coll.Name()
}

func (c *mongoCollection) FindOne(ctx context.Context, filter Filter, out interface{}) error {
	err := c.coll.FindOne(ctx, bson.M(filter)).Decode(out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrNoDocuments
	}
	return err
}

func (c *mongoCollection) Find(ctx context.Context, filter Filter, opts FindOptions, out interface{}) error {
	findOpts := options.Find()
	if spec := sortSpec(opts); spec != nil {
		findOpts.SetSort(spec)
	}
	if opts.Limit > 0 {
		findOpts.SetLimit(opts.Limit)
	}
	if opts.Skip > 0 {
		findOpts.SetSkip(opts.Skip)
	}
	cursor, err := c.coll.Find(ctx, bson.M(filter), findOpts)
	if err != nil {
		return err
	}
	return cursor.All(ctx, out)
}

// sortSpec orders by the requested field with _id ascending as tie-break.
func sortSpec(opts FindOptions) bson.D {
	if opts.SortField == "" {
		return nil
	}
	direction := 1
	if opts.Desc {
		direction = -1
	}
	spec := bson.D{{Key: opts.SortField, Value: direction}}
	if opts.SortField != "_id" {
		spec = append(spec, bson.E{Key: "_id", Value: 1})
	}
	return spec
}

func (c *mongoCollection) InsertOne(ctx context.Context, doc interface{}) error {
	_, err := c.coll.InsertOne(ctx, doc)
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: %v", ErrDuplicateKey, err)
	}
	return err
}

func (c *mongoCollection) UpdateOne(ctx context.Context, filter Filter, set map[string]interface{}, upsert bool) (UpdateResult, error) {
	update := bson.M{"$set": set}
	opts := options.Update().SetUpsert(upsert)
	res, err := c.coll.UpdateOne(ctx, bson.M(filter), update, opts)
	if upsert && mongo.IsDuplicateKeyError(err) {
		// Two upserts raced to insert the same key and this one lost; the
		// document exists now, so the retry takes the update path.
		logutil.GetLogger(ctx).Debug("upsert lost insert race, retrying as update",
			zap.String("collection", c.coll.Name()))
		res, err = c.coll.UpdateOne(ctx, bson.M(filter), update, opts)
	}
	if mongo.IsDuplicateKeyError(err) {
		return UpdateResult{}, fmt.Errorf("%w: %v", ErrDuplicateKey, err)
	}
	if err != nil {
		return UpdateResult{}, err
	}
	return UpdateResult{
		MatchedCount:  res.MatchedCount,
		ModifiedCount: res.ModifiedCount,
		UpsertedCount: res.UpsertedCount,
	}, nil
}

func (c *mongoCollection) DeleteOne(ctx context.Context, filter Filter) (int64, error) {
	res, err := c.coll.DeleteOne(ctx, bson.M(filter))
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func (c *mongoCollection) DeleteMany(ctx context.Context, filter Filter) (int64, error) {
	res, err := c.coll.DeleteMany(ctx, bson.M(filter))
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

// GroupCount reads with majority read concern so the ranking only reflects
// writes acknowledged by a majority of the replica set.
func (c *mongoCollection) GroupCount(ctx context.Context, field string, limit int64) ([]GroupCount, error) {
	if !validIdent(field) {
		return nil, fmt.Errorf("invalid group field: %q", field)
	}
	coll := c.coll.Database().Collection(c.coll.Name(),
		options.Collection().SetReadConcern(readconcern.Majority()))
	cursor, err := coll.Aggregate(ctx, groupCountPipeline(field, limit))
	if err != nil {
		return nil, err
	}
	items := make([]GroupCount, 0)
	if err := cursor.All(ctx, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func groupCountPipeline(field string, limit int64) mongo.Pipeline {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{field: bson.M{"$type": "string"}}}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$" + field},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "count", Value: -1}, {Key: "_id", Value: 1}}}},
	}
	if limit > 0 {
		pipeline = append(pipeline, bson.D{{Key: "$limit", Value: limit}})
	}
	return pipeline
}

func (c *mongoCollection) EnsureUniqueIndex(ctx context.Context, field string) error {
	if field == "_id" {
		return nil
	}
	_, err := c.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: field, Value: 1}},
		Options: options.Index().SetUnique(true).SetName(field + "_unique"),
	})
	return err
}
