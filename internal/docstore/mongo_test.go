package docstore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

func TestGroupCountPipeline(t *testing.T) {
	pipeline := groupCountPipeline("email", 20)
	require.Len(t, pipeline, 4)
	require.Equal(t, "$match", pipeline[0][0].Key)
	require.Equal(t, bson.M{"email": bson.M{"$type": "string"}}, pipeline[0][0].Value)
	require.Equal(t, "$group", pipeline[1][0].Key)
	require.Equal(t, bson.D{{Key: "count", Value: -1}, {Key: "_id", Value: 1}}, pipeline[2][0].Value)
	require.Equal(t, bson.D{{Key: "$limit", Value: int64(20)}}, pipeline[3])

	require.Len(t, groupCountPipeline("email", 0), 3)
}

func TestSortSpecBreaksTiesByID(t *testing.T) {
	require.Nil(t, sortSpec(FindOptions{}))
	require.Equal(t, bson.D{{Key: "date", Value: -1}, {Key: "_id", Value: 1}}, sortSpec(FindOptions{SortField: "date", Desc: true}))
	require.Equal(t, bson.D{{Key: "_id", Value: 1}}, sortSpec(FindOptions{SortField: "_id"}))
}

func TestMongoClientOptions(t *testing.T) {
	opts := mongoClientOptions(&mongoConfig{
		URI:              "mongodb://localhost:27017",
		MaxPoolSize:      50,
		ConnectTimeoutMS: 2000,
		WriteTimeoutMS:   2500,
	})
	require.NotNil(t, opts.WriteConcern)
	require.Equal(t, "majority", opts.WriteConcern.W)
	require.Equal(t, 2500*time.Millisecond, opts.WriteConcern.WTimeout)
	require.NotNil(t, opts.RetryWrites)
	require.True(t, *opts.RetryWrites)
	require.Equal(t, uint64(50), *opts.MaxPoolSize)
	require.Equal(t, 2*time.Second, *opts.ConnectTimeout)
}

func TestCreateMongoDatabaseRequiresURI(t *testing.T) {
	_, err := createMongoDatabase(context.Background(), "sample_mflix", map[string]interface{}{})
	require.Error(t, err)
}

func TestKeyedStoreMongo(t *testing.T) {
	uri := os.Getenv("TEST_MONGO_URI")
	if uri == "" {
		t.Skip("TEST_MONGO_URI is not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	db, err := createMongoDatabase(ctx, "mflix_test", map[string]interface{}{"uri": uri})
	require.NoError(t, err)
	t.Cleanup(func() {
		mdb := db.(*mongoDatabase)
		_ = mdb.db.Drop(context.Background())
		_ = db.Close(context.Background())
	})
	runKeyedStoreContract(t, db)
}

func TestMongoFindOneMapsNoDocuments(t *testing.T) {
	uri := os.Getenv("TEST_MONGO_URI")
	if uri == "" {
		t.Skip("TEST_MONGO_URI is not set")
	}
	ctx := context.Background()
	db, err := createMongoDatabase(ctx, "mflix_test", map[string]interface{}{"uri": uri})
	require.NoError(t, err)
	defer db.Close(ctx)

	var out bson.M
	err = db.Collection(collectionName("empty")).FindOne(ctx, Filter{"_id": "missing"}, &out)
	require.ErrorIs(t, err, ErrNoDocuments)
	require.NotErrorIs(t, err, mongo.ErrNoDocuments)
}
