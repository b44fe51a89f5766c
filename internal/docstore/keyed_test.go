package docstore

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	appErr "github.com/xxxsen/mflix/internal/pkg/errors"
)

type testSession struct {
	UserID string `bson:"user_id"`
	Token  string `bson:"jwt"`
}

type testAccount struct {
	Email string `bson:"email"`
	Name  string `bson:"name"`
}

type testComment struct {
	ID    string `bson:"_id"`
	Email string `bson:"email"`
	Text  string `bson:"text"`
}

func collectionName(prefix string) string {
	return prefix + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// runKeyedStoreContract exercises the KeyedStore guarantees against a backend.
func runKeyedStoreContract(t *testing.T, db Database) {
	ctx := context.Background()

	newSessions := func(t *testing.T) *KeyedStore[testSession] {
		store := NewKeyedStore[testSession](db.Collection(collectionName("sessions")), "user_id")
		require.NoError(t, store.EnsureIndexes(ctx))
		return store
	}
	newAccounts := func(t *testing.T) *KeyedStore[testAccount] {
		store := NewKeyedStore[testAccount](db.Collection(collectionName("users")), "email")
		require.NoError(t, store.EnsureIndexes(ctx))
		return store
	}
	newComments := func(t *testing.T) *KeyedStore[testComment] {
		store := NewKeyedStore[testComment](db.Collection(collectionName("comments")), "_id")
		require.NoError(t, store.EnsureIndexes(ctx))
		return store
	}

	t.Run("get miss returns nil", func(t *testing.T) {
		store := newSessions(t)
		got, err := store.Get(ctx, "nobody")
		require.NoError(t, err)
		require.Nil(t, got)
	})

	t.Run("upsert is idempotent", func(t *testing.T) {
		store := newSessions(t)
		fields := map[string]interface{}{"jwt": "token-1"}

		res, err := store.Upsert(ctx, "u1", fields)
		require.NoError(t, err)
		require.True(t, res.Inserted)

		res, err = store.Upsert(ctx, "u1", fields)
		require.NoError(t, err)
		require.False(t, res.Inserted)
		require.True(t, res.Matched)
		require.False(t, res.Modified)

		all, err := store.Find(ctx, Filter{"user_id": "u1"}, FindOptions{})
		require.NoError(t, err)
		require.Len(t, all, 1)
	})

	t.Run("upsert replaces session token", func(t *testing.T) {
		store := newSessions(t)
		_, err := store.Upsert(ctx, "u1", map[string]interface{}{"jwt": "v1"})
		require.NoError(t, err)
		res, err := store.Upsert(ctx, "u1", map[string]interface{}{"jwt": "v2"})
		require.NoError(t, err)
		require.True(t, res.Matched)
		require.True(t, res.Modified)

		all, err := store.Find(ctx, Filter{"user_id": "u1"}, FindOptions{})
		require.NoError(t, err)
		require.Len(t, all, 1)
		require.Equal(t, "v2", all[0].Token)

		got, err := store.Get(ctx, "u1")
		require.NoError(t, err)
		require.NotNil(t, got)
		require.Equal(t, "v2", got.Token)
	})

	t.Run("concurrent upserts keep one record", func(t *testing.T) {
		store := newSessions(t)
		const workers = 16
		var wg sync.WaitGroup
		results := make([]UpsertResult, workers)
		errs := make([]error, workers)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i], errs[i] = store.Upsert(ctx, "racer", map[string]interface{}{"jwt": "same"})
			}(i)
		}
		wg.Wait()
		inserted := 0
		for i := 0; i < workers; i++ {
			require.NoError(t, errs[i])
			if results[i].Inserted {
				inserted++
			}
		}
		require.Equal(t, 1, inserted)
		all, err := store.Find(ctx, Filter{"user_id": "racer"}, FindOptions{})
		require.NoError(t, err)
		require.Len(t, all, 1)
	})

	t.Run("insert if absent rejects duplicates", func(t *testing.T) {
		store := newAccounts(t)
		require.NoError(t, store.InsertIfAbsent(ctx, &testAccount{Email: "a@x.com", Name: "A"}))
		err := store.InsertIfAbsent(ctx, &testAccount{Email: "a@x.com", Name: "B"})
		require.ErrorIs(t, err, appErr.ErrAlreadyExists)
		require.False(t, errors.Is(err, appErr.ErrUnavailable))

		got, err := store.Get(ctx, "a@x.com")
		require.NoError(t, err)
		require.Equal(t, "A", got.Name)
	})

	t.Run("concurrent inserts store exactly one", func(t *testing.T) {
		store := newAccounts(t)
		const workers = 2
		var wg sync.WaitGroup
		errs := make([]error, workers)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs[i] = store.InsertIfAbsent(ctx, &testAccount{Email: "dup@x.com"})
			}(i)
		}
		wg.Wait()
		var ok, exists int
		for _, err := range errs {
			switch {
			case err == nil:
				ok++
			case errors.Is(err, appErr.ErrAlreadyExists):
				exists++
			default:
				t.Fatalf("unexpected error: %v", err)
			}
		}
		require.Equal(t, 1, ok)
		require.Equal(t, 1, exists)
		all, err := store.Find(ctx, Filter{"email": "dup@x.com"}, FindOptions{})
		require.NoError(t, err)
		require.Len(t, all, 1)
	})

	t.Run("delete is gated by owner", func(t *testing.T) {
		store := newComments(t)
		require.NoError(t, store.InsertIfAbsent(ctx, &testComment{ID: "c1", Email: "a@x.com", Text: "hi"}))

		ok, err := store.DeleteByKey(ctx, "c1", Filter{"email": "b@x.com"})
		require.NoError(t, err)
		require.False(t, ok)
		got, err := store.Get(ctx, "c1")
		require.NoError(t, err)
		require.NotNil(t, got)

		ok, err = store.DeleteByKey(ctx, "c1", Filter{"email": "a@x.com"})
		require.NoError(t, err)
		require.True(t, ok)
		got, err = store.Get(ctx, "c1")
		require.NoError(t, err)
		require.Nil(t, got)

		ok, err = store.DeleteByKey(ctx, "c1", Filter{"email": "a@x.com"})
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("update reports matched not modified", func(t *testing.T) {
		store := newComments(t)
		require.NoError(t, store.InsertIfAbsent(ctx, &testComment{ID: "c1", Email: "a@x.com", Text: "hi"}))

		ok, err := store.UpdateField(ctx, "c1", Filter{"email": "a@x.com"}, "text", "hello")
		require.NoError(t, err)
		require.True(t, ok)

		ok, err = store.UpdateField(ctx, "c1", Filter{"email": "a@x.com"}, "text", "hello")
		require.NoError(t, err)
		require.True(t, ok)

		ok, err = store.UpdateField(ctx, "c1", Filter{"email": "b@x.com"}, "text", "stolen")
		require.NoError(t, err)
		require.False(t, ok)

		ok, err = store.UpdateField(ctx, "missing-id", nil, "text", "x")
		require.NoError(t, err)
		require.False(t, ok)

		got, err := store.Get(ctx, "c1")
		require.NoError(t, err)
		require.Equal(t, "hello", got.Text)
	})

	t.Run("delete many", func(t *testing.T) {
		store := newComments(t)
		for _, id := range []string{"c1", "c2", "c3"} {
			email := "a@x.com"
			if id == "c3" {
				email = "b@x.com"
			}
			require.NoError(t, store.InsertIfAbsent(ctx, &testComment{ID: id, Email: email}))
		}
		n, err := store.DeleteMany(ctx, Filter{"email": "a@x.com"})
		require.NoError(t, err)
		require.Equal(t, int64(2), n)
		n, err = store.DeleteMany(ctx, Filter{"email": "a@x.com"})
		require.NoError(t, err)
		require.Equal(t, int64(0), n)
	})

	t.Run("top k by group count", func(t *testing.T) {
		store := newComments(t)
		for i, email := range []string{"a", "a", "a", "b", "b", "c"} {
			require.NoError(t, store.InsertIfAbsent(ctx, &testComment{ID: uuid.NewString(), Email: email, Text: string(rune('0' + i))}))
		}
		top, err := store.TopKByGroupCount(ctx, "email", 2)
		require.NoError(t, err)
		require.Equal(t, []GroupCount{{Key: "a", Count: 3}, {Key: "b", Count: 2}}, top)

		empty, err := store.TopKByGroupCount(ctx, "email", 0)
		require.NoError(t, err)
		require.Empty(t, empty)
	})

	t.Run("top k breaks ties by key", func(t *testing.T) {
		store := newComments(t)
		for _, email := range []string{"z", "y", "x", "y", "z", "x"} {
			require.NoError(t, store.InsertIfAbsent(ctx, &testComment{ID: uuid.NewString(), Email: email}))
		}
		top, err := store.TopKByGroupCount(ctx, "email", 10)
		require.NoError(t, err)
		require.Equal(t, []GroupCount{{Key: "x", Count: 2}, {Key: "y", Count: 2}, {Key: "z", Count: 2}}, top)
	})

	t.Run("find orders dates across digit boundaries", func(t *testing.T) {
		store := NewKeyedStore[datedComment](db.Collection(collectionName("comments")), "_id")
		require.NoError(t, store.EnsureIndexes(ctx))
		day := func(year int, month time.Month) time.Time {
			return time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
		}
		// 1999 is 12 digits of epoch millis, 2017 is 13
		seed := []datedComment{
			{ID: "mid", MovieID: "m1", Date: day(1999, time.January)},
			{ID: "new", MovieID: "m1", Date: day(2017, time.January)},
			{ID: "old", MovieID: "m1", Date: day(1975, time.June)},
			{ID: "tie-b", MovieID: "m1", Date: day(2003, time.March)},
			{ID: "tie-a", MovieID: "m1", Date: day(2003, time.March)},
		}
		for i := range seed {
			require.NoError(t, store.InsertIfAbsent(ctx, &seed[i]))
		}
		ids := func(items []datedComment) []string {
			out := make([]string, 0, len(items))
			for _, item := range items {
				out = append(out, item.ID)
			}
			return out
		}

		newest, err := store.Find(ctx, Filter{"movie_id": "m1"}, FindOptions{SortField: "date", Desc: true})
		require.NoError(t, err)
		require.Equal(t, []string{"new", "tie-a", "tie-b", "mid", "old"}, ids(newest))
		require.True(t, newest[0].Date.Equal(day(2017, time.January)))

		oldest, err := store.Find(ctx, Filter{"movie_id": "m1"}, FindOptions{SortField: "date", Limit: 3})
		require.NoError(t, err)
		require.Equal(t, []string{"old", "mid", "tie-a"}, ids(oldest))
	})
}

func TestKeyedStoreMemory(t *testing.T) {
	runKeyedStoreContract(t, NewMemoryDatabase())
}

func TestKeyedStoreRejectsEmptyWrites(t *testing.T) {
	store := NewKeyedStore[testSession](NewMemoryDatabase().Collection("sessions"), "user_id")
	_, err := store.Upsert(context.Background(), "u1", nil)
	require.ErrorIs(t, err, appErr.ErrInvalid)
	_, err = store.UpdateFields(context.Background(), "u1", nil, map[string]interface{}{})
	require.ErrorIs(t, err, appErr.ErrInvalid)
	require.ErrorIs(t, store.InsertIfAbsent(context.Background(), nil), appErr.ErrInvalid)
}

type failingCollection struct {
	Collection
	err error
}

func (f failingCollection) Name() string { return "broken" }

func (f failingCollection) FindOne(ctx context.Context, filter Filter, out interface{}) error {
	return f.err
}

func (f failingCollection) InsertOne(ctx context.Context, doc interface{}) error {
	return f.err
}

func (f failingCollection) UpdateOne(ctx context.Context, filter Filter, set map[string]interface{}, upsert bool) (UpdateResult, error) {
	return UpdateResult{}, f.err
}

func (f failingCollection) DeleteOne(ctx context.Context, filter Filter) (int64, error) {
	return 0, f.err
}

func (f failingCollection) GroupCount(ctx context.Context, field string, limit int64) ([]GroupCount, error) {
	return nil, f.err
}

func TestKeyedStoreSurfacesStoreFaults(t *testing.T) {
	cause := errors.New("connection reset")
	store := NewKeyedStore[testSession](failingCollection{err: cause}, "user_id")
	ctx := context.Background()

	_, err := store.Get(ctx, "u1")
	require.ErrorIs(t, err, appErr.ErrUnavailable)
	require.ErrorIs(t, err, cause)

	err = store.InsertIfAbsent(ctx, &testSession{UserID: "u1"})
	require.ErrorIs(t, err, appErr.ErrUnavailable)
	require.False(t, errors.Is(err, appErr.ErrAlreadyExists))

	res, err := store.Upsert(ctx, "u1", map[string]interface{}{"jwt": "t"})
	require.ErrorIs(t, err, appErr.ErrUnavailable)
	require.Equal(t, UpsertResult{}, res)

	ok, err := store.UpdateField(ctx, "u1", nil, "jwt", "t")
	require.ErrorIs(t, err, appErr.ErrUnavailable)
	require.False(t, ok)

	ok, err = store.DeleteByKey(ctx, "u1", nil)
	require.ErrorIs(t, err, appErr.ErrUnavailable)
	require.False(t, ok)

	_, err = store.TopKByGroupCount(ctx, "user_id", 3)
	require.ErrorIs(t, err, appErr.ErrUnavailable)
}

func TestKeyedStoreOwnerCannotOverrideKey(t *testing.T) {
	ctx := context.Background()
	store := NewKeyedStore[testComment](NewMemoryDatabase().Collection("comments"), "_id")
	require.NoError(t, store.InsertIfAbsent(ctx, &testComment{ID: "c1", Email: "a@x.com"}))
	require.NoError(t, store.InsertIfAbsent(ctx, &testComment{ID: "c2", Email: "a@x.com"}))

	ok, err := store.DeleteByKey(ctx, "c1", Filter{"_id": "c2", "email": "a@x.com"})
	require.NoError(t, err)
	require.True(t, ok)

	got, err := store.Get(ctx, "c2")
	require.NoError(t, err)
	require.NotNil(t, got)
}
