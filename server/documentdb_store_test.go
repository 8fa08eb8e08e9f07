package server

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"
)

var fixedInsertTime = time.Date(2024, 3, 5, 10, 30, 0, 123456789, time.UTC)

func newMockStore(mt *mtest.T) *DocumentDBStore {
	return &DocumentDBStore{
		client:  mt.Client,
		objects: mt.Coll,
		now:     func() time.Time { return fixedInsertTime },
	}
}

func namespace(mt *mtest.T) string {
	return mt.Coll.Database().Name() + "." + mt.Coll.Name()
}

func objectDoc(id primitive.ObjectID, title string, createdAt time.Time) bson.D {
	return bson.D{
		{Key: "_id", Value: id},
		{Key: "title", Value: title},
		{Key: "imageUrl", Value: "https://b.s3.r.amazonaws.com/k-" + title},
		{Key: "s3Key", Value: "k-" + title},
		{Key: "createdAt", Value: primitive.NewDateTimeFromTime(createdAt)},
	}
}

func TestDocumentDBStore_Insert(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	defer mt.Close()

	mt.Run("success", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateSuccessResponse())
		store := newMockStore(mt)

		created, err := store.Insert(context.Background(), &NewObject{
			Title:       "Beautiful Apartment",
			Description: "3 bedrooms",
			ImageURL:    "https://b.s3.r.amazonaws.com/1-a.png",
			StorageKey:  "1-a.png",
		})
		require.NoError(t, err)

		_, err = primitive.ObjectIDFromHex(created.ID)
		assert.NoError(t, err)
		assert.Equal(t, "Beautiful Apartment", created.Title)
		assert.Equal(t, "3 bedrooms", created.Description)
		assert.Equal(t, "1-a.png", created.StorageKey)
		assert.Equal(t, fixedInsertTime.Truncate(time.Millisecond), created.CreatedAt)

		started := mt.GetStartedEvent()
		require.NotNil(t, started)
		assert.Equal(t, "insert", started.CommandName)
		docs, err := started.Command.LookupErr("documents")
		require.NoError(t, err)
		values, err := docs.Array().Values()
		require.NoError(t, err)
		require.Len(t, values, 1)
		sent := values[0].Document()
		assert.Equal(t, "1-a.png", sent.Lookup("s3Key").StringValue())
		assert.Equal(t, "https://b.s3.r.amazonaws.com/1-a.png", sent.Lookup("imageUrl").StringValue())
	})

	mt.Run("description omitted", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateSuccessResponse())
		store := newMockStore(mt)

		created, err := store.Insert(context.Background(), &NewObject{
			Title:      "t",
			ImageURL:   "https://b.s3.r.amazonaws.com/1-a.png",
			StorageKey: "1-a.png",
		})
		require.NoError(t, err)
		assert.Empty(t, created.Description)

		started := mt.GetStartedEvent()
		require.NotNil(t, started)
		docs := started.Command.Lookup("documents").Array()
		values, err := docs.Values()
		require.NoError(t, err)
		_, err = values[0].Document().LookupErr("description")
		assert.Error(t, err, "empty description must not be written")
	})

	mt.Run("write error", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateWriteErrorsResponse(mtest.WriteError{
			Index:   0,
			Code:    11000,
			Message: "duplicate key error",
		}))
		store := newMockStore(mt)

		_, err := store.Insert(context.Background(), &NewObject{
			Title:      "t",
			ImageURL:   "u",
			StorageKey: "k",
		})
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrPersistence))
	})

	mt.Run("invalid record", func(mt *mtest.T) {
		store := newMockStore(mt)

		for _, object := range []*NewObject{
			nil,
			{Title: " ", ImageURL: "u", StorageKey: "k"},
			{Title: "t", StorageKey: "k"},
			{Title: "t", ImageURL: "u"},
		} {
			_, err := store.Insert(context.Background(), object)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrPersistence))
		}
		assert.Nil(t, mt.GetStartedEvent(), "no command must be sent")
	})
}

func TestDocumentDBStore_ListAll(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	defer mt.Close()

	mt.Run("success", func(mt *mtest.T) {
		newer := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
		older := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		first, second := primitive.NewObjectID(), primitive.NewObjectID()

		mt.AddMockResponses(mtest.CreateCursorResponse(0, namespace(mt), mtest.FirstBatch,
			objectDoc(first, "newer", newer),
			objectDoc(second, "older", older),
		))
		store := newMockStore(mt)

		objects, err := store.ListAll(context.Background())
		require.NoError(t, err)
		require.Len(t, objects, 2)
		assert.Equal(t, first.Hex(), objects[0].ID)
		assert.Equal(t, "newer", objects[0].Title)
		assert.Equal(t, "k-newer", objects[0].StorageKey)
		assert.Equal(t, newer, objects[0].CreatedAt)
		assert.Equal(t, second.Hex(), objects[1].ID)

		started := mt.GetStartedEvent()
		require.NotNil(t, started)
		assert.Equal(t, "find", started.CommandName)
		sort := started.Command.Lookup("sort").Document()
		elems, err := sort.Elements()
		require.NoError(t, err)
		require.Len(t, elems, 2)
		assert.Equal(t, "createdAt", elems[0].Key())
		assert.Equal(t, "_id", elems[1].Key())
	})

	mt.Run("empty", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateCursorResponse(0, namespace(mt), mtest.FirstBatch))
		store := newMockStore(mt)

		objects, err := store.ListAll(context.Background())
		require.NoError(t, err)
		assert.NotNil(t, objects)
		assert.Empty(t, objects)
	})

	mt.Run("command error", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateCommandErrorResponse(mtest.CommandError{
			Code:    1,
			Message: "internal error",
		}))
		store := newMockStore(mt)

		_, err := store.ListAll(context.Background())
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrPersistence))
	})
}

func TestDocumentDBStore_GetByID(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	defer mt.Close()

	mt.Run("success", func(mt *mtest.T) {
		id := primitive.NewObjectID()
		createdAt := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, namespace(mt), mtest.FirstBatch,
			objectDoc(id, "found", createdAt)))
		store := newMockStore(mt)

		object, err := store.GetByID(context.Background(), id.Hex())
		require.NoError(t, err)
		assert.Equal(t, &StoredObject{
			ID:         id.Hex(),
			Title:      "found",
			ImageURL:   "https://b.s3.r.amazonaws.com/k-found",
			StorageKey: "k-found",
			CreatedAt:  createdAt,
		}, object)
	})

	mt.Run("not found", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateCursorResponse(0, namespace(mt), mtest.FirstBatch))
		store := newMockStore(mt)

		id := primitive.NewObjectID().Hex()
		_, err := store.GetByID(context.Background(), id)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrNotFound))
		assert.Contains(t, err.Error(), id)
	})

	mt.Run("malformed id", func(mt *mtest.T) {
		store := newMockStore(mt)

		_, err := store.GetByID(context.Background(), "not-an-object-id")
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrNotFound))
		assert.Nil(t, mt.GetStartedEvent())
	})

	mt.Run("command error", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateCommandErrorResponse(mtest.CommandError{
			Code:    1,
			Message: "internal error",
		}))
		store := newMockStore(mt)

		_, err := store.GetByID(context.Background(), primitive.NewObjectID().Hex())
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrPersistence))
		assert.False(t, errors.Is(err, ErrNotFound))
		assert.False(t, errors.Is(err, mongo.ErrNoDocuments))
	})
}

func TestDocumentDBStore_DeleteByID(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	defer mt.Close()

	mt.Run("success", func(mt *mtest.T) {
		id := primitive.NewObjectID()
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{
			Key:   "value",
			Value: objectDoc(id, "gone", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
		}))
		store := newMockStore(mt)

		deleted, err := store.DeleteByID(context.Background(), id.Hex())
		require.NoError(t, err)
		assert.Equal(t, id.Hex(), deleted.ID)
		assert.Equal(t, "k-gone", deleted.StorageKey)

		started := mt.GetStartedEvent()
		require.NotNil(t, started)
		assert.Equal(t, "findAndModify", started.CommandName)
	})

	mt.Run("not found", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "value", Value: nil}))
		store := newMockStore(mt)

		_, err := store.DeleteByID(context.Background(), primitive.NewObjectID().Hex())
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrNotFound))
	})

	mt.Run("malformed id", func(mt *mtest.T) {
		store := newMockStore(mt)

		_, err := store.DeleteByID(context.Background(), "xyz")
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrNotFound))
		assert.Nil(t, mt.GetStartedEvent())
	})
}

func TestValidateNewObject(t *testing.T) {
	assert.NoError(t, validateNewObject(&NewObject{Title: "t", ImageURL: "u", StorageKey: "k"}))
	assert.Error(t, validateNewObject(&NewObject{Title: "", ImageURL: "u", StorageKey: "k"}))
}
