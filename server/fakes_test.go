package server

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// memoryRecordStore is an in-memory RecordStore with a strictly increasing clock
type memoryRecordStore struct {
	mu        sync.Mutex
	objects   map[string]*StoredObject
	clock     time.Time
	insertErr error
	listErr   error
	inserts   int
}

func newMemoryRecordStore() *memoryRecordStore {
	return &memoryRecordStore{
		objects: make(map[string]*StoredObject),
		clock:   time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (m *memoryRecordStore) Insert(ctx context.Context, object *NewObject) (*StoredObject, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.inserts++
	if m.insertErr != nil {
		return nil, newError(ErrPersistence, m.insertErr, "failed to insert record")
	}
	if err := validateNewObject(object); err != nil {
		return nil, newError(ErrPersistence, err, "invalid record")
	}

	m.clock = m.clock.Add(time.Millisecond)
	created := &StoredObject{
		ID:          primitive.NewObjectID().Hex(),
		Title:       object.Title,
		Description: object.Description,
		ImageURL:    object.ImageURL,
		StorageKey:  object.StorageKey,
		CreatedAt:   m.clock,
	}
	stored := *created
	m.objects[created.ID] = &stored
	return created, nil
}

func (m *memoryRecordStore) ListAll(ctx context.Context) ([]*StoredObject, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.listErr != nil {
		return nil, newError(ErrPersistence, m.listErr, "failed to list records")
	}

	objects := make([]*StoredObject, 0, len(m.objects))
	for _, object := range m.objects {
		copied := *object
		objects = append(objects, &copied)
	}
	sort.Slice(objects, func(i, j int) bool {
		return objects[i].CreatedAt.After(objects[j].CreatedAt)
	})
	return objects, nil
}

func (m *memoryRecordStore) GetByID(ctx context.Context, id string) (*StoredObject, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	object, ok := m.objects[id]
	if !ok {
		return nil, notFound(id)
	}
	copied := *object
	return &copied, nil
}

func (m *memoryRecordStore) DeleteByID(ctx context.Context, id string) (*StoredObject, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	object, ok := m.objects[id]
	if !ok {
		return nil, notFound(id)
	}
	delete(m.objects, id)
	return object, nil
}

func (m *memoryRecordStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}

// fakeBlobStore records uploads and deletes in memory
type fakeBlobStore struct {
	mu        sync.Mutex
	bucketURL string
	blobs     map[string][]byte
	uploads   int
	deletes   []string
	uploadErr error
	deleteErr error
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{
		bucketURL: "https://test-bucket.s3.us-east-1.amazonaws.com",
		blobs:     make(map[string][]byte),
	}
}

func (f *fakeBlobStore) Upload(ctx context.Context, data []byte, contentType, filename string) (*UploadResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.uploads++
	if f.uploadErr != nil {
		return nil, f.uploadErr
	}
	key := fmt.Sprintf("%d-%s", f.uploads, filename)
	f.blobs[key] = append([]byte(nil), data...)
	return &UploadResult{URL: f.bucketURL + "/" + key, Key: key}, nil
}

func (f *fakeBlobStore) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.deletes = append(f.deletes, key)
	if f.deleteErr != nil {
		return f.deleteErr
	}
	delete(f.blobs, key)
	return nil
}

func (f *fakeBlobStore) has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.blobs[key]
	return ok
}

func (f *fakeBlobStore) uploadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.uploads
}

// testLogger discards output
func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}
