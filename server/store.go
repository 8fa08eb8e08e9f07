package server

import (
	"context"
	"time"
)

// StoredObject is a titled record backed by an uploaded image
type StoredObject struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	ImageURL    string    `json:"imageUrl"`
	StorageKey  string    `json:"storageKey"`
	CreatedAt   time.Time `json:"createdAt"`
}

// NewObject holds the fields of a StoredObject that are known before insert
type NewObject struct {
	Title       string
	Description string
	ImageURL    string
	StorageKey  string
}

// RecordStore defines the persistence operations over stored objects.
//
// GetByID and DeleteByID fail with ErrNotFound when no record matches the
// id or the id is not a valid identifier. Connectivity and constraint
// failures are reported as ErrPersistence.
type RecordStore interface {
	// Insert assigns the id and creation time and persists the record
	Insert(ctx context.Context, object *NewObject) (*StoredObject, error)

	// ListAll returns every record, newest first
	ListAll(ctx context.Context) ([]*StoredObject, error)

	// GetByID returns a single record
	GetByID(ctx context.Context, id string) (*StoredObject, error)

	// DeleteByID removes a record and returns what was removed
	DeleteByID(ctx context.Context, id string) (*StoredObject, error)
}

// DeleteResult is returned once an object's record has been deleted
type DeleteResult struct {
	Deleted bool `json:"deleted"`
}
