package blobstore

import (
	"context"
	"time"

	"github.com/vbonduro/purrfect/internal/domain"
)

// Record is the persisted form of a media item: its payload plus the fields
// needed to rebuild the display form without any metadata lookup.
type Record struct {
	ID        string
	GalleryID string
	Type      domain.MediaType
	Payload   []byte
	FileName  string
	CreatedAt time.Time
}

// BlobStore persists binary media payloads keyed by media id. It knows nothing
// about categories or galleries.
type BlobStore interface {
	// GetAll returns every stored record in insertion order.
	GetAll(ctx context.Context) ([]*Record, error)

	// Put upserts a record, silently replacing an existing one with the same id.
	Put(ctx context.Context, rec *Record) error

	// Delete removes one record. Deleting an absent id succeeds.
	Delete(ctx context.Context, id string) error

	// DeleteMany removes a batch of records as one logical operation. An empty
	// batch succeeds without touching storage.
	DeleteMany(ctx context.Context, ids []string) error

	Close() error
}
