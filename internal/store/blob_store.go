package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/vbonduro/purrfect/internal/blobstore"
	"github.com/vbonduro/purrfect/internal/db"
	"github.com/vbonduro/purrfect/internal/domain"
)

var _ blobstore.BlobStore = (*BlobStore)(nil)

// BlobStore keeps media payloads in the SQLite media table. The database is
// opened on first use, not at construction.
type BlobStore struct {
	conn *blobstore.Lazy[*sql.DB]
}

func NewBlobStore(open func(ctx context.Context) (*sql.DB, error)) *BlobStore {
	return &BlobStore{conn: blobstore.NewLazy(open)}
}

// NewBlobStoreAt opens the database file at path lazily.
func NewBlobStoreAt(path string) *BlobStore {
	return NewBlobStore(func(context.Context) (*sql.DB, error) {
		return db.Open(path)
	})
}

func (s *BlobStore) GetAll(ctx context.Context) ([]*blobstore.Record, error) {
	conn, err := s.conn.Get(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := conn.QueryContext(ctx, `
		SELECT id, gallery_id, type, file_name, created_at, payload FROM media ORDER BY seq ASC
	`)
	if err != nil {
		return nil, blobstore.ReadError("get all", fmt.Errorf("failed to list media: %w", err))
	}
	defer rows.Close()

	var records []*blobstore.Record
	for rows.Next() {
		var (
			rec       blobstore.Record
			mediaType string
			createdMs int64
		)
		if err := rows.Scan(&rec.ID, &rec.GalleryID, &mediaType, &rec.FileName, &createdMs, &rec.Payload); err != nil {
			return nil, blobstore.ReadError("get all", fmt.Errorf("failed to scan media: %w", err))
		}
		rec.Type = domain.MediaType(mediaType)
		rec.CreatedAt = time.UnixMilli(createdMs).UTC()
		records = append(records, &rec)
	}

	if err := rows.Err(); err != nil {
		return nil, blobstore.ReadError("get all", fmt.Errorf("error iterating media: %w", err))
	}

	return records, nil
}

func (s *BlobStore) Put(ctx context.Context, rec *blobstore.Record) error {
	conn, err := s.conn.Get(ctx)
	if err != nil {
		return err
	}

	payload := rec.Payload
	if payload == nil {
		payload = []byte{}
	}
	_, err = conn.ExecContext(ctx, `
		INSERT INTO media (id, gallery_id, type, file_name, created_at, payload)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			gallery_id = excluded.gallery_id,
			type = excluded.type,
			file_name = excluded.file_name,
			created_at = excluded.created_at,
			payload = excluded.payload
	`, rec.ID, rec.GalleryID, string(rec.Type), rec.FileName, rec.CreatedAt.UnixMilli(), payload)
	if err != nil {
		return blobstore.WriteError("put", rec.ID, fmt.Errorf("failed to upsert media: %w", err))
	}

	return nil
}

func (s *BlobStore) Delete(ctx context.Context, id string) error {
	conn, err := s.conn.Get(ctx)
	if err != nil {
		return err
	}

	if _, err := conn.ExecContext(ctx, `
		DELETE FROM media WHERE id = ?
	`, id); err != nil {
		return blobstore.DeleteError("delete", id, fmt.Errorf("failed to delete media: %w", err))
	}

	return nil
}

// DeleteMany removes every id in one transaction; either all rows go or none.
func (s *BlobStore) DeleteMany(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	conn, err := s.conn.Get(ctx)
	if err != nil {
		return err
	}

	err = db.RunInTx(ctx, conn, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `DELETE FROM media WHERE id = ?`)
		if err != nil {
			return fmt.Errorf("failed to prepare delete: %w", err)
		}
		defer stmt.Close()

		for _, id := range ids {
			if _, err := stmt.ExecContext(ctx, id); err != nil {
				return fmt.Errorf("failed to delete media %s: %w", id, err)
			}
		}
		return nil
	})
	if err != nil {
		return blobstore.DeleteError("delete many", "", err)
	}

	return nil
}

func (s *BlobStore) Close() error {
	return s.conn.Close(func(conn *sql.DB) error { return conn.Close() })
}
