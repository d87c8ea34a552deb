package metastore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/vbonduro/purrfect/internal/domain"
)

const (
	CategoriesKey = "pg_categories"
	GalleriesKey  = "pg_galleries"
)

// KV is the string key-value backend snapshots are written to.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Store persists whole-collection JSON snapshots of categories and galleries.
// Reads never fail: a missing, unreadable or corrupt snapshot loads as empty.
type Store struct {
	kv     KV
	logger zerolog.Logger
}

func New(kv KV, logger zerolog.Logger) *Store {
	return &Store{kv: kv, logger: logger}
}

func (s *Store) LoadCategories(ctx context.Context) []domain.Category {
	return load[domain.Category](ctx, s, CategoriesKey)
}

func (s *Store) LoadGalleries(ctx context.Context) []domain.Gallery {
	return load[domain.Gallery](ctx, s, GalleriesKey)
}

func (s *Store) SaveCategories(ctx context.Context, categories []domain.Category) error {
	return save(ctx, s, CategoriesKey, categories)
}

func (s *Store) SaveGalleries(ctx context.Context, galleries []domain.Gallery) error {
	return save(ctx, s, GalleriesKey, galleries)
}

func load[T any](ctx context.Context, s *Store, key string) []T {
	raw, ok, err := s.kv.Get(ctx, key)
	if err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("failed to read metadata snapshot, starting empty")
		return []T{}
	}
	if !ok {
		return []T{}
	}

	var items []T
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("corrupt metadata snapshot, starting empty")
		return []T{}
	}
	if items == nil {
		items = []T{}
	}
	return items
}

func save[T any](ctx context.Context, s *Store, key string, items []T) error {
	if items == nil {
		items = []T{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	if err := s.kv.Set(ctx, key, string(data)); err != nil {
		return fmt.Errorf("failed to save %s: %w", key, err)
	}
	return nil
}
