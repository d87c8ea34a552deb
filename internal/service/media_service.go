package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/vbonduro/purrfect/internal/blobstore"
	"github.com/vbonduro/purrfect/internal/displayref"
	"github.com/vbonduro/purrfect/internal/domain"
	"golang.org/x/sync/errgroup"
)

var (
	ErrGalleryNotFound  = errors.New("gallery not found")
	ErrCategoryNotFound = errors.New("category not found")
	ErrInvalidMediaType = errors.New("media type must be PHOTO or VIDEO")
	ErrClosed           = errors.New("media store closed")
	// ErrNoGalleries stops an orphan sweep that would treat every stored
	// record as an orphan because no gallery metadata is loaded.
	ErrNoGalleries = errors.New("no galleries loaded")
)

// metadataRepository is the subset of metastore.Store that MediaService requires.
type metadataRepository interface {
	LoadCategories(ctx context.Context) []domain.Category
	LoadGalleries(ctx context.Context) []domain.Gallery
	SaveCategories(ctx context.Context, categories []domain.Category) error
	SaveGalleries(ctx context.Context, galleries []domain.Gallery) error
}

// Snapshot is a point-in-time copy of the store. Version increases with every
// published change, so a subscriber can drop snapshots older than one it has
// already seen.
type Snapshot struct {
	Categories []domain.Category  `json:"categories"`
	Galleries  []domain.Gallery   `json:"galleries"`
	Media      []domain.MediaItem `json:"media"`
	Ready      bool               `json:"ready"`
	Version    uint64             `json:"version"`
}

type Option func(*MediaService)

// WithRetainPayloads keeps each item's payload on its display form.
func WithRetainPayloads(retain bool) Option {
	return func(s *MediaService) { s.retainPayloads = retain }
}

// MediaService owns the category, gallery and media collections. Every
// mutation builds new slices and swaps them in under mu; blob store calls
// happen outside the lock.
type MediaService struct {
	meta   metadataRepository
	blobs  blobstore.BlobStore
	refs   *displayref.Registry
	logger zerolog.Logger

	retainPayloads bool

	mu         sync.Mutex
	categories []domain.Category
	galleries  []domain.Gallery
	media      []domain.MediaItem
	ready      bool
	closed     bool
	version    uint64

	subsMu  sync.Mutex
	subs    map[int]func(Snapshot)
	nextSub int
}

func NewMediaService(
	meta metadataRepository,
	blobs blobstore.BlobStore,
	refs *displayref.Registry,
	logger zerolog.Logger,
	opts ...Option,
) *MediaService {
	s := &MediaService{
		meta:       meta,
		blobs:      blobs,
		refs:       refs,
		logger:     logger,
		categories: []domain.Category{},
		galleries:  []domain.Gallery{},
		media:      []domain.MediaItem{},
		subs:       make(map[int]func(Snapshot)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

// Load reads the metadata snapshot and every stored blob concurrently, then
// mints one display reference per record. The service is Ready only once both
// reads succeed. A blob read failure leaves the metadata in place and Ready
// false.
func (s *MediaService) Load(ctx context.Context) error {
	var (
		categories []domain.Category
		galleries  []domain.Gallery
		records    []*blobstore.Record
		g          errgroup.Group
	)
	g.Go(func() error {
		categories = s.meta.LoadCategories(ctx)
		galleries = s.meta.LoadGalleries(ctx)
		return nil
	})
	g.Go(func() error {
		recs, err := s.blobs.GetAll(ctx)
		if err != nil {
			return err
		}
		records = recs
		return nil
	})
	loadErr := g.Wait()

	s.mu.Lock()
	s.categories = categories
	s.galleries = galleries

	if loadErr != nil {
		s.ready = false
		snap := s.commitLocked()
		s.mu.Unlock()
		s.publish(snap)
		s.logger.Error().Err(loadErr).Msg("failed to load media")
		return fmt.Errorf("failed to load media: %w", loadErr)
	}

	if revoked := s.refs.RevokeAll(); revoked > 0 {
		s.logger.Debug().Int("revoked", revoked).Msg("revoked display references before reload")
	}

	live := galleryIDs(galleries)
	media := make([]domain.MediaItem, 0, len(records))
	skipped := 0
	for _, rec := range records {
		if _, ok := live[rec.GalleryID]; !ok {
			skipped++
			continue
		}
		ref, err := s.refs.Mint(rec.ID, rec.Payload)
		if err != nil {
			s.logger.Warn().Err(err).Str("media_id", rec.ID).Msg("skipping media record")
			continue
		}
		media = append(media, s.displayForm(rec, ref))
	}
	s.media = media
	s.ready = true
	s.closed = false
	snap := s.commitLocked()
	s.mu.Unlock()

	if skipped > 0 {
		s.logger.Warn().Int("orphans", skipped).Msg("media records reference unknown galleries")
	}
	s.logger.Info().
		Int("categories", len(categories)).
		Int("galleries", len(galleries)).
		Int("media", len(media)).
		Msg("media store loaded")
	s.publish(snap)
	return nil
}

// Close revokes every outstanding display reference and reports how many it
// revoked. AddMedia is rejected with ErrClosed until the next Load. Calling
// Close again revokes only references minted since.
func (s *MediaService) Close() int {
	s.mu.Lock()
	wasClosed := s.closed
	s.closed = true
	n := s.refs.RevokeAll()
	if wasClosed && n == 0 {
		s.mu.Unlock()
		return 0
	}
	s.media = []domain.MediaItem{}
	s.ready = false
	snap := s.commitLocked()
	s.mu.Unlock()

	s.logger.Info().Int("revoked", n).Msg("media store closed")
	s.publish(snap)
	return n
}

func (s *MediaService) AddCategory(ctx context.Context, name, description, coverImage string) *domain.Category {
	cat := domain.Category{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		CoverImage:  coverImage,
		CreatedAt:   now(),
	}

	s.mu.Lock()
	s.categories = append(slices.Clone(s.categories), cat)
	s.saveCategoriesLocked(ctx)
	snap := s.commitLocked()
	s.mu.Unlock()

	s.publish(snap)
	return &cat
}

// UpdateCategory replaces the category's fields. An empty coverImage keeps the
// current cover. It reports false for an unknown id.
func (s *MediaService) UpdateCategory(ctx context.Context, id, name, description, coverImage string) bool {
	s.mu.Lock()
	idx := slices.IndexFunc(s.categories, func(c domain.Category) bool { return c.ID == id })
	if idx < 0 {
		s.mu.Unlock()
		return false
	}

	next := slices.Clone(s.categories)
	next[idx].Name = name
	next[idx].Description = description
	if coverImage != "" {
		next[idx].CoverImage = coverImage
	}
	s.categories = next
	s.saveCategoriesLocked(ctx)
	snap := s.commitLocked()
	s.mu.Unlock()

	s.publish(snap)
	return true
}

// DeleteCategory removes the category with every gallery and media item under
// it. Metadata and display references go first; the payloads are then removed
// with one batch delete whose failure is returned but not rolled back.
func (s *MediaService) DeleteCategory(ctx context.Context, id string) error {
	s.mu.Lock()
	idx := slices.IndexFunc(s.categories, func(c domain.Category) bool { return c.ID == id })
	if idx < 0 {
		s.mu.Unlock()
		return nil
	}

	doomed := make(map[string]struct{})
	for _, g := range s.galleries {
		if g.CategoryID == id {
			doomed[g.ID] = struct{}{}
		}
	}

	s.categories = slices.Delete(slices.Clone(s.categories), idx, idx+1)
	s.galleries = slices.DeleteFunc(slices.Clone(s.galleries), func(g domain.Gallery) bool {
		_, ok := doomed[g.ID]
		return ok
	})
	mediaIDs := s.removeMediaLocked(func(m domain.MediaItem) bool {
		_, ok := doomed[m.GalleryID]
		return ok
	})
	s.saveCategoriesLocked(ctx)
	s.saveGalleriesLocked(ctx)
	snap := s.commitLocked()
	s.mu.Unlock()

	s.publish(snap)

	if err := s.blobs.DeleteMany(ctx, mediaIDs); err != nil {
		s.logger.Error().Err(err).Str("category_id", id).Int("media", len(mediaIDs)).Msg("failed to delete category media")
		return fmt.Errorf("failed to delete media of category %s: %w", id, err)
	}
	s.logger.Info().Str("category_id", id).Int("galleries", len(doomed)).Int("media", len(mediaIDs)).Msg("category deleted")
	return nil
}

// AddGallery creates a gallery under an existing category.
func (s *MediaService) AddGallery(ctx context.Context, categoryID, title, description, coverImage string) (*domain.Gallery, error) {
	gal := domain.Gallery{
		ID:          uuid.NewString(),
		CategoryID:  categoryID,
		Title:       title,
		Description: description,
		CoverImage:  coverImage,
		CreatedAt:   now(),
	}

	s.mu.Lock()
	if !slices.ContainsFunc(s.categories, func(c domain.Category) bool { return c.ID == categoryID }) {
		s.mu.Unlock()
		return nil, fmt.Errorf("failed to add gallery: %w", ErrCategoryNotFound)
	}
	s.galleries = append(slices.Clone(s.galleries), gal)
	s.saveGalleriesLocked(ctx)
	snap := s.commitLocked()
	s.mu.Unlock()

	s.publish(snap)
	return &gal, nil
}

// UpdateGallery replaces title and description as given. An empty coverImage
// keeps the current cover. It reports false for an unknown id.
func (s *MediaService) UpdateGallery(ctx context.Context, id, title, description, coverImage string) bool {
	s.mu.Lock()
	idx := slices.IndexFunc(s.galleries, func(g domain.Gallery) bool { return g.ID == id })
	if idx < 0 {
		s.mu.Unlock()
		return false
	}

	next := slices.Clone(s.galleries)
	next[idx].Title = title
	next[idx].Description = description
	if coverImage != "" {
		next[idx].CoverImage = coverImage
	}
	s.galleries = next
	s.saveGalleriesLocked(ctx)
	snap := s.commitLocked()
	s.mu.Unlock()

	s.publish(snap)
	return true
}

func (s *MediaService) DeleteGallery(ctx context.Context, id string) error {
	s.mu.Lock()
	idx := slices.IndexFunc(s.galleries, func(g domain.Gallery) bool { return g.ID == id })
	if idx < 0 {
		s.mu.Unlock()
		return nil
	}

	s.galleries = slices.Delete(slices.Clone(s.galleries), idx, idx+1)
	mediaIDs := s.removeMediaLocked(func(m domain.MediaItem) bool { return m.GalleryID == id })
	s.saveGalleriesLocked(ctx)
	snap := s.commitLocked()
	s.mu.Unlock()

	s.publish(snap)

	if err := s.blobs.DeleteMany(ctx, mediaIDs); err != nil {
		s.logger.Error().Err(err).Str("gallery_id", id).Int("media", len(mediaIDs)).Msg("failed to delete gallery media")
		return fmt.Errorf("failed to delete media of gallery %s: %w", id, err)
	}
	s.logger.Info().Str("gallery_id", id).Int("media", len(mediaIDs)).Msg("gallery deleted")
	return nil
}

// AddMedia stores the record and, only once the write succeeds, mints its
// display reference and appends the display form. A record whose id is
// already live replaces the existing item in place.
func (s *MediaService) AddMedia(ctx context.Context, rec *blobstore.Record) (*domain.MediaItem, error) {
	r := *rec
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now()
	}
	if !r.Type.Valid() {
		return nil, fmt.Errorf("failed to add media %s: %w", r.ID, ErrInvalidMediaType)
	}
	if s.isClosed() {
		return nil, fmt.Errorf("failed to add media %s: %w", r.ID, ErrClosed)
	}
	if !s.hasGallery(r.GalleryID) {
		return nil, fmt.Errorf("failed to add media %s: %w", r.ID, ErrGalleryNotFound)
	}

	if err := s.blobs.Put(ctx, &r); err != nil {
		s.logger.Error().Err(err).Str("media_id", r.ID).Str("gallery_id", r.GalleryID).Msg("failed to store media")
		return nil, fmt.Errorf("failed to store media %s: %w", r.ID, err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		// The payload stays stored and is shown again by the next Load.
		return nil, fmt.Errorf("failed to add media %s: %w", r.ID, ErrClosed)
	}
	if !slices.ContainsFunc(s.galleries, func(g domain.Gallery) bool { return g.ID == r.GalleryID }) {
		s.mu.Unlock()
		// The gallery went away while the payload was being written.
		if err := s.blobs.Delete(ctx, r.ID); err != nil {
			s.logger.Error().Err(err).Str("media_id", r.ID).Msg("failed to delete media of removed gallery")
		}
		return nil, fmt.Errorf("failed to add media %s: %w", r.ID, ErrGalleryNotFound)
	}

	idx := slices.IndexFunc(s.media, func(m domain.MediaItem) bool { return m.ID == r.ID })
	if idx >= 0 {
		s.refs.RevokeID(r.ID)
	}
	ref, err := s.refs.Mint(r.ID, r.Payload)
	if err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("failed to mint display reference for %s: %w", r.ID, err)
	}

	item := s.displayForm(&r, ref)
	next := slices.Clone(s.media)
	if idx >= 0 {
		next[idx] = item
	} else {
		next = append(next, item)
	}
	s.media = next
	snap := s.commitLocked()
	s.mu.Unlock()

	s.logger.Debug().Str("media_id", r.ID).Str("gallery_id", r.GalleryID).Int("bytes", len(r.Payload)).Msg("media added")
	s.publish(snap)
	return &item, nil
}

// DeleteMedia revokes the item's reference, drops it from the collection and
// then deletes its payload. Deleting an unknown id is not an error.
func (s *MediaService) DeleteMedia(ctx context.Context, id string) error {
	s.mu.Lock()
	removed := s.removeMediaLocked(func(m domain.MediaItem) bool { return m.ID == id })
	var snap Snapshot
	if len(removed) > 0 {
		snap = s.commitLocked()
	}
	s.mu.Unlock()

	if len(removed) > 0 {
		s.publish(snap)
	}

	if err := s.blobs.Delete(ctx, id); err != nil {
		s.logger.Error().Err(err).Str("media_id", id).Msg("failed to delete media payload")
		return fmt.Errorf("failed to delete media %s: %w", id, err)
	}
	return nil
}

// SweepOrphans deletes stored records whose gallery no longer exists, in one
// batch, and reports how many it removed.
func (s *MediaService) SweepOrphans(ctx context.Context) (int, error) {
	records, err := s.blobs.GetAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list media: %w", err)
	}

	s.mu.Lock()
	if len(s.galleries) == 0 && len(records) > 0 {
		s.mu.Unlock()
		return 0, ErrNoGalleries
	}
	live := galleryIDs(s.galleries)
	s.mu.Unlock()

	var orphans []string
	for _, rec := range records {
		if _, ok := live[rec.GalleryID]; !ok {
			orphans = append(orphans, rec.ID)
		}
	}
	if len(orphans) == 0 {
		return 0, nil
	}

	if err := s.blobs.DeleteMany(ctx, orphans); err != nil {
		return 0, fmt.Errorf("failed to delete orphaned media: %w", err)
	}
	s.logger.Info().Int("orphans", len(orphans)).Msg("orphaned media removed")
	return len(orphans), nil
}

// Subscribe registers fn to receive a snapshot after every change. The
// returned func unregisters it.
func (s *MediaService) Subscribe(fn func(Snapshot)) func() {
	s.subsMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subsMu.Unlock()

	return func() {
		s.subsMu.Lock()
		delete(s.subs, id)
		s.subsMu.Unlock()
	}
}

func (s *MediaService) publish(snap Snapshot) {
	s.subsMu.Lock()
	fns := make([]func(Snapshot), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subsMu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}

func (s *MediaService) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *MediaService) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

func (s *MediaService) Categories() []domain.Category {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.categories)
}

func (s *MediaService) Galleries() []domain.Gallery {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.galleries)
}

func (s *MediaService) Media() []domain.MediaItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.media)
}

func (s *MediaService) Category(id string) (domain.Category, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := slices.IndexFunc(s.categories, func(c domain.Category) bool { return c.ID == id })
	if idx < 0 {
		return domain.Category{}, false
	}
	return s.categories[idx], true
}

func (s *MediaService) Gallery(id string) (domain.Gallery, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := slices.IndexFunc(s.galleries, func(g domain.Gallery) bool { return g.ID == id })
	if idx < 0 {
		return domain.Gallery{}, false
	}
	return s.galleries[idx], true
}

func (s *MediaService) GalleriesIn(categoryID string) []domain.Gallery {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []domain.Gallery{}
	for _, g := range s.galleries {
		if g.CategoryID == categoryID {
			out = append(out, g)
		}
	}
	return out
}

func (s *MediaService) MediaIn(galleryID string) []domain.MediaItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []domain.MediaItem{}
	for _, m := range s.media {
		if m.GalleryID == galleryID {
			out = append(out, m)
		}
	}
	return out
}

// Resolve returns the payload and MIME type behind a live display reference.
func (s *MediaService) Resolve(ref string) ([]byte, string, bool) {
	return s.refs.Resolve(displayref.Ref(ref))
}

func (s *MediaService) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *MediaService) hasGallery(id string) bool {
	_, ok := s.Gallery(id)
	return ok
}

// removeMediaLocked drops every item matching del, revokes their references
// and returns their ids.
func (s *MediaService) removeMediaLocked(del func(domain.MediaItem) bool) []string {
	ids := []string{}
	keep := make([]domain.MediaItem, 0, len(s.media))
	for _, m := range s.media {
		if del(m) {
			s.refs.Revoke(displayref.Ref(m.DisplayRef))
			ids = append(ids, m.ID)
			continue
		}
		keep = append(keep, m)
	}
	if len(ids) > 0 {
		s.media = keep
	}
	return ids
}

func (s *MediaService) saveCategoriesLocked(ctx context.Context) {
	if err := s.meta.SaveCategories(ctx, s.categories); err != nil {
		s.logger.Error().Err(err).Msg("failed to persist categories")
	}
}

func (s *MediaService) saveGalleriesLocked(ctx context.Context) {
	if err := s.meta.SaveGalleries(ctx, s.galleries); err != nil {
		s.logger.Error().Err(err).Msg("failed to persist galleries")
	}
}

func (s *MediaService) commitLocked() Snapshot {
	s.version++
	return s.snapshotLocked()
}

func (s *MediaService) snapshotLocked() Snapshot {
	return Snapshot{
		Categories: slices.Clone(s.categories),
		Galleries:  slices.Clone(s.galleries),
		Media:      slices.Clone(s.media),
		Ready:      s.ready,
		Version:    s.version,
	}
}

func (s *MediaService) displayForm(rec *blobstore.Record, ref displayref.Ref) domain.MediaItem {
	item := domain.MediaItem{
		ID:         rec.ID,
		GalleryID:  rec.GalleryID,
		Type:       rec.Type,
		FileName:   rec.FileName,
		CreatedAt:  rec.CreatedAt,
		DisplayRef: ref.String(),
	}
	if s.retainPayloads {
		item.Payload = rec.Payload
	}
	return item
}

func galleryIDs(galleries []domain.Gallery) map[string]struct{} {
	ids := make(map[string]struct{}, len(galleries))
	for _, g := range galleries {
		ids[g.ID] = struct{}{}
	}
	return ids
}
