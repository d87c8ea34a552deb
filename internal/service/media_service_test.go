package service

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vbonduro/purrfect/internal/blobstore"
	"github.com/vbonduro/purrfect/internal/db"
	"github.com/vbonduro/purrfect/internal/displayref"
	"github.com/vbonduro/purrfect/internal/domain"
	"github.com/vbonduro/purrfect/internal/metastore"
	"github.com/vbonduro/purrfect/internal/store"
)

// spyBlobStore records calls to a real blob store and can inject failures.
type spyBlobStore struct {
	blobstore.BlobStore

	mu             sync.Mutex
	deleteManyCall [][]string
	deleteCalls    []string
	putErr         error
	deleteErr      error
	deleteManyErr  error
	getAllErr      error
}

func (s *spyBlobStore) GetAll(ctx context.Context) ([]*blobstore.Record, error) {
	if s.getAllErr != nil {
		return nil, s.getAllErr
	}
	return s.BlobStore.GetAll(ctx)
}

func (s *spyBlobStore) Put(ctx context.Context, rec *blobstore.Record) error {
	if s.putErr != nil {
		return s.putErr
	}
	return s.BlobStore.Put(ctx, rec)
}

func (s *spyBlobStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	s.deleteCalls = append(s.deleteCalls, id)
	s.mu.Unlock()
	if s.deleteErr != nil {
		return s.deleteErr
	}
	return s.BlobStore.Delete(ctx, id)
}

func (s *spyBlobStore) DeleteMany(ctx context.Context, ids []string) error {
	s.mu.Lock()
	s.deleteManyCall = append(s.deleteManyCall, append([]string(nil), ids...))
	s.mu.Unlock()
	if s.deleteManyErr != nil {
		return s.deleteManyErr
	}
	return s.BlobStore.DeleteMany(ctx, ids)
}

// stubMeta is an in-memory metadata repository.
type stubMeta struct {
	categories []domain.Category
	galleries  []domain.Gallery
	saveErr    error
	saves      int
}

func (m *stubMeta) LoadCategories(context.Context) []domain.Category { return m.categories }
func (m *stubMeta) LoadGalleries(context.Context) []domain.Gallery   { return m.galleries }

func (m *stubMeta) SaveCategories(_ context.Context, c []domain.Category) error {
	m.saves++
	if m.saveErr != nil {
		return m.saveErr
	}
	m.categories = c
	return nil
}

func (m *stubMeta) SaveGalleries(_ context.Context, g []domain.Gallery) error {
	m.saves++
	if m.saveErr != nil {
		return m.saveErr
	}
	m.galleries = g
	return nil
}

type fixture struct {
	d     *sql.DB
	meta  *metastore.Store
	blobs *spyBlobStore
	refs  *displayref.Registry
	svc   *MediaService
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	d, err := db.OpenForTesting()
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })

	f := &fixture{d: d}
	f.meta = metastore.New(store.NewKVStore(d), zerolog.Nop())
	f.blobs = &spyBlobStore{BlobStore: store.NewBlobStore(func(context.Context) (*sql.DB, error) { return d, nil })}
	f.refs = displayref.NewRegistry()
	f.svc = NewMediaService(f.meta, f.blobs, f.refs, zerolog.Nop(), opts...)
	require.NoError(t, f.svc.Load(context.Background()))
	return f
}

// reopen builds a fresh service over the same storage, as a restart would.
func (f *fixture) reopen(t *testing.T) *MediaService {
	t.Helper()
	svc := NewMediaService(f.meta, f.blobs, displayref.NewRegistry(), zerolog.Nop())
	require.NoError(t, svc.Load(context.Background()))
	return svc
}

func photo(galleryID, fileName string, payload []byte) *blobstore.Record {
	return &blobstore.Record{
		GalleryID: galleryID,
		Type:      domain.MediaPhoto,
		FileName:  fileName,
		Payload:   payload,
	}
}

func TestMediaServiceLoadEmpty(t *testing.T) {
	f := newFixture(t)

	snap := f.svc.Snapshot()
	assert.True(t, snap.Ready)
	assert.Empty(t, snap.Categories)
	assert.Empty(t, snap.Galleries)
	assert.Empty(t, snap.Media)
}

func TestMediaServiceAddCategory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cat := f.svc.AddCategory(ctx, "Cats", "feline friends", "")
	require.NotNil(t, cat)
	assert.NotEmpty(t, cat.ID)
	assert.Equal(t, "Cats", cat.Name)
	assert.False(t, cat.CreatedAt.IsZero())

	assert.Equal(t, []domain.Category{*cat}, f.svc.Categories())
	assert.Equal(t, []domain.Category{*cat}, f.meta.LoadCategories(ctx))
}

func TestMediaServiceUpdateCategoryKeepsCover(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cat := f.svc.AddCategory(ctx, "Cats", "", "X")
	require.True(t, f.svc.UpdateCategory(ctx, cat.ID, "Kittens", "small cats", ""))

	got, ok := f.svc.Category(cat.ID)
	require.True(t, ok)
	assert.Equal(t, "Kittens", got.Name)
	assert.Equal(t, "small cats", got.Description)
	assert.Equal(t, "X", got.CoverImage)

	require.True(t, f.svc.UpdateCategory(ctx, cat.ID, "Kittens", "small cats", "Y"))
	got, _ = f.svc.Category(cat.ID)
	assert.Equal(t, "Y", got.CoverImage)
}

func TestMediaServiceUpdateUnknownIsNoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.svc.AddCategory(ctx, "Cats", "", "")
	before := f.svc.Snapshot()

	assert.False(t, f.svc.UpdateCategory(ctx, "nope", "x", "y", "z"))
	assert.False(t, f.svc.UpdateGallery(ctx, "nope", "x", "y", "z"))

	after := f.svc.Snapshot()
	assert.Equal(t, before, after)
}

func TestMediaServiceUpdateGallery(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cat := f.svc.AddCategory(ctx, "Cats", "", "")
	gal, err := f.svc.AddGallery(ctx, cat.ID, "Summer", "beach days", "cover")
	require.NoError(t, err)

	require.True(t, f.svc.UpdateGallery(ctx, gal.ID, "Summer 2024", "", ""))

	got, ok := f.svc.Gallery(gal.ID)
	require.True(t, ok)
	assert.Equal(t, "Summer 2024", got.Title)
	assert.Empty(t, got.Description)
	assert.Equal(t, "cover", got.CoverImage)
}

func TestMediaServiceAddGalleryUnknownCategory(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.AddGallery(context.Background(), "missing", "Summer", "", "")
	assert.ErrorIs(t, err, ErrCategoryNotFound)
	assert.Empty(t, f.svc.Galleries())
}

func TestMediaServiceDeleteCategoryCascades(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cats := f.svc.AddCategory(ctx, "Cats", "", "")
	dogs := f.svc.AddCategory(ctx, "Dogs", "", "")
	summer, err := f.svc.AddGallery(ctx, cats.ID, "Summer", "", "")
	require.NoError(t, err)
	winter, err := f.svc.AddGallery(ctx, cats.ID, "Winter", "", "")
	require.NoError(t, err)
	park, err := f.svc.AddGallery(ctx, dogs.ID, "Park", "", "")
	require.NoError(t, err)

	a, err := f.svc.AddMedia(ctx, photo(summer.ID, "a.jpg", []byte("a")))
	require.NoError(t, err)
	b, err := f.svc.AddMedia(ctx, photo(winter.ID, "b.jpg", []byte("b")))
	require.NoError(t, err)
	c, err := f.svc.AddMedia(ctx, photo(park.ID, "c.jpg", []byte("c")))
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteCategory(ctx, cats.ID))

	assert.Equal(t, []domain.Category{*dogs}, f.svc.Categories())
	assert.Equal(t, []domain.Gallery{*park}, f.svc.Galleries())
	assert.Empty(t, f.svc.GalleriesIn(cats.ID))
	media := f.svc.Media()
	require.Len(t, media, 1)
	assert.Equal(t, c.ID, media[0].ID)

	require.Len(t, f.blobs.deleteManyCall, 1)
	assert.ElementsMatch(t, []string{a.ID, b.ID}, f.blobs.deleteManyCall[0])

	_, _, ok := f.svc.Resolve(a.DisplayRef)
	assert.False(t, ok)
	_, _, ok = f.svc.Resolve(b.DisplayRef)
	assert.False(t, ok)
	_, _, ok = f.svc.Resolve(c.DisplayRef)
	assert.True(t, ok)

	recs, err := f.blobs.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, c.ID, recs[0].ID)
}

func TestMediaServiceCatsSummerScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cats := f.svc.AddCategory(ctx, "Cats", "", "")
	summer, err := f.svc.AddGallery(ctx, cats.ID, "Summer", "", "")
	require.NoError(t, err)
	item, err := f.svc.AddMedia(ctx, photo(summer.ID, "a.jpg", []byte("jpeg bytes")))
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteCategory(ctx, cats.ID))

	snap := f.svc.Snapshot()
	assert.Empty(t, snap.Categories)
	assert.Empty(t, snap.Galleries)
	assert.Empty(t, snap.Media)
	assert.Zero(t, f.refs.Outstanding())
	assert.Equal(t, [][]string{{item.ID}}, f.blobs.deleteManyCall)
}

func TestMediaServiceDeleteCategoryBlobFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cats := f.svc.AddCategory(ctx, "Cats", "", "")
	summer, err := f.svc.AddGallery(ctx, cats.ID, "Summer", "", "")
	require.NoError(t, err)
	_, err = f.svc.AddMedia(ctx, photo(summer.ID, "a.jpg", []byte("a")))
	require.NoError(t, err)

	f.blobs.deleteManyErr = blobstore.DeleteError("delete many", "", errors.New("locked"))

	err = f.svc.DeleteCategory(ctx, cats.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, blobstore.ErrDelete)

	// No rollback: metadata and references stay removed.
	snap := f.svc.Snapshot()
	assert.Empty(t, snap.Categories)
	assert.Empty(t, snap.Galleries)
	assert.Empty(t, snap.Media)
	assert.Zero(t, f.refs.Outstanding())
}

func TestMediaServiceDeleteUnknownCategory(t *testing.T) {
	f := newFixture(t)

	assert.NoError(t, f.svc.DeleteCategory(context.Background(), "missing"))
	assert.NoError(t, f.svc.DeleteGallery(context.Background(), "missing"))
	assert.Empty(t, f.blobs.deleteManyCall)
}

func TestMediaServiceDeleteGalleryCascadesToMediaOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cats := f.svc.AddCategory(ctx, "Cats", "", "")
	summer, err := f.svc.AddGallery(ctx, cats.ID, "Summer", "", "")
	require.NoError(t, err)
	winter, err := f.svc.AddGallery(ctx, cats.ID, "Winter", "", "")
	require.NoError(t, err)
	a, err := f.svc.AddMedia(ctx, photo(summer.ID, "a.jpg", []byte("a")))
	require.NoError(t, err)
	_, err = f.svc.AddMedia(ctx, photo(winter.ID, "b.jpg", []byte("b")))
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteGallery(ctx, summer.ID))

	assert.Len(t, f.svc.Categories(), 1)
	assert.Equal(t, []domain.Gallery{*winter}, f.svc.Galleries())
	assert.Empty(t, f.svc.MediaIn(summer.ID))
	assert.Len(t, f.svc.MediaIn(winter.ID), 1)
	assert.Equal(t, [][]string{{a.ID}}, f.blobs.deleteManyCall)
}

func TestMediaServiceDeleteEmptyGalleryIssuesEmptyBatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cats := f.svc.AddCategory(ctx, "Cats", "", "")
	summer, err := f.svc.AddGallery(ctx, cats.ID, "Summer", "", "")
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteGallery(ctx, summer.ID))
	require.Len(t, f.blobs.deleteManyCall, 1)
	assert.Empty(t, f.blobs.deleteManyCall[0])
}

func TestMediaServiceAddMediaSurvivesReload(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cats := f.svc.AddCategory(ctx, "Cats", "", "")
	summer, err := f.svc.AddGallery(ctx, cats.ID, "Summer", "", "")
	require.NoError(t, err)

	payload := []byte{0x00, 0x01, 0xfe, 0xff, 'j', 'p', 'g'}
	rec := &blobstore.Record{GalleryID: summer.ID, Type: domain.MediaVideo, FileName: "clip.mp4", Payload: payload}
	item, err := f.svc.AddMedia(ctx, rec)
	require.NoError(t, err)

	reloaded := f.reopen(t)
	media := reloaded.Media()
	require.Len(t, media, 1)
	assert.Equal(t, item.ID, media[0].ID)
	assert.Equal(t, domain.MediaVideo, media[0].Type)
	assert.Equal(t, "clip.mp4", media[0].FileName)
	assert.True(t, item.CreatedAt.Equal(media[0].CreatedAt))

	got, _, ok := reloaded.Resolve(media[0].DisplayRef)
	require.True(t, ok)
	assert.Equal(t, payload, got)
}

func TestMediaServiceAddMediaKeepsInsertionOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cats := f.svc.AddCategory(ctx, "Cats", "", "")
	summer, err := f.svc.AddGallery(ctx, cats.ID, "Summer", "", "")
	require.NoError(t, err)

	first, err := f.svc.AddMedia(ctx, photo(summer.ID, "1.jpg", []byte("1")))
	require.NoError(t, err)
	second, err := f.svc.AddMedia(ctx, photo(summer.ID, "2.jpg", []byte("2")))
	require.NoError(t, err)

	media := f.svc.MediaIn(summer.ID)
	require.Len(t, media, 2)
	assert.Equal(t, first.ID, media[0].ID)
	assert.Equal(t, second.ID, media[1].ID)

	reloaded := f.reopen(t).Media()
	require.Len(t, reloaded, 2)
	assert.Equal(t, first.ID, reloaded[0].ID)
	assert.Equal(t, second.ID, reloaded[1].ID)
}

func TestMediaServiceDisplayRefsUnique(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cats := f.svc.AddCategory(ctx, "Cats", "", "")
	summer, err := f.svc.AddGallery(ctx, cats.ID, "Summer", "", "")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := f.svc.AddMedia(ctx, photo(summer.ID, "x.jpg", []byte{byte(i)}))
		require.NoError(t, err)
	}

	seen := map[string]bool{}
	for _, m := range f.svc.Media() {
		assert.False(t, seen[m.DisplayRef], "duplicate display ref %s", m.DisplayRef)
		seen[m.DisplayRef] = true
	}
	assert.Equal(t, 5, f.refs.Outstanding())
}

func TestMediaServiceAddMediaSameIDReplacesInPlace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cats := f.svc.AddCategory(ctx, "Cats", "", "")
	summer, err := f.svc.AddGallery(ctx, cats.ID, "Summer", "", "")
	require.NoError(t, err)

	first, err := f.svc.AddMedia(ctx, &blobstore.Record{ID: "m1", GalleryID: summer.ID, Type: domain.MediaPhoto, Payload: []byte("old")})
	require.NoError(t, err)
	_, err = f.svc.AddMedia(ctx, photo(summer.ID, "other.jpg", []byte("other")))
	require.NoError(t, err)
	replaced, err := f.svc.AddMedia(ctx, &blobstore.Record{ID: "m1", GalleryID: summer.ID, Type: domain.MediaPhoto, Payload: []byte("new")})
	require.NoError(t, err)

	assert.NotEqual(t, first.DisplayRef, replaced.DisplayRef)
	_, _, ok := f.svc.Resolve(first.DisplayRef)
	assert.False(t, ok)

	media := f.svc.Media()
	require.Len(t, media, 2)
	assert.Equal(t, "m1", media[0].ID)
	assert.Equal(t, replaced.DisplayRef, media[0].DisplayRef)
	assert.Equal(t, 2, f.refs.Outstanding())

	got, _, ok := f.svc.Resolve(replaced.DisplayRef)
	require.True(t, ok)
	assert.Equal(t, []byte("new"), got)
}

func TestMediaServiceAddMediaPutFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cats := f.svc.AddCategory(ctx, "Cats", "", "")
	summer, err := f.svc.AddGallery(ctx, cats.ID, "Summer", "", "")
	require.NoError(t, err)

	f.blobs.putErr = blobstore.WriteError("put", "x", errors.New("quota exceeded"))
	_, err = f.svc.AddMedia(ctx, photo(summer.ID, "a.jpg", []byte("a")))
	assert.ErrorIs(t, err, blobstore.ErrWrite)

	assert.Empty(t, f.svc.Media())
	assert.Zero(t, f.refs.Outstanding())
}

func TestMediaServiceAddMediaValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cats := f.svc.AddCategory(ctx, "Cats", "", "")
	summer, err := f.svc.AddGallery(ctx, cats.ID, "Summer", "", "")
	require.NoError(t, err)

	_, err = f.svc.AddMedia(ctx, &blobstore.Record{GalleryID: summer.ID, Type: "AUDIO"})
	assert.ErrorIs(t, err, ErrInvalidMediaType)

	_, err = f.svc.AddMedia(ctx, photo("missing", "a.jpg", []byte("a")))
	assert.ErrorIs(t, err, ErrGalleryNotFound)

	recs, err := f.blobs.GetAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestMediaServiceRetainPayloads(t *testing.T) {
	f := newFixture(t, WithRetainPayloads(true))
	ctx := context.Background()

	cats := f.svc.AddCategory(ctx, "Cats", "", "")
	summer, err := f.svc.AddGallery(ctx, cats.ID, "Summer", "", "")
	require.NoError(t, err)

	item, err := f.svc.AddMedia(ctx, photo(summer.ID, "a.jpg", []byte("kept")))
	require.NoError(t, err)
	assert.Equal(t, []byte("kept"), item.Payload)
}

func TestMediaServiceDeleteMediaTwice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cats := f.svc.AddCategory(ctx, "Cats", "", "")
	summer, err := f.svc.AddGallery(ctx, cats.ID, "Summer", "", "")
	require.NoError(t, err)
	item, err := f.svc.AddMedia(ctx, photo(summer.ID, "a.jpg", []byte("a")))
	require.NoError(t, err)
	_, err = f.svc.AddMedia(ctx, photo(summer.ID, "b.jpg", []byte("b")))
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteMedia(ctx, item.ID))
	after := f.svc.Snapshot()

	require.NoError(t, f.svc.DeleteMedia(ctx, item.ID))
	assert.Equal(t, after, f.svc.Snapshot())
	assert.Len(t, after.Media, 1)

	_, _, ok := f.svc.Resolve(item.DisplayRef)
	assert.False(t, ok)
	assert.Equal(t, 1, f.refs.Outstanding())
}

func TestMediaServiceDeleteMediaBlobFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cats := f.svc.AddCategory(ctx, "Cats", "", "")
	summer, err := f.svc.AddGallery(ctx, cats.ID, "Summer", "", "")
	require.NoError(t, err)
	item, err := f.svc.AddMedia(ctx, photo(summer.ID, "a.jpg", []byte("a")))
	require.NoError(t, err)

	f.blobs.deleteErr = blobstore.DeleteError("delete", item.ID, errors.New("busy"))
	err = f.svc.DeleteMedia(ctx, item.ID)
	assert.ErrorIs(t, err, blobstore.ErrDelete)

	assert.Empty(t, f.svc.Media())
	assert.Zero(t, f.refs.Outstanding())
}

func TestMediaServiceMetadataSaveFailureKeepsMemoryState(t *testing.T) {
	d, err := db.OpenForTesting()
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })

	meta := &stubMeta{saveErr: errors.New("read-only")}
	blobs := store.NewBlobStore(func(context.Context) (*sql.DB, error) { return d, nil })
	svc := NewMediaService(meta, blobs, displayref.NewRegistry(), zerolog.Nop())
	require.NoError(t, svc.Load(context.Background()))

	cat := svc.AddCategory(context.Background(), "Cats", "", "")
	assert.Equal(t, []domain.Category{*cat}, svc.Categories())
	assert.Equal(t, 1, meta.saves)
}

func TestMediaServiceLoadFailureKeepsMetadata(t *testing.T) {
	d, err := db.OpenForTesting()
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })

	meta := &stubMeta{
		categories: []domain.Category{{ID: "c1", Name: "Cats"}},
		galleries:  []domain.Gallery{{ID: "g1", CategoryID: "c1", Title: "Summer"}},
	}
	blobs := &spyBlobStore{
		BlobStore: store.NewBlobStore(func(context.Context) (*sql.DB, error) { return d, nil }),
		getAllErr: blobstore.ErrStorageUnavailable,
	}
	svc := NewMediaService(meta, blobs, displayref.NewRegistry(), zerolog.Nop())

	err = svc.Load(context.Background())
	assert.ErrorIs(t, err, blobstore.ErrStorageUnavailable)

	snap := svc.Snapshot()
	assert.False(t, snap.Ready)
	assert.Len(t, snap.Categories, 1)
	assert.Len(t, snap.Galleries, 1)
	assert.Empty(t, snap.Media)

	blobs.getAllErr = nil
	require.NoError(t, svc.Load(context.Background()))
	assert.True(t, svc.Ready())
}

func TestMediaServiceReloadRevokesOldRefs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cats := f.svc.AddCategory(ctx, "Cats", "", "")
	summer, err := f.svc.AddGallery(ctx, cats.ID, "Summer", "", "")
	require.NoError(t, err)
	item, err := f.svc.AddMedia(ctx, photo(summer.ID, "a.jpg", []byte("a")))
	require.NoError(t, err)

	require.NoError(t, f.svc.Load(ctx))

	_, _, ok := f.svc.Resolve(item.DisplayRef)
	assert.False(t, ok)
	assert.Equal(t, 1, f.refs.Outstanding())
	media := f.svc.Media()
	require.Len(t, media, 1)
	assert.NotEqual(t, item.DisplayRef, media[0].DisplayRef)
}

func TestMediaServiceCloseRevokesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cats := f.svc.AddCategory(ctx, "Cats", "", "")
	summer, err := f.svc.AddGallery(ctx, cats.ID, "Summer", "", "")
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := f.svc.AddMedia(ctx, photo(summer.ID, "a.jpg", []byte{byte(i)}))
		require.NoError(t, err)
	}

	assert.Equal(t, 3, f.svc.Close())
	assert.Equal(t, 0, f.svc.Close())
	assert.Zero(t, f.refs.Outstanding())
	assert.Empty(t, f.svc.Media())
	assert.False(t, f.svc.Ready())
}

func TestMediaServiceAddMediaAfterCloseLeavesNothingOutstanding(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cats := f.svc.AddCategory(ctx, "Cats", "", "")
	summer, err := f.svc.AddGallery(ctx, cats.ID, "Summer", "", "")
	require.NoError(t, err)
	_, err = f.svc.AddMedia(ctx, photo(summer.ID, "a.jpg", []byte("a")))
	require.NoError(t, err)

	assert.Equal(t, 1, f.svc.Close())

	_, err = f.svc.AddMedia(ctx, photo(summer.ID, "b.jpg", []byte("b")))
	assert.ErrorIs(t, err, ErrClosed)
	assert.Zero(t, f.refs.Outstanding())
	assert.Empty(t, f.svc.Media())

	assert.Equal(t, 0, f.svc.Close())
	assert.Zero(t, f.refs.Outstanding())

	// Load reopens the store.
	require.NoError(t, f.svc.Load(ctx))
	_, err = f.svc.AddMedia(ctx, photo(summer.ID, "c.jpg", []byte("c")))
	require.NoError(t, err)
	assert.Equal(t, 2, f.svc.Close())
	assert.Zero(t, f.refs.Outstanding())
}

func TestMediaServiceCloseRevokesRefsMintedAfterClose(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, 0, f.svc.Close())

	// A reference minted directly in the registry after Close is still
	// swept by the next Close.
	_, err := f.refs.Mint("stray", []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, 1, f.svc.Close())
	assert.Zero(t, f.refs.Outstanding())
}

func TestMediaServiceSubscribe(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var got []Snapshot
	unsubscribe := f.svc.Subscribe(func(s Snapshot) { got = append(got, s) })

	cat := f.svc.AddCategory(ctx, "Cats", "", "")
	f.svc.UpdateCategory(ctx, cat.ID, "Kittens", "", "")

	require.Len(t, got, 2)
	assert.Less(t, got[0].Version, got[1].Version)
	assert.Equal(t, "Cats", got[0].Categories[0].Name)
	assert.Equal(t, "Kittens", got[1].Categories[0].Name)

	unsubscribe()
	unsubscribe()
	f.svc.AddCategory(ctx, "Dogs", "", "")
	assert.Len(t, got, 2)
}

func TestMediaServiceSnapshotIsACopy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.svc.AddCategory(ctx, "Cats", "", "")

	snap := f.svc.Snapshot()
	snap.Categories[0].Name = "mutated"

	assert.Equal(t, "Cats", f.svc.Categories()[0].Name)
}

func TestMediaServiceSweepOrphans(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cats := f.svc.AddCategory(ctx, "Cats", "", "")
	summer, err := f.svc.AddGallery(ctx, cats.ID, "Summer", "", "")
	require.NoError(t, err)
	kept, err := f.svc.AddMedia(ctx, photo(summer.ID, "a.jpg", []byte("a")))
	require.NoError(t, err)

	orphan := &blobstore.Record{ID: "orphan", GalleryID: "deleted-gallery", Type: domain.MediaPhoto, Payload: []byte("o"), CreatedAt: time.Now()}
	require.NoError(t, f.blobs.Put(ctx, orphan))

	n, err := f.svc.SweepOrphans(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	recs, err := f.blobs.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, kept.ID, recs[0].ID)

	n, err = f.svc.SweepOrphans(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMediaServiceSweepOrphansRefusesWithoutGalleries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.blobs.Put(ctx, &blobstore.Record{ID: "x", GalleryID: "g", Type: domain.MediaPhoto, Payload: []byte("x")}))

	_, err := f.svc.SweepOrphans(ctx)
	assert.ErrorIs(t, err, ErrNoGalleries)

	recs, err := f.blobs.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestMediaServiceLoadSkipsOrphans(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cats := f.svc.AddCategory(ctx, "Cats", "", "")
	summer, err := f.svc.AddGallery(ctx, cats.ID, "Summer", "", "")
	require.NoError(t, err)
	_, err = f.svc.AddMedia(ctx, photo(summer.ID, "a.jpg", []byte("a")))
	require.NoError(t, err)
	require.NoError(t, f.blobs.Put(ctx, &blobstore.Record{ID: "orphan", GalleryID: "gone", Type: domain.MediaPhoto, Payload: []byte("o")}))

	media := f.reopen(t).Media()
	require.Len(t, media, 1)
	assert.NotEqual(t, "orphan", media[0].ID)
}

func TestMediaServiceConcurrentMutations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cats := f.svc.AddCategory(ctx, "Cats", "", "")
	summer, err := f.svc.AddGallery(ctx, cats.ID, "Summer", "", "")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.svc.AddMedia(ctx, photo(summer.ID, "p.jpg", []byte{byte(i)}))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Len(t, f.svc.Media(), 20)
	assert.Equal(t, 20, f.refs.Outstanding())
}
