package local

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/vbonduro/purrfect/internal/blobstore"
	"github.com/vbonduro/purrfect/internal/domain"
)

const (
	payloadExt  = ".bin"
	metaExt     = ".json"
	stagePrefix = ".delete-"
)

var _ blobstore.BlobStore = (*Store)(nil)

// sidecar is the JSON file written next to each payload. A record exists
// exactly when its sidecar exists.
type sidecar struct {
	ID        string           `json:"id"`
	GalleryID string           `json:"galleryId"`
	Type      domain.MediaType `json:"type"`
	FileName  string           `json:"fileName"`
	CreatedAt time.Time        `json:"createdAt"`
	Seq       int64            `json:"seq"`
}

type stagedFile struct {
	from, to string
}

type dir struct {
	basePath string

	mu      sync.Mutex
	nextSeq int64
}

// Store keeps each media payload as a file under basePath with a JSON sidecar
// holding its descriptive fields.
type Store struct {
	basePath string
	logger   zerolog.Logger
	dir      *blobstore.Lazy[*dir]
	rename   func(oldpath, newpath string) error
	remove   func(name string) error
}

func New(basePath string, logger zerolog.Logger) *Store {
	s := &Store{basePath: basePath, logger: logger, rename: os.Rename, remove: os.Remove}
	s.dir = blobstore.NewLazy(s.open)
	return s
}

func (s *Store) open(context.Context) (*dir, error) {
	if err := os.MkdirAll(s.basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create media directory: %w", err)
	}

	d := &dir{basePath: s.basePath}
	metas, err := d.readSidecars(s.logger)
	if err != nil {
		return nil, err
	}
	for _, m := range metas {
		if m.Seq >= d.nextSeq {
			d.nextSeq = m.Seq + 1
		}
	}
	s.recoverStaged()
	return d, nil
}

// recoverStaged removes staging directories left behind by a DeleteMany that
// was interrupted after it had already committed.
func (s *Store) recoverStaged() {
	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), stagePrefix) {
			if err := os.RemoveAll(filepath.Join(s.basePath, e.Name())); err != nil {
				s.logger.Warn().Err(err).Str("dir", e.Name()).Msg("failed to remove stale staging directory")
			}
		}
	}
}

func (s *Store) GetAll(ctx context.Context) ([]*blobstore.Record, error) {
	d, err := s.dir.Get(ctx)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	metas, err := d.readSidecars(s.logger)
	if err != nil {
		return nil, blobstore.ReadError("get all", err)
	}

	records := make([]*blobstore.Record, 0, len(metas))
	for _, m := range metas {
		payloadPath, err := d.safeJoin(m.ID + payloadExt)
		if err != nil {
			return nil, blobstore.ReadError("get all", err)
		}
		payload, err := os.ReadFile(payloadPath)
		if err != nil {
			if os.IsNotExist(err) {
				s.logger.Warn().Str("media_id", m.ID).Msg("sidecar without payload, skipping")
				continue
			}
			return nil, blobstore.ReadError("get all", fmt.Errorf("failed to read payload %s: %w", m.ID, err))
		}
		records = append(records, &blobstore.Record{
			ID:        m.ID,
			GalleryID: m.GalleryID,
			Type:      m.Type,
			Payload:   payload,
			FileName:  m.FileName,
			CreatedAt: m.CreatedAt,
		})
	}
	return records, nil
}

func (s *Store) Put(ctx context.Context, rec *blobstore.Record) error {
	d, err := s.dir.Get(ctx)
	if err != nil {
		return err
	}
	if err := validID(rec.ID); err != nil {
		return blobstore.WriteError("put", rec.ID, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	metaPath, err := d.safeJoin(rec.ID + metaExt)
	if err != nil {
		return blobstore.WriteError("put", rec.ID, err)
	}
	payloadPath, err := d.safeJoin(rec.ID + payloadExt)
	if err != nil {
		return blobstore.WriteError("put", rec.ID, err)
	}

	seq := d.nextSeq
	if existing, err := readSidecar(metaPath); err == nil {
		seq = existing.Seq
	} else {
		d.nextSeq++
	}

	if err := writeFileAtomic(payloadPath, rec.Payload); err != nil {
		return blobstore.WriteError("put", rec.ID, err)
	}

	meta, err := json.Marshal(sidecar{
		ID:        rec.ID,
		GalleryID: rec.GalleryID,
		Type:      rec.Type,
		FileName:  rec.FileName,
		CreatedAt: rec.CreatedAt,
		Seq:       seq,
	})
	if err != nil {
		return blobstore.WriteError("put", rec.ID, fmt.Errorf("failed to encode sidecar: %w", err))
	}
	if err := writeFileAtomic(metaPath, meta); err != nil {
		return blobstore.WriteError("put", rec.ID, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	d, err := s.dir.Get(ctx)
	if err != nil {
		return err
	}
	if err := validID(id); err != nil {
		return blobstore.DeleteError("delete", id, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	// The sidecar defines existence, so it goes last.
	for _, ext := range []string{payloadExt, metaExt} {
		path, err := d.safeJoin(id + ext)
		if err != nil {
			return blobstore.DeleteError("delete", id, err)
		}
		if err := s.remove(path); err != nil && !os.IsNotExist(err) {
			return blobstore.DeleteError("delete", id, fmt.Errorf("failed to delete file: %w", err))
		}
	}
	return nil
}

// DeleteMany moves every file of the batch into a staging directory and only
// then removes it. If any move fails, the moved files are put back and nothing
// is deleted.
func (s *Store) DeleteMany(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	d, err := s.dir.Get(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := validID(id); err != nil {
			return blobstore.DeleteError("delete many", id, err)
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	stage := filepath.Join(d.basePath, stagePrefix+uuid.NewString())
	if err := os.Mkdir(stage, 0755); err != nil {
		return blobstore.DeleteError("delete many", "", fmt.Errorf("failed to create staging directory: %w", err))
	}

	var moved []stagedFile
	for _, id := range ids {
		for _, ext := range []string{metaExt, payloadExt} {
			from, err := d.safeJoin(id + ext)
			if err != nil {
				s.restore(stage, moved)
				return blobstore.DeleteError("delete many", id, err)
			}
			to := filepath.Join(stage, id+ext)
			if err := s.rename(from, to); err != nil {
				if os.IsNotExist(err) {
					continue
				}
				s.restore(stage, moved)
				return blobstore.DeleteError("delete many", id, fmt.Errorf("failed to stage file: %w", err))
			}
			moved = append(moved, stagedFile{from: from, to: to})
		}
	}

	if err := os.RemoveAll(stage); err != nil {
		s.logger.Warn().Err(err).Str("dir", stage).Msg("failed to remove staging directory")
	}
	return nil
}

func (s *Store) restore(stage string, moved []stagedFile) {
	for i := len(moved) - 1; i >= 0; i-- {
		if err := s.rename(moved[i].to, moved[i].from); err != nil {
			s.logger.Error().Err(err).Str("file", moved[i].from).Msg("failed to restore staged file")
		}
	}
	if err := os.Remove(stage); err != nil {
		s.logger.Warn().Err(err).Str("dir", stage).Msg("failed to remove staging directory")
	}
}

func (s *Store) Close() error {
	return s.dir.Close(nil)
}

func (d *dir) readSidecars(logger zerolog.Logger) ([]sidecar, error) {
	entries, err := os.ReadDir(d.basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to list media directory: %w", err)
	}

	var metas []sidecar
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != metaExt {
			continue
		}
		m, err := readSidecar(filepath.Join(d.basePath, e.Name()))
		if err != nil {
			logger.Warn().Err(err).Str("file", e.Name()).Msg("skipping unreadable sidecar")
			continue
		}
		metas = append(metas, m)
	}

	sort.SliceStable(metas, func(i, j int) bool { return metas[i].Seq < metas[j].Seq })
	return metas, nil
}

// safeJoin resolves name relative to basePath and rejects directory traversal.
func (d *dir) safeJoin(name string) (string, error) {
	absBase, err := filepath.Abs(d.basePath)
	if err != nil {
		return "", fmt.Errorf("invalid base path: %w", err)
	}

	absPath, err := filepath.Abs(filepath.Join(d.basePath, name))
	if err != nil {
		return "", fmt.Errorf("invalid path: %w", err)
	}

	if !strings.HasPrefix(absPath, absBase+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal attempt")
	}
	return absPath, nil
}

func readSidecar(path string) (sidecar, error) {
	var m sidecar
	data, err := os.ReadFile(path)
	if err != nil {
		return m, err
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("failed to decode sidecar: %w", err)
	}
	return m, nil
}

func validID(id string) error {
	if id == "" {
		return errors.New("empty media id")
	}
	if strings.ContainsAny(id, `/\`) || id == "." || id == ".." || strings.HasPrefix(id, stagePrefix) {
		return fmt.Errorf("invalid media id %q", id)
	}
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		if rerr := os.Remove(tmp); rerr != nil && !os.IsNotExist(rerr) {
			return fmt.Errorf("failed to rename file: %w (also failed to remove temp file: %v)", err, rerr)
		}
		return fmt.Errorf("failed to rename file: %w", err)
	}
	return nil
}
