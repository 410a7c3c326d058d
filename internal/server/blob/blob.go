package blob

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gobox/gobox/internal/db"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/afero"
)

// BlobService is the file store behind the dev server: contents in a
// directory, metadata and the global counter in SQLite. Mutations are
// serialized so the counter order matches the order they became visible.
type BlobService struct {
	db      *sqlx.DB
	index   *BlobIndex
	backend *localBackend

	mu       sync.Mutex
	onChange []ChangeFunc
}

// NewBlobService opens the store under dataDir.
func NewBlobService(dataDir string) (*BlobService, error) {
	sqlDB, err := db.NewSqliteDB(db.WithPath(filepath.Join(dataDir, "index.db")))
	if err != nil {
		return nil, err
	}
	blobDir := filepath.Join(dataDir, "blobs")
	if err := afero.NewOsFs().MkdirAll(blobDir, 0o755); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return newBlobService(sqlDB, afero.NewBasePathFs(afero.NewOsFs(), blobDir))
}

// NewMemBlobService keeps everything in memory, for tests.
func NewMemBlobService() (*BlobService, error) {
	sqlDB, err := db.NewSqliteDB()
	if err != nil {
		return nil, err
	}
	return newBlobService(sqlDB, afero.NewMemMapFs())
}

func newBlobService(sqlDB *sqlx.DB, fs afero.Fs) (*BlobService, error) {
	index, err := newBlobIndex(sqlDB)
	if err != nil {
		sqlDB.Close()
		return nil, err
	}
	return &BlobService{
		db:      sqlDB,
		index:   index,
		backend: newLocalBackend(fs),
	}, nil
}

func (s *BlobService) DB() *sqlx.DB {
	return s.db
}

func (s *BlobService) Index() *BlobIndex {
	return s.index
}

// OnChange registers fn to be called after every mutation.
func (s *BlobService) OnChange(fn ChangeFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = append(s.onChange, fn)
}

func (s *BlobService) Close() error {
	return s.db.Close()
}

// Open returns the file info and contents for key.
func (s *BlobService) Open(ctx context.Context, key string) (*FileInfo, io.ReadCloser, error) {
	key, err := CleanKey(key)
	if err != nil {
		return nil, nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	info, ok := s.index.Get(ctx, key)
	if !ok {
		return nil, nil, ErrFileNotFound
	}
	rc, err := s.backend.open(key)
	if err != nil {
		return nil, nil, fmt.Errorf("open blob %s: %w", key, err)
	}
	return info, rc, nil
}

// Create stores a new file. It fails with ErrFileExists if key is taken.
func (s *BlobService) Create(ctx context.Context, key string, r io.Reader) (*FileInfo, error) {
	return s.put(ctx, key, r, false)
}

// Modify replaces an existing file. It fails with ErrFileNotFound if key is
// not there.
func (s *BlobService) Modify(ctx context.Context, key string, r io.Reader) (*FileInfo, error) {
	return s.put(ctx, key, r, true)
}

func (s *BlobService) put(ctx context.Context, key string, r io.Reader, mustExist bool) (*FileInfo, error) {
	key, err := CleanKey(key)
	if err != nil {
		return nil, err
	}

	staged, hash, size, err := s.backend.stage(r)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	_, exists := s.index.Get(ctx, key)
	switch {
	case mustExist && !exists:
		s.mu.Unlock()
		s.backend.discard(staged)
		return nil, ErrFileNotFound
	case !mustExist && exists:
		s.mu.Unlock()
		s.backend.discard(staged)
		return nil, ErrFileExists
	}

	if err := s.backend.commit(staged, key); err != nil {
		s.mu.Unlock()
		s.backend.discard(staged)
		return nil, fmt.Errorf("commit blob %s: %w", key, err)
	}

	info := &FileInfo{Key: key, Hash: hash, Size: size}
	ts, err := s.index.Set(ctx, info)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	slog.Debug("blob put", "key", key, "timestamp", ts, "size", size)
	s.notify(key, ts)
	return info, nil
}

// Delete removes key and returns the timestamp of the deletion.
func (s *BlobService) Delete(ctx context.Context, key string) (int64, error) {
	key, err := CleanKey(key)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	ts, err := s.index.Remove(ctx, key)
	if err == nil {
		if rerr := s.backend.remove(key); rerr != nil {
			slog.Warn("blob remove", "key", key, "error", rerr)
		}
	}
	s.mu.Unlock()
	if err != nil {
		return 0, err
	}

	slog.Debug("blob delete", "key", key, "timestamp", ts)
	s.notify(key, ts)
	return ts, nil
}

func (s *BlobService) notify(key string, ts int64) {
	s.mu.Lock()
	callbacks := append([]ChangeFunc(nil), s.onChange...)
	s.mu.Unlock()

	for _, fn := range callbacks {
		fn(key, ts)
	}
}

// CleanKey turns a request path into an index key: slash separated, relative,
// without dot segments.
func CleanKey(key string) (string, error) {
	key = strings.TrimPrefix(strings.ReplaceAll(key, "\\", "/"), "/")
	if key == "" {
		return "", ErrInvalidKey
	}
	cleaned := path.Clean(key)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") || strings.HasPrefix(cleaned, ".staging") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return cleaned, nil
}
