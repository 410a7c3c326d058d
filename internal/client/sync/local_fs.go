package sync

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/spf13/afero"
)

const (
	tempFilePattern = ".gobox-*.tmp"
	hashCacheSize   = 8192
)

var ErrIsDir = errors.New("path is a directory")

type cachedHash struct {
	size    int64
	modTime time.Time
	hash    string
}

// LocalFS is the only component that reads or writes the watched tree. All
// paths are relative, slash separated snapshot keys.
type LocalFS struct {
	root   string
	fs     afero.Fs
	ignore *SyncIgnoreList
	hashes *lru.Cache[string, cachedHash]
}

// NewLocalFS jails all access below root.
func NewLocalFS(root string, ignore *SyncIgnoreList) *LocalFS {
	return NewLocalFSWithFs(root, afero.NewBasePathFs(afero.NewOsFs(), root), ignore)
}

// NewLocalFSWithFs uses fsys as the watched tree. fsys must already be rooted
// at the watched directory.
func NewLocalFSWithFs(root string, fsys afero.Fs, ignore *SyncIgnoreList) *LocalFS {
	hashes, _ := lru.New[string, cachedHash](hashCacheSize)
	return &LocalFS{
		root:   root,
		fs:     fsys,
		ignore: ignore,
		hashes: hashes,
	}
}

func (l *LocalFS) Root() string {
	return l.root
}

// Ignored reports whether rel is excluded from syncing.
func (l *LocalFS) Ignored(rel string) bool {
	return l.ignore != nil && l.ignore.ShouldIgnore(rel)
}

// Fingerprint stats and hashes one file. ErrIsDir is returned for directories.
func (l *LocalFS) Fingerprint(rel string) (Fingerprint, error) {
	info, err := l.fs.Stat(fsPath(rel))
	if err != nil {
		return Fingerprint{}, err
	}
	if info.IsDir() {
		return Fingerprint{}, ErrIsDir
	}
	return l.fingerprint(rel, info)
}

func (l *LocalFS) fingerprint(rel string, info fs.FileInfo) (Fingerprint, error) {
	hash, err := l.hash(rel, info)
	if err != nil {
		return Fingerprint{}, err
	}
	return Fingerprint{ModifiedAt: Timestamp(info.ModTime().Unix()), ContentHash: hash}, nil
}

func (l *LocalFS) hash(rel string, info fs.FileInfo) (string, error) {
	if cached, ok := l.hashes.Get(rel); ok && cached.size == info.Size() && cached.modTime.Equal(info.ModTime()) {
		return cached.hash, nil
	}

	file, err := l.fs.Open(fsPath(rel))
	if err != nil {
		return "", err
	}
	defer file.Close()

	h := md5.New()
	if _, err := io.Copy(h, file); err != nil {
		return "", fmt.Errorf("hash %s: %w", rel, err)
	}
	sum := hex.EncodeToString(h.Sum(nil))

	l.hashes.Add(rel, cachedHash{size: info.Size(), modTime: info.ModTime(), hash: sum})
	return sum, nil
}

// Scan walks the whole tree and returns a snapshot of every non-ignored
// regular file.
func (l *LocalFS) Scan(ctx context.Context) (Snapshot, error) {
	return l.ScanDir(ctx, "")
}

// ScanDir is Scan restricted to the subtree at rel.
func (l *LocalFS) ScanDir(ctx context.Context, rel string) (Snapshot, error) {
	start := time.Now()
	snapshot := Snapshot{}

	err := afero.Walk(l.fs, fsPath(rel), func(p string, info fs.FileInfo, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		relPath := strings.TrimPrefix(p, "/")
		if err != nil {
			// files vanish while walking
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if relPath == "" {
			return nil
		}

		if l.Ignored(relPath) {
			if info.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		if !info.Mode().IsRegular() {
			return nil
		}

		fp, err := l.fingerprint(relPath, info)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		snapshot[relPath] = fp
		return nil
	})
	if err != nil && !(rel != "" && errors.Is(err, fs.ErrNotExist)) {
		return nil, fmt.Errorf("scan %q: %w", rel, err)
	}

	slog.Debug("local scan", "dir", path.Join("/", rel), "files", len(snapshot), "took", time.Since(start))
	return snapshot, nil
}

func (l *LocalFS) Open(rel string) (io.ReadCloser, error) {
	return l.fs.Open(fsPath(rel))
}

// Write atomically replaces rel with the content of r and returns the content
// hash of what was written.
func (l *LocalFS) Write(rel string, r io.Reader) (string, error) {
	dst := fsPath(rel)
	dir := path.Dir(dst)
	if err := l.fs.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("write %s: %w", rel, err)
	}

	tmp := path.Join(dir, strings.Replace(tempFilePattern, "*", uuid.NewString(), 1))
	file, err := l.fs.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("write %s: %w", rel, err)
	}

	h := md5.New()
	_, err = io.Copy(io.MultiWriter(file, h), r)
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		l.fs.Remove(tmp)
		return "", fmt.Errorf("write %s: %w", rel, err)
	}

	if err := l.fs.Rename(tmp, dst); err != nil {
		l.fs.Remove(tmp)
		return "", fmt.Errorf("write %s: %w", rel, err)
	}

	l.hashes.Remove(rel)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Remove deletes a file. A file that is already gone is not an error.
func (l *LocalFS) Remove(rel string) error {
	l.hashes.Remove(rel)
	if err := l.fs.Remove(fsPath(rel)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", rel, err)
	}
	return nil
}

// platform litter that does not keep a directory alive
var junkFiles = map[string]struct{}{
	".DS_Store": {},
	"Thumbs.db": {},
}

// RemoveEmptyParents removes the directories above rel that are left empty,
// stopping at the root.
func (l *LocalFS) RemoveEmptyParents(rel string) {
	dir := path.Dir(fsPath(rel))
	for dir != "/" {
		entries, err := afero.ReadDir(l.fs, dir)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				slog.Warn("cleanup parent dir", "path", dir, "error", err)
			}
			return
		}

		remaining := 0
		for _, entry := range entries {
			if _, junk := junkFiles[entry.Name()]; junk {
				_ = l.fs.Remove(path.Join(dir, entry.Name()))
				continue
			}
			remaining++
		}
		if remaining > 0 {
			return
		}

		if err := l.fs.Remove(dir); err != nil {
			slog.Warn("cleanup parent dir", "path", dir, "error", err)
			return
		}
		slog.Debug("cleanup parent dir", "path", dir, "reason", "empty")
		dir = path.Dir(dir)
	}
}

// Rename moves a file, creating the destination's parent directories.
func (l *LocalFS) Rename(from, to string) error {
	if err := l.fs.MkdirAll(path.Dir(fsPath(to)), 0o755); err != nil {
		return fmt.Errorf("rename %s: %w", from, err)
	}
	if err := l.fs.Rename(fsPath(from), fsPath(to)); err != nil {
		return fmt.Errorf("rename %s: %w", from, err)
	}
	l.hashes.Remove(from)
	l.hashes.Remove(to)
	return nil
}

// Exists reports whether rel is a regular file.
func (l *LocalFS) Exists(rel string) bool {
	info, err := l.fs.Stat(fsPath(rel))
	return err == nil && !info.IsDir()
}

func fsPath(rel string) string {
	return "/" + strings.TrimPrefix(rel, "/")
}
