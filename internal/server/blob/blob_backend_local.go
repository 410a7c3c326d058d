package blob

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

// localBackend stores file contents under a directory, one file per key.
type localBackend struct {
	fs afero.Fs
}

func newLocalBackend(fs afero.Fs) *localBackend {
	return &localBackend{fs: fs}
}

// stage writes r to a temp file and returns its name, md5 and size.
func (b *localBackend) stage(r io.Reader) (string, string, int64, error) {
	if err := b.fs.MkdirAll("/.staging", 0o755); err != nil {
		return "", "", 0, err
	}
	name := "/.staging/" + uuid.NewString()
	f, err := b.fs.OpenFile(name, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", "", 0, err
	}

	h := md5.New()
	size, err := io.Copy(io.MultiWriter(f, h), r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		b.fs.Remove(name)
		return "", "", 0, fmt.Errorf("stage blob: %w", err)
	}
	return name, hex.EncodeToString(h.Sum(nil)), size, nil
}

func (b *localBackend) commit(staged, key string) error {
	target := "/" + key
	if err := b.fs.MkdirAll(path.Dir(target), 0o755); err != nil {
		return err
	}
	return b.fs.Rename(staged, target)
}

func (b *localBackend) discard(staged string) {
	b.fs.Remove(staged)
}

func (b *localBackend) open(key string) (io.ReadCloser, error) {
	return b.fs.Open("/" + key)
}

func (b *localBackend) remove(key string) error {
	err := b.fs.Remove("/" + key)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
