package sync

import (
	"encoding/hex"
	"errors"
	"io"
	"path"
	"path/filepath"
	"strings"

	"github.com/zeebo/blake3"
)

var (
	ErrAbsolutePath = errors.New("path is not relative to the watched root")
	ErrEmptyPath    = errors.New("path is empty")
)

// NormPath converts a relative path to the slash separated form used as a
// snapshot key. Absolute paths and paths escaping the root are rejected.
func NormPath(p string) (string, error) {
	if p == "" {
		return "", ErrEmptyPath
	}
	p = strings.ReplaceAll(p, "\\", "/")
	if strings.HasPrefix(p, "/") || filepath.IsAbs(p) {
		return "", ErrAbsolutePath
	}
	p = path.Clean(p)
	if p == "." {
		return "", ErrEmptyPath
	}
	if p == ".." || strings.HasPrefix(p, "../") {
		return "", ErrAbsolutePath
	}
	return p, nil
}

// relativize strips the watched root from an absolute path reported by a
// watcher backend. It is a lexical prefix strip against the known root, so a
// folder with the same name elsewhere in the path does not confuse it.
func relativize(root string, abs string) (string, bool) {
	rel, err := filepath.Rel(root, filepath.Clean(abs))
	if err != nil {
		return "", false
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", false
	}
	return rel, true
}

// AggregateHash digests a whole snapshot. The digest is independent of map
// iteration order and only covers paths and content hashes, so touching a
// file without changing it does not count as a modification.
func AggregateHash(s Snapshot) string {
	h := blake3.New()
	for _, p := range s.SortedPaths() {
		io.WriteString(h, p)
		h.Write([]byte{0})
		io.WriteString(h, s[p].ContentHash)
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}
