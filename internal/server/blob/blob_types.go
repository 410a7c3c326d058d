package blob

import "errors"

var (
	ErrFileNotFound = errors.New("file not found")
	ErrFileExists   = errors.New("file already exists")
	ErrInvalidKey   = errors.New("invalid file key")
)

// FileInfo is one entry of the file index. Timestamp is the global counter
// value of the mutation that last wrote the file.
type FileInfo struct {
	Key       string `db:"key"`
	Timestamp int64  `db:"timestamp"`
	Hash      string `db:"hash"`
	Size      int64  `db:"size"`
}

// ChangeFunc is called after every committed mutation.
type ChangeFunc func(key string, timestamp int64)
