package blob

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/gobox/gobox/internal/db"
	"github.com/jmoiron/sqlx"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS files (
	key TEXT PRIMARY KEY,
	timestamp INTEGER NOT NULL,
	hash TEXT NOT NULL,
	size INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS counter (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	value INTEGER NOT NULL
);

INSERT OR IGNORE INTO counter (id, value) VALUES (1, 0);
`

// BlobIndex keeps file metadata and the global mutation counter in SQLite.
type BlobIndex struct {
	db *sqlx.DB
}

func newBlobIndex(db *sqlx.DB) (*BlobIndex, error) {
	if _, err := db.Exec(schemaSQL); err != nil {
		return nil, fmt.Errorf("failed to initialize index: %w", err)
	}
	return &BlobIndex{db: db}, nil
}

// Timestamp returns the current global counter.
func (bi *BlobIndex) Timestamp(ctx context.Context) (int64, error) {
	var ts int64
	if err := bi.db.GetContext(ctx, &ts, "SELECT value FROM counter WHERE id = 1"); err != nil {
		return 0, fmt.Errorf("failed to read counter: %w", err)
	}
	return ts, nil
}

// Get retrieves file info by key
func (bi *BlobIndex) Get(ctx context.Context, key string) (*FileInfo, bool) {
	var info FileInfo
	err := bi.db.GetContext(ctx, &info, "SELECT key, timestamp, hash, size FROM files WHERE key = ?", key)
	if err != nil {
		return nil, false
	}
	return &info, true
}

// List returns every file and the counter value, read in one transaction so
// the two agree.
func (bi *BlobIndex) List(ctx context.Context) ([]*FileInfo, int64, error) {
	var (
		files []*FileInfo
		ts    int64
	)
	err := db.WithTx(ctx, bi.db, func(tx *sqlx.Tx) error {
		if err := tx.GetContext(ctx, &ts, "SELECT value FROM counter WHERE id = 1"); err != nil {
			return err
		}
		return tx.SelectContext(ctx, &files, "SELECT key, timestamp, hash, size FROM files ORDER BY key")
	})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list files: %w", err)
	}
	return files, ts, nil
}

// Set writes info under a freshly incremented counter value and returns it.
func (bi *BlobIndex) Set(ctx context.Context, info *FileInfo) (int64, error) {
	var ts int64
	err := db.WithTx(ctx, bi.db, func(tx *sqlx.Tx) error {
		next, err := bump(ctx, tx)
		if err != nil {
			return err
		}
		info.Timestamp = next
		_, err = tx.NamedExecContext(ctx,
			`INSERT OR REPLACE INTO files (key, timestamp, hash, size) VALUES (:key, :timestamp, :hash, :size)`,
			info,
		)
		ts = next
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to set %s: %w", info.Key, err)
	}
	return ts, nil
}

// Remove deletes key and returns the counter value of the deletion.
func (bi *BlobIndex) Remove(ctx context.Context, key string) (int64, error) {
	var ts int64
	err := db.WithTx(ctx, bi.db, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, "DELETE FROM files WHERE key = ?", key)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrFileNotFound
		}
		ts, err = bump(ctx, tx)
		return err
	})
	if errors.Is(err, ErrFileNotFound) {
		return 0, err
	} else if err != nil {
		return 0, fmt.Errorf("failed to remove %s: %w", key, err)
	}
	return ts, nil
}

// Count returns the number of files in the index
func (bi *BlobIndex) Count(ctx context.Context) int {
	var count int
	if err := bi.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM files"); err != nil {
		return 0
	}
	return count
}

func bump(ctx context.Context, tx *sqlx.Tx) (int64, error) {
	if _, err := tx.ExecContext(ctx, "UPDATE counter SET value = value + 1 WHERE id = 1"); err != nil {
		return 0, err
	}
	var ts int64
	err := tx.GetContext(ctx, &ts, "SELECT value FROM counter WHERE id = 1")
	if errors.Is(err, sql.ErrNoRows) {
		return 0, errors.New("counter row missing")
	}
	return ts, err
}
