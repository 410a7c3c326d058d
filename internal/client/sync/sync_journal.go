package sync

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gobox/gobox/internal/db"
	"github.com/jmoiron/sqlx"
)

const journalSchema = `
CREATE TABLE IF NOT EXISTS snapshot (
    path TEXT PRIMARY KEY,
    modified_at INTEGER NOT NULL,
    content_hash TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS baseline (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    last_sync_timestamp INTEGER NOT NULL,
    aggregate_hash TEXT NOT NULL
);
`

var (
	ErrJournalOpen   = errors.New("sync journal already open")
	ErrJournalClosed = errors.New("sync journal not open")
)

type dbSnapshotEntry struct {
	Path        string `db:"path"`
	ModifiedAt  int64  `db:"modified_at"`
	ContentHash string `db:"content_hash"`
}

type dbBaseline struct {
	LastSyncTimestamp int64  `db:"last_sync_timestamp"`
	AggregateHash     string `db:"aggregate_hash"`
}

// SyncJournal persists the MetadataStore across restarts.
type SyncJournal struct {
	db     *sqlx.DB
	dbPath string
}

func NewSyncJournal(dbPath string) *SyncJournal {
	return &SyncJournal{dbPath: dbPath}
}

// Open the journal and the underlying database
func (s *SyncJournal) Open() error {
	if s.db != nil {
		return ErrJournalOpen
	}

	sqlDB, err := db.NewSqliteDB(
		db.WithPath(s.dbPath),
		db.WithMaxOpenConns(1),
		db.WithSchema(journalSchema),
	)
	if err != nil {
		return fmt.Errorf("open sync journal: %w", err)
	}

	s.db = sqlDB
	return nil
}

func (s *SyncJournal) Close() error {
	if s.db == nil {
		return ErrJournalClosed
	}
	err := s.db.Close()
	s.db = nil
	if err != nil {
		return fmt.Errorf("close sync journal: %w", err)
	}
	slog.Debug("sync journal closed")
	return nil
}

// Load returns the persisted snapshot and baseline. found is false when
// nothing was ever saved, in which case the caller starts from scratch.
func (s *SyncJournal) Load(ctx context.Context) (snapshot Snapshot, baseline SyncBaseline, found bool, err error) {
	if s.db == nil {
		return nil, SyncBaseline{}, false, ErrJournalClosed
	}

	var dbBase dbBaseline
	err = s.db.GetContext(ctx, &dbBase, "SELECT last_sync_timestamp, aggregate_hash FROM baseline WHERE id = 1")
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, SyncBaseline{}, false, nil
	} else if err != nil {
		return nil, SyncBaseline{}, false, fmt.Errorf("load baseline: %w", err)
	}

	var rows []dbSnapshotEntry
	if err := s.db.SelectContext(ctx, &rows, "SELECT path, modified_at, content_hash FROM snapshot"); err != nil {
		return nil, SyncBaseline{}, false, fmt.Errorf("load snapshot: %w", err)
	}

	snapshot = make(Snapshot, len(rows))
	for _, row := range rows {
		snapshot[row.Path] = Fingerprint{ModifiedAt: Timestamp(row.ModifiedAt), ContentHash: row.ContentHash}
	}

	baseline = SyncBaseline{
		LastSyncTimestamp: Timestamp(dbBase.LastSyncTimestamp),
		AggregateHash:     dbBase.AggregateHash,
	}
	return snapshot, baseline, true, nil
}

// Save replaces the persisted state in a single transaction.
func (s *SyncJournal) Save(ctx context.Context, snapshot Snapshot, baseline SyncBaseline) error {
	if s.db == nil {
		return ErrJournalClosed
	}

	err := db.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM snapshot"); err != nil {
			return err
		}

		if len(snapshot) > 0 {
			rows := make([]dbSnapshotEntry, 0, len(snapshot))
			for _, path := range snapshot.SortedPaths() {
				fp := snapshot[path]
				rows = append(rows, dbSnapshotEntry{Path: path, ModifiedAt: int64(fp.ModifiedAt), ContentHash: fp.ContentHash})
			}
			// batch to stay under sqlite's bound variable limit
			for start := 0; start < len(rows); start += 250 {
				end := min(start+250, len(rows))
				if _, err := tx.NamedExecContext(ctx,
					`INSERT INTO snapshot (path, modified_at, content_hash) VALUES (:path, :modified_at, :content_hash)`,
					rows[start:end],
				); err != nil {
					return err
				}
			}
		}

		_, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO baseline (id, last_sync_timestamp, aggregate_hash) VALUES (1, ?, ?)`,
			int64(baseline.LastSyncTimestamp), baseline.AggregateHash,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("save sync journal: %w", err)
	}

	slog.Debug("sync journal saved", "files", len(snapshot), "timestamp", baseline.LastSyncTimestamp)
	return nil
}

// Count returns the number of persisted snapshot entries.
func (s *SyncJournal) Count() (int, error) {
	if s.db == nil {
		return 0, ErrJournalClosed
	}
	var count int
	if err := s.db.Get(&count, "SELECT COUNT(*) FROM snapshot"); err != nil {
		return 0, fmt.Errorf("count snapshot: %w", err)
	}
	return count, nil
}
