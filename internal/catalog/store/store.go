// Package store persists catalog entries and relation runs in PostgreSQL.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/internal/catalog"
	"github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/internal/relate"
	"github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/internal/relate/ranker"
	"github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/pkg/logger"
	"github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/pkg/postgres"
)

// Store reads and writes the catalog corpus and relation runs.
//
// It requires the following tables:
//
//	CREATE TABLE entries (
//	    id         TEXT PRIMARY KEY,
//	    data       JSONB NOT NULL,
//	    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
//	);
//
//	CREATE TABLE relate_runs (
//	    id           UUID PRIMARY KEY,
//	    fingerprint  TEXT NOT NULL,
//	    entry_count  INT NOT NULL,
//	    pairs_scored BIGINT NOT NULL,
//	    started_at   TIMESTAMPTZ NOT NULL,
//	    duration_ms  BIGINT NOT NULL,
//	    entry_ids    JSONB NOT NULL,
//	    created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
//	);
//
//	CREATE TABLE related_lists (
//	    run_id   UUID NOT NULL REFERENCES relate_runs(id) ON DELETE CASCADE,
//	    entry_id TEXT NOT NULL,
//	    results  JSONB NOT NULL,
//	    PRIMARY KEY (run_id, entry_id)
//	);
type Store struct {
	db     *postgres.Client
	logger *slog.Logger
}

// NewStore creates a catalog store over the given database client.
func NewStore(db *postgres.Client) *Store {
	return &Store{
		db:     db,
		logger: logger.WithComponent("catalog-store"),
	}
}

// UpsertEntry inserts or replaces one catalog entry.
func (s *Store) UpsertEntry(ctx context.Context, entry *catalog.Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshaling entry %q: %w", entry.ID, err)
	}
	_, err = s.db.DB.ExecContext(ctx,
		`INSERT INTO entries (id, data, updated_at) VALUES ($1, $2, NOW())
		 ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data, updated_at = NOW()`,
		entry.ID, data,
	)
	if err != nil {
		return fmt.Errorf("upserting entry %q: %w", entry.ID, err)
	}
	return nil
}

// UpsertEntries writes a batch of entries in a single transaction.
func (s *Store) UpsertEntries(ctx context.Context, entries []*catalog.Entry) error {
	return s.db.InTx(ctx, func(tx *sql.Tx) error {
		for _, entry := range entries {
			data, err := json.Marshal(entry)
			if err != nil {
				return fmt.Errorf("marshaling entry %q: %w", entry.ID, err)
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO entries (id, data, updated_at) VALUES ($1, $2, NOW())
				 ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data, updated_at = NOW()`,
				entry.ID, data,
			); err != nil {
				return fmt.Errorf("upserting entry %q: %w", entry.ID, err)
			}
		}
		return nil
	})
}

// Load returns the full corpus ordered by id, so the relator sees the same
// deterministic corpus on every load.
func (s *Store) Load(ctx context.Context) ([]*catalog.Entry, error) {
	rows, err := s.db.DB.QueryContext(ctx, `SELECT data FROM entries ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("loading entries: %w", err)
	}
	defer rows.Close()

	var entries []*catalog.Entry
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scanning entry row: %w", err)
		}
		var entry catalog.Entry
		if err := json.Unmarshal(data, &entry); err != nil {
			s.logger.Warn("skipping corrupt entry row", "error", err)
			continue
		}
		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}

// SaveRun persists a relation run and all of its related lists atomically.
func (s *Store) SaveRun(ctx context.Context, run *relate.Run) error {
	entryIDs, err := json.Marshal(run.EntryIDs)
	if err != nil {
		return fmt.Errorf("marshaling entry ids: %w", err)
	}
	err = s.db.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO relate_runs (id, fingerprint, entry_count, pairs_scored, started_at, duration_ms, entry_ids)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			run.ID, run.Fingerprint, run.Entries, run.PairsScored,
			run.StartedAt, run.Duration.Milliseconds(), entryIDs,
		); err != nil {
			return fmt.Errorf("inserting run: %w", err)
		}
		for _, id := range run.EntryIDs {
			results, ok := run.Related[id]
			if !ok {
				continue
			}
			data, err := json.Marshal(results)
			if err != nil {
				return fmt.Errorf("marshaling related list for %q: %w", id, err)
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO related_lists (run_id, entry_id, results) VALUES ($1, $2, $3)`,
				run.ID, id, data,
			); err != nil {
				return fmt.Errorf("inserting related list for %q: %w", id, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("saving run %s: %w", run.ID, err)
	}
	s.logger.Info("run saved",
		"run_id", run.ID,
		"fingerprint", run.Fingerprint,
		"entries", run.Entries,
		"related_entries", len(run.Related),
	)
	return nil
}

// LatestRun loads the most recent run with all of its related lists.
// Returns nil, nil if no run has been persisted yet.
func (s *Store) LatestRun(ctx context.Context) (*relate.Run, error) {
	run := &relate.Run{}
	var entryIDs []byte
	var durationMS int64
	err := s.db.DB.QueryRowContext(ctx,
		`SELECT id, fingerprint, entry_count, pairs_scored, started_at, duration_ms, entry_ids
		 FROM relate_runs ORDER BY created_at DESC LIMIT 1`,
	).Scan(&run.ID, &run.Fingerprint, &run.Entries, &run.PairsScored, &run.StartedAt, &durationMS, &entryIDs)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying latest run: %w", err)
	}
	run.Duration = time.Duration(durationMS) * time.Millisecond
	if err := json.Unmarshal(entryIDs, &run.EntryIDs); err != nil {
		return nil, fmt.Errorf("unmarshaling entry ids: %w", err)
	}

	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT entry_id, results FROM related_lists WHERE run_id = $1`, run.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("loading related lists: %w", err)
	}
	defer rows.Close()

	run.Related = make(map[string][]ranker.Result)
	for rows.Next() {
		var entryID string
		var data []byte
		if err := rows.Scan(&entryID, &data); err != nil {
			return nil, fmt.Errorf("scanning related list row: %w", err)
		}
		var results []ranker.Result
		if err := json.Unmarshal(data, &results); err != nil {
			return nil, fmt.Errorf("unmarshaling related list for %q: %w", entryID, err)
		}
		run.Related[entryID] = results
	}
	return run, rows.Err()
}
