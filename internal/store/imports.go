package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mini-rodalies-3d/transitpipe/internal/canonical"
	"github.com/mini-rodalies-3d/transitpipe/internal/schema"
)

// Import is the last successful import of a feed.
type Import struct {
	FeedID     string
	Format     string
	Source     string
	Checksum   string
	ImportedAt time.Time
	RowCounts  map[string]int
}

// RecordImport upserts the import ledger entry of rs's feed.
func (s *Store) RecordImport(ctx context.Context, rs *canonical.RecordSet, rows map[string]int) error {
	counts, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("failed to encode row counts: %w", err)
	}

	s.db.LockWrite()
	defer s.db.UnlockWrite()

	_, err = s.db.Conn().ExecContext(ctx, s.db.Rebind(fmt.Sprintf(`
		INSERT INTO %s (feed_id, format, source, checksum, imported_at, row_counts)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (feed_id) DO UPDATE SET
			format = excluded.format,
			source = excluded.source,
			checksum = excluded.checksum,
			imported_at = excluded.imported_at,
			row_counts = excluded.row_counts
	`, s.db.Table(schema.TableFeedImports))),
		rs.FeedID, rs.Format, rs.Source, rs.Checksum, s.now().Format(time.RFC3339), string(counts))
	if err != nil {
		return fmt.Errorf("failed to record import of %s: %w", rs.FeedID, err)
	}
	return nil
}

// LastImport returns the ledger entry of feedID, or nil when the feed has
// never been imported.
func (s *Store) LastImport(ctx context.Context, feedID string) (*Import, error) {
	var (
		imp        Import
		importedAt string
		counts     string
	)
	err := s.db.Conn().QueryRowContext(ctx, s.db.Rebind(fmt.Sprintf(`
		SELECT feed_id, format, source, checksum, imported_at, row_counts
		FROM %s WHERE feed_id = ?
	`, s.db.Table(schema.TableFeedImports))), feedID).Scan(
		&imp.FeedID, &imp.Format, &imp.Source, &imp.Checksum, &importedAt, &counts,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read import of %s: %w", feedID, err)
	}

	if t, err := time.Parse(time.RFC3339, importedAt); err == nil {
		imp.ImportedAt = t
	}
	if err := json.Unmarshal([]byte(counts), &imp.RowCounts); err != nil {
		return nil, fmt.Errorf("failed to decode row counts of %s: %w", feedID, err)
	}
	return &imp, nil
}
