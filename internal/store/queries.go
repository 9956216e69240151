package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/mini-rodalies-3d/transitpipe/internal/canonical"
)

// CountRows counts the rows of a canonical table, optionally restricted to
// one feed.
func (s *Store) CountRows(ctx context.Context, table, feedID string) (int, error) {
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s`, s.db.Table(table))
	var args []any
	if feedID != "" {
		query += ` WHERE feed_id = ?`
		args = append(args, feedID)
	}

	var n int
	if err := s.db.Conn().QueryRowContext(ctx, s.db.Rebind(query), args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", table, err)
	}
	return n, nil
}

// Schedule returns the schedule of a trip ordered by stop_sequence.
func (s *Store) Schedule(ctx context.Context, tripID string) ([]canonical.ScheduleEntry, error) {
	rows, err := s.db.Conn().QueryContext(ctx, s.db.Rebind(fmt.Sprintf(`
		SELECT trip_id, stop_sequence, stop_id, arrival_time, departure_time
		FROM %s
		WHERE trip_id = ?
		ORDER BY stop_sequence
	`, s.db.Table(canonical.TableSchedule))), tripID)
	if err != nil {
		return nil, fmt.Errorf("failed to query schedule of %s: %w", tripID, err)
	}
	defer rows.Close()

	var out []canonical.ScheduleEntry
	for rows.Next() {
		var (
			e        canonical.ScheduleEntry
			arr, dep sql.NullString
		)
		if err := rows.Scan(&e.TripID, &e.StopSequence, &e.StopID, &arr, &dep); err != nil {
			return nil, fmt.Errorf("failed to scan schedule row: %w", err)
		}
		e.ArrivalTime, e.DepartureTime = arr.String, dep.String
		out = append(out, e)
	}
	return out, rows.Err()
}

// StopLocation returns the stored GeoJSON location of a stop.
func (s *Store) StopLocation(ctx context.Context, stopID string) (string, error) {
	var loc string
	err := s.db.Conn().QueryRowContext(ctx, s.db.Rebind(fmt.Sprintf(
		`SELECT location FROM %s WHERE stop_id = ?`, s.db.Table(canonical.TableStops))), stopID).Scan(&loc)
	if err != nil {
		return "", fmt.Errorf("failed to read location of %s: %w", stopID, err)
	}
	return loc, nil
}
