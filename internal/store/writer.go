// Package store writes canonical record sets into the canonical schema and
// keeps the pipeline's bookkeeping tables.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"time"

	"github.com/tidwall/geojson"
	"github.com/tidwall/geojson/geometry"

	"github.com/mini-rodalies-3d/transitpipe/internal/canonical"
	"github.com/mini-rodalies-3d/transitpipe/internal/db"
)

// Store is the schema handle processors load into.
type Store struct {
	db  *db.DB
	now func() time.Time
}

// New returns a store over database.
func New(database *db.DB) *Store {
	return &Store{db: database, now: func() time.Time { return time.Now().UTC() }}
}

// DB returns the underlying database.
func (s *Store) DB() *db.DB { return s.db }

// PointJSON renders a stop location as a GeoJSON Point.
func PointJSON(lat, lon float64) string {
	return geojson.NewPoint(geometry.Point{X: lon, Y: lat}).JSON()
}

// LineJSON renders shape points, already ordered, as a GeoJSON LineString.
func LineJSON(points []canonical.ShapePoint) string {
	pts := make([]geometry.Point, len(points))
	for i, p := range points {
		pts[i] = geometry.Point{X: p.Lon, Y: p.Lat}
	}
	return geojson.NewLineString(geometry.NewLine(pts, nil)).JSON()
}

// UpsertRecordSet writes rs in one transaction. Rows are keyed on their
// canonical ids, so loading the same feed twice updates rather than
// duplicates. The schedule of every trip in rs is replaced as a unit.
func (s *Store) UpsertRecordSet(ctx context.Context, rs *canonical.RecordSet) (canonical.LoadResult, error) {
	s.db.LockWrite()
	defer s.db.UnlockWrite()

	tx, err := s.db.Conn().BeginTx(ctx, nil)
	if err != nil {
		return canonical.LoadResult{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := s.now().Format(time.RFC3339)
	result := canonical.LoadResult{Rows: make(map[string]int)}

	steps := []struct {
		table string
		fn    func(context.Context, *sql.Tx, *canonical.RecordSet, string) (int, error)
	}{
		{canonical.TableShapes, s.upsertShapes},
		{canonical.TableRoutes, s.upsertRoutes},
		{canonical.TableStops, s.upsertStops},
		{canonical.TableTrips, s.upsertTrips},
		{canonical.TableSchedule, s.replaceSchedule},
		{canonical.TableFares, s.upsertFares},
		{canonical.TableTransfers, s.upsertTransfers},
	}
	for _, step := range steps {
		n, err := step.fn(ctx, tx, rs, now)
		if err != nil {
			return canonical.LoadResult{}, fmt.Errorf("failed to load %s: %w", step.table, err)
		}
		if n > 0 || slices.Contains(canonical.CoreTables, step.table) {
			result.Rows[step.table] = n
		}
	}

	if err := tx.Commit(); err != nil {
		return canonical.LoadResult{}, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return result, nil
}

func (s *Store) prepare(ctx context.Context, tx *sql.Tx, query string) (*sql.Stmt, error) {
	stmt, err := tx.PrepareContext(ctx, s.db.Rebind(query))
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}
	return stmt, nil
}

func (s *Store) upsertStops(ctx context.Context, tx *sql.Tx, rs *canonical.RecordSet, now string) (int, error) {
	if len(rs.Stops) == 0 {
		return 0, nil
	}
	stmt, err := s.prepare(ctx, tx, fmt.Sprintf(`
		INSERT INTO %s (stop_id, feed_id, source_id, stop_name, lat, lon, location, parent_station_id, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (stop_id) DO UPDATE SET
			stop_name = excluded.stop_name,
			lat = excluded.lat,
			lon = excluded.lon,
			location = excluded.location,
			parent_station_id = excluded.parent_station_id,
			updated_at = excluded.updated_at
	`, s.db.Table(canonical.TableStops)))
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	for _, st := range parentsFirst(rs.Stops) {
		if _, err := stmt.ExecContext(ctx, st.StopID, rs.FeedID, st.SourceID, st.Name, st.Lat, st.Lon,
			PointJSON(st.Lat, st.Lon), st.ParentStationID, now); err != nil {
			return 0, fmt.Errorf("stop %s: %w", st.SourceID, err)
		}
	}
	return len(rs.Stops), nil
}

func (s *Store) upsertRoutes(ctx context.Context, tx *sql.Tx, rs *canonical.RecordSet, now string) (int, error) {
	if len(rs.Routes) == 0 {
		return 0, nil
	}
	stmt, err := s.prepare(ctx, tx, fmt.Sprintf(`
		INSERT INTO %s (route_id, feed_id, source_id, short_name, long_name, route_type, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (route_id) DO UPDATE SET
			short_name = excluded.short_name,
			long_name = excluded.long_name,
			route_type = excluded.route_type,
			updated_at = excluded.updated_at
	`, s.db.Table(canonical.TableRoutes)))
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	for _, r := range rs.Routes {
		if _, err := stmt.ExecContext(ctx, r.RouteID, rs.FeedID, r.SourceID, r.ShortName, r.LongName, string(r.Type), now); err != nil {
			return 0, fmt.Errorf("route %s: %w", r.SourceID, err)
		}
	}
	return len(rs.Routes), nil
}

func (s *Store) upsertShapes(ctx context.Context, tx *sql.Tx, rs *canonical.RecordSet, now string) (int, error) {
	if len(rs.Shapes) == 0 {
		return 0, nil
	}
	stmt, err := s.prepare(ctx, tx, fmt.Sprintf(`
		INSERT INTO %s (shape_id, feed_id, source_id, geometry, point_count, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (shape_id) DO UPDATE SET
			geometry = excluded.geometry,
			point_count = excluded.point_count,
			updated_at = excluded.updated_at
	`, s.db.Table(canonical.TableShapes)))
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	for _, sh := range rs.Shapes {
		if _, err := stmt.ExecContext(ctx, sh.ShapeID, rs.FeedID, sh.SourceID, LineJSON(sh.Points), len(sh.Points), now); err != nil {
			return 0, fmt.Errorf("shape %s: %w", sh.SourceID, err)
		}
	}
	return len(rs.Shapes), nil
}

func (s *Store) upsertTrips(ctx context.Context, tx *sql.Tx, rs *canonical.RecordSet, now string) (int, error) {
	if len(rs.Trips) == 0 {
		return 0, nil
	}
	stmt, err := s.prepare(ctx, tx, fmt.Sprintf(`
		INSERT INTO %s (trip_id, feed_id, source_id, route_id, shape_id, direction, headsign, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (trip_id) DO UPDATE SET
			route_id = excluded.route_id,
			shape_id = excluded.shape_id,
			direction = excluded.direction,
			headsign = excluded.headsign,
			updated_at = excluded.updated_at
	`, s.db.Table(canonical.TableTrips)))
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	for _, t := range rs.Trips {
		if _, err := stmt.ExecContext(ctx, t.TripID, rs.FeedID, t.SourceID, t.RouteID, t.ShapeID, t.Direction, t.Headsign, now); err != nil {
			return 0, fmt.Errorf("trip %s: %w", t.SourceID, err)
		}
	}
	return len(rs.Trips), nil
}

func (s *Store) replaceSchedule(ctx context.Context, tx *sql.Tx, rs *canonical.RecordSet, _ string) (int, error) {
	if len(rs.Trips) == 0 {
		return 0, nil
	}

	del, err := s.prepare(ctx, tx, fmt.Sprintf(`DELETE FROM %s WHERE trip_id = ?`, s.db.Table(canonical.TableSchedule)))
	if err != nil {
		return 0, err
	}
	defer del.Close()
	for _, t := range rs.Trips {
		if _, err := del.ExecContext(ctx, t.TripID); err != nil {
			return 0, fmt.Errorf("clear schedule of trip %s: %w", t.SourceID, err)
		}
	}

	if len(rs.Schedule) == 0 {
		return 0, nil
	}
	ins, err := s.prepare(ctx, tx, fmt.Sprintf(`
		INSERT INTO %s (trip_id, stop_sequence, stop_id, feed_id, arrival_time, departure_time)
		VALUES (?, ?, ?, ?, ?, ?)
	`, s.db.Table(canonical.TableSchedule)))
	if err != nil {
		return 0, err
	}
	defer ins.Close()

	for _, e := range rs.Schedule {
		if _, err := ins.ExecContext(ctx, e.TripID, e.StopSequence, e.StopID, rs.FeedID,
			nullString(e.ArrivalTime), nullString(e.DepartureTime)); err != nil {
			return 0, fmt.Errorf("stop_time %s/%d: %w", canonical.SourceOf(e.TripID), e.StopSequence, err)
		}
	}
	return len(rs.Schedule), nil
}

func (s *Store) upsertFares(ctx context.Context, tx *sql.Tx, rs *canonical.RecordSet, now string) (int, error) {
	if len(rs.Fares) == 0 {
		return 0, nil
	}
	stmt, err := s.prepare(ctx, tx, fmt.Sprintf(`
		INSERT INTO %s (fare_id, feed_id, source_id, price, currency, payment_method, transfers, transfer_duration, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (fare_id) DO UPDATE SET
			price = excluded.price,
			currency = excluded.currency,
			payment_method = excluded.payment_method,
			transfers = excluded.transfers,
			transfer_duration = excluded.transfer_duration,
			updated_at = excluded.updated_at
	`, s.db.Table(canonical.TableFares)))
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	for _, f := range rs.Fares {
		if _, err := stmt.ExecContext(ctx, f.FareID, rs.FeedID, f.SourceID, f.Price, f.Currency, f.PaymentMethod,
			f.Transfers, f.TransferDuration, now); err != nil {
			return 0, fmt.Errorf("fare %s: %w", f.SourceID, err)
		}
	}
	return len(rs.Fares), nil
}

func (s *Store) upsertTransfers(ctx context.Context, tx *sql.Tx, rs *canonical.RecordSet, _ string) (int, error) {
	if len(rs.Transfers) == 0 {
		return 0, nil
	}
	stmt, err := s.prepare(ctx, tx, fmt.Sprintf(`
		INSERT INTO %s (from_stop_id, to_stop_id, feed_id, transfer_type, min_transfer_time)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (from_stop_id, to_stop_id) DO UPDATE SET
			transfer_type = excluded.transfer_type,
			min_transfer_time = excluded.min_transfer_time
	`, s.db.Table(canonical.TableTransfers)))
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	for _, t := range rs.Transfers {
		if _, err := stmt.ExecContext(ctx, t.FromStopID, t.ToStopID, rs.FeedID, t.TransferType, t.MinTransferTime); err != nil {
			return 0, fmt.Errorf("transfer %s->%s: %w", canonical.SourceOf(t.FromStopID), canonical.SourceOf(t.ToStopID), err)
		}
	}
	return len(rs.Transfers), nil
}

// parentsFirst orders stops so that every parent station is written before
// the stops that reference it.
func parentsFirst(stops []canonical.Stop) []canonical.Stop {
	byID := make(map[string]*canonical.Stop, len(stops))
	for i := range stops {
		byID[stops[i].StopID] = &stops[i]
	}
	depth := func(s *canonical.Stop) int {
		d := 0
		for s.ParentStationID != nil && d <= len(stops) {
			p, ok := byID[*s.ParentStationID]
			if !ok {
				break
			}
			s = p
			d++
		}
		return d
	}

	out := slices.Clone(stops)
	depths := make(map[string]int, len(out))
	for i := range out {
		depths[out[i].StopID] = depth(&out[i])
	}
	slices.SortStableFunc(out, func(a, b canonical.Stop) int {
		return depths[a.StopID] - depths[b.StopID]
	})
	return out
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
