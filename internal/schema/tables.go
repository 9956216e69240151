package schema

import (
	"fmt"

	"github.com/mini-rodalies-3d/transitpipe/internal/canonical"
	"github.com/mini-rodalies-3d/transitpipe/internal/db"
)

// tableDef is the DDL of one canonical table. DependsOn lists the tables its
// foreign keys point at; they are always created first.
type tableDef struct {
	Name      string
	DependsOn []string
	build     func(d ddl) []string
}

// creationOrder is a topological order of the canonical tables.
var creationOrder = []string{
	canonical.TableStops,
	canonical.TableRoutes,
	canonical.TableShapes,
	canonical.TableTrips,
	canonical.TableSchedule,
	canonical.TableFares,
	canonical.TableTransfers,
}

// ddl renders dialect-specific fragments.
type ddl struct{ db *db.DB }

func (d ddl) t(name string) string { return d.db.Table(name) }

func (d ddl) real() string {
	if d.db.Dialect() == db.Postgres {
		return "DOUBLE PRECISION"
	}
	return "REAL"
}

func (d ddl) ref(table, column string) string {
	return fmt.Sprintf("REFERENCES %s(%s)", d.t(table), column)
}

var tableDefs = map[string]tableDef{
	canonical.TableStops: {
		Name: canonical.TableStops,
		build: func(d ddl) []string {
			return []string{
				fmt.Sprintf(`CREATE TABLE %s (
	stop_id           TEXT PRIMARY KEY,
	feed_id           TEXT NOT NULL,
	source_id         TEXT NOT NULL,
	stop_name         TEXT NOT NULL DEFAULT '',
	lat               %s NOT NULL,
	lon               %s NOT NULL,
	location          TEXT NOT NULL,
	parent_station_id TEXT %s,
	updated_at        TEXT NOT NULL,
	UNIQUE (feed_id, source_id)
)`, d.t(canonical.TableStops), d.real(), d.real(), d.ref(canonical.TableStops, "stop_id")),
				fmt.Sprintf(`CREATE INDEX idx_transport_stops_parent ON %s (parent_station_id)`, d.t(canonical.TableStops)),
			}
		},
	},
	canonical.TableRoutes: {
		Name: canonical.TableRoutes,
		build: func(d ddl) []string {
			return []string{
				fmt.Sprintf(`CREATE TABLE %s (
	route_id   TEXT PRIMARY KEY,
	feed_id    TEXT NOT NULL,
	source_id  TEXT NOT NULL,
	short_name TEXT NOT NULL DEFAULT '',
	long_name  TEXT NOT NULL DEFAULT '',
	route_type TEXT NOT NULL CHECK (route_type IN ('bus', 'rail', 'subway', 'tram', 'ferry', 'cable_car', 'gondola', 'funicular', 'trolleybus', 'monorail', 'coach', 'other')),
	updated_at TEXT NOT NULL,
	UNIQUE (feed_id, source_id)
)`, d.t(canonical.TableRoutes)),
			}
		},
	},
	canonical.TableShapes: {
		Name: canonical.TableShapes,
		build: func(d ddl) []string {
			return []string{
				fmt.Sprintf(`CREATE TABLE %s (
	shape_id    TEXT PRIMARY KEY,
	feed_id     TEXT NOT NULL,
	source_id   TEXT NOT NULL,
	geometry    TEXT NOT NULL,
	point_count INTEGER NOT NULL,
	updated_at  TEXT NOT NULL,
	UNIQUE (feed_id, source_id)
)`, d.t(canonical.TableShapes)),
			}
		},
	},
	canonical.TableTrips: {
		Name:      canonical.TableTrips,
		DependsOn: []string{canonical.TableRoutes, canonical.TableShapes},
		build: func(d ddl) []string {
			return []string{
				fmt.Sprintf(`CREATE TABLE %s (
	trip_id    TEXT PRIMARY KEY,
	feed_id    TEXT NOT NULL,
	source_id  TEXT NOT NULL,
	route_id   TEXT NOT NULL %s,
	shape_id   TEXT %s,
	direction  INTEGER,
	headsign   TEXT NOT NULL DEFAULT '',
	updated_at TEXT NOT NULL,
	UNIQUE (feed_id, source_id)
)`, d.t(canonical.TableTrips), d.ref(canonical.TableRoutes, "route_id"), d.ref(canonical.TableShapes, "shape_id")),
				fmt.Sprintf(`CREATE INDEX idx_transport_trips_route ON %s (route_id)`, d.t(canonical.TableTrips)),
			}
		},
	},
	canonical.TableSchedule: {
		Name:      canonical.TableSchedule,
		DependsOn: []string{canonical.TableTrips, canonical.TableStops},
		build: func(d ddl) []string {
			return []string{
				fmt.Sprintf(`CREATE TABLE %s (
	trip_id        TEXT NOT NULL %s,
	stop_sequence  INTEGER NOT NULL CHECK (stop_sequence >= 0),
	stop_id        TEXT NOT NULL %s,
	feed_id        TEXT NOT NULL,
	arrival_time   TEXT,
	departure_time TEXT,
	PRIMARY KEY (trip_id, stop_sequence)
)`, d.t(canonical.TableSchedule), d.ref(canonical.TableTrips, "trip_id"), d.ref(canonical.TableStops, "stop_id")),
				fmt.Sprintf(`CREATE INDEX idx_transport_schedule_stop ON %s (stop_id)`, d.t(canonical.TableSchedule)),
			}
		},
	},
	canonical.TableFares: {
		Name: canonical.TableFares,
		build: func(d ddl) []string {
			return []string{
				fmt.Sprintf(`CREATE TABLE %s (
	fare_id           TEXT PRIMARY KEY,
	feed_id           TEXT NOT NULL,
	source_id         TEXT NOT NULL,
	price             %s NOT NULL,
	currency          TEXT NOT NULL,
	payment_method    INTEGER NOT NULL,
	transfers         INTEGER,
	transfer_duration INTEGER,
	updated_at        TEXT NOT NULL,
	UNIQUE (feed_id, source_id)
)`, d.t(canonical.TableFares), d.real()),
			}
		},
	},
	canonical.TableTransfers: {
		Name:      canonical.TableTransfers,
		DependsOn: []string{canonical.TableStops},
		build: func(d ddl) []string {
			return []string{
				fmt.Sprintf(`CREATE TABLE %s (
	from_stop_id      TEXT NOT NULL %s,
	to_stop_id        TEXT NOT NULL %s,
	feed_id           TEXT NOT NULL,
	transfer_type     INTEGER NOT NULL,
	min_transfer_time INTEGER,
	PRIMARY KEY (from_stop_id, to_stop_id)
)`, d.t(canonical.TableTransfers), d.ref(canonical.TableStops, "stop_id"), d.ref(canonical.TableStops, "stop_id")),
			}
		},
	},
}

// closure expands tables with their dependencies and returns them in
// creation order.
func closure(tables []string) ([]string, error) {
	want := make(map[string]bool)
	var visit func(name string) error
	visit = func(name string) error {
		def, ok := tableDefs[name]
		if !ok {
			return fmt.Errorf("unknown canonical table %q", name)
		}
		if want[name] {
			return nil
		}
		want[name] = true
		for _, dep := range def.DependsOn {
			if err := visit(dep); err != nil {
				return err
			}
		}
		return nil
	}
	for _, t := range tables {
		if err := visit(t); err != nil {
			return nil, err
		}
	}

	ordered := make([]string, 0, len(want))
	for _, name := range creationOrder {
		if want[name] {
			ordered = append(ordered, name)
		}
	}
	return ordered, nil
}
