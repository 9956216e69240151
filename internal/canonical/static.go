// Package canonical holds the single normalized data shape every processor
// produces: static records destined for the canonical tables, and the
// real-time vehicle/alert model held in memory.
package canonical

import (
	"fmt"
	"sort"
	"strings"
)

// Canonical table names.
const (
	TableStops     = "transport_stops"
	TableRoutes    = "transport_routes"
	TableShapes    = "transport_shapes"
	TableTrips     = "transport_trips"
	TableSchedule  = "transport_schedule"
	TableFares     = "transport_fares"
	TableTransfers = "transport_transfers"
)

// CoreTables are the tables every static processor loads into.
var CoreTables = []string{TableStops, TableRoutes, TableShapes, TableTrips, TableSchedule}

// RouteType is the canonical transport mode of a route.
type RouteType string

const (
	RouteTypeBus        RouteType = "bus"
	RouteTypeRail       RouteType = "rail"
	RouteTypeSubway     RouteType = "subway"
	RouteTypeTram       RouteType = "tram"
	RouteTypeFerry      RouteType = "ferry"
	RouteTypeCableCar   RouteType = "cable_car"
	RouteTypeGondola    RouteType = "gondola"
	RouteTypeFunicular  RouteType = "funicular"
	RouteTypeTrolleybus RouteType = "trolleybus"
	RouteTypeMonorail   RouteType = "monorail"
	RouteTypeCoach      RouteType = "coach"
	RouteTypeOther      RouteType = "other"
)

// ID builds the canonical primary key of a record: the feed id namespaces the
// source identifier so that re-imports of the same feed hit the same row.
func ID(feedID, sourceID string) string {
	return feedID + ":" + sourceID
}

// SourceOf strips the feed namespace from a canonical id.
func SourceOf(id string) string {
	if i := strings.IndexByte(id, ':'); i >= 0 {
		return id[i+1:]
	}
	return id
}

// Stop is a row of transport_stops.
type Stop struct {
	StopID          string
	SourceID        string
	Name            string
	Lat             float64
	Lon             float64
	ParentStationID *string
}

// Route is a row of transport_routes.
type Route struct {
	RouteID   string
	SourceID  string
	ShortName string
	LongName  string
	Type      RouteType
}

// ShapePoint is one vertex of a shape, ordered by Sequence.
type ShapePoint struct {
	Lat      float64
	Lon      float64
	Sequence int
}

// Shape is a row of transport_shapes.
type Shape struct {
	ShapeID  string
	SourceID string
	Points   []ShapePoint
}

// Trip is a row of transport_trips.
type Trip struct {
	TripID    string
	SourceID  string
	RouteID   string
	ShapeID   *string
	Direction *int
	Headsign  string
}

// ScheduleEntry is a row of transport_schedule.
type ScheduleEntry struct {
	TripID        string
	StopSequence  int
	StopID        string
	ArrivalTime   string
	DepartureTime string
}

// Fare is a row of the optional transport_fares table.
type Fare struct {
	FareID           string
	SourceID         string
	Price            float64
	Currency         string
	PaymentMethod    int
	Transfers        *int
	TransferDuration *int
}

// Transfer is a row of the optional transport_transfers table.
type Transfer struct {
	FromStopID      string
	ToStopID        string
	TransferType    int
	MinTransferTime *int
}

// RecordSet is the output of a static transform: everything one feed
// contributes to the canonical schema.
type RecordSet struct {
	FeedID    string
	Format    string
	Source    string
	Checksum  string
	Stops     []Stop
	Routes    []Route
	Shapes    []Shape
	Trips     []Trip
	Schedule  []ScheduleEntry
	Fares     []Fare
	Transfers []Transfer

	// Warnings are record-level problems: dropped or repaired records.
	Warnings []string
}

// Warnf records a record-level problem.
func (rs *RecordSet) Warnf(format string, args ...any) {
	rs.Warnings = append(rs.Warnings, fmt.Sprintf(format, args...))
}

// Counts returns the number of records per canonical table.
func (rs *RecordSet) Counts() map[string]int {
	counts := map[string]int{
		TableStops:    len(rs.Stops),
		TableRoutes:   len(rs.Routes),
		TableShapes:   len(rs.Shapes),
		TableTrips:    len(rs.Trips),
		TableSchedule: len(rs.Schedule),
	}
	if len(rs.Fares) > 0 {
		counts[TableFares] = len(rs.Fares)
	}
	if len(rs.Transfers) > 0 {
		counts[TableTransfers] = len(rs.Transfers)
	}
	return counts
}

// SortSchedule orders schedule entries by trip, then stop_sequence.
func (rs *RecordSet) SortSchedule() {
	sort.SliceStable(rs.Schedule, func(i, j int) bool {
		a, b := rs.Schedule[i], rs.Schedule[j]
		if a.TripID != b.TripID {
			return a.TripID < b.TripID
		}
		return a.StopSequence < b.StopSequence
	})
}

// Reconcile enforces the referential invariants of the canonical schema on an
// in-memory record set. Records that would violate them are dropped (or, for
// parent stations and shapes, the dangling reference is cleared) and a
// warning is recorded for each. Schedule entries end up sorted with strictly
// increasing stop_sequence per trip.
func (rs *RecordSet) Reconcile() {
	stops := make(map[string]bool, len(rs.Stops))
	for _, s := range rs.Stops {
		stops[s.StopID] = true
	}
	for i := range rs.Stops {
		p := rs.Stops[i].ParentStationID
		if p != nil && (!stops[*p] || *p == rs.Stops[i].StopID) {
			rs.Warnf("stop %s: parent station %s not found, cleared", rs.Stops[i].SourceID, SourceOf(*p))
			rs.Stops[i].ParentStationID = nil
		}
	}

	routes := make(map[string]bool, len(rs.Routes))
	for _, r := range rs.Routes {
		routes[r.RouteID] = true
	}
	shapes := make(map[string]bool, len(rs.Shapes))
	keptShapes := rs.Shapes[:0]
	for _, s := range rs.Shapes {
		if len(s.Points) < 2 {
			rs.Warnf("shape %s: %d points, dropped", s.SourceID, len(s.Points))
			continue
		}
		sort.SliceStable(s.Points, func(i, j int) bool { return s.Points[i].Sequence < s.Points[j].Sequence })
		shapes[s.ShapeID] = true
		keptShapes = append(keptShapes, s)
	}
	rs.Shapes = keptShapes

	trips := make(map[string]bool, len(rs.Trips))
	kept := rs.Trips[:0]
	for _, t := range rs.Trips {
		if !routes[t.RouteID] {
			rs.Warnf("trip %s: unknown route %s, dropped", t.SourceID, SourceOf(t.RouteID))
			continue
		}
		if t.ShapeID != nil && !shapes[*t.ShapeID] {
			rs.Warnf("trip %s: unknown shape %s, cleared", t.SourceID, SourceOf(*t.ShapeID))
			t.ShapeID = nil
		}
		trips[t.TripID] = true
		kept = append(kept, t)
	}
	rs.Trips = kept

	rs.SortSchedule()
	sched := rs.Schedule[:0]
	lastTrip, lastSeq := "", 0
	for _, e := range rs.Schedule {
		if !trips[e.TripID] {
			rs.Warnf("stop_time %s/%d: unknown trip, dropped", SourceOf(e.TripID), e.StopSequence)
			continue
		}
		if !stops[e.StopID] {
			rs.Warnf("stop_time %s/%d: unknown stop %s, dropped", SourceOf(e.TripID), e.StopSequence, SourceOf(e.StopID))
			continue
		}
		if e.TripID == lastTrip && e.StopSequence <= lastSeq {
			rs.Warnf("stop_time %s/%d: duplicate stop_sequence, dropped", SourceOf(e.TripID), e.StopSequence)
			continue
		}
		lastTrip, lastSeq = e.TripID, e.StopSequence
		sched = append(sched, e)
	}
	rs.Schedule = sched

	transfers := rs.Transfers[:0]
	for _, t := range rs.Transfers {
		if !stops[t.FromStopID] || !stops[t.ToStopID] {
			rs.Warnf("transfer %s->%s: unknown stop, dropped", SourceOf(t.FromStopID), SourceOf(t.ToStopID))
			continue
		}
		transfers = append(transfers, t)
	}
	rs.Transfers = transfers
}

// LoadResult summarises what a load wrote.
type LoadResult struct {
	Rows map[string]int
}
