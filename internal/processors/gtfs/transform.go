package gtfs

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mini-rodalies-3d/transitpipe/internal/canonical"
	"github.com/mini-rodalies-3d/transitpipe/internal/processors/staticfeed"
)

// RouteType maps a GTFS route_type, basic or extended, to the canonical
// transport mode.
func RouteType(t int) canonical.RouteType {
	switch t {
	case 0:
		return canonical.RouteTypeTram
	case 1:
		return canonical.RouteTypeSubway
	case 2:
		return canonical.RouteTypeRail
	case 3:
		return canonical.RouteTypeBus
	case 4:
		return canonical.RouteTypeFerry
	case 5:
		return canonical.RouteTypeCableCar
	case 6:
		return canonical.RouteTypeGondola
	case 7:
		return canonical.RouteTypeFunicular
	case 11:
		return canonical.RouteTypeTrolleybus
	case 12:
		return canonical.RouteTypeMonorail
	}

	// Extended route types.
	switch {
	case t == 405:
		return canonical.RouteTypeMonorail
	case t >= 100 && t < 200, t >= 300 && t < 400:
		return canonical.RouteTypeRail
	case t >= 200 && t < 300:
		return canonical.RouteTypeCoach
	case t >= 400 && t < 500:
		return canonical.RouteTypeSubway
	case t >= 700 && t < 800:
		return canonical.RouteTypeBus
	case t == 800:
		return canonical.RouteTypeTrolleybus
	case t >= 900 && t < 1000:
		return canonical.RouteTypeTram
	case t >= 1000 && t < 1300:
		return canonical.RouteTypeFerry
	case t >= 1300 && t < 1400:
		return canonical.RouteTypeGondola
	case t >= 1400 && t < 1500:
		return canonical.RouteTypeFunicular
	}
	return canonical.RouteTypeOther
}

// NormalizeTime turns a GTFS H:MM:SS time, which may exceed 24:00:00 for
// trips running past midnight, into zero-padded HH:MM:SS.
func NormalizeTime(v string) (string, error) {
	if v == "" {
		return "", nil
	}
	if strings.Count(v, ":") != 2 {
		return "", fmt.Errorf("invalid time %q", v)
	}
	secs, err := staticfeed.ParseClock(v)
	if err != nil {
		return "", err
	}
	return staticfeed.FormatClock(secs), nil
}

// toRecordSet maps parsed GTFS onto the canonical model. Referential
// repairs are left to RecordSet.Reconcile.
func (d *Data) toRecordSet(feedID string) *canonical.RecordSet {
	rs := &canonical.RecordSet{FeedID: feedID, Format: FormatType}
	rs.Warnings = append(rs.Warnings, d.Warnings...)
	id := func(src string) string { return canonical.ID(feedID, src) }

	for _, s := range d.Stops {
		if s.StopID == "" {
			rs.Warnf("stop without stop_id, dropped")
			continue
		}
		if !s.HasCoords {
			rs.Warnf("stop %s: no coordinates, dropped", s.StopID)
			continue
		}
		stop := canonical.Stop{
			StopID:   id(s.StopID),
			SourceID: s.StopID,
			Name:     s.StopName,
			Lat:      s.StopLat,
			Lon:      s.StopLon,
		}
		if s.ParentStation != "" {
			p := id(s.ParentStation)
			stop.ParentStationID = &p
		}
		rs.Stops = append(rs.Stops, stop)
	}

	for _, r := range d.Routes {
		if r.RouteID == "" {
			rs.Warnf("route without route_id, dropped")
			continue
		}
		rs.Routes = append(rs.Routes, canonical.Route{
			RouteID:   id(r.RouteID),
			SourceID:  r.RouteID,
			ShortName: r.RouteShortName,
			LongName:  r.RouteLongName,
			Type:      RouteType(r.RouteType),
		})
	}

	shapeIDs := make([]string, 0, len(d.Shapes))
	for shapeID := range d.Shapes {
		shapeIDs = append(shapeIDs, shapeID)
	}
	sort.Strings(shapeIDs)
	for _, shapeID := range shapeIDs {
		pts := d.Shapes[shapeID]
		shape := canonical.Shape{ShapeID: id(shapeID), SourceID: shapeID}
		for _, p := range pts {
			shape.Points = append(shape.Points, canonical.ShapePoint{
				Lat:      p.ShapePtLat,
				Lon:      p.ShapePtLon,
				Sequence: p.ShapePtSequence,
			})
		}
		rs.Shapes = append(rs.Shapes, shape)
	}

	for _, t := range d.Trips {
		if t.TripID == "" {
			rs.Warnf("trip without trip_id, dropped")
			continue
		}
		trip := canonical.Trip{
			TripID:    id(t.TripID),
			SourceID:  t.TripID,
			RouteID:   id(t.RouteID),
			Direction: t.DirectionID,
			Headsign:  t.TripHeadsign,
		}
		if t.ShapeID != "" {
			s := id(t.ShapeID)
			trip.ShapeID = &s
		}
		rs.Trips = append(rs.Trips, trip)
	}

	for _, st := range d.StopTimes {
		arr, err := NormalizeTime(st.ArrivalTime)
		if err != nil {
			rs.Warnf("stop_time %s/%d: %v, dropped", st.TripID, st.StopSequence, err)
			continue
		}
		dep, err := NormalizeTime(st.DepartureTime)
		if err != nil {
			rs.Warnf("stop_time %s/%d: %v, dropped", st.TripID, st.StopSequence, err)
			continue
		}
		if st.StopSequence < 0 {
			rs.Warnf("stop_time %s/%d: negative stop_sequence, dropped", st.TripID, st.StopSequence)
			continue
		}
		rs.Schedule = append(rs.Schedule, canonical.ScheduleEntry{
			TripID:        id(st.TripID),
			StopSequence:  st.StopSequence,
			StopID:        id(st.StopID),
			ArrivalTime:   arr,
			DepartureTime: dep,
		})
	}

	for _, f := range d.Fares {
		rs.Fares = append(rs.Fares, canonical.Fare{
			FareID:           id(f.FareID),
			SourceID:         f.FareID,
			Price:            f.Price,
			Currency:         f.CurrencyType,
			PaymentMethod:    f.PaymentMethod,
			Transfers:        f.Transfers,
			TransferDuration: f.TransferDuration,
		})
	}

	for _, t := range d.Transfers {
		rs.Transfers = append(rs.Transfers, canonical.Transfer{
			FromStopID:      id(t.FromStopID),
			ToStopID:        id(t.ToStopID),
			TransferType:    t.TransferType,
			MinTransferTime: t.MinTransferTime,
		})
	}

	return rs
}
