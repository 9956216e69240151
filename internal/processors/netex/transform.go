package netex

import (
	"strings"

	"github.com/mini-rodalies-3d/transitpipe/internal/canonical"
	"github.com/mini-rodalies-3d/transitpipe/internal/processors/staticfeed"
)

// RouteType maps a NeTEx TransportMode (VehicleModeEnumeration) to the
// canonical mode.
func RouteType(mode string) canonical.RouteType {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "bus":
		return canonical.RouteTypeBus
	case "coach":
		return canonical.RouteTypeCoach
	case "rail", "intercityrail", "urbanrail":
		return canonical.RouteTypeRail
	case "metro":
		return canonical.RouteTypeSubway
	case "tram":
		return canonical.RouteTypeTram
	case "water", "ferry":
		return canonical.RouteTypeFerry
	case "cableway":
		return canonical.RouteTypeCableCar
	case "telecabin", "lift":
		return canonical.RouteTypeGondola
	case "funicular":
		return canonical.RouteTypeFunicular
	case "trolleybus":
		return canonical.RouteTypeTrolleybus
	case "monorail":
		return canonical.RouteTypeMonorail
	}
	return canonical.RouteTypeOther
}

func direction(t string) *int {
	var d int
	switch strings.ToLower(t) {
	case "outbound", "clockwise":
		d = 0
	case "inbound", "anticlockwise":
		d = 1
	default:
		return nil
	}
	return &d
}

// passingClock combines a time of day with a day offset.
func passingClock(v string, dayOffset int) (string, error) {
	if v == "" {
		return "", nil
	}
	secs, err := staticfeed.ParseClock(v)
	if err != nil {
		return "", err
	}
	return staticfeed.FormatClock(secs + dayOffset*24*3600), nil
}

func (d *document) toRecordSet(feedID string) *canonical.RecordSet {
	rs := &canonical.RecordSet{FeedID: feedID, Format: FormatType}
	id := func(src string) string { return canonical.ID(feedID, src) }

	// Stop places become parent stations of their quays.
	seen := make(map[string]bool)
	addStop := func(s canonical.Stop) {
		if seen[s.SourceID] {
			return
		}
		seen[s.SourceID] = true
		rs.Stops = append(rs.Stops, s)
	}
	for _, sp := range d.stopPlaces {
		var parent *string
		if sp.Centroid != nil && sp.Centroid.Location != nil {
			addStop(canonical.Stop{
				StopID:   id(sp.ID),
				SourceID: sp.ID,
				Name:     sp.Name,
				Lat:      sp.Centroid.Location.Latitude,
				Lon:      sp.Centroid.Location.Longitude,
			})
			p := id(sp.ID)
			parent = &p
		}
		for _, q := range sp.Quays {
			if q.Centroid == nil || q.Centroid.Location == nil {
				rs.Warnf("quay %s: no location, dropped", q.ID)
				continue
			}
			name := q.Name
			if name == "" {
				name = sp.Name
			}
			addStop(canonical.Stop{
				StopID:          id(q.ID),
				SourceID:        q.ID,
				Name:            name,
				Lat:             q.Centroid.Location.Latitude,
				Lon:             q.Centroid.Location.Longitude,
				ParentStationID: parent,
			})
		}
	}

	// A scheduled stop point assigned to a quay or stop place resolves to
	// it; otherwise it stands as a stop of its own when it has a location.
	assigned := make(map[string]string)
	for _, a := range d.assignments {
		target := a.QuayRef.Ref
		if target == "" {
			target = a.StopPlaceRef.Ref
		}
		if target != "" && a.ScheduledStopPointRef.Ref != "" {
			assigned[a.ScheduledStopPointRef.Ref] = target
		}
	}
	for _, ssp := range d.stopPoints {
		if _, ok := assigned[ssp.ID]; ok {
			continue
		}
		if ssp.Location == nil {
			rs.Warnf("scheduled stop point %s: no location and no assignment, dropped", ssp.ID)
			continue
		}
		addStop(canonical.Stop{
			StopID:   id(ssp.ID),
			SourceID: ssp.ID,
			Name:     ssp.Name,
			Lat:      ssp.Location.Latitude,
			Lon:      ssp.Location.Longitude,
		})
	}
	stopFor := func(ssp string) string {
		if t, ok := assigned[ssp]; ok {
			return id(t)
		}
		return id(ssp)
	}

	for _, l := range d.lines {
		short := l.PublicCode
		if short == "" {
			short = l.ShortName
		}
		rs.Routes = append(rs.Routes, canonical.Route{
			RouteID:   id(l.ID),
			SourceID:  l.ID,
			ShortName: short,
			LongName:  l.Name,
			Type:      RouteType(l.TransportMode),
		})
	}

	routes := make(map[string]route, len(d.routes))
	for _, r := range d.routes {
		routes[r.ID] = r
	}
	patterns := make(map[string]journeyPattern, len(d.patterns))
	for _, p := range d.patterns {
		patterns[p.ID] = p
	}

	for _, sj := range d.journeys {
		pattern, hasPattern := patterns[sj.patternRef()]
		lineRef := sj.LineRef.Ref
		var dir *int
		if hasPattern {
			if r, ok := routes[pattern.RouteRef.Ref]; ok {
				if lineRef == "" {
					lineRef = r.LineRef.Ref
				}
				dir = direction(r.DirectionType)
			}
		}
		if lineRef == "" {
			rs.Warnf("service journey %s: no line, dropped", sj.ID)
			continue
		}

		rs.Trips = append(rs.Trips, canonical.Trip{
			TripID:    id(sj.ID),
			SourceID:  sj.ID,
			RouteID:   id(lineRef),
			Direction: dir,
			Headsign:  sj.Name,
		})

		points := make(map[string]stopPointInJourneyPattern, len(pattern.Points))
		for i, p := range pattern.Points {
			if p.Order == 0 {
				p.Order = i + 1
			}
			points[p.ID] = p
		}
		for _, pt := range sj.PassingTimes {
			p, ok := points[pt.PointRef.Ref]
			if !ok {
				rs.Warnf("service journey %s: unknown point %s, dropped", sj.ID, pt.PointRef.Ref)
				continue
			}
			arr, err := passingClock(pt.ArrivalTime, pt.ArrivalDayOffset)
			if err != nil {
				rs.Warnf("service journey %s: %v, dropped", sj.ID, err)
				continue
			}
			dep, err := passingClock(pt.DepartureTime, pt.DepartureDayOffset)
			if err != nil {
				rs.Warnf("service journey %s: %v, dropped", sj.ID, err)
				continue
			}
			if arr == "" {
				arr = dep
			}
			if dep == "" {
				dep = arr
			}
			rs.Schedule = append(rs.Schedule, canonical.ScheduleEntry{
				TripID:        id(sj.ID),
				StopSequence:  p.Order,
				StopID:        stopFor(p.ScheduledStopPointRef.Ref),
				ArrivalTime:   arr,
				DepartureTime: dep,
			})
		}
	}

	return rs
}
