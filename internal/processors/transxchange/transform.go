package transxchange

import (
	"strings"
	"time"

	"github.com/mini-rodalies-3d/transitpipe/internal/canonical"
	"github.com/mini-rodalies-3d/transitpipe/internal/processors/staticfeed"
)

// RouteType maps a TransXChange service Mode.
func RouteType(mode string) canonical.RouteType {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "bus", "":
		return canonical.RouteTypeBus
	case "coach":
		return canonical.RouteTypeCoach
	case "rail":
		return canonical.RouteTypeRail
	case "underground", "metro":
		return canonical.RouteTypeSubway
	case "tram":
		return canonical.RouteTypeTram
	case "ferry":
		return canonical.RouteTypeFerry
	case "trolleybus":
		return canonical.RouteTypeTrolleybus
	case "telecabine":
		return canonical.RouteTypeGondola
	}
	return canonical.RouteTypeOther
}

// builder merges the files of a delivery into one record set.
type builder struct {
	rs     *canonical.RecordSet
	stops  map[string]bool
	routes map[string]bool
	shapes map[string]bool
	trips  map[string]bool

	missing map[string]bool
}

func newBuilder(feedID string) *builder {
	return &builder{
		rs:     &canonical.RecordSet{FeedID: feedID, Format: FormatType},
		stops:  make(map[string]bool),
		routes: make(map[string]bool),
		shapes: make(map[string]bool),
		trips:  make(map[string]bool),

		missing: make(map[string]bool),
	}
}

func (b *builder) id(src string) string { return canonical.ID(b.rs.FeedID, src) }

func (b *builder) addStop(code, name string, loc *location) {
	if code == "" || b.stops[code] {
		return
	}
	lat, lon, ok := loc.coords()
	if !ok {
		if !b.missing[code] {
			b.missing[code] = true
			b.rs.Warnf("stop point %s: no WGS84 location, dropped", code)
		}
		return
	}
	b.stops[code] = true
	b.rs.Stops = append(b.rs.Stops, canonical.Stop{
		StopID:   b.id(code),
		SourceID: code,
		Name:     name,
		Lat:      lat,
		Lon:      lon,
	})
}

// add converts one file. Line, route and journey identifiers are scoped by
// service code since they are only unique per file.
func (b *builder) add(doc *document) {
	for _, sp := range doc.stops {
		b.addStop(sp.AtcoCode, sp.CommonName, sp.Location)
	}
	for _, a := range doc.annotated {
		b.addStop(a.StopPointRef, a.CommonName, a.Location)
	}

	sections := make(map[string]routeSection, len(doc.sections))
	for _, s := range doc.sections {
		sections[s.ID] = s
	}
	txcRoutes := make(map[string]txcRoute, len(doc.routes))
	for _, r := range doc.routes {
		txcRoutes[r.ID] = r
	}
	jpSections := make(map[string]journeyPatternSection, len(doc.jpSection))
	for _, s := range doc.jpSection {
		jpSections[s.ID] = s
	}

	type patternRef struct {
		svc     service
		pattern journeyPattern
	}
	patterns := make(map[string]patternRef)
	services := make(map[string]service, len(doc.services))
	for _, svc := range doc.services {
		services[svc.ServiceCode] = svc
		for _, l := range svc.Lines {
			key := svc.ServiceCode + ":" + l.ID
			if b.routes[key] {
				continue
			}
			b.routes[key] = true
			b.rs.Routes = append(b.rs.Routes, canonical.Route{
				RouteID:   b.id(key),
				SourceID:  key,
				ShortName: l.LineName,
				LongName:  svc.Description,
				Type:      RouteType(svc.Mode),
			})
		}
		for _, jp := range svc.Patterns {
			patterns[jp.ID] = patternRef{svc: svc, pattern: jp}
			if jp.RouteRef != "" {
				b.addShape(svc.ServiceCode, txcRoutes[jp.RouteRef], sections)
			}
		}
	}

	for _, vj := range doc.journeys {
		ref, ok := patterns[vj.JourneyPatternRef]
		if !ok {
			b.rs.Warnf("vehicle journey %s: unknown journey pattern %s, dropped", vj.VehicleJourneyCode, vj.JourneyPatternRef)
			continue
		}
		svc := ref.svc
		if s, ok := services[vj.ServiceRef]; ok {
			svc = s
		}

		lineRef := vj.LineRef
		if lineRef == "" && len(svc.Lines) > 0 {
			lineRef = svc.Lines[0].ID
		}
		tripKey := svc.ServiceCode + ":" + vj.VehicleJourneyCode
		if vj.VehicleJourneyCode == "" || b.trips[tripKey] {
			b.rs.Warnf("vehicle journey %q: missing or duplicate code, dropped", vj.VehicleJourneyCode)
			continue
		}
		b.trips[tripKey] = true

		trip := canonical.Trip{
			TripID:   b.id(tripKey),
			SourceID: tripKey,
			RouteID:  b.id(svc.ServiceCode + ":" + lineRef),
			Headsign: vj.DestinationDisplay,
		}
		switch strings.ToLower(ref.pattern.Direction) {
		case "outbound":
			d := 0
			trip.Direction = &d
			if trip.Headsign == "" {
				trip.Headsign = svc.Destination
			}
		case "inbound":
			d := 1
			trip.Direction = &d
			if trip.Headsign == "" {
				trip.Headsign = svc.Origin
			}
		}
		if shapeKey := svc.ServiceCode + ":" + ref.pattern.RouteRef; ref.pattern.RouteRef != "" && b.shapes[shapeKey] {
			s := b.id(shapeKey)
			trip.ShapeID = &s
		}
		b.rs.Trips = append(b.rs.Trips, trip)

		var links []timingLink
		for _, sref := range ref.pattern.SectionRefs {
			links = append(links, jpSections[sref].Links...)
		}
		b.addSchedule(trip.TripID, vj, links)
	}
}

func (b *builder) addShape(serviceCode string, r txcRoute, sections map[string]routeSection) {
	key := serviceCode + ":" + r.ID
	if r.ID == "" || b.shapes[key] {
		return
	}
	shape := canonical.Shape{ShapeID: b.id(key), SourceID: key}
	for _, sref := range r.RouteSectionRef {
		for _, link := range sections[sref].Links {
			for i := range link.Locations {
				lat, lon, ok := link.Locations[i].coords()
				if !ok {
					continue
				}
				shape.Points = append(shape.Points, canonical.ShapePoint{
					Lat:      lat,
					Lon:      lon,
					Sequence: len(shape.Points) + 1,
				})
			}
		}
	}
	if len(shape.Points) < 2 {
		return
	}
	b.shapes[key] = true
	b.rs.Shapes = append(b.rs.Shapes, shape)
}

// addSchedule walks the timing links from the journey's departure time,
// accumulating run and wait times.
func (b *builder) addSchedule(tripID string, vj vehicleJourney, links []timingLink) {
	if len(links) == 0 {
		b.rs.Warnf("vehicle journey %s: empty journey pattern", vj.VehicleJourneyCode)
		return
	}
	start, err := staticfeed.ParseClock(vj.DepartureTime)
	if err != nil {
		b.rs.Warnf("vehicle journey %s: %v, dropped", vj.VehicleJourneyCode, err)
		return
	}

	dur := func(v string) time.Duration {
		if v == "" {
			return 0
		}
		d, err := ParseDuration(v)
		if err != nil {
			b.rs.Warnf("vehicle journey %s: %v, ignored", vj.VehicleJourneyCode, err)
			return 0
		}
		return d
	}

	t := time.Duration(start) * time.Second
	emit := func(seq int, stop string, arr, dep time.Duration) {
		b.rs.Schedule = append(b.rs.Schedule, canonical.ScheduleEntry{
			TripID:        tripID,
			StopSequence:  seq,
			StopID:        b.id(stop),
			ArrivalTime:   staticfeed.FormatClock(int(arr.Seconds())),
			DepartureTime: staticfeed.FormatClock(int(dep.Seconds())),
		})
	}

	first := links[0].From
	arr := t
	t += dur(first.WaitTime)
	emit(1, first.StopPointRef, arr, t)

	for i, link := range links {
		t += dur(link.RunTime)
		arr := t
		t += dur(link.To.WaitTime)
		if i+1 < len(links) {
			t += dur(links[i+1].From.WaitTime)
		}
		emit(i+2, link.To.StopPointRef, arr, t)
	}
}
