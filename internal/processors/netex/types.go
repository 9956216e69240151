package netex

// Element shapes decoded from a NeTEx publication delivery. Tags carry no
// namespace so that both the plain and the prefixed forms match.

type ref struct {
	Ref string `xml:"ref,attr"`
}

type location struct {
	Longitude float64 `xml:"Longitude"`
	Latitude  float64 `xml:"Latitude"`
}

type centroid struct {
	Location *location `xml:"Location"`
}

type scheduledStopPoint struct {
	ID       string    `xml:"id,attr"`
	Name     string    `xml:"Name"`
	Location *location `xml:"Location"`
}

type quay struct {
	ID       string    `xml:"id,attr"`
	Name     string    `xml:"Name"`
	Centroid *centroid `xml:"Centroid"`
}

type stopPlace struct {
	ID       string    `xml:"id,attr"`
	Name     string    `xml:"Name"`
	Centroid *centroid `xml:"Centroid"`
	Quays    []quay    `xml:"quays>Quay"`
}

type passengerStopAssignment struct {
	ScheduledStopPointRef ref `xml:"ScheduledStopPointRef"`
	StopPlaceRef          ref `xml:"StopPlaceRef"`
	QuayRef               ref `xml:"QuayRef"`
}

type line struct {
	ID            string `xml:"id,attr"`
	Name          string `xml:"Name"`
	ShortName     string `xml:"ShortName"`
	PublicCode    string `xml:"PublicCode"`
	TransportMode string `xml:"TransportMode"`
}

type route struct {
	ID            string `xml:"id,attr"`
	Name          string `xml:"Name"`
	LineRef       ref    `xml:"LineRef"`
	DirectionType string `xml:"DirectionType"`
}

type stopPointInJourneyPattern struct {
	ID                    string `xml:"id,attr"`
	Order                 int    `xml:"order,attr"`
	ScheduledStopPointRef ref    `xml:"ScheduledStopPointRef"`
}

type journeyPattern struct {
	ID       string                      `xml:"id,attr"`
	RouteRef ref                         `xml:"RouteRef"`
	Points   []stopPointInJourneyPattern `xml:"pointsInSequence>StopPointInJourneyPattern"`
}

type passingTime struct {
	PointRef           ref    `xml:"StopPointInJourneyPatternRef"`
	ArrivalTime        string `xml:"ArrivalTime"`
	ArrivalDayOffset   int    `xml:"ArrivalDayOffset"`
	DepartureTime      string `xml:"DepartureTime"`
	DepartureDayOffset int    `xml:"DepartureDayOffset"`
}

type serviceJourney struct {
	ID                       string        `xml:"id,attr"`
	Name                     string        `xml:"Name"`
	LineRef                  ref           `xml:"LineRef"`
	JourneyPatternRef        ref           `xml:"JourneyPatternRef"`
	ServiceJourneyPatternRef ref           `xml:"ServiceJourneyPatternRef"`
	PassingTimes             []passingTime `xml:"passingTimes>TimetabledPassingTime"`
}

func (sj serviceJourney) patternRef() string {
	if sj.JourneyPatternRef.Ref != "" {
		return sj.JourneyPatternRef.Ref
	}
	return sj.ServiceJourneyPatternRef.Ref
}

// document accumulates elements across every file of a delivery. Frames may
// reference elements defined in another file, so references are resolved
// only once everything is read.
type document struct {
	stopPoints  []scheduledStopPoint
	stopPlaces  []stopPlace
	assignments []passengerStopAssignment
	lines       []line
	routes      []route
	patterns    []journeyPattern
	journeys    []serviceJourney
}

func (d *document) empty() bool {
	return len(d.stopPoints) == 0 && len(d.stopPlaces) == 0 && len(d.journeys) == 0
}
