package transxchange

// Element shapes decoded from a TransXChange document.

// location accepts both the WGS84 form and the Translation wrapper used
// alongside Easting/Northing.
type location struct {
	Longitude   *float64 `xml:"Longitude"`
	Latitude    *float64 `xml:"Latitude"`
	Translation *struct {
		Longitude *float64 `xml:"Longitude"`
		Latitude  *float64 `xml:"Latitude"`
	} `xml:"Translation"`
}

// coords returns lat, lon and whether WGS84 coordinates were present.
func (l *location) coords() (float64, float64, bool) {
	if l == nil {
		return 0, 0, false
	}
	if l.Latitude != nil && l.Longitude != nil {
		return *l.Latitude, *l.Longitude, true
	}
	if t := l.Translation; t != nil && t.Latitude != nil && t.Longitude != nil {
		return *t.Latitude, *t.Longitude, true
	}
	return 0, 0, false
}

type annotatedStopPointRef struct {
	StopPointRef string    `xml:"StopPointRef"`
	CommonName   string    `xml:"CommonName"`
	Location     *location `xml:"Location"`
}

type stopPoint struct {
	AtcoCode   string    `xml:"AtcoCode"`
	CommonName string    `xml:"Descriptor>CommonName"`
	Location   *location `xml:"Place>Location"`
}

type routeLink struct {
	ID        string     `xml:"id,attr"`
	Locations []location `xml:"Track>Mapping>Location"`
}

type routeSection struct {
	ID    string      `xml:"id,attr"`
	Links []routeLink `xml:"RouteLink"`
}

type txcRoute struct {
	ID              string   `xml:"id,attr"`
	RouteSectionRef []string `xml:"RouteSectionRef"`
}

type linkEnd struct {
	SequenceNumber int    `xml:"SequenceNumber,attr"`
	StopPointRef   string `xml:"StopPointRef"`
	WaitTime       string `xml:"WaitTime"`
}

type timingLink struct {
	ID      string  `xml:"id,attr"`
	From    linkEnd `xml:"From"`
	To      linkEnd `xml:"To"`
	RunTime string  `xml:"RunTime"`
}

type journeyPatternSection struct {
	ID    string       `xml:"id,attr"`
	Links []timingLink `xml:"JourneyPatternTimingLink"`
}

type journeyPattern struct {
	ID          string   `xml:"id,attr"`
	Direction   string   `xml:"Direction"`
	RouteRef    string   `xml:"RouteRef"`
	SectionRefs []string `xml:"JourneyPatternSectionRefs"`
}

type txcLine struct {
	ID       string `xml:"id,attr"`
	LineName string `xml:"LineName"`
}

type service struct {
	ServiceCode string           `xml:"ServiceCode"`
	Lines       []txcLine        `xml:"Lines>Line"`
	Mode        string           `xml:"Mode"`
	Description string           `xml:"Description"`
	Origin      string           `xml:"StandardService>Origin"`
	Destination string           `xml:"StandardService>Destination"`
	Patterns    []journeyPattern `xml:"StandardService>JourneyPattern"`
}

type vehicleJourney struct {
	VehicleJourneyCode string `xml:"VehicleJourneyCode"`
	ServiceRef         string `xml:"ServiceRef"`
	LineRef            string `xml:"LineRef"`
	JourneyPatternRef  string `xml:"JourneyPatternRef"`
	DepartureTime      string `xml:"DepartureTime"`
	DestinationDisplay string `xml:"DestinationDisplay"`
}

// document is one TransXChange file. Identifiers other than ATCO codes are
// only unique within their file.
type document struct {
	annotated []annotatedStopPointRef
	stops     []stopPoint
	sections  []routeSection
	routes    []txcRoute
	jpSection []journeyPatternSection
	services  []service
	journeys  []vehicleJourney
}
