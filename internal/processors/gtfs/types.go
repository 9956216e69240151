package gtfs

// Data represents all parsed GTFS data
type Data struct {
	Routes    []Route
	Stops     []Stop
	Trips     []Trip
	Shapes    map[string][]ShapePoint // keyed by shape_id
	StopTimes []StopTime
	Fares     []FareAttribute
	Transfers []Transfer

	// Warnings are rows skipped while reading.
	Warnings []string
}

// Route represents a route from routes.txt
type Route struct {
	RouteID        string
	AgencyID       string
	RouteShortName string
	RouteLongName  string
	RouteType      int
}

// Stop represents a stop from stops.txt
type Stop struct {
	StopID        string
	StopName      string
	StopLat       float64
	StopLon       float64
	HasCoords     bool
	LocationType  int
	ParentStation string
}

// Trip represents a trip from trips.txt
type Trip struct {
	RouteID      string
	ServiceID    string
	TripID       string
	TripHeadsign string
	DirectionID  *int
	ShapeID      string
}

// ShapePoint represents a point from shapes.txt
type ShapePoint struct {
	ShapeID         string
	ShapePtLat      float64
	ShapePtLon      float64
	ShapePtSequence int
}

// StopTime represents a stop time from stop_times.txt
type StopTime struct {
	TripID        string
	ArrivalTime   string
	DepartureTime string
	StopID        string
	StopSequence  int
}

// FareAttribute represents a row of fare_attributes.txt
type FareAttribute struct {
	FareID           string
	Price            float64
	CurrencyType     string
	PaymentMethod    int
	Transfers        *int // nil means unlimited
	TransferDuration *int
}

// Transfer represents a row of transfers.txt
type Transfer struct {
	FromStopID      string
	ToStopID        string
	TransferType    int
	MinTransferTime *int
}
