package canonical

import (
	"math"
	"time"
)

// VehiclePosition is the canonical live position of one vehicle.
type VehiclePosition struct {
	VehicleID            string    `json:"vehicleId"`
	Label                string    `json:"label,omitempty"`
	TripID               string    `json:"tripId,omitempty"`
	RouteID              string    `json:"routeId,omitempty"`
	Latitude             float64   `json:"latitude"`
	Longitude            float64   `json:"longitude"`
	Bearing              *int      `json:"bearing,omitempty"`
	SpeedMetersPerSecond *float64  `json:"speedMetersPerSecond,omitempty"`
	CurrentStatus        string    `json:"currentStatus,omitempty"`
	Timestamp            time.Time `json:"timestamp"`
	SourceFeedID         string    `json:"sourceFeedId"`
}

// EntityRef is one route/stop/trip reference affected by an alert.
type EntityRef struct {
	RouteID string `json:"routeId,omitempty"`
	StopID  string `json:"stopId,omitempty"`
	TripID  string `json:"tripId,omitempty"`
}

// ActivePeriod bounds when an alert applies. Nil ends are open.
type ActivePeriod struct {
	Start *time.Time `json:"start,omitempty"`
	End   *time.Time `json:"end,omitempty"`
}

// ServiceAlert is the canonical service disruption notice.
type ServiceAlert struct {
	AlertID          string         `json:"alertId"`
	HeaderText       string         `json:"headerText"`
	DescriptionText  string         `json:"descriptionText"`
	Cause            string         `json:"cause,omitempty"`
	Effect           string         `json:"effect,omitempty"`
	ActivePeriods    []ActivePeriod `json:"activePeriods,omitempty"`
	AffectedEntities []EntityRef    `json:"affectedEntities"`
	SourceFeedID     string         `json:"sourceFeedId"`
}

// FeedData is what one successful real-time parse yields.
type FeedData struct {
	Vehicles []VehiclePosition `json:"vehicles"`
	Alerts   []ServiceAlert    `json:"alerts"`
}

// NormalizeBearing folds any heading in degrees into [0, 359].
func NormalizeBearing(deg float64) int {
	if math.IsNaN(deg) || math.IsInf(deg, 0) {
		return 0
	}
	b := int(math.Round(deg)) % 360
	if b < 0 {
		b += 360
	}
	return b
}
