package siri

import "encoding/xml"

// SIRI delivery shapes. Both the XML form and the JSON rendering
// ({"Siri":{"ServiceDelivery":...}}) decode into the same structs.

type jsonEnvelope struct {
	Siri *document `json:"Siri"`
}

type document struct {
	XMLName         xml.Name        `xml:"Siri" json:"-"`
	ServiceDelivery serviceDelivery `xml:"ServiceDelivery" json:"ServiceDelivery"`
}

type serviceDelivery struct {
	ResponseTimestamp         string                      `xml:"ResponseTimestamp" json:"ResponseTimestamp"`
	VehicleMonitoringDelivery []vehicleMonitoringDelivery `xml:"VehicleMonitoringDelivery" json:"VehicleMonitoringDelivery"`
	SituationExchangeDelivery []situationExchangeDelivery `xml:"SituationExchangeDelivery" json:"SituationExchangeDelivery"`
}

type vehicleMonitoringDelivery struct {
	VehicleActivity []vehicleActivity `xml:"VehicleActivity" json:"VehicleActivity"`
}

type vehicleActivity struct {
	RecordedAtTime          string                  `xml:"RecordedAtTime" json:"RecordedAtTime"`
	MonitoredVehicleJourney monitoredVehicleJourney `xml:"MonitoredVehicleJourney" json:"MonitoredVehicleJourney"`
}

type framedVehicleJourneyRef struct {
	DataFrameRef           string `xml:"DataFrameRef" json:"DataFrameRef"`
	DatedVehicleJourneyRef string `xml:"DatedVehicleJourneyRef" json:"DatedVehicleJourneyRef"`
}

type vehicleLocation struct {
	Latitude  *float64 `xml:"Latitude" json:"Latitude"`
	Longitude *float64 `xml:"Longitude" json:"Longitude"`
}

type monitoredCall struct {
	StopPointRef  string `xml:"StopPointRef" json:"StopPointRef"`
	VehicleAtStop *bool  `xml:"VehicleAtStop" json:"VehicleAtStop"`
}

type monitoredVehicleJourney struct {
	LineRef                 string                   `xml:"LineRef" json:"LineRef"`
	FramedVehicleJourneyRef *framedVehicleJourneyRef `xml:"FramedVehicleJourneyRef" json:"FramedVehicleJourneyRef"`
	DatedVehicleJourneyRef  string                   `xml:"DatedVehicleJourneyRef" json:"DatedVehicleJourneyRef"`
	PublishedLineName       string                   `xml:"PublishedLineName" json:"PublishedLineName"`
	VehicleLocation         *vehicleLocation         `xml:"VehicleLocation" json:"VehicleLocation"`
	Bearing                 *float64                 `xml:"Bearing" json:"Bearing"`
	Velocity                *float64                 `xml:"Velocity" json:"Velocity"`
	VehicleStatus           string                   `xml:"VehicleStatus" json:"VehicleStatus"`
	VehicleRef              string                   `xml:"VehicleRef" json:"VehicleRef"`
	MonitoredCall           *monitoredCall           `xml:"MonitoredCall" json:"MonitoredCall"`
}

func (j monitoredVehicleJourney) tripID() string {
	if j.FramedVehicleJourneyRef != nil && j.FramedVehicleJourneyRef.DatedVehicleJourneyRef != "" {
		return j.FramedVehicleJourneyRef.DatedVehicleJourneyRef
	}
	return j.DatedVehicleJourneyRef
}

type situationExchangeDelivery struct {
	Situations []ptSituationElement `xml:"Situations>PtSituationElement" json:"Situations"`
}

type naturalLanguageString struct {
	Lang string `xml:"lang,attr" json:"lang"`
	Text string `xml:",chardata" json:"text"`
}

type validityPeriod struct {
	StartTime string `xml:"StartTime" json:"StartTime"`
	EndTime   string `xml:"EndTime" json:"EndTime"`
}

type affectedLine struct {
	LineRef string `xml:"LineRef" json:"LineRef"`
}

type affectedNetwork struct {
	AffectedLine []affectedLine `xml:"AffectedLine" json:"AffectedLine"`
}

type affectedStopPoint struct {
	StopPointRef string `xml:"StopPointRef" json:"StopPointRef"`
}

type affectedVehicleJourney struct {
	DatedVehicleJourneyRef  string                   `xml:"DatedVehicleJourneyRef" json:"DatedVehicleJourneyRef"`
	FramedVehicleJourneyRef *framedVehicleJourneyRef `xml:"FramedVehicleJourneyRef" json:"FramedVehicleJourneyRef"`
	LineRef                 string                   `xml:"LineRef" json:"LineRef"`
}

type affects struct {
	Networks *struct {
		AffectedNetwork []affectedNetwork `xml:"AffectedNetwork" json:"AffectedNetwork"`
	} `xml:"Networks" json:"Networks"`
	StopPoints *struct {
		AffectedStopPoint []affectedStopPoint `xml:"AffectedStopPoint" json:"AffectedStopPoint"`
	} `xml:"StopPoints" json:"StopPoints"`
	VehicleJourneys *struct {
		AffectedVehicleJourney []affectedVehicleJourney `xml:"AffectedVehicleJourney" json:"AffectedVehicleJourney"`
	} `xml:"VehicleJourneys" json:"VehicleJourneys"`
}

type consequence struct {
	Condition string `xml:"Condition" json:"Condition"`
}

type ptSituationElement struct {
	SituationNumber     string                  `xml:"SituationNumber" json:"SituationNumber"`
	Progress            string                  `xml:"Progress" json:"Progress"`
	ValidityPeriod      []validityPeriod        `xml:"ValidityPeriod" json:"ValidityPeriod"`
	MiscellaneousReason string                  `xml:"MiscellaneousReason" json:"MiscellaneousReason"`
	PersonnelReason     string                  `xml:"PersonnelReason" json:"PersonnelReason"`
	EquipmentReason     string                  `xml:"EquipmentReason" json:"EquipmentReason"`
	EnvironmentReason   string                  `xml:"EnvironmentReason" json:"EnvironmentReason"`
	Summary             []naturalLanguageString `xml:"Summary" json:"Summary"`
	Description         []naturalLanguageString `xml:"Description" json:"Description"`
	Affects             *affects                `xml:"Affects" json:"Affects"`
	Consequences        *struct {
		Consequence []consequence `xml:"Consequence" json:"Consequence"`
	} `xml:"Consequences" json:"Consequences"`
}
