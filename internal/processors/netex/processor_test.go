package netex

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mini-rodalies-3d/transitpipe/internal/canonical"
	"github.com/mini-rodalies-3d/transitpipe/internal/failure"
	"github.com/mini-rodalies-3d/transitpipe/internal/processor"
	"github.com/mini-rodalies-3d/transitpipe/internal/testutil"
)

const stopsXML = `<?xml version="1.0" encoding="UTF-8"?>
<PublicationDelivery xmlns="http://www.netex.org.uk/netex" version="1.0">
  <dataObjects>
    <SiteFrame id="SF">
      <stopPlaces>
        <StopPlace id="NSR:StopPlace:1" version="1">
          <Name>Oslo S</Name>
          <Centroid><Location><Longitude>10.7522</Longitude><Latitude>59.9111</Latitude></Location></Centroid>
          <quays>
            <Quay id="NSR:Quay:1" version="1">
              <Centroid><Location><Longitude>10.7523</Longitude><Latitude>59.9112</Latitude></Location></Centroid>
            </Quay>
          </quays>
        </StopPlace>
      </stopPlaces>
    </SiteFrame>
  </dataObjects>
</PublicationDelivery>`

const lineXML = `<?xml version="1.0" encoding="UTF-8"?>
<PublicationDelivery xmlns="http://www.netex.org.uk/netex" version="1.0">
  <dataObjects>
    <CompositeFrame id="CF">
      <frames>
        <ServiceFrame id="SVF">
          <routes>
            <Route id="R:1"><Name>Out</Name><LineRef ref="L:1"/><DirectionType>outbound</DirectionType></Route>
          </routes>
          <lines>
            <Line id="L:1"><Name>Oslo - Ski</Name><PublicCode>L2</PublicCode><TransportMode>rail</TransportMode></Line>
          </lines>
          <scheduledStopPoints>
            <ScheduledStopPoint id="SSP:1"><Name>Oslo S</Name></ScheduledStopPoint>
            <ScheduledStopPoint id="SSP:2"><Name>Ski</Name>
              <Location><Longitude>10.8357</Longitude><Latitude>59.7193</Latitude></Location>
            </ScheduledStopPoint>
            <ScheduledStopPoint id="SSP:3"><Name>Nowhere</Name></ScheduledStopPoint>
          </scheduledStopPoints>
          <stopAssignments>
            <PassengerStopAssignment id="PSA:1" order="1">
              <ScheduledStopPointRef ref="SSP:1"/>
              <QuayRef ref="NSR:Quay:1"/>
            </PassengerStopAssignment>
          </stopAssignments>
          <journeyPatterns>
            <JourneyPattern id="JP:1">
              <RouteRef ref="R:1"/>
              <pointsInSequence>
                <StopPointInJourneyPattern id="P:1" order="1"><ScheduledStopPointRef ref="SSP:1"/></StopPointInJourneyPattern>
                <StopPointInJourneyPattern id="P:2" order="2"><ScheduledStopPointRef ref="SSP:2"/></StopPointInJourneyPattern>
              </pointsInSequence>
            </JourneyPattern>
          </journeyPatterns>
        </ServiceFrame>
        <TimetableFrame id="TF">
          <vehicleJourneys>
            <ServiceJourney id="SJ:1">
              <Name>Ski</Name>
              <JourneyPatternRef ref="JP:1"/>
              <passingTimes>
                <TimetabledPassingTime><StopPointInJourneyPatternRef ref="P:1"/><DepartureTime>23:50:00</DepartureTime></TimetabledPassingTime>
                <TimetabledPassingTime><StopPointInJourneyPatternRef ref="P:2"/><ArrivalTime>00:15:00</ArrivalTime><ArrivalDayOffset>1</ArrivalDayOffset></TimetabledPassingTime>
              </passingTimes>
            </ServiceJourney>
          </vehicleJourneys>
        </TimetableFrame>
      </frames>
    </CompositeFrame>
  </dataObjects>
</PublicationDelivery>`

func transform(t *testing.T, path string) (*canonical.RecordSet, error) {
	t.Helper()
	ctx := context.Background()
	p := New(processor.Options{WorkDir: t.TempDir()})
	t.Cleanup(func() { p.Cleanup() })

	src := processor.Source{FeedID: "entur", Path: path}
	require.NoError(t, p.ValidateSource(ctx, src))
	raw, err := p.Extract(ctx, src)
	require.NoError(t, err)
	return p.Transform(ctx, raw)
}

func TestTransformZippedDelivery(t *testing.T) {
	path := testutil.WriteZip(t, "netex.zip", map[string]string{
		"_stops_shared.xml": stopsXML,
		"line_L2.xml":       lineXML,
	})

	rs, err := transform(t, path)
	require.NoError(t, err)

	ids := make([]string, 0, len(rs.Stops))
	for _, s := range rs.Stops {
		ids = append(ids, s.SourceID)
	}
	assert.ElementsMatch(t, []string{"NSR:StopPlace:1", "NSR:Quay:1", "SSP:2"}, ids)

	require.Len(t, rs.Routes, 1)
	assert.Equal(t, "L2", rs.Routes[0].ShortName)
	assert.Equal(t, canonical.RouteTypeRail, rs.Routes[0].Type)

	require.Len(t, rs.Trips, 1)
	assert.Equal(t, "entur:L:1", rs.Trips[0].RouteID)
	require.NotNil(t, rs.Trips[0].Direction)
	assert.Equal(t, 0, *rs.Trips[0].Direction)

	require.Len(t, rs.Schedule, 2)
	assert.Equal(t, "entur:NSR:Quay:1", rs.Schedule[0].StopID, "assigned stop points resolve to the quay")
	assert.Equal(t, "23:50:00", rs.Schedule[0].ArrivalTime)
	assert.Equal(t, "24:15:00", rs.Schedule[1].ArrivalTime, "day offset extends past midnight")

	assert.Contains(t, rs.Warnings, "scheduled stop point SSP:3: no location and no assignment, dropped")
}

func TestTransformPlainXML(t *testing.T) {
	rs, err := transform(t, testutil.WriteFile(t, "stops.xml", stopsXML))
	require.NoError(t, err)
	assert.Len(t, rs.Stops, 2)
	require.NotNil(t, rs.Stops[1].ParentStationID)
	assert.Equal(t, "entur:NSR:StopPlace:1", *rs.Stops[1].ParentStationID)
}

func TestTransformMalformed(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"broken xml", `<PublicationDelivery><StopPlace id="x"><Name>oops</StopPlace>`},
		{"no content", `<PublicationDelivery></PublicationDelivery>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := transform(t, testutil.WriteFile(t, "bad.xml", tt.content))
			assert.ErrorIs(t, err, failure.ErrMalformedPayload)
		})
	}
}

func TestRouteTypeModes(t *testing.T) {
	assert.Equal(t, canonical.RouteTypeSubway, RouteType("metro"))
	assert.Equal(t, canonical.RouteTypeFerry, RouteType("water"))
	assert.Equal(t, canonical.RouteTypeOther, RouteType("air"))
}

func TestHooksMatchImplementation(t *testing.T) {
	assert.NoError(t, processor.CheckHooks(New(processor.Options{})))
}
