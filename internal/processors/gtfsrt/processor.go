// Package gtfsrt is the real-time processor for GTFS-Realtime protobuf
// feeds. Vehicle positions and service alerts are read from the same
// FeedMessage; trip updates are ignored.
package gtfsrt

import (
	"context"
	"fmt"
	"time"

	gtfs "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/proto"

	"github.com/mini-rodalies-3d/transitpipe/internal/canonical"
	"github.com/mini-rodalies-3d/transitpipe/internal/failure"
	"github.com/mini-rodalies-3d/transitpipe/internal/processor"
	"github.com/mini-rodalies-3d/transitpipe/internal/registry"
	"github.com/mini-rodalies-3d/transitpipe/internal/source"
)

const FormatType = "gtfs-rt"

// preferredLanguages orders translations when an alert carries several.
var preferredLanguages = []string{"en", ""}

// Processor reads GTFS-Realtime protobuf feeds.
type Processor struct {
	opts processor.Options
}

// New creates a GTFS-RT processor.
func New(opts processor.Options) *Processor {
	return &Processor{opts: opts.WithDefaults()}
}

// Register adds the GTFS-RT factory to reg.
func Register(reg *registry.Registry[processor.RealtimeProcessor], opts processor.Options) error {
	return reg.Register(FormatType, func() processor.RealtimeProcessor { return New(opts) })
}

func (p *Processor) Metadata() processor.Metadata {
	return processor.Metadata{FormatType: FormatType, Kind: processor.KindRealtime}
}

// Fetch GETs the feed, retrying transient failures within ctx.
func (p *Processor) Fetch(ctx context.Context, feed processor.RealtimeFeed) (*processor.RawPayload, error) {
	resp, err := source.Fetch(ctx, p.opts.HTTPClient, source.Request{
		URL:     feed.URL,
		Headers: feed.Headers,
		Params:  feed.Params,
		Retries: p.opts.FetchRetries,
	})
	if err != nil {
		return nil, err
	}
	return &processor.RawPayload{
		FeedID:      feed.ID,
		Format:      FormatType,
		Source:      feed.URL,
		Body:        resp.Body,
		ContentType: resp.ContentType,
		FetchedAt:   resp.FetchedAt,
	}, nil
}

// Parse decodes a FeedMessage into vehicles and alerts. Entities without a
// position are skipped; a payload that is not a FeedMessage is malformed.
func (p *Processor) Parse(_ context.Context, raw *processor.RawPayload) (*canonical.FeedData, error) {
	if raw == nil {
		return nil, failure.Malformed("parse gtfs-rt", fmt.Errorf("nil payload"))
	}
	msg := &gtfs.FeedMessage{}
	if err := proto.Unmarshal(raw.Body, msg); err != nil {
		return nil, failure.Malformed("parse gtfs-rt", fmt.Errorf("failed to parse protobuf: %w", err))
	}

	fallback := raw.FetchedAt
	if ts := msg.GetHeader().GetTimestamp(); ts > 0 {
		fallback = time.Unix(int64(ts), 0).UTC()
	}

	data := &canonical.FeedData{
		Vehicles: []canonical.VehiclePosition{},
		Alerts:   []canonical.ServiceAlert{},
	}
	for _, entity := range msg.GetEntity() {
		if entity.GetIsDeleted() {
			continue
		}
		if v := entity.GetVehicle(); v != nil {
			if pos, ok := vehiclePosition(entity.GetId(), v, raw.FeedID, fallback); ok {
				data.Vehicles = append(data.Vehicles, pos)
			}
		}
		if a := entity.GetAlert(); a != nil {
			data.Alerts = append(data.Alerts, serviceAlert(entity.GetId(), a, raw.FeedID))
		}
	}
	return data, nil
}

func vehiclePosition(entityID string, v *gtfs.VehiclePosition, feedID string, fallback time.Time) (canonical.VehiclePosition, bool) {
	if v.Position == nil {
		return canonical.VehiclePosition{}, false
	}

	pos := canonical.VehiclePosition{
		VehicleID:    v.GetVehicle().GetId(),
		Label:        v.GetVehicle().GetLabel(),
		TripID:       v.GetTrip().GetTripId(),
		RouteID:      v.GetTrip().GetRouteId(),
		Latitude:     float64(v.GetPosition().GetLatitude()),
		Longitude:    float64(v.GetPosition().GetLongitude()),
		Timestamp:    fallback,
		SourceFeedID: feedID,
	}
	// Vehicle key falls back to the label, then the entity.
	if pos.VehicleID == "" {
		pos.VehicleID = pos.Label
	}
	if pos.VehicleID == "" {
		pos.VehicleID = "entity:" + entityID
	}

	if v.Position.Bearing != nil {
		b := canonical.NormalizeBearing(float64(*v.Position.Bearing))
		pos.Bearing = &b
	}
	if v.Position.Speed != nil {
		s := float64(*v.Position.Speed)
		pos.SpeedMetersPerSecond = &s
	}
	if v.CurrentStatus != nil {
		pos.CurrentStatus = StatusMap[int32(*v.CurrentStatus)]
	}
	if v.Timestamp != nil {
		pos.Timestamp = time.Unix(int64(*v.Timestamp), 0).UTC()
	}
	return pos, true
}

func serviceAlert(entityID string, a *gtfs.Alert, feedID string) canonical.ServiceAlert {
	alert := canonical.ServiceAlert{
		AlertID:          entityID,
		HeaderText:       translate(a.GetHeaderText()),
		DescriptionText:  translate(a.GetDescriptionText()),
		AffectedEntities: []canonical.EntityRef{},
		SourceFeedID:     feedID,
	}
	if a.Cause != nil {
		alert.Cause = CauseMap[int32(*a.Cause)]
	}
	if a.Effect != nil {
		alert.Effect = EffectMap[int32(*a.Effect)]
	}

	for _, period := range a.GetActivePeriod() {
		var ap canonical.ActivePeriod
		if period.Start != nil {
			t := time.Unix(int64(*period.Start), 0).UTC()
			ap.Start = &t
		}
		if period.End != nil {
			t := time.Unix(int64(*period.End), 0).UTC()
			ap.End = &t
		}
		alert.ActivePeriods = append(alert.ActivePeriods, ap)
	}

	for _, ie := range a.GetInformedEntity() {
		ref := canonical.EntityRef{
			RouteID: ie.GetRouteId(),
			StopID:  ie.GetStopId(),
			TripID:  ie.GetTrip().GetTripId(),
		}
		if ref == (canonical.EntityRef{}) {
			continue
		}
		alert.AffectedEntities = append(alert.AffectedEntities, ref)
	}
	return alert
}

// translate picks one translation: the preferred languages first, then
// whatever comes first.
func translate(ts *gtfs.TranslatedString) string {
	tr := ts.GetTranslation()
	for _, lang := range preferredLanguages {
		for _, t := range tr {
			if t.GetLanguage() == lang && t.GetText() != "" {
				return t.GetText()
			}
		}
	}
	for _, t := range tr {
		if t.GetText() != "" {
			return t.GetText()
		}
	}
	return ""
}
