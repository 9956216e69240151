// Package siri is the real-time processor for SIRI Vehicle Monitoring and
// Situation Exchange deliveries, in XML or the JSON rendering.
package siri

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"github.com/mini-rodalies-3d/transitpipe/internal/canonical"
	"github.com/mini-rodalies-3d/transitpipe/internal/failure"
	"github.com/mini-rodalies-3d/transitpipe/internal/processor"
	"github.com/mini-rodalies-3d/transitpipe/internal/registry"
	"github.com/mini-rodalies-3d/transitpipe/internal/source"
)

const FormatType = "siri"

// Processor reads SIRI VM and SX deliveries, in XML or JSON.
type Processor struct {
	opts processor.Options
}

// New creates a SIRI processor.
func New(opts processor.Options) *Processor {
	return &Processor{opts: opts.WithDefaults()}
}

// Register adds the SIRI factory to reg.
func Register(reg *registry.Registry[processor.RealtimeProcessor], opts processor.Options) error {
	return reg.Register(FormatType, func() processor.RealtimeProcessor { return New(opts) })
}

func (p *Processor) Metadata() processor.Metadata {
	return processor.Metadata{FormatType: FormatType, Kind: processor.KindRealtime}
}

// Fetch GETs the feed, retrying transient failures within ctx.
func (p *Processor) Fetch(ctx context.Context, feed processor.RealtimeFeed) (*processor.RawPayload, error) {
	headers := map[string]string{"Accept": "application/xml, application/json;q=0.9"}
	for k, v := range feed.Headers {
		headers[k] = v
	}
	resp, err := source.Fetch(ctx, p.opts.HTTPClient, source.Request{
		URL:     feed.URL,
		Headers: headers,
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

// Parse decodes a service delivery. Activities without a location are
// skipped.
func (p *Processor) Parse(_ context.Context, raw *processor.RawPayload) (*canonical.FeedData, error) {
	if raw == nil {
		return nil, failure.Malformed("parse siri", fmt.Errorf("nil payload"))
	}
	doc, err := decode(raw.Body, raw.ContentType)
	if err != nil {
		return nil, failure.Malformed("parse siri", err)
	}

	fallback := raw.FetchedAt
	if t, ok := parseTime(doc.ServiceDelivery.ResponseTimestamp); ok {
		fallback = t
	}

	data := &canonical.FeedData{
		Vehicles: []canonical.VehiclePosition{},
		Alerts:   []canonical.ServiceAlert{},
	}
	for _, d := range doc.ServiceDelivery.VehicleMonitoringDelivery {
		for _, va := range d.VehicleActivity {
			if v, ok := vehiclePosition(va, raw.FeedID, fallback); ok {
				data.Vehicles = append(data.Vehicles, v)
			}
		}
	}
	for _, d := range doc.ServiceDelivery.SituationExchangeDelivery {
		for _, s := range d.Situations {
			if strings.EqualFold(s.Progress, "closed") {
				continue
			}
			data.Alerts = append(data.Alerts, serviceAlert(s, raw.FeedID))
		}
	}
	return data, nil
}

func decode(body []byte, contentType string) (*document, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty body")
	}

	if strings.Contains(contentType, "json") || trimmed[0] == '{' {
		var env jsonEnvelope
		if err := json.Unmarshal(trimmed, &env); err != nil {
			return nil, fmt.Errorf("failed to decode json: %w", err)
		}
		if env.Siri == nil {
			return nil, fmt.Errorf("no Siri element")
		}
		return env.Siri, nil
	}

	var doc document
	if err := xml.Unmarshal(trimmed, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode xml: %w", err)
	}
	return &doc, nil
}

func parseTime(v string) (time.Time, bool) {
	if v == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(v))
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}

func vehiclePosition(va vehicleActivity, feedID string, fallback time.Time) (canonical.VehiclePosition, bool) {
	j := va.MonitoredVehicleJourney
	loc := j.VehicleLocation
	if loc == nil || loc.Latitude == nil || loc.Longitude == nil {
		return canonical.VehiclePosition{}, false
	}

	v := canonical.VehiclePosition{
		VehicleID:    j.VehicleRef,
		Label:        j.PublishedLineName,
		TripID:       j.tripID(),
		RouteID:      j.LineRef,
		Latitude:     *loc.Latitude,
		Longitude:    *loc.Longitude,
		Timestamp:    fallback,
		SourceFeedID: feedID,
	}
	if v.VehicleID == "" {
		v.VehicleID = "journey:" + v.TripID
	}
	if t, ok := parseTime(va.RecordedAtTime); ok {
		v.Timestamp = t
	}
	if j.Bearing != nil {
		b := canonical.NormalizeBearing(*j.Bearing)
		v.Bearing = &b
	}
	if j.Velocity != nil {
		s := *j.Velocity
		v.SpeedMetersPerSecond = &s
	}
	v.CurrentStatus = vehicleStatus(j)
	return v, true
}

// vehicleStatus expresses SIRI's at-stop flag with the GTFS-RT status names.
func vehicleStatus(j monitoredVehicleJourney) string {
	if j.MonitoredCall == nil || j.MonitoredCall.VehicleAtStop == nil {
		return ""
	}
	if *j.MonitoredCall.VehicleAtStop {
		return "STOPPED_AT"
	}
	return "IN_TRANSIT_TO"
}

func serviceAlert(s ptSituationElement, feedID string) canonical.ServiceAlert {
	alert := canonical.ServiceAlert{
		AlertID:          s.SituationNumber,
		HeaderText:       pickText(s.Summary),
		DescriptionText:  pickText(s.Description),
		Cause:            cause(s),
		AffectedEntities: []canonical.EntityRef{},
		SourceFeedID:     feedID,
	}
	if s.Consequences != nil {
		for _, c := range s.Consequences.Consequence {
			if e := effect(c.Condition); e != "" {
				alert.Effect = e
				break
			}
		}
	}

	for _, vp := range s.ValidityPeriod {
		var ap canonical.ActivePeriod
		if t, ok := parseTime(vp.StartTime); ok {
			ap.Start = &t
		}
		if t, ok := parseTime(vp.EndTime); ok {
			ap.End = &t
		}
		alert.ActivePeriods = append(alert.ActivePeriods, ap)
	}

	if a := s.Affects; a != nil {
		if a.Networks != nil {
			for _, n := range a.Networks.AffectedNetwork {
				for _, l := range n.AffectedLine {
					if l.LineRef != "" {
						alert.AffectedEntities = append(alert.AffectedEntities, canonical.EntityRef{RouteID: l.LineRef})
					}
				}
			}
		}
		if a.StopPoints != nil {
			for _, sp := range a.StopPoints.AffectedStopPoint {
				if sp.StopPointRef != "" {
					alert.AffectedEntities = append(alert.AffectedEntities, canonical.EntityRef{StopID: sp.StopPointRef})
				}
			}
		}
		if a.VehicleJourneys != nil {
			for _, vj := range a.VehicleJourneys.AffectedVehicleJourney {
				ref := canonical.EntityRef{RouteID: vj.LineRef, TripID: vj.DatedVehicleJourneyRef}
				if vj.FramedVehicleJourneyRef != nil && vj.FramedVehicleJourneyRef.DatedVehicleJourneyRef != "" {
					ref.TripID = vj.FramedVehicleJourneyRef.DatedVehicleJourneyRef
				}
				if ref != (canonical.EntityRef{}) {
					alert.AffectedEntities = append(alert.AffectedEntities, ref)
				}
			}
		}
	}
	return alert
}

// pickText prefers English, then untagged text, then the first entry.
func pickText(texts []naturalLanguageString) string {
	for _, lang := range []string{"en", ""} {
		for _, t := range texts {
			if strings.EqualFold(t.Lang, lang) && strings.TrimSpace(t.Text) != "" {
				return strings.TrimSpace(t.Text)
			}
		}
	}
	for _, t := range texts {
		if s := strings.TrimSpace(t.Text); s != "" {
			return s
		}
	}
	return ""
}
