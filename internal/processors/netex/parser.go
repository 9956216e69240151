package netex

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"

	"github.com/mini-rodalies-3d/transitpipe/internal/failure"
	"github.com/mini-rodalies-3d/transitpipe/internal/processors/staticfeed"
)

// parse reads every XML document of a NeTEx delivery, zipped or plain.
func parse(ctx context.Context, path string) (*document, error) {
	doc := &document{}
	err := staticfeed.EachFile(path, staticfeed.IsXML, func(name string, r io.Reader) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := decode(r, doc); err != nil {
			return failure.Malformed("decode "+name, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if doc.empty() {
		return nil, failure.Malformed("parse netex", fmt.Errorf("no stop points, stop places or service journeys found"))
	}
	return doc, nil
}

// decode streams r and decodes the elements of interest wherever they sit in
// the frame hierarchy.
func decode(r io.Reader, doc *document) error {
	dec := xml.NewDecoder(r)

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}

		switch start.Name.Local {
		case "ScheduledStopPoint":
			var v scheduledStopPoint
			err = dec.DecodeElement(&v, &start)
			doc.stopPoints = append(doc.stopPoints, v)
		case "StopPlace":
			var v stopPlace
			err = dec.DecodeElement(&v, &start)
			doc.stopPlaces = append(doc.stopPlaces, v)
		case "PassengerStopAssignment":
			var v passengerStopAssignment
			err = dec.DecodeElement(&v, &start)
			doc.assignments = append(doc.assignments, v)
		case "Line", "FlexibleLine":
			var v line
			err = dec.DecodeElement(&v, &start)
			doc.lines = append(doc.lines, v)
		case "Route":
			var v route
			err = dec.DecodeElement(&v, &start)
			doc.routes = append(doc.routes, v)
		case "JourneyPattern", "ServiceJourneyPattern":
			var v journeyPattern
			err = dec.DecodeElement(&v, &start)
			doc.patterns = append(doc.patterns, v)
		case "ServiceJourney":
			var v serviceJourney
			err = dec.DecodeElement(&v, &start)
			doc.journeys = append(doc.journeys, v)
		}
		if err != nil {
			return fmt.Errorf("%s: %w", start.Name.Local, err)
		}
	}
}
