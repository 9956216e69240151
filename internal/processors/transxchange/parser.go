package transxchange

import (
	"encoding/xml"
	"fmt"
	"io"
)

// decode streams one TransXChange file.
func decode(r io.Reader) (*document, error) {
	doc := &document{}
	dec := xml.NewDecoder(r)

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return doc, nil
		}
		if err != nil {
			return nil, err
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}

		switch start.Name.Local {
		case "AnnotatedStopPointRef":
			var v annotatedStopPointRef
			err = dec.DecodeElement(&v, &start)
			doc.annotated = append(doc.annotated, v)
		case "StopPoint":
			var v stopPoint
			err = dec.DecodeElement(&v, &start)
			doc.stops = append(doc.stops, v)
		case "RouteSection":
			var v routeSection
			err = dec.DecodeElement(&v, &start)
			doc.sections = append(doc.sections, v)
		case "Route":
			var v txcRoute
			err = dec.DecodeElement(&v, &start)
			doc.routes = append(doc.routes, v)
		case "JourneyPatternSection":
			var v journeyPatternSection
			err = dec.DecodeElement(&v, &start)
			doc.jpSection = append(doc.jpSection, v)
		case "Service":
			var v service
			err = dec.DecodeElement(&v, &start)
			doc.services = append(doc.services, v)
		case "VehicleJourney":
			var v vehicleJourney
			err = dec.DecodeElement(&v, &start)
			doc.journeys = append(doc.journeys, v)
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", start.Name.Local, err)
		}
	}
}
