package gtfs

import (
	"archive/zip"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"

	"github.com/mini-rodalies-3d/transitpipe/internal/failure"
)

// maxWarningsPerFile bounds how many skipped rows are reported per file.
const maxWarningsPerFile = 20

// rowFunc consumes one CSV record. A returned error skips the row with a
// warning; it never aborts the file.
type rowFunc func(r row) error

type gtfsFile struct {
	name     string
	required bool
	columns  []string
	parse    func(d *Data) rowFunc
}

// files lists what Parse reads, in order. Missing required files or
// columns make the whole payload malformed.
var files = []gtfsFile{
	{name: "routes.txt", required: true, columns: []string{"route_id", "route_type"}, parse: parseRoute},
	{name: "stops.txt", required: true, columns: []string{"stop_id"}, parse: parseStop},
	{name: "trips.txt", required: true, columns: []string{"route_id", "trip_id"}, parse: parseTrip},
	{name: "stop_times.txt", required: true, columns: []string{"trip_id", "stop_id", "stop_sequence"}, parse: parseStopTime},
	{name: "shapes.txt", columns: []string{"shape_id", "shape_pt_lat", "shape_pt_lon", "shape_pt_sequence"}, parse: parseShapePoint},
	{name: "fare_attributes.txt", columns: []string{"fare_id", "price", "currency_type"}, parse: parseFare},
	{name: "transfers.txt", columns: []string{"from_stop_id", "to_stop_id"}, parse: parseTransfer},
}

// Parse reads a GTFS zip file and returns parsed data
func Parse(ctx context.Context, zipPath string) (*Data, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, failure.Malformed("open gtfs zip", err)
	}
	defer r.Close()

	data := &Data{
		Shapes: make(map[string][]ShapePoint),
	}

	// Some publishers nest the files in a folder.
	byName := make(map[string]*zip.File)
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		byName[path.Base(f.Name)] = f
	}

	for _, gf := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		f, ok := byName[gf.name]
		if !ok {
			if gf.required {
				return nil, failure.Malformed("parse gtfs", fmt.Errorf("missing required file %s", gf.name))
			}
			continue
		}
		if err := readFile(ctx, f, gf, gf.parse(data), &data.Warnings); err != nil {
			return nil, err
		}
	}

	return data, nil
}

type row struct {
	record []string
	idx    map[string]int
}

func (r row) get(field string) string {
	return getField(r.record, r.idx, field)
}

func (r row) atoi(field string) (int, error) {
	v := r.get(field)
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", field, v)
	}
	return n, nil
}

// optAtoi returns nil for an empty field.
func (r row) optAtoi(field string) (*int, error) {
	if r.get(field) == "" {
		return nil, nil
	}
	n, err := r.atoi(field)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func (r row) float(field string) (float64, error) {
	v := r.get(field)
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", field, v)
	}
	return f, nil
}

func readFile(ctx context.Context, f *zip.File, gf gtfsFile, fn rowFunc, warnings *[]string) error {
	rc, err := f.Open()
	if err != nil {
		return failure.Malformed("open "+gf.name, err)
	}
	defer rc.Close()

	reader := csv.NewReader(rc)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		if gf.required {
			return failure.Malformed("read "+gf.name, err)
		}
		*warnings = append(*warnings, fmt.Sprintf("%s: unreadable header, skipped", gf.name))
		return nil
	}

	idx := makeIndex(header)
	for _, col := range gf.columns {
		if _, ok := idx[col]; ok {
			continue
		}
		if gf.required {
			return failure.Malformed("read "+gf.name, fmt.Errorf("missing required column %s", col))
		}
		*warnings = append(*warnings, fmt.Sprintf("%s: missing column %s, skipped", gf.name, col))
		return nil
	}

	skipped := 0
	line := 1
	for {
		if line%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		record, err := reader.Read()
		line++
		if err == io.EOF {
			break
		}
		if err != nil {
			// Only CSV syntax errors are per-row; anything else comes from
			// the zip stream and repeats forever.
			var perr *csv.ParseError
			if !errors.As(err, &perr) {
				return failure.Malformed("read "+gf.name, err)
			}
		} else {
			err = fn(row{record: record, idx: idx})
		}
		if err != nil {
			skipped++
			if skipped <= maxWarningsPerFile {
				*warnings = append(*warnings, fmt.Sprintf("%s:%d: %v", gf.name, line, err))
			}
		}
	}
	if skipped > maxWarningsPerFile {
		*warnings = append(*warnings, fmt.Sprintf("%s: %d more rows skipped", gf.name, skipped-maxWarningsPerFile))
	}
	return nil
}

func parseRoute(d *Data) rowFunc {
	return func(r row) error {
		routeType, err := r.atoi("route_type")
		if err != nil {
			return err
		}
		d.Routes = append(d.Routes, Route{
			RouteID:        r.get("route_id"),
			AgencyID:       r.get("agency_id"),
			RouteShortName: r.get("route_short_name"),
			RouteLongName:  r.get("route_long_name"),
			RouteType:      routeType,
		})
		return nil
	}
}

func parseStop(d *Data) rowFunc {
	return func(r row) error {
		s := Stop{
			StopID:        r.get("stop_id"),
			StopName:      r.get("stop_name"),
			ParentStation: r.get("parent_station"),
		}
		if r.get("location_type") != "" {
			lt, err := r.atoi("location_type")
			if err != nil {
				return err
			}
			s.LocationType = lt
		}
		if r.get("stop_lat") != "" || r.get("stop_lon") != "" {
			lat, err := r.float("stop_lat")
			if err != nil {
				return err
			}
			lon, err := r.float("stop_lon")
			if err != nil {
				return err
			}
			s.StopLat, s.StopLon, s.HasCoords = lat, lon, true
		}
		d.Stops = append(d.Stops, s)
		return nil
	}
}

func parseTrip(d *Data) rowFunc {
	return func(r row) error {
		dir, err := r.optAtoi("direction_id")
		if err != nil {
			return err
		}
		d.Trips = append(d.Trips, Trip{
			RouteID:      r.get("route_id"),
			ServiceID:    r.get("service_id"),
			TripID:       r.get("trip_id"),
			TripHeadsign: r.get("trip_headsign"),
			DirectionID:  dir,
			ShapeID:      r.get("shape_id"),
		})
		return nil
	}
}

func parseShapePoint(d *Data) rowFunc {
	return func(r row) error {
		lat, err := r.float("shape_pt_lat")
		if err != nil {
			return err
		}
		lon, err := r.float("shape_pt_lon")
		if err != nil {
			return err
		}
		seq, err := r.atoi("shape_pt_sequence")
		if err != nil {
			return err
		}
		id := r.get("shape_id")
		d.Shapes[id] = append(d.Shapes[id], ShapePoint{
			ShapeID:         id,
			ShapePtLat:      lat,
			ShapePtLon:      lon,
			ShapePtSequence: seq,
		})
		return nil
	}
}

func parseStopTime(d *Data) rowFunc {
	return func(r row) error {
		seq, err := r.atoi("stop_sequence")
		if err != nil {
			return err
		}
		d.StopTimes = append(d.StopTimes, StopTime{
			TripID:        r.get("trip_id"),
			ArrivalTime:   r.get("arrival_time"),
			DepartureTime: r.get("departure_time"),
			StopID:        r.get("stop_id"),
			StopSequence:  seq,
		})
		return nil
	}
}

func parseFare(d *Data) rowFunc {
	return func(r row) error {
		price, err := r.float("price")
		if err != nil {
			return err
		}
		method, err := r.optAtoi("payment_method")
		if err != nil {
			return err
		}
		transfers, err := r.optAtoi("transfers")
		if err != nil {
			return err
		}
		duration, err := r.optAtoi("transfer_duration")
		if err != nil {
			return err
		}
		fa := FareAttribute{
			FareID:           r.get("fare_id"),
			Price:            price,
			CurrencyType:     r.get("currency_type"),
			Transfers:        transfers,
			TransferDuration: duration,
		}
		if method != nil {
			fa.PaymentMethod = *method
		}
		d.Fares = append(d.Fares, fa)
		return nil
	}
}

func parseTransfer(d *Data) rowFunc {
	return func(r row) error {
		tt, err := r.optAtoi("transfer_type")
		if err != nil {
			return err
		}
		minTime, err := r.optAtoi("min_transfer_time")
		if err != nil {
			return err
		}
		t := Transfer{
			FromStopID:      r.get("from_stop_id"),
			ToStopID:        r.get("to_stop_id"),
			MinTransferTime: minTime,
		}
		if tt != nil {
			t.TransferType = *tt
		}
		d.Transfers = append(d.Transfers, t)
		return nil
	}
}

func makeIndex(header []string) map[string]int {
	idx := make(map[string]int)
	for i, h := range header {
		if i == 0 {
			h = strings.TrimPrefix(h, "\ufeff")
		}
		idx[strings.TrimSpace(h)] = i
	}
	return idx
}

func getField(record []string, idx map[string]int, field string) string {
	if i, ok := idx[field]; ok && i < len(record) {
		return strings.TrimSpace(record[i])
	}
	return ""
}
