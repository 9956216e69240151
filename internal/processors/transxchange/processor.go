// Package transxchange is the static processor for TransXChange, the UK
// bus timetable exchange format. A delivery is one XML file or a zip of
// them, typically one per service.
package transxchange

import (
	"context"
	"fmt"
	"io"

	"github.com/mini-rodalies-3d/transitpipe/internal/canonical"
	"github.com/mini-rodalies-3d/transitpipe/internal/failure"
	"github.com/mini-rodalies-3d/transitpipe/internal/processor"
	"github.com/mini-rodalies-3d/transitpipe/internal/processors/staticfeed"
	"github.com/mini-rodalies-3d/transitpipe/internal/registry"
)

const FormatType = "transxchange"

type Processor struct {
	opts processor.Options
	ws   *staticfeed.Workspace
}

func New(opts processor.Options) *Processor {
	opts = opts.WithDefaults()
	return &Processor{opts: opts, ws: staticfeed.NewWorkspace(opts)}
}

// Register adds the TransXChange factory to reg.
func Register(reg *registry.Registry[processor.StaticProcessor], opts processor.Options) error {
	return reg.Register(FormatType, func() processor.StaticProcessor { return New(opts) })
}

func (p *Processor) Metadata() processor.Metadata {
	return processor.Metadata{
		FormatType:     FormatType,
		Kind:           processor.KindStatic,
		RequiredTables: canonical.CoreTables,
		EstimatedRowCounts: map[string]int{
			canonical.TableStops:    2_000,
			canonical.TableTrips:    10_000,
			canonical.TableSchedule: 300_000,
		},
		Hooks: []processor.Capability{processor.CapValidateSource, processor.CapCleanup},
	}
}

func (p *Processor) ValidateSource(_ context.Context, src processor.Source) error {
	return p.ws.Validate(src)
}

func (p *Processor) Extract(ctx context.Context, src processor.Source) (*processor.RawPayload, error) {
	return p.ws.Extract(ctx, src, FormatType, "txc.payload")
}

func (p *Processor) Transform(ctx context.Context, raw *processor.RawPayload) (*canonical.RecordSet, error) {
	if raw == nil || raw.Path == "" {
		return nil, failure.Malformed("transform transxchange", staticfeed.ErrNoPayload)
	}

	b := newBuilder(raw.FeedID)
	files := 0
	err := staticfeed.EachFile(raw.Path, staticfeed.IsXML, func(name string, r io.Reader) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		doc, err := decode(r)
		if err != nil {
			return failure.Malformed("decode "+name, err)
		}
		files++
		b.add(doc)
		return nil
	})
	if err != nil {
		return nil, err
	}

	rs := b.rs
	if files == 0 || (len(rs.Stops) == 0 && len(rs.Trips) == 0) {
		return nil, failure.Malformed("transform transxchange", fmt.Errorf("no stop points or vehicle journeys in %d files", files))
	}
	rs.Source = raw.Source
	rs.Checksum = raw.Checksum
	rs.Reconcile()

	p.opts.Logger.Debug("transxchange transformed",
		"feed", raw.FeedID,
		"files", files,
		"stops", len(rs.Stops),
		"journeys", len(rs.Trips),
		"warnings", len(rs.Warnings))
	return rs, nil
}

func (p *Processor) Load(ctx context.Context, rs *canonical.RecordSet, h processor.SchemaHandle) (canonical.LoadResult, error) {
	return h.UpsertRecordSet(ctx, rs)
}

func (p *Processor) Cleanup() error {
	return p.ws.Cleanup()
}
