// Package netex is the static processor for NeTEx timetable deliveries
// (Nordic and EPIP profiles), as a single XML file or a zip of them.
//
// Stop places, quays and scheduled stop points become stops; lines become
// routes; service journeys become trips, with passing times resolved through
// their journey pattern. Service link projections are not read, so NeTEx
// feeds contribute no shapes.
package netex

import (
	"context"

	"github.com/mini-rodalies-3d/transitpipe/internal/canonical"
	"github.com/mini-rodalies-3d/transitpipe/internal/failure"
	"github.com/mini-rodalies-3d/transitpipe/internal/processor"
	"github.com/mini-rodalies-3d/transitpipe/internal/processors/staticfeed"
	"github.com/mini-rodalies-3d/transitpipe/internal/registry"
)

const FormatType = "netex"

type Processor struct {
	opts processor.Options
	ws   *staticfeed.Workspace
}

func New(opts processor.Options) *Processor {
	opts = opts.WithDefaults()
	return &Processor{opts: opts, ws: staticfeed.NewWorkspace(opts)}
}

// Register adds the NeTEx factory to reg.
func Register(reg *registry.Registry[processor.StaticProcessor], opts processor.Options) error {
	return reg.Register(FormatType, func() processor.StaticProcessor { return New(opts) })
}

func (p *Processor) Metadata() processor.Metadata {
	return processor.Metadata{
		FormatType:     FormatType,
		Kind:           processor.KindStatic,
		RequiredTables: canonical.CoreTables,
		EstimatedRowCounts: map[string]int{
			canonical.TableStops:    10_000,
			canonical.TableTrips:    50_000,
			canonical.TableSchedule: 1_000_000,
		},
		Hooks: []processor.Capability{processor.CapValidateSource, processor.CapCleanup},
	}
}

func (p *Processor) ValidateSource(_ context.Context, src processor.Source) error {
	return p.ws.Validate(src)
}

func (p *Processor) Extract(ctx context.Context, src processor.Source) (*processor.RawPayload, error) {
	return p.ws.Extract(ctx, src, FormatType, "netex.payload")
}

func (p *Processor) Transform(ctx context.Context, raw *processor.RawPayload) (*canonical.RecordSet, error) {
	if raw == nil || raw.Path == "" {
		return nil, failure.Malformed("transform netex", staticfeed.ErrNoPayload)
	}
	doc, err := parse(ctx, raw.Path)
	if err != nil {
		return nil, err
	}

	rs := doc.toRecordSet(raw.FeedID)
	rs.Source = raw.Source
	rs.Checksum = raw.Checksum
	rs.Reconcile()

	p.opts.Logger.Debug("netex transformed",
		"feed", raw.FeedID,
		"stops", len(rs.Stops),
		"lines", len(rs.Routes),
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
