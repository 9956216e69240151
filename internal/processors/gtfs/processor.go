// Package gtfs is the static processor for GTFS schedule archives.
package gtfs

import (
	"context"

	"github.com/mini-rodalies-3d/transitpipe/internal/canonical"
	"github.com/mini-rodalies-3d/transitpipe/internal/failure"
	"github.com/mini-rodalies-3d/transitpipe/internal/processor"
	"github.com/mini-rodalies-3d/transitpipe/internal/processors/staticfeed"
	"github.com/mini-rodalies-3d/transitpipe/internal/registry"
)

// FormatType is the feed type this processor is registered under.
const FormatType = "gtfs"

// Processor imports one GTFS feed. Instances are single-use.
type Processor struct {
	opts processor.Options
	ws   *staticfeed.Workspace
}

// New returns a processor with its own workspace.
func New(opts processor.Options) *Processor {
	opts = opts.WithDefaults()
	return &Processor{opts: opts, ws: staticfeed.NewWorkspace(opts)}
}

// Register adds the GTFS factory to reg.
func Register(reg *registry.Registry[processor.StaticProcessor], opts processor.Options) error {
	return reg.Register(FormatType, func() processor.StaticProcessor { return New(opts) })
}

func (p *Processor) Metadata() processor.Metadata {
	return processor.Metadata{
		FormatType:     FormatType,
		Kind:           processor.KindStatic,
		RequiredTables: canonical.CoreTables,
		OptionalTables: []string{canonical.TableFares, canonical.TableTransfers},
		EstimatedRowCounts: map[string]int{
			canonical.TableStops:    5_000,
			canonical.TableRoutes:   200,
			canonical.TableShapes:   1_000,
			canonical.TableTrips:    50_000,
			canonical.TableSchedule: 1_000_000,
		},
		Hooks: []processor.Capability{processor.CapValidateSource, processor.CapCleanup},
	}
}

// ValidateSource rejects sources that are neither a readable file nor an
// http(s) URL.
func (p *Processor) ValidateSource(_ context.Context, src processor.Source) error {
	return p.ws.Validate(src)
}

func (p *Processor) Extract(ctx context.Context, src processor.Source) (*processor.RawPayload, error) {
	return p.ws.Extract(ctx, src, FormatType, "gtfs.zip")
}

func (p *Processor) Transform(ctx context.Context, raw *processor.RawPayload) (*canonical.RecordSet, error) {
	if raw == nil || raw.Path == "" {
		return nil, failure.Malformed("transform gtfs", staticfeed.ErrNoPayload)
	}
	data, err := Parse(ctx, raw.Path)
	if err != nil {
		return nil, err
	}

	rs := data.toRecordSet(raw.FeedID)
	rs.Source = raw.Source
	rs.Checksum = raw.Checksum
	rs.Reconcile()

	p.opts.Logger.Debug("gtfs transformed",
		"feed", raw.FeedID,
		"stops", len(rs.Stops),
		"routes", len(rs.Routes),
		"trips", len(rs.Trips),
		"stop_times", len(rs.Schedule),
		"warnings", len(rs.Warnings))
	return rs, nil
}

func (p *Processor) Load(ctx context.Context, rs *canonical.RecordSet, h processor.SchemaHandle) (canonical.LoadResult, error) {
	return h.UpsertRecordSet(ctx, rs)
}

// Cleanup removes the downloaded archive.
func (p *Processor) Cleanup() error {
	return p.ws.Cleanup()
}
