// Package plugins wires the built-in processors into registries. The list
// is fixed at compile time.
package plugins

import (
	"fmt"

	"github.com/mini-rodalies-3d/transitpipe/internal/processor"
	"github.com/mini-rodalies-3d/transitpipe/internal/processors/gtfs"
	"github.com/mini-rodalies-3d/transitpipe/internal/processors/gtfsrt"
	"github.com/mini-rodalies-3d/transitpipe/internal/processors/netex"
	"github.com/mini-rodalies-3d/transitpipe/internal/processors/siri"
	"github.com/mini-rodalies-3d/transitpipe/internal/processors/transxchange"
	"github.com/mini-rodalies-3d/transitpipe/internal/registry"
)

// Registries holds one registry per processor kind.
type Registries struct {
	Static   *registry.Registry[processor.StaticProcessor]
	Realtime *registry.Registry[processor.RealtimeProcessor]
}

var (
	staticPlugins = []func(*registry.Registry[processor.StaticProcessor], processor.Options) error{
		gtfs.Register,
		netex.Register,
		transxchange.Register,
	}
	realtimePlugins = []func(*registry.Registry[processor.RealtimeProcessor], processor.Options) error{
		gtfsrt.Register,
		siri.Register,
	}
)

// Bootstrap registers every built-in processor and checks that each one
// declares exactly the hooks it implements.
func Bootstrap(opts processor.Options) (*Registries, error) {
	regs := &Registries{
		Static:   registry.New[processor.StaticProcessor](),
		Realtime: registry.New[processor.RealtimeProcessor](),
	}

	for _, register := range staticPlugins {
		if err := register(regs.Static, opts); err != nil {
			return nil, fmt.Errorf("failed to register static processor: %w", err)
		}
	}
	for _, register := range realtimePlugins {
		if err := register(regs.Realtime, opts); err != nil {
			return nil, fmt.Errorf("failed to register realtime processor: %w", err)
		}
	}

	if err := checkAll(regs.Static, processor.KindStatic); err != nil {
		return nil, err
	}
	if err := checkAll(regs.Realtime, processor.KindRealtime); err != nil {
		return nil, err
	}
	return regs, nil
}

func checkAll[T interface{ Metadata() processor.Metadata }](reg *registry.Registry[T], kind processor.Kind) error {
	for _, typ := range reg.Types() {
		p, err := reg.Resolve(typ)
		if err != nil {
			return err
		}
		meta := p.Metadata()
		if meta.FormatType != typ {
			return fmt.Errorf("processor registered as %q reports format type %q", typ, meta.FormatType)
		}
		if meta.Kind != kind {
			return fmt.Errorf("processor %q is %s, registered as %s", typ, meta.Kind, kind)
		}
		if err := processor.CheckHooks(p); err != nil {
			return err
		}
		// Resolve builds a workspace-owning instance; release it.
		if c, ok := any(p).(processor.Cleaner); ok {
			_ = c.Cleanup()
		}
	}
	return nil
}
