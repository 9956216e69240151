package processor

import (
	"context"
	"fmt"
	"slices"

	"github.com/mini-rodalies-3d/transitpipe/internal/canonical"
)

// Capability names an optional lifecycle hook. A processor lists the hooks it
// implements in Metadata.Hooks; orchestrators only call declared hooks.
type Capability string

const (
	CapValidateSource Capability = "validate_source"
	CapCleanup        Capability = "cleanup"
	CapTablePredicate Capability = "table_predicate"
)

// SourceValidator checks a source before anything is extracted.
type SourceValidator interface {
	ValidateSource(ctx context.Context, src Source) error
}

// Cleaner releases the processor's workspace and any open source handles.
type Cleaner interface {
	Cleanup() error
}

// TablePredicate decides whether an optional table is needed for the
// observed data context.
type TablePredicate interface {
	ShouldCreate(table string, dc canonical.DataContext) bool
}

// Has reports whether the metadata declares c.
func (m Metadata) Has(c Capability) bool {
	return slices.Contains(m.Hooks, c)
}

// Implemented lists the hooks p actually implements.
func Implemented(p any) []Capability {
	var caps []Capability
	if _, ok := p.(SourceValidator); ok {
		caps = append(caps, CapValidateSource)
	}
	if _, ok := p.(Cleaner); ok {
		caps = append(caps, CapCleanup)
	}
	if _, ok := p.(TablePredicate); ok {
		caps = append(caps, CapTablePredicate)
	}
	return caps
}

// CheckHooks fails when the declared hooks and the implemented ones disagree,
// so that a hook is never silently skipped or silently inherited.
func CheckHooks(p interface{ Metadata() Metadata }) error {
	meta := p.Metadata()
	impl := Implemented(p)
	for _, c := range meta.Hooks {
		if !slices.Contains(impl, c) {
			return fmt.Errorf("processor %q declares hook %s but does not implement it", meta.FormatType, c)
		}
	}
	for _, c := range impl {
		if !meta.Has(c) {
			return fmt.Errorf("processor %q implements hook %s without declaring it", meta.FormatType, c)
		}
	}
	return nil
}

// ShouldCreate applies p's table predicate when declared, and the default
// flag-based predicate otherwise.
func ShouldCreate(p StaticProcessor, table string, dc canonical.DataContext) bool {
	if p.Metadata().Has(CapTablePredicate) {
		if tp, ok := p.(TablePredicate); ok {
			return tp.ShouldCreate(table, dc)
		}
	}
	return canonical.DefaultShouldCreate(table, dc)
}
