package canonical

import "strings"

// Data-context flags derived from a transformed record set.
const (
	FlagHasFareData     = "has_fare_data"
	FlagHasTransferData = "has_transfer_data"
	FlagHasShapeData    = "has_shape_data"
)

// DataContext is the set of flags observed in a record set. It drives the
// creation of optional tables.
type DataContext map[string]bool

// NewDataContext computes the flags of rs.
func NewDataContext(rs *RecordSet) DataContext {
	return DataContext{
		FlagHasFareData:     len(rs.Fares) > 0,
		FlagHasTransferData: len(rs.Transfers) > 0,
		FlagHasShapeData:    len(rs.Shapes) > 0,
	}
}

// FlagFor returns the conventional flag name for an optional table:
// transport_fares -> has_fare_data.
func FlagFor(table string) string {
	name := strings.TrimPrefix(table, "transport_")
	name = strings.TrimSuffix(name, "s")
	return "has_" + name + "_data"
}

// DefaultShouldCreate creates an optional table when its conventional flag is set.
func DefaultShouldCreate(table string, dc DataContext) bool {
	return dc[FlagFor(table)]
}
