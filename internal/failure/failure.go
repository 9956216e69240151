// Package failure classifies pipeline errors so that orchestrators can decide
// whether a feed failure is transient, permanent for the cycle, or fatal for
// the whole run.
package failure

import (
	"errors"
	"fmt"
)

// Sentinel kinds. Match with errors.Is.
var (
	// ErrSourceUnreachable is a transient I/O failure reaching a feed source.
	// It is retried at the next scheduled run, never inside a static run.
	ErrSourceUnreachable = errors.New("source unreachable")

	// ErrMalformedPayload means the payload could not be decoded into the
	// canonical model. Permanent for the current cycle.
	ErrMalformedPayload = errors.New("malformed payload")

	// ErrSchemaConflict is a DDL failure. Fatal for the load step of one feed.
	ErrSchemaConflict = errors.New("schema conflict")

	// ErrRegistryLookup means a configured feed type has no registered
	// processor. Fatal at configuration validation time.
	ErrRegistryLookup = errors.New("registry lookup failure")
)

// Error carries a kind, the operation that failed and the underlying cause.
type Error struct {
	Kind error
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func wrap(kind error, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Unreachable wraps err as ErrSourceUnreachable.
func Unreachable(op string, err error) error { return wrap(ErrSourceUnreachable, op, err) }

// Malformed wraps err as ErrMalformedPayload.
func Malformed(op string, err error) error { return wrap(ErrMalformedPayload, op, err) }

// SchemaConflict wraps err as ErrSchemaConflict.
func SchemaConflict(op string, err error) error { return wrap(ErrSchemaConflict, op, err) }

// Lookup reports an unresolvable format type.
func Lookup(formatType string) error {
	return wrap(ErrRegistryLookup, "resolve", fmt.Errorf("no processor registered for type %q", formatType))
}

// Kind returns the report label of err, or "internal" when err carries no kind.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrSourceUnreachable):
		return "source_unreachable"
	case errors.Is(err, ErrMalformedPayload):
		return "malformed_payload"
	case errors.Is(err, ErrSchemaConflict):
		return "schema_conflict"
	case errors.Is(err, ErrRegistryLookup):
		return "registry_lookup_failure"
	default:
		return "internal"
	}
}

// Retryable reports whether a later attempt may succeed without operator action.
func Retryable(err error) bool {
	return errors.Is(err, ErrSourceUnreachable)
}
