// Package processor defines the contracts every format plugin satisfies.
//
// Static processors run extract -> transform -> load for one feed per run.
// Real-time processors run fetch -> parse once per poll cycle and hand the
// result back to the orchestrator, which owns the cache.
package processor

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/mini-rodalies-3d/transitpipe/internal/canonical"
)

// Kind tells static and real-time processors apart.
type Kind string

const (
	KindStatic   Kind = "static"
	KindRealtime Kind = "realtime"
)

// Metadata is what a processor declares about itself. It is not persisted;
// the schema manager and orchestrators consume it.
type Metadata struct {
	FormatType         string
	Kind               Kind
	RequiredTables     []string
	OptionalTables     []string
	RequiredExtensions []string
	EstimatedRowCounts map[string]int
	Hooks              []Capability
}

// Source locates a static feed. Exactly one of URL and Path is set.
type Source struct {
	FeedID string
	URL    string
	Path   string
}

// Location returns whichever of URL or Path is set.
func (s Source) Location() string {
	if s.URL != "" {
		return s.URL
	}
	return s.Path
}

// RealtimeFeed is the per-feed configuration handed to Fetch.
type RealtimeFeed struct {
	ID      string
	URL     string
	Headers map[string]string
	Params  map[string]string
}

// RawPayload is the untransformed output of Extract or Fetch. Static payloads
// live on disk in the processor's workspace; real-time payloads in memory.
type RawPayload struct {
	FeedID      string
	Format      string
	Source      string
	Path        string
	Body        []byte
	ContentType string
	Checksum    string
	FetchedAt   time.Time
}

// SchemaHandle is the load target. It writes a record set into the canonical
// schema in a single transaction.
type SchemaHandle interface {
	UpsertRecordSet(ctx context.Context, rs *canonical.RecordSet) (canonical.LoadResult, error)
}

// StaticProcessor is the contract of a static schedule format.
type StaticProcessor interface {
	Metadata() Metadata
	Extract(ctx context.Context, src Source) (*RawPayload, error)
	Transform(ctx context.Context, raw *RawPayload) (*canonical.RecordSet, error)
	Load(ctx context.Context, rs *canonical.RecordSet, h SchemaHandle) (canonical.LoadResult, error)
}

// RealtimeProcessor is the contract of a real-time format.
type RealtimeProcessor interface {
	Metadata() Metadata
	Fetch(ctx context.Context, feed RealtimeFeed) (*RawPayload, error)
	Parse(ctx context.Context, raw *RawPayload) (*canonical.FeedData, error)
}

// Options are shared by every processor built from a factory.
type Options struct {
	HTTPClient   *http.Client
	Logger       *slog.Logger
	WorkDir      string
	FetchRetries int
}

// WithDefaults fills unset fields.
func (o Options) WithDefaults() Options {
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}
