// Package staticfeed holds what the static processors share: a private
// workspace per feed run and uniform access to archived or plain payloads.
package staticfeed

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/mini-rodalies-3d/transitpipe/internal/failure"
	"github.com/mini-rodalies-3d/transitpipe/internal/processor"
	"github.com/mini-rodalies-3d/transitpipe/internal/source"
)

// ErrNoPayload is returned by Transform when Extract produced nothing.
var ErrNoPayload = errors.New("no payload to transform")

// Workspace is a temporary directory owned by one processor instance.
type Workspace struct {
	opts processor.Options
	dir  string
}

// NewWorkspace returns an unallocated workspace; the directory is created on
// the first Extract.
func NewWorkspace(opts processor.Options) *Workspace {
	return &Workspace{opts: opts.WithDefaults()}
}

// Dir is the workspace directory, empty before Extract.
func (w *Workspace) Dir() string { return w.dir }

// Validate checks the source location without reading it.
func (w *Workspace) Validate(src processor.Source) error {
	return source.ValidateLocation(src.Location())
}

// Extract copies or downloads src into the workspace as fileName.
func (w *Workspace) Extract(ctx context.Context, src processor.Source, format, fileName string) (*processor.RawPayload, error) {
	if w.dir == "" {
		dir, err := source.NewWorkspace(w.opts.WorkDir, src.FeedID)
		if err != nil {
			return nil, err
		}
		w.dir = dir
	}

	p, sum, err := source.Download(ctx, w.opts.HTTPClient, src.Location(), w.dir, fileName)
	if err != nil {
		return nil, err
	}
	return &processor.RawPayload{
		FeedID:    src.FeedID,
		Format:    format,
		Source:    src.Location(),
		Path:      p,
		Checksum:  sum,
		FetchedAt: time.Now().UTC(),
	}, nil
}

// Cleanup removes the workspace.
func (w *Workspace) Cleanup() error {
	if w.dir == "" {
		return nil
	}
	err := os.RemoveAll(w.dir)
	w.dir = ""
	if err != nil {
		return fmt.Errorf("failed to remove workspace: %w", err)
	}
	return nil
}

var zipMagic = []byte("PK\x03\x04")

// IsZip sniffs the first bytes of a file.
func IsZip(p string) (bool, error) {
	f, err := os.Open(p)
	if err != nil {
		return false, err
	}
	defer f.Close()

	head := make([]byte, len(zipMagic))
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return false, err
	}
	return n == len(zipMagic) && bytes.Equal(head, zipMagic), nil
}

// EachFile calls fn for every file of the payload whose name matches. A zip
// archive is walked entry by entry in name order; any other file is passed
// through as a single document. Errors opening the payload are malformed
// payloads; errors from fn are returned as is.
func EachFile(p string, match func(name string) bool, fn func(name string, r io.Reader) error) error {
	isZip, err := IsZip(p)
	if err != nil {
		return failure.Malformed("open payload", err)
	}

	if !isZip {
		f, err := os.Open(p)
		if err != nil {
			return failure.Malformed("open payload", err)
		}
		defer f.Close()
		return fn(path.Base(p), f)
	}

	zr, err := zip.OpenReader(p)
	if err != nil {
		return failure.Malformed("open zip", err)
	}
	defer zr.Close()

	files := make([]*zip.File, 0, len(zr.File))
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || !match(path.Base(f.Name)) {
			continue
		}
		files = append(files, f)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })

	for _, f := range files {
		rc, err := f.Open()
		if err != nil {
			return failure.Malformed("open "+f.Name, err)
		}
		err = fn(path.Base(f.Name), rc)
		rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

// IsXML matches .xml entries of an archive.
func IsXML(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), ".xml")
}
