// Package source moves feed bytes from wherever they live into the pipeline:
// bounded HTTP fetches for real-time feeds and workspace downloads for static
// archives.
package source

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/mini-rodalies-3d/transitpipe/internal/failure"
)

// maxBody caps a single real-time payload.
var maxBody int64 = 64 << 20

// ErrPayloadTooLarge is returned for a body longer than the payload cap.
var ErrPayloadTooLarge = errors.New("payload exceeds limit")

// Request describes one real-time fetch.
type Request struct {
	URL     string
	Headers map[string]string
	Params  map[string]string
	Retries int
}

// Response is a fetched payload.
type Response struct {
	Body        []byte
	ContentType string
	FetchedAt   time.Time
}

// BuildURL merges params into the query string of rawURL.
func BuildURL(rawURL string, params map[string]string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	if len(params) == 0 {
		return u.String(), nil
	}
	q := u.Query()
	for k, v := range params {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Fetch GETs req.URL. Server errors and transport errors are retried with
// exponential backoff up to req.Retries times; ctx bounds the whole attempt.
// Every failure is classified as failure.ErrSourceUnreachable.
func Fetch(ctx context.Context, client *http.Client, req Request) (*Response, error) {
	target, err := BuildURL(req.URL, req.Params)
	if err != nil {
		return nil, failure.Unreachable("build url", err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(max(req.Retries, 0))), ctx)

	resp, err := backoff.RetryWithData(func() (*Response, error) {
		return fetchOnce(ctx, client, target, req.Headers)
	}, policy)
	if err != nil {
		return nil, failure.Unreachable("fetch "+req.URL, err)
	}
	return resp, nil
}

func fetchOnce(ctx context.Context, client *http.Client, target string, headers map[string]string) (*Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		statusErr := fmt.Errorf("unexpected status: %d", resp.StatusCode)
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, statusErr
		}
		return nil, backoff.Permanent(statusErr)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if int64(len(body)) > maxBody {
		return nil, backoff.Permanent(fmt.Errorf("%w of %d bytes", ErrPayloadTooLarge, maxBody))
	}

	return &Response{
		Body:        body,
		ContentType: resp.Header.Get("Content-Type"),
		FetchedAt:   time.Now().UTC(),
	}, nil
}

// NewWorkspace creates a private temporary directory for one feed run.
func NewWorkspace(base, feedID string) (string, error) {
	if base != "" {
		if err := os.MkdirAll(base, 0o755); err != nil {
			return "", fmt.Errorf("failed to create workdir: %w", err)
		}
	}
	dir, err := os.MkdirTemp(base, "transitpipe-"+feedID+"-")
	if err != nil {
		return "", fmt.Errorf("failed to create workspace: %w", err)
	}
	return dir, nil
}

// Download places the static source into dir under name and returns the file
// path and its sha256. Remote sources are fetched once; local files are
// copied so the original is never held open past the extract step.
func Download(ctx context.Context, client *http.Client, location, dir, name string) (string, string, error) {
	dst := filepath.Join(dir, name)
	out, err := os.Create(dst)
	if err != nil {
		return "", "", fmt.Errorf("failed to create %s: %w", dst, err)
	}
	defer out.Close()

	var in io.ReadCloser
	if isRemote(location) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
		if err != nil {
			return "", "", failure.Unreachable("download", err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return "", "", failure.Unreachable("download "+location, err)
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return "", "", failure.Unreachable("download "+location, fmt.Errorf("unexpected status: %d", resp.StatusCode))
		}
		in = resp.Body
	} else {
		f, err := os.Open(location)
		if err != nil {
			return "", "", failure.Unreachable("open "+location, err)
		}
		in = f
	}
	defer in.Close()

	h := sha256.New()
	if _, err := io.Copy(out, io.TeeReader(in, h)); err != nil {
		return "", "", failure.Unreachable("copy "+location, err)
	}
	return dst, hex.EncodeToString(h.Sum(nil)), nil
}

// ValidateLocation checks that a source is reachable without reading it: the
// URL must parse with an http(s) scheme, the path must be a regular file.
func ValidateLocation(location string) error {
	if isRemote(location) {
		u, err := url.Parse(location)
		if err != nil || u.Host == "" {
			return failure.Unreachable("validate source", fmt.Errorf("invalid url %q", location))
		}
		return nil
	}
	info, err := os.Stat(location)
	if err != nil {
		return failure.Unreachable("validate source", err)
	}
	if info.IsDir() {
		return failure.Unreachable("validate source", fmt.Errorf("%s is a directory", location))
	}
	return nil
}

func isRemote(location string) bool {
	u, err := url.Parse(location)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https")
}
