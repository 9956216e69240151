package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mini-rodalies-3d/transitpipe/internal/failure"
)

func TestFetchRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		assert.Equal(t, "secret", r.URL.Query().Get("key"))
		assert.Equal(t, "application/x-protobuf", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "application/x-protobuf")
		_, _ = w.Write([]byte("payload"))
	}))
	defer srv.Close()

	resp, err := Fetch(context.Background(), srv.Client(), Request{
		URL:     srv.URL,
		Headers: map[string]string{"Accept": "application/x-protobuf"},
		Params:  map[string]string{"key": "secret"},
		Retries: 3,
	})
	require.NoError(t, err)
	assert.Equal(t, "payload", string(resp.Body))
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetchDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := Fetch(context.Background(), srv.Client(), Request{URL: srv.URL, Retries: 3})
	require.Error(t, err)
	assert.ErrorIs(t, err, failure.ErrSourceUnreachable)
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetchRejectsOversizedBody(t *testing.T) {
	prev := maxBody
	maxBody = 16
	t.Cleanup(func() { maxBody = prev })

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(strings.Repeat("x", 17)))
	}))
	defer srv.Close()

	_, err := Fetch(context.Background(), srv.Client(), Request{URL: srv.URL, Retries: 3})
	require.Error(t, err)
	assert.ErrorIs(t, err, failure.ErrSourceUnreachable)
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
	assert.Equal(t, int32(1), calls.Load())

	// Exactly at the cap is fine.
	srv2 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 16)))
	}))
	defer srv2.Close()
	resp, err := Fetch(context.Background(), srv2.Client(), Request{URL: srv2.URL})
	require.NoError(t, err)
	assert.Len(t, resp.Body, 16)
}

func TestFetchHonoursDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := Fetch(ctx, srv.Client(), Request{URL: srv.URL, Retries: 5})
	require.Error(t, err)
	assert.ErrorIs(t, err, failure.ErrSourceUnreachable)
	assert.Less(t, time.Since(start), time.Second)
}

func TestDownloadLocalFile(t *testing.T) {
	src := filepath.Join(t.TempDir(), "feed.zip")
	require.NoError(t, os.WriteFile(src, []byte("abc"), 0o644))

	dir := t.TempDir()
	path, sum, err := Download(context.Background(), http.DefaultClient, src, dir, "payload.zip")
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "payload.zip"), path)
	// sha256("abc")
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", sum)
}

func TestDownloadMissingFile(t *testing.T) {
	_, _, err := Download(context.Background(), http.DefaultClient, "/does/not/exist.zip", t.TempDir(), "x.zip")
	assert.ErrorIs(t, err, failure.ErrSourceUnreachable)
}

func TestValidateLocation(t *testing.T) {
	file := filepath.Join(t.TempDir(), "gtfs.zip")
	require.NoError(t, os.WriteFile(file, nil, 0o644))

	assert.NoError(t, ValidateLocation(file))
	assert.NoError(t, ValidateLocation("https://example.com/gtfs.zip"))
	assert.Error(t, ValidateLocation(t.TempDir()))
	assert.Error(t, ValidateLocation("/nope/gtfs.zip"))
	assert.Error(t, ValidateLocation("https://"))
}
