package ingest

import (
	"archive/zip"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/crimesafe/internal/resilience"
)

func fastFetcher() *Fetcher {
	return NewFetcher(FetchOptions{
		Timeout: 5 * time.Second,
		Retry:   resilience.RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond, Multiplier: 2},
	})
}

func writeZip(t *testing.T, path string, files map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close() //nolint:errcheck

	zw := zip.NewWriter(f)
	for name, body := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
}

func TestResolve_LocalPath(t *testing.T) {
	got, err := fastFetcher().Resolve(context.Background(), "data/crimes.csv", t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "data/crimes.csv", got)
}

func TestResolve_DownloadRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		assert.Equal(t, "crimesafe/1.0", r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte("City\nBangalore\n"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	got, err := fastFetcher().Resolve(context.Background(), srv.URL+"/exports/crimes.csv?v=2", dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "crimes.csv"), got)
	assert.Equal(t, int32(2), calls.Load())

	data, err := os.ReadFile(got)
	require.NoError(t, err)
	assert.Equal(t, "City\nBangalore\n", string(data))
}

func TestDownloadToFile_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := fastFetcher().DownloadToFile(context.Background(), srv.URL, filepath.Join(t.TempDir(), "x.csv"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 404")
	assert.Equal(t, int32(1), calls.Load())
}

func TestResolve_ZipArchive(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "export.zip")
	writeZip(t, archive, map[string]string{
		"README.txt":        "ignored",
		"data/crimes.csv":   "City\nMysore\n",
		"data/nested/x.txt": "ignored",
	})

	got, err := fastFetcher().Resolve(context.Background(), archive, dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "data", "crimes.csv"), got)

	data, err := os.ReadFile(got)
	require.NoError(t, err)
	assert.Equal(t, "City\nMysore\n", string(data))
}

func TestExtractExport_Errors(t *testing.T) {
	dir := t.TempDir()

	none := filepath.Join(dir, "none.zip")
	writeZip(t, none, map[string]string{"notes.txt": "x"})
	_, err := ExtractExport(none, dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no .csv or .xlsx entry")

	two := filepath.Join(dir, "two.zip")
	writeZip(t, two, map[string]string{"a.csv": "x", "b.xlsx": "y"})
	_, err = ExtractExport(two, dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "more than one export")

	slip := filepath.Join(dir, "slip.zip")
	writeZip(t, slip, map[string]string{"../../evil.csv": "x"})
	_, err = ExtractExport(slip, filepath.Join(dir, "out"))
	require.Error(t, err)
	assert.NoFileExists(t, filepath.Join(dir, "..", "evil.csv"))
}
