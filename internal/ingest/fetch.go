package ingest

import (
	"archive/zip"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/crimesafe/internal/resilience"
)

// errRetryableStatus marks 429 and 5xx responses for retry.
var errRetryableStatus = eris.New("retryable http status")

// FetchOptions configures Fetcher.
type FetchOptions struct {
	UserAgent string
	Timeout   time.Duration
	Retry     resilience.RetryConfig
	// RequestsPerSecond throttles downloads; zero means unlimited.
	RequestsPerSecond float64
}

// Fetcher resolves an export source (local path or http(s) URL, optionally
// zipped) to a local CSV or XLSX file.
type Fetcher struct {
	client  *http.Client
	opts    FetchOptions
	limiter *rate.Limiter
}

// NewFetcher creates a Fetcher with defaults for unset options.
func NewFetcher(opts FetchOptions) *Fetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "crimesafe/1.0"
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = resilience.DefaultRetryConfig()
	}
	opts.Retry.ShouldRetry = func(err error) bool { return errors.Is(err, errRetryableStatus) || isNetError(err) }

	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	return &Fetcher{
		client:  &http.Client{Timeout: opts.Timeout},
		opts:    opts,
		limiter: rate.NewLimiter(limit, 1),
	}
}

// Resolve returns a local path for source. URLs are downloaded into destDir
// and .zip archives are unpacked there; the archive must hold exactly one
// .csv or .xlsx file.
func (f *Fetcher) Resolve(ctx context.Context, source, destDir string) (string, error) {
	local := source
	if isURL(source) {
		name := path.Base(strings.SplitN(source, "?", 2)[0])
		if name == "" || name == "/" || name == "." {
			name = "export.csv"
		}
		local = filepath.Join(destDir, name)
		n, err := f.DownloadToFile(ctx, source, local)
		if err != nil {
			return "", err
		}
		zap.L().Info("ingest: downloaded export", zap.String("url", source), zap.Int64("bytes", n))
	}

	if strings.EqualFold(filepath.Ext(local), ".zip") {
		return ExtractExport(local, destDir)
	}
	return local, nil
}

// DownloadToFile fetches rawURL into dst, retrying network errors, 429 and
// 5xx responses.
func (f *Fetcher) DownloadToFile(ctx context.Context, rawURL, dst string) (int64, error) {
	return resilience.DoVal(ctx, f.opts.Retry, func(ctx context.Context) (int64, error) {
		if err := f.limiter.Wait(ctx); err != nil {
			return 0, eris.Wrap(err, "ingest: rate limiter wait")
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return 0, eris.Wrap(err, "ingest: create request")
		}
		req.Header.Set("User-Agent", f.opts.UserAgent)

		resp, err := f.client.Do(req)
		if err != nil {
			return 0, eris.Wrapf(err, "ingest: download %s", rawURL)
		}
		defer resp.Body.Close() //nolint:errcheck

		switch {
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return 0, eris.Wrapf(errRetryableStatus, "ingest: http %d from %s", resp.StatusCode, rawURL)
		case resp.StatusCode != http.StatusOK:
			return 0, eris.Errorf("ingest: unexpected status %d from %s", resp.StatusCode, rawURL)
		}

		out, err := os.Create(dst)
		if err != nil {
			return 0, eris.Wrap(err, "ingest: create file")
		}
		defer out.Close() //nolint:errcheck

		n, err := io.Copy(out, resp.Body)
		return n, eris.Wrap(err, "ingest: write file")
	})
}

// ExtractExport unpacks the single .csv or .xlsx entry of a ZIP archive into
// destDir and returns its path.
func ExtractExport(zipPath, destDir string) (string, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return "", eris.Wrap(err, "zip: open archive")
	}
	defer r.Close() //nolint:errcheck

	var found *zip.File
	for _, zf := range r.File {
		if zf.FileInfo().IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(zf.Name)) {
		case ".csv", ".xlsx":
			if found != nil {
				return "", eris.Errorf("zip: archive holds more than one export (%s, %s)", found.Name, zf.Name)
			}
			found = zf
		}
	}
	if found == nil {
		return "", eris.New("zip: no .csv or .xlsx entry in archive")
	}

	// Sanitize against zip slip
	destPath := filepath.Join(destDir, found.Name)
	if !strings.HasPrefix(filepath.Clean(destPath), filepath.Clean(destDir)+string(os.PathSeparator)) {
		return "", eris.Errorf("zip: illegal path %q (zip slip attempt)", found.Name)
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return "", eris.Wrap(err, "zip: create parent directory")
	}

	rc, err := found.Open()
	if err != nil {
		return "", eris.Wrap(err, "zip: open entry")
	}
	defer rc.Close() //nolint:errcheck

	out, err := os.Create(destPath)
	if err != nil {
		return "", eris.Wrap(err, "zip: create file")
	}
	defer out.Close() //nolint:errcheck

	if _, err := io.Copy(out, rc); err != nil {
		return "", eris.Wrap(err, "zip: write file")
	}
	return destPath, nil
}

func isURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func isNetError(err error) bool {
	var ue *url.Error
	return errors.As(err, &ue)
}
