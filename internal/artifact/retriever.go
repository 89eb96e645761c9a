// Package artifact saves the file behind a finished job's download URL
// into a local directory.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"clipster/internal/failure"
	xlog "clipster/internal/log"
)

const defaultTimeout = 30 * time.Minute

// Retriever downloads finished artifacts.
type Retriever struct {
	dir  string
	base *url.URL
	http *http.Client
	log  zerolog.Logger
}

// Option configures a Retriever.
type Option func(*Retriever)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(r *Retriever) { r.http = hc }
}

// WithBaseURL resolves relative download URLs against base.
func WithBaseURL(base string) Option {
	return func(r *Retriever) {
		if u, err := url.Parse(base); err == nil {
			r.base = u
		}
	}
}

// New creates a retriever writing into dir.
func New(dir string, opts ...Option) *Retriever {
	r := &Retriever{
		dir: dir,
		http: &http.Client{
			Timeout:   defaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		log: xlog.WithComponent("artifact"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Retrieve downloads downloadURL and stores it under a name derived from
// title. The file appears atomically; a failed download leaves nothing behind.
// A file already saved under that name is left alone and the job id is
// appended to the new one.
func (r *Retriever) Retrieve(ctx context.Context, jobID, downloadURL, title string) (string, error) {
	u, err := r.resolve(downloadURL)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("build artifact request: %w", err)
	}

	resp, err := r.http.Do(req)
	if err != nil {
		return "", failure.Transport("failed to download artifact", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", failure.Server(resp.StatusCode, "")
	}

	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return "", fmt.Errorf("create download dir %s: %w", r.dir, err)
	}
	stem, ext := nameParts(title, jobID, u.Path)
	path := r.target(stem, ext, jobID)

	n, err := writeAtomic(path, resp.Body)
	if err != nil {
		return "", err
	}

	r.log.Info().
		Str(xlog.FieldJobID, jobID).
		Str(xlog.FieldPath, path).
		Int64("bytes", n).
		Msg("artifact written")
	return path, nil
}

// target returns the path for a job's artifact. Only a file carrying this
// job's own id is ever replaced.
func (r *Retriever) target(stem, ext, jobID string) string {
	path := filepath.Join(r.dir, stem+ext)
	if _, err := os.Lstat(path); errors.Is(err, fs.ErrNotExist) {
		return path
	}
	id := clean(jobID)
	if id == "" || stem == id {
		return path
	}
	return filepath.Join(r.dir, stem+"-"+id+ext)
}

func (r *Retriever) resolve(downloadURL string) (*url.URL, error) {
	u, err := url.Parse(downloadURL)
	if err != nil {
		return nil, failure.InvalidInput(fmt.Sprintf("invalid download url: %v", err))
	}
	if !u.IsAbs() && r.base != nil {
		u = r.base.ResolveReference(u)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, failure.InvalidInput("download url must be http(s): " + downloadURL)
	}
	return u, nil
}

// writeAtomic streams src into path via a pending file that is renamed
// into place only after a complete write.
func writeAtomic(path string, src io.Reader) (int64, error) {
	pendingFile, err := renameio.NewPendingFile(path, renameio.WithPermissions(0o644))
	if err != nil {
		return 0, fmt.Errorf("create pending artifact file: %w", err)
	}
	defer pendingFile.Cleanup()

	n, err := io.Copy(pendingFile, src)
	if err != nil {
		return n, failure.Transport("failed to download artifact", err)
	}

	if err := pendingFile.CloseAtomicallyReplace(); err != nil {
		return n, fmt.Errorf("atomically replace artifact file: %w", err)
	}
	return n, nil
}
