// Package jobapi issues the request/response calls of the download backend:
// metadata lookup and job creation. Calls are never retried here.
package jobapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"clipster/internal/failure"
	xlog "clipster/internal/log"
	"clipster/internal/metrics"
	"clipster/internal/protocol"
)

const (
	qualitiesPath = "/api/download/qualities"
	downloadPath  = "/api/download"

	// DefaultQuality is requested when the caller has no selection.
	DefaultQuality = "720p"

	defaultTimeout       = 30 * time.Second
	defaultDialTimeout   = 5 * time.Second
	maxErrorBodyBytes    = 64 << 10
	maxResponseBodyBytes = 4 << 20
)

// Metadata is the normalized result of a metadata lookup.
type Metadata struct {
	Qualities    []string
	Title        string
	Duration     string
	ThumbnailURL string
	DownloadURL  string
}

type qualitiesResponse struct {
	Qualities   []string       `json:"qualities"`
	Title       string         `json:"title,omitempty"`
	Duration    protocol.Label `json:"duration,omitempty"`
	Thumbnail   string         `json:"thumbnail,omitempty"`
	DownloadURL string         `json:"downloadUrl,omitempty"`
}

// CreateJobRequest is the body of POST /api/download.
type CreateJobRequest struct {
	URL      string `json:"url"`
	Quality  string `json:"quality"`
	SocketID string `json:"socketId"`
}

type createJobResponse struct {
	JobID string `json:"jobId"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Client talks to the backend's download API.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	log     zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout bounds each request end to end.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http = newHTTPClient(d) }
}

// New creates a client for the backend rooted at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("base url must be http(s): %q", baseURL)
	}

	c := &Client{
		baseURL: u,
		http:    newHTTPClient(defaultTimeout),
		log:     xlog.WithComponent("jobapi"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	dialTimeout := timeout
	if dialTimeout > defaultDialTimeout {
		dialTimeout = defaultDialTimeout
	}
	base := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: dialTimeout, KeepAlive: 30 * time.Second}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          8,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   dialTimeout,
		ExpectContinueTimeout: time.Second,
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(base),
	}
}

// FetchMetadata looks up the available qualities and display metadata for rawURL.
// A 400 response is reported as invalid input; other non-2xx responses as server errors.
func (c *Client) FetchMetadata(ctx context.Context, rawURL string) (*Metadata, error) {
	endpoint := c.endpoint(qualitiesPath)
	endpoint.RawQuery = url.Values{"url": {rawURL}}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build metadata request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	c.log.Debug().Str(xlog.FieldURL, rawURL).Msg("fetching video info")

	var out qualitiesResponse
	if err := c.do(req, "fetch_metadata", "failed to fetch video information", &out); err != nil {
		var fe *failure.Error
		if errors.As(err, &fe) && fe.Status == http.StatusBadRequest {
			return nil, failure.InvalidInput(fe.Message)
		}
		return nil, err
	}

	md := &Metadata{
		Qualities:    out.Qualities,
		Title:        out.Title,
		Duration:     out.Duration.String(),
		ThumbnailURL: out.Thumbnail,
		DownloadURL:  out.DownloadURL,
	}
	if md.Qualities == nil {
		md.Qualities = []string{}
	}
	c.log.Debug().
		Str(xlog.FieldURL, rawURL).
		Strs("qualities", md.Qualities).
		Msg("video info fetched")
	return md, nil
}

// CreateJob starts a server-side job for rawURL at the given quality. socketID
// ties the job to the caller's push-channel connection.
func (c *Client) CreateJob(ctx context.Context, rawURL, quality, socketID string) (string, error) {
	if quality == "" {
		quality = DefaultQuality
	}
	body, err := json.Marshal(CreateJobRequest{URL: rawURL, Quality: quality, SocketID: socketID})
	if err != nil {
		return "", fmt.Errorf("marshal job request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(downloadPath).String(), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build job request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	c.log.Debug().
		Str(xlog.FieldURL, rawURL).
		Str(xlog.FieldQuality, quality).
		Str(xlog.FieldSocketID, socketID).
		Msg("starting download")

	var out createJobResponse
	if err := c.do(req, "create_job", "failed to start download", &out); err != nil {
		return "", err
	}
	if out.JobID == "" {
		return "", failure.Server(http.StatusOK, "invalid response from server: missing jobId")
	}

	c.log.Info().Str(xlog.FieldJobID, out.JobID).Msg("job created")
	return out.JobID, nil
}

func (c *Client) endpoint(path string) *url.URL {
	u := *c.baseURL
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	return &u
}

// do executes req and decodes a 2xx JSON body into out.
func (c *Client) do(req *http.Request, op, transportMsg string, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.IncAPIRequest(op, "transport_error")
		return failure.Transport(transportMsg, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.IncAPIRequest(op, "server_error")
		return serverError(resp)
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBodyBytes)).Decode(out); err != nil {
		metrics.IncAPIRequest(op, "server_error")
		return failure.Server(resp.StatusCode, fmt.Sprintf("invalid response from server: %v", err))
	}
	metrics.IncAPIRequest(op, "ok")
	return nil
}

// serverError reads the optional {"error": "..."} body of a failed response.
func serverError(resp *http.Response) error {
	var body errorResponse
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	_ = json.Unmarshal(data, &body)
	return failure.Server(resp.StatusCode, body.Error)
}
