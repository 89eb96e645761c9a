package jobapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clipster/internal/failure"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(srv.URL + "/")
	require.NoError(t, err)
	return c
}

func TestNew_RejectsNonHTTP(t *testing.T) {
	_, err := New("ws://localhost:5000")
	assert.Error(t, err)
	_, err = New("localhost:5000")
	assert.Error(t, err)
}

func TestFetchMetadata_Success(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, qualitiesPath, r.URL.Path)
		assert.Equal(t, "https://youtube.com/watch?v=x&t=1", r.URL.Query().Get("url"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"qualities":["360p","480p","720p"],"title":"clip","duration":"3:32","thumbnail":"https://img/t.jpg"}`))
	})

	md, err := c.FetchMetadata(context.Background(), "https://youtube.com/watch?v=x&t=1")
	require.NoError(t, err)
	assert.Equal(t, []string{"360p", "480p", "720p"}, md.Qualities)
	assert.Equal(t, "clip", md.Title)
	assert.Equal(t, "3:32", md.Duration)
	assert.Equal(t, "https://img/t.jpg", md.ThumbnailURL)
}

func TestFetchMetadata_MissingQualities(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"title":"clip"}`))
	})

	md, err := c.FetchMetadata(context.Background(), "https://youtube.com/watch?v=x")
	require.NoError(t, err)
	assert.NotNil(t, md.Qualities)
	assert.Empty(t, md.Qualities)
}

func TestFetchMetadata_BadRequestIsInvalidInput(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"Unsupported URL"}`))
	})

	_, err := c.FetchMetadata(context.Background(), "https://example.com/x")
	require.Error(t, err)
	assert.Equal(t, failure.KindInvalidInput, failure.KindOf(err))
	assert.Equal(t, "Unsupported URL", err.Error())
}

func TestFetchMetadata_ServerErrorVerbatim(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`{"error":"extractor crashed"}`))
	})

	_, err := c.FetchMetadata(context.Background(), "https://youtube.com/watch?v=x")
	require.Error(t, err)
	assert.Equal(t, failure.KindServer, failure.KindOf(err))
	assert.Equal(t, "extractor crashed", err.Error())
}

func TestCreateJob_Success(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, downloadPath, r.URL.Path)
		var req CreateJobRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, CreateJobRequest{URL: "https://youtube.com/watch?v=x", Quality: "480p", SocketID: "sock-1"}, req)
		w.Write([]byte(`{"jobId":"j1"}`))
	})

	jobID, err := c.CreateJob(context.Background(), "https://youtube.com/watch?v=x", "480p", "sock-1")
	require.NoError(t, err)
	assert.Equal(t, "j1", jobID)
}

func TestCreateJob_DefaultQuality(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req CreateJobRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, DefaultQuality, req.Quality)
		w.Write([]byte(`{"jobId":"j1"}`))
	})

	_, err := c.CreateJob(context.Background(), "https://youtube.com/watch?v=x", "", "")
	require.NoError(t, err)
}

func TestCreateJob_500WithoutBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := c.CreateJob(context.Background(), "https://youtube.com/watch?v=x", "720p", "s")
	require.Error(t, err)
	assert.Equal(t, "Server error: 500", err.Error())

	var fe *failure.Error
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, 500, fe.Status)
}

func TestCreateJob_MissingJobID(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	})

	_, err := c.CreateJob(context.Background(), "https://youtube.com/watch?v=x", "720p", "s")
	require.Error(t, err)
	assert.Equal(t, failure.KindServer, failure.KindOf(err))
}

func TestCreateJob_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	c, err := New(srv.URL)
	require.NoError(t, err)
	srv.Close()

	_, err = c.CreateJob(context.Background(), "https://youtube.com/watch?v=x", "720p", "s")
	require.Error(t, err)
	assert.Equal(t, failure.KindTransport, failure.KindOf(err))
}

func TestFetchMetadata_ContextCanceled(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"qualities":[]}`))
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.FetchMetadata(ctx, "https://youtube.com/watch?v=x")
	require.ErrorIs(t, err, context.Canceled)
}
