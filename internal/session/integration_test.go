package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clipster/internal/backendtest"
	"clipster/internal/jobapi"
	"clipster/internal/protocol"
	"clipster/internal/pushchannel"
)

const wireTimeout = 3 * time.Second

// wire connects a controller to a scripted backend through the real
// job API and push-channel clients.
func wire(t *testing.T, srv *backendtest.Server) (*Controller, *pushchannel.Client) {
	t.Helper()
	ts := backendtest.Start(t, srv)

	api, err := jobapi.New(ts.URL)
	require.NoError(t, err)

	pc := pushchannel.New(backendtest.WSURL(ts.URL), pushchannel.WithReconnect(10, 20*time.Millisecond))
	ctrl := NewController(api, pc)
	pc.Attach(ctrl)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{}, 2)
	go func() { pc.Run(ctx); done <- struct{}{} }()
	go func() { ctrl.Run(ctx, pc.Events()); done <- struct{}{} }()
	t.Cleanup(func() {
		cancel()
		<-done
		<-done
		pc.Detach()
		ctrl.Close()
	})

	require.Eventually(t, func() bool {
		return ctrl.Snapshot().Connection == ConnectionConnected
	}, wireTimeout, 10*time.Millisecond)
	return ctrl, pc
}

func TestIntegration_DownloadOverTheWire(t *testing.T) {
	srv := backendtest.New()
	srv.SetQualities(200, map[string]interface{}{"qualities": []string{"480p", "720p"}, "title": "clip", "duration": 212})
	srv.SetCreateJob(200, map[string]string{"jobId": "j1"})
	srv.OnJoin(func(jobID string) {
		for _, p := range []float64{10, 40, 40, 90} {
			srv.Progress(jobID, p)
		}
		srv.Complete(jobID, protocol.DownloadResult{DownloadURL: "https://cdn/x.mp4"})
	})
	ctrl, pc := wire(t, srv)

	ctx := context.Background()
	require.NoError(t, ctrl.Submit(ctx, "https://youtube.com/watch?v=x"))
	snap := ctrl.Snapshot()
	assert.Equal(t, "720p", snap.SelectedQuality)
	assert.Equal(t, "212", snap.Metadata.DurationLabel)

	require.NoError(t, ctrl.StartDownload(ctx))

	require.Eventually(t, func() bool { return ctrl.Snapshot().State == StateReady }, wireTimeout, 10*time.Millisecond)
	s := ctrl.Snapshot()
	assert.Equal(t, 100, s.Progress)
	assert.Equal(t, "https://cdn/x.mp4", s.ResultDownloadURL)

	reqs := srv.JobRequests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "720p", reqs[0].Quality)
	assert.Equal(t, pc.SocketID(), reqs[0].SocketID)
}

func TestIntegration_JobCarriesSocketIDWhenConnectIsLate(t *testing.T) {
	srv := backendtest.New()
	srv.DelayConnect(200 * time.Millisecond)
	srv.SetCreateJob(200, map[string]string{"jobId": "j1"})
	ctrl, pc := wire(t, srv)

	ctx := context.Background()
	require.NoError(t, ctrl.Submit(ctx, "https://youtube.com/watch?v=x"))
	require.NoError(t, ctrl.StartDownload(ctx))

	reqs := srv.JobRequests()
	require.Len(t, reqs, 1)
	assert.NotEmpty(t, reqs[0].SocketID)
	assert.Equal(t, pc.SocketID(), reqs[0].SocketID)
}

func TestIntegration_ServerErrorWithoutBody(t *testing.T) {
	srv := backendtest.New()
	srv.SetCreateJob(500, nil)
	ctrl, _ := wire(t, srv)

	ctx := context.Background()
	require.NoError(t, ctrl.Submit(ctx, "https://youtube.com/watch?v=x"))
	require.Error(t, ctrl.StartDownload(ctx))

	s := ctrl.Snapshot()
	assert.Equal(t, StateFailed, s.State)
	assert.Equal(t, "Server error: 500", s.LastError)
}

func TestIntegration_ReconnectRejoinsActiveJob(t *testing.T) {
	srv := backendtest.New()
	srv.SetCreateJob(200, map[string]string{"jobId": "j2"})
	ctrl, _ := wire(t, srv)

	ctx := context.Background()
	require.NoError(t, ctrl.Submit(ctx, "https://youtube.com/watch?v=x"))
	require.NoError(t, ctrl.StartDownload(ctx))

	id, ok := srv.WaitJoin(wireTimeout)
	require.True(t, ok)
	require.Equal(t, "j2", id)

	srv.RejectConnections(2)
	srv.DropConnections()

	id, ok = srv.WaitJoin(wireTimeout)
	require.True(t, ok)
	assert.Equal(t, "j2", id)
	require.Eventually(t, func() bool { return ctrl.Snapshot().Connection == ConnectionConnected }, wireTimeout, 10*time.Millisecond)
	assert.Equal(t, []string{"j2", "j2"}, srv.Joins())
	assert.Equal(t, StateInProgress, ctrl.Snapshot().State)

	srv.Complete("j2", protocol.DownloadResult{DownloadURL: "https://cdn/j2.mp4"})
	require.Eventually(t, func() bool { return ctrl.Snapshot().State == StateReady }, wireTimeout, 10*time.Millisecond)
}

func TestIntegration_StaleRoomEventsAfterResubmit(t *testing.T) {
	srv := backendtest.New()
	srv.SetCreateJob(200, map[string]string{"jobId": "j1"})
	ctrl, _ := wire(t, srv)

	ctx := context.Background()
	require.NoError(t, ctrl.Submit(ctx, "https://youtube.com/watch?v=x"))
	require.NoError(t, ctrl.StartDownload(ctx))
	_, ok := srv.WaitJoin(wireTimeout)
	require.True(t, ok)

	require.NoError(t, ctrl.Submit(ctx, "https://youtube.com/watch?v=y"))
	require.Eventually(t, func() bool {
		leaves := srv.Leaves()
		return len(leaves) == 1 && leaves[0] == "j1"
	}, wireTimeout, 10*time.Millisecond)

	srv.EmitAll(protocol.TypeDownloadProgress, protocol.ProgressPayload{JobID: "j1", Progress: 95})
	time.Sleep(50 * time.Millisecond)

	s := ctrl.Snapshot()
	assert.Equal(t, StateSelectingQuality, s.State)
	assert.Zero(t, s.Progress)
	assert.Empty(t, s.ActiveJobID)
}

var _ pushchannel.ActiveJobSource = (*Controller)(nil)
var _ API = (*jobapi.Client)(nil)
var _ Channel = (*pushchannel.Client)(nil)
