package pushchannel

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"clipster/internal/backendtest"
	"clipster/internal/failure"
)

const waitTimeout = 3 * time.Second

type fakeOwner struct {
	mu     sync.Mutex
	jobID  string
	active bool
}

func (o *fakeOwner) ActiveJobID() (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.jobID, o.active
}

func startClient(t *testing.T, c *Client) <-chan error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-errCh:
		case <-time.After(waitTimeout):
			t.Error("Run did not return after cancel")
		}
	})
	return errCh
}

func nextEvent(t *testing.T, c *Client, kind EventKind) Event {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case ev := <-c.Events():
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", kind)
		}
	}
}

func connectedClient(t *testing.T, srv *backendtest.Server, opts ...Option) *Client {
	t.Helper()
	ts := backendtest.Start(t, srv)
	opts = append([]Option{WithReconnect(10, 20*time.Millisecond)}, opts...)
	c := New(backendtest.WSURL(ts.URL), opts...)
	return c
}

func TestClient_DeliversSubscribedProgress(t *testing.T) {
	srv := backendtest.New()
	c := connectedClient(t, srv)
	startClient(t, c)
	nextEvent(t, c, EventConnected)
	require.NotEmpty(t, c.SocketID())

	c.Subscribe("j1")
	id, ok := srv.WaitJoin(waitTimeout)
	require.True(t, ok)
	assert.Equal(t, "j1", id)

	srv.Progress("j1", 41.6)
	ev := nextEvent(t, c, EventProgress)
	assert.Equal(t, "j1", ev.JobID)
	assert.Equal(t, 42, ev.Progress)
	assert.True(t, ev.IsJobEvent())
}

func TestClient_ConnectedWaitsForSocketID(t *testing.T) {
	srv := backendtest.New()
	srv.DelayConnect(200 * time.Millisecond)
	c := connectedClient(t, srv)
	startClient(t, c)

	nextEvent(t, c, EventConnected)
	first := c.SocketID()
	require.NotEmpty(t, first)

	srv.DropConnections()
	nextEvent(t, c, EventDisconnected)
	ev := nextEvent(t, c, EventReconnected)
	assert.Equal(t, 1, ev.Attempt)
	second := c.SocketID()
	require.NotEmpty(t, second)
	assert.NotEqual(t, first, second)
}

func TestClient_SubscribeIsIdempotentAndSwitchesRooms(t *testing.T) {
	srv := backendtest.New()
	c := connectedClient(t, srv)
	startClient(t, c)
	nextEvent(t, c, EventConnected)

	c.Subscribe("j1")
	c.Subscribe("j1")
	_, ok := srv.WaitJoin(waitTimeout)
	require.True(t, ok)

	c.Subscribe("j2")
	id, ok := srv.WaitJoin(waitTimeout)
	require.True(t, ok)
	assert.Equal(t, "j2", id)

	assert.Equal(t, []string{"j1", "j2"}, srv.Joins())
	assert.Equal(t, []string{"j1"}, srv.Leaves())
	assert.Equal(t, "j2", c.Topic())

	// A late event for the old job reaches the client but is not delivered.
	srv.EmitAll("download-progress", map[string]interface{}{"jobId": "j1", "progress": 90})
	srv.Progress("j2", 10)

	ev := nextEvent(t, c, EventProgress)
	assert.Equal(t, "j2", ev.JobID)
	assert.Equal(t, 10, ev.Progress)
}

func TestClient_DiscardsMalformedMessages(t *testing.T) {
	srv := backendtest.New()
	c := connectedClient(t, srv)
	startClient(t, c)
	nextEvent(t, c, EventConnected)

	c.Subscribe("j1")
	_, ok := srv.WaitJoin(waitTimeout)
	require.True(t, ok)

	srv.EmitAll("bogus", map[string]string{"jobId": "j1"})
	srv.EmitAll("download-complete", map[string]interface{}{"jobId": "j1", "result": map[string]string{}})
	srv.Fail("j1", "boom")

	ev := nextEvent(t, c, EventError)
	assert.Equal(t, "j1", ev.JobID)
	assert.Equal(t, "boom", ev.Message)
}

func TestClient_ReconnectRejoinsActiveJobOnce(t *testing.T) {
	srv := backendtest.New()
	owner := &fakeOwner{jobID: "j2", active: true}
	c := connectedClient(t, srv)
	c.Attach(owner)
	startClient(t, c)
	nextEvent(t, c, EventConnected)

	id, ok := srv.WaitJoin(waitTimeout)
	require.True(t, ok)
	require.Equal(t, "j2", id)

	srv.RejectConnections(2)
	srv.DropConnections()

	nextEvent(t, c, EventDisconnected)
	ev := nextEvent(t, c, EventReconnected)
	assert.Equal(t, 3, ev.Attempt)

	id, ok = srv.WaitJoin(waitTimeout)
	require.True(t, ok)
	assert.Equal(t, "j2", id)

	// Completion after the rejoin is delivered.
	srv.Progress("j2", 100)
	progress := nextEvent(t, c, EventProgress)
	assert.Equal(t, 100, progress.Progress)
	assert.Equal(t, []string{"j2", "j2"}, srv.Joins())
}

func TestClient_ReconnectWithoutActiveJobJoinsNothing(t *testing.T) {
	srv := backendtest.New()
	owner := &fakeOwner{}
	c := connectedClient(t, srv)
	c.Attach(owner)
	startClient(t, c)
	nextEvent(t, c, EventConnected)

	srv.DropConnections()
	nextEvent(t, c, EventReconnected)

	c.Subscribe("j5")
	id, ok := srv.WaitJoin(waitTimeout)
	require.True(t, ok)
	assert.Equal(t, "j5", id, "no rejoin should precede the explicit subscribe")
}

func TestClient_TerminalDisconnectAfterExhaustion(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	c := New("ws://127.0.0.1:1/ws", WithReconnect(2, 5*time.Millisecond))

	err := c.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRetriesExhausted))
	assert.Equal(t, failure.KindTransport, failure.KindOf(err))

	ev := nextEvent(t, c, EventDisconnected)
	assert.True(t, ev.Terminal)
}

func TestClient_RunTwiceIsRejected(t *testing.T) {
	srv := backendtest.New()
	c := connectedClient(t, srv)
	startClient(t, c)
	nextEvent(t, c, EventConnected)

	err := c.Run(context.Background())
	assert.Error(t, err)
}

func TestClient_CancelStopsRun(t *testing.T) {
	srv := backendtest.New()
	c := connectedClient(t, srv)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(ctx) }()
	nextEvent(t, c, EventConnected)

	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(waitTimeout):
		t.Fatal("Run did not return")
	}
}
