// Package pushchannel maintains the auto-reconnecting websocket connection
// that delivers job progress, completion and error events.
package pushchannel

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"clipster/internal/failure"
	xlog "clipster/internal/log"
	"clipster/internal/metrics"
	"clipster/internal/protocol"
)

const (
	DefaultReconnectAttempts = 10
	DefaultReconnectDelay    = 1000 * time.Millisecond

	readDeadline     = 60 * time.Second
	writeDeadline    = 10 * time.Second
	handshakeTimeout = 10 * time.Second
	maxMessageSize   = 1 << 20
	sendBufferSize   = 16
	eventBufferSize  = 256
)

// ErrRetriesExhausted is wrapped by the error Run returns after the
// reconnection budget is spent.
var ErrRetriesExhausted = errors.New("push channel: reconnection attempts exhausted")

// ActiveJobSource reports the job the owning session currently trusts.
type ActiveJobSource interface {
	ActiveJobID() (string, bool)
}

// Client owns one logical push-channel connection.
type Client struct {
	url      string
	dialer   *websocket.Dialer
	attempts int
	delay    time.Duration
	events   chan Event
	log      zerolog.Logger

	mu       sync.Mutex
	running  bool
	topic    string // job id whose room we are in
	subSeq   uint64 // bumped on every Subscribe/Unsubscribe
	owner    ActiveJobSource
	socketID string
	send     chan []byte // nil while disconnected
	announce *Event      // sent once the server assigns a socket id
}

// Option configures a Client.
type Option func(*Client)

// WithReconnect sets the reconnection budget and the fixed delay between attempts.
func WithReconnect(attempts int, delay time.Duration) Option {
	return func(c *Client) {
		if attempts >= 0 {
			c.attempts = attempts
		}
		if delay >= 0 {
			c.delay = delay
		}
	}
}

// WithDialer replaces the websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

// New creates a client for the websocket endpoint at url. Nothing is dialed until Run.
func New(url string, opts ...Option) *Client {
	c := &Client{
		url:      url,
		dialer:   &websocket.Dialer{HandshakeTimeout: handshakeTimeout, Proxy: websocket.DefaultDialer.Proxy},
		attempts: DefaultReconnectAttempts,
		delay:    DefaultReconnectDelay,
		events:   make(chan Event, eventBufferSize),
		log:      xlog.WithComponent("pushchannel"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Events returns the channel on which all connection and job events are delivered.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Attach registers the session whose active job is rejoined after every reconnection.
func (c *Client) Attach(owner ActiveJobSource) {
	c.mu.Lock()
	c.owner = owner
	c.mu.Unlock()
}

// Detach forgets the owning session.
func (c *Client) Detach() {
	c.mu.Lock()
	c.owner = nil
	c.mu.Unlock()
}

// SocketID returns the id the server assigned to the current connection, or "".
func (c *Client) SocketID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.socketID
}

// Topic returns the job id the client is currently subscribed to.
func (c *Client) Topic() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.topic
}

// Subscribe joins the room of jobID, leaving the previous room if any.
// Subscribing to the current topic is a no-op.
func (c *Client) Subscribe(jobID string) {
	if jobID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.topic == jobID {
		return
	}
	c.subSeq++
	if c.topic != "" {
		c.enqueueLocked(protocol.TypeLeaveDownloadRoom, c.topic)
	}
	c.topic = jobID
	c.enqueueLocked(protocol.TypeJoinDownloadRoom, jobID)
	c.log.Debug().Str(xlog.FieldJobID, jobID).Msg("joining download room")
}

// Unsubscribe leaves the room of jobID if it is the current topic.
func (c *Client) Unsubscribe(jobID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if jobID == "" || c.topic != jobID {
		return
	}
	c.subSeq++
	c.enqueueLocked(protocol.TypeLeaveDownloadRoom, jobID)
	c.topic = ""
}

// Run connects and keeps the connection alive until ctx is canceled or
// the reconnection budget is exhausted. After exhaustion a terminal
// disconnected event is emitted and Run returns a transport error; the
// client stays down until Run is called again.
func (c *Client) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return errors.New("push channel: already running")
	}
	c.running = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}()

	conn, err := c.dial(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.log.Warn().Err(err).Str(xlog.FieldURL, c.url).Msg("initial connection failed")
		conn, _, err = c.redial(ctx)
		if err != nil {
			return c.giveUp(ctx, err)
		}
	}
	c.log.Info().Str(xlog.FieldURL, c.url).Msg("connected")
	announce := Event{Kind: EventConnected}

	for {
		err := c.serve(ctx, conn, announce)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.log.Warn().Err(err).Msg("disconnected")
		c.emit(ctx, Event{Kind: EventDisconnected})

		var attempt int
		conn, attempt, err = c.redial(ctx)
		if err != nil {
			return c.giveUp(ctx, err)
		}
		metrics.IncReconnect("success")
		c.log.Info().Int(xlog.FieldAttempt, attempt).Msg("reconnected")
		announce = Event{Kind: EventReconnected, Attempt: attempt}
	}
}

func (c *Client) giveUp(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	metrics.IncReconnect("exhausted")
	c.log.Error().Int(xlog.FieldAttempt, c.attempts).Msg("giving up on push channel")
	c.emit(ctx, Event{Kind: EventDisconnected, Terminal: true})
	return failure.Transport("push channel unavailable", err)
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	return conn, err
}

// redial makes up to c.attempts connection attempts, c.delay apart.
func (c *Client) redial(ctx context.Context) (*websocket.Conn, int, error) {
	for attempt := 1; attempt <= c.attempts; attempt++ {
		timer := time.NewTimer(c.delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, attempt, ctx.Err()
		case <-timer.C:
		}

		conn, err := c.dial(ctx)
		if err == nil {
			return conn, attempt, nil
		}
		c.log.Debug().Err(err).Int(xlog.FieldAttempt, attempt).Msg("reconnection attempt failed")
	}
	return nil, c.attempts, ErrRetriesExhausted
}

// serve pumps one connection until it breaks or ctx is canceled. The
// announce event is delivered when the server's connect message arrives,
// so SocketID is already set for anyone reacting to it.
func (c *Client) serve(ctx context.Context, conn *websocket.Conn, announce Event) error {
	send := make(chan []byte, sendBufferSize)
	done := make(chan struct{})

	c.mu.Lock()
	c.send = send
	c.announce = &announce
	seq := c.subSeq
	owner := c.owner
	c.mu.Unlock()

	c.rejoin(owner, seq)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.writePump(conn, send, done)
	}()

	stop := context.AfterFunc(ctx, func() {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeDeadline))
		conn.Close()
	})

	err := c.readPump(ctx, conn)

	stop()
	c.mu.Lock()
	c.send = nil
	c.socketID = ""
	c.announce = nil
	c.mu.Unlock()
	close(done)
	wg.Wait()
	conn.Close()
	return err
}

// rejoin re-issues join-download-room after a (re)connection: for the
// owner's active job when attached, otherwise for the current topic.
func (c *Client) rejoin(owner ActiveJobSource, seq uint64) {
	var jobID string
	var active bool
	if owner != nil {
		jobID, active = owner.ActiveJobID()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subSeq != seq {
		// A concurrent Subscribe/Unsubscribe already spoke on this connection.
		return
	}
	if owner != nil {
		if active {
			c.topic = jobID
		} else {
			c.topic = ""
		}
	}
	if c.topic != "" {
		c.enqueueLocked(protocol.TypeJoinDownloadRoom, c.topic)
		c.log.Debug().Str(xlog.FieldJobID, c.topic).Msg("rejoining download room")
	}
}

// readPump reads messages from the connection and dispatches them.
func (c *Client) readPump(ctx context.Context, conn *websocket.Conn) error {
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(readDeadline))
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(readDeadline))
		err := conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeDeadline))
		var ne net.Error
		if errors.Is(err, websocket.ErrCloseSent) || (errors.As(err, &ne) && ne.Timeout()) {
			return nil
		}
		return err
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		conn.SetReadDeadline(time.Now().Add(readDeadline))

		ev, err := protocol.DecodeServerMessage(raw)
		if err != nil {
			c.log.Warn().Err(err).Msg("discarding malformed push message")
			continue
		}
		metrics.IncPushEvent(ev.Type)
		c.dispatch(ctx, ev)
	}
}

// writePump writes queued frames until done is closed.
func (c *Client) writePump(conn *websocket.Conn, send <-chan []byte, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case frame := <-send:
			conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.log.Debug().Err(err).Msg("write failed")
				conn.Close()
				return
			}
		}
	}
}

func (c *Client) dispatch(ctx context.Context, ev *protocol.ServerEvent) {
	switch ev.Type {
	case protocol.TypeConnect:
		c.mu.Lock()
		c.socketID = ev.Connect.SocketID
		announce := c.announce
		c.announce = nil
		c.mu.Unlock()
		c.log.Debug().Str(xlog.FieldSocketID, ev.Connect.SocketID).Msg("socket id assigned")
		if announce != nil {
			c.emit(ctx, *announce)
		}
		return
	case protocol.TypeError:
		c.log.Warn().Str("code", ev.Error.Code).Msg(ev.Error.Message)
		return
	}

	jobID := ev.JobID()
	if topic := c.Topic(); jobID != topic {
		c.log.Debug().
			Str(xlog.FieldEvent, ev.Type).
			Str(xlog.FieldJobID, jobID).
			Str("topic", topic).
			Msg("dropping event for another room")
		return
	}

	switch ev.Type {
	case protocol.TypeDownloadProgress:
		c.emit(ctx, Event{Kind: EventProgress, JobID: jobID, Progress: ev.Progress.Percent()})
	case protocol.TypeDownloadComplete:
		c.emit(ctx, Event{Kind: EventComplete, JobID: jobID, Result: ev.Complete.Result})
	case protocol.TypeDownloadError:
		c.emit(ctx, Event{Kind: EventError, JobID: jobID, Message: ev.Failure.Error})
	}
}

func (c *Client) emit(ctx context.Context, ev Event) {
	select {
	case c.events <- ev:
	case <-ctx.Done():
	}
}

// enqueueLocked queues a room command on the live connection. While
// disconnected the command is skipped; rejoin replays the topic.
func (c *Client) enqueueLocked(msgType, jobID string) {
	if c.send == nil {
		return
	}
	frame, err := protocol.Encode(msgType, protocol.RoomPayload{JobID: jobID})
	if err != nil {
		c.log.Error().Err(err).Msg("encode room command")
		return
	}
	select {
	case c.send <- frame:
	default:
		c.log.Warn().Str(xlog.FieldEvent, msgType).Str(xlog.FieldJobID, jobID).Msg("send buffer full, dropping command")
	}
}
