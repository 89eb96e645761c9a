// Package backendtest provides a scripted stand-in for the download backend:
// the qualities and job-creation endpoints plus a websocket push channel
// with per-job rooms. It is used by tests and never executes jobs.
package backendtest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"clipster/internal/jobapi"
	xlog "clipster/internal/log"
	"clipster/internal/protocol"
)

const (
	pingInterval  = 30 * time.Second
	readDeadline  = 60 * time.Second
	writeDeadline = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Server is a fake download backend.
type Server struct {
	mu      sync.Mutex
	clients map[*client]bool
	rooms   map[string]map[*client]bool
	wg      sync.WaitGroup
	log     zerolog.Logger

	reject       int
	connectDelay time.Duration
	joins        []string
	leaves       []string
	jobRequests  []jobapi.CreateJobRequest
	metaURLs     []string
	joinCh       chan string

	qualitiesStatus int
	qualitiesBody   interface{}
	jobStatus       int
	jobBody         interface{}
	onJoin          func(jobID string)
}

type client struct {
	conn   *websocket.Conn
	send   chan []byte
	server *Server
	id     string
}

// New creates a backend that answers with three qualities and fresh job ids.
func New() *Server {
	return &Server{
		clients:         make(map[*client]bool),
		rooms:           make(map[string]map[*client]bool),
		log:             xlog.WithComponent("backendtest"),
		joinCh:          make(chan string, 64),
		qualitiesStatus: http.StatusOK,
		qualitiesBody: map[string]interface{}{
			"qualities": []string{"360p", "480p", "720p"},
			"title":     "Test video",
			"duration":  "0:42",
			"thumbnail": "https://img.example/thumb.jpg",
		},
	}
}

// Start serves the backend on a local httptest server. The returned server
// and the websocket clients are closed when the test ends.
func Start(t interface{ Cleanup(func()) }, s *Server) *httptest.Server {
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		s.Close()
		ts.Close()
	})
	return ts
}

// WSURL converts an httptest URL into the push-channel endpoint URL.
func WSURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http") + "/ws"
}

// Handler returns an http.Handler with all routes configured.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("GET /api/download/qualities", s.handleQualities)
	mux.HandleFunc("POST /api/download", s.handleCreateJob)

	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// SetQualities scripts the metadata response. A nil body sends an empty response.
func (s *Server) SetQualities(status int, body interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.qualitiesStatus = status
	s.qualitiesBody = body
}

// SetCreateJob scripts the job-creation response. Status 0 restores the default
// of a fresh job id per request.
func (s *Server) SetCreateJob(status int, body interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobStatus = status
	s.jobBody = body
}

// OnJoin registers fn to run after every join-download-room command.
func (s *Server) OnJoin(fn func(jobID string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onJoin = fn
}

// RejectConnections makes the next n websocket upgrades fail with 503.
func (s *Server) RejectConnections(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reject = n
}

// DelayConnect holds back the connect frame of every new connection by d.
func (s *Server) DelayConnect(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connectDelay = d
}

// Joins returns every join-download-room job id received, in order.
func (s *Server) Joins() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.joins...)
}

// Leaves returns every leave-download-room job id received, in order.
func (s *Server) Leaves() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.leaves...)
}

// JobRequests returns the bodies of all job-creation requests.
func (s *Server) JobRequests() []jobapi.CreateJobRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]jobapi.CreateJobRequest(nil), s.jobRequests...)
}

// MetadataRequests returns the urls of all metadata lookups.
func (s *Server) MetadataRequests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.metaURLs...)
}

// WaitJoin blocks until the next join command arrives and returns its job id.
func (s *Server) WaitJoin(timeout time.Duration) (string, bool) {
	select {
	case id := <-s.joinCh:
		return id, true
	case <-time.After(timeout):
		return "", false
	}
}

// Clients returns the number of connected websocket clients.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Emit sends a message to every client in jobID's room.
func (s *Server) Emit(jobID, msgType string, payload interface{}) {
	data, err := protocol.Encode(msgType, payload)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.rooms[jobID] {
		c.enqueue(data)
	}
}

// EmitAll sends a message to every connected client regardless of rooms.
func (s *Server) EmitAll(msgType string, payload interface{}) {
	data, err := protocol.Encode(msgType, payload)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		c.enqueue(data)
	}
}

// Progress emits download-progress to jobID's room.
func (s *Server) Progress(jobID string, progress float64) {
	s.Emit(jobID, protocol.TypeDownloadProgress, protocol.ProgressPayload{JobID: jobID, Progress: progress})
}

// Complete emits download-complete to jobID's room.
func (s *Server) Complete(jobID string, result protocol.DownloadResult) {
	s.Emit(jobID, protocol.TypeDownloadComplete, protocol.CompletePayload{JobID: jobID, Result: result})
}

// Fail emits download-error to jobID's room.
func (s *Server) Fail(jobID, message string) {
	s.Emit(jobID, protocol.TypeDownloadError, protocol.DownloadErrorPayload{JobID: jobID, Error: message})
}

// DropConnections closes every websocket connection from the server side.
func (s *Server) DropConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		c.conn.Close()
	}
}

// Close drops all connections and waits for their pumps to exit.
func (s *Server) Close() {
	s.DropConnections()
	s.wg.Wait()
}

// handleWebSocket upgrades an HTTP connection to WebSocket.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if s.reject > 0 {
		s.reject--
		s.mu.Unlock()
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}
	delay := s.connectDelay
	s.mu.Unlock()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade error")
		return
	}

	c := &client{
		conn:   conn,
		send:   make(chan []byte, 256),
		server: s,
		id:     uuid.NewString(),
	}

	s.mu.Lock()
	s.clients[c] = true
	s.mu.Unlock()

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		if delay > 0 {
			time.Sleep(delay)
		}
		// The socket id goes out before anything queued on send.
		if err := c.writeConnect(); err != nil {
			c.conn.Close()
			return
		}
		c.writePump()
	}()
	go func() {
		defer s.wg.Done()
		c.readPump()
	}()
}

// readPump reads commands from the WebSocket connection.
func (c *client) readPump() {
	defer func() {
		c.server.removeClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(readDeadline))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.server.handleMessage(c, message)
	}
}

func (c *client) writeConnect() error {
	data, err := protocol.Encode(protocol.TypeConnect, protocol.ConnectPayload{SocketID: c.id})
	if err != nil {
		return err
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// writePump writes messages to the WebSocket connection.
func (c *client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// enqueue must be called with server.mu held.
func (c *client) enqueue(data []byte) {
	select {
	case c.send <- data:
	default:
		// Client buffer full, skip.
	}
}

// removeClient cleans up a disconnected client.
func (s *Server) removeClient(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.clients, c)
	for jobID, members := range s.rooms {
		delete(members, c)
		if len(members) == 0 {
			delete(s.rooms, jobID)
		}
	}
	close(c.send)
}

// handleMessage processes a validated client command.
func (s *Server) handleMessage(c *client, raw []byte) {
	msg, err := protocol.ValidateClientMessage(raw)
	if err != nil {
		s.sendError(c, protocol.ErrInvalidMessage, err.Error())
		return
	}

	var payload protocol.RoomPayload
	json.Unmarshal(msg.Payload, &payload)

	switch msg.Type {
	case protocol.TypeJoinDownloadRoom:
		s.mu.Lock()
		if s.rooms[payload.JobID] == nil {
			s.rooms[payload.JobID] = make(map[*client]bool)
		}
		s.rooms[payload.JobID][c] = true
		s.joins = append(s.joins, payload.JobID)
		onJoin := s.onJoin
		s.mu.Unlock()

		select {
		case s.joinCh <- payload.JobID:
		default:
		}
		if onJoin != nil {
			onJoin(payload.JobID)
		}

	case protocol.TypeLeaveDownloadRoom:
		s.mu.Lock()
		delete(s.rooms[payload.JobID], c)
		s.leaves = append(s.leaves, payload.JobID)
		s.mu.Unlock()
	}
}

func (s *Server) sendError(c *client, code, message string) {
	msg, _ := protocol.NewErrorMessage(code, message)
	data, _ := json.Marshal(msg)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.clients[c] {
		c.enqueue(data)
	}
}
