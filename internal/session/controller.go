// Package session owns the single download session: it drives metadata
// lookup and job creation, applies push-channel events for the active job
// only, and publishes snapshots to observers.
package session

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"clipster/internal/failure"
	"clipster/internal/jobapi"
	xlog "clipster/internal/log"
	"clipster/internal/metrics"
	"clipster/internal/platform"
	"clipster/internal/pushchannel"
)

const defaultHistoryCapacity = 64

// ErrSuperseded is returned when a request finished after a newer
// submission or a Clear; its result was discarded.
var ErrSuperseded = errors.New("session: superseded by a newer submission")

// API is the request/response side of the backend.
type API interface {
	FetchMetadata(ctx context.Context, rawURL string) (*jobapi.Metadata, error)
	CreateJob(ctx context.Context, rawURL, quality, socketID string) (string, error)
}

// Channel is the push-channel subscription surface the controller drives.
type Channel interface {
	Subscribe(jobID string)
	Unsubscribe(jobID string)
	SocketID() string
}

// Retriever fetches the finished artifact and returns where it was stored.
type Retriever interface {
	Retrieve(ctx context.Context, jobID, downloadURL, title string) (string, error)
}

// Controller is the session state machine. All session mutations happen
// under mu; network calls run with mu released and their results are
// applied only if no newer submission happened meanwhile.
type Controller struct {
	api       API
	channel   Channel
	retriever Retriever
	log       zerolog.Logger
	now       func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	sess      Session
	gen       uint64 // bumped by Submit and Clear
	pinned    bool   // platform chosen explicitly
	history   *RingBuffer[Transition]
	watchers  map[int]chan Session
	nextWatch int
}

// Option configures a Controller.
type Option func(*Controller)

// WithRetriever sets the side effect run once per job on completion.
func WithRetriever(r Retriever) Option {
	return func(c *Controller) { c.retriever = r }
}

// WithHistory sets how many transitions History keeps.
func WithHistory(capacity int) Option {
	return func(c *Controller) { c.history = NewRingBuffer[Transition](capacity) }
}

// WithClock overrides the transition timestamp source.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// NewController creates an idle session.
func NewController(api API, channel Channel, opts ...Option) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		api:      api,
		channel:  channel,
		log:      xlog.WithComponent("session"),
		now:      func() time.Time { return time.Now().UTC() },
		ctx:      ctx,
		cancel:   cancel,
		history:  NewRingBuffer[Transition](defaultHistoryCapacity),
		watchers: make(map[int]chan Session),
		sess: Session{
			Platform:   platform.Auto,
			State:      StateIdle,
			Qualities:  []string{},
			Connection: ConnectionConnecting,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit resets the session and looks up metadata for rawURL. A malformed
// URL fails the session without any network call.
func (c *Controller) Submit(ctx context.Context, rawURL string) error {
	rawURL = strings.TrimSpace(rawURL)

	c.mu.Lock()
	c.gen++
	gen := c.gen
	c.resetLocked()
	c.sess.URL = rawURL
	if !c.pinned {
		c.sess.Platform = platform.Detect(rawURL)
	}

	if err := validateURL(rawURL); err != nil {
		c.failLocked(err)
		c.mu.Unlock()
		return err
	}
	c.setStateLocked(StateFetchingInfo)
	detected := c.sess.Platform
	c.mu.Unlock()

	c.log.Info().
		Str(xlog.FieldURL, rawURL).
		Str(xlog.FieldPlatform, detected.String()).
		Msg("fetching media info")

	md, err := c.api.FetchMetadata(ctx, rawURL)

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return ErrSuperseded
	}
	if err != nil {
		c.failLocked(err)
		return err
	}

	c.sess.Qualities = append([]string{}, md.Qualities...)
	c.sess.Metadata = &Metadata{
		Title:         md.Title,
		DurationLabel: md.Duration,
		ThumbnailURL:  md.ThumbnailURL,
	}
	// List order defines rank; the last entry is the best.
	if n := len(md.Qualities); n > 0 {
		c.sess.SelectedQuality = md.Qualities[n-1]
	}
	c.setStateLocked(StateSelectingQuality)
	return nil
}

// ChooseQuality selects one of the offered qualities.
func (c *Controller) ChooseQuality(quality string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sess.State != StateSelectingQuality {
		return failure.InvalidInput("no quality selection in progress")
	}
	for _, q := range c.sess.Qualities {
		if q == quality {
			c.sess.SelectedQuality = quality
			c.notifyLocked()
			return nil
		}
	}
	return failure.InvalidInput("unknown quality: " + quality)
}

// StartDownload creates a job for the selected quality and subscribes to
// its events.
func (c *Controller) StartDownload(ctx context.Context) error {
	c.mu.Lock()
	if c.sess.State != StateSelectingQuality {
		c.mu.Unlock()
		return failure.InvalidInput("nothing to download, submit a URL first")
	}
	if c.sess.SelectedQuality == "" {
		c.mu.Unlock()
		return failure.InvalidInput("select a quality first")
	}
	gen := c.gen
	rawURL, quality := c.sess.URL, c.sess.SelectedQuality
	c.sess.Progress = 0
	c.setStateLocked(StateStartingJob)
	socketID := c.channel.SocketID()
	c.mu.Unlock()

	c.log.Info().
		Str(xlog.FieldURL, rawURL).
		Str(xlog.FieldQuality, quality).
		Str(xlog.FieldSocketID, socketID).
		Msg("creating job")

	jobID, err := c.api.CreateJob(ctx, rawURL, quality, socketID)

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return ErrSuperseded
	}
	if err != nil {
		c.failLocked(err)
		return err
	}

	c.sess.ActiveJobID = jobID
	c.channel.Subscribe(jobID)
	c.setStateLocked(StateInProgress)
	return nil
}

// Clear abandons the current attempt and returns to Idle.
func (c *Controller) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gen++
	c.pinned = false
	c.resetLocked()
	c.sess.URL = ""
	c.sess.Platform = platform.Auto
	c.notifyLocked()
}

// SetPlatform records an explicit platform choice. Auto re-enables detection.
func (c *Controller) SetPlatform(p platform.Platform) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pinned = p != platform.Auto
	c.sess.Platform = p
	if !c.pinned && c.sess.URL != "" {
		c.sess.Platform = platform.Detect(c.sess.URL)
	}
	c.notifyLocked()
}

// HandleEvent applies one push-channel event. Job events whose id is not
// the active job are dropped; the comparison and the mutation happen under
// the same lock.
func (c *Controller) HandleEvent(ev pushchannel.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch ev.Kind {
	case pushchannel.EventConnected, pushchannel.EventReconnected:
		c.sess.Connection = ConnectionConnected
		c.sess.Warning = ""
		c.notifyLocked()
		return
	case pushchannel.EventDisconnected:
		if ev.Terminal {
			c.sess.Connection = ConnectionDown
			c.sess.Warning = failure.Transport("push channel unavailable", pushchannel.ErrRetriesExhausted).Error()
		} else {
			c.sess.Connection = ConnectionReconnecting
		}
		c.notifyLocked()
		return
	}
	if !ev.IsJobEvent() {
		return
	}

	if ev.JobID == "" || ev.JobID != c.sess.ActiveJobID {
		metrics.IncStaleEvent(ev.WireType())
		c.log.Debug().
			Str(xlog.FieldEvent, ev.WireType()).
			Str(xlog.FieldJobID, ev.JobID).
			Str("active_job_id", c.sess.ActiveJobID).
			Msg("dropping stale event")
		return
	}
	if c.sess.State != StateInProgress {
		// Ready is terminal for the job; duplicates are no-ops.
		c.log.Debug().
			Str(xlog.FieldEvent, ev.WireType()).
			Str(xlog.FieldJobID, ev.JobID).
			Str(xlog.FieldOldState, string(c.sess.State)).
			Msg("ignoring event outside in_progress")
		return
	}

	switch ev.Kind {
	case pushchannel.EventProgress:
		p := clampProgress(ev.Progress)
		if p > c.sess.Progress {
			c.sess.Progress = p
			c.notifyLocked()
		}

	case pushchannel.EventComplete:
		if ev.Result.DownloadURL == "" {
			c.log.Warn().Str(xlog.FieldJobID, ev.JobID).Msg("completion without download url ignored")
			return
		}
		c.sess.Progress = 100
		c.sess.ResultDownloadURL = ev.Result.DownloadURL
		c.mergeResultLocked(ev)
		c.setStateLocked(StateReady)
		metrics.IncJob("ready")
		c.startRetrievalLocked(ev.JobID)

	case pushchannel.EventError:
		c.channel.Unsubscribe(ev.JobID)
		c.sess.ActiveJobID = ""
		c.sess.Progress = 0
		c.sess.LastError = failure.Job(ev.Message).Error()
		c.setStateLocked(StateFailed)
		metrics.IncJob("failed")
	}
}

// Run feeds events into HandleEvent until ctx is canceled or events is closed.
func (c *Controller) Run(ctx context.Context, events <-chan pushchannel.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			c.HandleEvent(ev)
		}
	}
}

// Snapshot returns a copy of the current session.
func (c *Controller) Snapshot() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess.Clone()
}

// ActiveJobID returns the job the session currently trusts.
func (c *Controller) ActiveJobID() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess.ActiveJobID, c.sess.ActiveJobID != ""
}

// History returns the recent state transitions, oldest first.
func (c *Controller) History() []Transition {
	return c.history.ReadAll()
}

// Wait blocks until in-flight artifact retrievals finish.
func (c *Controller) Wait() {
	c.wg.Wait()
}

// Close cancels in-flight retrievals, waits for them and closes all watchers.
func (c *Controller) Close() {
	c.cancel()
	c.wg.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()
	for id, ch := range c.watchers {
		close(ch)
		delete(c.watchers, id)
	}
}

func (c *Controller) resetLocked() {
	if c.sess.ActiveJobID != "" {
		c.channel.Unsubscribe(c.sess.ActiveJobID)
	}
	c.sess.ActiveJobID = ""
	c.sess.Qualities = []string{}
	c.sess.SelectedQuality = ""
	c.sess.Metadata = nil
	c.sess.Progress = 0
	c.sess.ResultDownloadURL = ""
	c.sess.LastError = ""
	c.sess.ArtifactPath = ""
	c.sess.RetrievalError = ""
	c.setStateLocked(StateIdle)
}

func (c *Controller) failLocked(err error) {
	c.sess.ActiveJobID = ""
	c.sess.LastError = err.Error()
	c.setStateLocked(StateFailed)
}

// setStateLocked records the transition and notifies watchers. Same-state
// calls only notify.
func (c *Controller) setStateLocked(to State) {
	from := c.sess.State
	c.sess.State = to
	if from != to {
		tr := Transition{From: from, To: to, JobID: c.sess.ActiveJobID, At: c.now()}
		if to == StateFailed {
			tr.Error = c.sess.LastError
		}
		c.history.Write(tr)

		ev := c.log.Info()
		if to == StateFailed {
			ev = c.log.Warn().Str("error", c.sess.LastError)
		}
		ev.Str(xlog.FieldOldState, string(from)).
			Str(xlog.FieldNewState, string(to)).
			Str(xlog.FieldJobID, c.sess.ActiveJobID).
			Msg("session state changed")
	}
	c.notifyLocked()
}

func (c *Controller) mergeResultLocked(ev pushchannel.Event) {
	md := Metadata{}
	if c.sess.Metadata != nil {
		md = *c.sess.Metadata
	}
	if ev.Result.Title != "" {
		md.Title = ev.Result.Title
	}
	if d := ev.Result.Duration.String(); d != "" {
		md.DurationLabel = d
	}
	if ev.Result.Thumbnail != "" {
		md.ThumbnailURL = ev.Result.Thumbnail
	}
	c.sess.Metadata = &md
}

// startRetrievalLocked runs the retriever for the job that just became
// Ready. The result is applied only if that job is still the active one.
func (c *Controller) startRetrievalLocked(jobID string) {
	if c.retriever == nil {
		return
	}
	gen := c.gen
	downloadURL := c.sess.ResultDownloadURL
	var title string
	if c.sess.Metadata != nil {
		title = c.sess.Metadata.Title
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		path, err := c.retriever.Retrieve(c.ctx, jobID, downloadURL, title)

		c.mu.Lock()
		defer c.mu.Unlock()
		if gen != c.gen || c.sess.ActiveJobID != jobID {
			return
		}
		if err != nil {
			c.log.Warn().Err(err).Str(xlog.FieldJobID, jobID).Msg("artifact retrieval failed")
			c.sess.RetrievalError = err.Error()
		} else {
			c.log.Info().Str(xlog.FieldJobID, jobID).Str(xlog.FieldPath, path).Msg("artifact saved")
			c.sess.ArtifactPath = path
		}
		c.notifyLocked()
	}()
}

func validateURL(rawURL string) error {
	if rawURL == "" {
		return failure.InvalidInput("URL is required")
	}
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return failure.InvalidInput("invalid URL, please try again")
	}
	return nil
}

func clampProgress(p int) int {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}
