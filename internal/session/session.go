package session

import (
	"time"

	"clipster/internal/platform"
)

// State represents the lifecycle state of a session.
type State string

const (
	StateIdle             State = "idle"
	StateFetchingInfo     State = "fetching_info"
	StateSelectingQuality State = "selecting_quality"
	StateStartingJob      State = "starting_job"
	StateInProgress       State = "in_progress"
	StateReady            State = "ready"
	StateFailed           State = "failed"
)

// Connection is the push-channel status as last reported to the session.
type Connection string

const (
	ConnectionConnecting   Connection = "connecting"
	ConnectionConnected    Connection = "connected"
	ConnectionReconnecting Connection = "reconnecting"
	ConnectionDown         Connection = "disconnected"
)

// Metadata describes the media behind the submitted URL.
type Metadata struct {
	Title         string `json:"title,omitempty"`
	DurationLabel string `json:"duration,omitempty"`
	ThumbnailURL  string `json:"thumbnail,omitempty"`
}

// Session is the single record tracking one download attempt end to end.
// Values handed out by the controller are copies.
type Session struct {
	URL               string            `json:"url"`
	Platform          platform.Platform `json:"platform"`
	State             State             `json:"state"`
	ActiveJobID       string            `json:"activeJobId,omitempty"`
	Qualities         []string          `json:"qualities"`
	SelectedQuality   string            `json:"selectedQuality,omitempty"`
	Metadata          *Metadata         `json:"metadata,omitempty"`
	Progress          int               `json:"progress"`
	ResultDownloadURL string            `json:"resultDownloadUrl,omitempty"`
	LastError         string            `json:"lastError,omitempty"`

	Connection     Connection `json:"connection"`
	Warning        string     `json:"warning,omitempty"`
	ArtifactPath   string     `json:"artifactPath,omitempty"`
	RetrievalError string     `json:"retrievalError,omitempty"`
}

// Clone returns a deep copy of s.
func (s Session) Clone() Session {
	out := s
	if s.Qualities != nil {
		out.Qualities = append([]string(nil), s.Qualities...)
	}
	if s.Metadata != nil {
		md := *s.Metadata
		out.Metadata = &md
	}
	return out
}

// Terminal reports whether the current attempt has finished.
func (s Session) Terminal() bool {
	return s.State == StateReady || s.State == StateFailed
}

// Transition is one recorded state change.
type Transition struct {
	From  State     `json:"from"`
	To    State     `json:"to"`
	JobID string    `json:"jobId,omitempty"`
	Error string    `json:"error,omitempty"`
	At    time.Time `json:"at"`
}
