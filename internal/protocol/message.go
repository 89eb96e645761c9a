package protocol

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

// Message is the envelope for all push-channel messages.
type Message struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewMessage creates a message with the current timestamp.
func NewMessage(msgType string, payload interface{}) (*Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Message{
		Type:      msgType,
		Payload:   data,
		Timestamp: time.Now().UTC(),
	}, nil
}

// Encode marshals a message built by NewMessage into a wire frame.
func Encode(msgType string, payload interface{}) ([]byte, error) {
	msg, err := NewMessage(msgType, payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(msg)
}

// Server → Client message types.
const (
	TypeConnect          = "connect"
	TypeDownloadProgress = "download-progress"
	TypeDownloadComplete = "download-complete"
	TypeDownloadError    = "download-error"
	TypeError            = "error"
)

// Client → Server message types.
const (
	TypeJoinDownloadRoom  = "join-download-room"
	TypeLeaveDownloadRoom = "leave-download-room"
)

// Error codes.
const (
	ErrInvalidMessage = "INVALID_MESSAGE"
)

// Server → Client payloads.

type ConnectPayload struct {
	SocketID string `json:"socketId"`
}

type ProgressPayload struct {
	JobID    string  `json:"jobId"`
	Progress float64 `json:"progress"`
}

// Percent returns the progress rounded and clamped to [0,100].
func (p ProgressPayload) Percent() int {
	v := math.Round(p.Progress)
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 100:
		return 100
	}
	return int(v)
}

type CompletePayload struct {
	JobID  string         `json:"jobId"`
	Result DownloadResult `json:"result"`
}

// DownloadResult is the final artifact reference of a finished job.
type DownloadResult struct {
	DownloadURL string `json:"downloadUrl"`
	Title       string `json:"title,omitempty"`
	Duration    Label  `json:"duration,omitempty"`
	Thumbnail   string `json:"thumbnail,omitempty"`
}

type DownloadErrorPayload struct {
	JobID string `json:"jobId"`
	Error string `json:"error"`
}

type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Client → Server payloads.

type RoomPayload struct {
	JobID string `json:"jobId"`
}

// Label is a display value the backend sends either as a JSON string or a number.
type Label string

func (l *Label) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*l = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*l = Label(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("label must be a string or number: %w", err)
	}
	if f, err := n.Float64(); err == nil && f == math.Trunc(f) {
		*l = Label(strconv.FormatInt(int64(f), 10))
		return nil
	}
	*l = Label(n.String())
	return nil
}

func (l Label) String() string {
	return string(l)
}
