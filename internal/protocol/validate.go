package protocol

import (
	"encoding/json"
	"fmt"
)

// validClientTypes is the set of allowed client→server message types.
var validClientTypes = map[string]bool{
	TypeJoinDownloadRoom:  true,
	TypeLeaveDownloadRoom: true,
}

// validServerTypes is the set of allowed server→client message types.
var validServerTypes = map[string]bool{
	TypeConnect:          true,
	TypeDownloadProgress: true,
	TypeDownloadComplete: true,
	TypeDownloadError:    true,
	TypeError:            true,
}

// ValidateClientMessage validates a raw JSON command sent by a client.
func ValidateClientMessage(raw []byte) (*Message, error) {
	msg, err := decode(raw, validClientTypes)
	if err != nil {
		return nil, err
	}

	var p RoomPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		return nil, fmt.Errorf("invalid payload for %s: %w", msg.Type, err)
	}
	if p.JobID == "" {
		return nil, fmt.Errorf("missing required field 'jobId' in %s payload", msg.Type)
	}
	return msg, nil
}

// ServerEvent is a decoded server→client message. Exactly one payload
// pointer is set, matching Type.
type ServerEvent struct {
	Type     string
	Connect  *ConnectPayload
	Progress *ProgressPayload
	Complete *CompletePayload
	Failure  *DownloadErrorPayload
	Error    *ErrorPayload
}

// JobID returns the job identifier carried by a job event, or "".
func (e *ServerEvent) JobID() string {
	switch {
	case e.Progress != nil:
		return e.Progress.JobID
	case e.Complete != nil:
		return e.Complete.JobID
	case e.Failure != nil:
		return e.Failure.JobID
	}
	return ""
}

// DecodeServerMessage validates and decodes a raw message received from the server.
func DecodeServerMessage(raw []byte) (*ServerEvent, error) {
	msg, err := decode(raw, validServerTypes)
	if err != nil {
		return nil, err
	}

	ev := &ServerEvent{Type: msg.Type}
	switch msg.Type {
	case TypeConnect:
		var p ConnectPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return nil, fmt.Errorf("invalid payload for %s: %w", msg.Type, err)
		}
		if p.SocketID == "" {
			return nil, fmt.Errorf("missing required field 'socketId' in %s payload", msg.Type)
		}
		ev.Connect = &p

	case TypeDownloadProgress:
		var p ProgressPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return nil, fmt.Errorf("invalid payload for %s: %w", msg.Type, err)
		}
		ev.Progress = &p

	case TypeDownloadComplete:
		var p CompletePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return nil, fmt.Errorf("invalid payload for %s: %w", msg.Type, err)
		}
		if p.Result.DownloadURL == "" {
			return nil, fmt.Errorf("missing required field 'result.downloadUrl' in %s payload", msg.Type)
		}
		ev.Complete = &p

	case TypeDownloadError:
		var p DownloadErrorPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return nil, fmt.Errorf("invalid payload for %s: %w", msg.Type, err)
		}
		ev.Failure = &p

	case TypeError:
		var p ErrorPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return nil, fmt.Errorf("invalid payload for %s: %w", msg.Type, err)
		}
		ev.Error = &p
	}

	if ev.Type != TypeConnect && ev.Type != TypeError && ev.JobID() == "" {
		return nil, fmt.Errorf("missing required field 'jobId' in %s payload", msg.Type)
	}
	return ev, nil
}

func decode(raw []byte, allowed map[string]bool) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	if msg.Type == "" {
		return nil, fmt.Errorf("missing 'type' field")
	}

	if !allowed[msg.Type] {
		return nil, fmt.Errorf("unknown message type: %s", msg.Type)
	}

	if msg.Payload == nil {
		return nil, fmt.Errorf("missing 'payload' field")
	}
	return &msg, nil
}

// NewErrorMessage creates an error message ready to send to a client.
func NewErrorMessage(code, message string) (*Message, error) {
	return NewMessage(TypeError, ErrorPayload{
		Code:    code,
		Message: message,
	})
}
