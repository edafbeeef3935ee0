package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badRequest(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_request", Message: message, Param: param}
}

// ClientSessionStart opens a relay session. The session identifier is
// chosen by the client and treated as opaque.
type ClientSessionStart struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
}

// ClientFrame carries a single captured video frame.
type ClientFrame struct {
	Type string `json:"type"`
	MIME string `json:"mime"`
	Data string `json:"data"`
}

// ClientAudioChunk carries microphone PCM, base64-encoded.
type ClientAudioChunk struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

type ClientUserPrompt struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type ClientUserInterrupt struct {
	Type string `json:"type"`
}

// ClientUnknown is returned for well-formed envelopes whose type tag the
// gateway does not recognize. Callers log and continue.
type ClientUnknown struct {
	Type string
}

// DecodeClientMessage parses one inbound envelope. A non-nil error means
// the frame was malformed; the session logs it and keeps reading.
func DecodeClientMessage(data []byte) (any, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badRequest("invalid json frame", "")
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, badRequest("missing type", "type")
	}

	switch typ {
	case "session_start":
		var msg ClientSessionStart
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid session_start", "")
		}
		if strings.TrimSpace(msg.SessionID) == "" {
			return nil, badRequest("session_start.sessionId is required", "sessionId")
		}
		return msg, nil
	case "frame":
		var msg ClientFrame
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid frame", "")
		}
		if strings.TrimSpace(msg.MIME) == "" {
			return nil, badRequest("frame.mime is required", "mime")
		}
		if strings.TrimSpace(msg.Data) == "" {
			return nil, badRequest("frame.data is required", "data")
		}
		if _, err := base64.StdEncoding.DecodeString(msg.Data); err != nil {
			return nil, badRequest("frame.data must be base64", "data")
		}
		return msg, nil
	case "audio_chunk":
		var msg ClientAudioChunk
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid audio_chunk", "")
		}
		if strings.TrimSpace(msg.Data) == "" {
			return nil, badRequest("audio_chunk.data is required", "data")
		}
		if _, err := base64.StdEncoding.DecodeString(msg.Data); err != nil {
			return nil, badRequest("audio_chunk.data must be base64", "data")
		}
		return msg, nil
	case "user_prompt":
		var msg ClientUserPrompt
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid user_prompt", "")
		}
		if strings.TrimSpace(msg.Text) == "" {
			return nil, badRequest("user_prompt.text is required", "text")
		}
		return msg, nil
	case "user_interrupt":
		var msg ClientUserInterrupt
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid user_interrupt", "")
		}
		return msg, nil
	default:
		return ClientUnknown{Type: typ}, nil
	}
}

type ServerKeepalive struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

type ServerSpeechStart struct {
	Type     string `json:"type"`
	SpeechID string `json:"speechId"`
}

// ServerSpeechChunk carries synthesized audio as base64 16-bit PCM.
type ServerSpeechChunk struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

type ServerSpeechText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type ServerSpeechEnd struct {
	Type string `json:"type"`
}

type ServerWarning struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}
