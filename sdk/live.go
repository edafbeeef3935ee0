// Package medlens is the Go client for the MedLens live gateway.
package medlens

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	liveproto "github.com/ssk3000x/MedLens/pkg/gateway/live/protocol"
)

const defaultConnectTimeout = 15 * time.Second

// Event is a typed server envelope emitted by LiveSession.Events().
type Event interface {
	liveEventType() string
}

type KeepaliveEvent struct{ Timestamp int64 }

func (e KeepaliveEvent) liveEventType() string { return "keepalive" }

type SpeechStartEvent struct{ SpeechID string }

func (e SpeechStartEvent) liveEventType() string { return "agent_speech_start" }

// SpeechChunkEvent carries decoded 24kHz PCM16 audio.
type SpeechChunkEvent struct{ Data []byte }

func (e SpeechChunkEvent) liveEventType() string { return "agent_speech_chunk" }

type SpeechTextEvent struct{ Text string }

func (e SpeechTextEvent) liveEventType() string { return "agent_speech_text" }

type SpeechEndEvent struct{}

func (e SpeechEndEvent) liveEventType() string { return "agent_speech_end" }

type WarningEvent struct {
	Code    string
	Message string
}

func (e WarningEvent) liveEventType() string { return "warning" }

// UnknownEvent carries envelopes this client version does not recognize.
type UnknownEvent struct {
	Type string
	Raw  json.RawMessage
}

func (e UnknownEvent) liveEventType() string { return "unknown" }

// DialOptions tunes Dial. The zero value works.
type DialOptions struct {
	// SessionID overrides the generated session identifier.
	SessionID string
	// Header is passed through to the websocket handshake.
	Header http.Header
	// Dialer overrides websocket.DefaultDialer.
	Dialer *websocket.Dialer
}

// LiveSession is a client connection to the gateway's /v1/live endpoint.
type LiveSession struct {
	conn      *websocket.Conn
	sessionID string

	events chan Event
	done   chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool

	errMu sync.Mutex
	err   error
}

// Dial connects to the gateway at baseURL (http, https, ws, or wss scheme),
// starts a session, and begins reading server envelopes.
func Dial(ctx context.Context, baseURL string, opts *DialOptions) (*LiveSession, error) {
	if opts == nil {
		opts = &DialOptions{}
	}

	wsURL, err := liveEndpoint(baseURL)
	if err != nil {
		return nil, err
	}

	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	dialCtx := ctx
	var cancel context.CancelFunc
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		dialCtx, cancel = context.WithTimeout(ctx, defaultConnectTimeout)
		defer cancel()
	}

	conn, resp, err := dialer.DialContext(dialCtx, wsURL, opts.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial %s failed (status %d): %w", wsURL, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial %s failed: %w", wsURL, err)
	}

	sessionID := strings.TrimSpace(opts.SessionID)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	s := &LiveSession{
		conn:      conn,
		sessionID: sessionID,
		events:    make(chan Event, 256),
		done:      make(chan struct{}),
	}
	if err := s.sendJSON(liveproto.ClientSessionStart{Type: "session_start", SessionID: sessionID}); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("send session_start: %w", err)
	}

	go s.readLoop()
	return s, nil
}

// SessionID returns the identifier sent in session_start.
func (s *LiveSession) SessionID() string { return s.sessionID }

// Events yields decoded server envelopes. The channel closes when the
// session ends.
func (s *LiveSession) Events() <-chan Event {
	if s == nil {
		return nil
	}
	return s.events
}

// SendFrame sends one camera frame. The gateway keeps only the most recent
// frame, so callers may send at capture rate without pacing.
func (s *LiveSession) SendFrame(mimeType string, data []byte) error {
	return s.sendJSON(liveproto.ClientFrame{
		Type: "frame",
		MIME: mimeType,
		Data: base64.StdEncoding.EncodeToString(data),
	})
}

// SendAudioChunk sends 16kHz PCM16 microphone audio.
func (s *LiveSession) SendAudioChunk(pcm []byte) error {
	return s.sendJSON(liveproto.ClientAudioChunk{
		Type: "audio_chunk",
		Data: base64.StdEncoding.EncodeToString(pcm),
	})
}

// SendPrompt asks the agent to respond to text alongside the latest frame.
func (s *LiveSession) SendPrompt(text string) error {
	return s.sendJSON(liveproto.ClientUserPrompt{Type: "user_prompt", Text: text})
}

// Interrupt stops the agent's current speech.
func (s *LiveSession) Interrupt() error {
	return s.sendJSON(liveproto.ClientUserInterrupt{Type: "user_interrupt"})
}

func (s *LiveSession) sendJSON(v any) error {
	if s == nil {
		return fmt.Errorf("session must not be nil")
	}
	if s.closed.Load() {
		return fmt.Errorf("live session is closed")
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(v)
}

// Close sends a close frame, tears down the connection, and waits for the
// read loop to finish. It is safe to call more than once.
func (s *LiveSession) Close() error {
	if s == nil {
		return nil
	}
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(2*time.Second))
		s.writeMu.Unlock()
		_ = s.conn.Close()
	})
	<-s.done
	return nil
}

// Err blocks until the session ends and returns its terminal error, if any.
func (s *LiveSession) Err() error {
	if s == nil {
		return nil
	}
	<-s.done
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *LiveSession) setErr(err error) {
	if err == nil {
		return
	}
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *LiveSession) readLoop() {
	defer close(s.done)
	defer close(s.events)

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) || s.closed.Load() {
				return
			}
			s.setErr(err)
			return
		}
		event, err := decodeServerEnvelope(data)
		if err != nil {
			s.setErr(err)
			return
		}
		s.emit(event)
	}
}

func (s *LiveSession) emit(event Event) {
	if event == nil {
		return
	}
	select {
	case s.events <- event:
	default:
		// Do not block the read loop when the caller stops consuming.
	}
}

func decodeServerEnvelope(data []byte) (Event, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("decode server envelope: %w", err)
	}

	switch envelope.Type {
	case "keepalive":
		var msg liveproto.ServerKeepalive
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("decode keepalive: %w", err)
		}
		return KeepaliveEvent{Timestamp: msg.Timestamp}, nil
	case "agent_speech_start":
		var msg liveproto.ServerSpeechStart
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("decode agent_speech_start: %w", err)
		}
		return SpeechStartEvent{SpeechID: msg.SpeechID}, nil
	case "agent_speech_chunk":
		var msg liveproto.ServerSpeechChunk
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("decode agent_speech_chunk: %w", err)
		}
		pcm, err := base64.StdEncoding.DecodeString(msg.Data)
		if err != nil {
			return nil, fmt.Errorf("decode agent_speech_chunk data: %w", err)
		}
		return SpeechChunkEvent{Data: pcm}, nil
	case "agent_speech_text":
		var msg liveproto.ServerSpeechText
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("decode agent_speech_text: %w", err)
		}
		return SpeechTextEvent{Text: msg.Text}, nil
	case "agent_speech_end":
		return SpeechEndEvent{}, nil
	case "warning":
		var msg liveproto.ServerWarning
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("decode warning: %w", err)
		}
		return WarningEvent{Code: msg.Code, Message: msg.Message}, nil
	default:
		return UnknownEvent{Type: envelope.Type, Raw: append(json.RawMessage(nil), data...)}, nil
	}
}

func liveEndpoint(baseURL string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", fmt.Errorf("parse gateway url: %w", err)
	}
	switch parsed.Scheme {
	case "http", "ws":
		parsed.Scheme = "ws"
	case "https", "wss":
		parsed.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported gateway url scheme %q", parsed.Scheme)
	}
	parsed.Path = strings.TrimRight(parsed.Path, "/") + "/v1/live"
	return parsed.String(), nil
}
