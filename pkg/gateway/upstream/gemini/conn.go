// Package gemini speaks the raw BidiGenerateContent websocket protocol used
// by the Live API. The gateway owns the setup handshake and defensive parsing
// so the session layer only sees typed events.
package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	DefaultModel = "models/gemini-2.5-flash-native-audio-preview-12-2025"
	DefaultVoice = "Puck"

	defaultBidiWSBase = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1alpha.GenerativeService.BidiGenerateContent"
)

type Config struct {
	APIKey            string
	BaseWSURL         string
	Model             string
	Voice             string
	SystemInstruction string
}

type EventKind int

const (
	EventSetupComplete EventKind = iota + 1
	EventAudio
	EventText
	EventTurnComplete
	EventClosed
)

// Event is one inbound upstream occurrence. Audio fragments carry raw
// 16-bit PCM at 24 kHz; Closed events carry the close code and reason.
type Event struct {
	Kind   EventKind
	Audio  []byte
	Text   string
	Code   int
	Reason string
}

// Part is one element of a user turn.
type Part struct {
	Text       string
	InlineMIME string
	InlineData []byte
}

type Conn struct {
	conn *websocket.Conn

	writeMu sync.Mutex
	errMu   sync.Mutex

	events    chan Event
	closed    chan struct{}
	closeOnce sync.Once

	lastServerError string
	lastClose       string
}

// Dial opens the upstream socket and sends the setup message. The returned
// connection is not ready for media until an EventSetupComplete arrives on
// Events.
func Dial(ctx context.Context, cfg Config) (*Conn, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	wsURL, err := buildBidiWSURL(strings.TrimSpace(cfg.BaseWSURL), strings.TrimSpace(cfg.APIKey))
	if err != nil {
		return nil, err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, err
	}
	out := &Conn{
		conn:   conn,
		events: make(chan Event, 256),
		closed: make(chan struct{}),
	}
	if err := out.writeJSON(ctx, setupPayload(cfg)); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("send setup: %w", err)
	}

	go out.readLoop()
	return out, nil
}

// Events yields inbound upstream events. The channel is closed after an
// EventClosed is delivered.
func (c *Conn) Events() <-chan Event {
	if c == nil {
		ch := make(chan Event)
		close(ch)
		return ch
	}
	return c.events
}

// SendMedia forwards one realtime media chunk (a video frame or a slice of
// microphone PCM).
func (c *Conn) SendMedia(ctx context.Context, mimeType string, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return c.writeJSON(ctx, map[string]any{
		"realtimeInput": map[string]any{
			"mediaChunks": []wireBlob{{
				MimeType: mimeType,
				Data:     base64.StdEncoding.EncodeToString(data),
			}},
		},
	})
}

// SendTurn submits a complete user turn and asks the model to respond.
func (c *Conn) SendTurn(ctx context.Context, parts []Part) error {
	if len(parts) == 0 {
		return fmt.Errorf("turn requires at least one part")
	}
	wireParts := make([]wirePart, 0, len(parts))
	for _, p := range parts {
		wp := wirePart{Text: p.Text}
		if len(p.InlineData) > 0 {
			wp.InlineData = &wireBlob{
				MimeType: p.InlineMIME,
				Data:     base64.StdEncoding.EncodeToString(p.InlineData),
			}
		}
		wireParts = append(wireParts, wp)
	}
	return c.writeJSON(ctx, map[string]any{
		"clientContent": map[string]any{
			"turns": []wireContent{{
				Role:  "user",
				Parts: wireParts,
			}},
			"turnComplete": true,
		},
	})
}

// SendEndTurn closes the in-flight model turn without adding content. Used
// when the user interrupts mid-response.
func (c *Conn) SendEndTurn(ctx context.Context) error {
	return c.writeJSON(ctx, map[string]any{
		"clientContent": map[string]any{
			"turnComplete": true,
		},
	})
}

func (c *Conn) Close() error {
	if c == nil {
		return nil
	}
	c.closeOnce.Do(func() {
		close(c.closed)
		c.setLastClose("closed")
		_ = c.conn.Close()
	})
	return nil
}

func (c *Conn) readLoop() {
	defer close(c.events)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			code := 0
			reason := strings.TrimSpace(err.Error())
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				code = closeErr.Code
				reason = strings.TrimSpace(closeErr.Text)
			}
			c.setLastClose(fmt.Sprintf("code=%d msg=%s", code, reason))
			c.emit(Event{Kind: EventClosed, Code: code, Reason: reason})
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Error != nil {
			c.setLastServerError(msg.Error.Message)
			continue
		}

		if msg.SetupComplete != nil {
			if !c.emit(Event{Kind: EventSetupComplete}) {
				return
			}
			continue
		}
		if msg.ServerContent == nil {
			continue
		}
		if mt := msg.ServerContent.ModelTurn; mt != nil {
			for _, part := range mt.Parts {
				if part.InlineData != nil && part.InlineData.Data != "" {
					audio, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
					if err != nil {
						c.setLastServerError("invalid audio base64")
						continue
					}
					if !c.emit(Event{Kind: EventAudio, Audio: audio}) {
						return
					}
				}
				if part.Text != "" {
					if !c.emit(Event{Kind: EventText, Text: part.Text}) {
						return
					}
				}
			}
		}
		if msg.ServerContent.TurnComplete {
			if !c.emit(Event{Kind: EventTurnComplete}) {
				return
			}
		}
	}
}

func (c *Conn) emit(ev Event) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.closed:
		return false
	}
}

func (c *Conn) writeJSON(ctx context.Context, payload any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetWriteDeadline(deadline)
	} else {
		_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	}
	if err := c.conn.WriteJSON(payload); err != nil {
		reason := strings.TrimSpace(c.failureReason())
		if reason == "" {
			return err
		}
		return fmt.Errorf("%w (gemini %s)", err, reason)
	}
	return nil
}

func setupPayload(cfg Config) map[string]any {
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = DefaultModel
	}
	voice := strings.TrimSpace(cfg.Voice)
	if voice == "" {
		voice = DefaultVoice
	}
	return map[string]any{
		"setup": map[string]any{
			"model": model,
			"generationConfig": map[string]any{
				"responseModalities": []string{"AUDIO"},
				"speechConfig": map[string]any{
					"voiceConfig": map[string]any{
						"prebuiltVoiceConfig": map[string]any{
							"voiceName": voice,
						},
					},
				},
			},
			"systemInstruction": wireContent{
				Parts: []wirePart{{Text: systemInstruction(strings.TrimSpace(cfg.SystemInstruction))}},
			},
		},
	}
}

func buildBidiWSURL(base, apiKey string) (string, error) {
	if base == "" {
		base = defaultBidiWSBase
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid gemini ws base url: %w", err)
	}
	if u.Scheme == "" {
		u.Scheme = "wss"
	}
	q := u.Query()
	q.Set("key", apiKey)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

type wireBlob struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type wirePart struct {
	Text       string    `json:"text,omitempty"`
	InlineData *wireBlob `json:"inlineData,omitempty"`
}

type wireContent struct {
	Role  string     `json:"role,omitempty"`
	Parts []wirePart `json:"parts"`
}

type serverMessage struct {
	SetupComplete *struct{} `json:"setupComplete"`
	ServerContent *struct {
		ModelTurn *struct {
			Parts []struct {
				Text       string    `json:"text"`
				InlineData *wireBlob `json:"inlineData"`
			} `json:"parts"`
		} `json:"modelTurn"`
		TurnComplete bool `json:"turnComplete"`
	} `json:"serverContent"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Conn) setLastServerError(msg string) {
	if c == nil {
		return
	}
	msg = collapseWhitespace(msg)
	if msg == "" {
		return
	}
	c.errMu.Lock()
	c.lastServerError = msg
	c.errMu.Unlock()
}

func (c *Conn) setLastClose(msg string) {
	if c == nil {
		return
	}
	msg = collapseWhitespace(msg)
	if msg == "" {
		return
	}
	c.errMu.Lock()
	c.lastClose = msg
	c.errMu.Unlock()
}

func (c *Conn) failureReason() string {
	if c == nil {
		return ""
	}
	c.errMu.Lock()
	defer c.errMu.Unlock()
	parts := make([]string, 0, 2)
	if c.lastServerError != "" {
		parts = append(parts, "server_error="+c.lastServerError)
	}
	if c.lastClose != "" {
		parts = append(parts, "close="+c.lastClose)
	}
	return strings.Join(parts, " ")
}

func collapseWhitespace(s string) string {
	s = strings.Join(strings.Fields(strings.TrimSpace(s)), " ")
	if len(s) > 300 {
		s = s[:300] + "…"
	}
	return s
}
