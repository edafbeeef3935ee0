// Package session holds the per-connection relay actor. One goroutine owns
// all session state; the websocket read loop, the outbound writer, and the
// upstream adapter feed it through channels.
package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ssk3000x/MedLens/pkg/gateway/live/protocol"
	"github.com/ssk3000x/MedLens/pkg/gateway/upstream/gemini"
)

var errBackpressure = errors.New("live outbound backpressure")

// UpstreamConn is the slice of the model connection the orchestrator drives.
// *gemini.Conn satisfies it.
type UpstreamConn interface {
	Events() <-chan gemini.Event
	SendMedia(ctx context.Context, mimeType string, data []byte) error
	SendTurn(ctx context.Context, parts []gemini.Part) error
	SendEndTurn(ctx context.Context) error
	Close() error
}

type UpstreamDialer func(ctx context.Context) (UpstreamConn, error)

type Config struct {
	MaxJSONMessageBytes  int64
	KeepaliveInterval    time.Duration
	PingInterval         time.Duration
	WriteTimeout         time.Duration
	InterruptCooldown    time.Duration
	FramePresendCount    int
	FramePresendInterval time.Duration
	PromptSendDelay      time.Duration
	OutboundQueueSize    int
	AudioInMIME          string
}

type Dependencies struct {
	Conn      *websocket.Conn
	Logger    *slog.Logger
	Upstream  UpstreamDialer
	RequestID string
	Config    Config
	Now       func() time.Time
}

type sessionState int

const (
	stateIdle sessionState = iota
	stateConnecting
	stateReady
)

type LiveSession struct {
	conn      *websocket.Conn
	logger    *slog.Logger
	dial      UpstreamDialer
	requestID string
	cfg       Config
	now       func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	outbound chan outboundFrame
	tasks    chan func()

	// Actor state. Only the Run goroutine touches these; scheduled tasks
	// run inside Run via the tasks channel.
	state       sessionState
	interrupted bool
	speaking    bool
	sessionID   string
	latestFrame *mediaChunk
	upstream    UpstreamConn
	speechSeq   int
}

type mediaChunk struct {
	mime string
	data []byte
}

type inboundFrame struct {
	data []byte
	err  error
}

type dialResult struct {
	conn UpstreamConn
	err  error
}

func New(deps Dependencies) (*LiveSession, error) {
	if deps.Conn == nil {
		return nil, fmt.Errorf("connection is required")
	}
	if deps.Upstream == nil {
		return nil, fmt.Errorf("upstream dialer is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Config.KeepaliveInterval <= 0 {
		deps.Config.KeepaliveInterval = 15 * time.Second
	}
	if deps.Config.InterruptCooldown <= 0 {
		deps.Config.InterruptCooldown = 1200 * time.Millisecond
	}
	if deps.Config.FramePresendCount <= 0 {
		deps.Config.FramePresendCount = 3
	}
	if deps.Config.FramePresendInterval <= 0 {
		deps.Config.FramePresendInterval = 150 * time.Millisecond
	}
	if deps.Config.PromptSendDelay <= 0 {
		deps.Config.PromptSendDelay = 450 * time.Millisecond
	}
	if deps.Config.OutboundQueueSize <= 0 {
		deps.Config.OutboundQueueSize = 256
	}
	if deps.Config.AudioInMIME == "" {
		deps.Config.AudioInMIME = "audio/pcm;rate=16000"
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &LiveSession{
		conn:      deps.Conn,
		logger:    deps.Logger,
		dial:      deps.Upstream,
		requestID: deps.RequestID,
		cfg:       deps.Config,
		now:       deps.Now,
		ctx:       ctx,
		cancel:    cancel,
		outbound:  make(chan outboundFrame, deps.Config.OutboundQueueSize),
		tasks:     make(chan func(), 16),
	}, nil
}

func (s *LiveSession) Run() error {
	defer s.cancel()
	defer s.dropUpstream()

	if s.cfg.MaxJSONMessageBytes > 0 {
		s.conn.SetReadLimit(s.cfg.MaxJSONMessageBytes)
	}

	readCh := make(chan inboundFrame, 64)
	writerErrCh := make(chan error, 1)
	go s.readLoop(readCh)
	go func() {
		w := outboundWriter{
			ws:     s.conn,
			ctx:    s.ctx,
			cfg:    s.cfg,
			now:    s.now,
			frames: s.outbound,
		}
		writerErrCh <- w.Run()
		close(writerErrCh)
	}()

	dialCh := make(chan dialResult, 1)
	var wg sync.WaitGroup
	// A dial resolving after the loop stops receiving can still land a live
	// handle in the buffered channel; it must be closed with the session.
	defer func() {
		s.cancel()
		wg.Wait()
		select {
		case res := <-dialCh:
			if res.conn != nil {
				_ = res.conn.Close()
			}
		default:
		}
	}()

	var (
		cooldownTimer  *time.Timer
		cooldownActive bool
	)
	stopCooldown := func() {
		if cooldownTimer == nil {
			return
		}
		if !cooldownTimer.Stop() {
			select {
			case <-cooldownTimer.C:
			default:
			}
		}
		cooldownActive = false
	}
	resetCooldown := func(d time.Duration) {
		if cooldownTimer == nil {
			cooldownTimer = time.NewTimer(d)
			cooldownActive = true
			return
		}
		stopCooldown()
		cooldownTimer.Reset(d)
		cooldownActive = true
	}
	cooldownCh := func() <-chan time.Time {
		if !cooldownActive || cooldownTimer == nil {
			return nil
		}
		return cooldownTimer.C
	}
	defer func() {
		if cooldownTimer != nil {
			cooldownTimer.Stop()
		}
	}()

	upstreamEvents := func() <-chan gemini.Event {
		if s.upstream == nil {
			return nil
		}
		return s.upstream.Events()
	}

	for {
		select {
		case <-s.ctx.Done():
			return nil
		case err := <-writerErrCh:
			if err == nil {
				return nil
			}
			return err
		case frame, ok := <-readCh:
			if !ok || frame.err != nil {
				return nil
			}
			msg, decErr := protocol.DecodeClientMessage(frame.data)
			if decErr != nil {
				s.logger.Warn("dropping malformed client frame",
					"request_id", s.requestID, "error", decErr)
				continue
			}
			switch m := msg.(type) {
			case protocol.ClientSessionStart:
				if s.state != stateIdle {
					s.logger.Warn("session_start while session active",
						"request_id", s.requestID, "session_id", s.sessionID)
					continue
				}
				s.sessionID = m.SessionID
				s.state = stateConnecting
				s.interrupted = false
				s.speaking = false
				stopCooldown()
				if err := s.sendJSON(protocol.ServerSpeechStart{Type: "agent_speech_start", SpeechID: "init"}); err != nil {
					s.logSendErr("agent_speech_start", err)
				}
				wg.Add(1)
				go func() {
					defer wg.Done()
					conn, err := s.dial(s.ctx)
					select {
					case dialCh <- dialResult{conn: conn, err: err}:
					case <-s.ctx.Done():
						if conn != nil {
							_ = conn.Close()
						}
					}
				}()
			case protocol.ClientFrame:
				data, err := base64.StdEncoding.DecodeString(m.Data)
				if err != nil {
					continue
				}
				// Last write wins. Frames that arrive before the upstream is
				// ready are never forwarded but stay current for the next
				// prompt.
				s.latestFrame = &mediaChunk{mime: m.MIME, data: data}
				if s.state == stateReady && !s.interrupted {
					s.forwardFrame(s.latestFrame)
				}
			case protocol.ClientAudioChunk:
				// Stale audio is worthless; drop rather than buffer when the
				// upstream cannot take it right now.
				if s.state != stateReady || s.interrupted {
					continue
				}
				data, err := base64.StdEncoding.DecodeString(m.Data)
				if err != nil {
					continue
				}
				if err := s.upstream.SendMedia(s.ctx, s.cfg.AudioInMIME, data); err != nil {
					s.logger.Warn("forward audio failed", "request_id", s.requestID, "error", err)
				}
			case protocol.ClientUserPrompt:
				if s.state != stateReady || s.interrupted {
					if err := s.sendWarning("not_ready", "session is not ready for prompts"); err != nil {
						s.logSendErr("warning", err)
					}
					continue
				}
				s.startPromptTurn(m.Text)
			case protocol.ClientUserInterrupt:
				s.interrupted = true
				s.speaking = false
				if s.upstream != nil {
					if err := s.upstream.SendEndTurn(s.ctx); err != nil {
						s.logger.Warn("end turn failed", "request_id", s.requestID, "error", err)
					}
				}
				if err := s.sendJSON(protocol.ServerSpeechEnd{Type: "agent_speech_end"}); err != nil {
					s.logSendErr("agent_speech_end", err)
				}
				resetCooldown(s.cfg.InterruptCooldown)
			case protocol.ClientUnknown:
				s.logger.Warn("ignoring unknown client message",
					"request_id", s.requestID, "type", m.Type)
			}
		case res := <-dialCh:
			if s.state != stateConnecting {
				if res.conn != nil {
					_ = res.conn.Close()
				}
				continue
			}
			if res.err != nil {
				s.logger.Warn("upstream dial failed", "request_id", s.requestID, "error", res.err)
				if err := s.sendWarning("upstream_unavailable", "could not reach the model"); err != nil {
					s.logSendErr("warning", err)
				}
				s.state = stateIdle
				continue
			}
			s.upstream = res.conn
		case ev, ok := <-upstreamEvents():
			if !ok {
				s.dropUpstream()
				continue
			}
			s.handleUpstreamEvent(ev)
		case <-cooldownCh():
			cooldownActive = false
			s.interrupted = false
		case fn := <-s.tasks:
			fn()
		}
	}
}

// startPromptTurn warms the model with the freshest frame, repeats the frame
// a few times so a single blurred capture does not dominate, then submits
// the combined turn. Every delayed step re-checks session state at fire
// time; an interrupt or upstream loss in between cancels the rest.
func (s *LiveSession) startPromptTurn(text string) {
	if s.latestFrame != nil {
		s.forwardFrame(s.latestFrame)
	}
	for i := 1; i < s.cfg.FramePresendCount; i++ {
		s.schedule(time.Duration(i)*s.cfg.FramePresendInterval, func() {
			if s.state != stateReady || s.interrupted || s.latestFrame == nil {
				return
			}
			s.forwardFrame(s.latestFrame)
		})
	}
	s.schedule(s.cfg.PromptSendDelay, func() {
		if s.state != stateReady || s.interrupted {
			return
		}
		parts := []gemini.Part{{Text: text}}
		if s.latestFrame != nil {
			parts = append(parts, gemini.Part{
				InlineMIME: s.latestFrame.mime,
				InlineData: s.latestFrame.data,
			})
		}
		if err := s.upstream.SendTurn(s.ctx, parts); err != nil {
			s.logger.Warn("send turn failed", "request_id", s.requestID, "error", err)
		}
	})
}

func (s *LiveSession) handleUpstreamEvent(ev gemini.Event) {
	switch ev.Kind {
	case gemini.EventSetupComplete:
		if s.state == stateConnecting && s.upstream != nil {
			s.state = stateReady
		}
	case gemini.EventAudio:
		if s.state != stateReady || s.interrupted {
			return
		}
		s.markSpeaking()
		err := s.sendJSON(protocol.ServerSpeechChunk{
			Type: "agent_speech_chunk",
			Data: base64.StdEncoding.EncodeToString(ev.Audio),
		})
		if err != nil {
			s.logSendErr("agent_speech_chunk", err)
		}
	case gemini.EventText:
		if s.state != stateReady || s.interrupted {
			return
		}
		s.markSpeaking()
		if err := s.sendJSON(protocol.ServerSpeechText{Type: "agent_speech_text", Text: ev.Text}); err != nil {
			s.logSendErr("agent_speech_text", err)
		}
	case gemini.EventTurnComplete:
		if !s.speaking {
			return
		}
		s.speaking = false
		if err := s.sendJSON(protocol.ServerSpeechEnd{Type: "agent_speech_end"}); err != nil {
			s.logSendErr("agent_speech_end", err)
		}
	case gemini.EventClosed:
		s.logger.Warn("upstream closed",
			"request_id", s.requestID, "session_id", s.sessionID,
			"code", ev.Code, "reason", ev.Reason)
		s.dropUpstream()
	}
}

// markSpeaking opens a speech segment on the first fragment of a model turn.
func (s *LiveSession) markSpeaking() {
	if s.speaking {
		return
	}
	s.speaking = true
	s.speechSeq++
	err := s.sendJSON(protocol.ServerSpeechStart{
		Type:     "agent_speech_start",
		SpeechID: fmt.Sprintf("s_%d", s.speechSeq),
	})
	if err != nil {
		s.logSendErr("agent_speech_start", err)
	}
}

// dropUpstream tears down the model connection without closing the client
// session. A fresh session_start reconnects.
func (s *LiveSession) dropUpstream() {
	if s.upstream != nil {
		_ = s.upstream.Close()
		s.upstream = nil
	}
	s.state = stateIdle
	s.speaking = false
}

func (s *LiveSession) forwardFrame(frame *mediaChunk) {
	if err := s.upstream.SendMedia(s.ctx, frame.mime, frame.data); err != nil {
		s.logger.Warn("forward frame failed", "request_id", s.requestID, "error", err)
	}
}

// schedule posts fn back into the actor loop after d. The task is dropped if
// the session ends first.
func (s *LiveSession) schedule(d time.Duration, fn func()) {
	time.AfterFunc(d, func() {
		select {
		case s.tasks <- fn:
		case <-s.ctx.Done():
		}
	})
}

func (s *LiveSession) sendWarning(code, message string) error {
	return s.sendJSON(protocol.ServerWarning{Type: "warning", Code: code, Message: message})
}

func (s *LiveSession) sendJSON(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.enqueue(outboundFrame{payload: payload})
}

func (s *LiveSession) enqueue(frame outboundFrame) error {
	select {
	case s.outbound <- frame:
		return nil
	case <-s.ctx.Done():
		return s.ctx.Err()
	default:
		return errBackpressure
	}
}

func (s *LiveSession) logSendErr(kind string, err error) {
	if err == nil {
		return
	}
	s.logger.Warn("dropping outbound envelope",
		"request_id", s.requestID, "envelope", kind, "error", err)
}

func (s *LiveSession) readLoop(out chan<- inboundFrame) {
	defer close(out)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case out <- inboundFrame{err: err}:
			case <-s.ctx.Done():
			}
			return
		}
		select {
		case out <- inboundFrame{data: data}:
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *LiveSession) Cancel() {
	if s == nil || s.cancel == nil {
		return
	}
	s.cancel()
}

// SendWarning is safe to call from outside the actor goroutine. The drain
// path uses it to tell clients the gateway is shutting down.
func (s *LiveSession) SendWarning(code, message string) error {
	if s == nil {
		return nil
	}
	return s.sendWarning(code, message)
}
