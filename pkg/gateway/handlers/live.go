package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/ssk3000x/MedLens/pkg/gateway/config"
	"github.com/ssk3000x/MedLens/pkg/gateway/lifecycle"
	"github.com/ssk3000x/MedLens/pkg/gateway/live/session"
	"github.com/ssk3000x/MedLens/pkg/gateway/live/sessions"
	"github.com/ssk3000x/MedLens/pkg/gateway/mw"
	"github.com/ssk3000x/MedLens/pkg/gateway/upstream/gemini"
)

// LiveHandler upgrades /v1/live to a websocket and runs the relay session.
type LiveHandler struct {
	Config       config.Config
	Logger       *slog.Logger
	Lifecycle    *lifecycle.Lifecycle
	LiveSessions *sessions.Tracker

	// NewUpstream overrides the Gemini dialer. Tests use it.
	NewUpstream session.UpstreamDialer
}

func (h LiveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	if h.Lifecycle != nil && h.Lifecycle.IsDraining() {
		writeJSONError(w, r, http.StatusServiceUnavailable, "draining", "gateway is draining")
		return
	}
	if !h.originAllowed(r) {
		writeJSONError(w, r, http.StatusForbidden, "origin_not_allowed", "origin is not allowed")
		return
	}

	upgrader := websocket.Upgrader{
		HandshakeTimeout: h.Config.LiveHandshakeTimeout,
		CheckOrigin:      func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	if h.Config.LiveMaxJSONMessageBytes > 0 {
		conn.SetReadLimit(h.Config.LiveMaxJSONMessageBytes)
	}

	s, err := session.New(session.Dependencies{
		Conn:      conn,
		Logger:    h.Logger,
		Upstream:  h.upstreamDialer(),
		RequestID: requestIDFromContext(r.Context()),
		Config: session.Config{
			MaxJSONMessageBytes:  h.Config.LiveMaxJSONMessageBytes,
			KeepaliveInterval:    h.Config.LiveKeepaliveInterval,
			PingInterval:         h.Config.LiveWSPingInterval,
			WriteTimeout:         h.Config.LiveWSWriteTimeout,
			InterruptCooldown:    h.Config.LiveInterruptCooldown,
			FramePresendCount:    h.Config.LiveFramePresendCount,
			FramePresendInterval: h.Config.LiveFramePresendInterval,
			PromptSendDelay:      h.Config.LivePromptSendDelay,
			AudioInMIME:          h.Config.LiveAudioInMIME,
		},
	})
	if err != nil {
		return
	}

	connID := "c_" + randHex(8)
	unregister := func() {}
	if h.LiveSessions != nil {
		unregister = h.LiveSessions.Register(connID, sessions.Handle{
			Cancel: s.Cancel,
			Warn:   s.SendWarning,
		})
	}
	defer unregister()

	if err := s.Run(); err != nil {
		if h.Logger != nil {
			h.Logger.Warn("live session ended with error",
				"conn_id", connID,
				"request_id", requestIDFromContext(r.Context()),
				"error", err)
		}
	}
}

func (h LiveHandler) upstreamDialer() session.UpstreamDialer {
	if h.NewUpstream != nil {
		return h.NewUpstream
	}
	cfg := gemini.Config{
		APIKey:            h.Config.GeminiAPIKey,
		BaseWSURL:         h.Config.GeminiWSBaseURL,
		Model:             h.Config.GeminiModel,
		Voice:             h.Config.GeminiVoice,
		SystemInstruction: h.Config.SystemInstruction,
	}
	return func(ctx context.Context) (session.UpstreamConn, error) {
		return gemini.Dial(ctx, cfg)
	}
}

func (h LiveHandler) originAllowed(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	if len(h.Config.CORSAllowedOrigins) == 0 {
		return false
	}
	_, ok := h.Config.CORSAllowedOrigins[origin]
	return ok
}

func requestIDFromContext(ctx context.Context) string {
	if id, ok := mw.RequestIDFrom(ctx); ok {
		return id
	}
	return ""
}
