package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/ssk3000x/MedLens/pkg/gateway/config"
	"github.com/ssk3000x/MedLens/pkg/gateway/lifecycle"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

// ReadyHandler reports whether the gateway can accept new live sessions.
// It returns 503 while draining or when the configuration is unusable.
type ReadyHandler struct {
	Config    config.Config
	Lifecycle *lifecycle.Lifecycle
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK       bool     `json:"ok"`
		Draining bool     `json:"draining"`
		Issues   []string `json:"issues,omitempty"`
	}

	issues := make([]string, 0, 4)
	if h.Config.GeminiAPIKey == "" {
		issues = append(issues, "gemini api key is not configured")
	}
	if h.Config.LiveMaxJSONMessageBytes <= 0 {
		issues = append(issues, "live max json message bytes must be > 0")
	}
	if h.Config.LiveKeepaliveInterval <= 0 || h.Config.LiveWSPingInterval <= 0 {
		issues = append(issues, "live keepalive and ping intervals must be > 0")
	}
	if h.Config.LiveInterruptCooldown <= 0 {
		issues = append(issues, "interrupt cooldown must be > 0")
	}
	if h.Config.LiveFramePresendCount <= 0 || h.Config.LiveFramePresendInterval <= 0 {
		issues = append(issues, "frame presend settings must be > 0")
	}
	if h.Config.LivePromptSendDelay <= 0 {
		issues = append(issues, "prompt send delay must be > 0")
	}
	if h.Config.ReadHeaderTimeout <= 0 {
		issues = append(issues, "read header timeout must be > 0")
	}

	draining := h.Lifecycle.IsDraining()
	ok := len(issues) == 0 && !draining
	status := http.StatusOK
	if !ok {
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(readyResp{OK: ok, Draining: draining, Issues: issues})
}
