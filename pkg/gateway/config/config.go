package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ssk3000x/MedLens/pkg/gateway/upstream/gemini"
)

type Config struct {
	Addr string

	// Upstream model endpoint.
	GeminiAPIKey      string
	GeminiWSBaseURL   string
	GeminiModel       string
	GeminiVoice       string
	SystemInstruction string

	// Live WebSocket relay (/v1/live).
	LiveMaxJSONMessageBytes  int64
	LiveKeepaliveInterval    time.Duration
	LiveWSPingInterval       time.Duration
	LiveWSWriteTimeout       time.Duration
	LiveHandshakeTimeout     time.Duration
	LiveInterruptCooldown    time.Duration
	LiveFramePresendCount    int
	LiveFramePresendInterval time.Duration
	LivePromptSendDelay      time.Duration
	LiveAudioInMIME          string

	// CORS
	CORSAllowedOrigins map[string]struct{} // empty => disabled

	// Tool backends.
	DatabaseURL       string
	SearchBaseURL     string
	SearchAPIKey      string
	GmailBaseURL      string
	GmailAccessToken  string
	ToolRequestBudget time.Duration

	// Operational defaults
	ReadHeaderTimeout   time.Duration
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                     envOr("MEDLENS_ADDR", ":8080"),
		GeminiAPIKey:             strings.TrimSpace(os.Getenv("MEDLENS_GEMINI_API_KEY")),
		GeminiWSBaseURL:          envOr("MEDLENS_GEMINI_WS_URL", ""),
		GeminiModel:              envOr("MEDLENS_GEMINI_MODEL", gemini.DefaultModel),
		GeminiVoice:              envOr("MEDLENS_GEMINI_VOICE", gemini.DefaultVoice),
		SystemInstruction:        strings.TrimSpace(os.Getenv("MEDLENS_SYSTEM_INSTRUCTION")),
		LiveMaxJSONMessageBytes:  envInt64Or("MEDLENS_LIVE_MAX_JSON_MESSAGE_BYTES", 8<<20),
		LiveKeepaliveInterval:    envDurationOr("MEDLENS_LIVE_KEEPALIVE_INTERVAL", 15*time.Second),
		LiveWSPingInterval:       envDurationOr("MEDLENS_LIVE_WS_PING_INTERVAL", 20*time.Second),
		LiveWSWriteTimeout:       envDurationOr("MEDLENS_LIVE_WS_WRITE_TIMEOUT", 5*time.Second),
		LiveHandshakeTimeout:     envDurationOr("MEDLENS_LIVE_HANDSHAKE_TIMEOUT", 5*time.Second),
		LiveInterruptCooldown:    envDurationOr("MEDLENS_LIVE_INTERRUPT_COOLDOWN", 1200*time.Millisecond),
		LiveFramePresendCount:    envIntOr("MEDLENS_LIVE_FRAME_PRESEND_COUNT", 3),
		LiveFramePresendInterval: envDurationOr("MEDLENS_LIVE_FRAME_PRESEND_INTERVAL", 150*time.Millisecond),
		LivePromptSendDelay:      envDurationOr("MEDLENS_LIVE_PROMPT_SEND_DELAY", 450*time.Millisecond),
		LiveAudioInMIME:          envOr("MEDLENS_LIVE_AUDIO_IN_MIME", "audio/pcm;rate=16000"),
		CORSAllowedOrigins:       make(map[string]struct{}),
		DatabaseURL:              strings.TrimSpace(os.Getenv("MEDLENS_DATABASE_URL")),
		SearchBaseURL:            envOr("MEDLENS_SEARCH_BASE_URL", "https://api.tavily.com"),
		SearchAPIKey:             strings.TrimSpace(os.Getenv("MEDLENS_SEARCH_API_KEY")),
		GmailBaseURL:             envOr("MEDLENS_GMAIL_BASE_URL", "https://gmail.googleapis.com"),
		GmailAccessToken:         strings.TrimSpace(os.Getenv("MEDLENS_GMAIL_ACCESS_TOKEN")),
		ToolRequestBudget:        envDurationOr("MEDLENS_TOOL_REQUEST_BUDGET", 10*time.Second),
		ReadHeaderTimeout:        envDurationOr("MEDLENS_READ_HEADER_TIMEOUT", 10*time.Second),
		ShutdownGracePeriod:      envDurationOr("MEDLENS_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
	}

	for _, origin := range splitCSV(os.Getenv("MEDLENS_CORS_ORIGINS")) {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}

	if cfg.GeminiAPIKey == "" {
		return Config{}, fmt.Errorf("MEDLENS_GEMINI_API_KEY must be set")
	}
	if strings.TrimSpace(cfg.GeminiModel) == "" {
		return Config{}, fmt.Errorf("MEDLENS_GEMINI_MODEL must not be empty")
	}
	if cfg.LiveMaxJSONMessageBytes <= 0 {
		return Config{}, fmt.Errorf("MEDLENS_LIVE_MAX_JSON_MESSAGE_BYTES must be > 0")
	}
	if cfg.LiveKeepaliveInterval <= 0 {
		return Config{}, fmt.Errorf("MEDLENS_LIVE_KEEPALIVE_INTERVAL must be > 0")
	}
	if cfg.LiveWSPingInterval <= 0 {
		return Config{}, fmt.Errorf("MEDLENS_LIVE_WS_PING_INTERVAL must be > 0")
	}
	if cfg.LiveWSWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("MEDLENS_LIVE_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.LiveHandshakeTimeout <= 0 {
		return Config{}, fmt.Errorf("MEDLENS_LIVE_HANDSHAKE_TIMEOUT must be > 0")
	}
	if cfg.LiveInterruptCooldown <= 0 {
		return Config{}, fmt.Errorf("MEDLENS_LIVE_INTERRUPT_COOLDOWN must be > 0")
	}
	if cfg.LiveFramePresendCount <= 0 {
		return Config{}, fmt.Errorf("MEDLENS_LIVE_FRAME_PRESEND_COUNT must be > 0")
	}
	if cfg.LiveFramePresendInterval <= 0 {
		return Config{}, fmt.Errorf("MEDLENS_LIVE_FRAME_PRESEND_INTERVAL must be > 0")
	}
	if cfg.LivePromptSendDelay <= 0 {
		return Config{}, fmt.Errorf("MEDLENS_LIVE_PROMPT_SEND_DELAY must be > 0")
	}
	if strings.TrimSpace(cfg.LiveAudioInMIME) == "" {
		return Config{}, fmt.Errorf("MEDLENS_LIVE_AUDIO_IN_MIME must not be empty")
	}
	if strings.TrimSpace(cfg.SearchBaseURL) == "" {
		return Config{}, fmt.Errorf("MEDLENS_SEARCH_BASE_URL must not be empty")
	}
	if strings.TrimSpace(cfg.GmailBaseURL) == "" {
		return Config{}, fmt.Errorf("MEDLENS_GMAIL_BASE_URL must not be empty")
	}
	if cfg.ToolRequestBudget <= 0 {
		return Config{}, fmt.Errorf("MEDLENS_TOOL_REQUEST_BUDGET must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("MEDLENS_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("MEDLENS_SHUTDOWN_GRACE_PERIOD must be > 0")
	}

	return cfg, nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
