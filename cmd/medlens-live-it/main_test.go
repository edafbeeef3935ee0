package main

import (
	"bytes"
	"image"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

func writeTestJPEG(t *testing.T) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encode: %v", err)
	}
	path := filepath.Join(t.TempDir(), "pill.jpg")
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestRun_RetriesPromptAndStreamsFrames(t *testing.T) {
	var mu sync.Mutex
	prompts := 0
	frames := 0

	// Rejects prompts until at least one frame has arrived, the way the
	// gateway rejects them until its upstream setup completes.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		for {
			var msg map[string]any
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			switch msg["type"] {
			case "frame":
				mu.Lock()
				frames++
				mu.Unlock()
			case "user_prompt":
				mu.Lock()
				prompts++
				n, f := prompts, frames
				mu.Unlock()
				if n == 1 || f == 0 {
					_ = conn.WriteJSON(map[string]any{"type": "warning", "code": "not_ready", "message": "session is not ready for prompts"})
					continue
				}
				_ = conn.WriteJSON(map[string]any{"type": "agent_speech_start", "speechId": "s_1"})
				_ = conn.WriteJSON(map[string]any{"type": "agent_speech_text", "text": "take with food"})
				_ = conn.WriteJSON(map[string]any{"type": "agent_speech_end"})
			}
		}
	}))
	defer srv.Close()

	opts := options{
		gateway:       srv.URL,
		image:         writeTestJPEG(t),
		prompt:        "what is this?",
		timeout:       10 * time.Second,
		frameInterval: 10 * time.Millisecond,
		retryDelay:    20 * time.Millisecond,
		maxRetries:    20,
	}
	var out, errOut bytes.Buffer
	if code := run(opts, &out, &errOut); code != 0 {
		t.Fatalf("run=%d, stderr=%s", code, errOut.String())
	}
	srv.Close()

	mu.Lock()
	defer mu.Unlock()
	if prompts < 2 {
		t.Fatalf("prompts=%d, want the initial send plus at least one retry", prompts)
	}
	if frames == 0 {
		t.Fatal("no frames reached the gateway")
	}
	if !strings.Contains(out.String(), "re-sent prompt") {
		t.Fatalf("output missing retry notice:\n%s", out.String())
	}
	if !strings.Contains(out.String(), "agent: take with food") {
		t.Fatalf("output missing agent text:\n%s", out.String())
	}
}

func TestFileSource_DecodesImage(t *testing.T) {
	src, err := newFileSource(writeTestJPEG(t))
	if err != nil {
		t.Fatalf("newFileSource: %v", err)
	}

	select {
	case <-src.Ready():
	default:
		t.Fatal("file source not ready immediately")
	}
	img, err := src.Capture()
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 16 || b.Dy() != 16 {
		t.Fatalf("bounds=%v", b)
	}
}

func TestFileSource_RejectsNonImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(path, []byte("not an image"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := newFileSource(path); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestParseArgs_Defaults(t *testing.T) {
	opts, err := parseArgs(nil)
	if err != nil {
		t.Fatalf("parseArgs: %v", err)
	}
	if opts.gateway != "http://127.0.0.1:8080" {
		t.Fatalf("gateway=%q", opts.gateway)
	}
	if opts.frameInterval != 500*time.Millisecond {
		t.Fatalf("frameInterval=%v", opts.frameInterval)
	}
	if opts.maxRetries != 20 {
		t.Fatalf("maxRetries=%d", opts.maxRetries)
	}
}
