package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/ssk3000x/MedLens/pkg/gateway/config"
	gatewayserver "github.com/ssk3000x/MedLens/pkg/gateway/server"
)

func testConfig() config.Config {
	return config.Config{
		Addr:                     "127.0.0.1:0",
		GeminiAPIKey:             "key",
		LiveMaxJSONMessageBytes:  8 << 20,
		LiveKeepaliveInterval:    15 * time.Second,
		LiveWSPingInterval:       20 * time.Second,
		LiveWSWriteTimeout:       5 * time.Second,
		LiveHandshakeTimeout:     5 * time.Second,
		LiveInterruptCooldown:    1200 * time.Millisecond,
		LiveFramePresendCount:    3,
		LiveFramePresendInterval: 150 * time.Millisecond,
		LivePromptSendDelay:      450 * time.Millisecond,
		ToolRequestBudget:        10 * time.Second,
		ReadHeaderTimeout:        2 * time.Second,
		ShutdownGracePeriod:      5 * time.Second,
		CORSAllowedOrigins:       map[string]struct{}{},
	}
}

func TestRunGateway_ReturnsErrorWhenConfigLoadFails(t *testing.T) {
	t.Parallel()

	err := runGateway(context.Background(), slog.New(slog.NewTextHandler(io.Discard, nil)), gatewayDeps{
		loadConfig: func() (config.Config, error) {
			return config.Config{}, errors.New("boom")
		},
		newGateway: func(context.Context, config.Config, *slog.Logger) (*gatewayserver.Server, error) {
			t.Fatal("newGateway should not be called when config load fails")
			return nil, nil
		},
		signalNotify: func(chan<- os.Signal, ...os.Signal) {},
		signalStop:   func(chan<- os.Signal) {},
	})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestRunMain_ReturnsNonZeroOnStartupError(t *testing.T) {
	t.Parallel()

	var stderr bytes.Buffer
	exitCode := runMain(context.Background(), &stderr, gatewayDeps{
		loadConfig: func() (config.Config, error) {
			return config.Config{}, errors.New("boom")
		},
		newGateway:   gatewayserver.New,
		signalNotify: func(chan<- os.Signal, ...os.Signal) {},
		signalStop:   func(chan<- os.Signal) {},
	})

	if exitCode != 1 {
		t.Fatalf("exitCode=%d, want 1", exitCode)
	}
	if stderr.String() == "" {
		t.Fatal("expected stderr output for startup error")
	}
}

func TestBuildHTTPServer_UsesConfiguredAddress(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Addr = "127.0.0.1:9999"
	srv := buildHTTPServer(cfg, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	if srv.Addr != cfg.Addr {
		t.Fatalf("Addr=%q, want %q", srv.Addr, cfg.Addr)
	}
	if srv.ReadHeaderTimeout != cfg.ReadHeaderTimeout {
		t.Fatalf("ReadHeaderTimeout=%v, want %v", srv.ReadHeaderTimeout, cfg.ReadHeaderTimeout)
	}
}

func TestGatewayHandlerStack_Smoke(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	gw, err := gatewayserver.New(context.Background(), testConfig(), logger)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer gw.Close()

	ts := httptest.NewServer(gw.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", resp.StatusCode)
	}
}

func TestRunGateway_ShutsDownOnSignal(t *testing.T) {
	t.Parallel()

	sigCh := make(chan chan<- os.Signal, 1)
	deps := gatewayDeps{
		loadConfig: func() (config.Config, error) { return testConfig(), nil },
		newGateway: gatewayserver.New,
		signalNotify: func(c chan<- os.Signal, _ ...os.Signal) {
			sigCh <- c
		},
		signalStop: func(chan<- os.Signal) {},
	}

	done := make(chan error, 1)
	go func() {
		done <- runGateway(context.Background(), slog.New(slog.NewTextHandler(io.Discard, nil)), deps)
	}()

	select {
	case c := <-sigCh:
		c <- os.Interrupt
	case <-time.After(5 * time.Second):
		t.Fatal("signal channel never registered")
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("runGateway err=%v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("gateway did not shut down")
	}
}
