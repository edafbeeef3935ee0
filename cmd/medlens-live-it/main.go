// medlens-live-it is a manual integration check for the live gateway: it
// opens a session, streams an image file as the camera feed, sends one
// prompt, and prints what the agent answers. Build with -tags portaudio to
// hear the reply.
package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	medlens "github.com/ssk3000x/MedLens/sdk"
	"github.com/ssk3000x/MedLens/sdk/capture"
	"github.com/ssk3000x/MedLens/sdk/playback"
)

type options struct {
	gateway       string
	image         string
	prompt        string
	timeout       time.Duration
	frameInterval time.Duration
	retryDelay    time.Duration
	maxRetries    int
	play          bool
}

func main() {
	opts, err := parseArgs(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}
	os.Exit(run(opts, os.Stdout, os.Stderr))
}

func parseArgs(args []string) (options, error) {
	fs := flag.NewFlagSet("medlens-live-it", flag.ContinueOnError)
	var opts options
	fs.StringVar(&opts.gateway, "gateway", "http://127.0.0.1:8080", "gateway base URL")
	fs.StringVar(&opts.image, "image", "", "image file to stream as the camera feed")
	fs.StringVar(&opts.prompt, "prompt", "What medication is this?", "prompt to send")
	fs.DurationVar(&opts.timeout, "timeout", 60*time.Second, "overall deadline")
	fs.DurationVar(&opts.frameInterval, "frame-interval", capture.DefaultInterval, "capture cadence")
	fs.DurationVar(&opts.retryDelay, "retry-delay", 500*time.Millisecond, "wait before re-sending a rejected prompt")
	fs.IntVar(&opts.maxRetries, "max-retries", 20, "prompt re-sends before giving up")
	fs.BoolVar(&opts.play, "play", false, "play agent speech (requires -tags portaudio)")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	return opts, nil
}

// fileSource replays one decoded image as a camera that is ready at once.
type fileSource struct {
	img   image.Image
	ready chan struct{}
}

func newFileSource(path string) (*fileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	ready := make(chan struct{})
	close(ready)
	return &fileSource{img: img, ready: ready}, nil
}

func (s *fileSource) Ready() <-chan struct{} { return s.ready }

func (s *fileSource) Capture() (image.Image, error) { return s.img, nil }

func run(opts options, out, errOut io.Writer) int {
	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	session, err := medlens.Dial(ctx, opts.gateway, nil)
	if err != nil {
		fmt.Fprintf(errOut, "dial: %v\n", err)
		return 1
	}
	defer session.Close()
	fmt.Fprintf(out, "session %s connected to %s\n", session.SessionID(), opts.gateway)

	var player *playback.Scheduler
	if opts.play {
		player = playback.NewScheduler(playback.SampleRate, playback.NewPortAudioSink)
		defer player.Close()
	}

	if opts.image != "" {
		src, err := newFileSource(opts.image)
		if err != nil {
			fmt.Fprintf(errOut, "open frame source: %v\n", err)
			return 1
		}
		frames := make(chan capture.Frame, 1)
		go func() {
			throttle := capture.Throttle{Source: src, Interval: opts.frameInterval}
			_ = throttle.Run(ctx, frames)
			close(frames)
		}()
		go func() {
			for frame := range frames {
				if err := session.SendFrame(frame.MIME, frame.Data); err != nil {
					return
				}
			}
		}()
		fmt.Fprintf(out, "streaming frames from %s every %s\n", opts.image, opts.frameInterval)
	}

	if err := session.SendPrompt(opts.prompt); err != nil {
		fmt.Fprintf(errOut, "send prompt: %v\n", err)
		return 1
	}
	fmt.Fprintf(out, "sent prompt: %s\n", opts.prompt)

	retries := opts.maxRetries
	speechSeen := false
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(errOut, "deadline reached")
			return 1
		case ev, ok := <-session.Events():
			if !ok {
				if err := session.Err(); err != nil {
					fmt.Fprintf(errOut, "session: %v\n", err)
					return 1
				}
				return 0
			}
			switch e := ev.(type) {
			case medlens.SpeechStartEvent:
				fmt.Fprintf(out, "speech start: %s\n", e.SpeechID)
			case medlens.SpeechChunkEvent:
				speechSeen = true
				if player != nil {
					if err := player.Enqueue(e.Data); err != nil {
						fmt.Fprintf(errOut, "playback: %v\n", err)
						player = nil
					}
				}
			case medlens.SpeechTextEvent:
				speechSeen = true
				fmt.Fprintf(out, "agent: %s\n", e.Text)
			case medlens.SpeechEndEvent:
				if speechSeen {
					fmt.Fprintln(out, "speech end")
					return 0
				}
			case medlens.WarningEvent:
				fmt.Fprintf(out, "warning [%s]: %s\n", e.Code, e.Message)
				// The gateway rejects prompts until its upstream setup
				// completes; keep re-sending until one is accepted.
				if e.Code == "not_ready" && !speechSeen && retries > 0 {
					retries--
					select {
					case <-ctx.Done():
					case <-time.After(opts.retryDelay):
						if err := session.SendPrompt(opts.prompt); err != nil {
							fmt.Fprintf(errOut, "re-send prompt: %v\n", err)
							return 1
						}
						fmt.Fprintf(out, "re-sent prompt: %s\n", opts.prompt)
					}
				}
			case medlens.KeepaliveEvent:
			case medlens.UnknownEvent:
				fmt.Fprintf(out, "unknown envelope: %s\n", e.Type)
			}
		}
	}
}
