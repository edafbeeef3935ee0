//go:build portaudio

package playback

import (
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// 40ms buffers at 24kHz.
const framesPerBuffer = 960

var paInit sync.Once

// NewPortAudioSink opens the default output device as a mono float32
// stream. Writes block, which paces playback at the device rate.
func NewPortAudioSink(sampleRate int) (Sink, error) {
	var initErr error
	paInit.Do(func() {
		initErr = portaudio.Initialize()
	})
	if initErr != nil {
		return nil, fmt.Errorf("initialize portaudio: %w", initErr)
	}

	buf := make([]float32, framesPerBuffer)
	stream, err := portaudio.OpenDefaultStream(0, 1, float64(sampleRate), framesPerBuffer, buf)
	if err != nil {
		return nil, fmt.Errorf("open output stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return nil, fmt.Errorf("start output stream: %w", err)
	}
	return &paSink{stream: stream, frames: newFrameBuffer(buf, stream.Write)}, nil
}

type paSink struct {
	stream *portaudio.Stream
	frames *frameBuffer
}

func (s *paSink) Write(samples []float32) error {
	return s.frames.Write(samples)
}

func (s *paSink) Close() error {
	flushErr := s.frames.Flush()
	if err := s.stream.Stop(); err != nil {
		_ = s.stream.Close()
		return err
	}
	if err := s.stream.Close(); err != nil {
		return err
	}
	return flushErr
}
