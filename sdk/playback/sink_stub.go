//go:build !portaudio

package playback

import "fmt"

// NewPortAudioSink is only available when built with the portaudio tag.
func NewPortAudioSink(sampleRate int) (Sink, error) {
	return nil, fmt.Errorf("playback: built without portaudio support (use -tags portaudio)")
}
