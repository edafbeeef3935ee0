package playback

import (
	"fmt"
	"sync"
)

// Sink consumes float32 samples at a fixed rate. Writes may block to pace
// playback.
type Sink interface {
	Write(samples []float32) error
	Close() error
}

// SinkFactory opens a sink. The scheduler calls it on the first chunk so
// audio devices are only touched once speech actually arrives.
type SinkFactory func(sampleRate int) (Sink, error)

// Scheduler feeds agent speech chunks to a sink in arrival order.
type Scheduler struct {
	mu         sync.Mutex
	sampleRate int
	clock      *Clock
	newSink    SinkFactory
	sink       Sink
	sinkErr    error
}

func NewScheduler(sampleRate int, newSink SinkFactory) *Scheduler {
	if sampleRate <= 0 {
		sampleRate = SampleRate
	}
	return &Scheduler{
		sampleRate: sampleRate,
		clock:      NewClock(sampleRate, nil),
		newSink:    newSink,
	}
}

// Enqueue decodes one PCM16 chunk and plays it after everything already
// queued.
func (s *Scheduler) Enqueue(pcm []byte) error {
	samples := DecodePCM16(pcm)
	if len(samples) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sinkErr != nil {
		return s.sinkErr
	}
	if s.sink == nil {
		if s.newSink == nil {
			s.sinkErr = fmt.Errorf("playback: no sink factory configured")
			return s.sinkErr
		}
		sink, err := s.newSink(s.sampleRate)
		if err != nil {
			s.sinkErr = fmt.Errorf("playback: open sink: %w", err)
			return s.sinkErr
		}
		s.sink = sink
	}

	s.clock.Schedule(len(samples))
	if err := s.sink.Write(samples); err != nil {
		return fmt.Errorf("playback: write: %w", err)
	}
	return nil
}

// Flush forgets the queued schedule after an interrupt.
func (s *Scheduler) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock.Reset()
}

// Close releases the sink if one was opened.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sink == nil {
		return nil
	}
	err := s.sink.Close()
	s.sink = nil
	return err
}
