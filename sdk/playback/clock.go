// Package playback schedules agent speech audio for gapless playout.
package playback

import (
	"encoding/binary"
	"time"
)

// SampleRate is the agent speech output rate.
const SampleRate = 24000

// Clock assigns start times to audio chunks. Chunks are placed back to
// back: each starts at the later of the previous chunk's end and now, so
// network jitter never creates overlap and silence gaps never accumulate.
type Clock struct {
	sampleRate int
	next       time.Time
	now        func() time.Time
}

func NewClock(sampleRate int, now func() time.Time) *Clock {
	if sampleRate <= 0 {
		sampleRate = SampleRate
	}
	if now == nil {
		now = time.Now
	}
	return &Clock{sampleRate: sampleRate, now: now}
}

// Schedule reserves a playout slot for sampleCount samples and returns its
// start time and duration.
func (c *Clock) Schedule(sampleCount int) (start time.Time, d time.Duration) {
	now := c.now()
	start = c.next
	if start.Before(now) {
		start = now
	}
	d = time.Duration(sampleCount) * time.Second / time.Duration(c.sampleRate)
	c.next = start.Add(d)
	return start, d
}

// NextStart returns when the next chunk would begin playing.
func (c *Clock) NextStart() time.Time {
	if now := c.now(); c.next.Before(now) {
		return now
	}
	return c.next
}

// Reset forgets the queued schedule so the next chunk plays immediately.
// Called after an interrupt.
func (c *Clock) Reset() {
	c.next = time.Time{}
}

// DecodePCM16 converts little-endian signed 16-bit samples to float32 in
// [-1, 1). A trailing odd byte is dropped.
func DecodePCM16(data []byte) []float32 {
	out := make([]float32, 0, len(data)/2)
	for i := 0; i+1 < len(data); i += 2 {
		v := int16(binary.LittleEndian.Uint16(data[i:]))
		out = append(out, float32(v)/32768)
	}
	return out
}
