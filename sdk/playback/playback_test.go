package playback

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"
	"time"
)

func TestClock_BackToBackChunks(t *testing.T) {
	t.Parallel()

	base := time.Unix(0, 0)
	clock := NewClock(24000, func() time.Time { return base })

	// 100ms then 50ms of audio arriving at the same instant.
	start1, d1 := clock.Schedule(2400)
	start2, d2 := clock.Schedule(1200)

	if !start1.Equal(base) {
		t.Fatalf("start1=%v, want %v", start1, base)
	}
	if d1 != 100*time.Millisecond {
		t.Fatalf("d1=%v", d1)
	}
	if want := base.Add(100 * time.Millisecond); !start2.Equal(want) {
		t.Fatalf("start2=%v, want %v", start2, want)
	}
	if d2 != 50*time.Millisecond {
		t.Fatalf("d2=%v", d2)
	}
	if want := base.Add(150 * time.Millisecond); !clock.NextStart().Equal(want) {
		t.Fatalf("next=%v, want %v", clock.NextStart(), want)
	}
}

func TestClock_LateChunkPlaysImmediately(t *testing.T) {
	t.Parallel()

	now := time.Unix(0, 0)
	clock := NewClock(24000, func() time.Time { return now })

	clock.Schedule(2400)

	// The next chunk arrives after the queue has drained.
	now = now.Add(500 * time.Millisecond)
	start, _ := clock.Schedule(1200)
	if !start.Equal(now) {
		t.Fatalf("start=%v, want %v", start, now)
	}
}

func TestClock_NextStartMonotonic(t *testing.T) {
	t.Parallel()

	now := time.Unix(0, 0)
	clock := NewClock(24000, func() time.Time { return now })

	var prev time.Time
	for i := 0; i < 10; i++ {
		start, _ := clock.Schedule(240)
		if start.Before(prev) {
			t.Fatalf("start %v went backwards from %v", start, prev)
		}
		prev = start
		now = now.Add(3 * time.Millisecond)
	}
}

func TestClock_ResetForgetsSchedule(t *testing.T) {
	t.Parallel()

	now := time.Unix(100, 0)
	clock := NewClock(24000, func() time.Time { return now })

	clock.Schedule(24000)
	clock.Reset()
	start, _ := clock.Schedule(1200)
	if !start.Equal(now) {
		t.Fatalf("start=%v, want %v", start, now)
	}
}

func TestDecodePCM16(t *testing.T) {
	t.Parallel()

	raw := make([]byte, 8)
	binary.LittleEndian.PutUint16(raw[0:], uint16(int16(0)))
	binary.LittleEndian.PutUint16(raw[2:], uint16(int16(16384)))
	minSample := int16(-32768)
	binary.LittleEndian.PutUint16(raw[4:], uint16(minSample))
	binary.LittleEndian.PutUint16(raw[6:], uint16(int16(32767)))

	samples := DecodePCM16(raw)
	want := []float32{0, 0.5, -1, 32767.0 / 32768.0}
	if len(samples) != len(want) {
		t.Fatalf("len=%d", len(samples))
	}
	for i := range want {
		if math.Abs(float64(samples[i]-want[i])) > 1e-6 {
			t.Fatalf("sample %d=%v, want %v", i, samples[i], want[i])
		}
	}

	if got := DecodePCM16([]byte{0x01}); len(got) != 0 {
		t.Fatalf("odd trailing byte produced %v", got)
	}
}

type fakeSink struct {
	writes [][]float32
	closed bool
	err    error
}

func (f *fakeSink) Write(samples []float32) error {
	if f.err != nil {
		return f.err
	}
	f.writes = append(f.writes, append([]float32(nil), samples...))
	return nil
}

func (f *fakeSink) Close() error {
	f.closed = true
	return nil
}

func TestScheduler_LazySinkCreation(t *testing.T) {
	t.Parallel()

	sink := &fakeSink{}
	opened := 0
	s := NewScheduler(24000, func(rate int) (Sink, error) {
		opened++
		if rate != 24000 {
			t.Fatalf("rate=%d", rate)
		}
		return sink, nil
	})

	if opened != 0 {
		t.Fatal("sink opened before any audio")
	}
	if err := s.Enqueue([]byte{0x00, 0x40}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := s.Enqueue([]byte{0x00, 0x40}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if opened != 1 {
		t.Fatalf("opened=%d", opened)
	}
	if len(sink.writes) != 2 {
		t.Fatalf("writes=%d", len(sink.writes))
	}

	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !sink.closed {
		t.Fatal("sink not closed")
	}
}

func TestScheduler_EmptyChunkIsIgnored(t *testing.T) {
	t.Parallel()

	s := NewScheduler(24000, func(int) (Sink, error) {
		t.Fatal("sink opened for empty chunk")
		return nil, nil
	})
	if err := s.Enqueue(nil); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
}

func TestScheduler_SinkOpenFailureSticks(t *testing.T) {
	t.Parallel()

	boom := errors.New("no device")
	s := NewScheduler(24000, func(int) (Sink, error) { return nil, boom })

	if err := s.Enqueue([]byte{0x00, 0x40}); !errors.Is(err, boom) {
		t.Fatalf("err=%v", err)
	}
	if err := s.Enqueue([]byte{0x00, 0x40}); !errors.Is(err, boom) {
		t.Fatalf("second err=%v", err)
	}
}

func TestFrameBuffer_CarriesRemainderAcrossWrites(t *testing.T) {
	t.Parallel()

	buf := make([]float32, 4)
	var played [][]float32
	fb := newFrameBuffer(buf, func() error {
		out := make([]float32, len(buf))
		copy(out, buf)
		played = append(played, out)
		return nil
	})

	if err := fb.Write([]float32{1, 2, 3, 4, 5, 6}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := fb.Write([]float32{7, 8}); err != nil {
		t.Fatalf("write: %v", err)
	}

	// The 2-sample tail of the first chunk must not be padded; the second
	// chunk completes that buffer instead.
	want := [][]float32{{1, 2, 3, 4}, {5, 6, 7, 8}}
	if len(played) != len(want) {
		t.Fatalf("buffers played=%d, want %d", len(played), len(want))
	}
	for i, frame := range want {
		for j, v := range frame {
			if played[i][j] != v {
				t.Fatalf("buffer %d = %v, want %v", i, played[i], frame)
			}
		}
	}
}

func TestFrameBuffer_FlushPadsPendingTail(t *testing.T) {
	t.Parallel()

	buf := make([]float32, 4)
	var played [][]float32
	fb := newFrameBuffer(buf, func() error {
		out := make([]float32, len(buf))
		copy(out, buf)
		played = append(played, out)
		return nil
	})

	if err := fb.Write([]float32{1, 2, 3}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if len(played) != 0 {
		t.Fatalf("partial buffer played early: %v", played)
	}
	if err := fb.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if len(played) != 1 {
		t.Fatalf("buffers played=%d, want 1", len(played))
	}
	if got := played[0]; got[0] != 1 || got[1] != 2 || got[2] != 3 || got[3] != 0 {
		t.Fatalf("flushed buffer=%v, want [1 2 3 0]", got)
	}
	if err := fb.Flush(); err != nil {
		t.Fatalf("second flush: %v", err)
	}
	if len(played) != 1 {
		t.Fatalf("empty flush played a buffer: %d", len(played))
	}
}

func TestFrameBuffer_EmitErrorPropagates(t *testing.T) {
	t.Parallel()

	boom := errors.New("device gone")
	fb := newFrameBuffer(make([]float32, 2), func() error { return boom })
	if err := fb.Write([]float32{1, 2, 3}); !errors.Is(err, boom) {
		t.Fatalf("err=%v", err)
	}
}
