package playback

// frameBuffer packs arbitrary-length sample slices into fixed-size device
// buffers. A partial tail is held for the next write so consecutive chunks
// play back-to-back with no padding between them; Flush zero-pads and emits
// whatever is pending.
type frameBuffer struct {
	buf  []float32
	fill int
	emit func() error
}

func newFrameBuffer(buf []float32, emit func() error) *frameBuffer {
	return &frameBuffer{buf: buf, emit: emit}
}

func (b *frameBuffer) Write(samples []float32) error {
	for len(samples) > 0 {
		n := copy(b.buf[b.fill:], samples)
		samples = samples[n:]
		b.fill += n
		if b.fill < len(b.buf) {
			return nil
		}
		if err := b.emit(); err != nil {
			return err
		}
		b.fill = 0
	}
	return nil
}

func (b *frameBuffer) Flush() error {
	if b.fill == 0 {
		return nil
	}
	for i := b.fill; i < len(b.buf); i++ {
		b.buf[i] = 0
	}
	b.fill = 0
	return b.emit()
}
