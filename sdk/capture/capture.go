// Package capture turns a frame source into a paced stream of JPEG frames
// sized for the live gateway.
package capture

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"time"

	"golang.org/x/image/draw"
)

const (
	DefaultInterval  = 500 * time.Millisecond
	DefaultMaxWidth  = 1280
	DefaultMaxHeight = 720
	DefaultQuality   = 80
)

// Source produces frames, typically from a camera. Ready closes once the
// source can capture.
type Source interface {
	Ready() <-chan struct{}
	Capture() (image.Image, error)
}

// Frame is one encoded capture.
type Frame struct {
	MIME string
	Data []byte
}

// Throttle captures at a fixed interval and emits encoded frames. The zero
// value of the optional fields picks the defaults above.
type Throttle struct {
	Source    Source
	Interval  time.Duration
	MaxWidth  int
	MaxHeight int
	Quality   int
}

// Run waits for the source to become ready, then captures and encodes one
// frame per interval onto out until ctx is canceled. Capture or encode
// failures skip the frame rather than stopping the loop.
func (t *Throttle) Run(ctx context.Context, out chan<- Frame) error {
	if t.Source == nil {
		return fmt.Errorf("capture: source is required")
	}
	interval := t.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.Source.Ready():
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		img, err := t.Source.Capture()
		if err != nil || img == nil {
			continue
		}
		data, err := t.encode(img)
		if err != nil {
			continue
		}

		select {
		case out <- Frame{MIME: "image/jpeg", Data: data}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (t *Throttle) encode(img image.Image) ([]byte, error) {
	maxW, maxH := t.MaxWidth, t.MaxHeight
	if maxW <= 0 {
		maxW = DefaultMaxWidth
	}
	if maxH <= 0 {
		maxH = DefaultMaxHeight
	}
	quality := t.Quality
	if quality <= 0 {
		quality = DefaultQuality
	}

	img = scaleToFit(img, maxW, maxH)
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// scaleToFit shrinks img to fit within maxW x maxH, preserving aspect
// ratio. Images already within bounds pass through untouched.
func scaleToFit(img image.Image, maxW, maxH int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= maxW && h <= maxH {
		return img
	}

	scaleW := float64(maxW) / float64(w)
	scaleH := float64(maxH) / float64(h)
	scale := scaleW
	if scaleH < scale {
		scale = scaleH
	}
	dstW := int(float64(w) * scale)
	dstH := int(float64(h) * scale)
	if dstW < 1 {
		dstW = 1
	}
	if dstH < 1 {
		dstH = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, dstW, dstH))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}
