package av

import "fmt"

// MaxFrameBytes is the default allocation ceiling for a converted frame.
const MaxFrameBytes = 256 << 20

// Target describes the output of Convert. Zero fields keep the input value.
type Target struct {
	// Video
	PixelFormat PixelFormat
	Width       int
	Height      int
	ScaleMode   ScaleMode

	// Audio
	SampleFormat SampleFormat
	Layout       ChannelLayout
	SampleRate   int

	// MaxBytes bounds the size of the output frame. Zero means MaxFrameBytes.
	MaxBytes int
}

func (t Target) maxBytes() int {
	if t.MaxBytes <= 0 {
		return MaxFrameBytes
	}
	return t.MaxBytes
}

// IsZero reports whether the target keeps every property of the input.
func (t Target) IsZero() bool {
	return t.PixelFormat == PixelFormatNone && t.Width == 0 && t.Height == 0 &&
		t.SampleFormat == SampleFormatNone && t.Layout == 0 && t.SampleRate == 0
}

// Convert normalises a decoded frame to t. It keeps no state between calls.
// The input frame is returned as is when it already matches. Conversions that
// cannot be done fail with ErrUnsupportedConversion; an output larger than
// the allocation ceiling fails with OutOfMemory.
func Convert(f *Frame, t Target) (*Frame, error) {
	switch f.MediaType {
	case MediaTypeVideo:
		return convertVideo(f, t)
	case MediaTypeAudio:
		return convertAudio(f, t)
	}
	return nil, fmt.Errorf("convert %s frame: %w", f.MediaType, ErrUnsupportedConversion)
}

func convertVideo(f *Frame, t Target) (*Frame, error) {
	to := t.PixelFormat
	if to == PixelFormatNone {
		to = f.PixelFormat
	}
	w, h := t.Width, t.Height
	switch {
	case f.Width <= 0 || f.Height <= 0 || w < 0 || h < 0:
		return nil, fmt.Errorf("convert %dx%d to %dx%d: %w", f.Width, f.Height, w, h, ErrUnsupportedConversion)
	case w == 0 && h == 0:
		w, h = f.Width, f.Height
	case w == 0:
		w = (f.Width*h/f.Height + 1) &^ 1
	case h == 0:
		h = (f.Height*w/f.Width + 1) &^ 1
	}
	if f.PixelFormat.PlaneCount() == 0 || to.PlaneCount() == 0 {
		return nil, fmt.Errorf("convert %s to %s: %w", f.PixelFormat, to, ErrUnsupportedConversion)
	}
	if size := to.ImageSize(w, h); size > t.maxBytes() {
		return nil, codeError(fmt.Sprintf("convert to %dx%d %s", w, h, to), CodeOutOfMemory)
	}
	if w == f.Width && h == f.Height {
		return convertPixels(f, to)
	}

	i420, err := toI420(f)
	if err != nil {
		return nil, err
	}
	scaled := NewVideoScaler(w, h, t.ScaleMode).Scale(i420)
	return fromI420(scaled, to), nil
}

func convertAudio(f *Frame, t Target) (*Frame, error) {
	format, layout, rate := t.SampleFormat, t.Layout, t.SampleRate
	if format == SampleFormatNone {
		format = f.SampleFormat
	}
	if layout == 0 {
		layout = f.Layout
	}
	if rate == 0 {
		rate = f.SampleRate
	}
	switch {
	case format.BytesPerSample() == 0, layout.Channels() == 0, rate < 0:
		return nil, fmt.Errorf("convert to %s %s %dHz: %w", format, layout, rate, ErrUnsupportedConversion)
	case f.SampleRate <= 0 && rate != f.SampleRate:
		return nil, fmt.Errorf("convert from %dHz: %w", f.SampleRate, ErrUnsupportedConversion)
	}
	if format == f.SampleFormat && layout == f.Layout && rate == f.SampleRate {
		return f, nil
	}

	n := f.SampleCount
	if rate != f.SampleRate {
		n = resampledCount(n, f.SampleRate, rate)
	}
	if size := n * layout.Channels() * format.BytesPerSample(); size > t.maxBytes() {
		return nil, codeError(fmt.Sprintf("convert %d samples", n), CodeOutOfMemory)
	}

	samples, err := decodeSamples(f)
	if err != nil {
		return nil, err
	}
	samples = remix(samples, layout.Channels())
	samples = resampleLinear(samples, f.SampleRate, rate)
	out := encodeSamples(samples, format, layout, rate)
	copyFrameTiming(out, f)
	return out, nil
}

// copyFrameTiming copies stream identity and timing from src to dst.
func copyFrameTiming(dst, src *Frame) {
	dst.StreamIndex = src.StreamIndex
	dst.PTS = src.PTS
	dst.Duration = src.Duration
	dst.TimeBase = src.TimeBase
	dst.Keyframe = src.Keyframe
}
