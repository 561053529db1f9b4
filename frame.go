// Core frame and sample types used across the av package.
package av

import (
	"math/bits"
	"strconv"
)

// PixelFormat represents video pixel formats.
type PixelFormat int

const (
	PixelFormatNone  PixelFormat = iota
	PixelFormatI420              // YUV 4:2:0 planar (Y + U + V)
	PixelFormatNV12              // YUV 4:2:0 semi-planar (Y + interleaved UV)
	PixelFormatRGB24             // Packed RGB, 3 bytes per pixel
	PixelFormatRGBA              // Packed RGBA, 4 bytes per pixel
	PixelFormatBGRA              // Packed BGRA, 4 bytes per pixel
	PixelFormatGray8             // Single 8-bit luma plane
)

func (p PixelFormat) String() string {
	switch p {
	case PixelFormatI420:
		return "yuv420p"
	case PixelFormatNV12:
		return "nv12"
	case PixelFormatRGB24:
		return "rgb24"
	case PixelFormatRGBA:
		return "rgba"
	case PixelFormatBGRA:
		return "bgra"
	case PixelFormatGray8:
		return "gray"
	default:
		return "none"
	}
}

// PixelFormatByName parses the names returned by String.
func PixelFormatByName(name string) (PixelFormat, bool) {
	for p := PixelFormatI420; p <= PixelFormatGray8; p++ {
		if p.String() == name {
			return p, true
		}
	}
	if name == "i420" {
		return PixelFormatI420, true
	}
	return PixelFormatNone, false
}

// PlaneCount returns the number of planes for this pixel format.
func (p PixelFormat) PlaneCount() int {
	switch p {
	case PixelFormatI420:
		return 3 // Y, U, V
	case PixelFormatNV12:
		return 2 // Y, UV
	case PixelFormatRGB24, PixelFormatRGBA, PixelFormatBGRA, PixelFormatGray8:
		return 1 // Packed
	default:
		return 0
	}
}

// PlaneSize returns the row length in bytes and the row count of plane i for
// a width x height image.
func (p PixelFormat) PlaneSize(i, width, height int) (rowBytes, rows int) {
	cw, ch := (width+1)/2, (height+1)/2
	switch p {
	case PixelFormatI420:
		if i == 0 {
			return width, height
		}
		return cw, ch
	case PixelFormatNV12:
		if i == 0 {
			return width, height
		}
		return cw * 2, ch
	case PixelFormatRGB24:
		return width * 3, height
	case PixelFormatRGBA, PixelFormatBGRA:
		return width * 4, height
	case PixelFormatGray8:
		return width, height
	}
	return 0, 0
}

// ImageSize returns the tightly packed byte size of a width x height image.
func (p PixelFormat) ImageSize(width, height int) int {
	total := 0
	for i := 0; i < p.PlaneCount(); i++ {
		rb, rows := p.PlaneSize(i, width, height)
		total += rb * rows
	}
	return total
}

// SampleFormat represents audio sample formats. Planar formats store one
// buffer per channel.
type SampleFormat int

const (
	SampleFormatNone SampleFormat = iota
	SampleFormatU8
	SampleFormatS16
	SampleFormatS32
	SampleFormatF32
	SampleFormatF64
	SampleFormatU8P
	SampleFormatS16P
	SampleFormatS32P
	SampleFormatF32P
	SampleFormatF64P
)

var sampleFormatNames = [...]string{"none", "u8", "s16", "s32", "flt", "dbl", "u8p", "s16p", "s32p", "fltp", "dblp"}

func (s SampleFormat) String() string {
	if s < 0 || int(s) >= len(sampleFormatNames) {
		return "none"
	}
	return sampleFormatNames[s]
}

// SampleFormatByName parses the names returned by String.
func SampleFormatByName(name string) (SampleFormat, bool) {
	for i, n := range sampleFormatNames {
		if n == name && i != 0 {
			return SampleFormat(i), true
		}
	}
	return SampleFormatNone, false
}

// BytesPerSample returns the number of bytes per sample for this format.
func (s SampleFormat) BytesPerSample() int {
	switch s.Packed() {
	case SampleFormatU8:
		return 1
	case SampleFormatS16:
		return 2
	case SampleFormatS32, SampleFormatF32:
		return 4
	case SampleFormatF64:
		return 8
	default:
		return 0
	}
}

// IsPlanar reports whether each channel has its own buffer.
func (s SampleFormat) IsPlanar() bool { return s >= SampleFormatU8P && s <= SampleFormatF64P }

// Packed returns the interleaved variant of s.
func (s SampleFormat) Packed() SampleFormat {
	if s.IsPlanar() {
		return s - (SampleFormatU8P - SampleFormatU8)
	}
	return s
}

// Planar returns the planar variant of s.
func (s SampleFormat) Planar() SampleFormat {
	if s >= SampleFormatU8 && s <= SampleFormatF64 {
		return s + (SampleFormatU8P - SampleFormatU8)
	}
	return s
}

// BufferCount returns the number of data buffers a frame with this format
// and channel count carries.
func (s SampleFormat) BufferCount(channels int) int {
	if s.IsPlanar() {
		return channels
	}
	return 1
}

// ChannelLayout is a bitmask of speaker positions.
type ChannelLayout uint64

const (
	ChannelFrontLeft ChannelLayout = 1 << iota
	ChannelFrontRight
	ChannelFrontCenter
	ChannelLowFrequency
	ChannelBackLeft
	ChannelBackRight
)

const (
	LayoutMono      = ChannelFrontCenter
	LayoutStereo    = ChannelFrontLeft | ChannelFrontRight
	Layout2Point1   = LayoutStereo | ChannelLowFrequency
	LayoutSurround  = LayoutStereo | ChannelFrontCenter
	Layout5Point1   = LayoutSurround | ChannelLowFrequency | ChannelBackLeft | ChannelBackRight
	LayoutQuad      = LayoutStereo | ChannelBackLeft | ChannelBackRight
	layoutUnordered = ChannelLayout(1) << 63
)

// Channels returns the number of channels in the layout.
func (l ChannelLayout) Channels() int {
	if l&layoutUnordered != 0 {
		return int(l &^ layoutUnordered)
	}
	return bits.OnesCount64(uint64(l))
}

// DefaultChannelLayout returns the conventional layout for n channels.
func DefaultChannelLayout(n int) ChannelLayout {
	switch n {
	case 1:
		return LayoutMono
	case 2:
		return LayoutStereo
	case 3:
		return LayoutSurround
	case 4:
		return LayoutQuad
	case 6:
		return Layout5Point1
	default:
		if n <= 0 {
			return 0
		}
		return layoutUnordered | ChannelLayout(n)
	}
}

func (l ChannelLayout) String() string {
	switch l {
	case LayoutMono:
		return "mono"
	case LayoutStereo:
		return "stereo"
	case Layout2Point1:
		return "2.1"
	case LayoutSurround:
		return "3.0"
	case LayoutQuad:
		return "quad"
	case Layout5Point1:
		return "5.1"
	case 0:
		return "none"
	}
	return strconv.Itoa(l.Channels()) + " channels"
}

// Format describes the shape of decoded output. Two frames with different
// formats cannot share a downstream buffer.
type Format struct {
	MediaType    MediaType
	Width        int
	Height       int
	PixelFormat  PixelFormat
	SampleFormat SampleFormat
	SampleRate   int
	Layout       ChannelLayout
}

// Frame is a decoded picture or block of audio samples.
//
// For video, Data holds one slice per plane and Stride the row length of each
// plane. For audio, Data holds one slice for interleaved formats or one slice
// per channel for planar formats; Stride is unused.
type Frame struct {
	MediaType   MediaType
	StreamIndex int
	Data        [][]byte
	Stride      []int

	Width       int
	Height      int
	PixelFormat PixelFormat

	SampleFormat SampleFormat
	Layout       ChannelLayout
	SampleRate   int
	SampleCount  int // samples per channel

	PTS      int64 // presentation time in TimeBase ticks, NoPTS when unknown
	Duration int64
	TimeBase TimeBase
	Keyframe bool
}

// NewVideoFrame allocates a tightly packed video frame.
func NewVideoFrame(format PixelFormat, width, height int) *Frame {
	f := &Frame{
		MediaType:   MediaTypeVideo,
		Width:       width,
		Height:      height,
		PixelFormat: format,
		PTS:         NoPTS,
	}
	n := format.PlaneCount()
	f.Data = make([][]byte, n)
	f.Stride = make([]int, n)
	for i := 0; i < n; i++ {
		rb, rows := format.PlaneSize(i, width, height)
		f.Data[i] = make([]byte, rb*rows)
		f.Stride[i] = rb
	}
	return f
}

// NewAudioFrame allocates an audio frame holding count samples per channel.
func NewAudioFrame(format SampleFormat, layout ChannelLayout, rate, count int) *Frame {
	f := &Frame{
		MediaType:    MediaTypeAudio,
		SampleFormat: format,
		Layout:       layout,
		SampleRate:   rate,
		SampleCount:  count,
		PTS:          NoPTS,
	}
	ch := layout.Channels()
	bufs := format.BufferCount(ch)
	size := count * format.BytesPerSample()
	if !format.IsPlanar() {
		size *= ch
	}
	f.Data = make([][]byte, bufs)
	for i := range f.Data {
		f.Data[i] = make([]byte, size)
	}
	return f
}

// Channels returns the channel count of an audio frame.
func (f *Frame) Channels() int { return f.Layout.Channels() }

// Format returns the output format the frame belongs to.
func (f *Frame) Format() Format {
	if f.MediaType == MediaTypeVideo {
		return Format{MediaType: f.MediaType, Width: f.Width, Height: f.Height, PixelFormat: f.PixelFormat}
	}
	return Format{MediaType: f.MediaType, SampleFormat: f.SampleFormat, SampleRate: f.SampleRate, Layout: f.Layout}
}

// Size returns the number of bytes referenced by the frame.
func (f *Frame) Size() int {
	n := 0
	for _, p := range f.Data {
		n += len(p)
	}
	return n
}

// Clone creates a deep copy of the frame.
// Use this when you need to keep the frame data beyond its original lifetime.
func (f *Frame) Clone() *Frame {
	clone := *f
	clone.Data = make([][]byte, len(f.Data))
	clone.Stride = append([]int(nil), f.Stride...)
	for i, plane := range f.Data {
		if plane != nil {
			clone.Data[i] = make([]byte, len(plane))
			copy(clone.Data[i], plane)
		}
	}
	return &clone
}
