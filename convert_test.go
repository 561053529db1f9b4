package av

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"testing"
)

func rgbFrame(format PixelFormat, w, h int, px ...byte) *Frame {
	f := NewVideoFrame(format, w, h)
	for i := 0; i < len(f.Data[0]); i += len(px) {
		copy(f.Data[0][i:], px)
	}
	return f
}

func TestConvertPassthrough(t *testing.T) {
	v := NewVideoFrame(PixelFormatI420, 16, 16)
	if out, err := Convert(v, Target{}); err != nil || out != v {
		t.Errorf("Convert(video, zero) = %p, %v, want input", out, err)
	}
	if out, err := Convert(v, Target{PixelFormat: PixelFormatI420, Width: 16, Height: 16}); err != nil || out != v {
		t.Errorf("Convert(video, same) = %p, %v, want input", out, err)
	}
	a := NewAudioFrame(SampleFormatS16, LayoutStereo, 48000, 1024)
	if out, err := Convert(a, Target{SampleRate: 48000}); err != nil || out != a {
		t.Errorf("Convert(audio, same) = %p, %v, want input", out, err)
	}
	if !(Target{}).IsZero() || (Target{Width: 2}).IsZero() {
		t.Error("IsZero mismatch")
	}
}

func TestConvertSwizzle(t *testing.T) {
	src := rgbFrame(PixelFormatRGB24, 3, 2, 1, 2, 3)
	src.PTS = 9

	bgra, err := Convert(src, Target{PixelFormat: PixelFormatBGRA})
	if err != nil {
		t.Fatal(err)
	}
	if want := bytes.Repeat([]byte{3, 2, 1, 0xFF}, 6); !bytes.Equal(bgra.Data[0], want) {
		t.Errorf("bgra = %v, want %v", bgra.Data[0], want)
	}
	if bgra.PTS != 9 {
		t.Errorf("pts = %d, want 9", bgra.PTS)
	}

	rgba, err := Convert(bgra, Target{PixelFormat: PixelFormatRGBA})
	if err != nil {
		t.Fatal(err)
	}
	if want := bytes.Repeat([]byte{1, 2, 3, 0xFF}, 6); !bytes.Equal(rgba.Data[0], want) {
		t.Errorf("rgba = %v, want %v", rgba.Data[0], want)
	}

	back, err := Convert(rgba, Target{PixelFormat: PixelFormatRGB24})
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(back.Data[0], src.Data[0]) {
		t.Errorf("rgb24 = %v, want %v", back.Data[0], src.Data[0])
	}
}

func TestConvertRGBToI420(t *testing.T) {
	tests := []struct {
		name   string
		px     []byte
		wantY  byte
		wantRG byte
	}{
		{"white", []byte{255, 255, 255}, 235, 255},
		{"black", []byte{0, 0, 0}, 16, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := rgbFrame(PixelFormatRGB24, 4, 4, tt.px...)
			yuv, err := Convert(src, Target{PixelFormat: PixelFormatI420})
			if err != nil {
				t.Fatal(err)
			}
			if yuv.Data[0][5] != tt.wantY || yuv.Data[1][0] != 128 || yuv.Data[2][3] != 128 {
				t.Errorf("yuv = %d %d %d", yuv.Data[0][5], yuv.Data[1][0], yuv.Data[2][3])
			}
			rgb, err := Convert(yuv, Target{PixelFormat: PixelFormatRGB24})
			if err != nil {
				t.Fatal(err)
			}
			for i, v := range rgb.Data[0] {
				if v != tt.wantRG {
					t.Fatalf("rgb[%d] = %d, want %d", i, v, tt.wantRG)
				}
			}
		})
	}
}

func TestConvertNV12(t *testing.T) {
	src := NewVideoFrame(PixelFormatI420, 4, 2)
	copy(src.Data[0], []byte{1, 2, 3, 4, 5, 6, 7, 8})
	copy(src.Data[1], []byte{10, 20})
	copy(src.Data[2], []byte{30, 40})

	nv12, err := Convert(src, Target{PixelFormat: PixelFormatNV12})
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(nv12.Data[0], src.Data[0]) {
		t.Errorf("luma = %v", nv12.Data[0])
	}
	if want := []byte{10, 30, 20, 40}; !bytes.Equal(nv12.Data[1], want) {
		t.Errorf("chroma = %v, want %v", nv12.Data[1], want)
	}

	back, err := Convert(nv12, Target{PixelFormat: PixelFormatI420})
	if err != nil {
		t.Fatal(err)
	}
	for i := range src.Data {
		if !bytes.Equal(back.Data[i], src.Data[i]) {
			t.Errorf("plane %d = %v, want %v", i, back.Data[i], src.Data[i])
		}
	}
}

func TestConvertGray(t *testing.T) {
	src := NewVideoFrame(PixelFormatGray8, 2, 2)
	copy(src.Data[0], []byte{16, 50, 100, 235})
	out, err := Convert(src, Target{PixelFormat: PixelFormatI420})
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out.Data[0], src.Data[0]) || out.Data[1][0] != 128 || out.Data[2][0] != 128 {
		t.Errorf("i420 = %v", out.Data)
	}
	gray, err := Convert(out, Target{PixelFormat: PixelFormatGray8})
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(gray.Data[0], src.Data[0]) {
		t.Errorf("gray = %v", gray.Data[0])
	}
}

func TestConvertScale(t *testing.T) {
	src := createGradientFrame(640, 480)
	tests := []struct {
		target       Target
		w, h         int
		format       PixelFormat
		firstPlaneSz int
	}{
		{Target{Width: 320}, 320, 240, PixelFormatI420, 320 * 240},
		{Target{Height: 120, PixelFormat: PixelFormatRGB24}, 160, 120, PixelFormatRGB24, 160 * 3 * 120},
		{Target{Width: 100, Height: 100, ScaleMode: ScaleModeFit}, 100, 100, PixelFormatI420, 100 * 100},
	}
	for _, tt := range tests {
		out, err := Convert(src, tt.target)
		if err != nil {
			t.Fatalf("Convert(%+v) = %v", tt.target, err)
		}
		if out.Width != tt.w || out.Height != tt.h || out.PixelFormat != tt.format {
			t.Errorf("Convert(%+v) = %dx%d %s, want %dx%d %s", tt.target, out.Width, out.Height, out.PixelFormat, tt.w, tt.h, tt.format)
		}
		if len(out.Data[0]) != tt.firstPlaneSz {
			t.Errorf("Convert(%+v) plane 0 = %d bytes, want %d", tt.target, len(out.Data[0]), tt.firstPlaneSz)
		}
	}
}

func TestConvertErrors(t *testing.T) {
	video := NewVideoFrame(PixelFormatI420, 64, 64)
	audio := NewAudioFrame(SampleFormatS16, LayoutStereo, 48000, 16)
	noRate := NewAudioFrame(SampleFormatS16, LayoutStereo, 0, 16)
	empty := &Frame{MediaType: MediaTypeVideo, PixelFormat: PixelFormatI420}

	tests := []struct {
		name   string
		frame  *Frame
		target Target
		want   error
	}{
		{"unknown media", &Frame{}, Target{}, ErrUnsupportedConversion},
		{"negative width", video, Target{Width: -2}, ErrUnsupportedConversion},
		{"empty frame", empty, Target{Width: 2, Height: 2}, ErrUnsupportedConversion},
		{"pixel format", video, Target{PixelFormat: PixelFormat(99)}, ErrUnsupportedConversion},
		{"too large", video, Target{Width: 64, Height: 64, PixelFormat: PixelFormatRGBA, MaxBytes: 100}, ErrOutOfMemory},
		{"sample format", audio, Target{SampleFormat: SampleFormat(99)}, ErrUnsupportedConversion},
		{"no rate", noRate, Target{SampleRate: 8000}, ErrUnsupportedConversion},
		{"too many samples", audio, Target{SampleRate: 96000, MaxBytes: 64}, ErrOutOfMemory},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Convert(tt.frame, tt.target)
			if !errors.Is(err, tt.want) {
				t.Errorf("Convert = %v, %v, want %v", out, err, tt.want)
			}
		})
	}
}

func s16Frame(layout ChannelLayout, rate int, samples ...int16) *Frame {
	f := NewAudioFrame(SampleFormatS16, layout, rate, len(samples)/layout.Channels())
	for i, v := range samples {
		binary.LittleEndian.PutUint16(f.Data[0][2*i:], uint16(v))
	}
	return f
}

func s16At(f *Frame, i int) int16 {
	return int16(binary.LittleEndian.Uint16(f.Data[0][2*i:]))
}

func TestConvertAudioPlanar(t *testing.T) {
	src := s16Frame(LayoutStereo, 44100, 16384, -16384, 16384, -16384, 0, 8192)
	src.PTS, src.TimeBase = 1024, TimeBase{1, 44100}

	out, err := Convert(src, Target{SampleFormat: SampleFormatF32P})
	if err != nil {
		t.Fatal(err)
	}
	if len(out.Data) != 2 || out.SampleCount != 3 || out.SampleRate != 44100 {
		t.Fatalf("out = %d buffers, %d samples at %d", len(out.Data), out.SampleCount, out.SampleRate)
	}
	f32 := func(b []byte, i int) float32 { return math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:])) }
	wantL := []float32{0.5, 0.5, 0}
	wantR := []float32{-0.5, -0.5, 0.25}
	for i := range wantL {
		if l, r := f32(out.Data[0], i), f32(out.Data[1], i); l != wantL[i] || r != wantR[i] {
			t.Errorf("sample %d = %v/%v, want %v/%v", i, l, r, wantL[i], wantR[i])
		}
	}
	if out.PTS != 1024 || out.TimeBase != src.TimeBase {
		t.Errorf("timing = %d %v", out.PTS, out.TimeBase)
	}

	back, err := Convert(out, Target{SampleFormat: SampleFormatS16})
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(back.Data[0], src.Data[0]) {
		t.Errorf("round trip = %v, want %v", back.Data[0], src.Data[0])
	}
}

func TestConvertAudioChannels(t *testing.T) {
	stereo := s16Frame(LayoutStereo, 8000, 1000, 3000, -200, 200)
	mono, err := Convert(stereo, Target{Layout: LayoutMono})
	if err != nil {
		t.Fatal(err)
	}
	if mono.Channels() != 1 || mono.SampleCount != 2 {
		t.Fatalf("mono = %d channels, %d samples", mono.Channels(), mono.SampleCount)
	}
	if a, b := s16At(mono, 0), s16At(mono, 1); a != 2000 || b != 0 {
		t.Errorf("mono = %d %d, want 2000 0", a, b)
	}

	up, err := Convert(s16Frame(LayoutMono, 8000, 7, -7), Target{Layout: LayoutStereo})
	if err != nil {
		t.Fatal(err)
	}
	for i, want := range []int16{7, 7, -7, -7} {
		if got := s16At(up, i); got != want {
			t.Errorf("stereo[%d] = %d, want %d", i, got, want)
		}
	}
}

func TestConvertAudioRate(t *testing.T) {
	src := NewAudioFrame(SampleFormatF32, LayoutStereo, 48000, 960)
	out, err := Convert(src, Target{SampleRate: 24000})
	if err != nil {
		t.Fatal(err)
	}
	if out.SampleCount != 480 || out.SampleRate != 24000 || out.SampleFormat != SampleFormatF32 {
		t.Errorf("out = %d samples at %d %s", out.SampleCount, out.SampleRate, out.SampleFormat)
	}
	if len(out.Data[0]) != 480*2*4 {
		t.Errorf("buffer = %d bytes", len(out.Data[0]))
	}
}

func TestResampledCount(t *testing.T) {
	tests := []struct {
		n, from, to, want int
	}{
		{960, 48000, 24000, 480},
		{1024, 44100, 48000, 1115},
		{441, 44100, 48000, 480},
		{1, 8000, 48000, 6},
		{0, 8000, 16000, 0},
	}
	for _, tt := range tests {
		if got := resampledCount(tt.n, tt.from, tt.to); got != tt.want {
			t.Errorf("resampledCount(%d, %d, %d) = %d, want %d", tt.n, tt.from, tt.to, got, tt.want)
		}
	}
}

func TestResampleLinear(t *testing.T) {
	in := [][]float64{{0, 1, 2, 3}}
	got := resampleLinear(in, 1, 2)[0]
	want := []float64{0, 0.5, 1, 1.5, 2, 2.5, 3, 3}
	if len(got) != len(want) {
		t.Fatalf("got %d samples, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %v, want %v", i, got[i], want[i])
		}
	}
	if out := resampleLinear(in, 8000, 8000); &out[0][0] != &in[0][0] {
		t.Error("same rate should not copy")
	}
}

func TestRemix(t *testing.T) {
	quad := [][]float64{{1}, {2}, {3}, {4}}
	st := remix(quad, 2)
	if st[0][0] != 2 || st[1][0] != 3 {
		t.Errorf("quad to stereo = %v, want [[2] [3]]", st)
	}
	mono := remix(quad, 1)
	if mono[0][0] != 2.5 {
		t.Errorf("quad to mono = %v, want [[2.5]]", mono)
	}
	up := remix([][]float64{{1}, {2}}, 3)
	if up[0][0] != 1 || up[1][0] != 2 || up[2][0] != 1 {
		t.Errorf("stereo to 3 = %v", up)
	}
}

func TestSampleRoundTrip(t *testing.T) {
	tests := []struct {
		format SampleFormat
		v      float64
	}{
		{SampleFormatU8, 0.5},
		{SampleFormatS16, -0.25},
		{SampleFormatS32, 0.75},
		{SampleFormatF32, -1},
		{SampleFormatF64, 0.1},
	}
	for _, tt := range tests {
		b := make([]byte, 8)
		writeSample(b, tt.format, tt.v)
		if got := readSample(b, tt.format); got != tt.v {
			t.Errorf("%s: read %v, want %v", tt.format, got, tt.v)
		}
	}
	b := make([]byte, 2)
	writeSample(b, SampleFormatS16, 2)
	if got := int16(binary.LittleEndian.Uint16(b)); got != math.MaxInt16 {
		t.Errorf("clipped s16 = %d", got)
	}
}
