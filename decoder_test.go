package av

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/rs/zerolog"
)

// fakeBackend emits one frame per packet, copying the packet's PTS.
type fakeBackend struct {
	ret     int32
	size    func(pkt *Packet) (w, h int)
	drained []*Frame
	resets  int
	closed  bool
}

func (b *fakeBackend) decode(pkt *Packet) ([]*Frame, int32) {
	if b.ret < 0 {
		return nil, b.ret
	}
	w, h := 4, 4
	if b.size != nil {
		w, h = b.size(pkt)
	}
	f := NewVideoFrame(PixelFormatGray8, w, h)
	f.PTS = pkt.PTS
	return []*Frame{f}, 0
}

func (b *fakeBackend) drain() ([]*Frame, int32) { return b.drained, 0 }
func (b *fakeBackend) reset() int32              { b.resets++; return 0 }
func (b *fakeBackend) close()                    { b.closed = true }

func newTestDecoder(b decoderBackend, depth int) *Decoder {
	s := Stream{
		Index:    1,
		Type:     MediaTypeVideo,
		Codec:    CodecRawVideo,
		TimeBase: TimeBase{1, 25},
		Params:   CodecParameters{Width: 4, Height: 4, PixelFormat: PixelFormatGray8},
	}
	return &Decoder{
		stream:  s,
		info:    DecoderInfo{Name: "fake", Codec: s.Codec},
		backend: b,
		log:     zerolog.Nop(),
		depth:   depth,
		lastOut: NoPTS,
		lastIn:  NoPTS,
		format:  streamFormat(&s),
	}
}

func receiveAll(t *testing.T, d *Decoder) []int64 {
	t.Helper()
	var pts []int64
	for {
		f, err := d.ReceiveFrame()
		if err != nil {
			if errors.Is(err, ErrWouldBlock) || errors.Is(err, ErrEndOfStream) {
				return pts
			}
			t.Fatalf("ReceiveFrame: %v", err)
		}
		pts = append(pts, f.PTS)
	}
}

func TestDecoderReordersByPTS(t *testing.T) {
	d := newTestDecoder(&fakeBackend{}, 2)
	defer d.Close()

	var got []int64
	for _, pts := range []int64{0, 3, 1, 2, 6, 4, 5} {
		if err := d.Submit(&Packet{PTS: pts, DTS: NoPTS, Data: []byte{1}}); err != nil {
			t.Fatalf("Submit(%d): %v", pts, err)
		}
		got = append(got, receiveAll(t, d)...)
	}
	if err := d.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	got = append(got, receiveAll(t, d)...)

	want := []int64{0, 1, 2, 3, 4, 5, 6}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
	if s := d.Stats(); s.FramesDecoded != 7 || s.PacketsSubmitted != 7 {
		t.Errorf("stats = %+v", s)
	}
}

func TestDecoderSubmitWouldBlock(t *testing.T) {
	d := newTestDecoder(&fakeBackend{}, 0)
	if err := d.Submit(&Packet{PTS: 0, DTS: NoPTS}); err != nil {
		t.Fatal(err)
	}
	err := d.Submit(&Packet{PTS: 1, DTS: NoPTS})
	if !errors.Is(err, ErrWouldBlock) {
		t.Fatalf("Submit with pending frame = %v, want WouldBlock", err)
	}
	if _, err := d.ReceiveFrame(); err != nil {
		t.Fatal(err)
	}
	if err := d.Submit(&Packet{PTS: 1, DTS: NoPTS}); err != nil {
		t.Fatalf("Submit after receive: %v", err)
	}
}

func TestDecoderDropsLateFrames(t *testing.T) {
	d := newTestDecoder(&fakeBackend{}, 0)
	for _, pts := range []int64{5, 3, 6} {
		if err := d.Submit(&Packet{PTS: pts, DTS: NoPTS}); err != nil {
			t.Fatal(err)
		}
		receiveAll(t, d)
	}
	if s := d.Stats(); s.FramesDropped != 1 || s.FramesDecoded != 2 {
		t.Errorf("stats = %+v, want 1 dropped and 2 decoded", s)
	}
}

func TestDecoderOutputChanged(t *testing.T) {
	b := &fakeBackend{size: func(pkt *Packet) (int, int) {
		if pkt.PTS >= 2 {
			return 8, 6
		}
		return 4, 4
	}}
	d := newTestDecoder(b, 0)

	for pts := int64(0); pts < 2; pts++ {
		d.Submit(&Packet{PTS: pts, DTS: NoPTS})
		if _, err := d.ReceiveFrame(); err != nil {
			t.Fatalf("frame %d: %v", pts, err)
		}
	}

	d.Submit(&Packet{PTS: 2, DTS: NoPTS})
	if _, err := d.ReceiveFrame(); !errors.Is(err, ErrOutputChanged) {
		t.Fatalf("ReceiveFrame = %v, want OutputChanged", err)
	}
	if got := d.OutputFormat(); got.Width != 8 || got.Height != 6 {
		t.Errorf("OutputFormat = %+v", got)
	}
	f, err := d.ReceiveFrame()
	if err != nil || f.PTS != 2 || f.Width != 8 {
		t.Fatalf("frame after change = %+v, %v", f, err)
	}
	if d.Stats().FormatChanges != 1 {
		t.Errorf("FormatChanges = %d", d.Stats().FormatChanges)
	}
}

func TestDecoderInvalidData(t *testing.T) {
	d := newTestDecoder(&fakeBackend{ret: NativeInvalidData}, 0)
	err := d.Submit(&Packet{PTS: 0, Data: []byte{0xff}})
	if !errors.Is(err, ErrInvalidData) {
		t.Fatalf("Submit = %v, want InvalidData", err)
	}
	if CategoryOf(err) != CategoryUnsupportedInput {
		t.Errorf("category = %v", CategoryOf(err))
	}
	if d.Stats().CorruptedPackets != 1 {
		t.Errorf("CorruptedPackets = %d", d.Stats().CorruptedPackets)
	}
}

func TestDecoderFlushResetClose(t *testing.T) {
	b := &fakeBackend{drained: []*Frame{{MediaType: MediaTypeVideo, Width: 4, Height: 4, PixelFormat: PixelFormatGray8, PTS: 9}}}
	d := newTestDecoder(b, 4)

	d.Submit(&Packet{PTS: 1, DTS: NoPTS})
	if err := d.Submit(nil); err != nil {
		t.Fatalf("Submit(nil): %v", err)
	}
	if err := d.Flush(); err != nil {
		t.Fatalf("second Flush: %v", err)
	}
	if got := receiveAll(t, d); len(got) != 2 || got[0] != 1 || got[1] != 9 {
		t.Fatalf("drained %v, want [1 9]", got)
	}
	if _, err := d.ReceiveFrame(); !errors.Is(err, ErrEndOfStream) {
		t.Errorf("ReceiveFrame after drain = %v, want EndOfStream", err)
	}
	if err := d.Submit(&Packet{PTS: 10}); !errors.Is(err, ErrEndOfStream) {
		t.Errorf("Submit after flush = %v, want EndOfStream", err)
	}

	if err := d.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if b.resets != 1 {
		t.Errorf("backend resets = %d", b.resets)
	}
	if err := d.Submit(&Packet{PTS: 0, DTS: NoPTS}); err != nil {
		t.Errorf("Submit after reset: %v", err)
	}

	d.Close()
	if !b.closed {
		t.Error("backend not closed")
	}
	if err := d.Close(); err != nil {
		t.Errorf("second Close = %v", err)
	}
	if err := d.Submit(&Packet{}); !errors.Is(err, ErrClosed) {
		t.Errorf("Submit after close = %v", err)
	}
	if _, err := d.ReceiveFrame(); !errors.Is(err, ErrClosed) {
		t.Errorf("ReceiveFrame after close = %v", err)
	}
}

func TestDecoderTimestampFallback(t *testing.T) {
	d := newTestDecoder(&fakeBackend{}, 0)
	d.Submit(&Packet{PTS: NoPTS, DTS: 7})
	f, err := d.ReceiveFrame()
	if err != nil {
		t.Fatal(err)
	}
	if f.PTS != 7 || f.StreamIndex != 1 || f.TimeBase != (TimeBase{1, 25}) {
		t.Errorf("frame timing = pts %d stream %d tb %v", f.PTS, f.StreamIndex, f.TimeBase)
	}

	d.Submit(&Packet{PTS: NoPTS, DTS: NoPTS})
	f, err = d.ReceiveFrame()
	if err != nil || f.PTS != 8 {
		t.Errorf("synthesized PTS = %v, %v, want 8", f, err)
	}
}

func TestFindDecoder(t *testing.T) {
	info, err := FindDecoder(CodecPCMS16LE)
	if err != nil {
		t.Fatalf("FindDecoder: %v", err)
	}
	if info.Name != "pcm_s16le" || info.Provider != ProviderBuiltin || !info.Available {
		t.Errorf("info = %+v", info)
	}

	if _, err := FindDecoder(CodecHEVC); !errors.Is(err, ErrDecoderNotFound) {
		t.Errorf("FindDecoder(hevc) = %v, want DecoderNotFound", err)
	}

	found := false
	for _, d := range Decoders() {
		found = found || d.Name == "rawvideo"
	}
	if !found {
		t.Error("Decoders() missing rawvideo")
	}
}

func TestOpenDecoderNotFound(t *testing.T) {
	_, err := OpenDecoder(&Stream{Type: MediaTypeVideo, Codec: CodecHEVC}, DecoderOptions{})
	if !errors.Is(err, ErrDecoderNotFound) {
		t.Fatalf("OpenDecoder(hevc) = %v, want DecoderNotFound", err)
	}
}

func TestRawVideoDecoder(t *testing.T) {
	s := &Stream{
		Type:     MediaTypeVideo,
		Codec:    CodecRawVideo,
		TimeBase: TimeBase{1, 25},
		Params:   CodecParameters{Width: 4, Height: 2, PixelFormat: PixelFormatI420},
	}
	d, err := OpenDecoder(s, DecoderOptions{})
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()

	data := make([]byte, PixelFormatI420.ImageSize(4, 2))
	for i := range data {
		data[i] = byte(i)
	}
	if err := d.Submit(&Packet{Data: data, PTS: 3, DTS: 3, Duration: 1}); err != nil {
		t.Fatal(err)
	}
	f, err := d.ReceiveFrame()
	if err != nil {
		t.Fatal(err)
	}
	if f.PTS != 3 || len(f.Data) != 3 || f.Data[1][0] != 8 || f.Data[2][1] != 11 {
		t.Errorf("frame = pts %d planes %v", f.PTS, f.Data)
	}

	if err := d.Submit(&Packet{Data: data[:3], PTS: 4}); !errors.Is(err, ErrInvalidData) {
		t.Errorf("short packet = %v, want InvalidData", err)
	}
}

func TestPCMDecoder(t *testing.T) {
	tests := []struct {
		name  string
		codec CodecID
		in    []byte
		check func(t *testing.T, f *Frame)
	}{
		{"s16be", CodecPCMS16BE, []byte{0x12, 0x34, 0xff, 0xfe}, func(t *testing.T, f *Frame) {
			if got := int16(binary.LittleEndian.Uint16(f.Data[0])); got != 0x1234 {
				t.Errorf("sample 0 = %#x", got)
			}
			if got := int16(binary.LittleEndian.Uint16(f.Data[0][2:])); got != -2 {
				t.Errorf("sample 1 = %d", got)
			}
		}},
		{"s24le", CodecPCMS24LE, []byte{0x01, 0x02, 0x83, 0, 0, 0}, func(t *testing.T, f *Frame) {
			if f.SampleFormat != SampleFormatS32 {
				t.Errorf("format = %v", f.SampleFormat)
			}
			if got := binary.LittleEndian.Uint32(f.Data[0]); got != 0x83020100 {
				t.Errorf("sample 0 = %#x", got)
			}
		}},
		{"f32le", CodecPCMF32LE, binary.LittleEndian.AppendUint32(binary.LittleEndian.AppendUint32(nil, math.Float32bits(0.5)), math.Float32bits(-1)), func(t *testing.T, f *Frame) {
			if got := math.Float32frombits(binary.LittleEndian.Uint32(f.Data[0][4:])); got != -1 {
				t.Errorf("sample 1 = %v", got)
			}
		}},
		{"mulaw", CodecPCMMuLaw, []byte{0xff, 0x00}, func(t *testing.T, f *Frame) {
			if got := int16(binary.LittleEndian.Uint16(f.Data[0])); got != 0 {
				t.Errorf("mulaw 0xff = %d, want 0", got)
			}
			if got := int16(binary.LittleEndian.Uint16(f.Data[0][2:])); got != -32124 {
				t.Errorf("mulaw 0x00 = %d, want -32124", got)
			}
		}},
		{"alaw", CodecPCMALaw, []byte{0xd5, 0x55}, func(t *testing.T, f *Frame) {
			if got := int16(binary.LittleEndian.Uint16(f.Data[0])); got != 8 {
				t.Errorf("alaw 0xd5 = %d, want 8", got)
			}
			if got := int16(binary.LittleEndian.Uint16(f.Data[0][2:])); got != -8 {
				t.Errorf("alaw 0x55 = %d, want -8", got)
			}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &Stream{
				Type:     MediaTypeAudio,
				Codec:    tt.codec,
				TimeBase: TimeBase{1, 8000},
				Params:   CodecParameters{SampleRate: 8000, Layout: LayoutMono},
			}
			d, err := OpenDecoder(s, DecoderOptions{})
			if err != nil {
				t.Fatal(err)
			}
			defer d.Close()
			if err := d.Submit(&Packet{Data: tt.in, PTS: 0, DTS: 0}); err != nil {
				t.Fatal(err)
			}
			f, err := d.ReceiveFrame()
			if err != nil {
				t.Fatal(err)
			}
			if f.SampleCount != 2 || f.SampleRate != 8000 || f.Duration != 2 {
				t.Errorf("frame = count %d rate %d duration %d", f.SampleCount, f.SampleRate, f.Duration)
			}
			tt.check(t, f)
		})
	}
}

func TestPCMDecoderRejectsBadParams(t *testing.T) {
	s := &Stream{Type: MediaTypeAudio, Codec: CodecPCMS16LE, Params: CodecParameters{SampleRate: 0, Layout: LayoutMono}}
	if _, err := OpenDecoder(s, DecoderOptions{}); !errors.Is(err, ErrInvalidData) {
		t.Errorf("OpenDecoder = %v, want InvalidData", err)
	}
}
