package av

import (
	"bytes"
	"errors"
	"testing"

	"github.com/thesyncim/av/internal/mpegts"
)

const (
	tsVideoPID = 0x100
	tsAudioPID = 0x101
)

// buildTS muxes frames video access units at 25 fps and as many ADTS frames,
// starting at one second. Every fifth picture is an IDR.
func buildTS(t *testing.T, frames int) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := mpegts.NewWriter(&buf,
		mpegts.WriterStream{PID: tsVideoPID, StreamType: mpegts.StreamTypeH264, StreamID: 0xE0},
		mpegts.WriterStream{PID: tsAudioPID, StreamType: mpegts.StreamTypeAACADTS, StreamID: 0xC0,
			Descriptors: []mpegts.Descriptor{{Tag: mpegts.DescriptorISO639Language, Data: []byte("eng\x00")}}},
	)
	if err := w.WriteTables(); err != nil {
		t.Fatal(err)
	}
	adts := append(adtsHeaderBytes(3, 2, 17), bytes.Repeat([]byte{0x21}, 10)...)
	for i := 0; i < frames; i++ {
		key := i%5 == 0
		au := joinAnnexB(testSlice)
		if key {
			au = testKeyAU(320, 240)
		}
		pts := int64(90000 + i*3600)
		if err := w.WritePES(tsVideoPID, pts+3600, pts, key, au); err != nil {
			t.Fatal(err)
		}
		if err := w.WritePES(tsAudioPID, int64(90000+i*1920), -1, false, adts); err != nil {
			t.Fatal(err)
		}
	}
	return buf.Bytes()
}

func TestMPEGTSDemux(t *testing.T) {
	s := openTest(t, writeTemp(t, "clip.ts", buildTS(t, 10)), Options{})
	if s.Format() != "mpegts" {
		t.Fatalf("format = %s", s.Format())
	}
	streams := s.Streams()
	if len(streams) != 2 {
		t.Fatalf("got %d streams, want 2", len(streams))
	}
	v, a := streams[0], streams[1]
	if v.Codec != CodecH264 || v.Params.Width != 320 || v.Params.Height != 240 || v.ID != tsVideoPID {
		t.Errorf("video = %v %dx%d pid %#x", v.Codec, v.Params.Width, v.Params.Height, v.ID)
	}
	if !v.Disposition.Has(DispositionDefault) || v.TimeBase != TimeBase90kHz {
		t.Errorf("video disposition %v, time base %v", v.Disposition, v.TimeBase)
	}
	if a.Codec != CodecAAC || a.Params.SampleRate != 48000 || a.Params.Layout != LayoutStereo {
		t.Errorf("audio = %v %+v", a.Codec, a.Params)
	}
	if a.Metadata["language"] != "eng" {
		t.Errorf("audio metadata = %v", a.Metadata)
	}
	if v.StartTime != 93600 || v.Duration != 9*3600 {
		t.Errorf("video start %d duration %d", v.StartTime, v.Duration)
	}
	if best, _ := s.BestStream(MediaTypeVideo); best != 0 {
		t.Errorf("BestStream(video) = %d", best)
	}

	pkts := readAll(t, s)
	if len(pkts) != 20 {
		t.Fatalf("got %d packets, want 20", len(pkts))
	}
	var video []*Packet
	for _, p := range pkts {
		if p.StreamIndex == 0 {
			video = append(video, p)
		}
	}
	for i, p := range video {
		dts := int64(90000 + i*3600)
		if p.DTS != dts || p.PTS != dts+3600 {
			t.Errorf("video %d: pts %d dts %d", i, p.PTS, p.DTS)
		}
		if want := i%5 == 0; p.Keyframe != want {
			t.Errorf("video %d: keyframe %v, want %v", i, p.Keyframe, want)
		}
	}
	if !bytes.Equal(video[0].Data, testKeyAU(320, 240)) {
		t.Errorf("first access unit = %x", video[0].Data)
	}

	if err := s.Seek(0, 93600+2*3600); err != nil {
		t.Fatal(err)
	}
	p, err := s.NextPacket()
	if err != nil || p.StreamIndex != 0 || p.DTS != 90000+5*3600 {
		t.Fatalf("after seek: %+v, %v", p, err)
	}
	if err := s.Seek(-1, 1_150_000); err != nil {
		t.Fatal(err)
	}
	if p, _ := s.NextPacket(); p == nil || p.DTS != 90000+5*3600 {
		t.Errorf("after seek(-1): %+v", p)
	}
	if err := s.Seek(0, 200_000); !errors.Is(err, ErrEndOfStream) {
		t.Errorf("seek past last keyframe = %v", err)
	}
}

func TestMPEGTSResync(t *testing.T) {
	data := append(make([]byte, 5), buildTS(t, 2)...)
	s := openTest(t, writeTemp(t, "junk.ts", data), Options{Format: "mpegts"})
	if n := len(readAll(t, s)); n != 4 {
		t.Errorf("got %d packets, want 4", n)
	}
	if d := s.dmx.(*mpegtsDemuxer); d.resyncs != 5 {
		t.Errorf("resyncs = %d, want 5", d.resyncs)
	}
}

func TestTSStreamFor(t *testing.T) {
	opus := mpegts.ElementaryStream{
		PID:        0x102,
		StreamType: mpegts.StreamTypePrivate,
		Descriptors: []mpegts.Descriptor{
			{Tag: mpegts.DescriptorRegistration, Data: []byte("Opus")},
		},
	}
	tests := []struct {
		es   mpegts.ElementaryStream
		want CodecID
	}{
		{mpegts.ElementaryStream{PID: 0x100, StreamType: mpegts.StreamTypeH264}, CodecH264},
		{mpegts.ElementaryStream{PID: 0x100, StreamType: mpegts.StreamTypeHEVC}, CodecHEVC},
		{mpegts.ElementaryStream{PID: 0x101, StreamType: mpegts.StreamTypeAACADTS}, CodecAAC},
		{mpegts.ElementaryStream{PID: 0x101, StreamType: mpegts.StreamTypeMPEG1Audio}, CodecMP3},
		{opus, CodecOpus},
	}
	for _, tt := range tests {
		st := tsStreamFor(tt.es)
		if st == nil || st.Codec != tt.want || st.ID != int(tt.es.PID) {
			t.Errorf("tsStreamFor(%#x) = %+v, want %v", tt.es.StreamType, st, tt.want)
		}
	}
	if st := tsStreamFor(opus); st.Params.SampleRate != 48000 {
		t.Errorf("opus sample rate = %d", st.Params.SampleRate)
	}

	for _, es := range []mpegts.ElementaryStream{
		{PID: 0x103, StreamType: mpegts.StreamTypePrivate},
		{PID: 0x104, StreamType: 0x86},
	} {
		if st := tsStreamFor(es); st != nil {
			t.Errorf("tsStreamFor(%#x) = %+v, want nil", es.StreamType, st)
		}
	}
}

func TestUnwrapTimestamps(t *testing.T) {
	tests := []struct {
		v, ref, want int64
	}{
		{100, 50, 100},
		{10, tsTimestampMod - 10, tsTimestampMod + 10},
		{tsTimestampMod - 10, tsTimestampMod + 5, tsTimestampMod - 10},
		{tsTimestampMod - 10, 5, -10},
		{20, 3*tsTimestampMod + 10, 3*tsTimestampMod + 20},
	}
	for _, tt := range tests {
		if got := unwrapNear(tt.v, tt.ref); got != tt.want {
			t.Errorf("unwrapNear(%d, %d) = %d, want %d", tt.v, tt.ref, got, tt.want)
		}
	}

	s := &tsStream{lastPTS: NoPTS}
	for i, v := range []int64{tsTimestampMod - 3000, tsTimestampMod - 1000, 1000, 3000} {
		got := s.unwrap(v)
		if want := tsTimestampMod - 3000 + int64(i)*2000; got != want {
			t.Errorf("unwrap #%d = %d, want %d", i, got, want)
		}
	}
}
