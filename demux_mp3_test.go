package av

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"image"
	"image/png"
	"testing"
	"time"
	"unicode/utf16"
)

// mp3Frame returns an MPEG-1 Layer III frame at 128 kbit/s, 44.1 kHz.
func mp3Frame(fill byte) []byte {
	f := make([]byte, 417)
	copy(f, []byte{0xFF, 0xFB, 0x90, 0x00})
	for i := 4; i < len(f); i++ {
		f[i] = fill
	}
	return f
}

func xingFrame(frames uint32) []byte {
	f := mp3Frame(0)
	copy(f[36:], "Xing")
	binary.BigEndian.PutUint32(f[40:], 1)
	binary.BigEndian.PutUint32(f[44:], frames)
	return f
}

func id3Frame(major byte, id string, body []byte) []byte {
	b := []byte(id)
	if major == 4 {
		n := len(body)
		b = append(b, byte(n>>21&0x7F), byte(n>>14&0x7F), byte(n>>7&0x7F), byte(n&0x7F))
	} else {
		b = binary.BigEndian.AppendUint32(b, uint32(len(body)))
	}
	b = append(b, 0, 0)
	return append(b, body...)
}

func buildID3(major byte, frames ...[]byte) []byte {
	body := bytes.Join(frames, nil)
	n := len(body)
	b := []byte{'I', 'D', '3', major, 0, 0, byte(n >> 21 & 0x7F), byte(n >> 14 & 0x7F), byte(n >> 7 & 0x7F), byte(n & 0x7F)}
	return append(b, body...)
}

func utf16Text(s string) []byte {
	b := []byte{1, 0xFF, 0xFE}
	for _, u := range utf16.Encode([]rune(s)) {
		b = binary.LittleEndian.AppendUint16(b, u)
	}
	return b
}

func buildID3v1(title, album, year string, track byte) []byte {
	b := make([]byte, id3v1Size)
	copy(b, "TAG")
	copy(b[3:], title)
	copy(b[63:], album)
	copy(b[93:], year)
	b[126] = track
	b[127] = 0xFF
	return b
}

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestMP3AttachedPicture(t *testing.T) {
	cover := testPNG(t, 2, 3)
	apic := append([]byte("\x00image/png\x00\x03cover\x00"), cover...)

	var file bytes.Buffer
	file.Write(buildID3(3,
		id3Frame(3, "TIT2", []byte("\x00Song")),
		id3Frame(3, "TPE1", utf16Text("Artíst")),
		id3Frame(3, "APIC", apic),
	))
	file.Write(xingFrame(5))
	for i := 0; i < 5; i++ {
		file.Write(mp3Frame(byte(i + 1)))
	}
	file.Write(buildID3v1("Ignored", "Old Album", "1999", 7))

	s := openTest(t, writeTemp(t, "song.mp3", file.Bytes()), Options{})
	if s.Format() != "mp3" {
		t.Errorf("Format = %s, want mp3", s.Format())
	}

	streams := s.Streams()
	if len(streams) != 2 {
		t.Fatalf("got %d streams, want 2", len(streams))
	}
	audio, pic := streams[0], streams[1]
	if audio.Codec != CodecMP3 || audio.TimeBase != (TimeBase{1, 44100}) || audio.Params.Layout.Channels() != 2 {
		t.Errorf("audio = %s %v %+v", audio.Codec, audio.TimeBase, audio.Params)
	}
	if audio.Duration != 5*1152 {
		t.Errorf("audio duration = %d, want %d", audio.Duration, 5*1152)
	}
	if d, ok := s.Duration(); !ok || d != 130612*time.Microsecond {
		t.Errorf("Duration = %v, %v", d, ok)
	}
	if pic.Type != MediaTypeVideo || pic.Codec != CodecPNG || !pic.Disposition.Has(DispositionAttachedPic) {
		t.Errorf("picture = %s %s %b", pic.Type, pic.Codec, pic.Disposition)
	}
	if pic.Params.Width != 2 || pic.Params.Height != 3 {
		t.Errorf("picture size = %dx%d, want 2x3", pic.Params.Width, pic.Params.Height)
	}
	if pic.Metadata["title"] != "cover" || pic.Metadata["comment"] != "Cover (front)" {
		t.Errorf("picture metadata = %v", pic.Metadata)
	}

	md := s.Metadata()
	want := Metadata{"title": "Song", "artist": "Artíst", "album": "Old Album", "date": "1999", "track": "7"}
	for k, v := range want {
		if md[k] != v {
			t.Errorf("metadata[%s] = %q, want %q", k, md[k], v)
		}
	}

	if i, err := s.BestStream(MediaTypeAudio); err != nil || i != 0 {
		t.Errorf("BestStream(audio) = %d, %v, want 0", i, err)
	}
	if _, err := s.BestStream(MediaTypeVideo); !errors.Is(err, ErrStreamNotFound) {
		t.Errorf("BestStream(video) = %v, want ErrStreamNotFound", err)
	}

	pkts := readAll(t, s)
	if len(pkts) != 6 {
		t.Fatalf("got %d packets, want 6", len(pkts))
	}
	if pkts[0].StreamIndex != 1 || !bytes.Equal(pkts[0].Data, cover) {
		t.Errorf("first packet = stream %d, %d bytes", pkts[0].StreamIndex, len(pkts[0].Data))
	}
	for i, p := range pkts[1:] {
		if p.StreamIndex != 0 || p.PTS != int64(i*1152) || p.Duration != 1152 || p.Data[4] != byte(i+1) {
			t.Errorf("audio packet %d = stream %d pts %d duration %d", i, p.StreamIndex, p.PTS, p.Duration)
		}
	}

	if err := s.Seek(0, 2000); err != nil {
		t.Fatal(err)
	}
	p, err := s.NextPacket()
	if err != nil || p.PTS != 2304 {
		t.Fatalf("after seek: %+v, %v", p, err)
	}
}

func TestMP3ConstantBitrate(t *testing.T) {
	var file bytes.Buffer
	file.Write(mp3Frame(0))
	file.Write(mp3Frame(0))
	file.Write([]byte{0x00, 0xFF, 0x02}) // lost sync
	file.Write(mp3Frame(0))

	s := openTest(t, writeTemp(t, "cbr.bin", file.Bytes()), Options{})
	if s.Format() != "mp3" {
		t.Fatalf("Format = %s, want mp3", s.Format())
	}
	st, _ := s.Stream(0)
	if st.Duration != 3456 || st.Params.BitRate != 128000 {
		t.Errorf("duration %d bitrate %d, want 3456 128000", st.Duration, st.Params.BitRate)
	}
	pkts := readAll(t, s)
	if len(pkts) != 3 {
		t.Fatalf("got %d packets, want 3", len(pkts))
	}
	if pkts[2].Pos != 837 || pkts[2].PTS != 2304 {
		t.Errorf("last packet at %d pts %d, want 837 2304", pkts[2].Pos, pkts[2].PTS)
	}

	r, err := OpenReader(context.Background(), bytes.NewReader(file.Bytes()), Options{ProbeSize: 1024})
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	if _, ok := r.Duration(); ok {
		t.Error("stream input should have no duration")
	}
	if pkts := readAll(t, r); len(pkts) != 3 {
		t.Errorf("got %d packets, want 3", len(pkts))
	}
}

func TestParseMP3Header(t *testing.T) {
	tests := []struct {
		name                          string
		b                             []byte
		ok                            bool
		size, rate, samples, channels int
	}{
		{"mpeg1", []byte{0xFF, 0xFB, 0x90, 0x00}, true, 417, 44100, 1152, 2},
		{"mpeg1 padded mono", []byte{0xFF, 0xFB, 0x92, 0xC0}, true, 418, 44100, 1152, 1},
		{"mpeg2", []byte{0xFF, 0xF3, 0x80, 0x00}, true, 208, 22050, 576, 2},
		{"mpeg2.5", []byte{0xFF, 0xE3, 0x80, 0x00}, true, 417, 11025, 576, 2},
		{"bad bitrate", []byte{0xFF, 0xFB, 0xF0, 0x00}, false, 0, 0, 0, 0},
		{"bad rate", []byte{0xFF, 0xFB, 0x9C, 0x00}, false, 0, 0, 0, 0},
		{"layer 2", []byte{0xFF, 0xFD, 0x90, 0x00}, false, 0, 0, 0, 0},
		{"reserved version", []byte{0xFF, 0xEB, 0x90, 0x00}, false, 0, 0, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, ok := parseMP3Header(tt.b)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if !ok {
				return
			}
			if h.size != tt.size || h.rate != tt.rate || h.samples != tt.samples || h.channels != tt.channels {
				t.Errorf("header = %+v", h)
			}
		})
	}
}

func TestParseID3v2(t *testing.T) {
	long := bytes.Repeat([]byte("a"), 200)
	tag := buildID3(4,
		id3Frame(4, "TIT2", append([]byte{3}, long...)),
		id3Frame(4, "TDRC", []byte("\x032024")),
		id3Frame(4, "TCON", []byte("\x03Jazz\x00Blues")),
		id3Frame(4, "TXXX", []byte("\x03REPLAYGAIN_TRACK_GAIN\x00-6.2 dB")),
		id3Frame(4, "COMM", []byte("\x00eng\x00nice")),
	)
	// An encrypted frame is skipped.
	enc := id3Frame(4, "TPE1", []byte("\x00Hidden"))
	enc[9] = 0x04
	tag = buildID3(4, tag[id3HeaderSize:], enc)

	md := Metadata{}
	if pics := parseID3v2(tag, md); len(pics) != 0 {
		t.Errorf("got %d pictures", len(pics))
	}
	want := Metadata{
		"title":                 string(long),
		"date":                  "2024",
		"genre":                 "Jazz;Blues",
		"replaygain_track_gain": "-6.2 dB",
		"comment":               "nice",
	}
	if len(md) != len(want) {
		t.Errorf("metadata = %v", md)
	}
	for k, v := range want {
		if md[k] != v {
			t.Errorf("metadata[%s] = %q, want %q", k, md[k], v)
		}
	}
}

func TestParseID3v22Picture(t *testing.T) {
	jpeg := []byte{0xFF, 0xD8, 0xFF, 0xE0, 1, 2}
	frame := func(id string, body []byte) []byte {
		n := len(body)
		return append([]byte{id[0], id[1], id[2], byte(n >> 16), byte(n >> 8), byte(n)}, body...)
	}
	tag := buildID3(2,
		frame("TT2", []byte("\x00Old")),
		frame("PIC", append([]byte("\x00JPG\x04\x00"), jpeg...)),
	)
	md := Metadata{}
	pics := parseID3v2(tag, md)
	if md["title"] != "Old" {
		t.Errorf("title = %q, want Old", md["title"])
	}
	if len(pics) != 1 {
		t.Fatalf("got %d pictures, want 1", len(pics))
	}
	if p := pics[0]; p.codec() != CodecMJPEG || p.typeName() != "Cover (back)" || !bytes.Equal(p.data, jpeg) {
		t.Errorf("picture = %+v", p)
	}
}

func TestID3Text(t *testing.T) {
	tests := []struct {
		enc  byte
		b    string
		want string
	}{
		{0, "caf\xe9", "café"},
		{1, "\xff\xfeh\x00i\x00", "hi"},
		{1, "\xfe\xff\x00h\x00i", "hi"},
		{2, "\x00h\x00i\x00\x00", "hi"},
		{3, "über\x00", "über"},
	}
	for _, tt := range tests {
		if got := id3Text(tt.enc, []byte(tt.b)); got != tt.want {
			t.Errorf("id3Text(%d, %q) = %q, want %q", tt.enc, tt.b, got, tt.want)
		}
	}
}

func TestUnsync(t *testing.T) {
	got := unsync([]byte{0xFF, 0x00, 0xE0, 0x01, 0xFF, 0x00, 0x00})
	if want := []byte{0xFF, 0xE0, 0x01, 0xFF, 0x00}; !bytes.Equal(got, want) {
		t.Errorf("unsync = %x, want %x", got, want)
	}
}
