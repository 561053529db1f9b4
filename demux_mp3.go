package av

import (
	"bytes"
	"encoding/binary"
	"image"
	_ "image/jpeg"
	_ "image/png"
)

// mp3MaxResync bounds the bytes skipped looking for a frame header.
const mp3MaxResync = 64 << 10

var (
	mp3Bitrates    = [16]int{0, 32, 40, 48, 56, 64, 80, 96, 112, 128, 160, 192, 224, 256, 320}
	mp3BitratesLSF = [16]int{0, 8, 16, 24, 32, 40, 48, 56, 64, 80, 96, 112, 128, 144, 160}
	mp3SampleRates = [3]int{44100, 48000, 32000}
)

// mp3Header is a decoded MPEG audio Layer III frame header.
type mp3Header struct {
	lsf      bool // MPEG-2 or MPEG-2.5
	bitrate  int  // bits per second
	rate     int
	channels int
	size     int // frame length including the header
	samples  int
}

func parseMP3Header(b []byte) (mp3Header, bool) {
	var h mp3Header
	if !isMP3Frame(b) {
		return h, false
	}
	version := b[1] >> 3 & 3 // 0 MPEG-2.5, 1 reserved, 2 MPEG-2, 3 MPEG-1
	bi, si := b[2]>>4, b[2]>>2&3
	if version == 1 || bi == 0 || bi == 15 || si == 3 {
		return h, false
	}
	pad := int(b[2] >> 1 & 1)

	h.rate = mp3SampleRates[si]
	h.lsf = version != 3
	switch version {
	case 2:
		h.rate /= 2
	case 0:
		h.rate /= 4
	}
	if h.lsf {
		h.bitrate = mp3BitratesLSF[bi] * 1000
		h.size = 72*h.bitrate/h.rate + pad
		h.samples = 576
	} else {
		h.bitrate = mp3Bitrates[bi] * 1000
		h.size = 144*h.bitrate/h.rate + pad
		h.samples = 1152
	}
	h.channels = 2
	if b[3]>>6 == 3 {
		h.channels = 1
	}
	return h, true
}

// infoFrames checks whether frame is a Xing, Info or VBRI header rather than
// audio. frames is the stream length it declares, or -1 if it has none.
func (h mp3Header) infoFrames(frame []byte) (frames int64, ok bool) {
	side := 32
	switch {
	case h.lsf && h.channels == 1:
		side = 9
	case h.lsf || h.channels == 1:
		side = 17
	}
	if off := 4 + side; len(frame) >= off+8 {
		if tag := string(frame[off : off+4]); tag == "Xing" || tag == "Info" {
			if binary.BigEndian.Uint32(frame[off+4:])&1 != 0 && len(frame) >= off+12 {
				return int64(binary.BigEndian.Uint32(frame[off+8:])), true
			}
			return -1, true
		}
	}
	if len(frame) >= 36+18 && string(frame[36:40]) == "VBRI" {
		return int64(binary.BigEndian.Uint32(frame[36+14:])), true
	}
	return 0, false
}

// mp3Demuxer reads MPEG audio Layer III elementary streams with optional
// ID3v2 and ID3v1 tags. Pictures in the ID3v2 tag become attached picture
// streams whose only packet is queued before the audio.
type mp3Demuxer struct {
	audio     int
	dataStart int64
	samples   int64
	locked    bool // the last packet ended on a frame boundary
}

func probeMP3(b []byte) int {
	if id3TagSize(b) > 0 {
		return 50
	}
	h, ok := parseMP3Header(b)
	if !ok {
		return 0
	}
	if len(b) < h.size+4 {
		return 25
	}
	if _, ok := parseMP3Header(b[h.size:]); ok {
		return 75
	}
	return 0
}

func (d *mp3Demuxer) readHeader(fc *formatContext) int32 {
	src := fc.src
	var pics []id3Picture
	b, ret := src.peek(id3HeaderSize)
	if ret < 0 {
		return invalidOnEOF(ret)
	}
	if n := id3TagSize(b); n > 0 {
		tag, ret := src.read(n)
		if ret < 0 {
			return invalidOnEOF(ret)
		}
		pics = parseID3v2(tag, fc.metadata)
	}

	h, ret := d.sync(fc)
	if ret < 0 {
		return invalidOnEOF(ret)
	}
	frame, _ := src.peek(h.size)
	frames, info := h.infoFrames(frame)
	if info {
		src.discard(h.size)
	}
	d.dataStart = src.pos()

	st := fc.addStream(&Stream{
		Type:        MediaTypeAudio,
		Codec:       CodecMP3,
		TimeBase:    TimeBase{1, int64(h.rate)},
		Disposition: DispositionDefault,
		Params: CodecParameters{
			SampleRate:   h.rate,
			Layout:       DefaultChannelLayout(h.channels),
			SampleFormat: SampleFormatS16,
			BitRate:      int64(h.bitrate),
		},
	})
	d.audio = st.Index
	st.StartTime = 0

	end := src.size
	if end > 0 && src.seekable() {
		end -= d.readTrailer(fc)
	}
	switch {
	case frames > 0:
		st.Duration = frames * int64(h.samples)
	case !info && end > d.dataStart:
		// Constant bitrate estimate.
		st.Duration = (end - d.dataStart) * 8 * int64(h.rate) / int64(h.bitrate)
	}
	if st.Duration != NoPTS {
		fc.duration = Rescale(st.Duration, st.TimeBase, TimeBaseMicroseconds)
	}

	for _, p := range pics {
		d.addPicture(fc, p)
	}
	return 0
}

// readTrailer parses an ID3v1 tag at the end of a seekable input and returns
// its size, leaving the source at dataStart.
func (d *mp3Demuxer) readTrailer(fc *formatContext) int64 {
	src := fc.src
	if src.size-d.dataStart < id3v1Size || src.seek(src.size-id3v1Size) < 0 {
		return 0
	}
	b, ret := src.read(id3v1Size)
	if src.seek(d.dataStart) < 0 || ret < 0 || string(b[:3]) != "TAG" {
		return 0
	}
	parseID3v1(b, fc.metadata)
	return id3v1Size
}

func (d *mp3Demuxer) addPicture(fc *formatContext, p id3Picture) {
	codec := p.codec()
	if codec == CodecUnknown {
		fc.log.Debug().Str("mime", p.mime).Msg("skipping id3 picture")
		return
	}
	st := fc.addStream(&Stream{
		Type:        MediaTypeVideo,
		Codec:       codec,
		TimeBase:    TimeBase{1, 90000},
		Disposition: DispositionAttachedPic,
	})
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(p.data)); err == nil {
		st.Params.Width, st.Params.Height = cfg.Width, cfg.Height
	}
	if p.desc != "" {
		st.Metadata["title"] = p.desc
	}
	st.Metadata["comment"] = p.typeName()
	fc.enqueue(&Packet{
		Data:        p.data,
		StreamIndex: st.Index,
		PTS:         0,
		DTS:         0,
		Keyframe:    true,
		Pos:         -1,
	})
}

// sync skips to the next frame header. Outside a locked stream a header only
// counts when another header, a trailing tag or the end of input follows it.
func (d *mp3Demuxer) sync(fc *formatContext) (mp3Header, int32) {
	src := fc.src
	for skipped := 0; skipped < mp3MaxResync; skipped++ {
		b, ret := src.peek(4)
		if ret < 0 {
			return mp3Header{}, ret
		}
		if string(b[:3]) == "TAG" {
			if t, ret := src.peek(id3v1Size + 1); ret == NativeEndOfStream && len(t) == id3v1Size {
				return mp3Header{}, NativeEndOfStream
			} else if ret < 0 && ret != NativeEndOfStream {
				return mp3Header{}, ret
			}
		}
		if h, ok := parseMP3Header(b); ok {
			next, ret := src.peek(h.size + 4)
			switch {
			case ret == NativeEndOfStream:
				if len(next) >= h.size {
					return h, 0
				}
				// Truncated last frame.
				return mp3Header{}, NativeEndOfStream
			case ret < 0:
				return mp3Header{}, ret
			}
			if (d.locked && skipped == 0) || mp3Follows(next[h.size:]) {
				return h, 0
			}
		}
		src.discard(1)
		d.locked = false
	}
	return mp3Header{}, NativeInvalidData
}

func mp3Follows(b []byte) bool {
	if _, ok := parseMP3Header(b); ok {
		return true
	}
	return bytes.HasPrefix(b, []byte("TAG")) || bytes.HasPrefix(b, []byte("APET"))
}

func (d *mp3Demuxer) readPacket(fc *formatContext) (*Packet, int32) {
	h, ret := d.sync(fc)
	if ret < 0 {
		return nil, ret
	}
	pos := fc.src.pos()
	data, ret := fc.src.read(h.size)
	if ret < 0 {
		return nil, ret
	}
	d.locked = true
	p := &Packet{
		Data:        data,
		StreamIndex: d.audio,
		PTS:         d.samples,
		DTS:         d.samples,
		Duration:    int64(h.samples),
		Keyframe:    true,
		Pos:         pos,
	}
	d.samples += int64(h.samples)
	return p, 0
}

func (d *mp3Demuxer) rewind(fc *formatContext) int32 {
	if ret := fc.src.seek(d.dataStart); ret < 0 {
		return ret
	}
	d.samples, d.locked = 0, false
	return 0
}

func (d *mp3Demuxer) close() {}

func init() {
	registerFormat(&inputFormat{
		name:  "mp3",
		long:  "MP3 (MPEG audio layer 3)",
		exts:  []string{"mp3"},
		probe: probeMP3,
		open:  func() demuxer { return &mp3Demuxer{} },
	})
}
