package av

import (
	"bytes"
	"encoding/binary"
	"strings"
)

// WAVE format tags.
const (
	wavFormatPCM        = 0x0001
	wavFormatFloat      = 0x0003
	wavFormatALaw       = 0x0006
	wavFormatMuLaw      = 0x0007
	wavFormatExtensible = 0xFFFE
)

// wavSamplesPerPacket bounds the packet size of WAV input.
const wavSamplesPerPacket = 1024

var wavInfoTags = map[string]string{
	"INAM": "title",
	"IART": "artist",
	"IPRD": "album",
	"ICMT": "comment",
	"ICRD": "date",
	"IGNR": "genre",
	"ICOP": "copyright",
	"ISFT": "encoder",
	"ITRK": "track",
}

type wavDemuxer struct {
	dataStart int64
	dataEnd   int64 // -1 when the data chunk runs to end of input
	block     int
	rate      int
}

func probeWAV(b []byte) int {
	if len(b) >= 12 && string(b[0:4]) == "RIFF" && string(b[8:12]) == "WAVE" {
		return 100
	}
	return 0
}

func (d *wavDemuxer) readHeader(fc *formatContext) int32 {
	src := fc.src
	hdr, ret := src.read(12)
	if ret < 0 {
		return invalidOnEOF(ret)
	}
	if probeWAV(hdr) == 0 {
		return NativeInvalidData
	}

	var st *Stream
	for {
		ch, ret := src.read(8)
		if ret < 0 {
			return invalidOnEOF(ret)
		}
		id := string(ch[0:4])
		size := int64(binary.LittleEndian.Uint32(ch[4:8]))

		switch id {
		case "fmt ":
			if size < 16 || size > 1<<16 {
				return NativeInvalidData
			}
			body, ret := src.read(int(size + size&1))
			if ret < 0 {
				return invalidOnEOF(ret)
			}
			if st, ret = d.parseFormat(fc, body[:size]); ret < 0 {
				return ret
			}
		case "LIST":
			if size > 1<<20 {
				return NativeInvalidData
			}
			body, ret := src.read(int(size + size&1))
			if ret < 0 {
				return invalidOnEOF(ret)
			}
			parseWAVInfo(body[:size], fc.metadata)
		case "data":
			if st == nil {
				return NativeInvalidData
			}
			d.dataStart = src.pos()
			d.dataEnd = -1
			if size != 0 && size != 0xFFFFFFFF {
				d.dataEnd = d.dataStart + size
				if src.size >= 0 && d.dataEnd > src.size {
					d.dataEnd = src.size
				}
			}
			d.setDuration(fc, st)
			return 0
		default:
			if ret := src.skip(size + size&1); ret < 0 {
				return invalidOnEOF(ret)
			}
		}
	}
}

func (d *wavDemuxer) parseFormat(fc *formatContext, b []byte) (*Stream, int32) {
	tag := binary.LittleEndian.Uint16(b[0:])
	channels := int(binary.LittleEndian.Uint16(b[2:]))
	rate := int(binary.LittleEndian.Uint32(b[4:]))
	block := int(binary.LittleEndian.Uint16(b[12:]))
	bits := int(binary.LittleEndian.Uint16(b[14:]))
	if tag == wavFormatExtensible && len(b) >= 26 {
		// The sub format GUID starts with the plain format tag.
		tag = binary.LittleEndian.Uint16(b[24:])
	}
	if channels <= 0 || rate <= 0 || block <= 0 {
		return nil, NativeInvalidData
	}

	codec := CodecUnknown
	switch tag {
	case wavFormatPCM:
		switch bits {
		case 8:
			codec = CodecPCMU8
		case 16:
			codec = CodecPCMS16LE
		case 24:
			codec = CodecPCMS24LE
		case 32:
			codec = CodecPCMS32LE
		}
	case wavFormatFloat:
		switch bits {
		case 32:
			codec = CodecPCMF32LE
		case 64:
			codec = CodecPCMF64LE
		}
	case wavFormatALaw:
		codec = CodecPCMALaw
	case wavFormatMuLaw:
		codec = CodecPCMMuLaw
	}
	if codec == CodecUnknown {
		fc.log.Warn().Uint16("format_tag", tag).Int("bits", bits).Msg("unsupported wav format")
	}

	d.block, d.rate = block, rate
	st := fc.addStream(&Stream{
		Type:        MediaTypeAudio,
		Codec:       codec,
		TimeBase:    TimeBase{1, int64(rate)},
		Disposition: DispositionDefault,
		Params: CodecParameters{
			SampleRate:    rate,
			Layout:        DefaultChannelLayout(channels),
			BlockAlign:    block,
			BitsPerSample: bits,
			BitRate:       int64(rate) * int64(block) * 8,
		},
	})
	if out, ok := pcmOutputFormat[codec]; ok {
		st.Params.SampleFormat = out
	}
	st.StartTime = 0
	return st, 0
}

func (d *wavDemuxer) setDuration(fc *formatContext, st *Stream) {
	if d.dataEnd < 0 {
		return
	}
	st.Duration = (d.dataEnd - d.dataStart) / int64(d.block)
	fc.duration = Rescale(st.Duration, st.TimeBase, TimeBaseMicroseconds)
}

func parseWAVInfo(b []byte, md Metadata) {
	if len(b) < 4 || string(b[0:4]) != "INFO" {
		return
	}
	b = b[4:]
	for len(b) >= 8 {
		id := string(b[0:4])
		size := int(binary.LittleEndian.Uint32(b[4:8]))
		b = b[8:]
		if size > len(b) {
			return
		}
		value := string(bytes.TrimRight(b[:size], "\x00"))
		if key, ok := wavInfoTags[id]; ok && value != "" {
			md[key] = strings.TrimSpace(value)
		}
		b = b[min(size+size&1, len(b)):]
	}
}

func (d *wavDemuxer) readPacket(fc *formatContext) (*Packet, int32) {
	src := fc.src
	pos := src.pos()
	want := d.block * wavSamplesPerPacket
	if d.dataEnd >= 0 {
		if left := d.dataEnd - pos; left < int64(want) {
			want = int(left)
		}
	}
	want -= want % d.block
	if want <= 0 {
		return nil, NativeEndOfStream
	}

	b, ret := src.peek(want)
	if ret == NativeEndOfStream {
		b = b[:len(b)-len(b)%d.block]
		if len(b) == 0 {
			return nil, NativeEndOfStream
		}
	} else if ret < 0 {
		return nil, ret
	}

	pkt := &Packet{
		Data:     append([]byte(nil), b...),
		PTS:      (pos - d.dataStart) / int64(d.block),
		Duration: int64(len(b) / d.block),
		Keyframe: true,
		Pos:      pos,
	}
	pkt.DTS = pkt.PTS
	src.discard(len(b))
	return pkt, 0
}

// seek positions at sample ts; every sample is a keyframe.
func (d *wavDemuxer) seek(fc *formatContext, _ int, ts int64) int32 {
	if !fc.src.seekable() {
		return NativeInvalidData
	}
	if ts < 0 {
		ts = 0
	}
	off := d.dataStart + ts*int64(d.block)
	if d.dataEnd >= 0 && off > d.dataEnd {
		off = d.dataEnd
	}
	return fc.src.seek(off)
}

func (d *wavDemuxer) close() {}

// invalidOnEOF reports a truncated header as invalid data.
func invalidOnEOF(ret int32) int32 {
	if ret == NativeEndOfStream {
		return NativeInvalidData
	}
	return ret
}

func init() {
	registerFormat(&inputFormat{
		name:  "wav",
		long:  "WAV / WAVE (Waveform Audio)",
		exts:  []string{"wav", "wave"},
		probe: probeWAV,
		open:  func() demuxer { return &wavDemuxer{} },
	})
}
