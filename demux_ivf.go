package av

import (
	"encoding/binary"
	"strconv"

	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
)

const (
	ivfFileHeaderSize  = 32
	ivfFrameHeaderSize = 12
	ivfMaxFrame        = 64 << 20
)

var ivfCodecs = map[string]CodecID{
	"VP80": CodecVP8,
	"VP90": CodecVP9,
	"AV01": CodecAV1,
}

// ivfDemuxer reads IVF files, the simple container libvpx and libaom write
// VP8, VP9 and AV1 into. Headers are parsed by pion's ivfreader.
type ivfDemuxer struct {
	r     *ivfreader.IVFReader
	codec CodecID
}

func probeIVF(b []byte) int {
	if len(b) >= 4 && string(b[:4]) == "DKIF" {
		return 100
	}
	return 0
}

func (d *ivfDemuxer) open(fc *formatContext) (*ivfreader.IVFFileHeader, int32) {
	if _, ret := fc.src.peek(ivfFileHeaderSize); ret < 0 {
		if ret == NativeEndOfStream {
			return nil, NativeInvalidData
		}
		return nil, ret
	}
	r, h, err := ivfreader.NewWith(&sourceReader{src: fc.src})
	if err != nil {
		fc.log.Debug().Err(err).Msg("ivf header")
		return nil, NativeInvalidData
	}
	d.r = r
	return h, 0
}

func (d *ivfDemuxer) readHeader(fc *formatContext) int32 {
	h, ret := d.open(fc)
	if ret < 0 {
		return ret
	}
	codec, ok := ivfCodecs[h.FourCC]
	if !ok {
		fc.log.Warn().Str("fourcc", h.FourCC).Msg("unsupported ivf codec")
	}
	d.codec = codec

	tb := TimeBase{int64(h.TimebaseNumerator), int64(h.TimebaseDenominator)}
	if !tb.Valid() {
		tb = TimeBase{1, 30}
	}
	st := fc.addStream(&Stream{
		Type:        MediaTypeVideo,
		Codec:       codec,
		TimeBase:    tb,
		Disposition: DispositionDefault,
		Params: CodecParameters{
			Width:       int(h.Width),
			Height:      int(h.Height),
			PixelFormat: PixelFormatI420,
			FrameRate:   tb.Invert(),
		},
	})
	st.StartTime = 0
	st.Metadata["fourcc"] = h.FourCC
	if h.NumFrames > 0 {
		st.Metadata["frames"] = strconv.FormatUint(uint64(h.NumFrames), 10)
	}
	return 0
}

func (d *ivfDemuxer) readPacket(fc *formatContext) (*Packet, int32) {
	src := fc.src
	pos := src.pos()
	b, ret := src.peek(ivfFrameHeaderSize)
	if ret < 0 {
		if ret == NativeEndOfStream && len(b) > 0 {
			fc.log.Debug().Int("bytes", len(b)).Msg("truncated ivf frame header")
		}
		return nil, ret
	}
	size := int(binary.LittleEndian.Uint32(b))
	if size > ivfMaxFrame {
		return nil, NativeInvalidData
	}
	if _, ret = src.peek(ivfFrameHeaderSize + size); ret < 0 {
		// A truncated last frame ends the input.
		return nil, ret
	}

	data, h, err := d.r.ParseNextFrame()
	if err != nil {
		return nil, readerResult(err)
	}
	ts := int64(h.Timestamp)
	return &Packet{
		Data:     data,
		PTS:      ts,
		DTS:      ts,
		Keyframe: isKeyframe(d.codec, data),
		Pos:      pos,
	}, 0
}

func (d *ivfDemuxer) rewind(fc *formatContext) int32 {
	if ret := fc.src.seek(0); ret < 0 {
		return ret
	}
	_, ret := d.open(fc)
	return ret
}

func (d *ivfDemuxer) close() {}

// isKeyframe inspects the uncompressed header of a VP8 or VP9 frame, or
// looks for a sequence header in an AV1 temporal unit.
func isKeyframe(codec CodecID, b []byte) bool {
	if len(b) == 0 {
		return false
	}
	switch codec {
	case CodecVP8:
		return b[0]&0x01 == 0
	case CodecVP9:
		return vp9Keyframe(b[0])
	case CodecAV1:
		return av1HasSequenceHeader(b)
	}
	return true
}

// vp9Keyframe reads frame_marker, profile, show_existing_frame and frame_type
// from the first byte of a VP9 frame.
func vp9Keyframe(b byte) bool {
	if b>>6 != 2 {
		return false
	}
	profile := (b>>5)&1 | (b>>4)&1<<1
	bit := 4
	if profile == 3 {
		bit++
	}
	showExisting := b >> (7 - bit) & 1
	frameType := b >> (6 - bit) & 1
	return showExisting == 0 && frameType == 0
}

func av1HasSequenceHeader(b []byte) bool {
	for len(b) > 0 {
		header := b[0]
		if av1OBUType(header) == av1OBUSequenceHeader {
			return true
		}
		n := 1
		if header&0x04 != 0 {
			n++
		}
		if header&0x02 == 0 || len(b) < n {
			return false
		}
		size, m := av1ReadLEB128(b[n:])
		if m == 0 || uint64(len(b)-n-m) < size {
			return false
		}
		b = b[n+m+int(size):]
	}
	return false
}

func init() {
	registerFormat(&inputFormat{
		name:  "ivf",
		long:  "On2 IVF",
		exts:  []string{"ivf"},
		probe: probeIVF,
		open:  func() demuxer { return &ivfDemuxer{} },
	})
}
