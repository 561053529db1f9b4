package av

import (
	"bytes"
	"strconv"
	"strings"
)

const (
	y4mMagic      = "YUV4MPEG2 "
	y4mFrameMagic = "FRAME"
	y4mMaxHeader  = 1024
)

var y4mColorspaces = map[string]PixelFormat{
	"420":      PixelFormatI420,
	"420jpeg":  PixelFormatI420,
	"420mpeg2": PixelFormatI420,
	"420paldv": PixelFormatI420,
	"mono":     PixelFormatGray8,
}

// y4mDemuxer reads YUV4MPEG2 raw video. Frame headers are assumed to carry
// no parameters when seeking, which is what every common writer produces.
type y4mDemuxer struct {
	dataStart int64
	frameSize int
	frames    int64
}

func probeY4M(b []byte) int {
	if bytes.HasPrefix(b, []byte(y4mMagic)) {
		return 100
	}
	return 0
}

func (d *y4mDemuxer) readHeader(fc *formatContext) int32 {
	src := fc.src
	b, ret := src.peek(y4mMaxHeader)
	if ret < 0 && ret != NativeEndOfStream {
		return ret
	}
	end := bytes.IndexByte(b, '\n')
	if end < 0 || probeY4M(b) == 0 {
		return NativeInvalidData
	}
	header := string(b[len(y4mMagic):end])
	src.discard(end + 1)

	var (
		width, height int
		rate          = TimeBase{25, 1}
		pixfmt        = PixelFormatI420
	)
	st := &Stream{Type: MediaTypeVideo, Codec: CodecRawVideo, Disposition: DispositionDefault, Metadata: Metadata{}}
	for _, tok := range strings.Fields(header) {
		val := tok[1:]
		switch tok[0] {
		case 'W':
			width, _ = strconv.Atoi(val)
		case 'H':
			height, _ = strconv.Atoi(val)
		case 'F':
			if num, den, ok := parseRatio(val); ok && num > 0 && den > 0 {
				rate = TimeBase{num, den}
			}
		case 'C':
			pf, ok := y4mColorspaces[val]
			if !ok {
				fc.log.Warn().Str("colorspace", val).Msg("unsupported y4m colorspace")
				return NativeInvalidData
			}
			pixfmt = pf
		case 'I':
			if val != "p" && val != "?" {
				fc.log.Debug().Str("interlacing", val).Msg("interlaced y4m read as progressive")
			}
		case 'X':
			if k, v, ok := strings.Cut(val, "="); ok {
				st.Metadata[strings.ToLower(k)] = v
			}
		}
	}
	if width <= 0 || height <= 0 {
		return NativeInvalidData
	}

	st.TimeBase = rate.Invert()
	st.Params = CodecParameters{
		Width:       width,
		Height:      height,
		PixelFormat: pixfmt,
		FrameRate:   rate,
	}
	fc.addStream(st)
	st.StartTime = 0

	d.dataStart = src.pos()
	d.frameSize = pixfmt.ImageSize(width, height)
	if src.size > 0 {
		st.Duration = (src.size - d.dataStart) / int64(len(y4mFrameMagic)+1+d.frameSize)
		fc.duration = Rescale(st.Duration, st.TimeBase, TimeBaseMicroseconds)
	}
	return 0
}

func parseRatio(s string) (int64, int64, bool) {
	a, b, ok := strings.Cut(s, ":")
	if !ok {
		return 0, 0, false
	}
	num, err1 := strconv.ParseInt(a, 10, 64)
	den, err2 := strconv.ParseInt(b, 10, 64)
	return num, den, err1 == nil && err2 == nil
}

func (d *y4mDemuxer) readPacket(fc *formatContext) (*Packet, int32) {
	src := fc.src
	pos := src.pos()
	b, ret := src.peek(y4mMaxHeader)
	if ret == NativeEndOfStream && len(b) == 0 {
		return nil, NativeEndOfStream
	}
	if ret < 0 && ret != NativeEndOfStream {
		return nil, ret
	}
	end := bytes.IndexByte(b, '\n')
	if end < 0 {
		if ret == NativeEndOfStream {
			return nil, NativeEndOfStream
		}
		return nil, NativeInvalidData
	}
	if !bytes.HasPrefix(b, []byte(y4mFrameMagic)) {
		return nil, NativeInvalidData
	}

	total := end + 1 + d.frameSize
	b, ret = src.peek(total)
	if ret == NativeEndOfStream {
		// Truncated last frame.
		return nil, NativeEndOfStream
	}
	if ret < 0 {
		return nil, ret
	}

	pkt := &Packet{
		Data:     append([]byte(nil), b[end+1:]...),
		PTS:      d.frames,
		DTS:      d.frames,
		Duration: 1,
		Keyframe: true,
		Pos:      pos,
	}
	src.discard(total)
	d.frames++
	return pkt, 0
}

func (d *y4mDemuxer) seek(fc *formatContext, _ int, ts int64) int32 {
	if !fc.src.seekable() {
		return NativeInvalidData
	}
	if ts < 0 {
		ts = 0
	}
	if st := fc.streams[0]; st.Duration != NoPTS && ts > st.Duration {
		ts = st.Duration
	}
	if ret := fc.src.seek(d.dataStart + ts*int64(len(y4mFrameMagic)+1+d.frameSize)); ret < 0 {
		return ret
	}
	d.frames = ts
	return 0
}

func (d *y4mDemuxer) close() {}

func init() {
	registerFormat(&inputFormat{
		name:  "yuv4mpegpipe",
		long:  "YUV4MPEG pipe",
		exts:  []string{"y4m"},
		probe: probeY4M,
		open:  func() demuxer { return &y4mDemuxer{} },
	})
}
