package av

const (
	annexBWindow    = 64 * 1024
	annexBMaxAU     = 16 << 20
	annexBFrameRate = 25
)

// annexBDemuxer splits a raw H.264 elementary stream into access units.
// The stream carries no timestamps: DTS counts access units at the frame rate
// signalled in the SPS, or 25 fps.
type annexBDemuxer struct {
	count int64
}

func probeAnnexB(b []byte) int {
	if len(b) < 5 || !isAnnexBStartCode(b) {
		return 0
	}
	sps, pps, slices := 0, 0, 0
	for _, nalu := range splitAnnexB(b) {
		if nalu[0]&0x80 != 0 {
			return 0
		}
		switch nalu[0] & 0x1f {
		case nalTypeSPS:
			sps++
		case nalTypePPS:
			pps++
		case nalTypeSlice, nalTypeIDR:
			slices++
		}
	}
	if sps > 0 && pps > 0 {
		return 60
	}
	if sps > 0 || slices > 0 {
		return 20
	}
	return 0
}

func (d *annexBDemuxer) readHeader(fc *formatContext) int32 {
	b, ret := fc.src.peek(annexBWindow)
	if ret < 0 && ret != NativeEndOfStream {
		return ret
	}
	if !isAnnexBStartCode(b) {
		return NativeInvalidData
	}

	st := fc.addStream(&Stream{
		Type:        MediaTypeVideo,
		Codec:       CodecH264,
		Disposition: DispositionDefault,
		Params:      CodecParameters{PixelFormat: PixelFormatI420},
	})
	applySPS(st, b)
	rate := st.Params.FrameRate
	if !rate.Valid() {
		rate = TimeBase{annexBFrameRate, 1}
		st.Params.FrameRate = rate
	}
	st.TimeBase = rate.Invert()
	st.StartTime = 0
	return 0
}

// auEnd returns the offset where the access unit at the start of b ends, or
// -1 when b holds no complete access unit yet.
func auEnd(b []byte) int {
	seenVCL := false
	for i := 0; i+3 < len(b); i++ {
		if b[i] != 0 || b[i+1] != 0 || b[i+2] != 1 {
			continue
		}
		start := i
		if start > 0 && b[start-1] == 0 {
			start--
		}
		typ := b[i+3] & 0x1f
		vcl := typ == nalTypeSlice || typ == nalTypeIDR
		if seenVCL {
			switch {
			case typ == nalTypeAUD, typ == nalTypeSPS, typ == nalTypePPS, typ == nalTypeSEI,
				typ >= nalTypePrefix && typ <= nalTypeReserved:
				return start
			case vcl:
				// first_mb_in_slice == 0 starts a new picture.
				if i+4 >= len(b) {
					return -1
				}
				if b[i+4]&0x80 != 0 {
					return start
				}
			}
		}
		if vcl {
			seenVCL = true
		}
		i += 2
	}
	return -1
}

func (d *annexBDemuxer) readPacket(fc *formatContext) (*Packet, int32) {
	src := fc.src
	pos := src.pos()
	for n := annexBWindow; ; n *= 2 {
		b, ret := src.peek(n)
		atEOF := ret == NativeEndOfStream
		if ret < 0 && !atEOF {
			return nil, ret
		}
		end := auEnd(b)
		if end < 0 && atEOF {
			end = len(b)
		}
		if end == 0 {
			return nil, NativeEndOfStream
		}
		if end < 0 {
			if n >= annexBMaxAU {
				return nil, NativeInvalidData
			}
			continue
		}

		pkt := &Packet{
			Data:     append([]byte(nil), b[:end]...),
			PTS:      NoPTS,
			DTS:      d.count,
			Duration: 1,
			Pos:      pos,
		}
		pkt.Keyframe = h264Keyframe(pkt.Data)
		src.discard(end)
		d.count++
		return pkt, 0
	}
}

func (d *annexBDemuxer) rewind(fc *formatContext) int32 {
	d.count = 0
	return fc.src.seek(0)
}

func (d *annexBDemuxer) close() {}

func init() {
	registerFormat(&inputFormat{
		name:  "h264",
		long:  "raw H.264 video",
		exts:  []string{"h264", "264", "avc"},
		probe: probeAnnexB,
		open:  func() demuxer { return &annexBDemuxer{} },
	})
}
