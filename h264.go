package av

import (
	"container/heap"
	"encoding/binary"
	"errors"
)

// H.264 NAL unit types
const (
	nalTypeSlice    = 1
	nalTypeIDR      = 5
	nalTypeSEI      = 6
	nalTypeSPS      = 7
	nalTypePPS      = 8
	nalTypeAUD      = 9
	nalTypeSTAPA    = 24 // Single-time aggregation packet
	nalTypeFUA      = 28 // Fragmentation Unit A
	nalTypePrefix   = 14
	nalTypeReserved = 18
)

var errBadSPS = errors.New("h264: malformed SPS")

var annexBStartCode = []byte{0, 0, 0, 1}

// splitAnnexB splits Annex B data into NAL units without start codes.
// Annex B uses start codes: 0x00000001 or 0x000001
func splitAnnexB(data []byte) [][]byte {
	var nalUnits [][]byte
	start := -1

	for i := 0; i+2 < len(data); i++ {
		if data[i] != 0 || data[i+1] != 0 || data[i+2] != 1 {
			continue
		}
		if start >= 0 {
			end := i
			if end > start && data[end-1] == 0 {
				end-- // 4-byte start code
			}
			if end > start {
				nalUnits = append(nalUnits, data[start:end])
			}
		}
		start = i + 3
		i += 2
	}

	if start >= 0 && start < len(data) {
		nalUnits = append(nalUnits, data[start:])
	}
	return nalUnits
}

// joinAnnexB prefixes each NAL unit with a 4-byte start code.
func joinAnnexB(nalus ...[]byte) []byte {
	n := 0
	for _, nalu := range nalus {
		n += 4 + len(nalu)
	}
	out := make([]byte, 0, n)
	for _, nalu := range nalus {
		out = append(out, annexBStartCode...)
		out = append(out, nalu...)
	}
	return out
}

// avccToAnnexB converts length-prefixed NAL units to Annex B.
func avccToAnnexB(data []byte, lengthSize int) ([]byte, error) {
	if lengthSize < 1 || lengthSize > 4 {
		return nil, errors.New("h264: invalid NAL length size")
	}
	out := make([]byte, 0, len(data)+16)
	for len(data) > 0 {
		if len(data) < lengthSize {
			return nil, errors.New("h264: truncated NAL length")
		}
		var n int
		for i := 0; i < lengthSize; i++ {
			n = n<<8 | int(data[i])
		}
		data = data[lengthSize:]
		if n > len(data) {
			return nil, errors.New("h264: NAL length exceeds packet")
		}
		out = append(out, annexBStartCode...)
		out = append(out, data[:n]...)
		data = data[n:]
	}
	return out, nil
}

// avcConfig is a parsed AVCDecoderConfigurationRecord (ISO/IEC 14496-15).
type avcConfig struct {
	Profile    byte
	Level      byte
	LengthSize int
	SPS        [][]byte
	PPS        [][]byte
}

func parseAVCConfig(b []byte) (*avcConfig, error) {
	if len(b) < 7 || b[0] != 1 {
		return nil, errors.New("h264: invalid avcC record")
	}
	cfg := &avcConfig{
		Profile:    b[1],
		Level:      b[3],
		LengthSize: int(b[4]&0x03) + 1,
	}
	off := 6
	readSets := func(count int) ([][]byte, error) {
		var sets [][]byte
		for i := 0; i < count; i++ {
			if off+2 > len(b) {
				return nil, errors.New("h264: truncated avcC record")
			}
			n := int(binary.BigEndian.Uint16(b[off:]))
			off += 2
			if off+n > len(b) {
				return nil, errors.New("h264: truncated avcC record")
			}
			sets = append(sets, b[off:off+n])
			off += n
		}
		return sets, nil
	}

	var err error
	if cfg.SPS, err = readSets(int(b[5] & 0x1f)); err != nil {
		return nil, err
	}
	if off >= len(b) {
		return nil, errors.New("h264: truncated avcC record")
	}
	count := int(b[off])
	off++
	if cfg.PPS, err = readSets(count); err != nil {
		return nil, err
	}
	return cfg, nil
}

// AnnexB returns the parameter sets as Annex B, suitable as decoder extradata.
func (c *avcConfig) AnnexB() []byte {
	return joinAnnexB(append(append([][]byte{}, c.SPS...), c.PPS...)...)
}

// h264SPS holds the sequence parameter set fields used for stream setup.
type h264SPS struct {
	Profile      byte
	Level        byte
	Width        int
	Height       int
	MaxRefFrames int
	// ReorderDepth is max_num_reorder_frames when signalled, else derived
	// from the profile.
	ReorderDepth int
	FrameRate    TimeBase // zero when the VUI carries no timing info
}

// parseSPS parses a NAL unit of type 7, header byte included.
func parseSPS(nalu []byte) (*h264SPS, error) {
	if len(nalu) < 4 || nalu[0]&0x1f != nalTypeSPS {
		return nil, errBadSPS
	}
	r := &bitReader{data: unescapeRBSP(nalu[1:])}

	sps := &h264SPS{}
	sps.Profile = byte(r.bits(8))
	constraints := r.bits(8)
	sps.Level = byte(r.bits(8))
	r.ue() // seq_parameter_set_id

	chromaFormat := uint32(1)
	switch sps.Profile {
	case 100, 110, 122, 244, 44, 83, 86, 118, 128, 138, 139, 134, 135:
		chromaFormat = r.ue()
		if chromaFormat == 3 {
			r.bits(1) // separate_colour_plane_flag
		}
		r.ue()    // bit_depth_luma_minus8
		r.ue()    // bit_depth_chroma_minus8
		r.bits(1) // qpprime_y_zero_transform_bypass_flag
		if r.bits(1) == 1 {
			lists := 8
			if chromaFormat == 3 {
				lists = 12
			}
			for i := 0; i < lists; i++ {
				if r.bits(1) == 0 {
					continue
				}
				size := 16
				if i >= 6 {
					size = 64
				}
				last, next := int32(8), int32(8)
				for j := 0; j < size; j++ {
					if next != 0 {
						next = (last + r.se() + 256) % 256
					}
					if next != 0 {
						last = next
					}
				}
			}
		}
	}

	r.ue() // log2_max_frame_num_minus4
	switch r.ue() {
	case 0:
		r.ue() // log2_max_pic_order_cnt_lsb_minus4
	case 1:
		r.bits(1)
		r.se()
		r.se()
		n := r.ue()
		if n > 255 {
			return nil, errBadSPS
		}
		for i := uint32(0); i < n; i++ {
			r.se()
		}
	}
	sps.MaxRefFrames = int(r.ue())
	r.bits(1) // gaps_in_frame_num_value_allowed_flag
	widthMbs := r.ue() + 1
	heightMapUnits := r.ue() + 1
	frameMbsOnly := r.bits(1)
	if frameMbsOnly == 0 {
		r.bits(1) // mb_adaptive_frame_field_flag
	}
	r.bits(1) // direct_8x8_inference_flag

	var cropLeft, cropRight, cropTop, cropBottom uint32
	if r.bits(1) == 1 {
		cropLeft, cropRight, cropTop, cropBottom = r.ue(), r.ue(), r.ue(), r.ue()
	}

	cropX, cropY := uint32(1), 2-frameMbsOnly
	switch chromaFormat {
	case 1:
		cropX, cropY = 2, 2*(2-frameMbsOnly)
	case 2:
		cropX, cropY = 2, 2-frameMbsOnly
	}
	sps.Width = int(widthMbs*16 - cropX*(cropLeft+cropRight))
	sps.Height = int((2-frameMbsOnly)*heightMapUnits*16 - cropY*(cropTop+cropBottom))

	sps.ReorderDepth = defaultReorderDepth(sps.Profile, constraints, sps.MaxRefFrames)
	if r.bits(1) == 1 {
		parseVUI(r, sps)
	}
	if r.err {
		return nil, errBadSPS
	}
	if sps.Width <= 0 || sps.Height <= 0 {
		return nil, errBadSPS
	}
	return sps, nil
}

// defaultReorderDepth applies when the VUI has no bitstream restriction.
// Baseline and intra-only profiles cannot carry B-frames.
func defaultReorderDepth(profile byte, constraints uint32, refs int) int {
	intra := constraints&0x10 != 0 && (profile == 110 || profile == 122 || profile == 244)
	if profile == 66 || profile == 44 || intra {
		return 0
	}
	if refs > 16 {
		return 16
	}
	return refs
}

func parseVUI(r *bitReader, sps *h264SPS) {
	if r.bits(1) == 1 { // aspect_ratio_info_present_flag
		if r.bits(8) == 255 {
			r.bits(16)
			r.bits(16)
		}
	}
	if r.bits(1) == 1 { // overscan_info_present_flag
		r.bits(1)
	}
	if r.bits(1) == 1 { // video_signal_type_present_flag
		r.bits(4)
		if r.bits(1) == 1 {
			r.bits(24)
		}
	}
	if r.bits(1) == 1 { // chroma_loc_info_present_flag
		r.ue()
		r.ue()
	}
	if r.bits(1) == 1 { // timing_info_present_flag
		units := r.bits(32)
		scale := r.bits(32)
		r.bits(1)
		if units > 0 && scale > 0 {
			sps.FrameRate = TimeBase{Num: int64(scale), Den: 2 * int64(units)}
		}
	}
	nalHRD := r.bits(1) == 1
	if nalHRD {
		skipHRD(r)
	}
	vclHRD := r.bits(1) == 1
	if vclHRD {
		skipHRD(r)
	}
	if nalHRD || vclHRD {
		r.bits(1) // low_delay_hrd_flag
	}
	r.bits(1) // pic_struct_present_flag
	if r.bits(1) == 1 { // bitstream_restriction_flag
		r.bits(1)
		r.ue()
		r.ue()
		r.ue()
		r.ue()
		reorder := r.ue()
		r.ue()
		if !r.err && reorder <= 16 {
			sps.ReorderDepth = int(reorder)
		}
	}
}

func skipHRD(r *bitReader) {
	n := r.ue() + 1
	r.bits(8)
	for i := uint32(0); i < n && !r.err; i++ {
		r.ue()
		r.ue()
		r.bits(1)
	}
	r.bits(20)
}

// unescapeRBSP removes emulation prevention bytes (00 00 03).
func unescapeRBSP(b []byte) []byte {
	out := make([]byte, 0, len(b))
	zeros := 0
	for _, c := range b {
		if zeros >= 2 && c == 3 {
			zeros = 0
			continue
		}
		out = append(out, c)
		if c == 0 {
			zeros++
		} else {
			zeros = 0
		}
	}
	return out
}

// bitReader reads MSB-first bits and Exp-Golomb codes. Reading past the end
// sets err and yields zeros.
type bitReader struct {
	data []byte
	pos  int
	err  bool
}

func (r *bitReader) bits(n int) uint32 {
	var v uint32
	for i := 0; i < n; i++ {
		if r.pos >= len(r.data)*8 {
			r.err = true
			return 0
		}
		bit := (r.data[r.pos/8] >> (7 - uint(r.pos%8))) & 1
		v = v<<1 | uint32(bit)
		r.pos++
	}
	return v
}

func (r *bitReader) ue() uint32 {
	zeros := 0
	for r.bits(1) == 0 {
		if r.err || zeros >= 31 {
			r.err = true
			return 0
		}
		zeros++
	}
	return (1<<uint(zeros) - 1) + r.bits(zeros)
}

func (r *bitReader) se() int32 {
	v := r.ue()
	if v&1 == 1 {
		return int32((v + 1) / 2)
	}
	return -int32(v / 2)
}

// h264Keyframe reports whether an Annex B access unit contains an IDR slice.
func h264Keyframe(au []byte) bool {
	for _, nalu := range splitAnnexB(au) {
		if nalu[0]&0x1f == nalTypeIDR {
			return true
		}
	}
	return false
}

// h264ParameterSets extracts SPS and PPS NAL units from Annex B data.
func h264ParameterSets(au []byte) (sps, pps [][]byte) {
	for _, nalu := range splitAnnexB(au) {
		switch nalu[0] & 0x1f {
		case nalTypeSPS:
			sps = append(sps, nalu)
		case nalTypePPS:
			pps = append(pps, nalu)
		}
	}
	return sps, pps
}

// applySPS fills stream parameters from the first parseable SPS in au and
// stores the parameter sets as extradata. It reports whether an SPS was found.
func applySPS(s *Stream, au []byte) bool {
	spsList, ppsList := h264ParameterSets(au)
	for _, nalu := range spsList {
		sps, err := parseSPS(nalu)
		if err != nil {
			continue
		}
		s.Params.Width = sps.Width
		s.Params.Height = sps.Height
		s.Params.PixelFormat = PixelFormatI420
		if sps.FrameRate.Valid() {
			s.Params.FrameRate = sps.FrameRate
		}
		s.ReorderDepth = sps.ReorderDepth
		s.Params.Extradata = joinAnnexB(append(append([][]byte{}, spsList...), ppsList...)...)
		return true
	}
	return false
}

// pendingPicture is the timing of a packet whose picture has not been output.
type pendingPicture struct {
	pts      int64
	duration int64
	keyframe bool
	seq      uint64
}

// pendingPictures is a min-heap of pending packets ordered by timestamp, then
// by arrival. Decoders that reorder output attach the earliest entry to each
// picture they emit.
type pendingPictures struct {
	items []pendingPicture
	seq   uint64
}

func (p *pendingPictures) Len() int { return len(p.items) }
func (p *pendingPictures) Less(i, j int) bool {
	a, b := p.items[i], p.items[j]
	if a.pts != b.pts {
		return a.pts < b.pts
	}
	return a.seq < b.seq
}
func (p *pendingPictures) Swap(i, j int) { p.items[i], p.items[j] = p.items[j], p.items[i] }
func (p *pendingPictures) Push(x any)    { p.items = append(p.items, x.(pendingPicture)) }
func (p *pendingPictures) Pop() any {
	n := len(p.items)
	v := p.items[n-1]
	p.items = p.items[:n-1]
	return v
}

// add records pkt. Packets without a timestamp sort first.
func (p *pendingPictures) add(pkt *Packet) {
	ts := pkt.PTS
	if ts == NoPTS {
		ts = pkt.DTS
	}
	p.seq++
	heap.Push(p, pendingPicture{pts: ts, duration: pkt.Duration, keyframe: pkt.Keyframe, seq: p.seq})
}

func (p *pendingPictures) next() (pendingPicture, bool) {
	if len(p.items) == 0 {
		return pendingPicture{}, false
	}
	return heap.Pop(p).(pendingPicture), true
}

func (p *pendingPictures) clear() { p.items = p.items[:0] }
