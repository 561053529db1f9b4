package av

import (
	"bytes"

	"github.com/thesyncim/av/internal/mpegts"
)

const (
	// tsProbePackets bounds how far readHeader reads to find the PMT and
	// video parameter sets.
	tsProbePackets = 4096
	tsTailSize     = 256 * mpegts.PacketSize
	tsTimestampMod = int64(1) << 33
)

type tsStream struct {
	index   int
	codec   CodecID
	lastPTS int64 // unwrapped, NoPTS before the first PES
	ready   bool  // parameters known
}

type mpegtsDemuxer struct {
	parser  *mpegts.Parser
	pids    map[uint16]*tsStream
	pending []*Packet
	eof     bool
	resyncs int
}

func probeMPEGTS(b []byte) int {
	if mpegts.Probe(b) {
		return 90
	}
	return 0
}

func (d *mpegtsDemuxer) readHeader(fc *formatContext) int32 {
	d.parser = mpegts.NewParser()
	d.pids = make(map[uint16]*tsStream)

	programs := -1 // PMTs still expected, unknown before the PAT
	for n := 0; n < tsProbePackets; n++ {
		units, ret := d.next(fc)
		if ret == NativeEndOfStream {
			break
		}
		if ret < 0 {
			return ret
		}
		for _, u := range units {
			switch {
			case u.PAT != nil && programs < 0:
				programs = 0
				for _, p := range u.PAT.Programs {
					if p.ProgramNumber != 0 {
						programs++
					}
				}
			case u.PMT != nil && programs > 0:
				if d.addProgram(fc, u.PMT) {
					programs--
				}
			case u.PES != nil:
				if pkt := d.packet(fc, u.PID, u.PES); pkt != nil {
					fc.enqueue(pkt)
				}
			}
		}
		if programs == 0 && d.allReady() {
			break
		}
	}
	if len(fc.streams) == 0 {
		return NativeStreamNotFound
	}

	if fc.src.seekable() && fc.src.size > 0 {
		d.estimateDuration(fc)
	}
	return 0
}

// next reads one transport packet and returns the units it completed.
func (d *mpegtsDemuxer) next(fc *formatContext) ([]*mpegts.Data, int32) {
	src := fc.src
	for {
		b, ret := src.peek(mpegts.PacketSize)
		if ret == NativeEndOfStream {
			if d.eof {
				return nil, NativeEndOfStream
			}
			d.eof = true
			return d.parser.Flush(), 0
		}
		if ret < 0 {
			return nil, ret
		}
		if b[0] != 0x47 {
			src.discard(1)
			d.resyncs++
			continue
		}
		units, err := d.parser.Feed(b)
		src.discard(mpegts.PacketSize)
		if err != nil {
			fc.log.Debug().Err(err).Msg("dropping transport packet")
			continue
		}
		return units, 0
	}
}

func (d *mpegtsDemuxer) addProgram(fc *formatContext, pmt *mpegts.PMT) bool {
	seen := false
	for _, es := range pmt.Streams {
		if _, ok := d.pids[es.PID]; ok {
			seen = true
			continue
		}
		st := tsStreamFor(es)
		if st == nil {
			fc.log.Debug().Uint16("pid", es.PID).Uint8("stream_type", es.StreamType).Msg("skipping unsupported stream")
			continue
		}
		if lang := es.Language(); lang != "" {
			st.Metadata = Metadata{"language": lang}
		}
		fc.addStream(st)
		if len(fc.streams) == 1 || st.Type == MediaTypeVideo && !hasVideo(fc.streams[:st.Index]) {
			st.Disposition |= DispositionDefault
		}
		d.pids[es.PID] = &tsStream{
			index:   st.Index,
			codec:   st.Codec,
			lastPTS: NoPTS,
			ready:   st.Codec != CodecH264 && st.Codec != CodecAAC,
		}
	}
	return !seen
}

func hasVideo(streams []*Stream) bool {
	for _, s := range streams {
		if s.Type == MediaTypeVideo {
			return true
		}
	}
	return false
}

func tsStreamFor(es mpegts.ElementaryStream) *Stream {
	st := &Stream{ID: int(es.PID), TimeBase: TimeBase90kHz}
	switch es.StreamType {
	case mpegts.StreamTypeH264:
		st.Type, st.Codec = MediaTypeVideo, CodecH264
		st.Params.PixelFormat = PixelFormatI420
	case mpegts.StreamTypeHEVC:
		st.Type, st.Codec = MediaTypeVideo, CodecHEVC
	case mpegts.StreamTypeAACADTS:
		st.Type, st.Codec = MediaTypeAudio, CodecAAC
	case mpegts.StreamTypeMPEG1Audio, mpegts.StreamTypeMPEG2Audio:
		st.Type, st.Codec = MediaTypeAudio, CodecMP3
	case mpegts.StreamTypePrivate:
		for _, desc := range es.Descriptors {
			if desc.Tag == mpegts.DescriptorRegistration && bytes.HasPrefix(desc.Data, []byte("Opus")) {
				st.Type, st.Codec = MediaTypeAudio, CodecOpus
				st.Params.SampleRate = int(CodecOpus.ClockRate())
				st.Params.Layout = LayoutStereo
				st.Params.SampleFormat = SampleFormatS16
			}
		}
		if st.Codec == CodecUnknown {
			return nil
		}
	default:
		return nil
	}
	return st
}

func (d *mpegtsDemuxer) allReady() bool {
	for _, s := range d.pids {
		if !s.ready {
			return false
		}
	}
	return len(d.pids) > 0
}

// packet converts a PES into a packet, filling stream parameters from the
// first parameter sets or ADTS header seen.
func (d *mpegtsDemuxer) packet(fc *formatContext, pid uint16, pes *mpegts.PES) *Packet {
	ts, ok := d.pids[pid]
	if !ok || len(pes.Data) == 0 {
		return nil
	}
	st := fc.streams[ts.index]

	if !ts.ready {
		switch ts.codec {
		case CodecH264:
			ts.ready = applySPS(st, pes.Data)
		case CodecAAC:
			if h, err := parseADTS(pes.Data); err == nil {
				applyAACConfig(st, h.aacConfig)
				ts.ready = true
			}
		}
	}

	pkt := &Packet{
		Data:        pes.Data,
		StreamIndex: ts.index,
		PTS:         NoPTS,
		DTS:         NoPTS,
		Keyframe:    true,
		Pos:         -1,
	}
	if pes.PTS >= 0 {
		pkt.PTS = ts.unwrap(pes.PTS)
		pkt.DTS = pkt.PTS
		if pes.DTS >= 0 {
			pkt.DTS = unwrapNear(pes.DTS, pkt.PTS)
		}
		if st.StartTime == NoPTS {
			st.StartTime = pkt.PTS
		}
	}
	if st.Type == MediaTypeVideo {
		pkt.Keyframe = pes.RandomAccess || (ts.codec == CodecH264 && h264Keyframe(pes.Data))
	}
	return pkt
}

// unwrap extends a 33-bit timestamp past wraparound.
func (s *tsStream) unwrap(v int64) int64 {
	if s.lastPTS == NoPTS {
		s.lastPTS = v
		return v
	}
	v = unwrapNear(v, s.lastPTS)
	s.lastPTS = v
	return v
}

// unwrapNear returns the value congruent to v modulo 2^33 closest to ref.
func unwrapNear(v, ref int64) int64 {
	v += (ref &^ (tsTimestampMod - 1))
	switch {
	case v-ref > tsTimestampMod/2:
		v -= tsTimestampMod
	case ref-v > tsTimestampMod/2:
		v += tsTimestampMod
	}
	return v
}

func (d *mpegtsDemuxer) readPacket(fc *formatContext) (*Packet, int32) {
	for len(d.pending) == 0 {
		units, ret := d.next(fc)
		if ret < 0 {
			return nil, ret
		}
		for _, u := range units {
			if u.PES == nil {
				continue
			}
			if pkt := d.packet(fc, u.PID, u.PES); pkt != nil {
				d.pending = append(d.pending, pkt)
			}
		}
	}
	pkt := d.pending[0]
	d.pending = d.pending[1:]
	return pkt, 0
}

// estimateDuration reads the tail of the file for the last PTS of the first
// stream. The read position is restored afterwards.
func (d *mpegtsDemuxer) estimateDuration(fc *formatContext) {
	src := fc.src
	first := fc.streams[0]
	if first.StartTime == NoPTS {
		return
	}
	pos := src.pos()
	defer src.seek(pos)

	off := src.size - tsTailSize
	if off < pos {
		off = pos
	}
	off -= off % mpegts.PacketSize
	if src.seek(off) < 0 {
		return
	}

	tail := &mpegtsDemuxer{parser: mpegts.NewParser(), pids: map[uint16]*tsStream{}}
	for pid, s := range d.pids {
		tail.pids[pid] = &tsStream{index: s.index, codec: s.codec, lastPTS: s.lastPTS, ready: true}
	}
	// Without a PAT every PID is parsed as PES, which is all the tail needs.
	last := NoPTS
	for {
		b, ret := src.peek(mpegts.PacketSize)
		if ret < 0 {
			break
		}
		units, _ := tail.parser.Feed(b)
		src.discard(mpegts.PacketSize)
		for _, u := range units {
			if u.PES != nil && u.PES.PTS >= 0 {
				if ts, ok := tail.pids[u.PID]; ok && ts.index == first.Index {
					last = unwrapNear(u.PES.PTS, first.StartTime)
				}
			}
		}
	}
	for _, u := range tail.parser.Flush() {
		if u.PES != nil && u.PES.PTS >= 0 {
			if ts, ok := tail.pids[u.PID]; ok && ts.index == first.Index {
				last = unwrapNear(u.PES.PTS, first.StartTime)
			}
		}
	}
	if last != NoPTS && last > first.StartTime {
		first.Duration = last - first.StartTime
		fc.duration = Rescale(first.Duration, first.TimeBase, TimeBaseMicroseconds)
	}
}

func (d *mpegtsDemuxer) rewind(fc *formatContext) int32 {
	if ret := fc.src.seek(0); ret < 0 {
		return ret
	}
	d.parser.Reset()
	d.pending = nil
	d.eof = false
	for _, s := range d.pids {
		s.lastPTS = NoPTS
	}
	return 0
}

func (d *mpegtsDemuxer) close() {
	d.pending = nil
}

func init() {
	registerFormat(&inputFormat{
		name:  "mpegts",
		long:  "MPEG-TS (MPEG-2 Transport Stream)",
		exts:  []string{"ts", "m2ts", "mts"},
		probe: probeMPEGTS,
		open:  func() demuxer { return &mpegtsDemuxer{} },
	})
}
