package av

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/pion/rtp"
)

const (
	rtpMaxPacket   = 1500
	rtpQueuePacket = 512
)

// rtpPayloadAliases maps SDP encoding names to codecs where they differ from
// the libavcodec names.
var rtpPayloadAliases = map[string]CodecID{
	"pcmu": CodecPCMMuLaw,
	"pcma": CodecPCMALaw,
	"avc":  CodecH264,
}

// rtpStaticPayloads are the RFC 3551 payload types usable without a mapping.
var rtpStaticPayloads = map[uint8]CodecID{
	0: CodecPCMMuLaw,
	8: CodecPCMALaw,
}

type rtpTrack struct {
	index  int
	codec  CodecID
	depack rtpDepacketizer

	hasSeq  bool
	lastSeq uint16
	firstTS uint32
	lastTS  int64 // unwrapped, relative to firstTS
	hasTS   bool
	ready   bool
	lost    int
}

// rtpDemuxer receives RTP over UDP. Payload types are bound to codecs with
// the pt query parameter, e.g. rtp://0.0.0.0:5004?pt=96:h264,97:vp8,111:opus,
// and default to 96:h264.
type rtpDemuxer struct {
	addr   string
	tracks map[uint8]*rtpTrack
	order  []uint8

	conn    net.PacketConn
	packets chan *rtp.Packet
	done    chan struct{}
	once    sync.Once
}

func newRTPDemuxer(u *url.URL) (demuxer, error) {
	if u.Port() == "" {
		return nil, fmt.Errorf("rtp %s: missing port: %w", u.Host, ErrInvalidData)
	}
	d := &rtpDemuxer{addr: u.Host, tracks: map[uint8]*rtpTrack{}}

	spec := u.Query().Get("pt")
	if spec == "" {
		spec = "96:h264"
	}
	for _, item := range strings.Split(spec, ",") {
		num, name, _ := strings.Cut(strings.TrimSpace(item), ":")
		pt, err := strconv.ParseUint(num, 10, 7)
		if err != nil {
			return nil, fmt.Errorf("rtp payload type %q: %w", item, ErrInvalidData)
		}
		codec, ok := rtpCodecByName(strings.ToLower(name))
		if !ok && name == "" {
			codec, ok = rtpStaticPayloads[uint8(pt)]
		}
		if !ok {
			return nil, fmt.Errorf("rtp payload type %q: %w", item, ErrInvalidData)
		}
		if _, dup := d.tracks[uint8(pt)]; dup {
			return nil, fmt.Errorf("rtp payload type %d mapped twice: %w", pt, ErrInvalidData)
		}
		newDepack, ok := rtpDepacketizers[codec]
		if !ok {
			return nil, fmt.Errorf("rtp %s: %w", codec, ErrDecoderNotFound)
		}
		d.tracks[uint8(pt)] = &rtpTrack{codec: codec, depack: newDepack()}
		d.order = append(d.order, uint8(pt))
	}
	return d, nil
}

func rtpCodecByName(name string) (CodecID, bool) {
	if c, ok := rtpPayloadAliases[name]; ok {
		return c, true
	}
	return CodecByName(name)
}

func (d *rtpDemuxer) readHeader(fc *formatContext) int32 {
	for _, pt := range d.order {
		t := d.tracks[pt]
		st := &Stream{
			ID:       int(pt),
			Type:     t.codec.MediaType(),
			Codec:    t.codec,
			TimeBase: TimeBase{1, int64(t.codec.ClockRate())},
		}
		switch {
		case st.Type == MediaTypeVideo:
			st.Params.PixelFormat = PixelFormatI420
		case t.codec == CodecOpus:
			st.Params.SampleRate = int(t.codec.ClockRate())
			st.Params.Layout = LayoutStereo
			st.Params.SampleFormat = SampleFormatS16
		default:
			st.Params.SampleRate = int(t.codec.ClockRate())
			st.Params.Layout = LayoutMono
			st.Params.SampleFormat = pcmOutputFormat[t.codec]
		}
		fc.addStream(st)
		st.StartTime = 0
		t.index = st.Index
		t.ready = t.codec != CodecH264
	}
	for _, typ := range []MediaType{MediaTypeVideo, MediaTypeAudio} {
		for _, st := range fc.streams {
			if st.Type == typ {
				st.Disposition |= DispositionDefault
				break
			}
		}
	}

	conn, err := net.ListenPacket("udp", d.addr)
	if err != nil {
		fc.log.Error().Err(err).Str("addr", d.addr).Msg("rtp listen failed")
		return nativeIOError
	}
	d.conn = conn
	d.packets = make(chan *rtp.Packet, rtpQueuePacket)
	d.done = make(chan struct{})
	go d.readLoop(fc)

	fc.log.Info().Str("addr", conn.LocalAddr().String()).Int("streams", len(fc.streams)).Msg("rtp listening")
	return 0
}

func (d *rtpDemuxer) readLoop(fc *formatContext) {
	defer close(d.packets)
	buf := make([]byte, rtpMaxPacket)
	for {
		n, _, err := d.conn.ReadFrom(buf)
		if err != nil {
			return
		}
		pkt := &rtp.Packet{}
		if err := pkt.Unmarshal(append([]byte(nil), buf[:n]...)); err != nil {
			fc.log.Debug().Err(err).Msg("dropping malformed rtp packet")
			continue
		}
		select {
		case d.packets <- pkt:
		case <-d.done:
			return
		}
	}
}

func (d *rtpDemuxer) localAddr() net.Addr {
	if d.conn == nil {
		return nil
	}
	return d.conn.LocalAddr()
}

func (d *rtpDemuxer) readPacket(fc *formatContext) (*Packet, int32) {
	for {
		var (
			pkt *rtp.Packet
			ok  bool
		)
		if fc.nonBlock {
			select {
			case pkt, ok = <-d.packets:
			default:
				return nil, NativeWouldBlock
			}
		} else {
			select {
			case pkt, ok = <-d.packets:
			case <-fc.ctx.Done():
				return nil, NativeEndOfStream
			}
		}
		if !ok {
			return nil, NativeEndOfStream
		}
		if out := d.handle(fc, pkt); out != nil {
			return out, 0
		}
	}
}

// handle feeds one RTP packet to its track and returns a packet when an
// access unit completes.
func (d *rtpDemuxer) handle(fc *formatContext, pkt *rtp.Packet) *Packet {
	t, ok := d.tracks[pkt.PayloadType]
	if !ok {
		fc.log.Debug().Uint8("pt", pkt.PayloadType).Msg("dropping unmapped payload type")
		return nil
	}

	if t.hasSeq && pkt.SequenceNumber != t.lastSeq+1 {
		gap := int(pkt.SequenceNumber - t.lastSeq - 1)
		if gap > 0x8000 {
			// Reordered or duplicate.
			return nil
		}
		t.lost += gap
		t.depack.reset()
		fc.log.Debug().Int("stream", t.index).Int("lost", gap).Msg("rtp sequence gap")
	}
	t.hasSeq = true
	t.lastSeq = pkt.SequenceNumber

	ts := t.unwrap(pkt.Timestamp)
	au, key, err := t.depack.push(pkt)
	if err != nil {
		fc.log.Debug().Err(err).Int("stream", t.index).Msg("dropping rtp payload")
		return nil
	}
	if au == nil {
		return nil
	}

	st := fc.streams[t.index]
	if !t.ready && t.codec == CodecH264 {
		t.ready = applySPS(st, au)
	}
	return &Packet{
		Data:        au,
		StreamIndex: t.index,
		PTS:         ts,
		DTS:         NoPTS,
		Keyframe:    key,
		Pos:         -1,
	}
}

// unwrap returns the RTP timestamp relative to the first one seen, extended
// past 32-bit wraparound.
func (t *rtpTrack) unwrap(ts uint32) int64 {
	if !t.hasTS {
		t.hasTS = true
		t.firstTS = ts
		t.lastTS = 0
		return 0
	}
	prev := uint32(t.lastTS) + t.firstTS
	t.lastTS += int64(int32(ts - prev))
	return t.lastTS
}

func (d *rtpDemuxer) close() {
	d.once.Do(func() {
		if d.done != nil {
			close(d.done)
		}
		if d.conn != nil {
			d.conn.Close()
		}
	})
}
