package av

import (
	"bytes"
	"encoding/binary"
	"strconv"
	"strings"

	"github.com/pion/webrtc/v4/pkg/media/oggreader"
)

const (
	oggPageHeaderSize = 27
	opusTagsMagic     = "OpusTags"
)

// oggDemuxer reads Ogg Opus files (RFC 7845). Pages are parsed by pion's
// oggreader; packet boundaries come from the lacing values of each page.
// Timestamps count 48kHz samples from the TOC byte of every packet.
type oggDemuxer struct {
	r       *oggreader.OggReader
	serial  uint32
	partial []byte // packet continued on the next page
	pending []*Packet
	samples int64
}

func probeOgg(b []byte) int {
	if DetectCodec(b) == CodecOpus {
		return 100
	}
	return 0
}

func (d *oggDemuxer) readHeader(fc *formatContext) int32 {
	if !d.start(fc) {
		return NativeInvalidData
	}
	r, head, ret := d.open(fc)
	if ret < 0 {
		return ret
	}
	d.r = r

	channels := int(head.Channels)
	st := fc.addStream(&Stream{
		Type:        MediaTypeAudio,
		Codec:       CodecOpus,
		TimeBase:    TimeBase{1, opusClockRate},
		Disposition: DispositionDefault,
		Params: CodecParameters{
			SampleRate:   opusClockRate,
			Layout:       DefaultChannelLayout(channels),
			SampleFormat: SampleFormatS16,
			Extradata:    opusHead(head),
		},
	})
	st.StartTime = 0
	if head.SampleRate > 0 {
		st.Metadata["input_sample_rate"] = strconv.Itoa(int(head.SampleRate))
	}

	// The comment header follows the identification header.
	pkts, ret := d.readPage(fc)
	switch {
	case ret == NativeEndOfStream:
		return 0
	case ret < 0:
		return ret
	case isOpusTags(pkts):
		parseOpusTags(pkts[0][len(opusTagsMagic):], fc.metadata)
	default:
		d.queue(pkts, -1)
	}
	return 0
}

func isOpusTags(pkts [][]byte) bool {
	return len(pkts) == 1 && bytes.HasPrefix(pkts[0], []byte(opusTagsMagic))
}

// start records the serial number of the first page.
func (d *oggDemuxer) start(fc *formatContext) bool {
	b, ret := fc.src.peek(oggPageHeaderSize)
	if ret < 0 || !isOggPage(b) {
		return false
	}
	d.serial = binary.LittleEndian.Uint32(b[14:18])
	return true
}

func isOggPage(b []byte) bool { return len(b) >= 4 && string(b[:4]) == "OggS" }

func (d *oggDemuxer) open(fc *formatContext) (*oggreader.OggReader, *oggreader.OggHeader, int32) {
	if _, ret := d.peekPage(fc); ret < 0 {
		return nil, nil, ret
	}
	r, head, err := oggreader.NewWith(&sourceReader{src: fc.src})
	if err != nil {
		fc.log.Debug().Err(err).Msg("ogg identification header")
		if ret := readerResult(err); ret != NativeEndOfStream {
			return nil, nil, ret
		}
		return nil, nil, NativeInvalidData
	}
	return r, head, 0
}

// peekPage buffers the next complete page and returns its segment table.
func (d *oggDemuxer) peekPage(fc *formatContext) ([]byte, int32) {
	b, ret := fc.src.peek(oggPageHeaderSize)
	if ret < 0 {
		if ret == NativeEndOfStream && len(b) > 0 {
			fc.log.Debug().Int("bytes", len(b)).Msg("truncated ogg page")
		}
		return nil, ret
	}
	if !isOggPage(b) {
		return nil, NativeInvalidData
	}
	nseg := int(b[26])
	if b, ret = fc.src.peek(oggPageHeaderSize + nseg); ret < 0 {
		return nil, ret
	}
	lacing := append([]byte(nil), b[oggPageHeaderSize:]...)
	size := oggPageHeaderSize + nseg
	for _, v := range lacing {
		size += int(v)
	}
	if _, ret = fc.src.peek(size); ret < 0 {
		return nil, ret
	}
	return lacing, 0
}

// readPage returns the packets completed on the next page of the stream.
func (d *oggDemuxer) readPage(fc *formatContext) ([][]byte, int32) {
	for {
		lacing, ret := d.peekPage(fc)
		if ret < 0 {
			return nil, ret
		}
		head, _ := fc.src.peek(oggPageHeaderSize)
		serial := binary.LittleEndian.Uint32(head[14:18])

		payload, _, err := d.r.ParseNextPage()
		if err != nil {
			return nil, readerResult(err)
		}
		if serial != d.serial {
			// Another logical stream multiplexed into the file.
			continue
		}

		var pkts [][]byte
		off := 0
		for _, v := range lacing {
			end := off + int(v)
			if end > len(payload) {
				return nil, NativeInvalidData
			}
			d.partial = append(d.partial, payload[off:end]...)
			off = end
			if v < 255 {
				pkts = append(pkts, d.partial)
				d.partial = nil
			}
		}
		if len(pkts) > 0 {
			return pkts, 0
		}
	}
}

// queue turns raw Opus packets into timestamped packets.
func (d *oggDemuxer) queue(pkts [][]byte, pos int64) {
	for _, data := range pkts {
		if len(data) == 0 {
			continue
		}
		n := int64(opusPacketSamples(data))
		d.pending = append(d.pending, &Packet{
			Data:     data,
			PTS:      d.samples,
			DTS:      d.samples,
			Duration: n,
			Keyframe: true,
			Pos:      pos,
		})
		d.samples += n
	}
}

func (d *oggDemuxer) readPacket(fc *formatContext) (*Packet, int32) {
	for len(d.pending) == 0 {
		pos := fc.src.pos()
		pkts, ret := d.readPage(fc)
		if ret < 0 {
			return nil, ret
		}
		d.queue(pkts, pos)
	}
	p := d.pending[0]
	d.pending[0] = nil
	d.pending = d.pending[1:]
	return p, 0
}

func (d *oggDemuxer) rewind(fc *formatContext) int32 {
	if ret := fc.src.seek(0); ret < 0 {
		return ret
	}
	d.partial, d.pending, d.samples = nil, nil, 0
	r, _, ret := d.open(fc)
	if ret < 0 {
		return ret
	}
	d.r = r
	pkts, ret := d.readPage(fc)
	if ret < 0 {
		return ret
	}
	if !isOpusTags(pkts) {
		d.queue(pkts, -1)
	}
	return 0
}

func (d *oggDemuxer) close() {}

// opusClockRate is the rate Opus timestamps count in, whatever the input
// sample rate was.
const opusClockRate = 48000

// opusHead rebuilds the 19 byte identification header for decoders.
func opusHead(h *oggreader.OggHeader) []byte {
	b := make([]byte, 19)
	copy(b, "OpusHead")
	b[8] = h.Version
	b[9] = h.Channels
	binary.LittleEndian.PutUint16(b[10:], h.PreSkip)
	binary.LittleEndian.PutUint32(b[12:], h.SampleRate)
	binary.LittleEndian.PutUint16(b[16:], h.OutputGain)
	b[18] = h.ChannelMap
	return b
}

// parseOpusTags reads a Vorbis comment block into md. The vendor string is
// stored as "encoder".
func parseOpusTags(b []byte, md Metadata) {
	str := func() (string, bool) {
		if len(b) < 4 {
			return "", false
		}
		n := int(binary.LittleEndian.Uint32(b))
		if n < 0 || n > len(b)-4 {
			return "", false
		}
		s := string(b[4 : 4+n])
		b = b[4+n:]
		return s, true
	}
	vendor, ok := str()
	if !ok {
		return
	}
	if vendor = strings.TrimRight(vendor, "\x00"); vendor != "" {
		md["encoder"] = vendor
	}
	if len(b) < 4 {
		return
	}
	count := int(binary.LittleEndian.Uint32(b))
	b = b[4:]
	for i := 0; i < count; i++ {
		c, ok := str()
		if !ok {
			return
		}
		if k, v, ok := strings.Cut(c, "="); ok && k != "" {
			md[strings.ToLower(k)] = v
		}
	}
}

// opusPacketSamples returns the duration of an Opus packet in 48kHz samples
// from its TOC byte (RFC 6716 3.1), or 0 for a malformed packet.
func opusPacketSamples(p []byte) int {
	if len(p) == 0 {
		return 0
	}
	config := p[0] >> 3
	var frame int
	switch {
	case config < 12:
		frame = [4]int{480, 960, 1920, 2880}[config&3]
	case config < 16:
		frame = [2]int{480, 960}[config&1]
	default:
		frame = [4]int{120, 240, 480, 960}[config&3]
	}
	switch p[0] & 3 {
	case 0:
		return frame
	case 1, 2:
		return 2 * frame
	}
	if len(p) < 2 {
		return 0
	}
	return int(p[1]&0x3F) * frame
}

func init() {
	registerFormat(&inputFormat{
		name:  "ogg",
		long:  "Ogg Opus",
		exts:  []string{"ogg", "opus", "oga"},
		probe: probeOgg,
		open:  func() demuxer { return &oggDemuxer{} },
	})
}
