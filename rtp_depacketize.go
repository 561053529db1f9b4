package av

import (
	"encoding/binary"
	"fmt"

	"github.com/pion/rtp"
)

// rtpDepacketizer reassembles RTP payloads into access units.
type rtpDepacketizer interface {
	// push consumes one packet. It returns a complete access unit, or nil
	// when more packets are needed.
	push(pkt *rtp.Packet) (au []byte, keyframe bool, err error)
	// reset drops any partially assembled unit, e.g. after packet loss.
	reset()
}

var rtpDepacketizers = map[CodecID]func() rtpDepacketizer{
	CodecH264:     func() rtpDepacketizer { return &h264Depacketizer{} },
	CodecVP8:      func() rtpDepacketizer { return &vp8Depacketizer{} },
	CodecVP9:      func() rtpDepacketizer { return &vp9Depacketizer{} },
	CodecAV1:      func() rtpDepacketizer { return &av1Depacketizer{} },
	CodecOpus:     func() rtpDepacketizer { return passthroughDepacketizer{} },
	CodecPCMALaw:  func() rtpDepacketizer { return passthroughDepacketizer{} },
	CodecPCMMuLaw: func() rtpDepacketizer { return passthroughDepacketizer{} },
}

// passthroughDepacketizer is used for codecs that carry exactly one frame per
// packet.
type passthroughDepacketizer struct{}

func (passthroughDepacketizer) push(pkt *rtp.Packet) ([]byte, bool, error) {
	if len(pkt.Payload) == 0 {
		return nil, false, nil
	}
	return append([]byte(nil), pkt.Payload...), true, nil
}

func (passthroughDepacketizer) reset() {}

// h264Depacketizer implements RFC 6184 single NAL unit, STAP-A and FU-A
// packets. Access units end at the marker bit and are returned in Annex-B
// form.
type h264Depacketizer struct {
	frameData   []byte // Annex-B data of the current access unit
	fuaBuffer   []byte // NAL unit being assembled from FU-A fragments
	fragmenting bool
	timestamp   uint32
	started     bool
	keyframe    bool
}

func (d *h264Depacketizer) push(pkt *rtp.Packet) ([]byte, bool, error) {
	if len(pkt.Payload) == 0 {
		return nil, false, nil
	}

	// A new timestamp without a marker on the previous unit means its tail
	// was lost.
	if d.started && d.timestamp != pkt.Timestamp {
		d.reset()
	}
	d.timestamp = pkt.Timestamp
	d.started = true

	nalType := pkt.Payload[0] & 0x1F
	switch {
	case nalType >= 1 && nalType <= 23:
		d.appendNAL(pkt.Payload)
	case nalType == nalTypeSTAPA:
		if err := d.stapA(pkt.Payload); err != nil {
			d.reset()
			return nil, false, err
		}
	case nalType == nalTypeFUA:
		if err := d.fuA(pkt.Payload); err != nil {
			d.reset()
			return nil, false, err
		}
	default:
		return nil, false, fmt.Errorf("h264 rtp: unsupported NAL type %d: %w", nalType, ErrInvalidData)
	}

	if !pkt.Marker || len(d.frameData) == 0 {
		return nil, false, nil
	}
	au := append([]byte(nil), d.frameData...)
	key := d.keyframe
	d.frameData = d.frameData[:0]
	d.keyframe = false
	d.started = false
	return au, key, nil
}

func (d *h264Depacketizer) appendNAL(nalu []byte) {
	if nalu[0]&0x1F == nalTypeIDR {
		d.keyframe = true
	}
	d.frameData = append(d.frameData, annexBStartCode...)
	d.frameData = append(d.frameData, nalu...)
}

func (d *h264Depacketizer) stapA(payload []byte) error {
	for off := 1; off < len(payload); {
		if off+2 > len(payload) {
			return fmt.Errorf("h264 rtp: truncated STAP-A: %w", ErrInvalidData)
		}
		size := int(binary.BigEndian.Uint16(payload[off:]))
		off += 2
		if size == 0 || off+size > len(payload) {
			return fmt.Errorf("h264 rtp: STAP-A unit of %d bytes: %w", size, ErrInvalidData)
		}
		d.appendNAL(payload[off : off+size])
		off += size
	}
	return nil
}

func (d *h264Depacketizer) fuA(payload []byte) error {
	if len(payload) < 2 {
		return fmt.Errorf("h264 rtp: FU-A packet too short: %w", ErrInvalidData)
	}
	indicator, header := payload[0], payload[1]
	isStart := header&0x80 != 0
	isEnd := header&0x40 != 0

	if isStart {
		d.fuaBuffer = append(d.fuaBuffer[:0], indicator&0xE0|header&0x1F)
		d.fragmenting = true
	}
	if !d.fragmenting {
		// Middle of a unit whose start was lost.
		return nil
	}
	d.fuaBuffer = append(d.fuaBuffer, payload[2:]...)
	if isEnd {
		d.appendNAL(d.fuaBuffer)
		d.fuaBuffer = d.fuaBuffer[:0]
		d.fragmenting = false
	}
	return nil
}

func (d *h264Depacketizer) reset() {
	d.frameData = d.frameData[:0]
	d.fuaBuffer = d.fuaBuffer[:0]
	d.fragmenting = false
	d.keyframe = false
	d.started = false
}
