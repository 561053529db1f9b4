package av

import (
	"fmt"

	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
)

// vp8Depacketizer reassembles RFC 7741 payloads using pion's VP8 payload
// descriptor parser.
type vp8Depacketizer struct {
	desc      codecs.VP8Packet
	buffer    []byte
	timestamp uint32
	started   bool
	keyframe  bool
}

func (d *vp8Depacketizer) push(pkt *rtp.Packet) ([]byte, bool, error) {
	if _, err := d.desc.Unmarshal(pkt.Payload); err != nil {
		return nil, false, fmt.Errorf("vp8 rtp: %v: %w", err, ErrInvalidData)
	}

	if d.started && d.timestamp != pkt.Timestamp {
		d.reset()
	}
	d.timestamp = pkt.Timestamp

	if d.desc.S == 1 && d.desc.PID == 0 {
		// The P bit of the frame tag is clear on key frames.
		d.keyframe = len(d.desc.Payload) > 0 && d.desc.Payload[0]&0x01 == 0
		d.buffer = d.buffer[:0]
		d.started = true
	}
	if !d.started {
		// Partition data without the start of its frame.
		return nil, false, nil
	}
	d.buffer = append(d.buffer, d.desc.Payload...)

	if !pkt.Marker {
		return nil, false, nil
	}
	frame := append([]byte(nil), d.buffer...)
	key := d.keyframe
	d.reset()
	return frame, key, nil
}

func (d *vp8Depacketizer) reset() {
	d.buffer = d.buffer[:0]
	d.keyframe = false
	d.started = false
}

// vp9Depacketizer reassembles VP9 payloads. A frame ends at the E bit or the
// marker, whichever comes first; spatial layers of one picture arrive as
// separate frames.
type vp9Depacketizer struct {
	desc      codecs.VP9Packet
	buffer    []byte
	timestamp uint32
	started   bool
	keyframe  bool
}

func (d *vp9Depacketizer) push(pkt *rtp.Packet) ([]byte, bool, error) {
	if _, err := d.desc.Unmarshal(pkt.Payload); err != nil {
		return nil, false, fmt.Errorf("vp9 rtp: %v: %w", err, ErrInvalidData)
	}

	if d.started && d.timestamp != pkt.Timestamp {
		d.reset()
	}
	d.timestamp = pkt.Timestamp

	if d.desc.B {
		d.keyframe = !d.desc.P
		d.buffer = d.buffer[:0]
		d.started = true
	}
	if !d.started {
		return nil, false, nil
	}
	d.buffer = append(d.buffer, d.desc.Payload...)

	if !pkt.Marker && !d.desc.E {
		return nil, false, nil
	}
	frame := append([]byte(nil), d.buffer...)
	key := d.keyframe
	d.reset()
	return frame, key, nil
}

func (d *vp9Depacketizer) reset() {
	d.buffer = d.buffer[:0]
	d.keyframe = false
	d.started = false
}
