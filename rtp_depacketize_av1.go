package av

import (
	"fmt"

	"github.com/pion/rtp"
)

// AV1 OBU types (bitstream section 6.2.2).
const (
	av1OBUSequenceHeader    = 1
	av1OBUTemporalDelimiter = 2
)

// av1Depacketizer reassembles temporal units from the RTP payload format for
// AV1. Output is a low-overhead bitstream: a temporal delimiter followed by
// OBUs that all carry a size field. The last sequence header is repeated in
// front of units that lack one so that decoding can start at any key frame
// after a loss.
type av1Depacketizer struct {
	obus      []byte // complete OBUs of the current temporal unit
	fragment  []byte // OBU continued in the next packet
	seqHeader []byte
	timestamp uint32
	started   bool
	keyframe  bool
}

// Aggregation header bits.
const (
	av1AggZ = 0x80 // first element continues an OBU
	av1AggY = 0x40 // last element continues in the next packet
	av1AggN = 0x08 // first packet of a coded video sequence
)

func (d *av1Depacketizer) push(pkt *rtp.Packet) ([]byte, bool, error) {
	if len(pkt.Payload) < 2 {
		return nil, false, nil
	}
	if d.started && d.timestamp != pkt.Timestamp {
		d.reset()
	}
	d.timestamp = pkt.Timestamp
	d.started = true

	agg := pkt.Payload[0]
	elems, err := av1Elements(pkt.Payload[1:], int(agg>>4)&0x3)
	if err != nil {
		d.reset()
		return nil, false, err
	}
	if agg&av1AggN != 0 {
		d.keyframe = true
	}

	for i, e := range elems {
		switch {
		case i == 0 && agg&av1AggZ != 0:
			if d.fragment == nil {
				// The start of this OBU was lost.
				continue
			}
			d.fragment = append(d.fragment, e...)
		default:
			d.fragment = append([]byte(nil), e...)
		}
		if i == len(elems)-1 && agg&av1AggY != 0 {
			continue
		}
		d.appendOBU(d.fragment)
		d.fragment = nil
	}

	if !pkt.Marker || len(d.obus) == 0 {
		return nil, false, nil
	}
	tu := d.temporalUnit()
	key := d.keyframe
	d.reset()
	return tu, key, nil
}

// av1Elements splits an aggregation payload. With w == 0 every element has
// a length prefix; otherwise there are w elements and the last has none.
func av1Elements(b []byte, w int) ([][]byte, error) {
	var out [][]byte
	for len(b) > 0 {
		if w != 0 && len(out) == w-1 {
			return append(out, b), nil
		}
		size, n := av1ReadLEB128(b)
		if n == 0 || uint64(len(b)-n) < size {
			return nil, fmt.Errorf("av1 rtp: bad OBU element length: %w", ErrInvalidData)
		}
		out = append(out, b[n:n+int(size)])
		b = b[n+int(size):]
	}
	return out, nil
}

func (d *av1Depacketizer) appendOBU(obu []byte) {
	if len(obu) == 0 {
		return
	}
	obu = av1EnsureOBUSize(obu)
	switch av1OBUType(obu[0]) {
	case av1OBUTemporalDelimiter:
		// Added back in front of the unit.
		return
	case av1OBUSequenceHeader:
		d.seqHeader = append(d.seqHeader[:0], obu...)
	}
	d.obus = append(d.obus, obu...)
}

func (d *av1Depacketizer) temporalUnit() []byte {
	tu := make([]byte, 0, 2+len(d.seqHeader)+len(d.obus))
	tu = append(tu, av1OBUTemporalDelimiter<<3|0x02, 0x00)
	if av1OBUType(d.obus[0]) != av1OBUSequenceHeader && len(d.seqHeader) > 0 {
		tu = append(tu, d.seqHeader...)
	}
	return append(tu, d.obus...)
}

func (d *av1Depacketizer) reset() {
	d.obus = d.obus[:0]
	d.fragment = nil
	d.keyframe = false
	d.started = false
}

func av1OBUType(header byte) int { return int(header>>3) & 0x0F }

// av1EnsureOBUSize sets the has_size_field bit of an OBU, inserting the size
// after the header when it is missing.
func av1EnsureOBUSize(obu []byte) []byte {
	header := obu[0]
	if header&0x02 != 0 {
		return obu
	}
	headerSize := 1
	if header&0x04 != 0 {
		headerSize = 2
	}
	if len(obu) < headerSize {
		return obu
	}
	out := make([]byte, 0, len(obu)+8)
	out = append(out, header|0x02)
	out = append(out, obu[1:headerSize]...)
	out = av1AppendLEB128(out, uint64(len(obu)-headerSize))
	return append(out, obu[headerSize:]...)
}

// av1ReadLEB128 returns the value and the number of bytes read, or 0 bytes
// when b does not hold a complete value.
func av1ReadLEB128(b []byte) (uint64, int) {
	var v uint64
	for i := 0; i < len(b) && i < 8; i++ {
		v |= uint64(b[i]&0x7F) << (7 * i)
		if b[i]&0x80 == 0 {
			return v, i + 1
		}
	}
	return 0, 0
}

func av1AppendLEB128(b []byte, v uint64) []byte {
	for v >= 0x80 {
		b = append(b, byte(v)|0x80)
		v >>= 7
	}
	return append(b, byte(v))
}
