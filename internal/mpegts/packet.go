package mpegts

import "fmt"

const (
	// PacketSize is the size of a transport stream packet.
	PacketSize = 188
	syncByte   = 0x47
)

// ParsePacket decodes one transport stream packet. The payload aliases buf.
func ParsePacket(buf []byte) (*Packet, error) {
	if len(buf) != PacketSize {
		return nil, fmt.Errorf("mpegts: packet size %d, expected %d", len(buf), PacketSize)
	}
	if buf[0] != syncByte {
		return nil, fmt.Errorf("mpegts: invalid sync byte 0x%02X", buf[0])
	}

	p := &Packet{}
	p.Header.TransportErrorIndicator = buf[1]&0x80 != 0
	p.Header.PayloadUnitStartIndicator = buf[1]&0x40 != 0
	p.Header.PID = uint16(buf[1]&0x1F)<<8 | uint16(buf[2])
	p.Header.HasAdaptationField = buf[3]&0x20 != 0
	p.Header.HasPayload = buf[3]&0x10 != 0
	p.Header.ContinuityCounter = buf[3] & 0x0F

	offset := 4

	if p.Header.HasAdaptationField {
		afLen := int(buf[offset])
		if afLen > 0 {
			p.Header.DiscontinuityIndicator = buf[offset+1]&0x80 != 0
			p.Header.RandomAccessIndicator = buf[offset+1]&0x40 != 0
		}
		offset += 1 + afLen
		if offset > PacketSize {
			offset = PacketSize
		}
	}

	if p.Header.HasPayload && offset < PacketSize {
		p.Payload = buf[offset:]
	}

	return p, nil
}

// Probe reports whether data looks like a transport stream: a sync byte at
// every packet boundary in data, and at least two of them unless data is a
// single packet.
func Probe(data []byte) bool {
	n := 0
	for off := 0; off < len(data) && n < 3; off += PacketSize {
		if data[off] != syncByte {
			return false
		}
		n++
	}
	return n >= 2 || (n == 1 && len(data) == PacketSize)
}
