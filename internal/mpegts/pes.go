package mpegts

import "fmt"

// isPESPayload checks for the PES start code prefix (0x000001).
func isPESPayload(data []byte) bool {
	return len(data) >= 3 && data[0] == 0x00 && data[1] == 0x00 && data[2] == 0x01
}

// pesLength returns the total size announced by a PES header, or 0 when the
// packet is unbounded.
func pesLength(data []byte) int {
	if len(data) < 6 {
		return 0
	}
	n := int(data[4])<<8 | int(data[5])
	if n == 0 {
		return 0
	}
	return 6 + n
}

func parsePES(payload []byte) (*PES, error) {
	if len(payload) < 6 {
		return nil, fmt.Errorf("mpegts: PES packet too short (%d bytes)", len(payload))
	}
	if !isPESPayload(payload) {
		return nil, fmt.Errorf("mpegts: invalid PES start code")
	}

	streamID := payload[3]
	total := pesLength(payload)
	if total == 0 || total > len(payload) {
		total = len(payload)
	}

	pes := &PES{StreamID: streamID, PTS: -1, DTS: -1}

	// padding_stream, private_stream_2, ECM, EMM, program_stream_directory,
	// DSMCC and H.222.1 type E carry no optional header.
	hasOptionalHeader := streamID != 0xBE && streamID != 0xBF &&
		streamID != 0xF0 && streamID != 0xF1 &&
		streamID != 0xF2 && streamID != 0xF8 && streamID != 0xFF

	if !hasOptionalHeader {
		pes.Data = payload[6:total]
		return pes, nil
	}

	if len(payload) < 9 {
		return nil, fmt.Errorf("mpegts: PES optional header too short")
	}

	// payload[7]: PTS_DTS_indicator(2) + flags
	// payload[8]: PES_header_data_length
	ptsDTSIndicator := (payload[7] >> 6) & 0x03
	dataStart := 9 + int(payload[8])
	if dataStart > total {
		return nil, fmt.Errorf("mpegts: PES header length %d exceeds packet", payload[8])
	}

	switch ptsDTSIndicator {
	case 2: // PTS only
		if dataStart >= 14 {
			pes.PTS = parseTimestamp(payload[9:14])
		}
	case 3: // PTS + DTS
		if dataStart >= 19 {
			pes.PTS = parseTimestamp(payload[9:14])
			pes.DTS = parseTimestamp(payload[14:19])
		}
	}

	pes.Data = payload[dataStart:total]
	return pes, nil
}

// parseTimestamp extracts a 33-bit timestamp from 5 PES timestamp bytes.
func parseTimestamp(bs []byte) int64 {
	return int64(bs[0]>>1&0x07)<<30 |
		int64(bs[1])<<22 |
		int64(bs[2]>>1&0x7F)<<15 |
		int64(bs[3])<<7 |
		int64(bs[4]>>1&0x7F)
}

// putTimestamp writes a 33-bit timestamp with the given 4-bit prefix.
func putTimestamp(b []byte, prefix byte, ts int64) {
	b[0] = prefix<<4 | byte(ts>>29)&0x0E | 1
	b[1] = byte(ts >> 22)
	b[2] = byte(ts>>14)&0xFE | 1
	b[3] = byte(ts >> 7)
	b[4] = byte(ts<<1) | 1
}
