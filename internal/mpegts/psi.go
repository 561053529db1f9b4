package mpegts

import "fmt"

const (
	pidPAT = 0x0000

	tableIDPAT = 0x00
	tableIDPMT = 0x02
)

func parsePSI(payload []byte, pid uint16) ([]*Data, error) {
	if len(payload) < 1 {
		return nil, fmt.Errorf("mpegts: PSI payload too short")
	}

	pointerField := int(payload[0])
	offset := 1 + pointerField
	if offset >= len(payload) {
		return nil, fmt.Errorf("mpegts: PSI pointer field out of range")
	}

	var results []*Data

	for offset < len(payload) {
		tableID := payload[offset]
		if tableID == 0xFF {
			break // stuffing bytes
		}
		if offset+3 > len(payload) {
			break
		}

		// section_syntax_indicator must be 1 for PAT/PMT.
		if payload[offset+1]&0x80 == 0 {
			break
		}

		sectionLength := int(payload[offset+1]&0x0F)<<8 | int(payload[offset+2])
		sectionEnd := offset + 3 + sectionLength
		if sectionEnd > len(payload) {
			break
		}

		section := payload[offset:sectionEnd]

		switch tableID {
		case tableIDPAT:
			pat, err := parsePATSection(section)
			if err != nil {
				return results, err
			}
			results = append(results, &Data{PID: pid, PAT: pat})

		case tableIDPMT:
			pmt, err := parsePMTSection(section)
			if err != nil {
				return results, err
			}
			results = append(results, &Data{PID: pid, PMT: pmt})
		}

		offset = sectionEnd
	}

	return results, nil
}

func parsePATSection(data []byte) (*PAT, error) {
	if err := verifyCRC32(data); err != nil {
		return nil, fmt.Errorf("mpegts: PAT %w", err)
	}

	// [0]      table_id
	// [1-2]    section_syntax_indicator(1) + zero(1) + reserved(2) + section_length(12)
	// [3-4]    transport_stream_id
	// [5]      reserved(2) + version(5) + current_next(1)
	// [6]      section_number
	// [7]      last_section_number
	// [8..N-4] program entries (4 bytes each)
	// [N-4..N] CRC32
	if len(data) < 12 {
		return nil, fmt.Errorf("mpegts: PAT too short")
	}

	pat := &PAT{}
	for i := 8; i+4 <= len(data)-4; i += 4 {
		programNumber := uint16(data[i])<<8 | uint16(data[i+1])
		pmtPID := uint16(data[i+2]&0x1F)<<8 | uint16(data[i+3])

		if programNumber == 0 {
			continue // NIT PID, skip
		}
		pat.Programs = append(pat.Programs, PATProgram{ProgramNumber: programNumber, PMTPID: pmtPID})
	}

	return pat, nil
}

func parsePMTSection(data []byte) (*PMT, error) {
	if err := verifyCRC32(data); err != nil {
		return nil, fmt.Errorf("mpegts: PMT %w", err)
	}

	// [0]     table_id
	// [1-2]   section_syntax_indicator(1) + zero(1) + reserved(2) + section_length(12)
	// [3-4]   program_number
	// [5]     reserved(2) + version(5) + current_next(1)
	// [6]     section_number
	// [7]     last_section_number
	// [8-9]   reserved(3) + PCR_PID(13)
	// [10-11] reserved(4) + program_info_length(12)
	// [...]   program descriptors, elementary stream entries, CRC32
	if len(data) < 16 {
		return nil, fmt.Errorf("mpegts: PMT too short")
	}

	end := len(data) - 4
	pmt := &PMT{
		ProgramNumber: uint16(data[3])<<8 | uint16(data[4]),
		PCRPID:        uint16(data[8]&0x1F)<<8 | uint16(data[9]),
	}

	programInfoLength := int(data[10]&0x0F)<<8 | int(data[11])
	offset := 12 + programInfoLength

	for offset+5 <= end {
		es := ElementaryStream{
			StreamType: data[offset],
			PID:        uint16(data[offset+1]&0x1F)<<8 | uint16(data[offset+2]),
		}
		esInfoLength := int(data[offset+3]&0x0F)<<8 | int(data[offset+4])
		offset += 5

		infoEnd := offset + esInfoLength
		if infoEnd > end {
			return nil, fmt.Errorf("mpegts: PMT ES info overruns section")
		}
		es.Descriptors = parseDescriptors(data[offset:infoEnd])
		pmt.Streams = append(pmt.Streams, es)
		offset = infoEnd
	}

	return pmt, nil
}

func parseDescriptors(b []byte) []Descriptor {
	var out []Descriptor
	for len(b) >= 2 {
		n := int(b[1])
		if 2+n > len(b) {
			break
		}
		out = append(out, Descriptor{Tag: b[0], Data: append([]byte(nil), b[2:2+n]...)})
		b = b[2+n:]
	}
	return out
}

// isPSIComplete checks whether payload contains complete PSI sections.
func isPSIComplete(payload []byte) bool {
	if len(payload) < 1 {
		return false
	}

	offset := 1 + int(payload[0])
	if offset >= len(payload) {
		return false
	}

	for offset < len(payload) {
		if payload[offset] == 0xFF {
			return true // stuffing bytes, section is complete
		}
		if offset+3 > len(payload) {
			return false
		}
		if payload[offset+1]&0x80 == 0 {
			return true // not a valid section header, treat as padding
		}
		sectionLength := int(payload[offset+1]&0x0F)<<8 | int(payload[offset+2])
		needed := 3 + sectionLength
		if offset+needed > len(payload) {
			return false
		}
		offset += needed
	}
	return true
}
