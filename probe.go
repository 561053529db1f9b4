package av

// DetectCodec guesses the codec of an elementary stream from its first
// bytes. Supports detection of:
//   - H.264/AVC: Annex-B format (ITU-T H.264) and AVCC format (ISO/IEC 14496-15)
//   - AAC: ADTS framing (ISO/IEC 14496-3)
//   - MP3: MPEG-1/2 Layer III frame headers (ISO/IEC 11172-3)
//   - Opus: an Ogg page carrying an OpusHead packet (RFC 7845)
//
// Returns CodecUnknown if the codec cannot be determined. Containers are
// recognised by Open; DetectCodec is for bare payloads such as RTP or
// elementary stream dumps.
func DetectCodec(data []byte) CodecID {
	if len(data) < 4 {
		return CodecUnknown
	}

	// Check for Annex-B start code (H.264)
	if isAnnexBStartCode(data) {
		if isH264NALType(getNALType(data)) {
			return CodecH264
		}
		return CodecUnknown
	}

	// Per RFC 3533, Ogg pages start with "OggS" capture pattern
	if string(data[0:4]) == "OggS" {
		if len(data) >= 36 && string(data[28:36]) == "OpusHead" {
			return CodecOpus
		}
		return CodecUnknown
	}

	if isAACAdts(data) {
		return CodecAAC
	}
	if isMP3Frame(data) {
		return CodecMP3
	}

	// AVCC last: a length prefix is a weak signal.
	if isAVCCFormat(data) {
		return CodecH264
	}
	return CodecUnknown
}

// getNALType extracts NAL unit type from Annex-B data.
// Per ITU-T H.264 Section 7.3.1, the NAL unit header is:
//   - forbidden_zero_bit (1 bit): must be 0
//   - nal_ref_idc (2 bits): reference priority
//   - nal_unit_type (5 bits): type identifier
func getNALType(data []byte) byte {
	if len(data) < 4 {
		return 0
	}
	offset := 3
	if data[2] == 0 {
		offset = 4
	}
	if len(data) <= offset {
		return 0
	}
	return data[offset] & 0x1F
}

// isH264NALType checks if NAL type is valid H.264.
// Per ITU-T H.264 Table 7-1, valid NAL unit types are 1-12 and 19-21.
func isH264NALType(nalType byte) bool {
	return (nalType >= 1 && nalType <= 12) || (nalType >= 19 && nalType <= 21)
}

// isAVCCFormat checks for AVCC (length-prefixed) format: a 4-byte big-endian
// NAL length followed by a plausible NAL header.
func isAVCCFormat(data []byte) bool {
	if len(data) < 8 {
		return false
	}
	length := int(data[0])<<24 | int(data[1])<<16 | int(data[2])<<8 | int(data[3])
	if length <= 0 || length > len(data)-4 || length >= 10*1024*1024 {
		return false
	}
	return data[4]&0x80 == 0 && isH264NALType(data[4]&0x1F)
}

// isAACAdts checks for AAC ADTS (Audio Data Transport Stream) header.
// Per ISO/IEC 14496-3 Section 1.A.2.2, ADTS header structure:
//   - syncword (12 bits): 0xFFF
//   - ID (1 bit): MPEG version (0=MPEG-4, 1=MPEG-2)
//   - layer (2 bits): always 0b00
//   - protection_absent (1 bit): 1=no CRC
func isAACAdts(data []byte) bool {
	_, err := parseADTS(data)
	return err == nil
}

// isMP3Frame checks for MP3 (MPEG Audio Layer III) frame header.
// Per ISO/IEC 11172-3 Section 2.4.2.3:
//   - syncword (11 bits): 0x7FF (all 1s)
//   - version (2 bits), layer (2 bits): 0b01 for Layer III
func isMP3Frame(data []byte) bool {
	if len(data) < 4 {
		return false
	}
	if data[0] != 0xFF || (data[1]&0xE0) != 0xE0 {
		return false
	}
	layer := (data[1] >> 1) & 0x03
	return layer == 1
}

// isAnnexBStartCode checks for H.264/H.265 Annex-B start codes.
// Per ITU-T H.264 Annex B, NAL units are prefixed with:
//   - 4-byte start code: 0x00000001 (used at stream start and after certain NALUs)
//   - 3-byte start code: 0x000001 (used between NALUs)
func isAnnexBStartCode(data []byte) bool {
	if len(data) < 4 {
		return false
	}
	if data[0] == 0 && data[1] == 0 && data[2] == 0 && data[3] == 1 {
		return true
	}
	return data[0] == 0 && data[1] == 0 && data[2] == 1
}
