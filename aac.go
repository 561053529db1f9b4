package av

import "errors"

var aacSampleRates = [...]int{
	96000, 88200, 64000, 48000, 44100, 32000, 24000, 22050,
	16000, 12000, 11025, 8000, 7350,
}

var errBadAAC = errors.New("aac: malformed header")

// aacConfig is the subset of an AudioSpecificConfig needed for stream setup.
type aacConfig struct {
	ObjectType int
	SampleRate int
	Channels   int
}

// parseAudioSpecificConfig parses the MPEG-4 AudioSpecificConfig carried in
// FLV sequence headers.
func parseAudioSpecificConfig(b []byte) (aacConfig, error) {
	r := &bitReader{data: b}
	cfg := aacConfig{ObjectType: int(r.bits(5))}
	if cfg.ObjectType == 31 {
		cfg.ObjectType = 32 + int(r.bits(6))
	}
	idx := r.bits(4)
	if idx == 15 {
		cfg.SampleRate = int(r.bits(24))
	} else if int(idx) < len(aacSampleRates) {
		cfg.SampleRate = aacSampleRates[idx]
	}
	cfg.Channels = int(r.bits(4))
	if r.err || cfg.SampleRate == 0 {
		return aacConfig{}, errBadAAC
	}
	return cfg, nil
}

// adtsHeader is a parsed ADTS fixed and variable header.
type adtsHeader struct {
	aacConfig
	HeaderSize  int
	FrameLength int
}

func parseADTS(b []byte) (adtsHeader, error) {
	if len(b) < 7 || b[0] != 0xFF || b[1]&0xF6 != 0xF0 {
		return adtsHeader{}, errBadAAC
	}
	idx := int(b[2]>>2) & 0x0F
	if idx >= len(aacSampleRates) {
		return adtsHeader{}, errBadAAC
	}
	h := adtsHeader{
		aacConfig: aacConfig{
			ObjectType: int(b[2]>>6) + 1,
			SampleRate: aacSampleRates[idx],
			Channels:   int(b[2]&0x01)<<2 | int(b[3]>>6),
		},
		HeaderSize:  7,
		FrameLength: int(b[3]&0x03)<<11 | int(b[4])<<3 | int(b[5]>>5),
	}
	if b[1]&0x01 == 0 {
		h.HeaderSize = 9 // CRC present
	}
	if h.FrameLength < h.HeaderSize {
		return adtsHeader{}, errBadAAC
	}
	return h, nil
}

// applyAACConfig sets audio stream parameters from an AAC configuration.
func applyAACConfig(s *Stream, cfg aacConfig) {
	s.Params.SampleRate = cfg.SampleRate
	if cfg.Channels > 0 {
		s.Params.Layout = DefaultChannelLayout(cfg.Channels)
	}
	s.Params.SampleFormat = SampleFormatF32P
}
