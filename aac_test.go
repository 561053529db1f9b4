package av

import (
	"testing"
)

// adtsHeaderBytes builds a 7-byte ADTS header without CRC for an AAC-LC
// frame of frameLen bytes, header included.
func adtsHeaderBytes(rateIndex, channels, frameLen int) []byte {
	return []byte{
		0xFF,
		0xF1,
		byte(1<<6 | rateIndex<<2 | channels>>2),
		byte((channels&3)<<6 | frameLen>>11),
		byte(frameLen >> 3),
		byte((frameLen&7)<<5 | 0x1F),
		0xFC,
	}
}

func TestParseAudioSpecificConfig(t *testing.T) {
	tests := []struct {
		name     string
		in       []byte
		obj      int
		rate     int
		channels int
	}{
		{"lc 44.1k stereo", []byte{0x12, 0x10}, 2, 44100, 2},
		{"lc 48k mono", []byte{0x11, 0x88}, 2, 48000, 1},
		{"he 24k stereo", []byte{0x2b, 0x10}, 5, 24000, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := parseAudioSpecificConfig(tt.in)
			if err != nil {
				t.Fatal(err)
			}
			if cfg.ObjectType != tt.obj || cfg.SampleRate != tt.rate || cfg.Channels != tt.channels {
				t.Errorf("cfg = %+v", cfg)
			}
		})
	}

	if _, err := parseAudioSpecificConfig([]byte{0x12}); err == nil {
		t.Error("truncated config accepted")
	}
	if _, err := parseAudioSpecificConfig([]byte{0x16, 0x90}); err == nil {
		t.Error("reserved sample rate index accepted")
	}
}

func TestParseADTS(t *testing.T) {
	h, err := parseADTS(adtsHeaderBytes(3, 2, 100))
	if err != nil {
		t.Fatal(err)
	}
	if h.SampleRate != 48000 || h.Channels != 2 || h.ObjectType != 2 {
		t.Errorf("config = %+v", h.aacConfig)
	}
	if h.HeaderSize != 7 || h.FrameLength != 100 {
		t.Errorf("header %d, frame %d", h.HeaderSize, h.FrameLength)
	}

	crc := adtsHeaderBytes(4, 1, 300)
	crc[1] = 0xF0
	h, err = parseADTS(crc)
	if err != nil || h.HeaderSize != 9 || h.FrameLength != 300 {
		t.Errorf("CRC header = %+v, %v", h, err)
	}

	for _, bad := range [][]byte{
		{0xFF, 0xF1, 0x4C},
		{0xFF, 0xE1, 0x4C, 0x80, 0x0C, 0x9F, 0xFC},
		adtsHeaderBytes(13, 2, 100),
		adtsHeaderBytes(3, 2, 5),
	} {
		if _, err := parseADTS(bad); err == nil {
			t.Errorf("parseADTS(%x) succeeded", bad)
		}
	}
}

func TestApplyAACConfig(t *testing.T) {
	var s Stream
	applyAACConfig(&s, aacConfig{ObjectType: 2, SampleRate: 44100, Channels: 2})
	if s.Params.SampleRate != 44100 || s.Params.Layout != LayoutStereo || s.Params.SampleFormat != SampleFormatF32P {
		t.Errorf("params = %+v", s.Params)
	}
}
