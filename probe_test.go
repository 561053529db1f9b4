package av

import (
	"testing"
)

func TestDetectCodec(t *testing.T) {
	oggOpus := make([]byte, 40)
	copy(oggOpus, "OggS")
	copy(oggOpus[28:], "OpusHead")
	oggOther := make([]byte, 40)
	copy(oggOther, "OggS")
	copy(oggOther[28:], "vorbis  ")

	tests := []struct {
		name string
		data []byte
		want CodecID
	}{
		{"annexb 4-byte sps", []byte{0, 0, 0, 1, 0x67, 0x42, 0x00, 0x1e}, CodecH264},
		{"annexb 3-byte idr", []byte{0, 0, 1, 0x65, 0x88, 0x84}, CodecH264},
		{"annexb hevc vps", []byte{0, 0, 0, 1, 0x40, 0x01, 0x0c}, CodecUnknown},
		{"avcc", []byte{0, 0, 0, 4, 0x65, 0x88, 0x84, 0x00}, CodecH264},
		{"adts", append(adtsHeaderBytes(4, 2, 64), 0x21, 0x00), CodecAAC},
		{"mp3", []byte{0xFF, 0xFB, 0x90, 0x64}, CodecMP3},
		{"ogg opus", oggOpus, CodecOpus},
		{"ogg vorbis", oggOther, CodecUnknown},
		{"short", []byte{0, 0, 1}, CodecUnknown},
		{"random", []byte{0x12, 0x34, 0x56, 0x78, 0x9a}, CodecUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectCodec(tt.data); got != tt.want {
				t.Errorf("DetectCodec = %v, want %v", got, tt.want)
			}
		})
	}
}
