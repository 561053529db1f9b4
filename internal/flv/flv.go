// Package flv reads and writes the FLV container: the file header, tag
// framing, audio/video tag headers and onMetaData script data.
package flv

import (
	"encoding/binary"
	"errors"
)

// Tag types.
const (
	TagTypeAudio  = 8
	TagTypeVideo  = 9
	TagTypeScript = 18
)

// Sound formats carried in the upper nibble of an audio tag.
const (
	SoundFormatPCMPlatform = 0
	SoundFormatADPCM       = 1
	SoundFormatMP3         = 2
	SoundFormatPCMLE       = 3
	SoundFormatALaw        = 7
	SoundFormatMuLaw       = 8
	SoundFormatAAC         = 10
	SoundFormatSpeex       = 11
)

// AAC packet types.
const (
	AACSequenceHeader = 0
	AACRaw            = 1
)

// Video codec IDs carried in the lower nibble of a video tag.
const (
	VideoCodecH263 = 2
	VideoCodecVP6  = 4
	VideoCodecAVC  = 7
	VideoCodecHEVC = 12
)

// Video frame types.
const (
	FrameTypeKey   = 1
	FrameTypeInter = 2
)

// AVC packet types.
const (
	AVCSequenceHeader = 0
	AVCNALU           = 1
	AVCEndOfSequence  = 2
)

const (
	// HeaderSize is the size of the file header without the first
	// PreviousTagSize field.
	HeaderSize = 9
	// TagHeaderSize is the fixed part preceding each tag body.
	TagHeaderSize = 11
)

var (
	ErrBadSignature = errors.New("flv: bad signature")
	ErrShortTag     = errors.New("flv: truncated tag")
)

// Header is the FLV file header.
type Header struct {
	Version  byte
	HasAudio bool
	HasVideo bool
	// DataOffset is the size of the header as declared in the file.
	DataOffset uint32
}

// ParseHeader parses the file header from the start of b.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, ErrShortTag
	}
	if b[0] != 'F' || b[1] != 'L' || b[2] != 'V' {
		return Header{}, ErrBadSignature
	}
	h := Header{
		Version:    b[3],
		HasAudio:   b[4]&0x04 != 0,
		HasVideo:   b[4]&0x01 != 0,
		DataOffset: binary.BigEndian.Uint32(b[5:9]),
	}
	if h.DataOffset < HeaderSize {
		return Header{}, ErrBadSignature
	}
	return h, nil
}

// Bytes encodes the header followed by the zero PreviousTagSize0.
func (h Header) Bytes() []byte {
	b := make([]byte, HeaderSize+4)
	copy(b, "FLV")
	b[3] = h.Version
	if b[3] == 0 {
		b[3] = 1
	}
	if h.HasAudio {
		b[4] |= 0x04
	}
	if h.HasVideo {
		b[4] |= 0x01
	}
	binary.BigEndian.PutUint32(b[5:9], HeaderSize)
	return b
}

// Probe reports whether b starts with an FLV signature.
func Probe(b []byte) bool {
	_, err := ParseHeader(b)
	return err == nil
}

// TagHeader is the fixed part of a tag.
type TagHeader struct {
	Type      byte
	DataSize  uint32
	Timestamp uint32 // milliseconds, extended byte applied
	StreamID  uint32
}

// ParseTagHeader parses the 11 bytes preceding a tag body.
func ParseTagHeader(b []byte) (TagHeader, error) {
	if len(b) < TagHeaderSize {
		return TagHeader{}, ErrShortTag
	}
	return TagHeader{
		Type:      b[0] & 0x1f,
		DataSize:  uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]),
		Timestamp: uint32(b[7])<<24 | uint32(b[4])<<16 | uint32(b[5])<<8 | uint32(b[6]),
		StreamID:  uint32(b[8])<<16 | uint32(b[9])<<8 | uint32(b[10]),
	}, nil
}

// Tag is a complete tag.
type Tag struct {
	Type      byte
	Timestamp uint32
	Data      []byte
}

// Bytes encodes the tag followed by its PreviousTagSize field.
func (t *Tag) Bytes() []byte {
	n := len(t.Data)
	b := make([]byte, TagHeaderSize+n+4)
	b[0] = t.Type
	b[1] = byte(n >> 16)
	b[2] = byte(n >> 8)
	b[3] = byte(n)
	b[4] = byte(t.Timestamp >> 16)
	b[5] = byte(t.Timestamp >> 8)
	b[6] = byte(t.Timestamp)
	b[7] = byte(t.Timestamp >> 24)
	copy(b[TagHeaderSize:], t.Data)
	binary.BigEndian.PutUint32(b[TagHeaderSize+n:], uint32(TagHeaderSize+n))
	return b
}

// AudioHeader is the first byte (and for AAC the second) of an audio body.
type AudioHeader struct {
	SoundFormat byte
	// SampleRate is the rate index: 0=5.5kHz, 1=11kHz, 2=22kHz, 3=44kHz.
	SampleRate    byte
	Is16Bit       bool
	Stereo        bool
	AACPacketType byte
	// Size is the number of header bytes before the payload.
	Size int
}

// Rate returns the sample rate in Hz encoded by SampleRate.
func (h AudioHeader) Rate() int {
	switch h.SampleRate {
	case 0:
		return 5512
	case 1:
		return 11025
	case 2:
		return 22050
	}
	return 44100
}

// ParseAudioHeader parses the header of an audio tag body.
func ParseAudioHeader(b []byte) (AudioHeader, error) {
	if len(b) < 1 {
		return AudioHeader{}, ErrShortTag
	}
	h := AudioHeader{
		SoundFormat: b[0] >> 4,
		SampleRate:  (b[0] >> 2) & 0x03,
		Is16Bit:     b[0]&0x02 != 0,
		Stereo:      b[0]&0x01 != 0,
		Size:        1,
	}
	if h.SoundFormat == SoundFormatAAC {
		if len(b) < 2 {
			return AudioHeader{}, ErrShortTag
		}
		h.AACPacketType = b[1]
		h.Size = 2
	}
	return h, nil
}

// VideoHeader is the header of a video body.
type VideoHeader struct {
	FrameType     byte
	CodecID       byte
	AVCPacketType byte
	// CompositionTime is the PTS-DTS offset in milliseconds.
	CompositionTime int32
	Size            int
}

// ParseVideoHeader parses the header of a video tag body.
func ParseVideoHeader(b []byte) (VideoHeader, error) {
	if len(b) < 1 {
		return VideoHeader{}, ErrShortTag
	}
	h := VideoHeader{
		FrameType: b[0] >> 4,
		CodecID:   b[0] & 0x0f,
		Size:      1,
	}
	if h.CodecID == VideoCodecAVC || h.CodecID == VideoCodecHEVC {
		if len(b) < 5 {
			return VideoHeader{}, ErrShortTag
		}
		h.AVCPacketType = b[1]
		ct := int32(b[2])<<16 | int32(b[3])<<8 | int32(b[4])
		if ct&0x800000 != 0 {
			ct -= 1 << 24
		}
		h.CompositionTime = ct
		h.Size = 5
	}
	return h, nil
}
