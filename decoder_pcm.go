package av

import (
	"encoding/binary"
	"fmt"
)

// pcmDecoder unpacks uncompressed audio into interleaved frames.
type pcmDecoder struct {
	codec    CodecID
	layout   ChannelLayout
	rate     int
	tb       TimeBase
	inBytes  int // bytes per input sample
	outFmt   SampleFormat
	channels int
}

var pcmOutputFormat = map[CodecID]SampleFormat{
	CodecPCMU8:    SampleFormatU8,
	CodecPCMS16LE: SampleFormatS16,
	CodecPCMS16BE: SampleFormatS16,
	CodecPCMS24LE: SampleFormatS32,
	CodecPCMS32LE: SampleFormatS32,
	CodecPCMF32LE: SampleFormatF32,
	CodecPCMF64LE: SampleFormatF64,
	CodecPCMALaw:  SampleFormatS16,
	CodecPCMMuLaw: SampleFormatS16,
}

func pcmInputBytes(c CodecID) int {
	switch c {
	case CodecPCMU8, CodecPCMALaw, CodecPCMMuLaw:
		return 1
	case CodecPCMS16LE, CodecPCMS16BE:
		return 2
	case CodecPCMS24LE:
		return 3
	case CodecPCMS32LE, CodecPCMF32LE:
		return 4
	case CodecPCMF64LE:
		return 8
	}
	return 0
}

func newPCMDecoder(s *Stream, _ DecoderOptions) (decoderBackend, error) {
	out, ok := pcmOutputFormat[s.Codec]
	if !ok {
		return nil, codeError("pcm", CodeDecoderNotFound)
	}
	channels := s.Params.Layout.Channels()
	if channels <= 0 || s.Params.SampleRate <= 0 {
		return nil, fmt.Errorf("pcm: %d channels at %d Hz: %w", channels, s.Params.SampleRate, ErrInvalidData)
	}
	tb := s.TimeBase
	if !tb.Valid() {
		tb = TimeBase{1, int64(s.Params.SampleRate)}
	}
	return &pcmDecoder{
		codec:    s.Codec,
		layout:   s.Params.Layout,
		rate:     s.Params.SampleRate,
		tb:       tb,
		inBytes:  pcmInputBytes(s.Codec),
		outFmt:   out,
		channels: channels,
	}, nil
}

func (d *pcmDecoder) decode(pkt *Packet) ([]*Frame, int32) {
	block := d.inBytes * d.channels
	count := len(pkt.Data) / block
	if count == 0 {
		return nil, NativeInvalidData
	}

	f := NewAudioFrame(d.outFmt, d.layout, d.rate, count)
	f.PTS = pkt.PTS
	f.TimeBase = d.tb
	f.Keyframe = true
	f.Duration = Rescale(int64(count), TimeBase{1, int64(d.rate)}, d.tb)

	src := pkt.Data[:count*block]
	dst := f.Data[0]
	switch d.codec {
	case CodecPCMU8, CodecPCMS16LE, CodecPCMS32LE, CodecPCMF32LE, CodecPCMF64LE:
		copy(dst, src)
	case CodecPCMS16BE:
		for i := 0; i+1 < len(src); i += 2 {
			dst[i], dst[i+1] = src[i+1], src[i]
		}
	case CodecPCMS24LE:
		for i, j := 0, 0; i+2 < len(src); i, j = i+3, j+4 {
			v := uint32(src[i])<<8 | uint32(src[i+1])<<16 | uint32(src[i+2])<<24
			binary.LittleEndian.PutUint32(dst[j:], v)
		}
	case CodecPCMALaw:
		for i, b := range src {
			binary.LittleEndian.PutUint16(dst[i*2:], uint16(alawTable[b]))
		}
	case CodecPCMMuLaw:
		for i, b := range src {
			binary.LittleEndian.PutUint16(dst[i*2:], uint16(ulawTable[b]))
		}
	}
	return []*Frame{f}, 0
}

func (d *pcmDecoder) drain() ([]*Frame, int32) { return nil, 0 }
func (d *pcmDecoder) reset() int32              { return 0 }
func (d *pcmDecoder) close()                    {}

var alawTable, ulawTable [256]int16

func alawToLinear(a byte) int16 {
	a ^= 0x55
	t := int32(a&0x0f) << 4
	seg := int32(a&0x70) >> 4
	switch seg {
	case 0:
		t += 8
	case 1:
		t += 0x108
	default:
		t += 0x108
		t <<= seg - 1
	}
	if a&0x80 != 0 {
		return int16(t)
	}
	return int16(-t)
}

func ulawToLinear(u byte) int16 {
	u = ^u
	t := (int32(u&0x0f) << 3) + 0x84
	t <<= (u & 0x70) >> 4
	if u&0x80 != 0 {
		return int16(0x84 - t)
	}
	return int16(t - 0x84)
}

func init() {
	for i := 0; i < 256; i++ {
		alawTable[i] = alawToLinear(byte(i))
		ulawTable[i] = ulawToLinear(byte(i))
	}
	for codec := range pcmOutputFormat {
		registerDecoder(decoderEntry{
			name:     codec.String(),
			codec:    codec,
			provider: ProviderBuiltin,
			factory:  newPCMDecoder,
		})
	}
}
