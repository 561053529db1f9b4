//go:build (darwin || linux) && !noopus

// Opus decoding via libstream_opus using purego.
//
// libstream_opus is a thin wrapper around libopus with a simple
// primitive-only API.

package av

import (
	"encoding/binary"
	"runtime"
	"unsafe"
)

var opusLib = &nativeLib{
	name:    "stream_opus",
	envVar:  "STREAM_OPUS_LIB_PATH",
	sdkVar:  "STREAM_SDK_LIB_PATH",
	bundled: true,
	bind:    bindStreamOpus,
}

// libstream_opus function pointers
var (
	streamOpusDecoderCreate  func(sampleRate, channels int32) uint64
	streamOpusDecoderDecode  func(decoder uint64, data uintptr, dataLen int32, pcm uintptr, frameSize, decodeFEC int32) int32
	streamOpusDecoderReset   func(decoder uint64) int32
	streamOpusDecoderDestroy func(decoder uint64)

	streamOpusGetError   func() uintptr
	streamOpusGetVersion func() uintptr
)

// libopus error codes (opus_defines.h)
const (
	opusBadArg         = -1
	opusBufferTooSmall = -2
	opusInternalError  = -3
	opusInvalidPacket  = -4
	opusAllocFail      = -7
)

const opusSampleRate = 48000

func bindStreamOpus(handle uintptr) error {
	return bindFuncs(handle, []symbol{
		{&streamOpusDecoderCreate, "stream_opus_decoder_create"},
		{&streamOpusDecoderDecode, "stream_opus_decoder_decode"},
		{&streamOpusDecoderReset, "stream_opus_decoder_reset"},
		{&streamOpusDecoderDestroy, "stream_opus_decoder_destroy"},
		{&streamOpusGetError, "stream_opus_get_error"},
		{&streamOpusGetVersion, "stream_opus_get_version"},
	})
}

// IsOpusAvailable checks if libstream_opus is loaded.
func IsOpusAvailable() bool { return opusLib.loaded() }

// OpusVersion returns the libopus version string, or "" when not loaded.
func OpusVersion() string {
	if !opusLib.loaded() {
		return ""
	}
	return goStringFromPtr(streamOpusGetVersion())
}

func opusResult(r int32) int32 {
	switch r {
	case opusAllocFail:
		return NativeOutOfMemory
	case opusInvalidPacket, opusBadArg, opusBufferTooSmall:
		return NativeInvalidData
	}
	return r
}

// opusDecoder produces interleaved S16 frames at 48 kHz.
type opusDecoder struct {
	handle   uint64
	channels int
	layout   ChannelLayout
	tb       TimeBase
	pcm      []int16
}

func newOpusDecoder(s *Stream, _ DecoderOptions) (decoderBackend, error) {
	if !IsOpusAvailable() {
		return nil, codeError("opus", CodeDecoderNotFound)
	}

	channels := s.Params.Layout.Channels()
	if channels <= 0 {
		channels = 2
	}
	if channels > 2 {
		return nil, &Error{Op: "opus: more than 2 channels", Code: CodeInvalidData, Raw: NativeInvalidData}
	}

	handle := streamOpusDecoderCreate(opusSampleRate, int32(channels))
	if handle == 0 {
		return nil, &Error{Op: "opus create: " + goStringFromPtr(streamOpusGetError()), Code: CodeOutOfMemory, Raw: NativeOutOfMemory}
	}
	acquireNative()

	tb := s.TimeBase
	if !tb.Valid() {
		tb = TimeBase{1, opusSampleRate}
	}

	// Buffer for 120ms of audio (max Opus frame size)
	return &opusDecoder{
		handle:   handle,
		channels: channels,
		layout:   DefaultChannelLayout(channels),
		tb:       tb,
		pcm:      make([]int16, opusSampleRate*120/1000*channels),
	}, nil
}

func (d *opusDecoder) decode(pkt *Packet) ([]*Frame, int32) {
	var dataPtr uintptr
	dataLen := int32(0)
	if len(pkt.Data) > 0 {
		dataPtr = uintptr(unsafe.Pointer(&pkt.Data[0]))
		dataLen = int32(len(pkt.Data))
	}

	result := streamOpusDecoderDecode(
		d.handle,
		dataPtr,
		dataLen,
		uintptr(unsafe.Pointer(&d.pcm[0])),
		int32(opusSampleRate*120/1000),
		0, // No FEC decoding by default
	)
	runtime.KeepAlive(pkt.Data)
	runtime.KeepAlive(d.pcm)

	if result < 0 {
		return nil, opusResult(result)
	}
	if result == 0 {
		return nil, 0
	}

	count := int(result)
	f := NewAudioFrame(SampleFormatS16, d.layout, opusSampleRate, count)
	f.PTS = pkt.PTS
	f.TimeBase = d.tb
	f.Keyframe = true
	f.Duration = Rescale(int64(count), TimeBase{1, opusSampleRate}, d.tb)

	// Convert int16 to bytes (little-endian)
	dst := f.Data[0]
	for i := 0; i < count*d.channels; i++ {
		binary.LittleEndian.PutUint16(dst[i*2:], uint16(d.pcm[i]))
	}
	return []*Frame{f}, 0
}

func (d *opusDecoder) drain() ([]*Frame, int32) { return nil, 0 }

func (d *opusDecoder) reset() int32 {
	if d.handle == 0 {
		return 0
	}
	return opusResult(streamOpusDecoderReset(d.handle))
}

func (d *opusDecoder) close() {
	if d.handle != 0 {
		streamOpusDecoderDestroy(d.handle)
		d.handle = 0
		releaseNative()
	}
}

func init() {
	registerNativeLib(opusLib)
	registerDecoder(decoderEntry{
		name:      "libopus",
		codec:     CodecOpus,
		provider:  ProviderLibopus,
		available: IsOpusAvailable,
		factory:   newOpusDecoder,
	})
}
