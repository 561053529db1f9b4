//go:build (darwin || linux) && !noav1

// AV1 decoding via libmedia_av1 (libaom) using purego.

package av

import (
	"runtime"
	"unsafe"
)

var av1Lib = &nativeLib{
	name:    "media_av1",
	envVar:  "MEDIA_AV1_LIB_PATH",
	sdkVar:  "MEDIA_SDK_LIB_PATH",
	bundled: true,
	bind:    bindMediaAV1,
}

var (
	mediaAV1DecoderCreate  func(threads int32) uint64
	mediaAV1DecoderDecode  func(decoder uint64, data uintptr, dataLen int32, outY, outU, outV, outYStride, outUVStride, outWidth, outHeight uintptr) int32
	mediaAV1DecoderReset   func(decoder uint64) int32
	mediaAV1DecoderDestroy func(decoder uint64)

	mediaAV1GetError         func() uintptr
	mediaAV1DecoderAvailable func() int32
)

const (
	mediaAV1ErrorNoMem   = -2
	mediaAV1ErrorInvalid = -3
	mediaAV1ErrorCodec   = -4
)

// mediaAV1DecodeResult holds the decoder's output parameters on the heap.
type mediaAV1DecodeResult struct {
	YPtr     uintptr
	UPtr     uintptr
	VPtr     uintptr
	YStride  int32
	UVStride int32
	Width    int32
	Height   int32
}

func bindMediaAV1(handle uintptr) error {
	return bindFuncs(handle, []symbol{
		{&mediaAV1DecoderCreate, "media_av1_decoder_create"},
		{&mediaAV1DecoderDecode, "media_av1_decoder_decode"},
		{&mediaAV1DecoderReset, "media_av1_decoder_reset"},
		{&mediaAV1DecoderDestroy, "media_av1_decoder_destroy"},
		{&mediaAV1GetError, "media_av1_get_error"},
		{&mediaAV1DecoderAvailable, "media_av1_decoder_available"},
	})
}

// IsAV1DecoderAvailable checks if the native AV1 decoder is loaded.
func IsAV1DecoderAvailable() bool {
	return av1Lib.loaded() && mediaAV1DecoderAvailable() != 0
}

func getAV1Error() string {
	ptr := mediaAV1GetError()
	if ptr == 0 {
		return "unknown error"
	}
	return goStringFromPtr(ptr)
}

func av1Result(r int32) int32 {
	switch r {
	case mediaAV1ErrorNoMem:
		return NativeOutOfMemory
	case mediaAV1ErrorInvalid, mediaAV1ErrorCodec:
		return NativeInvalidData
	}
	return r
}

// av1Decoder decodes temporal units, one shown frame per unit.
type av1Decoder struct {
	handle uint64
	out    *mediaAV1DecodeResult
}

func newAV1Decoder(s *Stream, opts DecoderOptions) (decoderBackend, error) {
	if !IsAV1DecoderAvailable() {
		return nil, codeError("av1", CodeDecoderNotFound)
	}
	threads := int32(4)
	if opts.Threads > 0 {
		threads = int32(opts.Threads)
	}
	handle := mediaAV1DecoderCreate(threads)
	if handle == 0 {
		return nil, &Error{Op: "av1 create: " + getAV1Error(), Code: CodeOutOfMemory, Raw: NativeOutOfMemory}
	}
	acquireNative()

	d := &av1Decoder{handle: handle, out: &mediaAV1DecodeResult{}}
	// A sequence header from the container configures the decoder up front.
	if len(s.Params.Extradata) > 0 {
		if _, ret := d.call(s.Params.Extradata); ret < 0 {
			d.close()
			return nil, check("av1 extradata", ret)
		}
	}
	return d, nil
}

func (d *av1Decoder) call(data []byte) (bool, int32) {
	out := d.out
	result := mediaAV1DecoderDecode(
		d.handle,
		uintptr(unsafe.Pointer(&data[0])),
		int32(len(data)),
		uintptr(unsafe.Pointer(&out.YPtr)),
		uintptr(unsafe.Pointer(&out.UPtr)),
		uintptr(unsafe.Pointer(&out.VPtr)),
		uintptr(unsafe.Pointer(&out.YStride)),
		uintptr(unsafe.Pointer(&out.UVStride)),
		uintptr(unsafe.Pointer(&out.Width)),
		uintptr(unsafe.Pointer(&out.Height)),
	)
	runtime.KeepAlive(data)
	runtime.KeepAlive(out)

	if result < 0 {
		return false, av1Result(result)
	}
	return result > 0, 0
}

func (d *av1Decoder) decode(pkt *Packet) ([]*Frame, int32) {
	if len(pkt.Data) == 0 {
		return nil, 0
	}
	got, ret := d.call(pkt.Data)
	if ret < 0 || !got {
		return nil, ret
	}

	out := d.out
	if out.YStride <= 0 || out.UVStride <= 0 || out.Width <= 0 || out.Height <= 0 || out.YPtr == 0 {
		return nil, NativeInvalidData
	}

	w, h := int(out.Width), int(out.Height)
	f := NewVideoFrame(PixelFormatI420, w, h)
	f.PTS = pkt.PTS
	if f.PTS == NoPTS {
		f.PTS = pkt.DTS
	}
	f.Keyframe = pkt.Keyframe
	f.Duration = pkt.Duration

	copyPlane(f.Data[0], f.Stride[0], out.YPtr, int(out.YStride), w, h)
	cw, ch := (w+1)/2, (h+1)/2
	copyPlane(f.Data[1], f.Stride[1], out.UPtr, int(out.UVStride), cw, ch)
	copyPlane(f.Data[2], f.Stride[2], out.VPtr, int(out.UVStride), cw, ch)
	return []*Frame{f}, 0
}

func (d *av1Decoder) drain() ([]*Frame, int32) { return nil, 0 }

func (d *av1Decoder) reset() int32 {
	if d.handle == 0 {
		return 0
	}
	return av1Result(mediaAV1DecoderReset(d.handle))
}

func (d *av1Decoder) close() {
	if d.handle != 0 {
		mediaAV1DecoderDestroy(d.handle)
		d.handle = 0
		releaseNative()
	}
}

func init() {
	registerNativeLib(av1Lib)
	registerDecoder(decoderEntry{
		name:      "libaom-av1",
		codec:     CodecAV1,
		provider:  ProviderLibaom,
		available: IsAV1DecoderAvailable,
		factory:   newAV1Decoder,
	})
}
