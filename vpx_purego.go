//go:build (darwin || linux) && !novpx

// VP8/VP9 decoding via libmedia_vpx (libvpx) using purego.

package av

import (
	"runtime"
	"unsafe"
)

var vpxLib = &nativeLib{
	name:    "media_vpx",
	envVar:  "MEDIA_VPX_LIB_PATH",
	sdkVar:  "MEDIA_SDK_LIB_PATH",
	bundled: true,
	bind:    bindMediaVPX,
}

// libmedia_vpx function pointers
var (
	mediaVPXDecoderCreate   func(codec, threads int32) uint64
	mediaVPXDecoderDecodeV2 func(decoder uint64, data uintptr, dataLen int32, resultOut uintptr) int32
	mediaVPXDecoderReset    func(decoder uint64) int32
	mediaVPXDecoderDestroy  func(decoder uint64)

	mediaVPXGetError       func() uintptr
	mediaVPXCodecAvailable func(codec int32) int32
)

// Constants from media_vpx.h
const (
	mediaVPXCodecVP8 = 0
	mediaVPXCodecVP9 = 1

	mediaVPXErrorNoMem   = -2
	mediaVPXErrorInvalid = -3
	mediaVPXErrorCodec   = -4
)

// mediaVPXDecodeResult mirrors MediaVPXDecodeResult. It is filled in a single
// call and must stay heap-allocated while the library writes to it.
type mediaVPXDecodeResult struct {
	YPtr     uint64
	UPtr     uint64
	VPtr     uint64
	YStride  int32
	UVStride int32
	Width    int32
	Height   int32
	Result   int32 // 1 = frame, 0 = buffering
	Reserved int32
}

func bindMediaVPX(handle uintptr) error {
	return bindFuncs(handle, []symbol{
		{&mediaVPXDecoderCreate, "media_vpx_decoder_create"},
		{&mediaVPXDecoderDecodeV2, "media_vpx_decoder_decode_v2"},
		{&mediaVPXDecoderReset, "media_vpx_decoder_reset"},
		{&mediaVPXDecoderDestroy, "media_vpx_decoder_destroy"},
		{&mediaVPXGetError, "media_vpx_get_error"},
		{&mediaVPXCodecAvailable, "media_vpx_codec_available"},
	})
}

// IsVP8DecoderAvailable reports whether libmedia_vpx is loaded with VP8 support.
func IsVP8DecoderAvailable() bool {
	return vpxLib.loaded() && mediaVPXCodecAvailable(mediaVPXCodecVP8) != 0
}

// IsVP9DecoderAvailable reports whether libmedia_vpx is loaded with VP9 support.
func IsVP9DecoderAvailable() bool {
	return vpxLib.loaded() && mediaVPXCodecAvailable(mediaVPXCodecVP9) != 0
}

func getVPXError() string {
	ptr := mediaVPXGetError()
	if ptr == 0 {
		return "unknown error"
	}
	return goStringFromPtr(ptr)
}

func vpxResult(r int32) int32 {
	switch r {
	case mediaVPXErrorNoMem:
		return NativeOutOfMemory
	case mediaVPXErrorInvalid, mediaVPXErrorCodec:
		return NativeInvalidData
	}
	return r
}

// vpxDecoder wraps a libvpx decoder handle. Neither VP8 nor VP9 reorders
// frames, so each output picture takes the timestamp of its packet.
type vpxDecoder struct {
	name   string
	handle uint64
	out    *mediaVPXDecodeResult
}

func newVPXFactory(codec int32, name string, available func() bool) decoderFactory {
	return func(s *Stream, opts DecoderOptions) (decoderBackend, error) {
		if !available() {
			return nil, codeError(name, CodeDecoderNotFound)
		}
		threads := int32(4)
		if opts.Threads > 0 {
			threads = int32(opts.Threads)
		}
		handle := mediaVPXDecoderCreate(codec, threads)
		if handle == 0 {
			return nil, &Error{Op: name + " create: " + getVPXError(), Code: CodeOutOfMemory, Raw: NativeOutOfMemory}
		}
		acquireNative()
		return &vpxDecoder{name: name, handle: handle, out: &mediaVPXDecodeResult{}}, nil
	}
}

func (d *vpxDecoder) decode(pkt *Packet) ([]*Frame, int32) {
	if len(pkt.Data) == 0 {
		return nil, 0
	}

	out := d.out
	*out = mediaVPXDecodeResult{}
	ret := mediaVPXDecoderDecodeV2(
		d.handle,
		uintptr(unsafe.Pointer(&pkt.Data[0])),
		int32(len(pkt.Data)),
		uintptr(unsafe.Pointer(out)),
	)
	runtime.KeepAlive(pkt.Data)
	runtime.KeepAlive(out)

	if ret < 0 {
		return nil, vpxResult(ret)
	}
	if out.Result <= 0 {
		return nil, 0
	}
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

	copyPlane(f.Data[0], f.Stride[0], uintptr(out.YPtr), int(out.YStride), w, h)
	cw, ch := (w+1)/2, (h+1)/2
	copyPlane(f.Data[1], f.Stride[1], uintptr(out.UPtr), int(out.UVStride), cw, ch)
	copyPlane(f.Data[2], f.Stride[2], uintptr(out.VPtr), int(out.UVStride), cw, ch)
	return []*Frame{f}, 0
}

func (d *vpxDecoder) drain() ([]*Frame, int32) { return nil, 0 }

func (d *vpxDecoder) reset() int32 {
	if d.handle == 0 {
		return 0
	}
	return vpxResult(mediaVPXDecoderReset(d.handle))
}

func (d *vpxDecoder) close() {
	if d.handle != 0 {
		mediaVPXDecoderDestroy(d.handle)
		d.handle = 0
		releaseNative()
	}
}

func init() {
	registerNativeLib(vpxLib)
	registerDecoder(decoderEntry{
		name:      "libvpx-vp8",
		codec:     CodecVP8,
		provider:  ProviderLibvpx,
		available: IsVP8DecoderAvailable,
		factory:   newVPXFactory(mediaVPXCodecVP8, "vp8", IsVP8DecoderAvailable),
	})
	registerDecoder(decoderEntry{
		name:      "libvpx-vp9",
		codec:     CodecVP9,
		provider:  ProviderLibvpx,
		available: IsVP9DecoderAvailable,
		factory:   newVPXFactory(mediaVPXCodecVP9, "vp9", IsVP9DecoderAvailable),
	})
}
