//go:build (darwin || linux) && !noh264

// H.264 decoding via libmedia_h264 (OpenH264) using purego.

package av

import (
	"runtime"
	"unsafe"
)

var h264Lib = &nativeLib{
	name:    "media_h264",
	envVar:  "MEDIA_H264_LIB_PATH",
	sdkVar:  "MEDIA_SDK_LIB_PATH",
	bundled: true,
	bind:    bindMediaH264,
}

// libmedia_h264 function pointers
var (
	mediaH264DecoderCreate  func(threads int32) uint64
	mediaH264DecoderDecode  func(decoder uint64, data uintptr, dataLen int32, outY, outU, outV, outYStride, outUVStride, outWidth, outHeight uintptr) int32
	mediaH264DecoderReset   func(decoder uint64) int32
	mediaH264DecoderDestroy func(decoder uint64)

	mediaH264GetError         func() uintptr
	mediaH264DecoderAvailable func() int32
)

// Constants from media_h264.h
const (
	mediaH264OK           = 0
	mediaH264Error        = -1
	mediaH264ErrorNoMem   = -2
	mediaH264ErrorInvalid = -3
	mediaH264ErrorCodec   = -4
)

// mediaH264DecodeResult is a heap-allocated struct for decoder output parameters.
// This struct must be heap-allocated for purego to work correctly on arm64.
// Using local stack variables for output parameters can fail due to GC moving
// the stack during the C call.
type mediaH264DecodeResult struct {
	YPtr     uintptr // Pointer to Y plane
	UPtr     uintptr // Pointer to U plane
	VPtr     uintptr // Pointer to V plane
	YStride  int32   // Y plane stride
	UVStride int32   // UV plane stride
	Width    int32   // Frame width
	Height   int32   // Frame height
}

func bindMediaH264(handle uintptr) error {
	return bindFuncs(handle, []symbol{
		{&mediaH264DecoderCreate, "media_h264_decoder_create"},
		{&mediaH264DecoderDecode, "media_h264_decoder_decode"},
		{&mediaH264DecoderReset, "media_h264_decoder_reset"},
		{&mediaH264DecoderDestroy, "media_h264_decoder_destroy"},
		{&mediaH264GetError, "media_h264_get_error"},
		{&mediaH264DecoderAvailable, "media_h264_decoder_available"},
	})
}

// IsH264DecoderAvailable checks if the native H.264 decoder is loaded.
func IsH264DecoderAvailable() bool {
	return h264Lib.loaded() && mediaH264DecoderAvailable() != 0
}

func getH264Error() string {
	ptr := mediaH264GetError()
	if ptr == 0 {
		return "unknown error"
	}
	return goStringFromPtr(ptr)
}

// h264Result maps libmedia_h264 status codes onto native error codes.
func h264Result(r int32) int32 {
	switch r {
	case mediaH264ErrorNoMem:
		return NativeOutOfMemory
	case mediaH264ErrorInvalid, mediaH264ErrorCodec:
		return NativeInvalidData
	}
	return r
}

// h264Decoder wraps an OpenH264 decoder handle. OpenH264 emits pictures in
// display order without timestamps, so the timing of pending packets is kept
// and the earliest entry is attached to each output picture.
type h264Decoder struct {
	handle  uint64
	out     *mediaH264DecodeResult // heap-allocated for purego arm64
	pending pendingPictures
}

func newH264Decoder(s *Stream, opts DecoderOptions) (decoderBackend, error) {
	if !IsH264DecoderAvailable() {
		return nil, codeError("h264", CodeDecoderNotFound)
	}

	threads := int32(4)
	if opts.Threads > 0 {
		threads = int32(opts.Threads)
	}

	handle := mediaH264DecoderCreate(threads)
	if handle == 0 {
		return nil, &Error{Op: "h264 create: " + getH264Error(), Code: CodeOutOfMemory, Raw: NativeOutOfMemory}
	}
	acquireNative()

	d := &h264Decoder{handle: handle, out: &mediaH264DecodeResult{}}

	// Parameter sets produce no picture but prime the decoder.
	if len(s.Params.Extradata) > 0 {
		if _, ret := d.call(s.Params.Extradata); ret < 0 {
			d.close()
			return nil, check("h264 extradata", ret)
		}
	}
	return d, nil
}

// call feeds data to the decoder. An empty buffer signals end of stream and
// releases a picture OpenH264 still holds for reordering.
func (d *h264Decoder) call(data []byte) (bool, int32) {
	var ptr uintptr
	if len(data) > 0 {
		ptr = uintptr(unsafe.Pointer(&data[0]))
	}
	out := d.out
	result := mediaH264DecoderDecode(
		d.handle,
		ptr,
		int32(len(data)),
		uintptr(unsafe.Pointer(&out.YPtr)),
		uintptr(unsafe.Pointer(&out.UPtr)),
		uintptr(unsafe.Pointer(&out.VPtr)),
		uintptr(unsafe.Pointer(&out.YStride)),
		uintptr(unsafe.Pointer(&out.UVStride)),
		uintptr(unsafe.Pointer(&out.Width)),
		uintptr(unsafe.Pointer(&out.Height)),
	)

	// Keep the struct and input alive during and after the C call
	runtime.KeepAlive(data)
	runtime.KeepAlive(out)

	if result < 0 {
		return false, h264Result(result)
	}
	return result > 0, 0
}

func (d *h264Decoder) decode(pkt *Packet) ([]*Frame, int32) {
	if len(pkt.Data) == 0 {
		return nil, 0
	}
	d.pending.add(pkt)

	got, ret := d.call(pkt.Data)
	if ret < 0 || !got {
		return nil, ret
	}
	f, ret := d.picture()
	if ret < 0 {
		return nil, ret
	}
	return []*Frame{f}, 0
}

// picture copies the decoder's output picture into a frame.
func (d *h264Decoder) picture() (*Frame, int32) {
	out := d.out
	if out.YStride <= 0 || out.UVStride <= 0 || out.Width <= 0 || out.Height <= 0 || out.YPtr == 0 {
		return nil, NativeInvalidData
	}

	w, h := int(out.Width), int(out.Height)
	f := NewVideoFrame(PixelFormatI420, w, h)
	f.PTS = NoPTS
	if p, ok := d.pending.next(); ok {
		f.PTS, f.Keyframe, f.Duration = p.pts, p.keyframe, p.duration
	}

	copyPlane(f.Data[0], f.Stride[0], out.YPtr, int(out.YStride), w, h)
	cw, ch := (w+1)/2, (h+1)/2
	copyPlane(f.Data[1], f.Stride[1], out.UPtr, int(out.UVStride), cw, ch)
	copyPlane(f.Data[2], f.Stride[2], out.VPtr, int(out.UVStride), cw, ch)
	return f, 0
}

func copyPlane(dst []byte, dstStride int, src uintptr, srcStride, width, rows int) {
	for row := 0; row < rows; row++ {
		line := unsafe.Slice((*byte)(unsafe.Pointer(src+uintptr(row*srcStride))), width)
		copy(dst[row*dstStride:row*dstStride+width], line)
	}
}

// drain collects the pictures OpenH264 still holds. It stops when the decoder
// has nothing left or rejects the end of stream call.
func (d *h264Decoder) drain() ([]*Frame, int32) {
	var frames []*Frame
	for d.pending.Len() > 0 {
		got, ret := d.call(nil)
		if ret < 0 || !got {
			break
		}
		f, ret := d.picture()
		if ret < 0 {
			d.pending.clear()
			return frames, ret
		}
		frames = append(frames, f)
	}
	d.pending.clear()
	return frames, 0
}

func (d *h264Decoder) reset() int32 {
	d.pending.clear()
	if d.handle == 0 {
		return 0
	}
	return h264Result(mediaH264DecoderReset(d.handle))
}

func (d *h264Decoder) close() {
	if d.handle != 0 {
		mediaH264DecoderDestroy(d.handle)
		d.handle = 0
		releaseNative()
	}
}

func init() {
	registerNativeLib(h264Lib)
	registerDecoder(decoderEntry{
		name:      "libopenh264",
		codec:     CodecH264,
		provider:  ProviderOpenH264,
		available: IsH264DecoderAvailable,
		factory:   newH264Decoder,
	})
}
