//go:build darwin || linux

package av

import (
	"bytes"
	"fmt"
	"runtime"
	"unsafe"
)

// System FFmpeg libraries. They are optional and only used for error text,
// version reporting and decoder availability probes.
var (
	avutilLib = &nativeLib{
		name:    "avutil",
		envVar:  "AV_AVUTIL_LIB_PATH",
		sonames: []string{"libavutil.so.60", "libavutil.so.59", "libavutil.so.58", "libavutil.so.57", "libavutil.60.dylib", "libavutil.59.dylib"},
		bind:    bindAvutil,
	}
	avcodecLib = &nativeLib{
		name:    "avcodec",
		envVar:  "AV_AVCODEC_LIB_PATH",
		sonames: []string{"libavcodec.so.62", "libavcodec.so.61", "libavcodec.so.60", "libavcodec.so.59", "libavcodec.62.dylib", "libavcodec.61.dylib"},
		bind:    bindAvcodec,
	}
)

var (
	avStrerror     func(errnum int32, errbuf uintptr, size uintptr) int32
	avutilVersion  func() uint32
	avcodecVersion func() uint32

	avcodecFindDecoderByName func(name string) uintptr
)

func init() {
	registerNativeLib(avutilLib)
	registerNativeLib(avcodecLib)
}

func bindAvutil(handle uintptr) error {
	return bindFuncs(handle, []symbol{
		{&avStrerror, "av_strerror"},
		{&avutilVersion, "avutil_version"},
	})
}

func bindAvcodec(handle uintptr) error {
	return bindFuncs(handle, []symbol{
		{&avcodecVersion, "avcodec_version"},
		{&avcodecFindDecoderByName, "avcodec_find_decoder_by_name"},
	})
}

// nativeStrerror returns libavutil's description of raw, or "" when the
// library is not loaded.
func nativeStrerror(raw int32) string {
	if !avutilLib.loaded() {
		return ""
	}
	buf := make([]byte, 128)
	ret := avStrerror(raw, uintptr(unsafe.Pointer(&buf[0])), uintptr(len(buf)))
	runtime.KeepAlive(buf)
	if ret < 0 {
		return ""
	}
	if i := bytes.IndexByte(buf, 0); i >= 0 {
		buf = buf[:i]
	}
	return string(buf)
}

func formatAVVersion(v uint32) string {
	return fmt.Sprintf("%d.%d.%d", v>>16, (v>>8)&0xff, v&0xff)
}

// LibavVersions reports the versions of the loaded system libavutil and
// libavcodec. Missing libraries report an empty string.
func LibavVersions() (avutil, avcodec string) {
	if avutilLib.loaded() {
		avutil = formatAVVersion(avutilVersion())
	}
	if avcodecLib.loaded() {
		avcodec = formatAVVersion(avcodecVersion())
	}
	return avutil, avcodec
}

// LibavHasDecoder reports whether the system libavcodec knows a decoder with
// the given name. Used by probe output to explain missing built-in decoders.
func LibavHasDecoder(name string) bool {
	if !avcodecLib.loaded() {
		return false
	}
	return avcodecFindDecoderByName(name) != 0
}
