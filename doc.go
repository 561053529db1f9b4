// Package av opens media inputs, splits them into packets and decodes the
// packets into raw frames, in the style of libavformat and libavcodec.
//
// Key pieces include:
//   - Session: a demuxed input (WAV, Y4M, MPEG-TS, FLV, H.264 Annex-B) read
//     from a file, a pipe or a network locator (srt://, rtmp://, rtp://)
//   - Decoder: per-stream decoding with Submit/ReceiveFrame semantics
//   - Convert, VideoScaler: pixel format, size, sample format, layout and
//     rate conversion of decoded frames
//   - Pipeline: a worker that reads, decodes and converts into a bounded
//     frame queue
//
// # Architecture
//
//	Open/OpenReader -> Session.NextPacket -> Decoder.Submit -> Decoder.ReceiveFrame -> Convert
//	Pipeline runs the same chain on a worker goroutine.
//
// # Errors
//
// Every native result is an int32; values >= 0 are success and negative
// values are codes that map to an ErrorCode. Errors returned by this package
// match the Err* sentinels with errors.Is, and CategoryOf tells callers
// whether to retry (WouldBlock), stop (EndOfStream) or give up.
//
// # Native Libraries
//
// PCM, G.711 and raw video decode in pure Go. H.264, Opus, VP8, VP9 and AV1
// use native decoders loaded with purego (CGO_ENABLED=0). Set
// MEDIA_H264_LIB_PATH, STREAM_OPUS_LIB_PATH, MEDIA_VPX_LIB_PATH,
// MEDIA_AV1_LIB_PATH or MEDIA_SDK_LIB_PATH to locate them. System FFmpeg
// libraries are used for error text when present (AV_AVUTIL_LIB_PATH,
// AV_AVCODEC_LIB_PATH).
//
// # Build Tags
//
// Optional tags disable features:
//   - noopus, noh264, novpx, noav1: disable specific codecs
package av
