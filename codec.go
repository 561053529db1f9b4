package av

// MediaType identifies the kind of data a stream carries.
type MediaType int

const (
	MediaTypeUnknown MediaType = iota
	MediaTypeVideo
	MediaTypeAudio
	MediaTypeData
)

func (m MediaType) String() string {
	switch m {
	case MediaTypeVideo:
		return "video"
	case MediaTypeAudio:
		return "audio"
	case MediaTypeData:
		return "data"
	default:
		return "unknown"
	}
}

// CodecID identifies the compressed format of a stream.
type CodecID int

const (
	CodecUnknown CodecID = iota
	CodecH264
	CodecHEVC
	CodecRawVideo
	CodecVP8
	CodecVP9
	CodecAV1
	CodecAAC
	CodecMP3
	CodecOpus
	CodecPCMU8
	CodecPCMS16LE
	CodecPCMS16BE
	CodecPCMS24LE
	CodecPCMS32LE
	CodecPCMF32LE
	CodecPCMF64LE
	CodecPCMALaw
	CodecPCMMuLaw
	CodecMJPEG
	CodecPNG
	codecCount
)

// Codec names follow the decoder names used by libavcodec.
var codecNames = [codecCount]string{
	CodecUnknown:  "none",
	CodecH264:     "h264",
	CodecHEVC:     "hevc",
	CodecRawVideo: "rawvideo",
	CodecVP8:      "vp8",
	CodecVP9:      "vp9",
	CodecAV1:      "av1",
	CodecAAC:      "aac",
	CodecMP3:      "mp3",
	CodecOpus:     "opus",
	CodecPCMU8:    "pcm_u8",
	CodecPCMS16LE: "pcm_s16le",
	CodecPCMS16BE: "pcm_s16be",
	CodecPCMS24LE: "pcm_s24le",
	CodecPCMS32LE: "pcm_s32le",
	CodecPCMF32LE: "pcm_f32le",
	CodecPCMF64LE: "pcm_f64le",
	CodecPCMALaw:  "pcm_alaw",
	CodecPCMMuLaw: "pcm_mulaw",
	CodecMJPEG:    "mjpeg",
	CodecPNG:      "png",
}

func (c CodecID) String() string {
	if c < 0 || c >= codecCount {
		return "none"
	}
	return codecNames[c]
}

// CodecByName returns the codec with the given libavcodec-style name.
func CodecByName(name string) (CodecID, bool) {
	for i, n := range codecNames {
		if n == name && CodecID(i) != CodecUnknown {
			return CodecID(i), true
		}
	}
	return CodecUnknown, false
}

// MediaType returns the kind of stream the codec belongs to.
func (c CodecID) MediaType() MediaType {
	switch c {
	case CodecH264, CodecHEVC, CodecRawVideo, CodecVP8, CodecVP9, CodecAV1,
		CodecMJPEG, CodecPNG:
		return MediaTypeVideo
	case CodecUnknown:
		return MediaTypeUnknown
	default:
		if c < codecCount {
			return MediaTypeAudio
		}
		return MediaTypeUnknown
	}
}

// MimeType returns the MIME type for this codec.
func (c CodecID) MimeType() string {
	switch c {
	case CodecH264:
		return "video/H264"
	case CodecHEVC:
		return "video/H265"
	case CodecRawVideo:
		return "video/raw"
	case CodecVP8:
		return "video/VP8"
	case CodecVP9:
		return "video/VP9"
	case CodecAV1:
		return "video/AV1"
	case CodecMJPEG:
		return "image/jpeg"
	case CodecPNG:
		return "image/png"
	case CodecAAC:
		return "audio/aac"
	case CodecMP3:
		return "audio/mpeg"
	case CodecOpus:
		return "audio/opus"
	case CodecPCMALaw:
		return "audio/PCMA"
	case CodecPCMMuLaw:
		return "audio/PCMU"
	case CodecPCMS16BE:
		return "audio/L16"
	default:
		if c.MediaType() == MediaTypeAudio {
			return "audio/pcm"
		}
		return ""
	}
}

// ClockRate returns the RTP clock rate for this codec.
func (c CodecID) ClockRate() uint32 {
	switch c {
	case CodecOpus:
		return 48000
	case CodecPCMALaw, CodecPCMMuLaw:
		return 8000
	default:
		// All video codecs use 90kHz clock
		if c.MediaType() == MediaTypeVideo {
			return 90000
		}
		return 0
	}
}

// IsPCM reports whether the codec stores uncompressed samples.
func (c CodecID) IsPCM() bool {
	return c >= CodecPCMU8 && c <= CodecPCMMuLaw
}
