package av

import (
	"strconv"

	"github.com/thesyncim/av/internal/flv"
)

// flvProbeTags bounds how many tags readHeader reads to find codec
// configuration.
const flvProbeTags = 64

var flvTimeBase = TimeBase{1, 1000}

// flvTags turns FLV audio and video tag bodies into packets. RTMP carries the
// same bodies, so the RTMP input shares it.
type flvTags struct {
	audio, video int // stream indices, -1 until created
	lengthSize   int
	audioReady   bool
	videoReady   bool
	// frozen stops new streams from being added once the header is read.
	frozen bool
}

func newFLVTags() *flvTags { return &flvTags{audio: -1, video: -1} }

// ready reports whether every created stream has its configuration.
func (t *flvTags) ready(wantAudio, wantVideo bool) bool {
	if wantAudio && (t.audio < 0 || !t.audioReady) {
		return false
	}
	if wantVideo && (t.video < 0 || !t.videoReady) {
		return false
	}
	return t.audio >= 0 || t.video >= 0
}

func (t *flvTags) tag(fc *formatContext, typ byte, ts uint32, body []byte) (*Packet, int32) {
	switch typ {
	case flv.TagTypeAudio:
		return t.audioTag(fc, ts, body)
	case flv.TagTypeVideo:
		return t.videoTag(fc, ts, body)
	}
	return nil, 0
}

func (t *flvTags) audioTag(fc *formatContext, ts uint32, body []byte) (*Packet, int32) {
	h, err := flv.ParseAudioHeader(body)
	if err != nil {
		return nil, NativeInvalidData
	}
	if t.audio < 0 {
		if t.frozen || !t.addAudio(fc, h) {
			return nil, 0
		}
	}
	st := fc.streams[t.audio]
	payload := body[h.Size:]

	if h.SoundFormat == flv.SoundFormatAAC && h.AACPacketType == flv.AACSequenceHeader {
		cfg, err := parseAudioSpecificConfig(payload)
		if err != nil {
			return nil, NativeInvalidData
		}
		applyAACConfig(st, cfg)
		st.Params.Extradata = append([]byte(nil), payload...)
		t.audioReady = true
		return nil, 0
	}
	if len(payload) == 0 {
		return nil, 0
	}
	return &Packet{
		Data:        append([]byte(nil), payload...),
		StreamIndex: t.audio,
		PTS:         int64(ts),
		DTS:         int64(ts),
		Keyframe:    true,
		Pos:         -1,
	}, 0
}

func (t *flvTags) addAudio(fc *formatContext, h flv.AudioHeader) bool {
	channels := 1
	if h.Stereo {
		channels = 2
	}
	rate := h.Rate()
	codec := CodecUnknown
	switch h.SoundFormat {
	case flv.SoundFormatPCMPlatform, flv.SoundFormatPCMLE:
		codec = CodecPCMU8
		if h.Is16Bit {
			codec = CodecPCMS16LE
		}
	case flv.SoundFormatALaw:
		codec, rate = CodecPCMALaw, 8000
	case flv.SoundFormatMuLaw:
		codec, rate = CodecPCMMuLaw, 8000
	case flv.SoundFormatAAC:
		codec = CodecAAC
	case flv.SoundFormatMP3:
		codec = CodecMP3
	default:
		fc.log.Debug().Uint8("sound_format", h.SoundFormat).Msg("skipping unsupported audio")
		return false
	}

	st := fc.addStream(&Stream{
		Type:     MediaTypeAudio,
		Codec:    codec,
		TimeBase: flvTimeBase,
		Params: CodecParameters{
			SampleRate: rate,
			Layout:     DefaultChannelLayout(channels),
		},
		Disposition: DispositionDefault,
	})
	if out, ok := pcmOutputFormat[codec]; ok {
		st.Params.SampleFormat = out
	}
	t.audio = st.Index
	t.audioReady = codec != CodecAAC
	return true
}

func (t *flvTags) videoTag(fc *formatContext, ts uint32, body []byte) (*Packet, int32) {
	h, err := flv.ParseVideoHeader(body)
	if err != nil {
		return nil, NativeInvalidData
	}
	if h.FrameType == 5 {
		return nil, 0 // video info/command frame
	}
	if t.video < 0 {
		if t.frozen || !t.addVideo(fc, h) {
			return nil, 0
		}
	}
	st := fc.streams[t.video]
	payload := body[h.Size:]

	data := payload
	if h.CodecID == flv.VideoCodecAVC {
		switch h.AVCPacketType {
		case flv.AVCSequenceHeader:
			cfg, err := parseAVCConfig(payload)
			if err != nil {
				return nil, NativeInvalidData
			}
			t.lengthSize = cfg.LengthSize
			extradata := cfg.AnnexB()
			if !applySPS(st, extradata) {
				st.Params.Extradata = extradata
			}
			t.videoReady = true
			return nil, 0
		case flv.AVCEndOfSequence:
			return nil, 0
		}
		if t.lengthSize == 0 {
			t.lengthSize = 4
		}
		if data, err = avccToAnnexB(payload, t.lengthSize); err != nil {
			return nil, NativeInvalidData
		}
	} else {
		data = append([]byte(nil), payload...)
	}
	if len(data) == 0 {
		return nil, 0
	}

	return &Packet{
		Data:        data,
		StreamIndex: t.video,
		PTS:         int64(ts) + int64(h.CompositionTime),
		DTS:         int64(ts),
		Keyframe:    h.FrameType == flv.FrameTypeKey,
		Pos:         -1,
	}, 0
}

func (t *flvTags) addVideo(fc *formatContext, h flv.VideoHeader) bool {
	var codec CodecID
	switch h.CodecID {
	case flv.VideoCodecAVC:
		codec = CodecH264
	case flv.VideoCodecHEVC:
		codec = CodecHEVC
	default:
		fc.log.Debug().Uint8("codec_id", h.CodecID).Msg("skipping unsupported video")
		return false
	}
	st := fc.addStream(&Stream{
		Type:        MediaTypeVideo,
		Codec:       codec,
		TimeBase:    flvTimeBase,
		Params:      CodecParameters{PixelFormat: PixelFormatI420},
		Disposition: DispositionDefault,
	})
	t.video = st.Index
	t.videoReady = codec != CodecH264
	return true
}

// applyScriptData copies onMetaData values into container metadata.
func applyScriptData(fc *formatContext, sd *flv.ScriptData) {
	if sd.Name != "onMetaData" {
		return
	}
	for key, v := range sd.Values {
		switch val := v.(type) {
		case string:
			fc.metadata[key] = val
		case float64:
			fc.metadata[key] = strconv.FormatFloat(val, 'g', -1, 64)
		case bool:
			fc.metadata[key] = strconv.FormatBool(val)
		}
	}
	if d, ok := sd.Number("duration"); ok && d > 0 {
		fc.duration = int64(d * 1e6)
	}
}

type flvDemuxer struct {
	tags      *flvTags
	dataStart int64
}

func probeFLV(b []byte) int {
	if flv.Probe(b) {
		return 100
	}
	return 0
}

func (d *flvDemuxer) readHeader(fc *formatContext) int32 {
	src := fc.src
	b, ret := src.peek(flv.HeaderSize)
	if ret < 0 {
		return invalidOnEOF(ret)
	}
	h, err := flv.ParseHeader(b)
	if err != nil {
		return NativeInvalidData
	}
	if ret := src.skip(int64(h.DataOffset) + 4); ret < 0 {
		return invalidOnEOF(ret)
	}
	d.dataStart = src.pos()
	d.tags = newFLVTags()

	for n := 0; n < flvProbeTags && !d.tags.ready(h.HasAudio, h.HasVideo); n++ {
		pkt, ret := d.next(fc, true)
		if ret == NativeEndOfStream {
			break
		}
		if ret < 0 {
			return ret
		}
		if pkt != nil {
			fc.enqueue(pkt)
		}
	}
	d.tags.frozen = true

	if fc.duration != NoPTS {
		for _, st := range fc.streams {
			st.StartTime = 0
			st.Duration = Rescale(fc.duration, TimeBaseMicroseconds, st.TimeBase)
		}
	}
	return 0
}

// next reads one tag. It returns a nil packet for tags that carry no media.
func (d *flvDemuxer) next(fc *formatContext, header bool) (*Packet, int32) {
	src := fc.src
	b, ret := src.peek(flv.TagHeaderSize)
	if ret < 0 {
		return nil, ret
	}
	th, err := flv.ParseTagHeader(b)
	if err != nil {
		return nil, NativeInvalidData
	}
	total := flv.TagHeaderSize + int(th.DataSize) + 4
	b, ret = src.peek(total)
	if ret == NativeEndOfStream && len(b) >= total-4 {
		// Last tag without a trailing size field.
		total = len(b)
	} else if ret < 0 {
		return nil, ret
	}
	body := b[flv.TagHeaderSize : flv.TagHeaderSize+int(th.DataSize)]

	var pkt *Packet
	switch th.Type {
	case flv.TagTypeScript:
		if header {
			if sd, err := flv.ParseScriptData(body); err == nil {
				applyScriptData(fc, sd)
			} else {
				fc.log.Debug().Err(err).Msg("ignoring script data")
			}
		}
	default:
		pkt, ret = d.tags.tag(fc, th.Type, th.Timestamp, body)
	}
	pos := src.pos()
	src.discard(total)
	if ret < 0 {
		return nil, ret
	}
	if pkt != nil {
		pkt.Pos = pos
	}
	return pkt, 0
}

func (d *flvDemuxer) readPacket(fc *formatContext) (*Packet, int32) {
	for {
		pkt, ret := d.next(fc, false)
		if ret == NativeInvalidData {
			fc.log.Debug().Msg("skipping malformed tag")
			continue
		}
		if ret < 0 || pkt != nil {
			return pkt, ret
		}
	}
}

func (d *flvDemuxer) rewind(fc *formatContext) int32 {
	return fc.src.seek(d.dataStart)
}

func (d *flvDemuxer) close() {}

func init() {
	registerFormat(&inputFormat{
		name:  "flv",
		long:  "FLV (Flash Video)",
		exts:  []string{"flv"},
		probe: probeFLV,
		open:  func() demuxer { return &flvDemuxer{} },
	})
}
