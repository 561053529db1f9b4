package av

import "sort"

// Packet is one unit of compressed data read from a container.
type Packet struct {
	Data        []byte
	StreamIndex int
	PTS         int64 // NoPTS when unknown
	DTS         int64 // NoPTS when unknown
	Duration    int64
	Keyframe    bool
	Pos         int64 // byte offset in the source, -1 if unknown
}

// Clone creates a deep copy of the packet.
func (p *Packet) Clone() *Packet {
	clone := *p
	if p.Data != nil {
		clone.Data = make([]byte, len(p.Data))
		copy(clone.Data, p.Data)
	}
	return &clone
}

// Disposition flags describe the role of a stream within its container.
type Disposition uint32

const (
	DispositionDefault Disposition = 1 << iota
	DispositionAttachedPic
	DispositionCaptions
)

// Has reports whether all flags in d2 are set.
func (d Disposition) Has(d2 Disposition) bool { return d&d2 == d2 }

// Metadata is a container or stream tag dictionary.
type Metadata map[string]string

// Keys returns the tag names in sorted order.
func (m Metadata) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// CodecParameters describe how to configure a decoder for a stream.
type CodecParameters struct {
	Width       int
	Height      int
	PixelFormat PixelFormat
	FrameRate   TimeBase // frames per second as Num/Den

	SampleRate    int
	Layout        ChannelLayout
	SampleFormat  SampleFormat
	BlockAlign    int
	BitsPerSample int

	BitRate   int64
	Extradata []byte
}

// Stream describes one elementary stream of an opened source.
type Stream struct {
	Index       int
	ID          int // container specific identifier, e.g. an MPEG-TS PID
	Type        MediaType
	Codec       CodecID
	TimeBase    TimeBase
	Params      CodecParameters
	Disposition Disposition
	Metadata    Metadata

	// ReorderDepth is the number of frames a decoder may hold back before
	// presentation order is known.
	ReorderDepth int

	StartTime int64 // NoPTS when unknown
	Duration  int64 // NoPTS when unknown
}

// DurationValue returns the stream duration, or false when unknown.
func (s *Stream) DurationValue() (int64, bool) {
	if s.Duration == NoPTS {
		return 0, false
	}
	return s.Duration, true
}
