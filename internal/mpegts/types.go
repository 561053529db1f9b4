// Package mpegts parses MPEG transport streams. It discovers programs through
// PAT/PMT sections and reassembles PES packets with their PTS/DTS.
//
// The Parser is push based: callers feed 188-byte packets as they arrive and
// collect completed units, so parsing never blocks on I/O.
package mpegts

// Packet is a parsed 188-byte transport stream packet.
type Packet struct {
	Header  PacketHeader
	Payload []byte
}

// PacketHeader contains the parsed header fields of a transport stream packet.
type PacketHeader struct {
	PID                       uint16
	ContinuityCounter         uint8
	HasAdaptationField        bool
	HasPayload                bool
	PayloadUnitStartIndicator bool
	TransportErrorIndicator   bool
	DiscontinuityIndicator    bool
	RandomAccessIndicator     bool
}

// Data is one completed unit. Exactly one of PAT, PMT, or PES is non-nil.
type Data struct {
	PID uint16
	PAT *PAT
	PMT *PMT
	PES *PES
}

// PAT is the Program Association Table.
type PAT struct {
	Programs []PATProgram
}

// PATProgram maps a program number to its PMT PID.
type PATProgram struct {
	ProgramNumber uint16
	PMTPID        uint16
}

// PMT is the Program Map Table of one program.
type PMT struct {
	ProgramNumber uint16
	PCRPID        uint16
	Streams       []ElementaryStream
}

// ElementaryStream describes a single stream listed in a PMT.
type ElementaryStream struct {
	PID         uint16
	StreamType  uint8
	Descriptors []Descriptor
}

// Descriptor is a raw PMT descriptor.
type Descriptor struct {
	Tag  uint8
	Data []byte
}

// Language returns the ISO 639 language code from an ISO_639_language
// descriptor, if present.
func (es ElementaryStream) Language() string {
	for _, d := range es.Descriptors {
		if d.Tag == DescriptorISO639Language && len(d.Data) >= 3 {
			return string(d.Data[:3])
		}
	}
	return ""
}

// PES is a reassembled Packetized Elementary Stream packet.
type PES struct {
	StreamID     uint8
	PTS          int64 // 90 kHz, -1 when absent
	DTS          int64 // 90 kHz, -1 when absent
	RandomAccess bool  // adaptation field random_access_indicator on the first packet
	Data         []byte
}

// Stream types used in PMTs.
const (
	StreamTypeMPEG1Audio = 0x03
	StreamTypeMPEG2Audio = 0x04
	StreamTypePrivate    = 0x06
	StreamTypeAACADTS    = 0x0F
	StreamTypeH264       = 0x1B
	StreamTypeHEVC       = 0x24
)

// Descriptor tags.
const (
	DescriptorRegistration   = 0x05
	DescriptorISO639Language = 0x0A
)
